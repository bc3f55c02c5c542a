package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultDatabaseAlias names the primary database every deployment has.
const DefaultDatabaseAlias = "default"

type AppConfig struct {
	App            AppSettings                 `mapstructure:"app"`
	Postgres       PostgresSettings            `mapstructure:"postgres"`
	Databases      map[string]PostgresSettings `mapstructure:"databases"`
	Website        WebsiteSettings             `mapstructure:"website"`
	Redis          RedisSettings               `mapstructure:"redis"`
	Kafka          KafkaSettings               `mapstructure:"kafka"`
	Session        SessionSettings             `mapstructure:"session"`
	Telemetry      TelemetrySettings           `mapstructure:"telemetry"`
	RateLimit      RateLimitSettings           `mapstructure:"rate_limit"`
	Argon2         Argon2Settings              `mapstructure:"argon2"`
	PasswordExpire PasswordExpireSettings      `mapstructure:"password_expire"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	RunMigrations     bool          `mapstructure:"run_migrations"`
}

// WebsiteSettings describes sibling deployments sharing user identity by UUID.
// Databases maps a website name to a database alias.
type WebsiteSettings struct {
	Choices   []string          `mapstructure:"choices"`
	Current   string            `mapstructure:"current"`
	Databases map[string]string `mapstructure:"databases"`
}

// RedisSettings configures Redis connection and key layout
type RedisSettings struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	DB            int    `mapstructure:"db"`
	Password      string `mapstructure:"password"`
	TLSEnabled    bool   `mapstructure:"tls_enabled"`
	SessionPrefix string `mapstructure:"session_prefix"`
	MessagePrefix string `mapstructure:"message_prefix"`
	ResetPrefix   string `mapstructure:"reset_prefix"`
	RatePrefix    string `mapstructure:"rate_prefix"`
}

// KafkaSettings configures Kafka producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// SessionSettings configures the cookie based login session.
type SessionSettings struct {
	CookieName       string        `mapstructure:"cookie_name"`
	ClientCookieName string        `mapstructure:"client_cookie_name"`
	TTL              time.Duration `mapstructure:"ttl"`
	MessageTTL       time.Duration `mapstructure:"message_ttl"`
	ResetTokenTTL    time.Duration `mapstructure:"reset_token_ttl"`
	Secure           bool          `mapstructure:"secure"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint
type RateLimitSettings struct {
	WindowDuration            time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts          int           `mapstructure:"login_max_attempts"`
	PasswordChangeMaxAttempts int           `mapstructure:"password_change_max_attempts"`
	PasswordResetMaxAttempts  int           `mapstructure:"password_reset_max_attempts"`
}

type TelemetrySettings struct {
	Namespace string `mapstructure:"namespace"`
}

// PasswordExpireSettings is the expiration policy. Seconds and WarnSeconds are required.
type PasswordExpireSettings struct {
	Seconds           int64  `mapstructure:"seconds"`
	WarnSeconds       int64  `mapstructure:"warn_seconds"`
	Force             bool   `mapstructure:"force"`
	ExcludeSuperusers bool   `mapstructure:"exclude_superusers"`
	Contact           string `mapstructure:"contact"`
	ChangeRedirectURL string `mapstructure:"change_redirect_url"`
	ResetRedirectURL  string `mapstructure:"reset_redirect_url"`
	DefaultFromEmail  string `mapstructure:"default_from_email"`
	LogoutPath        string `mapstructure:"logout_path"`
}

// AllowedDuration is the lifetime of a password.
func (s PasswordExpireSettings) AllowedDuration() time.Duration {
	return time.Duration(s.Seconds) * time.Second
}

// WarningDuration is the window before expiration in which users are warned.
func (s PasswordExpireSettings) WarningDuration() time.Duration {
	return time.Duration(s.WarnSeconds) * time.Second
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PE")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"postgres.run_migrations",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.session_prefix",
		"redis.message_prefix",
		"redis.reset_prefix",
		"redis.rate_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"session.cookie_name",
		"session.client_cookie_name",
		"session.ttl",
		"session.message_ttl",
		"session.reset_token_ttl",
		"session.secure",
		"telemetry.namespace",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.password_change_max_attempts",
		"rate_limit.password_reset_max_attempts",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"password_expire.logout_path",
	}); err != nil {
		return nil, err
	}

	// Settings names shared with existing deployments are accepted verbatim.
	if err := bindLegacyEnvs(v, map[string]string{
		"password_expire.seconds":             "PASSWORD_EXPIRE_SECONDS",
		"password_expire.warn_seconds":        "PASSWORD_EXPIRE_WARN_SECONDS",
		"password_expire.force":               "PASSWORD_EXPIRE_FORCE",
		"password_expire.exclude_superusers":  "PASSWORD_EXPIRE_EXCLUDE_SUPERUSERS",
		"password_expire.contact":             "PASSWORD_EXPIRE_CONTACT",
		"password_expire.change_redirect_url": "PASSWORD_EXPIRE_CHANGE_REDIRECT_URL",
		"password_expire.reset_redirect_url":  "PASSWORD_EXPIRE_RESET_REDIRECT_URL",
		"password_expire.default_from_email":  "DEFAULT_FROM_EMAIL",
		"website.choices":                     "WEBSITE_CHOICES",
		"website.current":                     "CURRENT_WEBSITE",
		"website.databases":                   "WEBSITE_DATABASES",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Env vars arrive as plain strings; viper cannot decode them into a map.
	if raw, ok := v.Get("website.databases").(string); ok {
		databases, err := parseWebsiteDatabases(raw)
		if err != nil {
			return nil, err
		}
		v.Set("website.databases", databases)
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Website.Choices = splitList(cfg.Website.Choices)

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "password-expire")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "accounts")
	v.SetDefault("postgres.password", "accounts_password")
	v.SetDefault("postgres.database", "accounts")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.run_migrations", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.session_prefix", "pe:session")
	v.SetDefault("redis.message_prefix", "pe:messages")
	v.SetDefault("redis.reset_prefix", "pe:reset")
	v.SetDefault("redis.rate_prefix", "pe:rate")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "pe")
	v.SetDefault("kafka.async", true)

	v.SetDefault("session.cookie_name", "sessionid")
	v.SetDefault("session.client_cookie_name", "messages")
	v.SetDefault("session.ttl", "12h")
	v.SetDefault("session.message_ttl", "1h")
	v.SetDefault("session.reset_token_ttl", "30m")
	v.SetDefault("session.secure", false)

	v.SetDefault("telemetry.namespace", "password_expire")

	v.SetDefault("rate_limit.window_duration", "15m")
	v.SetDefault("rate_limit.login_max_attempts", 10)
	v.SetDefault("rate_limit.password_change_max_attempts", 10)
	v.SetDefault("rate_limit.password_reset_max_attempts", 5)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("password_expire.force", false)
	v.SetDefault("password_expire.exclude_superusers", false)
	v.SetDefault("password_expire.contact", DefaultContact)
	v.SetDefault("password_expire.change_redirect_url", "/password/change")
	v.SetDefault("password_expire.reset_redirect_url", "/password/reset")
	v.SetDefault("password_expire.default_from_email", "webmaster@localhost")
	v.SetDefault("password_expire.logout_path", "/api/v1/auth/logout")
}

// DefaultContact is used in the expired-password message when no contact is configured.
const DefaultContact = "your administrator"

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "PE_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func bindLegacyEnvs(v *viper.Viper, keys map[string]string) error {
	for key, legacy := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "PE_"+envKey, legacy); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// readConfigFile merges an optional YAML/TOML/JSON file. Per-alias database
// settings can only be expressed there.
func readConfigFile(v *viper.Viper) error {
	if path := os.Getenv("PE_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("password-expire")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/password-expire")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// parseWebsiteDatabases accepts either a JSON object or "site=alias,site=alias".
func parseWebsiteDatabases(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	out := make(map[string]string)
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("parse website databases: %w", err)
		}
		return out, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		site, alias, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(site) == "" || strings.TrimSpace(alias) == "" {
			return nil, fmt.Errorf("parse website databases: invalid entry %q", pair)
		}
		out[strings.TrimSpace(site)] = strings.TrimSpace(alias)
	}
	return out, nil
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *AppConfig) normalize() {
	if c.Databases == nil {
		c.Databases = make(map[string]PostgresSettings)
	}
	if _, ok := c.Databases[DefaultDatabaseAlias]; !ok {
		c.Databases[DefaultDatabaseAlias] = c.Postgres
	}
	for alias, db := range c.Databases {
		c.Databases[alias] = db.withDefaults(c.Postgres)
	}
	if strings.TrimSpace(c.PasswordExpire.Contact) == "" {
		c.PasswordExpire.Contact = DefaultContact
	}
}

// withDefaults fills unset connection fields of a website database from the primary one.
func (p PostgresSettings) withDefaults(base PostgresSettings) PostgresSettings {
	if p.Host == "" {
		p.Host = base.Host
	}
	if p.Port == 0 {
		p.Port = base.Port
	}
	if p.User == "" {
		p.User = base.User
	}
	if p.Password == "" {
		p.Password = base.Password
	}
	if p.SSLMode == "" {
		p.SSLMode = base.SSLMode
	}
	if p.MaxConns == 0 {
		p.MaxConns = base.MaxConns
	}
	if p.MinConns == 0 {
		p.MinConns = base.MinConns
	}
	if p.MaxConnLifetime == 0 {
		p.MaxConnLifetime = base.MaxConnLifetime
	}
	if p.MaxConnIdleTime == 0 {
		p.MaxConnIdleTime = base.MaxConnIdleTime
	}
	if p.HealthCheckPeriod == 0 {
		p.HealthCheckPeriod = base.HealthCheckPeriod
	}
	return p
}

// CurrentDatabase returns the database alias serving requests for this deployment.
func (c *AppConfig) CurrentDatabase() string {
	if c.Website.Current != "" {
		if alias, ok := c.Website.Databases[c.Website.Current]; ok && alias != "" {
			return alias
		}
	}
	return DefaultDatabaseAlias
}

// DatabaseAliases lists every configured database alias in a stable order.
func (c *AppConfig) DatabaseAliases() []string {
	aliases := make([]string, 0, len(c.Databases))
	for alias := range c.Databases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// Validate checks the configuration once at startup and reports every violation.
func (c *AppConfig) Validate() error {
	var errs []error

	pe := c.PasswordExpire
	if pe.Seconds <= 0 {
		errs = append(errs, errors.New("password_expire.seconds (PASSWORD_EXPIRE_SECONDS) must be positive"))
	}
	if pe.WarnSeconds < 0 {
		errs = append(errs, errors.New("password_expire.warn_seconds (PASSWORD_EXPIRE_WARN_SECONDS) must not be negative"))
	}
	if pe.Seconds > 0 && pe.WarnSeconds > pe.Seconds {
		errs = append(errs, errors.New("password_expire.warn_seconds must not exceed password_expire.seconds"))
	}
	if strings.TrimSpace(pe.ChangeRedirectURL) == "" {
		errs = append(errs, errors.New("password_expire.change_redirect_url is required"))
	}
	if strings.TrimSpace(pe.ResetRedirectURL) == "" {
		errs = append(errs, errors.New("password_expire.reset_redirect_url is required"))
	}

	if c.Website.Current != "" && len(c.Website.Choices) > 0 && !contains(c.Website.Choices, c.Website.Current) {
		errs = append(errs, fmt.Errorf("website.current %q is not one of website.choices", c.Website.Current))
	}
	for _, site := range c.Website.Choices {
		alias, ok := c.Website.Databases[site]
		if !ok {
			errs = append(errs, fmt.Errorf("website %q has no entry in website.databases", site))
			continue
		}
		if _, ok := c.Databases[alias]; !ok {
			errs = append(errs, fmt.Errorf("website %q uses unknown database alias %q", site, alias))
		}
	}

	return errors.Join(errs...)
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
