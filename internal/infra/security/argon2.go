package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/jayceeit/password-expire/internal/infra/config"
)

const (
	argon2Variant = "argon2id"
	argon2Version = "v=19"
)

var (
	ErrInvalidHash       = errors.New("argon2: invalid encoded hash")
	errInvalidParameters = errors.New("argon2: invalid parameters")
)

// Argon2Params are the tunables embedded in every encoded hash.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params follows the RFC 9106 second recommended option.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// ParamsFromSettings overlays non-zero settings on the defaults.
func ParamsFromSettings(s config.Argon2Settings) Argon2Params {
	p := DefaultArgon2Params()
	if s.Memory > 0 {
		p.Memory = s.Memory
	}
	if s.Iterations > 0 {
		p.Iterations = s.Iterations
	}
	if s.Parallelism > 0 {
		p.Parallelism = s.Parallelism
	}
	if s.SaltLength > 0 {
		p.SaltLength = s.SaltLength
	}
	if s.KeyLength > 0 {
		p.KeyLength = s.KeyLength
	}
	return p
}

func (p Argon2Params) validate() error {
	switch {
	case p.Memory < 8*1024:
		return fmt.Errorf("%w: memory must be at least 8192 KiB", errInvalidParameters)
	case p.Iterations == 0:
		return fmt.Errorf("%w: iterations must be positive", errInvalidParameters)
	case p.Parallelism == 0:
		return fmt.Errorf("%w: parallelism must be positive", errInvalidParameters)
	case p.SaltLength < 8:
		return fmt.Errorf("%w: salt must be at least 8 bytes", errInvalidParameters)
	case p.KeyLength < 16:
		return fmt.Errorf("%w: key must be at least 16 bytes", errInvalidParameters)
	}
	return nil
}

// Argon2Hasher hashes and verifies passwords with Argon2id. Hashes are encoded as
// argon2id$v=19$m=<memory>,t=<iterations>,p=<parallelism>$<salt>$<key>.
type Argon2Hasher struct {
	params Argon2Params
}

func NewArgon2Hasher(params Argon2Params) (*Argon2Hasher, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Argon2Hasher{params: params}, nil
}

func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2: generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return strings.Join([]string{
		argon2Variant,
		argon2Version,
		fmt.Sprintf("m=%d,t=%d,p=%d", h.params.Memory, h.params.Iterations, h.params.Parallelism),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	}, "$"), nil
}

// Verify reports whether password matches encoded. Empty inputs never match.
func (h *Argon2Hasher) Verify(password, encoded string) (bool, error) {
	if password == "" || encoded == "" {
		return false, nil
	}

	params, salt, expected, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// NeedsRehash reports whether encoded was produced with parameters other than the hasher's.
func (h *Argon2Hasher) NeedsRehash(encoded string) bool {
	params, _, _, err := decodeHash(encoded)
	if err != nil {
		return true
	}
	return params != h.params
}

func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}
	if parts[0] != argon2Variant {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: unexpected variant %q", ErrInvalidHash, parts[0])
	}
	if parts[1] != argon2Version {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, parts[1])
	}

	params, err := parseParams(parts[2])
	if err != nil {
		return Argon2Params{}, nil, nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("argon2: decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("argon2: decode key: %w", err)
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	if err := params.validate(); err != nil {
		return Argon2Params{}, nil, nil, err
	}
	return params, salt, key, nil
}

func parseParams(segment string) (Argon2Params, error) {
	var params Argon2Params
	seen := 0
	for _, entry := range strings.Split(segment, ",") {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			return Argon2Params{}, ErrInvalidHash
		}

		var bits int
		switch name {
		case "m", "t":
			bits = 32
		case "p":
			bits = 8
		default:
			return Argon2Params{}, ErrInvalidHash
		}

		n, err := strconv.ParseUint(value, 10, bits)
		if err != nil {
			return Argon2Params{}, fmt.Errorf("argon2: parse %s: %w", name, err)
		}

		switch name {
		case "m":
			params.Memory = uint32(n)
		case "t":
			params.Iterations = uint32(n)
		case "p":
			params.Parallelism = uint8(n)
		}
		seen++
	}
	if seen != 3 {
		return Argon2Params{}, ErrInvalidHash
	}
	return params, nil
}
