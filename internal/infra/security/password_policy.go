package security

import (
	"strings"

	"github.com/jayceeit/password-expire/internal/core/domain"
)

const (
	defaultMinPasswordLength   = 10
	defaultMinCharacterClasses = 3
	defaultMinZxcvbnScore      = 3
)

// NewPasswordPolicy is the policy applied to every new password: length,
// character classes, no account name and a zxcvbn strength floor.
func NewPasswordPolicy() *PasswordValidator {
	return NewPasswordValidator(
		MinLengthRule(defaultMinPasswordLength),
		RequireCharacterClassesRule(defaultMinCharacterClasses),
		RejectAccountNameRule(),
		RequirePasswordStrengthRule(defaultMinZxcvbnScore),
	)
}

func accountInputs(account domain.PasswordContext) []string {
	inputs := make([]string, 0, 3)
	if username := strings.TrimSpace(account.Username); username != "" {
		inputs = append(inputs, username)
	}
	if email := strings.TrimSpace(account.Email); email != "" {
		inputs = append(inputs, email)
		if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
			inputs = append(inputs, local)
		}
	}
	return inputs
}
