package security

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/jayceeit/password-expire/internal/core/domain"
)

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
}

func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordRule checks a candidate password for the account it is set on.
type PasswordRule interface {
	Validate(password string, account domain.PasswordContext) error
}

type PasswordRuleFunc func(password string, account domain.PasswordContext) error

func (f PasswordRuleFunc) Validate(password string, account domain.PasswordContext) error {
	return f(password, account)
}

// PasswordValidator applies rules in order and reports the first violation.
// It satisfies usecase.PasswordPolicy.
type PasswordValidator struct {
	rules []PasswordRule
}

func NewPasswordValidator(rules ...PasswordRule) *PasswordValidator {
	copied := make([]PasswordRule, len(rules))
	copy(copied, rules)
	return &PasswordValidator{rules: copied}
}

func (v *PasswordValidator) Validate(password string, account domain.PasswordContext) error {
	if v == nil {
		return errors.New("password validator not configured")
	}
	for _, rule := range v.rules {
		if err := rule.Validate(password, account); err != nil {
			return err
		}
	}
	return nil
}

// MinLengthRule ensures the password has at least min characters.
func MinLengthRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string, _ domain.PasswordContext) error {
		if utf8.RuneCountInString(password) < min {
			return &PasswordValidationError{
				Code:    "min_length",
				Message: fmt.Sprintf("password must be at least %d characters long", min),
			}
		}
		return nil
	})
}

// RequireCharacterClassesRule counts upper, lower, digit and symbol classes.
func RequireCharacterClassesRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string, _ domain.PasswordContext) error {
		if min <= 0 {
			return nil
		}

		var upper, lower, digit, symbol int
		for _, r := range password {
			switch {
			case unicode.IsUpper(r):
				upper = 1
			case unicode.IsLower(r):
				lower = 1
			case unicode.IsDigit(r):
				digit = 1
			case unicode.IsSymbol(r) || unicode.IsPunct(r):
				symbol = 1
			}
		}
		if upper+lower+digit+symbol >= min {
			return nil
		}

		return &PasswordValidationError{
			Code:    "character_classes",
			Message: fmt.Sprintf("password must include at least %d character types", min),
		}
	})
}

// RejectAccountNameRule refuses passwords that contain the username or the
// local part of the email, ignoring case. Names shorter than three characters
// are not checked.
func RejectAccountNameRule() PasswordRule {
	return PasswordRuleFunc(func(password string, account domain.PasswordContext) error {
		lowered := strings.ToLower(password)
		for _, name := range accountInputs(account) {
			name = strings.ToLower(name)
			if strings.Contains(name, "@") || utf8.RuneCountInString(name) < 3 {
				continue
			}
			if strings.Contains(lowered, name) {
				return &PasswordValidationError{
					Code:    "contains_account",
					Message: "password must not contain your username or email",
				}
			}
		}
		return nil
	})
}

// RequireDifferentFrom rejects reusing the current password.
func RequireDifferentFrom(comparator string) PasswordRule {
	return PasswordRuleFunc(func(password string, _ domain.PasswordContext) error {
		if password == comparator {
			return &PasswordValidationError{
				Code:    "different",
				Message: "new password must be different from current password",
			}
		}
		return nil
	})
}

// RequirePasswordStrengthRule enforces a minimum zxcvbn score. The account's
// username and email are fed to zxcvbn as known inputs.
func RequirePasswordStrengthRule(minScore int) PasswordRule {
	return PasswordRuleFunc(func(password string, account domain.PasswordContext) error {
		if minScore <= 0 {
			return nil
		}
		if minScore > 4 {
			minScore = 4
		}

		result := zxcvbn.PasswordStrength(password, accountInputs(account))
		if result.Score >= minScore {
			return nil
		}

		return &PasswordValidationError{
			Code:    "weak_password",
			Message: "password is too weak; choose a more complex value",
		}
	})
}
