package security

import (
	"errors"
	"testing"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/jayceeit/password-expire/internal/core/domain"
)

func TestPasswordPolicyAcceptsStrongPassword(t *testing.T) {
	policy := NewPasswordPolicy()

	password := "C0mplex!Passphrase#2025"
	if strength := zxcvbn.PasswordStrength(password, nil); strength.Score < defaultMinZxcvbnScore {
		t.Fatalf("test password unexpectedly weak: score=%d", strength.Score)
	}
	if err := policy.Validate(password, domain.PasswordContext{Username: "margaretthatcher", Email: "margaret@example.com"}); err != nil {
		t.Fatalf("expected password to pass validation, got %v", err)
	}
}

func TestPasswordPolicyViolations(t *testing.T) {
	policy := NewPasswordPolicy()
	account := domain.PasswordContext{Username: "margaretthatcher", Email: "maggie.t@example.com"}

	cases := []struct {
		password string
		code     string
	}{
		{password: "Short1!", code: "min_length"},
		{password: "lowercasepassword", code: "character_classes"},
		{password: "Password123", code: "weak_password"},
		{password: "MargaretThatcher#1979", code: "contains_account"},
		{password: "Secret-Maggie.T-2025", code: "contains_account"},
	}

	for _, tc := range cases {
		err := policy.Validate(tc.password, account)
		var vErr *PasswordValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("%s: expected PasswordValidationError, got %v", tc.password, err)
		}
		if vErr.Code != tc.code {
			t.Fatalf("%s: expected %s code, got %s", tc.password, tc.code, vErr.Code)
		}
	}
}

func TestCustomPasswordValidator(t *testing.T) {
	validator := NewPasswordValidator(
		MinLengthRule(4),
		RequireDifferentFrom("existing"),
		RejectAccountNameRule(),
	)

	if err := validator.Validate("existing", domain.PasswordContext{}); err == nil {
		t.Fatal("expected validation error when new password equals comparator")
	}
	if err := validator.Validate("xxbobxx", domain.PasswordContext{Username: "Bob"}); err == nil {
		t.Fatal("expected validation error for a password containing the username")
	}
	if err := validator.Validate("jo-1234", domain.PasswordContext{Username: "jo"}); err != nil {
		t.Fatalf("short usernames are not checked, got %v", err)
	}

	var nilValidator *PasswordValidator
	if err := nilValidator.Validate("whatever", domain.PasswordContext{}); err == nil {
		t.Fatal("expected error from unconfigured validator")
	}
}

func TestGenerateSecureTokenAndHash(t *testing.T) {
	first, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	second, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	if first == second {
		t.Fatal("expected unique tokens")
	}
	if len(first) != 43 {
		t.Fatalf("expected 43 chars for 32 bytes, got %d", len(first))
	}

	if HashToken(first) != HashToken(first) || HashToken(first) == HashToken(second) {
		t.Fatal("HashToken must be deterministic and distinguish inputs")
	}
	if len(HashToken(first)) != 64 {
		t.Fatalf("expected hex sha256, got %q", HashToken(first))
	}

	if _, err := GenerateSecureToken(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}
