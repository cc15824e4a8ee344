package auth

import (
	"fmt"
	"strings"
	"unicode"
)

// PasswordPolicy defines password complexity requirements.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// DefaultPasswordPolicy only enforces a minimum length.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8}
}

// Check returns every requirement password fails, in a stable order.
func (p PasswordPolicy) Check(password string) []string {
	var violations []string

	if p.MinLength > 0 && utf8Len(password) < p.MinLength {
		violations = append(violations, fmt.Sprintf("password must be at least %d characters long", p.MinLength))
	}
	if p.RequireUppercase && !containsRune(password, unicode.IsUpper) {
		violations = append(violations, "password must contain at least one uppercase letter")
	}
	if p.RequireLowercase && !containsRune(password, unicode.IsLower) {
		violations = append(violations, "password must contain at least one lowercase letter")
	}
	if p.RequireNumber && !containsRune(password, unicode.IsDigit) {
		violations = append(violations, "password must contain at least one number")
	}
	if p.RequireSpecial && !containsRune(password, isSpecial) {
		violations = append(violations, "password must contain at least one special character")
	}

	return violations
}

func containsRune(s string, pred func(rune) bool) bool {
	return strings.IndexFunc(s, pred) >= 0
}

func isSpecial(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
}

func utf8Len(s string) int {
	return len([]rune(s))
}
