package auth

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tendant/simple-accounts/pkg/domain"
)

// Common disposable email domains to block (can be extended)
var disposableDomains = map[string]bool{
	"tempmail.com":      true,
	"10minutemail.com":  true,
	"guerrillamail.com": true,
	"mailinator.com":    true,
	"throwaway.email":   true,
}

var emailPattern = regexp.MustCompile(`^[a-z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)+$`)

const (
	maxEmailLength = 254 // RFC 5321
	maxNameLength  = 150
)

// EmailRules controls how strictly addresses are checked.
type EmailRules struct {
	// Strict additionally requires a dotted domain and a conservative
	// character set in the local part.
	Strict          bool
	BlockDisposable bool
}

// NormalizeEmail lowercases and trims an address. Accounts are stored and
// looked up by the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Check returns a message describing why email is unacceptable, or "".
// The address is expected to be normalized already.
func (r EmailRules) Check(email string) string {
	switch {
	case email == "":
		return "this field is required"
	case len(email) > maxEmailLength:
		return fmt.Sprintf("ensure this field has no more than %d characters", maxEmailLength)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "enter a valid email address"
	}
	if r.Strict && !emailPattern.MatchString(email) {
		return "enter a valid email address"
	}
	if r.BlockDisposable {
		if _, host, ok := strings.Cut(email, "@"); ok && disposableDomains[host] {
			return "disposable email addresses are not allowed"
		}
	}
	return ""
}

// CleanName trims a display name and drops control characters.
func CleanName(name string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name))
}

// checkName validates an already cleaned name. Names are optional.
func checkName(name string) string {
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Sprintf("ensure this field has no more than %d characters", maxNameLength)
	}
	return ""
}

// checkNewPassword records password and confirmation problems on verr under
// the given field names.
func checkNewPassword(verr *domain.ValidationError, policy PasswordPolicy, field, confirmField, password, confirmation string) {
	if password == "" {
		verr.Add(field, "this field is required")
		return
	}
	if password != confirmation {
		verr.Add(confirmField, "passwords do not match")
		return
	}
	if violations := policy.Check(password); len(violations) > 0 {
		verr.Add(field, strings.Join(violations, "; "))
	}
}
