package service

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/quickscripts/clinic/internal/domain"
)

// ValidationError reports input that would violate the data model.
// Distinct from the domain sentinel errors so callers can tell
// "malformed input" apart from "already exists" and from storage
// faults.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const (
	minPatientAge = 18
	maxPatientAge = 99

	maxRequestLen = 100
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePatient(name string, age int, email, photoURL string) error {
	var errs []string

	if strings.TrimSpace(name) == "" {
		errs = append(errs, "name is required")
	}
	if age < minPatientAge || age > maxPatientAge {
		errs = append(errs, "age must be between 18 and 99")
	}
	if !emailPattern.MatchString(normalizeEmail(email)) {
		errs = append(errs, "email is invalid")
	}
	if photoURL != "" {
		if u, err := url.Parse(photoURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "photo_url must be an absolute URL")
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func validateRequestText(request string) error {
	var errs []string

	if strings.TrimSpace(request) == "" {
		errs = append(errs, "request text is required")
	}
	if utf8.RuneCountInString(request) > maxRequestLen {
		errs = append(errs, "request text must be at most 100 characters")
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func validateUser(name, email, password string, role domain.Role) error {
	var errs []string

	if strings.TrimSpace(name) == "" {
		errs = append(errs, "name is required")
	}
	if !emailPattern.MatchString(normalizeEmail(email)) {
		errs = append(errs, "email is invalid")
	}
	if password == "" {
		errs = append(errs, "password is required")
	}
	if !role.IsValid() {
		errs = append(errs, "role must be patient or staff")
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
