package store

import (
	"fmt"
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/chirino/carevault/internal/model"
)

const (
	MaxMessageLength     = 10000
	MaxContentLength     = 50000
	MaxTags              = 10
	MaxTagLength         = 32
	MaxCategoryLength    = 64
	MinPasswordLength    = 8
	MaxDisplayNameLength = 100

	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 200
)

var categoryPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateMessageText checks a chat message and returns it trimmed.
func ValidateMessageText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ValidationError{Field: "text", Message: "is required"}
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return "", &ValidationError{Field: "text", Message: fmt.Sprintf("must be at most %d characters", MaxMessageLength)}
	}
	return text, nil
}

// ClampMessageLimit applies the default and maximum page size.
func ClampMessageLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultMessagePageSize
	case limit > MaxMessagePageSize:
		return MaxMessagePageSize
	default:
		return limit
	}
}

// Validate checks every field of a new content record.
func (in *ContentInput) Validate() error {
	if !in.Kind.Valid() {
		return &ValidationError{Field: "kind", Message: "must be one of journal, mood, note"}
	}
	if err := validateCategory(in.Category); err != nil {
		return err
	}
	if err := validateScore("moodScore", in.MoodScore, 1, 5); err != nil {
		return err
	}
	if err := validateScore("energyScore", in.EnergyScore, 1, 10); err != nil {
		return err
	}
	if err := validateTags(in.Tags); err != nil {
		return err
	}
	if err := validateContentText(in.Text); err != nil {
		return err
	}
	switch in.Kind {
	case model.ContentJournal, model.ContentNote:
		if strings.TrimSpace(in.Text) == "" {
			return &ValidationError{Field: "text", Message: "is required for " + string(in.Kind)}
		}
	case model.ContentMood:
		if in.MoodScore == nil {
			return &ValidationError{Field: "moodScore", Message: "is required for mood"}
		}
	}
	return nil
}

// Validate checks the fields present in a patch.
func (p *ContentPatch) Validate() error {
	for _, field := range p.Clear {
		if !slices.Contains(ClearableContentFields, field) {
			return &ValidationError{Field: field, Message: "cannot be cleared"}
		}
	}
	if p.Category != nil {
		if err := validateCategory(*p.Category); err != nil {
			return err
		}
	}
	if err := validateScore("moodScore", p.MoodScore, 1, 5); err != nil {
		return err
	}
	if err := validateScore("energyScore", p.EnergyScore, 1, 10); err != nil {
		return err
	}
	if p.Tags != nil {
		if err := validateTags(*p.Tags); err != nil {
			return err
		}
	}
	if p.Text != nil {
		if err := validateContentText(*p.Text); err != nil {
			return err
		}
	}
	return nil
}

func validateCategory(category string) error {
	if category == "" {
		return nil
	}
	if len(category) > MaxCategoryLength || !categoryPattern.MatchString(category) {
		return &ValidationError{Field: "category", Message: fmt.Sprintf("must match [a-z0-9_-] and be at most %d characters", MaxCategoryLength)}
	}
	return nil
}

func validateScore(field string, score *int, lo, hi int) error {
	if score == nil {
		return nil
	}
	if *score < lo || *score > hi {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be between %d and %d", lo, hi)}
	}
	return nil
}

func validateTags(tags []string) error {
	if len(tags) > MaxTags {
		return &ValidationError{Field: "tags", Message: fmt.Sprintf("at most %d tags", MaxTags)}
	}
	for _, tag := range tags {
		if strings.TrimSpace(tag) == "" || utf8.RuneCountInString(tag) > MaxTagLength {
			return &ValidationError{Field: "tags", Message: fmt.Sprintf("tags must be 1 to %d characters", MaxTagLength)}
		}
	}
	return nil
}

func validateContentText(text string) error {
	if utf8.RuneCountInString(text) > MaxContentLength {
		return &ValidationError{Field: "text", Message: fmt.Sprintf("must be at most %d characters", MaxContentLength)}
	}
	return nil
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// NormalizeEmail lower-cases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", &ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	return email, nil
}

// Validate checks a registration and normalizes its email and display name.
func (r *RegisterRequest) Validate() error {
	email, err := NormalizeEmail(r.Email)
	if err != nil {
		return err
	}
	r.Email = email
	if utf8.RuneCountInString(r.Password) < MinPasswordLength {
		return &ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", MinPasswordLength)}
	}
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	if r.DisplayName == "" || utf8.RuneCountInString(r.DisplayName) > MaxDisplayNameLength {
		return &ValidationError{Field: "displayName", Message: fmt.Sprintf("must be 1 to %d characters", MaxDisplayNameLength)}
	}
	return nil
}
