package auth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/entrained/engram/pkg/memory"
)

// Default payload ceilings.
const (
	DefaultMaxCommentBytes = 10000
	DefaultMaxBodyBytes    = 1 << 20
)

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
}

// Sanitizer validates free-text fields before they reach storage.
type Sanitizer struct {
	MaxCommentBytes int
	MaxBodyBytes    int
}

// NewSanitizer creates a sanitizer with the given ceilings; zero values use
// the defaults.
func NewSanitizer(maxComment, maxBody int) *Sanitizer {
	if maxComment == 0 {
		maxComment = DefaultMaxCommentBytes
	}
	if maxBody == 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Sanitizer{MaxCommentBytes: maxComment, MaxBodyBytes: maxBody}
}

// CheckComment validates a short comment-like field.
func (s *Sanitizer) CheckComment(field, value string) error {
	return s.check(field, value, s.MaxCommentBytes)
}

// CheckText validates a long-form text field.
func (s *Sanitizer) CheckText(field, value string) error {
	return s.check(field, value, s.MaxBodyBytes)
}

func (s *Sanitizer) check(field, value string, limit int) error {
	if len(value) > limit {
		return fmt.Errorf("%w: %s exceeds %d bytes", memory.ErrInvalidRequest, field, limit)
	}
	lower := strings.ToLower(value)
	for _, pattern := range injectionPatterns {
		if pattern.MatchString(lower) {
			return fmt.Errorf("%w: %s contains a disallowed pattern", memory.ErrInvalidRequest, field)
		}
	}
	return nil
}
