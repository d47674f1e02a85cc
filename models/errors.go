package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrNotFound         = errors.New("entity not found")
	ErrRemoved          = fmt.Errorf("%w: entity was removed", ErrNotFound)
	ErrDuplicate        = errors.New("identical flag already recorded")
	ErrInvalidAction    = errors.New("invalid moderation action")
	ErrInvalidID        = errors.New("invalid identifier")
	ErrInvalidReason    = errors.New("invalid flag reason")
	ErrTimeout          = errors.New("store operation timed out")
	ErrStoreUnavailable = errors.New("store unavailable")
)

const MaxIDLength = 64

var idRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

// Checks the format of a post or user identifier: non-empty, bounded length, restricted character set.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidID, MaxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}
