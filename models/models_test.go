package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFlagStateNext(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(FlagStateFlagged, FlagStateClean.Next(ActionFlag))
	assert.Equal(FlagStateRemoved, FlagStateClean.Next(ActionRemove))
	assert.Equal(FlagStateFlagged, FlagStateFlagged.Next(ActionFlag))
	assert.Equal(FlagStateRemoved, FlagStateFlagged.Next(ActionRemove))
	// never moves backwards
	assert.Equal(FlagStateRemoved, FlagStateRemoved.Next(ActionFlag))
}

func TestParseReason(t *testing.T) {
	assert := assert.New(t)

	fixtures := map[string]Reason{
		"Spam":                 ReasonSpam,
		"spam":                 ReasonSpam,
		"hateSpeech":           ReasonHateSpeech,
		"hate_speech":          ReasonHateSpeech,
		"Inappropriate":        ReasonInappropriate,
		"inappropriateContent": ReasonInappropriate,
		"other":                ReasonOther,
	}
	for raw, want := range fixtures {
		r, err := ParseReason(raw)
		assert.NoError(err, raw)
		assert.Equal(want, r, raw)
	}

	_, err := ParseReason("rude")
	assert.True(errors.Is(err, ErrInvalidReason))
}

func TestParseAction(t *testing.T) {
	assert := assert.New(t)

	a, err := ParseAction("flag")
	assert.NoError(err)
	assert.Equal("Content flagged and hidden", a.Taken())

	a, err = ParseAction("remove")
	assert.NoError(err)
	assert.Equal("Content removed", a.Taken())

	_, err = ParseAction("bogus")
	assert.ErrorIs(err, ErrInvalidAction)
	_, err = ParseAction("")
	assert.ErrorIs(err, ErrInvalidAction)
}

func TestValidateID(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(ValidateID("1234"))
	assert.NoError(ValidateID("did:plc:abc-123.x_y"))
	assert.ErrorIs(ValidateID(""), ErrInvalidID)
	assert.ErrorIs(ValidateID("has space"), ErrInvalidID)
	assert.ErrorIs(ValidateID("../etc"), ErrInvalidID)
	assert.ErrorIs(ValidateID(strings.Repeat("a", MaxIDLength+1)), ErrInvalidID)
	assert.NoError(ValidateID(strings.Repeat("a", MaxIDLength)))
}

func TestRemovedIsNotFound(t *testing.T) {
	assert.ErrorIs(t, ErrRemoved, ErrNotFound)
}

func TestFlagRecordView(t *testing.T) {
	assert := assert.New(t)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := FlagRecord{ID: "abc", TargetType: TargetUser, TargetID: "5678", Reason: ReasonSpam, Action: ActionFlag, CreatedAt: ts}
	v := rec.View()
	assert.Equal("5678", v.UserID)
	assert.Empty(v.PostID)
	assert.Equal("2024-03-01T12:00:00Z", v.FlaggedAt)
	assert.Equal("user/5678", rec.TargetKey())
}
