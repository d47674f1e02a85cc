package models

import (
	"fmt"
	"time"
)

// Reason a flag was raised. Declaration order is significant: it breaks ties when picking the most common reason.
type Reason string

const (
	ReasonSpam          Reason = "Spam"
	ReasonHateSpeech    Reason = "HateSpeech"
	ReasonInappropriate Reason = "Inappropriate"
	ReasonOther         Reason = "Other"
)

var AllReasons = []Reason{ReasonSpam, ReasonHateSpeech, ReasonInappropriate, ReasonOther}

// Parses a reason string. Matching is case-insensitive, and accepts the lower-camel category names used by older clients ("hateSpeech", "inappropriateContent").
func ParseReason(raw string) (Reason, error) {
	switch normalizeToken(raw) {
	case "spam":
		return ReasonSpam, nil
	case "hatespeech", "hate":
		return ReasonHateSpeech, nil
	case "inappropriate", "inappropriatecontent":
		return ReasonInappropriate, nil
	case "other":
		return ReasonOther, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReason, raw)
	}
}

type Action string

const (
	ActionFlag   Action = "flag"
	ActionRemove Action = "remove"
)

func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionFlag, ActionRemove:
		return Action(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
	}
}

// Human-readable description of the mutation an action performs.
func (a Action) Taken() string {
	switch a {
	case ActionRemove:
		return "Content removed"
	default:
		return "Content flagged and hidden"
	}
}

// Immutable, append-only record of a flag raised against a post or user.
type FlagRecord struct {
	Seq        uint64     `gorm:"primaryKey"`
	ID         string     `gorm:"uniqueIndex;not null"`
	TargetType TargetType `gorm:"index:idx_flag_target;not null"`
	TargetID   string     `gorm:"index:idx_flag_target;not null"`
	Reason     Reason     `gorm:"not null"`
	Action     Action     `gorm:"not null"`
	ActorID    string
	CreatedAt  time.Time `gorm:"index;not null"`
}

func (r *FlagRecord) TargetKey() string {
	return TargetKey(r.TargetType, r.TargetID)
}

func TargetKey(tt TargetType, id string) string {
	return string(tt) + "/" + id
}

type FlagRecordView struct {
	ID         string     `json:"id"`
	TargetType TargetType `json:"targetType"`
	TargetID   string     `json:"targetId"`
	PostID     string     `json:"postId,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	Reason     Reason     `json:"reason"`
	Action     Action     `json:"action"`
	ActorID    string     `json:"actorId,omitempty"`
	FlaggedAt  string     `json:"flaggedAt"`
}

func (r *FlagRecord) View() FlagRecordView {
	v := FlagRecordView{
		ID:         r.ID,
		TargetType: r.TargetType,
		TargetID:   r.TargetID,
		Reason:     r.Reason,
		Action:     r.Action,
		ActorID:    r.ActorID,
		FlaggedAt:  r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	switch r.TargetType {
	case TargetPost:
		v.PostID = r.TargetID
	case TargetUser:
		v.UserID = r.TargetID
	}
	return v
}

// Outcome of a moderation decision.
type ModerationResult struct {
	TargetType  TargetType `json:"targetType"`
	TargetID    string     `json:"id"`
	Status      string     `json:"status"`
	ActionTaken string     `json:"actionTaken"`
	FlagState   FlagState  `json:"flagState"`
	Reason      Reason     `json:"reason"`
	RecordID    string     `json:"recordId"`
	ModeratedAt string     `json:"moderatedAt"`
}

type ReasonCounts map[Reason]int64

// Point-in-time read of aggregate flag statistics.
type StatsSnapshot struct {
	TotalFlaggedPosts    int64        `json:"totalFlaggedPosts"`
	TotalFlaggedUsers    int64        `json:"totalFlaggedUsers"`
	TotalFlags           int64        `json:"totalFlags"`
	CountsByReason       ReasonCounts `json:"countsByReason"`
	MostCommonFlagReason Reason       `json:"mostCommonFlagReason,omitempty"`
	Recent               *RecentStats `json:"recent,omitempty"`
}

// Flag activity in the current time buckets, keyed by period ("hour", "day").
type RecentStats struct {
	ByReason map[string]ReasonCounts `json:"byReason"`
	// distinct targets flagged in the period
	FlaggedTargets map[string]map[TargetType]int64 `json:"flaggedTargets"`
}
