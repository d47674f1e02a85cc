package models

import (
	"fmt"
	"time"
)

type TargetType string

const (
	TargetPost TargetType = "post"
	TargetUser TargetType = "user"
)

func ParseTargetType(raw string) (TargetType, error) {
	switch TargetType(raw) {
	case TargetPost, TargetUser:
		return TargetType(raw), nil
	default:
		return "", fmt.Errorf("unknown target type: %q", raw)
	}
}

// Visibility state of a post or user. Transitions are monotonic: Clean -> Flagged -> Removed.
type FlagState string

const (
	FlagStateClean   FlagState = "Clean"
	FlagStateFlagged FlagState = "Flagged"
	FlagStateRemoved FlagState = "Removed"
)

func (s FlagState) rank() int {
	switch s {
	case FlagStateFlagged:
		return 1
	case FlagStateRemoved:
		return 2
	default:
		return 0
	}
}

// Next returns the state reached by applying the action. A transition never moves backwards.
func (s FlagState) Next(a Action) FlagState {
	want := FlagStateFlagged
	if a == ActionRemove {
		want = FlagStateRemoved
	}
	if want.rank() > s.rank() {
		return want
	}
	return s
}

type Post struct {
	ID        string    `gorm:"primaryKey"`
	AuthorID  string    `gorm:"index;not null"`
	Content   string    `gorm:"not null"`
	FlagState FlagState `gorm:"not null;default:Clean"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JSON representation of a Post, as returned by the API.
type PostView struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	FlagState FlagState `json:"flagState"`
	IsFlagged bool      `json:"isFlagged"`
	CreatedAt string    `json:"createdAt"`
	UpdatedAt string    `json:"updatedAt"`
}

func (p *Post) View() PostView {
	return PostView{
		ID:        p.ID,
		AuthorID:  p.AuthorID,
		Content:   p.Content,
		FlagState: p.FlagState,
		IsFlagged: p.FlagState != FlagStateClean,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type User struct {
	ID          string `gorm:"primaryKey"`
	Username    string `gorm:"index"`
	DisplayName string
	Bio         string
	FlagState   FlagState `gorm:"not null;default:Clean"`
	JoinedAt    time.Time
	UpdatedAt   time.Time

	// derived on read, never persisted
	FlagCount  int64 `gorm:"-"`
	PostsCount int64 `gorm:"-"`
}

type UserView struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	FlagState   FlagState `json:"flagState"`
	IsFlagged   bool      `json:"isFlagged"`
	FlagCount   int64     `json:"flagCount"`
	PostsCount  int64     `json:"postsCount"`
	JoinedAt    string    `json:"joinedAt"`
}

func (u *User) View() UserView {
	return UserView{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Bio:         u.Bio,
		FlagState:   u.FlagState,
		IsFlagged:   u.FlagState != FlagStateClean,
		FlagCount:   u.FlagCount,
		PostsCount:  u.PostsCount,
		JoinedAt:    u.JoinedAt.UTC().Format(time.RFC3339),
	}
}
