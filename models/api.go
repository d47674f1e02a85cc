package models

import "time"

// Request and response bodies of the HTTP API, shared by the server and client.

type ModerateRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

type FlagUserRequest struct {
	Reason string `json:"reason,omitempty"`
}

type FlagList struct {
	Flags []FlagRecordView `json:"flags"`
}

type PutPostRequest struct {
	AuthorID  string     `json:"authorId"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

type PutUserRequest struct {
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName,omitempty"`
	Bio         string     `json:"bio,omitempty"`
	JoinedAt    *time.Time `json:"joinedAt,omitempty"`
}

// Body of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
