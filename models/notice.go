package models

import (
	"errors"
	"time"
)

// NoticeKind classifies a user-facing notice.
type NoticeKind string

const (
	NoticeRateLimited NoticeKind = "rate_limited"
	NoticeFetchFailed NoticeKind = "fetch_failed"
	NoticeAuthFailed  NoticeKind = "auth_failed"
)

// Notice is a message surfaced to the user after a failed operation.
type Notice struct {
	Kind     NoticeKind `json:"kind"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	RaisedAt time.Time  `json:"raised_at"`
}

// NoticeFor maps an operation error onto the notice shown to the user.
// Errors that are neither rate limits nor auth failures are reported as a
// generic fetch failure.
func NoticeFor(err error, now time.Time) Notice {
	switch {
	case errors.Is(err, ErrRateLimited):
		return Notice{
			Kind:     NoticeRateLimited,
			Title:    "Too Many Requests",
			Message:  "You have made too many requests in a short period. Please try again later.",
			RaisedAt: now,
		}
	case errors.Is(err, ErrAuthFailed):
		return Notice{
			Kind:     NoticeAuthFailed,
			Title:    "Login failed",
			Message:  "Wrong email or password",
			RaisedAt: now,
		}
	default:
		return Notice{
			Kind:     NoticeFetchFailed,
			Title:    "Error",
			Message:  "An error occurred while fetching data.",
			RaisedAt: now,
		}
	}
}
