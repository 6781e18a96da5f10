package models

import "errors"

var (
	// ErrRateLimited marks a fetch refused by the source for request volume (HTTP 429).
	ErrRateLimited = errors.New("rate limited")
	// ErrFetchFailed marks any other fetch failure.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrAuthFailed marks rejected credentials.
	ErrAuthFailed = errors.New("wrong email or password")

	ErrRecordNotFound = errors.New("record not found")
	ErrUnknownSortKey = errors.New("unknown sort key")
)
