package aiclient

import "errors"

var (
	// ErrNoCredentials indicates Config.Credentials is nil.
	ErrNoCredentials = errors.New("aiclient: credentials are required")

	// ErrNoModel indicates Config.Model is empty.
	ErrNoModel = errors.New("aiclient: model is required")

	// ErrEmptyPrompt indicates the user prompt is blank.
	ErrEmptyPrompt = errors.New("aiclient: prompt is required")

	// ErrEmptyResponse indicates the backend returned no choices.
	ErrEmptyResponse = errors.New("aiclient: empty response choices")
)
