package scraping

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid scraping request")
	ErrNotFound       = errors.New("scraping job not found")
	ErrDispatchFailed = errors.New("workflow dispatch failed")
	ErrInvalidToken   = errors.New("invalid callback token")
)

// dispatchFailedMessage is recorded on the job when the workflow handoff fails.
const dispatchFailedMessage = "Failed to start scraping workflow"
