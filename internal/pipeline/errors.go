package pipeline

import "errors"

var (
	ErrInProgress      = errors.New("pipeline: install already in progress")
	ErrQueueFull       = errors.New("pipeline: install queue full")
	ErrCancelled       = errors.New("pipeline: install cancelled")
	ErrNoArtifact      = errors.New("pipeline: candidate has no installable artifact")
	ErrModeUnavailable = errors.New("pipeline: install mode not configured")
	ErrNoOpener        = errors.New("pipeline: no link opener configured")
	ErrClosed          = errors.New("pipeline: closed")
)
