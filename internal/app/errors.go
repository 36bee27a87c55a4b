package app

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrSessionNotFound  = errors.New("session not found")
	ErrStreamInFlight   = errors.New("an answer is still streaming for this session")
	ErrUnsupportedFile  = errors.New("only pdf files are supported")
	ErrFileTooLarge     = errors.New("file exceeds the upload limit")
	ErrImmutableField   = errors.New("document identity fields cannot be changed")
	ErrUnknownField     = errors.New("unknown metadata field")
	ErrJobNotReady      = errors.New("job not ready")
	ErrNoActiveDocument = errors.New("session has no active document")
)
