package service

import "errors"

var (
	// ErrFileNotFound reports a file record or its fragments missing at
	// read time. Never silently an empty payload.
	ErrFileNotFound = errors.New("file not found")

	// ErrIncompleteFile reports a chunk count mismatch at download time,
	// meaning an interrupted upload or a partial delete. Surfaced apart
	// from ErrFileNotFound so the client can suggest a re-upload.
	ErrIncompleteFile = errors.New("file is incomplete")

	// ErrNoPayload reports a legacy record that carries neither inline
	// data nor an external location.
	ErrNoPayload = errors.New("file has no payload source")
)
