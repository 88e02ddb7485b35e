package recorder

import (
	"errors"
	"fmt"

	"go2tv.app/screenrec/capture"
)

// Stable error codes for hosts that report failures.
const (
	CodeAcquisition    = "acquisition"
	CodeEncoding       = "encoding"
	CodeEmptyRecording = "empty_recording"
	CodePersistence    = "persistence"
	CodeSource         = "source"
)

var (
	// ErrSessionActive is returned by Start when a session is already running.
	ErrSessionActive = errors.New("recording session already active")
	// ErrEmptyRecording is returned by Stop when the encoder produced nothing.
	ErrEmptyRecording error = &codedError{code: CodeEmptyRecording, msg: "recording produced no data"}
)

// Coder is implemented by every recorder error with a stable code.
type Coder interface {
	Code() string
}

// Code returns the code of the first coded error in err's chain, or "".
func Code(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() string  { return e.code }

// AcquisitionError reports a source that could not be opened or never
// became ready.
type AcquisitionError struct {
	Kind capture.Kind
	Err  error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Kind, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }
func (e *AcquisitionError) Code() string  { return CodeAcquisition }

// SourceError reports a source that failed after recording started.
type SourceError struct {
	Kind capture.Kind
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s source failed: %v", e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
func (e *SourceError) Code() string  { return CodeSource }

// EncodingError reports an encoder that failed to start, faulted while
// recording or failed to finish.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string { return "encoding failed: " + e.Err.Error() }
func (e *EncodingError) Unwrap() error { return e.Err }
func (e *EncodingError) Code() string  { return CodeEncoding }

// PersistenceError reports a recording that could not be saved.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return "save recording: " + e.Err.Error()
	}
	return fmt.Sprintf("save recording to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
func (e *PersistenceError) Code() string  { return CodePersistence }
