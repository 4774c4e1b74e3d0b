package stage

import (
	"errors"
	"fmt"
)

// StatusContentRejected is the status the guardrail service answers with
// when it refuses a document.
const StatusContentRejected = 466

// Class tells the orchestrator how to react to a failed stage call.
type Class int

const (
	// ClassTransient failures (timeouts, connection errors, 5xx, 429, open
	// breaker) are retried by the task runtime.
	ClassTransient Class = iota
	// ClassFatal failures end the pipeline run immediately.
	ClassFatal
	// ClassRejected is the guardrail's refusal of the content.
	ClassRejected
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	case ClassRejected:
		return "rejected"
	}
	return "unknown"
}

// Error is a classified stage failure.
type Error struct {
	Stage  string
	Class  Class
	Status int    // HTTP status, 0 when no response was received
	Detail string // "detail" field of the error body, or the raw body
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Detail != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Stage, e.Status, e.Detail)
	case e.Status != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Stage, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return e.Stage + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// ClassOf returns the class of a stage error. Errors that are not stage
// errors are treated as transient infrastructure failures.
func ClassOf(err error) Class {
	var se *Error
	if errors.As(err, &se) {
		return se.Class
	}
	return ClassTransient
}

func IsTransient(err error) bool { return err != nil && ClassOf(err) == ClassTransient }

func IsRejected(err error) bool { return err != nil && ClassOf(err) == ClassRejected }

// Message returns err without the stage prefix, for job messages.
func Message(err error) string {
	var se *Error
	if errors.As(err, &se) {
		switch {
		case se.Status != 0 && se.Detail != "":
			return fmt.Sprintf("HTTP %d: %s", se.Status, se.Detail)
		case se.Status != 0:
			return fmt.Sprintf("HTTP %d", se.Status)
		case se.Err != nil:
			return se.Err.Error()
		case se.Detail != "":
			return se.Detail
		}
	}
	return err.Error()
}

func classifyStatus(status int) Class {
	switch {
	case status == StatusContentRejected:
		return ClassRejected
	case status == 429, status >= 500:
		return ClassTransient
	}
	return ClassFatal
}
