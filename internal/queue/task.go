// Package queue is the task runtime: a Valkey stream consumed by a worker
// group, with delayed tasks, bounded retries and task revocation.
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/docflow/internal/item"
)

const (
	StreamName    = "docflow:tasks"
	GroupName     = "docflow-workers"
	DelayedKey    = "docflow:tasks:delayed"
	RevokedPrefix = "docflow:revoked:"
	RevocationTTL = 24 * time.Hour
)

// Kind is the operation a task performs.
type Kind string

const (
	KindProcess Kind = "process"
	KindDelete  Kind = "delete"
	KindSync    Kind = "sync"
)

// Task is the payload carried on the stream. ID stays the same across
// retries so revocation and item ownership survive them.
type Task struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	ItemKind   item.Kind `json:"item_kind,omitempty"`
	ItemID     uuid.UUID `json:"item_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// RetryPolicy bounds automatic retries of failed tasks.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Backoff returns the delay before retry number n (1-based): BaseDelay
// doubled for every earlier retry, capped at MaxDelay.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ShouldRetry reports whether a task that failed with err on its current
// attempt gets another one.
func (p RetryPolicy) ShouldRetry(t Task, err error) bool {
	return err != nil && !IsPermanent(err) && t.Attempt < p.MaxRetries
}
