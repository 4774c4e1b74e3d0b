package item

import "fmt"

// Status is the lifecycle state of an item.
type Status string

const (
	StatusUploaded        Status = "uploaded"
	StatusProcessing      Status = "processing"
	StatusTextExtracting  Status = "text_extracting"
	StatusTextCompression Status = "text_compression"
	StatusTextSplitting   Status = "text_splitting"
	StatusDpGuard         Status = "dpguard"
	StatusLateChunking    Status = "late_chunking"
	StatusEmbedding       Status = "embedding"
	StatusIngestion       Status = "ingestion"
	StatusIngested        Status = "ingested"
	StatusError           Status = "error"
	StatusBlocked         Status = "blocked"
	StatusCanceled        Status = "canceled"
	StatusDeleting        Status = "deleting"
)

// AllStatuses lists every status in pipeline order followed by the escape states.
var AllStatuses = []Status{
	StatusUploaded,
	StatusProcessing,
	StatusTextExtracting,
	StatusTextCompression,
	StatusTextSplitting,
	StatusDpGuard,
	StatusLateChunking,
	StatusEmbedding,
	StatusIngestion,
	StatusIngested,
	StatusError,
	StatusBlocked,
	StatusCanceled,
	StatusDeleting,
}

// ParseStatus converts a stored string into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown item status %q", s)
}

func (s Status) String() string { return string(s) }

// Terminal reports whether no further automatic progress happens from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusIngested, StatusError, StatusBlocked, StatusCanceled:
		return true
	}
	return false
}

// InFlight reports whether s is one of the states a running pipeline task owns.
func (s Status) InFlight() bool {
	switch s {
	case StatusProcessing, StatusTextExtracting, StatusTextCompression, StatusTextSplitting,
		StatusDpGuard, StatusLateChunking, StatusEmbedding, StatusIngestion:
		return true
	}
	return false
}

// forward holds the pipeline edges. Optional stages appear as alternative targets.
var forward = map[Status][]Status{
	StatusUploaded:        {StatusProcessing},
	StatusProcessing:      {StatusTextExtracting},
	StatusTextExtracting:  {StatusTextCompression, StatusTextSplitting, StatusDpGuard, StatusLateChunking, StatusEmbedding},
	StatusTextCompression: {StatusTextSplitting},
	StatusTextSplitting:   {StatusDpGuard, StatusLateChunking, StatusEmbedding},
	StatusDpGuard:         {StatusLateChunking, StatusEmbedding, StatusBlocked},
	StatusLateChunking:    {StatusIngestion, StatusIngested},
	StatusEmbedding:       {StatusIngestion, StatusIngested},
	StatusIngestion:       {StatusIngested},
}

// CanTransition reports whether an item may move from one status to another.
// Rewriting the current status is always allowed so a redelivered task can
// repeat its last write.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	// deleting is final; the row is removed once the purge completes.
	if from == StatusDeleting {
		return false
	}
	if to == StatusDeleting {
		return true
	}

	switch {
	case from.InFlight():
		switch to {
		case StatusError, StatusCanceled, StatusProcessing:
			return true
		}
	case from.Terminal():
		if to == StatusUploaded {
			return true
		}
		// The task runtime retries a transient failure with the same task,
		// which may be canceled while it waits.
		if from == StatusError && (to == StatusProcessing || to == StatusCanceled) {
			return true
		}
		return false
	case from == StatusUploaded:
		// error covers a task that could not be submitted.
		if to == StatusCanceled || to == StatusError {
			return true
		}
	}

	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrIllegalTransition when CanTransition is false.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
