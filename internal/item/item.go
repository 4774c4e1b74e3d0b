// Package item defines the tracked unit of ingestion: a file stored in a
// bucket or a submitted web link, together with its lifecycle status and the
// per-stage progress the pipeline records on it.
package item

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes file-backed items from link-backed items.
type Kind string

const (
	KindFile Kind = "file"
	KindLink Kind = "link"
)

func (k Kind) Valid() bool { return k == KindFile || k == KindLink }

// Stage names a timed step of the pipeline. The value doubles as the column
// prefix of its {stage}_start / {stage}_end pair.
type Stage string

const (
	StageCleanup      Stage = "cleanup"
	StageExtraction   Stage = "text_extractor"
	StageCompression  Stage = "text_compression"
	StageSplitting    Stage = "text_splitter"
	StageGuard        Stage = "dpguard"
	StageLateChunking Stage = "late_chunking"
	StageEmbedding    Stage = "embedding"
	StageIngestion    Stage = "ingestion"
)

// Stages lists the timed stages in pipeline order.
var Stages = []Stage{
	StageCleanup,
	StageExtraction,
	StageCompression,
	StageSplitting,
	StageGuard,
	StageLateChunking,
	StageEmbedding,
	StageIngestion,
}

// Window is the start/end pair recorded for one stage.
type Window struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

var (
	ErrNotFound          = errors.New("item not found")
	ErrConflict          = errors.New("an active item already exists for this source")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Item is one row of the files or links table.
type Item struct {
	ID   uuid.UUID `json:"id"`
	Kind Kind      `json:"kind"`

	// Source identity: (BucketName, ObjectName) for files, URI for links.
	BucketName string `json:"bucket_name,omitempty"`
	ObjectName string `json:"object_name,omitempty"`
	URI        string `json:"uri,omitempty"`

	Etag        string `json:"etag,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`

	Status            Status `json:"status"`
	MarkedForDeletion bool   `json:"marked_for_deletion"`
	TaskID            string `json:"task_id,omitempty"`
	JobName           string `json:"job_name,omitempty"`
	JobMessage        string `json:"job_message,omitempty"`

	ChunkSize       int `json:"chunk_size"`
	ChunksTotal     int `json:"chunks_total"`
	ChunksProcessed int `json:"chunks_processed"`

	Timings map[Stage]Window `json:"timings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewFile returns an uploaded file item with a fresh id.
func NewFile(bucket, object, etag, contentType string, size int64) *Item {
	return &Item{
		ID:          uuid.New(),
		Kind:        KindFile,
		BucketName:  bucket,
		ObjectName:  object,
		Etag:        etag,
		ContentType: contentType,
		Size:        size,
		Status:      StatusUploaded,
		Timings:     map[Stage]Window{},
		CreatedAt:   time.Now().UTC(),
	}
}

// NewLink returns an uploaded link item with a fresh id.
func NewLink(uri string) *Item {
	return &Item{
		ID:        uuid.New(),
		Kind:      KindLink,
		URI:       uri,
		Status:    StatusUploaded,
		Timings:   map[Stage]Window{},
		CreatedAt: time.Now().UTC(),
	}
}

// SourceKey identifies the item's source, independent of its id.
func (it *Item) SourceKey() string {
	if it.Kind == KindLink {
		return "link:" + it.URI
	}
	return "file:" + it.BucketName + "/" + it.ObjectName
}

// Clone returns a deep copy.
func (it *Item) Clone() *Item {
	c := *it
	c.Timings = make(map[Stage]Window, len(it.Timings))
	for k, v := range it.Timings {
		c.Timings[k] = v
	}
	return &c
}

// DisplayName is the filename for files and the URI for links.
func (it *Item) DisplayName() string {
	if it.Kind == KindLink {
		return it.URI
	}
	return it.ObjectName
}

// CompactID renders the id without hyphens, the form used as vector store metadata.
func (it *Item) CompactID() string { return CompactID(it.ID) }

// CompactID renders id without hyphens.
func CompactID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// Filter narrows ListItems. Zero values mean "any".
type Filter struct {
	Kind              Kind
	MarkedForDeletion *bool
	Statuses          []Status
	BucketName        string
	ObjectName        string
	URI               string
}

// Store persists items. Every implementation validates status transitions
// on UpdateItem and enforces one active item per source on CreateItem.
type Store interface {
	CreateItem(ctx context.Context, it *Item) (*Item, error)
	GetItem(ctx context.Context, kind Kind, id uuid.UUID) (*Item, error)
	UpdateItem(ctx context.Context, kind Kind, id uuid.UUID, p *Patch) (*Item, error)
	ListItems(ctx context.Context, f Filter) ([]Item, error)
	DeleteItem(ctx context.Context, kind Kind, id uuid.UUID) error
}

// Bool returns a pointer to b, for Filter.MarkedForDeletion.
func Bool(b bool) *bool { return &b }
