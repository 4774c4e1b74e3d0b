package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/internal/stage"
)

// Task identifies one pipeline or deletion run for an item.
type Task struct {
	ID     string
	Kind   item.Kind
	ItemID uuid.UUID
}

// ErrRevoked stops a run whose task was revoked or whose item was taken over
// by a cancel or delete while it ran. The item is left as the other party
// wrote it.
var ErrRevoked = errors.New("task revoked")

// Revocations reports whether a task has been revoked.
type Revocations interface {
	IsRevoked(ctx context.Context, taskID string) (bool, error)
}

// ObjectGetter downloads file contents.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

type Extractor interface {
	ExtractFile(ctx context.Context, filename string, data []byte) ([]stage.Document, error)
	ExtractLink(ctx context.Context, uri string) ([]stage.Document, error)
	Hierarchical() bool
}

type Compressor interface {
	Compress(ctx context.Context, docs []stage.Document) ([]stage.Document, error)
}

type Splitter interface {
	Split(ctx context.Context, docs []stage.Document, opts stage.SplitOptions) ([]stage.Document, error)
}

type Guard interface {
	Scan(ctx context.Context, docs []stage.Document) error
}

type LateChunker interface {
	LateChunk(ctx context.Context, docs []stage.Document) ([]stage.EmbeddedDoc, error)
}

// Stages holds the clients the pipeline calls. Optional stages are disabled
// by leaving them nil.
type Stages struct {
	Objects     ObjectGetter
	Extractor   Extractor
	Compressor  Compressor
	Splitter    Splitter
	Guard       Guard
	LateChunker LateChunker // non-nil replaces the embedding fan-out
	Embedder    stage.Embedder
	Ingestor    stage.Ingestor
}

// runContext carries state through one pipeline run.
type runContext struct {
	task  Task
	items item.Store
	item  *item.Item
	docs  []stage.Document
}

func (rc *runContext) noun() string {
	if rc.task.Kind == item.KindLink {
		return "link"
	}
	return "file"
}

// stageFailure is a failed stage with the message shown to the user.
type stageFailure struct {
	stage   item.Stage
	message string
	err     error
}

func (f *stageFailure) Error() string { return f.message }

func (f *stageFailure) Unwrap() error { return f.err }

// failed wraps err with a user-visible message built from prefix and the
// stage client's status and detail.
func failed(st item.Stage, prefix string, err error) error {
	if errors.Is(err, ErrRevoked) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &stageFailure{stage: st, message: prefix + " " + stage.Message(err), err: err}
}

// empty reports a stage that produced nothing. It is never retried.
func empty(st item.Stage, message string) error {
	return &stageFailure{
		stage:   st,
		message: message,
		err:     &stage.Error{Stage: string(st), Class: stage.ClassFatal, Detail: message},
	}
}

// stamp annotates every chunk with its owning item so the vector store can
// later purge by item id.
func stamp(rc *runContext) {
	key, _ := stage.MetadataIDKey(rc.item.Kind)
	stage.Stamp(rc.docs, key, rc.item.CompactID())
	if rc.item.Kind == item.KindFile {
		stage.Stamp(rc.docs, "bucket_name", rc.item.BucketName)
		stage.Stamp(rc.docs, "object_name", rc.item.ObjectName)
		stage.Stamp(rc.docs, "etag", rc.item.Etag)
	}
}

func chunkSize(docs []stage.Document) int {
	if len(docs) == 0 {
		return 0
	}
	return len(docs[0].Text)
}

func (p *Pipeline) cleanup(ctx context.Context, rc *runContext) error {
	now := p.now()
	if err := p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusProcessing).
		SetMessage("Data clean up in progress.").
		SetChunksTotal(0).
		SetChunksProcessed(0).
		Start(item.StageCleanup, now)); err != nil {
		return err
	}

	const prefix = "Error encountered while removing existing data related to file."
	if err := p.stages.Ingestor.Purge(ctx, rc.item.Kind, rc.item.ID); err != nil {
		return failed(item.StageCleanup, prefix, err)
	}

	// Predecessors of the same source still waiting for their delete task
	// are purged here so their vectors never coexist with ours.
	preds, err := rc.items.ListItems(ctx, predecessorFilter(rc.item))
	if err != nil {
		return fmt.Errorf("list predecessors: %w", err)
	}
	for _, pred := range preds {
		if pred.ID == rc.item.ID {
			continue
		}
		if err := p.stages.Ingestor.Purge(ctx, pred.Kind, pred.ID); err != nil {
			return failed(item.StageCleanup, prefix, err)
		}
	}

	return p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusProcessing).
		End(item.StageCleanup, p.now()))
}

func predecessorFilter(it *item.Item) item.Filter {
	f := item.Filter{Kind: it.Kind, MarkedForDeletion: item.Bool(true)}
	if it.Kind == item.KindLink {
		f.URI = it.URI
	} else {
		f.BucketName = it.BucketName
		f.ObjectName = it.ObjectName
	}
	return f
}

func (p *Pipeline) extract(ctx context.Context, rc *runContext) error {
	if err := p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusTextExtracting).
		SetMessage("Data loading in progress.").
		Start(item.StageExtraction, p.now())); err != nil {
		return err
	}

	x := p.stages.Extractor
	prefix := "Error encountered while data loading."
	if x.Hierarchical() {
		prefix = "Error encountered while data preparation."
	}

	var docs []stage.Document
	var err error
	if rc.item.Kind == item.KindFile {
		var data []byte
		data, err = p.stages.Objects.GetObject(ctx, rc.item.BucketName, rc.item.ObjectName)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &stageFailure{
				stage:   item.StageExtraction,
				message: "Error downloading file. " + err.Error(),
				err:     &stage.Error{Stage: "object_storage", Class: stage.ClassFatal, Err: err},
			}
		}
		docs, err = x.ExtractFile(ctx, rc.item.ObjectName, data)
	} else {
		docs, err = x.ExtractLink(ctx, rc.item.URI)
	}
	if err != nil {
		return failed(item.StageExtraction, prefix, err)
	}
	if len(docs) == 0 {
		return empty(item.StageExtraction, fmt.Sprintf("No text extracted from the %s.", rc.noun()))
	}
	rc.docs = docs

	p.logger.Info("text extracted",
		slog.String("item_id", rc.item.ID.String()),
		slog.Int("docs", len(docs)))

	patch := item.NewPatch().
		SetStatus(item.StatusTextExtracting).
		End(item.StageExtraction, p.now())
	if x.Hierarchical() {
		patch.SetChunkSize(chunkSize(docs)).SetChunksTotal(len(docs))
	}
	return p.update(ctx, rc, patch)
}

func (p *Pipeline) compress(ctx context.Context, rc *runContext) error {
	if err := p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusTextCompression).
		SetMessage("Text compression in progress.").
		Start(item.StageCompression, p.now())); err != nil {
		return err
	}

	docs, err := p.stages.Compressor.Compress(ctx, rc.docs)
	if err != nil {
		return failed(item.StageCompression, "Error encountered while text compressing.", err)
	}
	if len(docs) == 0 {
		return empty(item.StageCompression, "No text compressed.")
	}
	rc.docs = docs

	return p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusTextCompression).
		End(item.StageCompression, p.now()))
}

func (p *Pipeline) split(ctx context.Context, rc *runContext) error {
	if err := p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusTextSplitting).
		SetMessage("Data splitting in progress.").
		Start(item.StageSplitting, p.now())); err != nil {
		return err
	}

	var opts stage.SplitOptions
	if p.stages.LateChunker != nil {
		opts = stage.LateChunkingSplit
	}
	docs, err := p.stages.Splitter.Split(ctx, rc.docs, opts)
	if err != nil {
		return failed(item.StageSplitting, "Error encountered while data splitting.", err)
	}
	if len(docs) == 0 {
		return empty(item.StageSplitting, fmt.Sprintf("No text extracted from the %s.", rc.noun()))
	}
	rc.docs = docs

	return p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusTextSplitting).
		SetChunkSize(chunkSize(docs)).
		SetChunksTotal(len(docs)).
		End(item.StageSplitting, p.now()))
}

const guardBlockedMessage = "Dataprep Guardrail blocked embedding this document"

func (p *Pipeline) guard(ctx context.Context, rc *runContext) error {
	if err := p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusDpGuard).
		SetMessage("Data Preparation Guardrail in progress.").
		Start(item.StageGuard, p.now())); err != nil {
		return err
	}

	if err := p.stages.Guard.Scan(ctx, rc.docs); err != nil {
		if stage.IsRejected(err) {
			return &stageFailure{
				stage:   item.StageGuard,
				message: guardBlockedMessage + ". " + stage.Message(err),
				err:     err,
			}
		}
		return failed(item.StageGuard, "Error while executing dataprep guardrail.", err)
	}

	return p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusDpGuard).
		End(item.StageGuard, p.now()))
}
