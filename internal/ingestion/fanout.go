package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/internal/stage"
)

// purgeTimeout bounds the purge issued when an item was deleted under a
// running ingest. It outlives the run's context.
const purgeTimeout = 30 * time.Second

// batchDone is sent by a fan-out worker when its batch is embedded and ingested.
type batchDone struct {
	index  int
	size   int
	embed  time.Duration
	ingest time.Duration
}

func batches(docs []stage.Document, size int) [][]stage.Document {
	var out [][]stage.Document
	for i := 0; i < len(docs); i += size {
		out = append(out, docs[i:min(i+size, len(docs))])
	}
	return out
}

// embedAndIngest dispatches the chunks in batches to MaxWorkers concurrent
// workers, each embedding then ingesting its batch. Workers report on a
// channel; this goroutine alone sums the counters and writes progress, so
// chunks_processed only grows no matter the completion order. The first
// failing batch cancels the others.
func (p *Pipeline) embedAndIngest(ctx context.Context, rc *runContext) error {
	total := len(rc.docs)
	work := batches(rc.docs, p.opts.BatchSize)
	start := p.now()

	if err := p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusEmbedding).
		SetMessage("Data embedding and ingestion in progress.").
		SetChunkSize(chunkSize(rc.docs)).
		SetChunksTotal(total).
		SetChunksProcessed(0).
		Start(item.StageEmbedding, start).
		Start(item.StageIngestion, start)); err != nil {
		return err
	}

	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(fanCtx)
	g.SetLimit(p.opts.MaxWorkers)

	events := make(chan batchDone)
	result := make(chan error, 1)

	go func() {
		for i, batch := range work {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := p.checkpoint(gctx, rc); err != nil {
					return err
				}
				done, err := p.runBatch(gctx, rc, i, batch)
				if err != nil {
					return err
				}
				select {
				case events <- done:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		result <- g.Wait()
		close(events)
	}()

	var (
		processed int
		completed int
		ingestDur time.Duration
		writeErr  error
	)
	for ev := range events {
		processed += ev.size
		completed++
		ingestDur += ev.ingest
		if writeErr != nil {
			continue
		}
		writeErr = p.update(ctx, rc, item.NewPatch().
			SetStatus(item.StatusEmbedding).
			SetChunksProcessed(processed).
			SetMessage(fmt.Sprintf("Processing: %d/%d chunks (%d/%d batches)", processed, total, completed, len(work))).
			End(item.StageEmbedding, p.now()).
			End(item.StageIngestion, start.Add(ingestDur)))
		if writeErr != nil {
			cancel()
		}
	}
	werr := <-result

	if writeErr != nil {
		return writeErr
	}
	if werr != nil {
		if errors.Is(werr, ErrRevoked) || ctx.Err() != nil {
			return werr
		}
		return &stageFailure{
			stage:   item.StageEmbedding,
			message: "Error during processing: " + werr.Error(),
			err:     werr,
		}
	}

	end := p.now()
	p.logger.Info("embedding and ingestion complete",
		slog.String("item_id", rc.item.ID.String()),
		slog.Int("chunks", processed),
		slog.Int("batches", len(work)),
		slog.Duration("wall_time", end.Sub(start)),
		slog.Duration("ingestion_time", ingestDur))

	// Ingestion ran inside the fan-out, so its window is the summed duration
	// of the ingest calls rather than wall time.
	return p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusIngestion).
		SetChunksProcessed(processed).
		End(item.StageEmbedding, end).
		End(item.StageIngestion, start.Add(ingestDur)))
}

func (p *Pipeline) runBatch(ctx context.Context, rc *runContext, index int, batch []stage.Document) (batchDone, error) {
	done := batchDone{index: index, size: len(batch)}

	t0 := time.Now()
	embedded, err := p.stages.Embedder.Embed(ctx, batch)
	done.embed = time.Since(t0)
	if err != nil {
		return done, fmt.Errorf("embedding failed for batch %d: %w", index, err)
	}

	// Embedding can take long enough for the item to be canceled or deleted.
	if err := p.checkpoint(ctx, rc); err != nil {
		return done, err
	}

	t1 := time.Now()
	err = p.stages.Ingestor.Ingest(ctx, embedded)
	done.ingest = time.Since(t1)
	if err != nil {
		return done, fmt.Errorf("ingestion failed for batch %d: %w", index, err)
	}
	return done, p.confirmOwner(ctx, rc)
}

// confirmOwner runs after every vector write. If a deletion started while
// the write was in flight, its purge may already be done and the row gone,
// so the item's vectors are purged once more and the run stops.
// Fan-out workers call it concurrently, so it reads only rc.task.
func (p *Pipeline) confirmOwner(ctx context.Context, rc *runContext) error {
	kind, id := rc.task.Kind, rc.task.ItemID
	it, err := rc.items.GetItem(ctx, kind, id)
	switch {
	case errors.Is(err, item.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load %s %s: %w", kind, id, err)
	case !it.MarkedForDeletion && it.Status != item.StatusDeleting:
		return nil
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), purgeTimeout)
	defer cancel()
	if err := p.stages.Ingestor.Purge(pctx, kind, id); err != nil {
		p.logger.Error("purge vectors of deleted item",
			slog.String("task_id", rc.task.ID),
			slog.String("item_id", id.String()),
			slog.String("error", err.Error()))
	}
	return fmt.Errorf("%w: %s %s deleted during ingestion", ErrRevoked, kind, id)
}

// lateChunk sends the coarse chunks one at a time through the late chunking
// service and ingests what comes back. chunks_total ends as the number of
// late chunks produced.
func (p *Pipeline) lateChunk(ctx context.Context, rc *runContext) error {
	start := p.now()
	total := len(rc.docs)

	if err := p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusLateChunking).
		SetMessage("Data late chunking in progress.").
		SetChunkSize(chunkSize(rc.docs)).
		SetChunksTotal(total).
		SetChunksProcessed(0).
		Start(item.StageLateChunking, start)); err != nil {
		return err
	}

	var (
		produced  int
		chunkDur  time.Duration
		ingestDur time.Duration
	)
	for i := range rc.docs {
		if err := p.checkpoint(ctx, rc); err != nil {
			return err
		}

		t0 := time.Now()
		chunks, err := p.stages.LateChunker.LateChunk(ctx, rc.docs[i:i+1])
		chunkDur += time.Since(t0)
		if err != nil {
			return failed(item.StageLateChunking, "Error encountered while late chunking.", err)
		}

		if err := p.checkpoint(ctx, rc); err != nil {
			return err
		}
		t1 := time.Now()
		err = p.stages.Ingestor.Ingest(ctx, chunks)
		ingestDur += time.Since(t1)
		if err != nil {
			return failed(item.StageIngestion, "Error encountered while ingestion.", err)
		}
		if err := p.confirmOwner(ctx, rc); err != nil {
			return err
		}

		produced += len(chunks)
		if produced > total {
			total = produced
		}
		chunkEnd := start.Add(chunkDur)
		if err := p.update(ctx, rc, item.NewPatch().
			SetStatus(item.StatusLateChunking).
			SetChunksTotal(total).
			SetChunksProcessed(produced).
			End(item.StageLateChunking, chunkEnd).
			Start(item.StageIngestion, chunkEnd).
			End(item.StageIngestion, chunkEnd.Add(ingestDur))); err != nil {
			return err
		}
	}

	chunkEnd := start.Add(chunkDur)
	return p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusIngestion).
		SetChunksTotal(produced).
		SetChunksProcessed(produced).
		End(item.StageLateChunking, chunkEnd).
		Start(item.StageIngestion, chunkEnd).
		End(item.StageIngestion, chunkEnd.Add(ingestDur)))
}
