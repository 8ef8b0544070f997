package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/castellan-ai/castellan/internal/store"
)

// PermanentFailurePrefix marks a document error message as beyond the
// retry budget. Operators filter on it to find documents needing manual
// re-upload.
const PermanentFailurePrefix = "PERMANENT_FAILURE: "

// Indexer is the task body: one indexing attempt for one document.
type Indexer interface {
	Index(ctx context.Context, documentID int64) error
}

// BlobDeleter removes the source blob once no retry can use it anymore.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// DocumentReader is the slice of the relational store exhaustion cleanup
// needs.
type DocumentReader interface {
	Document(ctx context.Context, id int64) (*store.Document, error)
	MarkFailed(ctx context.Context, id int64, reason string) error
}

// Runner polls the queue and executes indexing jobs one at a time.
type Runner struct {
	queue        *Queue
	indexer      Indexer
	blobs        BlobDeleter
	docs         DocumentReader
	log          *slog.Logger
	pollInterval time.Duration
}

// NewRunner constructs a Runner.
func NewRunner(q *Queue, idx Indexer, blobs BlobDeleter, docs DocumentReader, pollInterval time.Duration, log *slog.Logger) *Runner {
	return &Runner{
		queue:        q,
		indexer:      idx,
		blobs:        blobs,
		docs:         docs,
		log:          log,
		pollInterval: pollInterval,
	}
}

// Run processes jobs until ctx is cancelled. Jobs stuck running from a
// previous crash are re-queued first.
func (r *Runner) Run(ctx context.Context) error {
	if n, err := r.queue.Recover(ctx); err != nil {
		return err
	} else if n > 0 {
		r.log.Info("tasks: recovered in-flight jobs", slog.Int("count", n))
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		r.drain(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain claims and runs jobs until the queue has nothing due.
func (r *Runner) drain(ctx context.Context) {
	for {
		job, err := r.claim(ctx)
		if errors.Is(err, ErrEmpty) || errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			r.log.Error("tasks: claim failed", slog.String("error", err.Error()))
			return
		}
		r.runJob(ctx, job)
	}
}

// claim fetches the next due job, retrying transient database errors
// with exponential backoff before giving up for this poll cycle.
func (r *Runner) claim(ctx context.Context) (*Job, error) {
	var job *Job
	op := func() error {
		var err error
		job, err = r.queue.Claim(ctx)
		if errors.Is(err, ErrEmpty) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return job, nil
}

// runJob executes one attempt and settles the job: done on success,
// rescheduled while retries remain, permanent failure once the budget is
// exhausted. The source blob is deleted only on exhaustion, because it is
// the only input a later retry could use.
func (r *Runner) runJob(ctx context.Context, job *Job) {
	err := r.indexer.Index(ctx, job.DocumentID)
	if err == nil {
		if cerr := r.queue.Complete(ctx, job.ID); cerr != nil {
			r.log.Error("tasks: complete failed", slog.Int64("job_id", job.ID), slog.String("error", cerr.Error()))
		}
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Shutdown interrupted the attempt; that is not an indexing
		// failure. Leave the job in its running state so the next
		// start's Recover re-queues it with the retry budget intact.
		r.log.Info("tasks: attempt interrupted, job left for recovery",
			slog.Int64("job_id", job.ID),
			slog.Int64("document_id", job.DocumentID),
		)
		return
	}

	r.log.Warn("tasks: indexing attempt failed",
		slog.Int64("job_id", job.ID),
		slog.Int64("document_id", job.DocumentID),
		slog.Int("attempt", job.Attempts+1),
		slog.Int("retries_left", job.RetriesLeft()),
		slog.String("error", err.Error()),
	)

	exhausted, qerr := r.queue.Retry(ctx, job, err)
	if qerr != nil {
		r.log.Error("tasks: reschedule failed", slog.Int64("job_id", job.ID), slog.String("error", qerr.Error()))
		return
	}
	if exhausted {
		r.cleanupExhausted(ctx, job.DocumentID, err)
	}
}

// cleanupExhausted stamps the permanent-failure prefix on the document
// and deletes the source blob. Blob deletion is best-effort.
func (r *Runner) cleanupExhausted(ctx context.Context, documentID int64, cause error) {
	r.log.Error("tasks: retry budget exhausted",
		slog.Int64("document_id", documentID),
		slog.String("error", cause.Error()),
	)

	if err := r.docs.MarkFailed(ctx, documentID, PermanentFailurePrefix+cause.Error()); err != nil {
		r.log.Error("tasks: could not record permanent failure",
			slog.Int64("document_id", documentID),
			slog.String("error", err.Error()),
		)
	}

	doc, err := r.docs.Document(ctx, documentID)
	if err != nil {
		r.log.Error("tasks: could not load document for blob cleanup",
			slog.Int64("document_id", documentID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := r.blobs.Delete(ctx, doc.StorageKey); err != nil {
		r.log.Warn("tasks: blob cleanup failed",
			slog.String("key", doc.StorageKey),
			slog.String("error", err.Error()),
		)
	}
}
