// Package render turns artifact and mockup descriptions into images in the
// background, driven by the SQLite job queue.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/ideaboard/internal/provider"
	"github.com/kalambet/ideaboard/internal/storage"
)

// JobType is the queue type for image renders.
const JobType = "render_image"

// Payload identifies the item to render and what to draw.
type Payload struct {
	SessionID string `json:"session_id"`
	Feature   string `json:"feature"`
	ItemID    string `json:"item_id"`
	Prompt    string `json:"prompt"`
}

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// ErrGone is wrapped by an ImageSink when the item was removed while its
// render was in flight. Such jobs complete without retry.
var ErrGone = errors.New("render target no longer exists")

// ImageSink stores a finished image on its item.
type ImageSink interface {
	SetImage(sessionID, feature, itemID, url string) error
}

// Enqueue adds a render job and returns its id.
func Enqueue(store JobStore, p Payload) (string, error) {
	if p.Prompt == "" {
		return "", provider.ErrEmptyPrompt
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(data),
	}
	if err := store.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("enqueueing render job: %w", err)
	}
	return job.ID, nil
}

// Worker processes render_image jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	images provider.ImageGenerator
	sink   ImageSink
	width  int
	height int
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, images provider.ImageGenerator, sink ImageSink, width, height int, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		images: images,
		sink:   sink,
		width:  width,
		height: height,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("render worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single render_image job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("render failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var p Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	img, err := w.images.GenerateImage(ctx, provider.ImageRequest{
		Prompt: p.Prompt,
		Width:  w.width,
		Height: w.height,
	})
	if err != nil {
		return fmt.Errorf("generating image: %w", err)
	}

	if err := w.sink.SetImage(p.SessionID, p.Feature, p.ItemID, img.URL); errors.Is(err, ErrGone) {
		w.logger.Info("dropping render for removed item", "job_id", job.ID, "feature", p.Feature, "item", p.ItemID, "error", err)
		return nil
	} else if err != nil {
		return fmt.Errorf("storing image on %s/%s: %w", p.Feature, p.ItemID, err)
	}
	w.logger.Debug("rendered image", "session", p.SessionID, "feature", p.Feature, "item", p.ItemID)
	return nil
}
