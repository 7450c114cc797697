package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/ideaboard/internal/provider"
	"github.com/kalambet/ideaboard/internal/storage"
)

type mockImages struct {
	generateFn func(ctx context.Context, req provider.ImageRequest) (provider.ImageResult, error)
}

func (m *mockImages) GenerateImage(ctx context.Context, req provider.ImageRequest) (provider.ImageResult, error) {
	return m.generateFn(ctx, req)
}

type mockSink struct {
	mu   sync.Mutex
	set  map[string]string
	fail error
}

func (m *mockSink) SetImage(sessionID, feature, itemID, url string) error {
	if m.fail != nil {
		return m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.set == nil {
		m.set = make(map[string]string)
	}
	m.set[sessionID+"/"+feature+"/"+itemID] = url
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueueTestJob(t *testing.T, store *storage.Store, itemID string) string {
	t.Helper()
	id, err := Enqueue(store, Payload{SessionID: "s1", Feature: "artifacts", ItemID: itemID, Prompt: "a lunar greenhouse"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func okImages(url string) *mockImages {
	return &mockImages{generateFn: func(context.Context, provider.ImageRequest) (provider.ImageResult, error) {
		return provider.ImageResult{URL: url}, nil
	}}
}

func TestEnqueue_EmptyPrompt(t *testing.T) {
	store := openTestStore(t)
	if _, err := Enqueue(store, Payload{ItemID: "x"}); !errors.Is(err, provider.ErrEmptyPrompt) {
		t.Errorf("err = %v, want ErrEmptyPrompt", err)
	}
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	jobID := enqueueTestJob(t, store, "item-1")

	var got provider.ImageRequest
	images := &mockImages{generateFn: func(_ context.Context, req provider.ImageRequest) (provider.ImageResult, error) {
		got = req
		return provider.ImageResult{URL: "https://img.example/1.png"}, nil
	}}
	sink := &mockSink{}
	w := NewWorker(store, images, sink, 1024, 768, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	if got.Prompt != "a lunar greenhouse" || got.Width != 1024 || got.Height != 768 {
		t.Errorf("request = %+v", got)
	}
	if url := sink.set["s1/artifacts/item-1"]; url != "https://img.example/1.png" {
		t.Errorf("sink url = %q", url)
	}

	job, err := store.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("status = %q, want completed", job.Status)
	}
}

func TestWorker_NoJob(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, okImages("x"), &mockSink{}, 0, 0, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("RunOnce = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	jobID := enqueueTestJob(t, store, "item-r")

	var calls atomic.Int32
	images := &mockImages{generateFn: func(context.Context, provider.ImageRequest) (provider.ImageResult, error) {
		n := calls.Add(1)
		if n <= 2 {
			return provider.ImageResult{}, fmt.Errorf("transient error %d", n)
		}
		return provider.ImageResult{URL: "ok"}, nil
	}}
	w := NewWorker(store, images, &mockSink{}, 0, 0, 0)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if _, err := w.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		job, err := store.GetJob(jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status != "pending" || job.Attempts != i {
			t.Errorf("after fail %d: status=%q attempts=%d", i, job.Status, job.Attempts)
		}
		resetRunAfter(t, store, jobID)
	}

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 3 error: %v", err)
	}
	job, _ := store.GetJob(jobID)
	if job.Status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", job.Status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	jobID := enqueueTestJob(t, store, "item-m")

	w := NewWorker(store, okImages("x"), &mockSink{fail: errors.New("disk full")}, 0, 0, 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, jobID)
		}
	}

	job, err := store.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "failed" {
		t.Errorf("final status = %q, want %q", job.Status, "failed")
	}
	if job.LastError == "" {
		t.Error("last_error not recorded")
	}
}

func TestWorker_RemovedItemCompletesWithoutRetry(t *testing.T) {
	store := openTestStore(t)
	jobID := enqueueTestJob(t, store, "item-gone")

	var calls atomic.Int32
	images := &mockImages{generateFn: func(context.Context, provider.ImageRequest) (provider.ImageResult, error) {
		calls.Add(1)
		return provider.ImageResult{URL: "x"}, nil
	}}
	sink := &mockSink{fail: fmt.Errorf("%w: item-gone", ErrGone)}
	w := NewWorker(store, images, sink, 0, 0, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	job, err := store.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "completed" || job.Attempts != 0 {
		t.Errorf("status=%q attempts=%d, want completed with no retries", job.Status, job.Attempts)
	}

	resetRunAfter(t, store, jobID)
	if didWork, _ := w.RunOnce(context.Background()); didWork {
		t.Error("job was claimed again")
	}
	if calls.Load() != 1 {
		t.Errorf("image calls = %d, want 1", calls.Load())
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, okImages("x"), &mockSink{}, 0, 0, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
