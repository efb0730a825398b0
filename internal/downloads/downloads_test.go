package downloads_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"curator/internal/downloads"
	"curator/internal/logging"
	"curator/internal/queue"
)

type fakeStore struct {
	mu   sync.Mutex
	jobs map[int64]*queue.DownloadJob
	next []int64
}

func newFakeStore(jobs ...*queue.DownloadJob) *fakeStore {
	s := &fakeStore{jobs: make(map[int64]*queue.DownloadJob)}
	for _, job := range jobs {
		s.jobs[job.ID] = job
		s.next = append(s.next, job.ID)
	}
	return s
}

func (s *fakeStore) ClaimNextDownload(ctx context.Context) (*queue.DownloadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.next) == 0 {
		return nil, nil
	}
	id := s.next[0]
	s.next = s.next[1:]
	job := s.jobs[id]
	job.Status = queue.DownloadDownloading
	cp := *job
	return &cp, nil
}

func (s *fakeStore) UpdateDownload(ctx context.Context, id int64, opts ...queue.DownloadUpdate) (*queue.DownloadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	queue.ApplyDownloadUpdates(job, opts...)
	cp := *job
	return &cp, nil
}

func (s *fakeStore) get(id int64) queue.DownloadJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func TestSuccessfulRunCompletesJob(t *testing.T) {
	store := newFakeStore(&queue.DownloadJob{ID: 1, URL: "https://example.com/v/1"})
	proc := downloads.NewProcessor(store, t.TempDir(),
		downloads.WithCommand("/bin/echo"),
		downloads.WithLogger(logging.NewNop()))

	didWork, err := proc.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if !didWork {
		t.Fatal("expected work to be done")
	}

	job := store.get(1)
	if job.Status != queue.DownloadCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.FinishedAt == nil {
		t.Fatal("finished_at not stamped")
	}
	if !strings.Contains(job.OutputTail, "https://example.com/v/1") {
		t.Fatalf("output tail missing command echo: %q", job.OutputTail)
	}
}

func TestFailedRunRecordsError(t *testing.T) {
	store := newFakeStore(&queue.DownloadJob{ID: 1, URL: "https://example.com/v/1"})
	proc := downloads.NewProcessor(store, t.TempDir(),
		downloads.WithCommand("/bin/false"),
		downloads.WithLogger(logging.NewNop()))

	if _, err := proc.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}

	job := store.get(1)
	if job.Status != queue.DownloadFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Error == "" {
		t.Fatal("error detail not recorded")
	}
	if job.FinishedAt == nil {
		t.Fatal("finished_at not stamped")
	}
}

func TestMissingBinaryRecordsStartFailure(t *testing.T) {
	store := newFakeStore(&queue.DownloadJob{ID: 1, URL: "https://example.com/v/1"})
	proc := downloads.NewProcessor(store, t.TempDir(),
		downloads.WithCommand("/nonexistent/yt-dlp"),
		downloads.WithLogger(logging.NewNop()))

	if _, err := proc.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}

	job := store.get(1)
	if job.Status != queue.DownloadFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.Error, "start downloader") {
		t.Fatalf("error = %q, want start failure", job.Error)
	}
}

func TestTimeoutKillsRunAndRecordsFailure(t *testing.T) {
	// Stub downloader that ignores its arguments and hangs.
	stub := filepath.Join(t.TempDir(), "stub.sh")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore(&queue.DownloadJob{ID: 1, URL: "https://example.com/v/1"})
	proc := downloads.NewProcessor(store, t.TempDir(),
		downloads.WithCommand(stub),
		downloads.WithTimeout(50*time.Millisecond),
		downloads.WithLogger(logging.NewNop()))

	if _, err := proc.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}

	job := store.get(1)
	if job.Status != queue.DownloadFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.Error, "timed out") {
		t.Fatalf("error = %q, want timeout detail", job.Error)
	}
}

func TestIdleWhenNothingQueued(t *testing.T) {
	proc := downloads.NewProcessor(newFakeStore(), t.TempDir(),
		downloads.WithLogger(logging.NewNop()))
	didWork, err := proc.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if didWork {
		t.Fatal("expected idle result")
	}
}
