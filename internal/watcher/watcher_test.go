package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"curator/internal/logging"
	"curator/internal/testsupport"
	"curator/internal/watcher"
)

type enqueueRecorder struct {
	mu    sync.Mutex
	paths []string
	seen  chan string
}

func newEnqueueRecorder() *enqueueRecorder {
	return &enqueueRecorder{seen: make(chan string, 16)}
}

func (r *enqueueRecorder) enqueue(ctx context.Context, filePath string) error {
	r.mu.Lock()
	r.paths = append(r.paths, filePath)
	r.mu.Unlock()
	r.seen <- filePath
	return nil
}

func (r *enqueueRecorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case path := <-r.seen:
		return path
	case <-time.After(5 * time.Second):
		t.Fatal("no file enqueued in time")
		return ""
	}
}

func (r *enqueueRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func instantSleep(ctx context.Context, d time.Duration) error { return nil }

func TestSweepEnqueuesExistingVideoFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	video := filepath.Join(cfg.Paths.WatchDir, "SONE-760.mp4")
	if err := os.WriteFile(video, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.WatchDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := newEnqueueRecorder()
	w := watcher.New(cfg, rec.enqueue,
		watcher.WithLogger(logging.NewNop()),
		watcher.WithSleepFunc(instantSleep))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Close()

	if got := rec.wait(t); got != video {
		t.Fatalf("enqueued %q, want %q", got, video)
	}
	if rec.count() != 1 {
		t.Fatalf("enqueued %d files, want 1", rec.count())
	}
}

func TestCreateEventEnqueuesStableFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	rec := newEnqueueRecorder()
	w := watcher.New(cfg, rec.enqueue,
		watcher.WithLogger(logging.NewNop()),
		watcher.WithSleepFunc(instantSleep))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Close()

	video := filepath.Join(cfg.Paths.WatchDir, "MIDV-100 chinese sub.mkv")
	if err := os.WriteFile(video, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := rec.wait(t); got != video {
		t.Fatalf("enqueued %q, want %q", got, video)
	}
}

func TestStabilityWaitsForSizeToSettle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Stability.MinChecks = 2
	video := filepath.Join(cfg.Paths.WatchDir, "SONE-760.mp4")
	if err := os.WriteFile(video, []byte("part"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The sleep hook stands in for the copy still being in progress: the
	// file grows for the first two waits, then settles.
	var grows int
	growingSleep := func(ctx context.Context, d time.Duration) error {
		if grows < 2 {
			grows++
			f, err := os.OpenFile(video, os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = f.WriteString("more")
			return err
		}
		return nil
	}

	rec := newEnqueueRecorder()
	w := watcher.New(cfg, rec.enqueue,
		watcher.WithLogger(logging.NewNop()),
		watcher.WithSleepFunc(growingSleep))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Close()

	rec.wait(t)
	if grows != 2 {
		t.Fatalf("stability poller slept %d growth rounds, want 2", grows)
	}
}

func TestNonVideoAndErrorDirFilesIgnored(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.WriteFile(filepath.Join(cfg.Paths.WatchDir, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.ErrorDir, "broken.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := newEnqueueRecorder()
	w := watcher.New(cfg, rec.enqueue,
		watcher.WithLogger(logging.NewNop()),
		watcher.WithSleepFunc(instantSleep))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Close()

	select {
	case path := <-rec.seen:
		t.Fatalf("unexpected enqueue: %s", path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFileDisappearingDuringStabilityIsDropped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	video := filepath.Join(cfg.Paths.WatchDir, "SONE-760.mp4")
	if err := os.WriteFile(video, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	removeOnSleep := func(ctx context.Context, d time.Duration) error {
		return os.Remove(video)
	}

	rec := newEnqueueRecorder()
	w := watcher.New(cfg, rec.enqueue,
		watcher.WithLogger(logging.NewNop()),
		watcher.WithSleepFunc(removeOnSleep))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Close()

	select {
	case path := <-rec.seen:
		t.Fatalf("unexpected enqueue: %s", path)
	case <-time.After(200 * time.Millisecond):
	}
}
