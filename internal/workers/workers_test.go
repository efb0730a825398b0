package workers_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"curator/internal/logging"
	"curator/internal/metadata"
	"curator/internal/metrics"
	"curator/internal/queue"
	"curator/internal/services/emby"
	"curator/internal/testsupport"
	"curator/internal/workers"
)

// memStore is an in-memory stand-in for the queue store.
type memStore struct {
	mu     sync.Mutex
	items  map[int64]*queue.Item
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{items: make(map[int64]*queue.Item)}
}

func (s *memStore) add(filePath string, status queue.Status) *queue.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item := &queue.Item{
		ID:        s.nextID,
		FilePath:  filePath,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	s.items[item.ID] = item
	return item
}

func (s *memStore) get(id int64) queue.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[id]
}

func (s *memStore) claim(from, to queue.Status) *queue.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *queue.Item
	for _, item := range s.items {
		if item.Status != from {
			continue
		}
		if oldest == nil || item.ID < oldest.ID {
			oldest = item
		}
	}
	if oldest == nil {
		return nil
	}
	oldest.Status = to
	cp := *oldest
	return &cp
}

func (s *memStore) ClaimNextPending(ctx context.Context) (*queue.Item, error) {
	return s.claim(queue.StatusPending, queue.StatusProcessing), nil
}

func (s *memStore) ClaimNextMoved(ctx context.Context) (*queue.Item, error) {
	return s.claim(queue.StatusMoved, queue.StatusEmbyPending), nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id int64, status queue.Status, opts ...queue.StatusUpdate) (*queue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	item.Status = status
	if status == queue.StatusError {
		item.RetryCount++
	}
	queue.ApplyUpdates(item, opts...)
	cp := *item
	return &cp, nil
}

func (s *memStore) SetClassification(ctx context.Context, id int64, code, performer, subtitle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.items[id]
	item.MovieCode = code
	item.Performer = performer
	item.Subtitle = subtitle
	return nil
}

type fakeSearcher struct {
	mu      sync.Mutex
	results []*metadata.Movie
	calls   int
}

func (f *fakeSearcher) Search(ctx context.Context, movieCode string) (*metadata.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return nil, nil
	}
	movie := f.results[0]
	f.results = f.results[1:]
	return movie, nil
}

func testMovie() *metadata.Movie {
	movie := &metadata.Movie{
		MovieCode:   "SONE-760",
		Title:       "SONE-760 a summer story",
		Actress:     []string{"aoi sora", "other name"},
		ReleaseDate: "2026-02-14",
	}
	movie.Raw = []byte(`{"movie_code":"SONE-760","title":"SONE-760 a summer story","actress":["aoi sora"],"release_date":"2026-02-14"}`)
	return movie
}

func writeWatchFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatalf("write watch file: %v", err)
	}
	return path
}

func TestIngestHappyPath(t *testing.T) {
	watchDir := t.TempDir()
	destDir := t.TempDir()
	errorDir := filepath.Join(watchDir, "errors")
	source := writeWatchFile(t, watchDir, "SONE-760 english sub.mp4")

	store := newMemStore()
	item := store.add(source, queue.StatusPending)
	search := &fakeSearcher{results: []*metadata.Movie{testMovie()}}

	proc := workers.NewIngestProcessor(store, search, destDir, errorDir, logging.NewNop())
	didWork, err := proc.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if !didWork {
		t.Fatal("expected work to be done")
	}

	got := store.get(item.ID)
	if got.Status != queue.StatusMoved {
		t.Fatalf("status = %s, want moved", got.Status)
	}
	if got.MovieCode != "SONE-760" || got.Performer != "Aoi Sora" || got.Subtitle != "English Sub" {
		t.Fatalf("classification not persisted: %#v", got)
	}

	wantPath := filepath.Join(destDir, "Aoi Sora", "Aoi Sora - [English Sub] SONE-760 A Summer Story.mp4")
	if got.NewPath != wantPath {
		t.Fatalf("new path = %q, want %q", got.NewPath, wantPath)
	}
	if got.MetadataJSON == "" {
		t.Fatal("metadata payload not persisted")
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("moved file missing at %s: %v", wantPath, err)
	}
	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Fatal("source file still in watch directory")
	}
	if search.calls != 1 {
		t.Fatalf("expected one search call, got %d", search.calls)
	}
}

func TestIngestNoMovieCodeParksFile(t *testing.T) {
	watchDir := t.TempDir()
	errorDir := filepath.Join(watchDir, "errors")
	source := writeWatchFile(t, watchDir, "holiday video.mp4")

	store := newMemStore()
	item := store.add(source, queue.StatusPending)
	search := &fakeSearcher{}

	proc := workers.NewIngestProcessor(store, search, t.TempDir(), errorDir, logging.NewNop())
	if _, err := proc.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}

	got := store.get(item.ID)
	if got.Status != queue.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d", got.RetryCount)
	}
	if _, err := os.Stat(filepath.Join(errorDir, "holiday video.mp4")); err != nil {
		t.Fatalf("file not parked in error dir: %v", err)
	}
	if search.calls != 0 {
		t.Fatal("metadata search should not run without a code")
	}
}

func TestIngestRetriesMetadataOnce(t *testing.T) {
	watchDir := t.TempDir()
	source := writeWatchFile(t, watchDir, "SONE-760.mp4")

	store := newMemStore()
	store.add(source, queue.StatusPending)
	// First lookup misses, the transparent retry hits.
	search := &fakeSearcher{results: []*metadata.Movie{nil, testMovie()}}

	proc := workers.NewIngestProcessor(store, search, t.TempDir(),
		filepath.Join(watchDir, "errors"), logging.NewNop())
	if _, err := proc.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if search.calls != 2 {
		t.Fatalf("expected two search calls, got %d", search.calls)
	}
}

func TestIngestMetadataMissFailsAfterRetry(t *testing.T) {
	watchDir := t.TempDir()
	errorDir := filepath.Join(watchDir, "errors")
	source := writeWatchFile(t, watchDir, "SONE-760.mp4")

	store := newMemStore()
	item := store.add(source, queue.StatusPending)
	search := &fakeSearcher{}

	proc := workers.NewIngestProcessor(store, search, t.TempDir(), errorDir, logging.NewNop())
	if _, err := proc.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}

	if search.calls != 2 {
		t.Fatalf("expected exactly two search calls, got %d", search.calls)
	}
	got := store.get(item.ID)
	if got.Status != queue.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if _, err := os.Stat(filepath.Join(errorDir, "SONE-760.mp4")); err != nil {
		t.Fatalf("file not parked in error dir: %v", err)
	}
}

func TestIngestIdleWhenQueueEmpty(t *testing.T) {
	proc := workers.NewIngestProcessor(newMemStore(), &fakeSearcher{},
		t.TempDir(), t.TempDir(), logging.NewNop())
	didWork, err := proc.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if didWork {
		t.Fatal("expected idle result on empty queue")
	}
}

type fakeCatalog struct {
	mu            sync.Mutex
	scanErr       error
	found         *emby.Item
	updateErr     error
	uploadErr     error
	updateCalls   int
	uploadCalls   int
	lastImageURL  string
	lastUpdatedID string
}

func (f *fakeCatalog) Scan(ctx context.Context) error { return f.scanErr }

func (f *fakeCatalog) FindByPathWithRetry(ctx context.Context, path string) (*emby.Item, error) {
	return f.found, nil
}

func (f *fakeCatalog) UpdateMetadata(ctx context.Context, itemID string, movie *metadata.Movie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	f.lastUpdatedID = itemID
	return f.updateErr
}

func (f *fakeCatalog) UploadImages(ctx context.Context, itemID, imageURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	f.lastImageURL = imageURL
	return f.uploadErr
}

func movedItem(store *memStore, metadataJSON string) *queue.Item {
	item := store.add("/watch/SONE-760.mp4", queue.StatusMoved)
	store.mu.Lock()
	store.items[item.ID].NewPath = "/destination/Aoi Sora/SONE-760.mp4"
	store.items[item.ID].MetadataJSON = metadataJSON
	store.mu.Unlock()
	return item
}

func TestCatalogHappyPath(t *testing.T) {
	store := newMemStore()
	item := movedItem(store, `{"title":"T","image_cropped":"https://img/x?w=1600"}`)
	catalog := &fakeCatalog{found: &emby.Item{ID: "42"}}

	proc := workers.NewCatalogProcessor(store, catalog, logging.NewNop())
	didWork, err := proc.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if !didWork {
		t.Fatal("expected work to be done")
	}

	got := store.get(item.ID)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.EmbyItemID != "42" {
		t.Fatalf("emby item id = %q, want 42", got.EmbyItemID)
	}
	if catalog.updateCalls != 1 || catalog.lastUpdatedID != "42" {
		t.Fatalf("metadata update not issued: %#v", catalog)
	}
	if catalog.uploadCalls != 1 || catalog.lastImageURL != "https://img/x?w=1600" {
		t.Fatalf("image upload not issued: %#v", catalog)
	}
}

func TestCatalogScanFailureMarksError(t *testing.T) {
	store := newMemStore()
	item := movedItem(store, `{"title":"T"}`)
	catalog := &fakeCatalog{scanErr: errors.New("scan down")}

	proc := workers.NewCatalogProcessor(store, catalog, logging.NewNop())
	if _, err := proc.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	got := store.get(item.ID)
	if got.Status != queue.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if catalog.updateCalls != 0 {
		t.Fatal("update should not run after scan failure")
	}
}

func TestCatalogMissingItemMarksError(t *testing.T) {
	store := newMemStore()
	item := movedItem(store, `{"title":"T"}`)
	catalog := &fakeCatalog{found: nil}

	proc := workers.NewCatalogProcessor(store, catalog, logging.NewNop())
	if _, err := proc.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if got := store.get(item.ID); got.Status != queue.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
}

func TestCatalogUpdateFailureMarksError(t *testing.T) {
	store := newMemStore()
	item := movedItem(store, `{"title":"T"}`)
	catalog := &fakeCatalog{found: &emby.Item{ID: "42"}, updateErr: errors.New("rejected")}

	proc := workers.NewCatalogProcessor(store, catalog, logging.NewNop())
	if _, err := proc.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	got := store.get(item.ID)
	if got.Status != queue.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.EmbyItemID != "42" {
		t.Fatalf("discovered id not kept for retry: %q", got.EmbyItemID)
	}
	if catalog.uploadCalls != 0 {
		t.Fatal("images should not upload after a failed metadata write")
	}
}

func TestCatalogImageFailureStillCompletes(t *testing.T) {
	store := newMemStore()
	item := movedItem(store, `{"title":"T","raw_image_url":"https://img/raw"}`)
	catalog := &fakeCatalog{found: &emby.Item{ID: "42"}, uploadErr: errors.New("cdn down")}

	proc := workers.NewCatalogProcessor(store, catalog, logging.NewNop())
	if _, err := proc.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if got := store.get(item.ID); got.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed despite image failure", got.Status)
	}
}

type fakeRetryStore struct {
	mu       sync.Mutex
	eligible []*queue.Item
	resets   []int64
}

func (f *fakeRetryStore) ListRetryEligible(ctx context.Context, limit int) ([]*queue.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.eligible) > limit {
		return f.eligible[:limit], nil
	}
	return f.eligible, nil
}

func (f *fakeRetryStore) ResetForRetry(ctx context.Context, id int64) (*queue.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, id)
	return &queue.Item{ID: id, Status: queue.StatusPending}, nil
}

func TestRetryProcessorPromotesEligibleItems(t *testing.T) {
	store := &fakeRetryStore{eligible: []*queue.Item{
		{ID: 1, Status: queue.StatusError, RetryCount: 1},
		{ID: 2, Status: queue.StatusError, RetryCount: 2},
	}}

	proc := workers.NewRetryProcessor(store, logging.NewNop())
	didWork, err := proc.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if !didWork {
		t.Fatal("expected work to be done")
	}
	if len(store.resets) != 2 || store.resets[0] != 1 || store.resets[1] != 2 {
		t.Fatalf("unexpected resets: %v", store.resets)
	}
}

func TestRetryProcessorIdleWhenNothingEligible(t *testing.T) {
	proc := workers.NewRetryProcessor(&fakeRetryStore{}, logging.NewNop())
	didWork, err := proc.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if didWork {
		t.Fatal("expected idle result")
	}
}

type scriptedProcessor struct {
	mu     sync.Mutex
	calls  int
	panics bool
}

func (p *scriptedProcessor) Name() string { return "scripted" }

func (p *scriptedProcessor) ProcessOne(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.panics && p.calls == 1 {
		panic("bad item")
	}
	return false, nil
}

func (p *scriptedProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	proc := &scriptedProcessor{panics: true}
	worker := workers.NewWorker(proc, 10*time.Millisecond, logging.NewNop())
	worker.Start()
	defer worker.Stop(time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for proc.callCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("worker loop did not survive the panic")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorkerStops(t *testing.T) {
	proc := &scriptedProcessor{}
	worker := workers.NewWorker(proc, 10*time.Millisecond, logging.NewNop())
	worker.Start()
	worker.Stop(time.Second)
	if worker.IsRunning() {
		t.Fatal("worker still running after Stop")
	}
}

func TestManagerStartsAndStopsAll(t *testing.T) {
	procA := &scriptedProcessor{}
	procB := &scriptedProcessor{}
	manager := workers.NewManager(logging.NewNop(),
		workers.NewWorker(procA, 10*time.Millisecond, logging.NewNop()),
		workers.NewWorker(procB, 10*time.Millisecond, logging.NewNop()))

	manager.StartAll()
	health := manager.Health()
	if !health["scripted"] {
		t.Fatalf("expected running workers: %v", health)
	}

	go manager.Shutdown()
	manager.WaitForShutdown(time.Second)

	for name, running := range manager.Health() {
		if running {
			t.Fatalf("worker %q still running after shutdown", name)
		}
	}
}

// TestPipelineEndToEnd drives a single file through both stages against a
// real queue so the moved-to-catalog handoff is exercised on the same rows
// the daemon would use. Skipped without CURATOR_TEST_DATABASE_URL.
func TestPipelineEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	source := writeWatchFile(t, cfg.Paths.WatchDir, "SONE-760.mp4")
	item, err := store.Enqueue(ctx, source)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	search := &fakeSearcher{results: []*metadata.Movie{testMovie()}}
	ingest := workers.NewIngestProcessor(store, search,
		cfg.Paths.DestinationDir, cfg.Paths.ErrorDir, logging.NewNop())
	if didWork, err := ingest.ProcessOne(ctx); err != nil || !didWork {
		t.Fatalf("ingest stage: didWork=%v err=%v", didWork, err)
	}

	moved, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if moved.Status != queue.StatusMoved || moved.NewPath == "" {
		t.Fatalf("unexpected state after ingest: %#v", moved)
	}

	catalog := &fakeCatalog{found: &emby.Item{ID: "42"}}
	catalogProc := workers.NewCatalogProcessor(store, catalog, logging.NewNop())
	if didWork, err := catalogProc.ProcessOne(ctx); err != nil || !didWork {
		t.Fatalf("catalog stage: didWork=%v err=%v", didWork, err)
	}

	final, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if final.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.EmbyItemID != "42" {
		t.Fatalf("emby item id = %q, want 42", final.EmbyItemID)
	}
	if final.MovieCode != "SONE-760" || final.Performer != "Aoi Sora" {
		t.Fatalf("classification lost across stages: %#v", final)
	}
	if _, err := os.Stat(final.NewPath); err != nil {
		t.Fatalf("renamed file missing at %s: %v", final.NewPath, err)
	}
	if catalog.updateCalls != 1 {
		t.Fatalf("expected one metadata update, got %d", catalog.updateCalls)
	}
}

func TestPipelineCountersTrackOutcomes(t *testing.T) {
	successBefore := testutil.ToFloat64(metrics.PipelineItems.WithLabelValues("ingest", metrics.ResultSuccess))
	errorBefore := testutil.ToFloat64(metrics.PipelineItems.WithLabelValues("ingest", metrics.ResultError))

	watchDir := t.TempDir()
	errorDir := filepath.Join(watchDir, "errors")
	store := newMemStore()
	store.add(writeWatchFile(t, watchDir, "SONE-760.mp4"), queue.StatusPending)
	store.add(writeWatchFile(t, watchDir, "holiday video.mp4"), queue.StatusPending)

	search := &fakeSearcher{results: []*metadata.Movie{testMovie()}}
	proc := workers.NewIngestProcessor(store, search, t.TempDir(), errorDir, logging.NewNop())
	for i := 0; i < 2; i++ {
		if _, err := proc.ProcessOne(context.Background()); err != nil {
			t.Fatalf("ProcessOne failed: %v", err)
		}
	}

	successDelta := testutil.ToFloat64(metrics.PipelineItems.WithLabelValues("ingest", metrics.ResultSuccess)) - successBefore
	errorDelta := testutil.ToFloat64(metrics.PipelineItems.WithLabelValues("ingest", metrics.ResultError)) - errorBefore
	if successDelta != 1 {
		t.Fatalf("success counter delta = %v, want 1", successDelta)
	}
	if errorDelta != 1 {
		t.Fatalf("error counter delta = %v, want 1", errorDelta)
	}
}
