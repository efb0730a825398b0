package workers

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"curator/internal/identity"
	"curator/internal/logging"
	"curator/internal/metadata"
	"curator/internal/metrics"
	"curator/internal/organizer"
	"curator/internal/queue"
)

var titleCaser = cases.Title(language.Und)

// IngestStore is the queue surface the ingest stage needs.
type IngestStore interface {
	ClaimNextPending(ctx context.Context) (*queue.Item, error)
	UpdateStatus(ctx context.Context, id int64, status queue.Status, opts ...queue.StatusUpdate) (*queue.Item, error)
	SetClassification(ctx context.Context, id int64, code, performer, subtitle string) error
}

// MetadataSearcher looks up movie metadata by code.
type MetadataSearcher interface {
	Search(ctx context.Context, movieCode string) (*metadata.Movie, error)
}

// IngestProcessor takes pending files through extraction, metadata lookup,
// and the rename/move into the destination tree.
type IngestProcessor struct {
	store          IngestStore
	search         MetadataSearcher
	destinationDir string
	errorDir       string
	logger         *slog.Logger
}

// NewIngestProcessor builds the pending-stage processor.
func NewIngestProcessor(store IngestStore, search MetadataSearcher, destinationDir, errorDir string, logger *slog.Logger) *IngestProcessor {
	return &IngestProcessor{
		store:          store,
		search:         search,
		destinationDir: destinationDir,
		errorDir:       errorDir,
		logger:         logging.NewComponentLogger(logger, "ingest"),
	}
}

// Name implements Processor.
func (p *IngestProcessor) Name() string { return "ingest" }

// ProcessOne claims and processes a single pending item.
func (p *IngestProcessor) ProcessOne(ctx context.Context) (bool, error) {
	item, err := p.store.ClaimNextPending(ctx)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}

	filename := filepath.Base(item.FilePath)
	p.logger.Info("processing item", logging.ItemID(item.ID), logging.String("filename", filename))

	movieCode := identity.ExtractMovieCode(filename)
	if movieCode == "" {
		p.parkInErrorDir(item.FilePath)
		return true, p.fail(ctx, item.ID, fmt.Sprintf("no movie code found in filename: %s", filename))
	}

	subtitle := identity.DetectSubtitle(filename)
	p.logger.Info("extracted classification",
		logging.ItemID(item.ID),
		logging.String("movie_code", movieCode),
		logging.String("subtitle", subtitle))

	movie, err := p.search.Search(ctx, movieCode)
	if err != nil {
		return true, p.fail(ctx, item.ID, fmt.Sprintf("metadata search failed: %v", err))
	}
	if movie == nil {
		// One transparent retry before giving up; the sources are flaky.
		if movie, err = p.search.Search(ctx, movieCode); err != nil {
			return true, p.fail(ctx, item.ID, fmt.Sprintf("metadata search failed: %v", err))
		}
	}
	if movie == nil {
		p.parkInErrorDir(item.FilePath)
		return true, p.fail(ctx, item.ID, fmt.Sprintf("no metadata found for movie code: %s", movieCode))
	}

	performer := "Unknown"
	if len(movie.Actress) > 0 && strings.TrimSpace(movie.Actress[0]) != "" {
		performer = titleCaser.String(strings.TrimSpace(movie.Actress[0]))
	}

	apiCode := movie.MovieCode
	if apiCode == "" {
		apiCode = movieCode
	}
	title := deriveTitle(movie.Title, apiCode)

	extension := filepath.Ext(item.FilePath)
	newFilename := organizer.BuildFilename(performer, subtitle, apiCode, title, extension)

	newPath, err := organizer.MoveFile(item.FilePath, p.destinationDir, performer, newFilename)
	if err != nil {
		return true, p.fail(ctx, item.ID, err.Error())
	}
	p.logger.Info("moved file",
		logging.ItemID(item.ID),
		logging.String("new_path", newPath))

	if _, err := p.store.UpdateStatus(ctx, item.ID, queue.StatusMoved,
		queue.WithNewPath(newPath),
		queue.WithMetadataJSON(string(movie.Raw))); err != nil {
		return true, fmt.Errorf("mark moved: %w", err)
	}
	if err := p.store.SetClassification(ctx, item.ID, apiCode, performer, subtitle); err != nil {
		return true, fmt.Errorf("persist classification: %w", err)
	}
	metrics.PipelineItems.WithLabelValues(p.Name(), metrics.ResultSuccess).Inc()
	return true, nil
}

// deriveTitle strips the movie code prefix from the service title and
// title-cases the remainder.
func deriveTitle(title, movieCode string) string {
	if strings.HasPrefix(strings.ToUpper(title), strings.ToUpper(movieCode)) {
		title = strings.TrimSpace(title[len(movieCode):])
		title = strings.TrimSpace(strings.TrimPrefix(title, "-"))
	}
	return titleCaser.String(title)
}

func (p *IngestProcessor) fail(ctx context.Context, id int64, message string) error {
	metrics.PipelineItems.WithLabelValues(p.Name(), metrics.ResultError).Inc()
	p.logger.Warn("item failed", logging.ItemID(id), logging.String("reason", message))
	if _, err := p.store.UpdateStatus(ctx, id, queue.StatusError,
		queue.WithErrorMessage(message)); err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return nil
}

// parkInErrorDir moves an unprocessable file out of the watch directory so
// the watcher does not re-enqueue it. Best-effort.
func (p *IngestProcessor) parkInErrorDir(filePath string) {
	if newPath, err := organizer.MoveToDir(filePath, p.errorDir); err != nil {
		p.logger.Error("move to error directory failed",
			logging.String("file", filePath), logging.Error(err))
	} else {
		p.logger.Info("moved file to error directory", logging.String("path", newPath))
	}
}
