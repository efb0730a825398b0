package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusMoved       Status = "moved"
	StatusEmbyPending Status = "emby_pending"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusMoved,
	StatusEmbyPending,
	StatusCompleted,
	StatusError,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status is a resting state the workers never
// pick up again on their own.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// Item represents a queue row persisted in PostgreSQL.
type Item struct {
	ID           int64
	FilePath     string
	MovieCode    string
	Performer    string
	Subtitle     string
	Status       Status
	ErrorMessage string
	NewPath      string
	EmbyItemID   string
	MetadataJSON string
	RetryCount   int
	NextRetryAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Filename returns the base name of the item's current location, preferring
// the post-move path when the file has already been organized.
func (i *Item) Filename() string {
	path := i.FilePath
	if i.NewPath != "" {
		path = i.NewPath
	}
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// DownloadStatus represents the lifecycle of a download job.
type DownloadStatus string

const (
	DownloadQueued      DownloadStatus = "queued"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
)

// DownloadJob represents a row in the download_jobs table.
type DownloadJob struct {
	ID         int64
	URL        string
	Filename   string
	Status     DownloadStatus
	Error      string
	OutputTail string
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

// AuthToken is a stored bearer token for the metadata service.
// Rows are append-only; the newest row wins.
type AuthToken struct {
	AccessToken string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}
