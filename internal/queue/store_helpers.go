package queue

import (
	"database/sql"
	"time"
)

const itemColumns = "id, file_path, movie_code, performer, subtitle, status, error_message, new_path, emby_item_id, metadata_json, retry_count, next_retry_at, created_at, updated_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id           int64
		filePath     string
		movieCode    sql.NullString
		performer    sql.NullString
		subtitle     sql.NullString
		statusStr    string
		errorMessage sql.NullString
		newPath      sql.NullString
		embyItemID   sql.NullString
		metadata     sql.NullString
		retryCount   int
		nextRetryAt  sql.NullTime
		createdAt    time.Time
		updatedAt    time.Time
	)

	if err := scanner.Scan(
		&id,
		&filePath,
		&movieCode,
		&performer,
		&subtitle,
		&statusStr,
		&errorMessage,
		&newPath,
		&embyItemID,
		&metadata,
		&retryCount,
		&nextRetryAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:           id,
		FilePath:     filePath,
		MovieCode:    movieCode.String,
		Performer:    performer.String,
		Subtitle:     subtitle.String,
		Status:       Status(statusStr),
		ErrorMessage: errorMessage.String,
		NewPath:      newPath.String,
		EmbyItemID:   embyItemID.String,
		MetadataJSON: metadata.String,
		RetryCount:   retryCount,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		item.NextRetryAt = &t
	}
	return item, nil
}

func scanDownload(scanner interface{ Scan(dest ...any) error }) (*DownloadJob, error) {
	var (
		id         int64
		url        string
		filename   sql.NullString
		statusStr  string
		errMessage sql.NullString
		outputTail sql.NullString
		startedAt  sql.NullTime
		finishedAt sql.NullTime
		createdAt  time.Time
	)

	if err := scanner.Scan(
		&id,
		&url,
		&filename,
		&statusStr,
		&errMessage,
		&outputTail,
		&startedAt,
		&finishedAt,
		&createdAt,
	); err != nil {
		return nil, err
	}

	job := &DownloadJob{
		ID:         id,
		URL:        url,
		Filename:   filename.String,
		Status:     DownloadStatus(statusStr),
		Error:      errMessage.String,
		OutputTail: outputTail.String,
		CreatedAt:  createdAt,
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
