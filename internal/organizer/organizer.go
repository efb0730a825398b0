// Package organizer builds destination filenames and moves processed videos
// into per-performer folders.
package organizer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
)

// maxFilenameLen is a conservative filename length limit shared by common
// filesystems.
const maxFilenameLen = 200

var (
	invalidCharsRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	multiSpaceRe   = regexp.MustCompile(`\s+`)
	repeatedDotsRe = regexp.MustCompile(`\.{2,}`)
)

// SanitizeFilename strips characters invalid in filenames and collapses
// repeated spaces and dots.
func SanitizeFilename(name string) string {
	sanitized := invalidCharsRe.ReplaceAllString(name, "")
	sanitized = strings.TrimSpace(multiSpaceRe.ReplaceAllString(sanitized, " "))
	return repeatedDotsRe.ReplaceAllString(sanitized, ".")
}

// BuildFilename assembles "{Performer} - [{Sub}] {CODE} {Title}{ext}",
// truncating the title when the result would exceed filesystem limits.
func BuildFilename(performer, subtitle, movieCode, title, extension string) string {
	ext := extension
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	prefix := fmt.Sprintf("%s - [%s] %s ", performer, subtitle, movieCode)
	maxTitleLen := maxFilenameLen - len(prefix) - len(ext)

	switch {
	case maxTitleLen < 10:
		title = ""
	case len(title) > maxTitleLen:
		title = strings.TrimRight(title[:maxTitleLen], " ")
	}

	return SanitizeFilename(strings.TrimSpace(prefix+title) + ext)
}

// FindMatchingFolder locates an existing performer folder under the
// destination via case-insensitive comparison. When none exists, the
// performer name itself is returned for a fresh folder.
func FindMatchingFolder(destinationDir, performer string) string {
	entries, err := os.ReadDir(destinationDir)
	if err != nil {
		return performer
	}
	normalized := normalizeName(performer)
	for _, entry := range entries {
		if entry.IsDir() && normalizeName(entry.Name()) == normalized {
			return entry.Name()
		}
	}
	return performer
}

func normalizeName(name string) string {
	return multiSpaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), " ")
}

// MoveFile moves a file into the performer subfolder of destinationDir,
// creating it when needed and suffixing "(n)" on name collisions. Returns
// the final path.
func MoveFile(sourcePath, destinationDir, performer, newFilename string) (string, error) {
	folderName := FindMatchingFolder(destinationDir, performer)
	targetDir := filepath.Join(destinationDir, folderName)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("create performer directory: %w", err)
	}

	targetPath := filepath.Join(targetDir, newFilename)
	if _, err := os.Stat(targetPath); err == nil {
		ext := filepath.Ext(newFilename)
		stem := strings.TrimSuffix(newFilename, ext)
		for counter := 1; ; counter++ {
			candidate := filepath.Join(targetDir, fmt.Sprintf("%s (%d)%s", stem, counter, ext))
			if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
				targetPath = candidate
				break
			}
		}
	}

	if err := moveAcrossDevices(sourcePath, targetPath); err != nil {
		return "", err
	}
	return targetPath, nil
}

// MoveToDir moves a file into dir keeping its base name. Used for parking
// unidentifiable files in the error directory.
func MoveToDir(sourcePath, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	targetPath := filepath.Join(dir, filepath.Base(sourcePath))
	if err := moveAcrossDevices(sourcePath, targetPath); err != nil {
		return "", err
	}
	return targetPath, nil
}

// moveAcrossDevices renames when possible and falls back to copy-then-remove
// when source and target live on different filesystems.
func moveAcrossDevices(sourcePath, targetPath string) error {
	if err := os.Rename(sourcePath, targetPath); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
			if err := copyFileContents(sourcePath, targetPath); err != nil {
				return fmt.Errorf("copy file across devices: %w", err)
			}
			if err := os.Remove(sourcePath); err != nil {
				return fmt.Errorf("remove source after copy: %w", err)
			}
			return nil
		}
		return fmt.Errorf("move file: %w", err)
	}
	return nil
}

func copyFileContents(sourcePath, targetPath string) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	dest, err := os.OpenFile(targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(dest, source); err != nil {
		dest.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := dest.Sync(); err != nil {
		dest.Close()
		return fmt.Errorf("sync destination: %w", err)
	}
	if err := dest.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}
