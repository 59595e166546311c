// Package fileutil provides the path helpers shared by the media, cache,
// speech, and sound-effect components.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
	defaultSlug            = "media"
)

// Data size constants.
const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// File extension constants.
const (
	extAAC  = ".aac"
	extFLAC = ".flac"
	extM4A  = ".m4a"
	extMP3  = ".mp3"
	extOGG  = ".ogg"
	extOPUS = ".opus"
	extWAV  = ".wav"
	extWEBM = ".webm"
)

const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtEmptyFile         = "%w: %s"
)

// ErrEmptyFile is returned when a file that should hold data is missing or zero-length.
var ErrEmptyFile = errors.New("file is missing or empty")

var (
	nonWordPattern = regexp.MustCompile(`[^\w\s-]`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
		}
	}

	return nil
}

// Slug turns a title into a lowercase, dash-separated file name stem.
func Slug(title string) string {
	slug := nonWordPattern.ReplaceAllString(title, "")
	slug = spacePattern.ReplaceAllString(strings.TrimSpace(slug), "-")
	slug = strings.ToLower(strings.Trim(slug, "-_"))

	if slug == "" {
		return defaultSlug
	}

	return slug
}

// SanitizeFilename removes or replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}

// IsAudioFile checks if a filename has a common audio file extension.
func IsAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3, extFLAC, extOGG, extM4A, extAAC, extOPUS, extWEBM:
		return true
	default:
		return false
	}
}

// RequireNonEmpty returns ErrEmptyFile unless path is a regular file with content.
func RequireNonEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return fmt.Errorf(errFmtEmptyFile, ErrEmptyFile, path)
	}

	return nil
}

// CopyFile copies src to dst, replacing dst if it exists.
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src) // #nosec G304
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst) // #nosec G304
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}

	written, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()

		return written, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	err = out.Close()
	if err != nil {
		return written, fmt.Errorf("failed to close %s: %w", dst, err)
	}

	return written, nil
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5 MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf("%.1f MB", float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
