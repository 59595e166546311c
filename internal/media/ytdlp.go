// Package media locates and downloads song audio with the yt-dlp binary.
package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/core"
	"github.com/book-expert/performer-service/internal/fileutil"
)

const (
	defaultBinary  = "yt-dlp"
	defaultTimeout = 5 * time.Minute
	searchPrefix   = "ytsearch1:"
	downloadExt    = ".webm"
	downloadFormat = "bestaudio"
)

// ErrBinaryMissing is returned when the configured downloader binary cannot be found.
var ErrBinaryMissing = errors.New("media downloader binary not found")

// Config configures the downloader.
type Config struct {
	Binary  string
	Dir     string
	Timeout time.Duration
}

// Downloader implements core.MediaSearcher and core.MediaFetcher.
type Downloader struct {
	binary  string
	dir     string
	timeout time.Duration
	log     *logger.Logger
}

// New creates a Downloader that stores audio in cfg.Dir.
func New(cfg Config, log *logger.Logger) (*Downloader, error) {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	binary, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBinaryMissing, cfg.Binary)
	}

	err = fileutil.EnsureDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare download directory: %w", err)
	}

	return &Downloader{binary: binary, dir: cfg.Dir, timeout: cfg.Timeout, log: log}, nil
}

// Search returns the first search result for query.
func (d *Downloader) Search(ctx context.Context, query string) (core.Media, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return core.Media{}, fmt.Errorf("%w: empty query", core.ErrMediaNotFound)
	}

	lines, err := d.run(ctx,
		"--no-warnings", "--skip-download",
		"--print", "title", "--print", "webpage_url",
		searchPrefix+query,
	)
	if err != nil {
		return core.Media{}, fmt.Errorf("%w: searching %q: %w", core.ErrMediaNotFound, query, err)
	}

	if len(lines) < 2 || lines[1] == "" {
		return core.Media{}, fmt.Errorf("%w: no results for %q", core.ErrMediaNotFound, query)
	}

	d.log.Info("Search %q matched %q at %s", query, lines[0], lines[1])

	return core.Media{Title: lines[0], URL: lines[1]}, nil
}

// ResolveTitle asks the media site for the title of url.
func (d *Downloader) ResolveTitle(ctx context.Context, url string) (string, error) {
	lines, err := d.run(ctx, "--no-warnings", "--skip-download", "--print", "title", url)
	if err != nil {
		return "", fmt.Errorf("failed to resolve title of %s: %w", url, err)
	}

	if len(lines) == 0 || lines[0] == "" {
		return "", fmt.Errorf("%w: no title for %s", core.ErrMediaNotFound, url)
	}

	return lines[0], nil
}

// Fetch downloads the best audio stream of media and returns the local path.
func (d *Downloader) Fetch(ctx context.Context, media core.Media) (string, error) {
	stem := fmt.Sprintf("%s-%d", fileutil.Slug(media.Title), time.Now().UnixMilli())
	outputPath := filepath.Join(d.dir, stem+downloadExt)

	d.log.Info("Downloading %s to %s", media.URL, outputPath)

	_, err := d.run(ctx,
		"--no-warnings", "--no-check-certificate", "--no-playlist",
		"-f", downloadFormat,
		"-o", outputPath,
		media.URL,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrDownloadFailed, err)
	}

	if fileutil.RequireNonEmpty(outputPath) == nil {
		return outputPath, nil
	}

	// yt-dlp may remux into a different container than requested.
	renamed, found := d.findByStem(stem)
	if found {
		d.log.Info("Download of %s landed at %s", media.URL, renamed)

		return renamed, nil
	}

	return "", fmt.Errorf("%w: no audio written for %s", core.ErrDownloadFailed, media.URL)
}

func (d *Downloader) findByStem(stem string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(d.dir, stem+".*"))
	if err != nil {
		return "", false
	}

	for _, match := range matches {
		if fileutil.IsAudioFile(match) && fileutil.RequireNonEmpty(match) == nil {
			return match, true
		}
	}

	return "", false
}

// run executes the binary and returns its non-empty stdout lines.
func (d *Downloader) run(ctx context.Context, args ...string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	// #nosec G204 -- binary comes from configuration and arguments are passed without a shell
	cmd := exec.CommandContext(ctx, d.binary, args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w - output: %s", filepath.Base(d.binary), err, strings.TrimSpace(stderr.String()))
	}

	var lines []string

	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}

	return lines, nil
}

// Purge removes downloads older than maxAge and returns how many were removed.
func (d *Downloader) Purge(maxAge time.Duration) int {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.log.Warn("Failed to list download directory %s: %v", d.dir, err)

		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		info, infoErr := entry.Info()
		if infoErr != nil || entry.IsDir() || info.ModTime().After(cutoff) {
			continue
		}

		if os.Remove(filepath.Join(d.dir, entry.Name())) == nil {
			removed++
		}
	}

	return removed
}
