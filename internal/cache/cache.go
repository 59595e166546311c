// Package cache keeps finished songs in a directory served to the UI overlay
// and optionally mirrors them to a long-term archive.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/core"
	"github.com/book-expert/performer-service/internal/fileutil"
)

// WebPrefix is the URL path under which cached songs are served.
const WebPrefix = "/song-cache/"

// ErrInvalidName is returned for names that would escape the cache directory.
var ErrInvalidName = errors.New("invalid cache file name")

// Archive is long-term storage for cached songs.
type Archive interface {
	Save(ctx context.Context, name, path, title string) error
	Restore(ctx context.Context, name, path string) error
}

// SongCache implements core.SongCache on a local directory.
type SongCache struct {
	dir     string
	archive Archive
	log     *logger.Logger
}

// New creates the cache directory. archive may be nil.
func New(dir string, archive Archive, log *logger.Logger) (*SongCache, error) {
	err := fileutil.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare song cache: %w", err)
	}

	return &SongCache{dir: dir, archive: archive, log: log}, nil
}

// Store copies srcPath into the cache as name.
func (c *SongCache) Store(ctx context.Context, srcPath, name string) (core.CachedFile, error) {
	name = fileutil.SanitizeFilename(filepath.Base(name))
	if name == "" || name == "." || name == ".." {
		return core.CachedFile{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	err := fileutil.RequireNonEmpty(srcPath)
	if err != nil {
		return core.CachedFile{}, fmt.Errorf("%w: %w", core.ErrOutputMissing, err)
	}

	dst := filepath.Join(c.dir, name)

	written, err := fileutil.CopyFile(srcPath, dst)
	if err != nil {
		return core.CachedFile{}, fmt.Errorf("failed to cache %s: %w", srcPath, err)
	}

	c.log.Info("Cached %s as %s (%s)", srcPath, name, fileutil.FormatFileSize(written))

	if c.archive != nil {
		archiveErr := c.archive.Save(ctx, name, dst, strings.TrimSuffix(name, filepath.Ext(name)))
		if archiveErr != nil {
			c.log.Warn("Failed to archive %s: %v", name, archiveErr)
		}
	}

	return core.CachedFile{Name: name, Path: dst, WebPath: WebPrefix + name}, nil
}

// Handler serves cached songs under WebPrefix, restoring purged files from
// the archive on demand.
func (c *SongCache) Handler() http.Handler {
	return http.StripPrefix(WebPrefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)[1:]
		if name == "" || strings.Contains(name, "/") {
			http.NotFound(w, r)

			return
		}

		local := filepath.Join(c.dir, name)

		_, statErr := os.Stat(local)
		if statErr != nil && c.archive != nil {
			restoreErr := c.archive.Restore(r.Context(), name, local)
			if restoreErr != nil {
				c.log.Warn("Song %s is neither cached nor archived: %v", name, restoreErr)
			}
		}

		http.ServeFile(w, r, local)
	}))
}
