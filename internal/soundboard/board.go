// Package soundboard keeps the library of sound effects found in a directory
// and reloads it when files are added or removed.
package soundboard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/core"
	"github.com/book-expert/performer-service/internal/fileutil"
	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

var soundExtensions = []string{".mp3", ".wav"}

// Board implements core.SoundBoard over a directory of audio files.
// A sound is named after its file without the extension.
type Board struct {
	mu      sync.RWMutex
	sounds  map[string]string
	dir     string
	emitter core.Emitter
	log     *logger.Logger
}

// New loads the sounds in dir, creating it if needed.
func New(dir string, emitter core.Emitter, log *logger.Logger) (*Board, error) {
	err := fileutil.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare sound-effect directory: %w", err)
	}

	board := &Board{sounds: map[string]string{}, dir: dir, emitter: emitter, log: log}

	err = board.Reload()
	if err != nil {
		return nil, err
	}

	return board, nil
}

// Names returns the sorted sound names.
func (b *Board) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.sounds))
	for name := range b.sounds {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Lookup returns the file of the named sound.
func (b *Board) Lookup(name string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, ok := b.sounds[name]

	return path, ok
}

// Reload rescans the directory.
func (b *Board) Reload() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("failed to list sound effects in %s: %w", b.dir, err)
	}

	sounds := make(map[string]string, len(entries))

	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || !slices.Contains(soundExtensions, ext) {
			continue
		}

		sounds[strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))] = filepath.Join(b.dir, entry.Name())
	}

	b.mu.Lock()
	b.sounds = sounds
	b.mu.Unlock()

	b.log.Info("Loaded %d sound effects from %s", len(sounds), b.dir)

	return nil
}

// Watch reloads the library whenever the directory changes and announces the
// new list. It blocks until ctx is cancelled.
func (b *Board) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create sound-effect watcher: %w", err)
	}
	defer watcher.Close()

	err = watcher.Add(b.dir)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", b.dir, err)
	}

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()

	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}

			if !slices.Contains(soundExtensions, strings.ToLower(filepath.Ext(event.Name))) {
				continue
			}

			debounce.Reset(reloadDebounce)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			b.log.Warn("Sound-effect watcher error: %v", watchErr)

		case <-debounce.C:
			reloadErr := b.Reload()
			if reloadErr != nil {
				b.log.Warn("Failed to reload sound effects: %v", reloadErr)

				continue
			}

			b.emitter.Emit(core.EventSoundEffectsList, core.SoundEffectList{Sounds: b.Names()})
		}
	}
}
