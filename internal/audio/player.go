// Package audio plays local audio files through an external command-line player.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/book-expert/performer-service/internal/fileutil"
)

const defaultPlayer = "ffplay"

var defaultPlayerArgs = []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}

// ErrPlayerMissing is returned when the configured player binary cannot be found.
var ErrPlayerMissing = errors.New("audio player binary not found")

// Player implements core.Player by running a command per file.
// A Player without a binary only validates the file, which suits deployments
// where the browser overlay plays audio instead.
type Player struct {
	binary string
	args   []string
}

// NewPlayer resolves binary on PATH. An empty binary falls back to ffplay;
// the value "none" disables local playback.
func NewPlayer(binary string, args []string) (*Player, error) {
	switch binary {
	case "none":
		return &Player{}, nil
	case "":
		binary = defaultPlayer
		if args == nil {
			args = defaultPlayerArgs
		}
	}

	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPlayerMissing, binary)
	}

	return &Player{binary: resolved, args: args}, nil
}

// Play blocks until the file finishes playing or ctx is cancelled.
func (p *Player) Play(ctx context.Context, path string) error {
	err := fileutil.RequireNonEmpty(path)
	if err != nil {
		return fmt.Errorf("cannot play: %w", err)
	}

	if p.binary == "" {
		return nil
	}

	args := append(append([]string{}, p.args...), path)

	// #nosec G204 -- binary comes from configuration and arguments are passed without a shell
	cmd := exec.CommandContext(ctx, p.binary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("playback of %s interrupted: %w", path, ctx.Err())
		}

		return fmt.Errorf("player failed on %s: %w - output: %s", path, err, strings.TrimSpace(string(output)))
	}

	return nil
}
