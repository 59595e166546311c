package performer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/book-expert/performer-service/internal/core"
	"github.com/book-expert/performer-service/internal/metrics"
)

// ErrSongInProgress is returned when a song request arrives while another song is active.
var ErrSongInProgress = errors.New("another song is in progress")

var errSongPanic = errors.New("unexpected song pipeline fault")

const (
	fallbackTitle   = "Unknown Song"
	defaultSongExt  = ".mp3"
	directPrefix    = "direct-"
	finalSongSuffix = "-final"
)

// Apologies spoken when a stage fails.
const (
	notFoundFmt      = `I couldn't find "%s" on YouTube, %s. Maybe try a different song or check the spelling?`
	downloadFmt      = `I had trouble downloading "%s", %s. The download failed. Maybe the video is unavailable?`
	conversionFmt    = `I ran into an issue trying to prepare "%s" for singing, %s. %v`
	jobFailedFmt     = `Oh no... I couldn't finish singing "%s". Something went wrong. Maybe we can try another song?`
	outputMissingFmt = `I thought "%s" was ready, but I can't find the file... How strange.`
	cacheFailedFmt   = `I got "%s" ready but couldn't put it on stage. Sorry, %s!`
	playbackFmt      = `Something cut out while I was singing "%s". Sorry about that!`
	unexpectedFmt    = `Oh dear, something went really wrong while I was trying to get "%s" ready, %s. I'm not sure what happened.`
)

// SongResult reports how far a song request got before it was handed off.
type SongResult struct {
	Success bool
	JobID   string
	Title   string
	Direct  bool
	Err     error
}

type songFailure struct {
	title    string
	username string
	apology  string
	status   string
	subtitle string
	err      error
}

// RequestSong runs the song pipeline: search, download, convert, then either
// hand the job to a poller or play the unconverted asset when the conversion
// service is unreachable. Only one song can be active at a time.
func (p *Performer) RequestSong(ctx context.Context, intent core.SongIntent, username string) SongResult {
	return p.requestSong(ctx, intent, username, nil)
}

// requestSong calls claimed, when set, as soon as the request is either
// rejected or marked as processing.
func (p *Performer) requestSong(ctx context.Context, intent core.SongIntent, username string, claimed func()) (result SongResult) {
	title := songTitle(intent)

	p.mu.Lock()
	if p.songBusyLocked() {
		line := busyLine(username, p.processingTitle, p.singing)
		p.mu.Unlock()

		if claimed != nil {
			claimed()
		}

		return p.rejectSong(ctx, title, line)
	}

	p.processingSong = true
	p.songStartedAt = time.Now()
	p.processingTitle = title
	p.processingProgress = 0
	p.mu.Unlock()

	if claimed != nil {
		claimed()
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		err := fmt.Errorf("%w: %v", errSongPanic, r)
		p.failSong(ctx, songFailure{
			title:    title,
			username: username,
			apology:  fmt.Sprintf(unexpectedFmt, title, username),
			status:   "Error: " + err.Error(),
			subtitle: "Error processing song: " + title,
			err:      err,
		})

		result = SongResult{Success: false, JobID: "", Title: title, Direct: false, Err: err}
	}()

	p.log.Info("Processing song request %q from %s", title, username)

	// The opening line queues behind the song that is now processing.
	_, err := p.Respond(ctx, Request{Text: openingLine(username, title), Username: SystemUser, Kind: KindSystem})
	if err != nil {
		p.log.Warn("Opening line for %q failed: %v", title, err)
	}

	p.emitSongUpdate(core.SongUpdate{Title: title, Status: fmt.Sprintf("Searching for %q...", title)})
	p.setSubtitle(fmt.Sprintf("Preparing to sing %q...", title))

	media, err := p.locate(ctx, intent, title)
	if err != nil {
		return p.failedResult(ctx, songFailure{
			title:    title,
			username: username,
			apology:  fmt.Sprintf(notFoundFmt, intent.Query, username),
			status:   fmt.Sprintf("Couldn't find %q", intent.Query),
			subtitle: "Song not found: " + intent.Query,
			err:      err,
		})
	}

	title = media.Title
	p.mu.Lock()
	p.processingTitle = title
	p.mu.Unlock()

	p.setSubtitle(fmt.Sprintf("Downloading %q...", title))

	audioPath, err := p.deps.Fetcher.Fetch(ctx, media)
	if err != nil {
		if !errors.Is(err, core.ErrDownloadFailed) {
			err = fmt.Errorf("%w: %w", core.ErrDownloadFailed, err)
		}

		return p.failedResult(ctx, songFailure{
			title:    title,
			username: username,
			apology:  fmt.Sprintf(downloadFmt, title, username),
			status:   "Failed to download: " + err.Error(),
			subtitle: "Download failed: " + title,
			err:      err,
		})
	}

	p.setSubtitle(fmt.Sprintf("Processing %q with AI voice...", title))
	p.emitSongUpdate(core.SongUpdate{Title: title, Status: fmt.Sprintf("Processing %q with AI voice...", title), Progress: 30})

	job, err := p.deps.Converter.Submit(ctx, core.ConversionRequest{
		AudioPath:    audioPath,
		VoiceModelID: p.settings.VoiceModelID,
		Transpose:    p.transpose(intent),
	})

	switch {
	case errors.Is(err, core.ErrConversionUnavailable):
		p.log.Warn("Conversion unavailable, playing original audio for %q: %v", title, err)

		return p.playDirect(ctx, audioPath, title, username)
	case err != nil:
		removeErr := os.Remove(audioPath)
		if removeErr != nil {
			p.log.Warn("Failed to remove download '%s': %v", audioPath, removeErr)
		}

		return p.failedResult(ctx, songFailure{
			title:    title,
			username: username,
			apology:  fmt.Sprintf(conversionFmt, title, username, err),
			status:   "Conversion failed: " + err.Error(),
			subtitle: "Conversion failed: " + title,
			err:      err,
		})
	}

	p.setSubtitle(fmt.Sprintf("Starting conversion of %q...", title))
	p.emitSongUpdate(core.SongUpdate{Title: title, Status: "Starting conversion...", Progress: 40})

	p.mu.Lock()
	p.armStallLocked(p.settings.FirstStall)
	p.mu.Unlock()

	p.goTracked(func(ctx context.Context) {
		p.pollJob(ctx, job.ID, title, username)
	})

	return SongResult{Success: true, JobID: job.ID, Title: title, Direct: false, Err: nil}
}

func songTitle(intent core.SongIntent) string {
	switch {
	case intent.DisplayName != "":
		return intent.DisplayName
	case intent.Query != "":
		return intent.Query
	default:
		return fallbackTitle
	}
}

func (p *Performer) transpose(intent core.SongIntent) int {
	if intent.Transpose == nil {
		return 0
	}

	limit := p.settings.TransposeLimit

	return min(max(*intent.Transpose, -limit), limit)
}

func (p *Performer) rejectSong(ctx context.Context, title, line string) SongResult {
	p.log.Warn("Rejected song request %q while another song is active", title)
	metrics.Songs.WithLabelValues("rejected").Inc()
	p.setSubtitle("Song request rejected")

	_, err := p.Respond(ctx, Request{Text: line, Username: SystemUser, Kind: KindSystem})
	if err != nil {
		p.log.Warn("Rejection line failed: %v", err)
	}

	return SongResult{Success: false, JobID: "", Title: title, Direct: false, Err: ErrSongInProgress}
}

// locate resolves the media for a request, either from its explicit locator or by search.
func (p *Performer) locate(ctx context.Context, intent core.SongIntent, title string) (core.Media, error) {
	if intent.Kind == core.IntentDirectMedia && intent.MediaURL != "" {
		media := core.Media{Title: title, URL: intent.MediaURL}

		if intent.UseMediaTitle {
			resolved, err := p.deps.Fetcher.ResolveTitle(ctx, intent.MediaURL)
			if err != nil {
				p.log.Warn("Keeping placeholder title for %s: %v", intent.MediaURL, err)
			} else if resolved != "" {
				media.Title = resolved
			}
		}

		p.emitSongUpdate(core.SongUpdate{Title: media.Title, Status: fmt.Sprintf("Downloading %q...", media.Title), Progress: 10})

		return media, nil
	}

	query := intent.Query
	if query == "" {
		query = title
	}

	media, err := p.deps.Searcher.Search(ctx, query)
	if err != nil {
		if !errors.Is(err, core.ErrMediaNotFound) {
			err = fmt.Errorf("%w: %w", core.ErrMediaNotFound, err)
		}

		return core.Media{}, err
	}

	if media.Title == "" {
		media.Title = title
	}

	p.emitSongUpdate(core.SongUpdate{Title: media.Title, Status: fmt.Sprintf("Found %q. Downloading...", media.Title), Progress: 10})

	return media, nil
}

// playDirect caches the unconverted asset and routes it to playback.
func (p *Performer) playDirect(ctx context.Context, audioPath, title, username string) SongResult {
	cached, err := p.deps.Cache.Store(ctx, audioPath, directPrefix+filepath.Base(audioPath))
	if err != nil {
		return p.failedResult(ctx, songFailure{
			title:    title,
			username: username,
			apology:  fmt.Sprintf(cacheFailedFmt, title, username),
			status:   "Failed to cache audio: " + err.Error(),
			subtitle: "Playback failed: " + title,
			err:      err,
		})
	}

	jobID := directPrefix + strconv.FormatInt(time.Now().UnixMilli(), 10)

	p.setSubtitle(fmt.Sprintf("Playing original: %q", title))
	p.emitSongUpdate(core.SongUpdate{
		Title:    title,
		Status:   fmt.Sprintf("Conversion unavailable. Playing original audio for %q", title),
		Progress: 100,
	})

	p.songReady(ctx, readySong{
		jobID:      jobID,
		title:      title,
		username:   username,
		outputPath: cached.Path,
		direct:     true,
		cached:     &cached,
	})

	return SongResult{Success: true, JobID: jobID, Title: title, Direct: true, Err: nil}
}

// pollJob tracks a conversion job until it completes or fails.
func (p *Performer) pollJob(ctx context.Context, jobID, title, username string) {
	defer p.recoverSong(ctx, title, username)

	lastEmitted := -1
	lastNarrated := 0
	narrations := 0

	for {
		status, err := p.deps.Converter.Progress(ctx, jobID)
		if ctx.Err() != nil {
			return
		}

		if err != nil || status.Failed() {
			p.failSong(ctx, songFailure{
				title:    title,
				username: username,
				apology:  fmt.Sprintf(jobFailedFmt, title),
				status:   fmt.Sprintf("Conversion of %q failed", title),
				subtitle: "Conversion failed: " + title,
				err:      jobError(status, err),
			})

			return
		}

		percent := min(max(status.Percent, 0), 100)

		p.mu.Lock()
		if percent > p.processingProgress {
			p.processingProgress = percent
		}
		p.mu.Unlock()

		if percent > lastEmitted {
			lastEmitted = percent
			message := status.Message
			if message == "" {
				message = fmt.Sprintf("Processing %q - %d%%", title, percent)
			}

			p.emitSongUpdate(core.SongUpdate{Title: title, Status: message, Progress: percent})
		}

		if percent >= lastNarrated+p.settings.NarrationStep && percent < 100 && narrations < p.settings.NarrationLimit {
			narrations++
			lastNarrated = percent
			p.narrate(progressLine(title, percent))
		}

		if status.Completed() {
			if status.OutputPath == "" {
				p.failSong(ctx, songFailure{
					title:    title,
					username: username,
					apology:  fmt.Sprintf(outputMissingFmt, title),
					status:   "Finished without an output file",
					subtitle: "Conversion failed: " + title,
					err:      core.ErrOutputMissing,
				})

				return
			}

			p.log.Info("Song %q (job %s) is ready for playback", title, jobID)
			p.songReady(ctx, readySong{
				jobID:      jobID,
				title:      title,
				username:   username,
				outputPath: status.OutputPath,
				direct:     false,
				cached:     nil,
			})

			return
		}

		if !sleep(ctx, p.settings.PollInterval) {
			return
		}
	}
}

func jobError(status core.JobStatus, err error) error {
	if err != nil {
		if errors.Is(err, core.ErrConversionJobFailed) {
			return err
		}

		return fmt.Errorf("%w: %w", core.ErrConversionJobFailed, err)
	}

	if status.Error != "" {
		return fmt.Errorf("%w: %s", core.ErrConversionJobFailed, status.Error)
	}

	return core.ErrConversionJobFailed
}

// narrate speaks a progress line without holding up the poller.
func (p *Performer) narrate(line string) {
	p.goTracked(func(ctx context.Context) {
		_, err := p.Respond(ctx, Request{Text: line, Username: SystemUser, Kind: KindStall})
		if err != nil {
			p.log.Warn("Progress narration failed: %v", err)
		}
	})
}

// songReady plays a finished song now, or parks it as pending while the performer speaks.
func (p *Performer) songReady(ctx context.Context, ready readySong) {
	p.mu.Lock()
	p.stallTimer.cancel()
	p.stallTimer = nil

	if p.voices > 0 {
		p.pendingSong = &ready
		p.processingSong = false
		p.mu.Unlock()

		p.log.Info("Currently speaking; %q will play when speech ends", ready.title)

		return
	}

	p.beginPlaybackLocked()
	p.mu.Unlock()

	p.playSong(ctx, ready)
}

// handOff plays a pending song once the last voice has gone quiet.
func (p *Performer) handOff(ctx context.Context, pending *readySong) {
	p.mu.Lock()
	if p.pendingSong != pending || p.voices > 0 {
		p.mu.Unlock()

		return
	}

	p.beginPlaybackLocked()
	p.mu.Unlock()

	p.playSong(ctx, *pending)
}

func (p *Performer) beginPlaybackLocked() {
	p.stallTimer.cancel()
	p.stallTimer = nil
	p.pendingSong = nil
	p.processingSong = false
	p.singing = true
}

// playSong performs a ready song and restores the context afterwards.
func (p *Performer) playSong(ctx context.Context, ready readySong) {
	defer p.recoverSong(ctx, ready.title, ready.username)

	cached, ok := p.cacheSong(ctx, ready)
	if !ok {
		return
	}

	p.mu.Lock()
	p.currentSong = &CurrentSong{Title: ready.title, Path: cached.WebPath}
	p.mu.Unlock()

	p.emit(core.EventPlaySong, core.NowPlaying{Path: cached.WebPath, Title: ready.title, Direct: ready.direct})
	p.setSubtitle(fmt.Sprintf("Now playing: %q", ready.title))

	p.say(ctx, prePlayLine(ready.title, ready.direct))

	err := p.deps.Player.Play(ctx, cached.Path)
	if err != nil {
		p.failSong(ctx, songFailure{
			title:    ready.title,
			username: ready.username,
			apology:  fmt.Sprintf(playbackFmt, ready.title),
			status:   "Playback failed: " + err.Error(),
			subtitle: "Playback failed: " + ready.title,
			err:      err,
		})

		return
	}

	p.log.Info("Finished playing %q", ready.title)
	p.say(ctx, postPlayLine(ready.title, ready.direct))

	p.mu.Lock()
	p.singing = false
	p.processingSong = false
	p.currentSong = nil
	p.processingTitle = ""
	p.processingProgress = 0
	p.mu.Unlock()

	if ready.direct {
		p.emitSongUpdate(core.SongUpdate{Title: ready.title, Status: "Finished (original audio)", Progress: 100, Finished: true})
	}

	p.emit(core.EventSongFinished, core.SongFinished{Title: ready.title})
	metrics.Songs.WithLabelValues("finished").Inc()
	p.scheduleDrain(p.settings.RecoveryDrain)
}

// cacheSong copies a converted output into the song cache under a job-scoped name.
func (p *Performer) cacheSong(ctx context.Context, ready readySong) (core.CachedFile, bool) {
	if ready.cached != nil {
		return *ready.cached, true
	}

	info, err := os.Stat(ready.outputPath)
	if err != nil || info.IsDir() {
		p.failSong(ctx, songFailure{
			title:    ready.title,
			username: ready.username,
			apology:  fmt.Sprintf(outputMissingFmt, ready.title),
			status:   "Output file not found",
			subtitle: "Output missing: " + ready.title,
			err:      fmt.Errorf("%w: %s", core.ErrOutputMissing, ready.outputPath),
		})

		return core.CachedFile{}, false
	}

	ext := filepath.Ext(ready.outputPath)
	if ext == "" {
		ext = defaultSongExt
	}

	cached, err := p.deps.Cache.Store(ctx, ready.outputPath, ready.jobID+finalSongSuffix+ext)
	if err != nil {
		p.failSong(ctx, songFailure{
			title:    ready.title,
			username: ready.username,
			apology:  fmt.Sprintf(cacheFailedFmt, ready.title, ready.username),
			status:   "Failed to cache song: " + err.Error(),
			subtitle: "Playback failed: " + ready.title,
			err:      err,
		})

		return core.CachedFile{}, false
	}

	return cached, true
}

func (p *Performer) failedResult(ctx context.Context, failure songFailure) SongResult {
	p.failSong(ctx, failure)

	return SongResult{Success: false, JobID: "", Title: failure.title, Direct: false, Err: failure.err}
}

// failSong is the single failure exit of the song pipeline: reset, report, apologize, drain.
func (p *Performer) failSong(ctx context.Context, failure songFailure) {
	p.mu.Lock()
	p.processingSong = false
	p.singing = false
	p.processingTitle = ""
	p.processingProgress = 0
	p.currentSong = nil
	p.stallTimer.cancel()
	p.stallTimer = nil
	p.mu.Unlock()

	metrics.Songs.WithLabelValues("failed").Inc()
	p.log.Error("Song %q for %s failed: %v", failure.title, failure.username, failure.err)

	p.setSubtitle(failure.subtitle)
	p.emitSongUpdate(core.SongUpdate{Title: failure.title, Status: failure.status, Progress: 0, Error: true})

	_, err := p.Respond(ctx, Request{Text: failure.apology, Username: SystemUser, Kind: KindSystem})
	if err != nil {
		p.log.Warn("Apology for %q failed: %v", failure.title, err)
	}

	p.scheduleDrain(p.settings.RecoveryDrain)
}

// recoverSong turns a panic in a song goroutine into an ordinary failure.
func (p *Performer) recoverSong(ctx context.Context, title, username string) {
	r := recover()
	if r == nil {
		return
	}

	err := fmt.Errorf("%w: %v", errSongPanic, r)
	p.failSong(ctx, songFailure{
		title:    title,
		username: username,
		apology:  fmt.Sprintf(unexpectedFmt, title, username),
		status:   "Error: " + err.Error(),
		subtitle: "Error processing song: " + title,
		err:      err,
	})
}

func (p *Performer) emitSongUpdate(update core.SongUpdate) {
	p.emit(core.EventSongUpdate, update)
}
