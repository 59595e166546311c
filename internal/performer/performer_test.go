package performer_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/performer-service/internal/core"
	"github.com/book-expert/performer-service/internal/performer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	waitFor = 3 * time.Second
	tick    = 2 * time.Millisecond
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func closerIntent() core.SongIntent {
	return core.SongIntent{
		Kind:          core.IntentSong,
		DisplayName:   "Closer by The Chainsmokers",
		Query:         "Closer by The Chainsmokers",
		Artist:        "The Chainsmokers",
		MediaURL:      "",
		MediaID:       "",
		UseMediaTitle: false,
		Transpose:     nil,
	}
}

func completesWith(path string, after int) func(int) (core.JobStatus, error) {
	return func(polls int) (core.JobStatus, error) {
		if polls < after {
			return core.JobStatus{Status: "processing", Percent: 10}, nil
		}

		return core.JobStatus{Status: core.JobStatusCompleted, Percent: 100, OutputPath: path}, nil
	}
}

func TestNew_RejectsMissingDependencies(t *testing.T) {
	t.Parallel()

	_, err := performer.New(performer.Deps{}, performer.DefaultSettings(), nil)
	require.ErrorIs(t, err, performer.ErrMissingDependency)
}

func TestHandleChat_QueuesWhileSpeakingAndDrainsInOrder(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	h := newHarness(t, fastSettings(), func(h *harness) {
		h.speaker.hold = hold
	})

	assert.Equal(t, performer.Admitted, h.performer.HandleChat(performer.ChatMessage{Username: "u0", Text: "first"}))
	require.Eventually(t, func() bool { return h.performer.Snapshot().Speaking }, waitFor, tick)

	assert.Equal(t, performer.Queued, h.performer.HandleChat(performer.ChatMessage{Username: "u1", Text: "second"}))
	assert.Equal(t, performer.Queued, h.performer.HandleChat(performer.ChatMessage{Username: "u2", Text: "third"}))
	assert.Equal(t, 2, h.performer.QueueLen())

	close(hold)

	require.Eventually(t, func() bool {
		return h.completer.RequestIndex("u2 says: third") >= 0 && isIdle(h.performer)
	}, waitFor, tick)

	first := h.completer.RequestIndex("u0 says: first")
	second := h.completer.RequestIndex("u1 says: second")
	third := h.completer.RequestIndex("u2 says: third")
	assert.Less(t, first, second)
	assert.Less(t, second, third)
	assert.Equal(t, []string{"Sure thing!", "Sure thing!", "Sure thing!"}, h.speaker.Spoken())
}

func TestRespond_AdmissionWhileSongProcessing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastSettings(), nil)
	ctx := context.Background()

	result := h.performer.RequestSong(ctx, closerIntent(), "alice")
	require.True(t, result.Success)
	require.True(t, h.performer.Snapshot().ProcessingSong)

	reply, err := h.performer.Respond(ctx, performer.Request{Text: "idle chatter", Username: performer.SystemUser, Kind: performer.KindAutonomous})
	require.NoError(t, err)
	assert.Equal(t, performer.Dropped, reply.Outcome)

	reply, err = h.performer.Respond(ctx, performer.Request{Text: "hello", Username: "bob", Kind: performer.KindChat})
	require.NoError(t, err)
	assert.Equal(t, performer.Queued, reply.Outcome)

	assert.Equal(t, performer.Queued, h.performer.HandleChat(performer.ChatMessage{Username: "carol", Text: "hi"}))

	reply, err = h.performer.Respond(ctx, performer.Request{Text: "keep them busy", Username: performer.SystemUser, Kind: performer.KindStall})
	require.NoError(t, err)
	assert.Equal(t, performer.Admitted, reply.Outcome)
	assert.GreaterOrEqual(t, h.completer.RequestIndex("keep them busy"), 0)
	assert.Equal(t, -1, h.completer.RequestIndex("idle chatter"))

	// Opening line, bob, carol.
	assert.Equal(t, 3, h.performer.ClearQueue())
	assert.Equal(t, 0, h.performer.QueueLen())
}

func TestRequestSong_ConvertsAndPlays(t *testing.T) {
	t.Parallel()

	output := outputFile(t)
	h := newHarness(t, fastSettings(), func(h *harness) {
		h.converter.progress = func(polls int) (core.JobStatus, error) {
			if polls == 1 {
				return core.JobStatus{Status: "processing", Percent: 50, Message: "Converting"}, nil
			}

			return core.JobStatus{Status: core.JobStatusCompleted, Percent: 100, OutputPath: output}, nil
		}
	})
	stop := watchExclusion(t, h.performer)

	outcome := h.performer.HandleChat(performer.ChatMessage{Username: "alice", Text: "sing Shape of You by Ed Sheeran"})
	require.Equal(t, performer.Admitted, outcome)

	require.Eventually(t, func() bool {
		return len(h.emitter.Payloads(core.EventSongFinished)) == 1 && isIdle(h.performer)
	}, waitFor, tick)
	stop()

	assert.Equal(t, core.SongFinished{Title: "Shape of You"}, h.emitter.Payloads(core.EventSongFinished)[0])
	assert.Equal(t, []string{"Shape of You by Ed Sheeran"}, h.media.Queries())
	assert.Equal(t, []string{filepath.Join(h.media.dir, "job-1-final.mp3")}, h.player.Played())

	nowPlaying := h.emitter.Payloads(core.EventPlaySong)
	require.Len(t, nowPlaying, 1)
	assert.Equal(t, core.NowPlaying{Path: "/song-cache/job-1-final.mp3", Title: "Shape of You", Direct: false}, nowPlaying[0])

	assert.GreaterOrEqual(t, h.completer.RequestIndex(`I've been asked to sing "Shape of You by Ed Sheeran"`), 0)
	assert.True(t, h.speaker.SpokeContaining(`"Shape of You" is ready`))

	var percents []int
	for _, update := range h.emitter.SongUpdates() {
		assert.NotEmpty(t, update.Title)
		assert.False(t, update.Error)
		percents = append(percents, update.Progress)
	}

	assert.Contains(t, percents, 50)
	assert.Contains(t, percents, 100)

	snap := h.performer.Snapshot()
	assert.Empty(t, snap.ProcessingTitle)
	assert.Zero(t, snap.ProcessingProgress)
	assert.Nil(t, snap.CurrentSong)
	assert.False(t, snap.StallScheduled)
}

func TestRequestSong_WaitsForSpeechBeforePlaying(t *testing.T) {
	t.Parallel()

	var ready atomic.Bool

	output := outputFile(t)
	hold := make(chan struct{})
	h := newHarness(t, fastSettings(), func(h *harness) {
		h.speaker.hold = hold
		h.converter.progress = func(int) (core.JobStatus, error) {
			if !ready.Load() {
				return core.JobStatus{Status: "processing", Percent: 10}, nil
			}

			return core.JobStatus{Status: core.JobStatusCompleted, Percent: 100, OutputPath: output}, nil
		}
	})
	stop := watchExclusion(t, h.performer)
	ctx := context.Background()

	require.True(t, h.performer.RequestSong(ctx, closerIntent(), "alice").Success)

	stallDone := make(chan struct{})

	go func() {
		defer close(stallDone)

		_, err := h.performer.Respond(ctx, performer.Request{Text: "stall for time", Username: performer.SystemUser, Kind: performer.KindStall})
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return h.performer.Snapshot().Speaking }, waitFor, tick)

	ready.Store(true)

	require.Eventually(t, func() bool {
		snap := h.performer.Snapshot()

		return snap.PendingSong == "Closer" && !snap.ProcessingSong && !snap.Singing
	}, waitFor, tick)

	assert.Equal(t, performer.Queued, h.performer.HandleChat(performer.ChatMessage{Username: "bob", Text: "is it ready?"}))
	assert.Empty(t, h.player.Played())

	close(hold)
	<-stallDone

	require.Eventually(t, func() bool {
		return len(h.emitter.Payloads(core.EventSongFinished)) == 1 && isIdle(h.performer)
	}, waitFor, tick)
	stop()

	assert.Len(t, h.player.Played(), 1)
	assert.GreaterOrEqual(t, h.completer.RequestIndex("bob says: is it ready?"), 0)
}

func TestRequestSong_RejectsSecondSong(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastSettings(), nil)
	ctx := context.Background()

	require.True(t, h.performer.RequestSong(ctx, closerIntent(), "alice").Success)

	second := closerIntent()
	second.DisplayName = "Numb by Linkin Park"
	second.Query = "Numb by Linkin Park"

	result := h.performer.RequestSong(ctx, second, "bob")
	require.ErrorIs(t, result.Err, performer.ErrSongInProgress)
	assert.False(t, result.Success)

	snap := h.performer.Snapshot()
	assert.Equal(t, "Closer", snap.ProcessingTitle)
	assert.Equal(t, []string{"Closer by The Chainsmokers"}, h.media.Queries())

	var busy bool
	for _, req := range snap.Queue {
		if strings.Contains(req.Text, `Whoa there, bob! I'm still in the middle of getting "Closer" ready`) {
			busy = true
		}
	}

	assert.True(t, busy)
}

func TestRequestSong_FallsBackToOriginalAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastSettings(), func(h *harness) {
		h.converter.submitErr = fmt.Errorf("%w: connection refused", core.ErrConversionUnavailable)
	})

	result := h.performer.RequestSong(context.Background(), closerIntent(), "alice")
	require.True(t, result.Success)
	assert.True(t, result.Direct)
	assert.True(t, strings.HasPrefix(result.JobID, "direct-"))

	require.Eventually(t, func() bool {
		return len(h.emitter.Payloads(core.EventSongFinished)) == 1 && isIdle(h.performer)
	}, waitFor, tick)

	nowPlaying := h.emitter.Payloads(core.EventPlaySong)
	require.Len(t, nowPlaying, 1)
	assert.Equal(t, core.NowPlaying{Path: "/song-cache/direct-download.webm", Title: "Closer", Direct: true}, nowPlaying[0])

	updates := h.emitter.SongUpdates()
	assert.True(t, updates[len(updates)-1].Finished)
	assert.True(t, h.speaker.SpokeContaining("voice studio is down"))
}

func TestRequestSong_FailuresResetContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		configure func(h *harness)
		apology   string
		wantErr   error
	}{
		{
			name: "search miss",
			configure: func(h *harness) {
				h.media.searchErr = errors.New("no results")
			},
			apology: `I couldn't find "Closer by The Chainsmokers"`,
			wantErr: core.ErrMediaNotFound,
		},
		{
			name: "download failure",
			configure: func(h *harness) {
				h.media.fetchErr = errors.New("video unavailable")
			},
			apology: `I had trouble downloading "Closer"`,
			wantErr: core.ErrDownloadFailed,
		},
		{
			name: "submit failure",
			configure: func(h *harness) {
				h.converter.submitErr = errMockConvert
			},
			apology: `I ran into an issue trying to prepare "Closer"`,
			wantErr: errMockConvert,
		},
		{
			name: "job failure",
			configure: func(h *harness) {
				h.converter.progress = func(int) (core.JobStatus, error) {
					return core.JobStatus{Status: core.JobStatusFailed, Error: "model crashed"}, nil
				}
			},
			apology: `I couldn't finish singing "Closer"`,
			wantErr: nil,
		},
		{
			name: "completed without output",
			configure: func(h *harness) {
				h.converter.progress = func(int) (core.JobStatus, error) {
					return core.JobStatus{Status: core.JobStatusCompleted, Percent: 100}, nil
				}
			},
			apology: `I thought "Closer" was ready, but I can't find the file`,
			wantErr: nil,
		},
		{
			name: "output deleted before playback",
			configure: func(h *harness) {
				h.converter.progress = completesWith(filepath.Join(h.media.dir, "missing.mp3"), 1)
			},
			apology: `I thought "Closer" was ready, but I can't find the file`,
			wantErr: nil,
		},
		{
			name: "playback failure",
			configure: func(h *harness) {
				h.player.err = errors.New("device busy")
				h.converter.progress = completesWith(filepath.Join(h.media.dir, "download.webm"), 1)
			},
			apology: `Something cut out while I was singing "Closer"`,
			wantErr: nil,
		},
		{
			name: "converter panics on submit",
			configure: func(h *harness) {
				h.converter.submitPanics = true
			},
			apology: `something went really wrong while I was trying to get "Closer" ready`,
			wantErr: nil,
		},
		{
			name: "converter panics while polling",
			configure: func(h *harness) {
				h.converter.progressPanic = true
			},
			apology: `something went really wrong while I was trying to get "Closer" ready`,
			wantErr: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, fastSettings(), tc.configure)

			result := h.performer.RequestSong(context.Background(), closerIntent(), "alice")
			if tc.wantErr != nil {
				require.ErrorIs(t, result.Err, tc.wantErr)
				assert.False(t, result.Success)
			}

			require.Eventually(t, func() bool {
				return h.completer.RequestIndex(tc.apology) >= 0 && isIdle(h.performer)
			}, waitFor, tick)

			snap := h.performer.Snapshot()
			assert.False(t, snap.ProcessingSong)
			assert.Empty(t, snap.ProcessingTitle)
			assert.Zero(t, snap.ProcessingProgress)
			assert.Nil(t, snap.CurrentSong)
			assert.False(t, snap.StallScheduled)

			var failed int
			for _, update := range h.emitter.SongUpdates() {
				if update.Error {
					failed++
				}
			}

			assert.Equal(t, 1, failed)

			var apologies int
			for _, request := range h.completer.Requests() {
				if strings.Contains(request, tc.apology) {
					apologies++
				}
			}

			assert.Equal(t, 1, apologies)
			assert.Empty(t, h.emitter.Payloads(core.EventSongFinished))
		})
	}
}

func TestRequestSong_ClampsTranspose(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		requested int
		want      int
	}{
		{requested: 30, want: 12},
		{requested: -30, want: -12},
		{requested: -5, want: -5},
	} {
		h := newHarness(t, fastSettings(), nil)

		intent := closerIntent()
		intent.Transpose = &tc.requested

		require.True(t, h.performer.RequestSong(context.Background(), intent, "alice").Success)

		requests := h.converter.Requests()
		require.Len(t, requests, 1)
		assert.Equal(t, tc.want, requests[0].Transpose)
		assert.Equal(t, filepath.Join(h.media.dir, "download.webm"), requests[0].AudioPath)
	}
}

func TestStall_SpeaksWhileProcessingAndStopsOnFailure(t *testing.T) {
	t.Parallel()

	var failNow atomic.Bool

	settings := fastSettings()
	settings.FirstStall = 10 * time.Millisecond
	settings.StallMin = 10 * time.Millisecond
	settings.StallMax = 20 * time.Millisecond

	h := newHarness(t, settings, func(h *harness) {
		h.converter.progress = func(int) (core.JobStatus, error) {
			if failNow.Load() {
				return core.JobStatus{Status: core.JobStatusFailed}, nil
			}

			return core.JobStatus{Status: "processing", Percent: 10}, nil
		}
	})

	require.True(t, h.performer.RequestSong(context.Background(), closerIntent(), "alice").Success)

	countStalls := func() int {
		var stalls int
		for _, request := range h.completer.Requests() {
			if strings.Contains(request, "Hype up chat") {
				stalls++
			}
		}

		return stalls
	}

	require.Eventually(t, func() bool { return countStalls() >= 2 }, waitFor, tick)

	failNow.Store(true)

	require.Eventually(t, func() bool {
		return !h.performer.Snapshot().ProcessingSong && !h.performer.Snapshot().StallScheduled
	}, waitFor, tick)

	require.Eventually(t, func() bool { return isIdle(h.performer) }, waitFor, tick)

	settled := countStalls()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, settled, countStalls())
}

func TestAutoTalk_SpeaksWhenIdle(t *testing.T) {
	t.Parallel()

	settings := fastSettings()
	settings.AutoTalk = performer.AutoTalkSettings{
		Enabled:       true,
		BaseInterval:  10 * time.Millisecond,
		Variance:      5 * time.Millisecond,
		IdleThreshold: 0,
	}

	h := newHarness(t, settings, nil)
	h.performer.Start()

	require.Eventually(t, func() bool {
		return h.completer.RequestIndex("start talking on her own") >= 0
	}, waitFor, tick)

	index := h.completer.RequestIndex("start talking on her own")
	assert.Contains(t, h.completer.Prompts()[index], "talk on your own")
}

func TestAutoTalk_StaysQuietWhileChatIsActive(t *testing.T) {
	t.Parallel()

	settings := fastSettings()
	settings.AutoTalk = performer.AutoTalkSettings{
		Enabled:       true,
		BaseInterval:  5 * time.Millisecond,
		Variance:      0,
		IdleThreshold: time.Hour,
	}

	h := newHarness(t, settings, nil)

	require.Equal(t, performer.Admitted, h.performer.HandleChat(performer.ChatMessage{Username: "alice", Text: "hi"}))
	require.Eventually(t, func() bool { return isIdle(h.performer) }, waitFor, tick)

	h.performer.Start()
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, -1, h.completer.RequestIndex("start talking on her own"))

	h.performer.SetAutoTalk(false)
	assert.False(t, h.performer.Snapshot().AutoTalkEnabled)
}

func TestHandleChat_Commands(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastSettings(), nil)

	send := func(msg performer.ChatMessage) {
		t.Helper()

		require.Equal(t, performer.Admitted, h.performer.HandleChat(msg))
		require.Eventually(t, func() bool { return isIdle(h.performer) }, waitFor, tick)
	}

	send(performer.ChatMessage{Username: "alice", Text: "!hello"})
	assert.True(t, h.speaker.SpokeContaining("Hello, alice!"))

	send(performer.ChatMessage{Username: "bob", Text: "!clearqueue"})
	assert.True(t, h.speaker.SpokeContaining("Sorry bob, only moderators can clear the message queue."))

	send(performer.ChatMessage{Username: "mod", Text: "!clearqueue", Moderator: true})
	assert.True(t, h.speaker.SpokeContaining("Message queue cleared. 0 messages removed."))

	send(performer.ChatMessage{Username: "bob", Text: "!autotalk on"})
	assert.True(t, h.speaker.SpokeContaining("Sorry bob, only moderators can control the auto-talk feature."))
	assert.False(t, h.performer.Snapshot().AutoTalkEnabled)

	send(performer.ChatMessage{Username: "Streamer", Text: "!autotalk on"})
	assert.True(t, h.performer.Snapshot().AutoTalkEnabled)
	assert.True(t, h.speaker.SpokeContaining("Auto-talk feature enabled."))

	send(performer.ChatMessage{Username: "mod", Text: "!autotalk", Moderator: true})
	assert.False(t, h.performer.Snapshot().AutoTalkEnabled)
	assert.True(t, h.speaker.SpokeContaining("Auto-talk feature disabled."))

	assert.Empty(t, h.completer.Requests())

	send(performer.ChatMessage{Username: "alice", Text: "!dance"})
	assert.GreaterOrEqual(t, h.completer.RequestIndex("alice says: !dance"), 0)
}

func TestRespond_PlaysSoundDirectivesWithinLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastSettings(), func(h *harness) {
		h.completer.reply = func(string) (string, error) {
			return `Boom @sound("vineboom", "20") @sound("missing")`, nil
		}
	})

	reply, err := h.performer.Respond(context.Background(), performer.Request{Text: "do it", Username: "alice", Kind: performer.KindChat})
	require.NoError(t, err)
	assert.Equal(t, "Boom", reply.Text)
	assert.Len(t, h.player.Played(), 10)
	assert.Len(t, h.emitter.Payloads(core.EventSoundEffect), 10)
	assert.Equal(t, []string{"Boom"}, h.speaker.Spoken())
	assert.Contains(t, h.completer.Prompts()[0], "vineboom")
}

func TestRespond_SingDirectiveStartsSong(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	h := newHarness(t, fastSettings(), func(h *harness) {
		h.completer.reply = func(string) (string, error) {
			if calls.Add(1) == 1 {
				return `Fine, I'll sing. @sing("Closer", "The Chainsmokers")`, nil
			}

			return "ok", nil
		}
	})

	reply, err := h.performer.Respond(context.Background(), performer.Request{Text: "sing something", Username: "alice", Kind: performer.KindChat})
	require.NoError(t, err)
	assert.Equal(t, "Fine, I'll sing.", reply.Text)

	require.Eventually(t, func() bool {
		return len(h.media.Queries()) == 1 && h.performer.Snapshot().ProcessingSong
	}, waitFor, tick)
	assert.Equal(t, "Closer by The Chainsmokers", h.media.Queries()[0])
}

func TestRespond_FirstSingDirectiveWins(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	h := newHarness(t, fastSettings(), func(h *harness) {
		h.completer.reply = func(string) (string, error) {
			if calls.Add(1) == 1 {
				return `Fine. @sing("Closer", "X") @sing("Other", "Y")`, nil
			}

			return "ok", nil
		}
	})

	reply, err := h.performer.Respond(context.Background(), performer.Request{Text: "sing two", Username: "alice", Kind: performer.KindChat})
	require.NoError(t, err)
	assert.Equal(t, "Fine.", reply.Text)

	require.Eventually(t, func() bool {
		return len(h.media.Queries()) == 1 && h.performer.Snapshot().ProcessingSong
	}, waitFor, tick)
	assert.Never(t, func() bool { return len(h.media.Queries()) > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, []string{"Closer by X"}, h.media.Queries())
}

func TestHandleChat_SongCommandRunsPipeline(t *testing.T) {
	t.Parallel()

	output := outputFile(t)
	h := newHarness(t, fastSettings(), func(h *harness) {
		h.converter.progress = completesWith(output, 2)
	})

	assert.Equal(t, performer.Admitted, h.performer.HandleChat(performer.ChatMessage{Username: "alice", Text: "!sing Closer by The Chainsmokers"}))

	require.Eventually(t, func() bool {
		return len(h.emitter.Payloads(core.EventSongFinished)) == 1 && isIdle(h.performer)
	}, waitFor, tick)

	assert.GreaterOrEqual(t, h.completer.RequestIndex("I've been asked to sing"), 0)
	assert.Equal(t, []string{"Closer by The Chainsmokers"}, h.media.Queries())
	assert.Len(t, h.converter.Requests(), 1)
	assert.Len(t, h.player.Played(), 1)
	assert.Equal(t, -1, h.completer.RequestIndex("alice says: !sing"))
}

func TestHandleChat_SongCommandHoldsFloorUntilProcessing(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	h := newHarness(t, fastSettings(), func(h *harness) {
		h.speaker.hold = hold
	})

	assert.Equal(t, performer.Admitted, h.performer.HandleChat(performer.ChatMessage{Username: "alice", Text: "!sing Closer by The Chainsmokers"}))
	require.Eventually(t, func() bool { return h.performer.Snapshot().Speaking }, waitFor, tick)

	// The acknowledgement is still being spoken.
	assert.Equal(t, performer.Queued, h.performer.HandleChat(performer.ChatMessage{Username: "bob", Text: "hi"}))

	var gaps atomic.Int32

	done := make(chan struct{})
	go func() {
		defer close(done)

		deadline := time.Now().Add(waitFor)
		for time.Now().Before(deadline) {
			snap := h.performer.Snapshot()
			if snap.ProcessingSong {
				return
			}

			if !snap.Speaking {
				gaps.Add(1)
			}
		}
	}()

	close(hold)
	<-done

	assert.Zero(t, gaps.Load())
	require.True(t, h.performer.Snapshot().ProcessingSong)
	assert.Equal(t, -1, h.completer.RequestIndex("bob says: hi"))
}

func TestDrainNext_SkipsSongClassification(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	h := newHarness(t, fastSettings(), func(h *harness) {
		h.speaker.hold = hold
	})

	assert.Equal(t, performer.Admitted, h.performer.HandleChat(performer.ChatMessage{Username: "alice", Text: "hi"}))
	require.Eventually(t, func() bool { return h.performer.Snapshot().Speaking }, waitFor, tick)

	assert.Equal(t, performer.Queued, h.performer.HandleChat(performer.ChatMessage{Username: "bob", Text: "!sing Closer"}))

	close(hold)

	require.Eventually(t, func() bool {
		return h.completer.RequestIndex("bob says: !sing Closer") >= 0 && isIdle(h.performer)
	}, waitFor, tick)

	assert.Empty(t, h.media.Queries())
	assert.False(t, h.performer.Snapshot().ProcessingSong)
}

func TestPlaySound(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastSettings(), nil)

	err := h.performer.PlaySound("kazoo", 1)
	require.ErrorIs(t, err, performer.ErrUnknownSound)

	require.NoError(t, h.performer.PlaySound("vineboom", 3))
	require.Eventually(t, func() bool { return len(h.player.Played()) == 3 }, waitFor, tick)

	require.NoError(t, h.performer.PlaySound("vineboom", 50))
	require.Eventually(t, func() bool { return len(h.player.Played()) == 13 }, waitFor, tick)
	assert.Len(t, h.emitter.Payloads(core.EventSoundEffect), 13)
	assert.Empty(t, h.speaker.Spoken())
}

func TestRespond_SpeechRetries(t *testing.T) {
	t.Parallel()

	t.Run("recovers", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, fastSettings(), func(h *harness) {
			h.speaker.failTimes = 2
		})

		_, err := h.performer.Respond(context.Background(), performer.Request{Text: "hi", Username: "alice", Kind: performer.KindChat})
		require.NoError(t, err)
		assert.Equal(t, 3, h.speaker.Calls())
		assert.Equal(t, []string{"Sure thing!"}, h.speaker.Spoken())
		assert.NotContains(t, h.store.Kinds(), core.RecordError)
	})

	t.Run("gives up", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, fastSettings(), func(h *harness) {
			h.speaker.failTimes = -1
		})

		reply, err := h.performer.Respond(context.Background(), performer.Request{Text: "hi", Username: "alice", Kind: performer.KindChat})
		require.NoError(t, err)
		assert.Equal(t, "Sure thing!", reply.Text)
		assert.Equal(t, 3, h.speaker.Calls())
		assert.Contains(t, h.store.Kinds(), core.RecordError)
		assert.Contains(t, h.performer.Snapshot().Subtitle, "Audio playback error")
		assert.False(t, h.performer.Snapshot().Speaking)
	})
}

func TestRespond_CompletionFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   func(string) (string, error)
		wantErr error
	}{
		{
			name:    "stream error",
			reply:   func(string) (string, error) { return "", errors.New("connection reset") },
			wantErr: core.ErrStreamError,
		},
		{
			name:    "empty completion",
			reply:   func(string) (string, error) { return "   ", nil },
			wantErr: core.ErrEmptyCompletion,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, fastSettings(), func(h *harness) {
				h.completer.reply = tc.reply
			})

			_, err := h.performer.Respond(context.Background(), performer.Request{Text: "hi", Username: "alice", Kind: performer.KindChat})
			require.ErrorIs(t, err, tc.wantErr)
			assert.True(t, h.speaker.SpokeContaining("Please tell streamer there's a problem with my AI"))
			assert.Contains(t, h.store.Kinds(), core.RecordError)
			assert.False(t, h.performer.Snapshot().Speaking)
		})
	}
}

func TestRespond_KeepsWindowBounded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastSettings(), nil)

	for i := range 12 {
		_, err := h.performer.Respond(context.Background(), performer.Request{Text: fmt.Sprintf("message %d", i), Username: "alice", Kind: performer.KindChat})
		require.NoError(t, err)
	}

	window := h.performer.Snapshot().Window
	require.Len(t, window, 10)
	assert.Equal(t, core.Turn{Role: core.RoleAssistant, Content: "Sure thing!"}, window[len(window)-1])
	assert.Equal(t, "alice says: message 11", window[len(window)-2].Content)
}

func TestRespond_PersonalizesWithHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastSettings(), func(h *harness) {
		h.store.records = []core.Record{
			{Kind: core.RecordUser, Username: "alice", Content: "I love cats", CreatedAt: time.Now()},
			{Kind: core.RecordUser, Username: "alice", Content: "what's up", CreatedAt: time.Now()},
		}
	})
	ctx := context.Background()

	_, err := h.performer.Respond(ctx, performer.Request{Text: "remember me?", Username: "alice", Kind: performer.KindChat})
	require.NoError(t, err)

	_, err = h.performer.Respond(ctx, performer.Request{Text: "status", Username: performer.SystemUser, Kind: performer.KindSystem})
	require.NoError(t, err)

	prompts := h.completer.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "USER CONTEXT for alice")
	assert.Contains(t, prompts[0], "chatted with you 3 times")
	assert.Contains(t, prompts[0], `"I love cats"`)
	assert.NotContains(t, prompts[1], "USER CONTEXT")
}

func TestRespond_StoreFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastSettings(), func(h *harness) {
		h.store.appendFail = true
	})

	reply, err := h.performer.Respond(context.Background(), performer.Request{Text: "hi", Username: "alice", Kind: performer.KindChat})
	require.NoError(t, err)
	assert.Equal(t, "Sure thing!", reply.Text)
	assert.Equal(t, []string{"Sure thing!"}, h.speaker.Spoken())
}

func TestReplayEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastSettings(), nil)

	idle := h.performer.ReplayEvents()
	require.Len(t, idle, 1)
	assert.Equal(t, core.EventSystemMessage, idle[0].Name)

	require.True(t, h.performer.RequestSong(context.Background(), closerIntent(), "alice").Success)

	var processing *core.SongUpdate

	for _, event := range h.performer.ReplayEvents() {
		if event.Name == core.EventSongUpdate {
			update := event.Payload.(core.SongUpdate)
			processing = &update
		}
	}

	require.NotNil(t, processing)
	assert.Equal(t, "Closer", processing.Title)
}
