// Package media owns local capture and feeds it into live sessions.
package media

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Publisher receives every newly composed local stream.
type Publisher interface {
	Publish(ctx context.Context, stream *core.LocalStream)
}

// State is a snapshot of local media for the UI layer.
type State struct {
	AudioEnabled  bool     `json:"audio_enabled"`
	VideoEnabled  bool     `json:"video_enabled"`
	ScreenSharing bool     `json:"screen_sharing"`
	TrackIDs      []string `json:"track_ids"`
}

// Controller is the only owner of capture tracks. Sessions get references
// through published streams and never stop them.
type Controller struct {
	device      core.CaptureDevice
	constraints core.Constraints

	mu           sync.Mutex
	publisher    Publisher
	executor     func(func(context.Context) error)
	mic          core.LocalTrack
	camera       core.LocalTrack
	screen       core.LocalTrack
	stream       *core.LocalStream
	audioEnabled bool
	videoEnabled bool
	stopped      map[string]struct{}
}

func NewController(device core.CaptureDevice, constraints core.Constraints) *Controller {
	return &Controller{
		device:       device,
		constraints:  constraints,
		audioEnabled: true,
		videoEnabled: true,
		stopped:      make(map[string]struct{}),
	}
}

// SetPublisher wires the consumer of stream-ready events.
func (c *Controller) SetPublisher(p Publisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publisher = p
}

// SetExecutor sets where work triggered by device events runs. Without one
// it runs on the device's callback goroutine.
func (c *Controller) SetExecutor(exec func(func(context.Context) error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executor = exec
}

// Acquire opens camera and microphone, replacing any previous capture.
func (c *Controller) Acquire(ctx context.Context, constraints core.Constraints) error {
	captured, err := c.device.UserMedia(ctx, constraints)
	if err != nil {
		return deviceError("user", err)
	}

	c.mu.Lock()
	c.stopLocked(c.mic)
	c.stopLocked(c.camera)
	c.stopLocked(c.screen)
	c.mic, c.camera, c.screen = nil, nil, nil
	c.constraints = constraints
	for _, t := range captured.Tracks {
		switch t.Kind() {
		case domain.KindAudio:
			if c.mic == nil {
				c.mic = t
				t.SetEnabled(c.audioEnabled)
				continue
			}
		case domain.KindVideo:
			if c.camera == nil {
				c.camera = t
				t.SetEnabled(c.videoEnabled)
				continue
			}
		}
		// Extra tracks are not used.
		c.stopLocked(t)
	}
	stream := c.composeLocked(captured.ID)
	c.mu.Unlock()

	log.Info().Str("module", "media").Strs("tracks", stream.TrackIDs()).Msg("local media acquired")
	c.publish(ctx, stream)
	return nil
}

// ToggleMute flips the microphone's enabled flag and returns the new value.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioEnabled = !c.audioEnabled
	if c.mic != nil {
		c.mic.SetEnabled(c.audioEnabled)
	}
	log.Info().Str("module", "media").Bool("audio", c.audioEnabled).Msg("mute toggled")
	return c.audioEnabled
}

// ToggleCamera flips the outgoing video's enabled flag and returns the new value.
func (c *Controller) ToggleCamera() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoEnabled = !c.videoEnabled
	if v := c.videoLocked(); v != nil {
		v.SetEnabled(c.videoEnabled)
	}
	log.Info().Str("module", "media").Bool("video", c.videoEnabled).Msg("camera toggled")
	return c.videoEnabled
}

// StartScreenShare replaces the camera with a display capture.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	c.mu.Lock()
	sharing := c.screen != nil
	c.mu.Unlock()
	if sharing {
		return domain.ErrAlreadySharing
	}

	captured, err := c.device.DisplayMedia(ctx)
	if err != nil {
		return deviceError("display", err)
	}
	video := captured.TracksOf(domain.KindVideo)
	if len(video) == 0 {
		for _, t := range captured.Tracks {
			t.Stop()
		}
		return &domain.DeviceError{Kind: "display", Err: domain.ErrDeviceUnavailable}
	}

	c.mu.Lock()
	if c.screen != nil {
		c.mu.Unlock()
		for _, t := range captured.Tracks {
			t.Stop()
		}
		return domain.ErrAlreadySharing
	}
	for _, t := range captured.Tracks {
		if t != video[0] {
			c.stopLocked(t)
		}
	}
	screen := video[0]
	c.stopLocked(c.camera)
	c.camera = nil
	c.screen = screen
	screen.SetEnabled(c.videoEnabled)
	stream := c.composeLocked(captured.ID)
	c.mu.Unlock()

	screen.OnEnded(func() {
		c.execute(func(ctx context.Context) error {
			c.mu.Lock()
			current := c.screen == screen
			c.mu.Unlock()
			if !current {
				return nil
			}
			log.Info().Str("module", "media").Str("track", screen.ID()).Msg("screen share ended by system")
			if err := c.StopScreenShare(ctx); err != nil && !errors.Is(err, domain.ErrNotSharing) {
				log.Warn().Str("module", "media").Err(err).Msg("restore camera after screen share")
			}
			return nil
		})
	})

	log.Info().Str("module", "media").Str("track", screen.ID()).Msg("screen share started")
	c.publish(ctx, stream)
	return nil
}

// StopScreenShare stops the display capture and restores the camera. The
// microphone-only stream is still published if the camera cannot be reopened.
func (c *Controller) StopScreenShare(ctx context.Context) error {
	c.mu.Lock()
	if c.screen == nil {
		c.mu.Unlock()
		return domain.ErrNotSharing
	}
	c.stopLocked(c.screen)
	c.screen = nil
	constraints := c.constraints
	c.mu.Unlock()

	constraints.Audio = false
	constraints.Video = true
	captured, capErr := c.device.UserMedia(ctx, constraints)
	if capErr != nil {
		capErr = deviceError("camera", capErr)
	}

	c.mu.Lock()
	id := "restored"
	if captured != nil {
		id = captured.ID
		for _, t := range captured.Tracks {
			if t.Kind() == domain.KindVideo && c.camera == nil && c.screen == nil {
				c.camera = t
				t.SetEnabled(c.videoEnabled)
				continue
			}
			c.stopLocked(t)
		}
	}
	stream := c.composeLocked(id)
	c.mu.Unlock()

	log.Info().Str("module", "media").Strs("tracks", stream.TrackIDs()).Msg("screen share stopped")
	c.publish(ctx, stream)
	return capErr
}

// ReleaseAll stops every owned track. Calling it again is a no-op.
func (c *Controller) ReleaseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(c.mic)
	c.stopLocked(c.camera)
	c.stopLocked(c.screen)
	c.mic, c.camera, c.screen = nil, nil, nil
	c.stream = nil
	log.Info().Str("module", "media").Msg("local media released")
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		AudioEnabled:  c.audioEnabled,
		VideoEnabled:  c.videoEnabled,
		ScreenSharing: c.screen != nil,
	}
	if c.stream != nil {
		st.TrackIDs = slices.Clone(c.stream.TrackIDs())
	}
	return st
}

// LocalStream returns the last composed stream, nil before Acquire.
func (c *Controller) LocalStream() *core.LocalStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *Controller) videoLocked() core.LocalTrack {
	if c.screen != nil {
		return c.screen
	}
	return c.camera
}

func (c *Controller) composeLocked(id string) *core.LocalStream {
	s := &core.LocalStream{ID: id}
	if c.mic != nil {
		s.Tracks = append(s.Tracks, c.mic)
	}
	if v := c.videoLocked(); v != nil {
		s.Tracks = append(s.Tracks, v)
	}
	c.stream = s
	return s
}

func (c *Controller) stopLocked(t core.LocalTrack) {
	if t == nil {
		return
	}
	if _, ok := c.stopped[t.ID()]; ok {
		return
	}
	c.stopped[t.ID()] = struct{}{}
	t.Stop()
}

func (c *Controller) publish(ctx context.Context, stream *core.LocalStream) {
	c.mu.Lock()
	p := c.publisher
	c.mu.Unlock()
	if p != nil {
		p.Publish(ctx, stream)
	}
}

func (c *Controller) execute(fn func(context.Context) error) {
	c.mu.Lock()
	exec := c.executor
	c.mu.Unlock()
	if exec == nil {
		_ = fn(context.Background())
		return
	}
	exec(fn)
}

func deviceError(kind string, err error) error {
	var derr *domain.DeviceError
	if errors.As(err, &derr) {
		return err
	}
	return &domain.DeviceError{Kind: kind, Err: err}
}
