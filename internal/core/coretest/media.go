package coretest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Track is a LocalTrack without a device behind it.
type Track struct {
	id      string
	kind    domain.MediaKind
	enabled atomic.Bool
	stops   atomic.Int32

	mu    sync.Mutex
	ended []func()
}

func NewTrack(id string, kind domain.MediaKind) *Track {
	t := &Track{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string               { return t.id }
func (t *Track) Kind() domain.MediaKind   { return t.kind }
func (t *Track) Enabled() bool            { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool)  { t.enabled.Store(enabled) }
func (t *Track) Stop()                    { t.stops.Add(1) }
func (t *Track) Stops() int               { return int(t.stops.Load()) }
func (t *Track) Local() webrtc.TrackLocal { return nil }

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended = append(t.ended, fn)
}

// End simulates the system ending the track.
func (t *Track) End() {
	t.mu.Lock()
	fns := append([]func(){}, t.ended...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Device is a CaptureDevice producing Tracks with predictable ids:
// mic-N, cam-N and screen-N.
type Device struct {
	mu          sync.Mutex
	n           int
	UserErr     error
	DisplayErr  error
	opened      []*Track
	userCalls   []core.Constraints
	displayCall int
}

func (d *Device) UserMedia(ctx context.Context, c core.Constraints) (*core.LocalStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userCalls = append(d.userCalls, c)
	if d.UserErr != nil {
		return nil, d.UserErr
	}
	d.n++
	s := &core.LocalStream{ID: fmt.Sprintf("user-%d", d.n)}
	if c.Audio {
		s.Tracks = append(s.Tracks, d.openLocked(fmt.Sprintf("mic-%d", d.n), domain.KindAudio))
	}
	if c.Video {
		s.Tracks = append(s.Tracks, d.openLocked(fmt.Sprintf("cam-%d", d.n), domain.KindVideo))
	}
	return s, nil
}

func (d *Device) DisplayMedia(ctx context.Context) (*core.LocalStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.displayCall++
	if d.DisplayErr != nil {
		return nil, d.DisplayErr
	}
	d.n++
	return &core.LocalStream{
		ID:     fmt.Sprintf("display-%d", d.n),
		Tracks: []core.LocalTrack{d.openLocked(fmt.Sprintf("screen-%d", d.n), domain.KindVideo)},
	}, nil
}

func (d *Device) openLocked(id string, kind domain.MediaKind) *Track {
	t := NewTrack(id, kind)
	d.opened = append(d.opened, t)
	return t
}

// Opened returns every track the device produced.
func (d *Device) Opened() []*Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Track(nil), d.opened...)
}

func (d *Device) Track(id string) *Track {
	for _, t := range d.Opened() {
		if t.ID() == id {
			return t
		}
	}
	return nil
}

func (d *Device) UserCalls() []core.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.Constraints(nil), d.userCalls...)
}

// RemoteTrack is an inbound track fed from a channel.
type RemoteTrack struct {
	TrackID string
	Stream  string
	MKind   domain.MediaKind
	Packets chan *rtp.Packet
}

func NewRemoteTrack(id string, kind domain.MediaKind) *RemoteTrack {
	return &RemoteTrack{TrackID: id, Stream: "s-" + id, MKind: kind, Packets: make(chan *rtp.Packet, 16)}
}

func (t *RemoteTrack) ID() string             { return t.TrackID }
func (t *RemoteTrack) StreamID() string       { return t.Stream }
func (t *RemoteTrack) Kind() domain.MediaKind { return t.MKind }

func (t *RemoteTrack) ReadRTP() (*rtp.Packet, error) {
	p, ok := <-t.Packets
	if !ok {
		return nil, io.EOF
	}
	return p, nil
}
