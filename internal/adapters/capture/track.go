package capture

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// source is the device side of a capture track.
type source interface {
	Close() error
	OnEnded(func(error))
}

// packetReader yields encoded packets from a source.
type packetReader interface {
	Read() ([]*rtp.Packet, func(), error)
	Close() error
}

// localTrack pumps encoded packets from a device into a pion track. Muting
// drops packets at the pump; the device keeps running.
type localTrack struct {
	id     string
	kind   domain.MediaKind
	src    source
	reader packetReader
	sink   core.RTPSink
	local  webrtc.TrackLocal
	logger zerolog.Logger

	enabled  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}

	mu    sync.Mutex
	ended []func()
	done  bool
}

func newLocalTrack(id string, kind domain.MediaKind, src source, reader packetReader, sink core.RTPSink, local webrtc.TrackLocal) *localTrack {
	t := &localTrack{
		id:      id,
		kind:    kind,
		src:     src,
		reader:  reader,
		sink:    sink,
		local:   local,
		logger:  log.With().Str("module", "capture").Str("track", id).Str("kind", string(kind)).Logger(),
		stopped: make(chan struct{}),
	}
	t.enabled.Store(true)
	src.OnEnded(func(err error) {
		if err != nil {
			t.logger.Warn().Err(err).Msg("device ended track")
		}
		t.end()
	})
	go t.pump()
	return t
}

func (t *localTrack) ID() string               { return t.id }
func (t *localTrack) Kind() domain.MediaKind   { return t.kind }
func (t *localTrack) Enabled() bool            { return t.enabled.Load() }
func (t *localTrack) SetEnabled(enabled bool)  { t.enabled.Store(enabled) }
func (t *localTrack) Local() webrtc.TrackLocal { return t.local }

func (t *localTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended = append(t.ended, fn)
}

// Stop releases the device. Ended handlers do not fire for a stopped track.
func (t *localTrack) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopped)
		if err := t.reader.Close(); err != nil {
			t.logger.Debug().Err(err).Msg("close reader")
		}
		if err := t.src.Close(); err != nil {
			t.logger.Debug().Err(err).Msg("close source")
		}
		t.logger.Info().Msg("track stopped")
	})
}

func (t *localTrack) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

func (t *localTrack) pump() {
	for {
		pkts, release, err := t.reader.Read()
		if err != nil {
			if !t.isStopped() {
				t.logger.Warn().Err(err).Msg("capture read stopped")
				t.end()
			}
			return
		}
		if t.enabled.Load() {
			for _, p := range pkts {
				if err := t.sink.WriteRTP(p); err != nil {
					t.logger.Debug().Err(err).Msg("write RTP")
				}
			}
		}
		if release != nil {
			release()
		}
	}
}

// end fires the ended handlers once, unless the owner stopped the track.
func (t *localTrack) end() {
	if t.isStopped() {
		return
	}
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	fns := append([]func(){}, t.ended...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
