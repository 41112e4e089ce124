package remote

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// trackReader drains one remote track, keeps its receive statistics and
// fans packets out to the attached renderers.
type trackReader struct {
	src core.RemoteTrack

	mu        sync.RWMutex
	renderers map[string]*Renderer

	statsMu  sync.Mutex
	packets  uint64
	bytes    uint64
	lost     uint64
	started  bool
	highest  uint16
	lastSeen time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func newTrackReader(src core.RemoteTrack, cancel context.CancelFunc) *trackReader {
	return &trackReader{
		src:       src,
		renderers: make(map[string]*Renderer),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (t *trackReader) run(ctx context.Context, logger *zerolog.Logger) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("track reader cancelled")
			t.detachAll()
			return
		default:
		}
		pkt, err := t.src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("remote track ended")
			t.detachAll()
			return
		}
		t.account(pkt)
		t.render(pkt, logger)
	}
}

// account updates receive counters. Gaps in the sequence count as lost;
// late packets are not subtracted.
func (t *trackReader) account(pkt *rtp.Packet) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.packets++
	t.bytes += uint64(len(pkt.Payload))
	t.lastSeen = time.Now()
	seq := pkt.SequenceNumber
	if !t.started {
		t.started, t.highest = true, seq
		return
	}
	if gap := int16(seq - t.highest); gap > 0 {
		t.lost += uint64(gap - 1)
		t.highest = seq
	}
}

func (t *trackReader) render(pkt *rtp.Packet, logger *zerolog.Logger) {
	t.mu.RLock()
	snapshot := maps.Clone(t.renderers)
	t.mu.RUnlock()

	var gone []string
	for id, r := range snapshot {
		alive, err := r.render(pkt)
		if err != nil {
			logger.Warn().Err(err).Str("renderer", id).Msg("renderer failed, detaching")
		}
		if !alive {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		t.mu.Lock()
		for _, id := range gone {
			if t.renderers[id] == snapshot[id] {
				delete(t.renderers, id)
			}
		}
		t.mu.Unlock()
	}
}

func (t *trackReader) attach(r *Renderer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.renderers[r.id]; ok {
		old.detached.Store(true)
	}
	t.renderers[r.id] = r
}

func (t *trackReader) detach(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.renderers[id]
	if ok {
		r.detached.Store(true)
		delete(t.renderers, id)
	}
	return ok
}

func (t *trackReader) renderer(id string) (*Renderer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.renderers[id]
	return r, ok
}

func (t *trackReader) detachAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, r := range t.renderers {
		r.detached.Store(true)
		delete(t.renderers, id)
	}
}

func (t *trackReader) stop() {
	t.detachAll()
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *trackReader) stats() TrackStats {
	t.statsMu.Lock()
	st := TrackStats{
		TrackID: t.src.ID(),
		Kind:    t.src.Kind(),
		Packets: t.packets,
		Bytes:   t.bytes,
		Lost:    t.lost,
	}
	if !t.lastSeen.IsZero() {
		seen := t.lastSeen
		st.LastPacketAt = &seen
	}
	t.statsMu.Unlock()

	t.mu.RLock()
	for _, r := range t.renderers {
		st.Renderers = append(st.Renderers, r.stats())
	}
	t.mu.RUnlock()
	slices.SortFunc(st.Renderers, func(a, b RendererStats) int { return strings.Compare(a.ID, b.ID) })
	return st
}
