package remote

import (
	"sync/atomic"

	"github.com/dkeye/Meet/internal/core"
	"github.com/pion/rtp"
)

// Renderer is one consumer of a remote track: a video view, an audio
// output or a loopback track. A failed write detaches it for good.
type Renderer struct {
	id  string
	out core.RTPSink

	paused    atomic.Bool
	detached  atomic.Bool
	delivered atomic.Uint64
	skipped   atomic.Uint64
}

func newRenderer(id string, out core.RTPSink) *Renderer {
	return &Renderer{id: id, out: out}
}

func (r *Renderer) ID() string { return r.id }

// render hands p to the output unless the renderer is paused. It reports
// false once the renderer is detached.
func (r *Renderer) render(p *rtp.Packet) (bool, error) {
	if r.detached.Load() {
		return false, nil
	}
	if r.paused.Load() {
		r.skipped.Add(1)
		return true, nil
	}
	if err := r.out.WriteRTP(p); err != nil {
		r.detached.Store(true)
		return false, err
	}
	r.delivered.Add(1)
	return true, nil
}

// RendererStats is what one renderer was given.
type RendererStats struct {
	ID        string `json:"id"`
	Paused    bool   `json:"paused"`
	Delivered uint64 `json:"delivered"`
	Skipped   uint64 `json:"skipped"`
}

func (r *Renderer) stats() RendererStats {
	return RendererStats{
		ID:        r.id,
		Paused:    r.paused.Load(),
		Delivered: r.delivered.Load(),
		Skipped:   r.skipped.Load(),
	}
}

// Discard is a renderer output that drops every packet. The receive
// statistics of a track are kept regardless of its renderers.
type Discard struct{}

func (Discard) WriteRTP(*rtp.Packet) error { return nil }
