package coretest

import (
	"context"
	"sync"

	"github.com/dkeye/Meet/internal/domain"
)

// Bus is an in-memory relay for one room. It rewrites messages the way the
// relay server does and queues them per participant. Nothing is delivered
// until the test drains a Gateway.
type Bus struct {
	mu      sync.Mutex
	members []domain.ParticipantID
	queues  map[domain.ParticipantID][]domain.SignalingMessage
	sent    []domain.SignalingMessage
}

func NewBus() *Bus {
	return &Bus{queues: make(map[domain.ParticipantID][]domain.SignalingMessage)}
}

// Gateway returns the gateway of self on the bus.
func (b *Bus) Gateway(self domain.ParticipantID) *Gateway {
	return &Gateway{bus: b, self: self, in: make(chan domain.SignalingMessage, 64)}
}

func (b *Bus) route(from domain.ParticipantID, msg domain.SignalingMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
	switch m := msg.(type) {
	case domain.JoinRoom:
		for _, id := range b.members {
			b.queues[id] = append(b.queues[id], domain.JoinNotice{Participant: from})
		}
		b.members = append(b.members, from)
		b.queues[from] = append(b.queues[from], domain.JoinedRoom{Room: m.Room})
	case domain.OfferMessage:
		b.queues[m.To] = append(b.queues[m.To], domain.OfferMessage{From: from, SDP: m.SDP})
	case domain.AnswerMessage:
		b.queues[m.To] = append(b.queues[m.To], domain.AnswerMessage{From: from, SDP: m.SDP})
	case domain.LeaveRoom:
		rest := b.members[:0]
		for _, id := range b.members {
			if id != from {
				rest = append(rest, id)
				b.queues[id] = append(b.queues[id], domain.LeaveNotice{Participant: from})
			}
		}
		b.members = rest
	}
}

// Pop takes the next message queued for id.
func (b *Bus) Pop(id domain.ParticipantID) (domain.SignalingMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[id]
	if len(q) == 0 {
		return nil, false
	}
	b.queues[id] = q[1:]
	return q[0], true
}

// Sent lists every message sent on the bus, in order.
func (b *Bus) Sent() []domain.SignalingMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.SignalingMessage(nil), b.sent...)
}

// Gateway is one participant's end of a Bus.
type Gateway struct {
	bus  *Bus
	self domain.ParticipantID
	in   chan domain.SignalingMessage

	mu     sync.Mutex
	closed bool
}

func (g *Gateway) Send(ctx context.Context, msg domain.SignalingMessage) error {
	g.bus.route(g.self, msg)
	return nil
}

func (g *Gateway) Incoming() <-chan domain.SignalingMessage { return g.in }

// Deliver moves every queued message into Incoming.
func (g *Gateway) Deliver() int {
	n := 0
	for {
		msg, ok := g.bus.Pop(g.self)
		if !ok {
			return n
		}
		g.in <- msg
		n++
	}
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.in)
	}
	return nil
}
