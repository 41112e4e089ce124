// Package orch turns room signaling into per-participant sessions.
package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/media"
	"github.com/dkeye/Meet/internal/app/session"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrGatewayClosed = errors.New("signaling gateway closed")

// ReconnectConfig bounds transport recovery. AnswerTimeout is how long an
// offer may stay unanswered before its session is replaced.
type ReconnectConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
	AttemptTimeout  time.Duration
	AnswerTimeout   time.Duration
}

// Orchestrator is the room controller of one participant. Collaborators are
// injected through the exported fields.
type Orchestrator struct {
	Self        domain.ParticipantID
	Room        domain.RoomID
	Gateway     core.Gateway
	Registry    *app.Registry
	Media       *media.Controller
	Reconciler  *media.Reconciler
	Transports  core.TransportFactory
	Glare       app.GlarePolicy
	Constraints core.Constraints
	Reconnect   ReconnectConfig

	initOnce sync.Once
	life     context.Context
	stop     context.CancelFunc
	tasks    chan task

	mu          sync.Mutex
	sessions    map[domain.ParticipantID]*session.Session
	renegotiate map[domain.ParticipantID]bool
	ready       []domain.ParticipantID
	reconnects  map[domain.ParticipantID]context.CancelFunc
}

type task struct {
	fn   func(context.Context) error
	done chan error
}

func (o *Orchestrator) init() {
	o.initOnce.Do(func() {
		o.life, o.stop = context.WithCancel(context.Background())
		o.tasks = make(chan task)
		o.sessions = make(map[domain.ParticipantID]*session.Session)
		o.renegotiate = make(map[domain.ParticipantID]bool)
		o.reconnects = make(map[domain.ParticipantID]context.CancelFunc)
		if o.Glare == nil {
			o.Glare = app.IDGlarePolicy{}
		}
		if o.Media != nil {
			o.Media.SetPublisher(o)
			o.Media.SetExecutor(func(fn func(context.Context) error) { o.post("media", fn) })
		}
		o.Registry.OnRemove(o.dropSession)
	})
}

// Join acquires local media and announces the participant. Missing devices
// are logged and the participant joins without them.
func (o *Orchestrator) Join(ctx context.Context) error {
	o.init()
	if o.Media != nil {
		if err := o.Media.Acquire(ctx, o.Constraints); err != nil {
			var derr *domain.DeviceError
			if !errors.As(err, &derr) {
				return err
			}
			log.Warn().Str("module", "orch").Err(err).Msg("joining without local media")
		}
	}
	log.Info().Str("module", "orch").Str("self", string(o.Self)).Str("room", string(o.Room)).Msg("joining room")
	return o.Gateway.Send(ctx, domain.JoinRoom{Participant: o.Self, Room: o.Room})
}

// Run is the signaling event loop. It returns when ctx is done or the gateway
// closes its incoming channel.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.init()
	in := o.Gateway.Incoming()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return ErrGatewayClosed
			}
			if err := o.HandleMessage(ctx, msg); err != nil {
				log.Warn().Str("module", "orch").Str("event", string(msg.Event())).Err(err).Msg("message dropped")
			}
		case t := <-o.tasks:
			t.done <- t.fn(ctx)
		}
	}
}

// Do runs fn on the event loop and waits for it.
func (o *Orchestrator) Do(ctx context.Context, fn func(context.Context) error) error {
	o.init()
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case o.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleMessage applies one inbound signaling message. Errors describe a
// dropped message; the room state stays consistent either way.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg domain.SignalingMessage) error {
	o.init()
	var err error
	switch m := msg.(type) {
	case domain.JoinedRoom:
		log.Info().Str("module", "orch").Str("room", string(m.Room)).Msg("joined room")
	case domain.JoinNotice:
		err = o.onUserJoined(ctx, m.Participant)
	case domain.OfferMessage:
		err = o.onIncomingCall(ctx, m.From, m.SDP)
	case domain.AnswerMessage:
		err = o.onCallAccepted(ctx, m.From, m.SDP)
	case domain.LeaveNotice:
		o.onUserLeft(m.Participant)
	default:
		log.Debug().Str("module", "orch").Str("event", string(msg.Event())).Msg("ignoring message")
	}
	o.flushRenegotiations(ctx)
	return err
}

// Leave releases local media, closes every session and announces the exit.
func (o *Orchestrator) Leave(ctx context.Context) error {
	o.init()
	o.stop()
	if o.Media != nil {
		o.Media.ReleaseAll()
	}
	o.closeAll()
	o.Registry.Clear()
	log.Info().Str("module", "orch").Str("room", string(o.Room)).Msg("left room")
	return o.Gateway.Send(ctx, domain.LeaveRoom{Room: o.Room})
}

// Session returns the live session with id.
func (o *Orchestrator) Session(id domain.ParticipantID) (*session.Session, bool) {
	o.init()
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	return s, ok
}
