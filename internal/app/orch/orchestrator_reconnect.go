package orch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/Meet/internal/app/session"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

func (c ReconnectConfig) withDefaults() ReconnectConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = 15 * time.Second
	}
	return c
}

// recover replaces a failed session with a fresh Idle one. The participant
// stays in the roster as Negotiating until the replacement is stable or
// recovery gives up. Runs on the event loop.
func (o *Orchestrator) recover(failed *session.Session) {
	id := failed.Participant()
	if !o.current(failed) {
		return
	}
	if !o.Registry.Reset(id) {
		o.discard(failed)
		return
	}
	// openSession closes the failed session it replaces.
	if s, err := o.openSession(id); err != nil {
		log.Warn().Str("module", "orch").Str("participant", string(id)).Err(err).Msg("replace session")
		o.discard(failed)
	} else {
		o.attach(s)
	}

	o.mu.Lock()
	if _, active := o.reconnects[id]; active {
		// The running reconnect loop picks up the replacement.
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(o.life)
	o.reconnects[id] = cancel
	o.mu.Unlock()
	go o.reconnect(ctx, id)
}

// reconnect drives the replacement session to Stable. The impolite side
// offers; the polite side keeps its Idle session and waits for that offer.
func (o *Orchestrator) reconnect(ctx context.Context, id domain.ParticipantID) {
	cfg := o.Reconnect.withDefaults()
	polite := o.Glare.Polite(o.Self, id)
	logger := log.With().Str("module", "orch").Str("participant", string(id)).Bool("polite", polite).Logger()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialInterval
	eb.MaxInterval = cfg.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, cfg.MaxRetries), ctx)

	attempt := func() error {
		actx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		defer cancel()
		var s *session.Session
		err := o.Do(actx, func(lctx context.Context) error {
			var ok bool
			if s, ok = o.Session(id); !ok {
				var err error
				if s, err = o.openSession(id); err != nil {
					return err
				}
				o.attach(s)
			}
			if polite || s.State() != domain.Idle {
				return nil
			}
			return o.offer(lctx, s)
		})
		if err != nil {
			return err
		}
		if err := s.WaitStable(actx); err != nil {
			if !polite {
				_ = o.Do(ctx, func(context.Context) error {
					o.discard(s)
					return nil
				})
			}
			return err
		}
		return nil
	}

	err := backoff.RetryNotify(attempt, b, func(err error, next time.Duration) {
		logger.Debug().Err(err).Dur("next", next).Msg("reconnect attempt failed")
	})

	o.mu.Lock()
	if ctx.Err() == nil {
		delete(o.reconnects, id)
	}
	o.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		logger.Debug().Msg("reconnect cancelled")
	case err != nil:
		logger.Warn().Err(err).Msg("reconnect gave up, removing participant")
		_ = o.Do(ctx, func(context.Context) error {
			o.Registry.Remove(id)
			return nil
		})
	default:
		logger.Info().Msg("reconnected")
	}
}

// discard closes s if it is still the current session of its participant.
func (o *Orchestrator) discard(s *session.Session) {
	o.mu.Lock()
	if o.sessions[s.Participant()] == s {
		delete(o.sessions, s.Participant())
	}
	o.mu.Unlock()
	o.Reconciler.Forget(s)
	_ = s.Close()
}

// post queues fn on the event loop without waiting for it. Work posted after
// Leave is dropped.
func (o *Orchestrator) post(what string, fn func(context.Context) error) {
	go func() {
		if err := o.Do(o.life, fn); err != nil && o.life.Err() == nil {
			log.Warn().Str("module", "orch").Str("task", what).Err(err).Msg("loop task failed")
		}
	}()
}

// awaitAnswer replaces s when offer is still unanswered after AnswerTimeout.
func (o *Orchestrator) awaitAnswer(s *session.Session, offer *domain.SessionDescription) {
	time.AfterFunc(o.Reconnect.withDefaults().AnswerTimeout, func() {
		o.post("answer timeout", func(context.Context) error {
			if !o.current(s) || s.State() != domain.OfferSent || s.LocalDescription() != offer {
				return nil
			}
			log.Warn().Str("module", "orch").Str("participant", string(s.Participant())).Msg("offer unanswered, replacing session")
			o.recover(s)
			return nil
		})
	})
}
