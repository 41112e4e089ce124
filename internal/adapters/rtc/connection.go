package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Connection is a core.PeerTransport over a pion PeerConnection. Descriptions
// are returned after ICE gathering completes, so candidates travel in the SDP.
type Connection struct {
	pc          *webrtc.PeerConnection
	participant domain.ParticipantID
	logger      zerolog.Logger

	mu      sync.RWMutex
	onTrack func(core.RemoteTrack)
	onState func(core.TransportState)
}

func newConnection(pc *webrtc.PeerConnection, participant domain.ParticipantID) *Connection {
	c := &Connection{
		pc:          pc,
		participant: participant,
		logger:      log.With().Str("module", "webrtc").Str("participant", string(participant)).Logger(),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(transportState(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(&remoteTrack{track: track})
		}
	})
	return c
}

func (c *Connection) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return c.setLocal(ctx, offer)
}

func (c *Connection) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return c.setLocal(ctx, answer)
}

func (c *Connection) setLocal(ctx context.Context, sd webrtc.SessionDescription) (domain.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(sd); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local %s: %w", sd.Type, err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return domain.SessionDescription{}, fmt.Errorf("ice gathering: %w", ctx.Err())
	}
	local := c.pc.LocalDescription()
	if local == nil {
		return domain.SessionDescription{}, errors.New("no local description")
	}
	return fromPion(*local), nil
}

func (c *Connection) SetRemoteDescription(ctx context.Context, sd domain.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(toPion(sd)); err != nil {
		return fmt.Errorf("set remote %s: %w", sd.Type, err)
	}
	return nil
}

// AddTrack attaches track and drains the sender's RTCP so interceptors keep
// working.
func (c *Connection) AddTrack(track core.LocalTrack) (core.TrackSender, error) {
	sender, err := c.pc.AddTrack(track.Local())
	if err != nil {
		return nil, err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return &trackSender{sender: sender}, nil
}

func (c *Connection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *Connection) OnStateChange(fn func(core.TransportState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

// SignalingState exposes pion's view for diagnostics and tests.
func (c *Connection) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

type trackSender struct {
	sender *webrtc.RTPSender
}

func (s *trackSender) ReplaceTrack(track core.LocalTrack) error {
	return s.sender.ReplaceTrack(track.Local())
}

type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *remoteTrack) ID() string       { return t.track.ID() }
func (t *remoteTrack) StreamID() string { return t.track.StreamID() }

func (t *remoteTrack) Kind() domain.MediaKind {
	if t.track.Kind() == webrtc.RTPCodecTypeAudio {
		return domain.KindAudio
	}
	return domain.KindVideo
}

func (t *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	p, _, err := t.track.ReadRTP()
	return p, err
}

func toPion(sd domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(sd.Type), SDP: sd.SDP}
}

func fromPion(sd webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func transportState(s webrtc.PeerConnectionState) core.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return core.TransportClosed
	default:
		return core.TransportNew
	}
}
