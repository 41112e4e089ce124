package rtc

import (
	"fmt"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// CodecPopulator registers the codecs local capture produces.
// *mediadevices.CodecSelector satisfies it.
type CodecPopulator interface {
	Populate(m *webrtc.MediaEngine)
}

type Options struct {
	ICEServers []string
	// Codecs defaults to pion's built-in codec set.
	Codecs              CodecPopulator
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	LogLevel            zerolog.Level
}

// Factory builds peer connections sharing one API and configuration.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: iceServers,
			},
		},
	}
}

func NewFactory(opts Options) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if opts.Codecs != nil {
		opts.Codecs.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = LoggerFactory{Level: opts.LogLevel}
	if opts.DisconnectedTimeout > 0 && opts.FailedTimeout > 0 && opts.KeepAliveInterval > 0 {
		se.SetICETimeouts(opts.DisconnectedTimeout, opts.FailedTimeout, opts.KeepAliveInterval)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api, config: DefaultWebRTCConfig(opts.ICEServers)}, nil
}

// New implements core.TransportFactory.
func (f *Factory) New(participant domain.ParticipantID) (core.PeerTransport, error) {
	return f.NewConnection(participant)
}

func (f *Factory) NewConnection(participant domain.ParticipantID) (*Connection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newConnection(pc, participant), nil
}

// NewLocalTrack creates a track the capture pump or a test can write RTP into.
func (f *Factory) NewLocalTrack(kind domain.MediaKind, id, streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(Capability(kind), id, streamID)
}

// Capability is the codec used on the wire for kind.
func Capability(kind domain.MediaKind) webrtc.RTPCodecCapability {
	if kind == domain.KindAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}
