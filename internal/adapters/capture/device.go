// Package capture opens local camera, microphone and screen through
// pion/mediadevices.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/dkeye/Meet/internal/adapters/rtc"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const mtu = 1200

// Device is a core.CaptureDevice backed by mediadevices drivers.
type Device struct {
	selector *mediadevices.CodecSelector
}

// NewDevice builds the device with the platform's encoders. The selector is
// also what the rtc factory must register in its MediaEngine.
func NewDevice() (*Device, error) {
	selector, err := newCodecSelector()
	if err != nil {
		return nil, err
	}
	return &Device{selector: selector}, nil
}

// Codecs returns the selector for rtc.Options.Codecs, nil if no encoders exist.
func (d *Device) Codecs() rtc.CodecPopulator {
	if d.selector == nil {
		return nil
	}
	return d.selector
}

func (d *Device) UserMedia(ctx context.Context, c core.Constraints) (*core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.selector == nil {
		return nil, &domain.DeviceError{Kind: "user", Err: domain.ErrDeviceUnavailable}
	}
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			if c.Width > 0 {
				mc.Width = prop.Int(c.Width)
			}
			if c.Height > 0 {
				mc.Height = prop.Int(c.Height)
			}
			if c.FrameRate > 0 {
				mc.FrameRate = prop.Float(c.FrameRate)
			}
		}
	}
	if c.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}
	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, &domain.DeviceError{Kind: "user", Err: classify(err)}
	}
	return d.wrap(stream, "user")
}

func (d *Device) DisplayMedia(ctx context.Context) (*core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.selector == nil {
		return nil, &domain.DeviceError{Kind: "display", Err: domain.ErrDeviceUnavailable}
	}
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(*mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		return nil, &domain.DeviceError{Kind: "display", Err: classify(err)}
	}
	return d.wrap(stream, "display")
}

func (d *Device) wrap(stream mediadevices.MediaStream, label string) (*core.LocalStream, error) {
	tracks := stream.GetTracks()
	streamID := fmt.Sprintf("%s-%08x", label, rand.Uint32())
	out := &core.LocalStream{ID: streamID}
	for _, t := range tracks {
		kind := domain.KindVideo
		if t.Kind() == webrtc.RTPCodecTypeAudio {
			kind = domain.KindAudio
		}
		capability := rtc.Capability(kind)
		reader, err := t.NewRTPReader(capability.MimeType, rand.Uint32(), mtu)
		if err != nil {
			closeAll(tracks)
			for _, lt := range out.Tracks {
				lt.Stop()
			}
			return nil, &domain.DeviceError{Kind: label, Err: fmt.Errorf("%w: encoder: %v", domain.ErrDeviceUnavailable, err)}
		}
		id := fmt.Sprintf("%s-%s", label, t.ID())
		local, err := webrtc.NewTrackLocalStaticRTP(capability, id, streamID)
		if err != nil {
			_ = reader.Close()
			closeAll(tracks)
			for _, lt := range out.Tracks {
				lt.Stop()
			}
			return nil, fmt.Errorf("local track: %w", err)
		}
		out.Tracks = append(out.Tracks, newLocalTrack(id, kind, t, reader, local, local))
	}
	log.Info().Str("module", "capture").Str("stream", streamID).Strs("tracks", out.TrackIDs()).Msg("capture opened")
	return out, nil
}

func closeAll(tracks []mediadevices.Track) {
	for _, t := range tracks {
		_ = t.Close()
	}
}

// classify maps driver errors onto the device sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, os.ErrPermission), strings.Contains(strings.ToLower(err.Error()), "permission"):
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}
}
