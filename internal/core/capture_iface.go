package core

import "context"

// Constraints select which devices UserMedia opens.
type Constraints struct {
	Audio     bool
	Video     bool
	Width     int
	Height    int
	FrameRate float32
}

// CaptureDevice opens local capture streams. Failures are *domain.DeviceError.
type CaptureDevice interface {
	UserMedia(ctx context.Context, c Constraints) (*LocalStream, error)
	DisplayMedia(ctx context.Context) (*LocalStream, error)
}
