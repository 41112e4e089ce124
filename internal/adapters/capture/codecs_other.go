//go:build !linux

package capture

import "github.com/pion/mediadevices"

// Capture drivers are only wired on linux; elsewhere the participant joins
// receive-only.
func newCodecSelector() (*mediadevices.CodecSelector, error) {
	return nil, nil
}
