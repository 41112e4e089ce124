package media

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/core/coretest"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	streams []*core.LocalStream
}

func (p *recordingPublisher) Publish(_ context.Context, s *core.LocalStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = append(p.streams, s)
}

func (p *recordingPublisher) last() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1].TrackIDs()
}

var av = core.Constraints{Audio: true, Video: true}

func newController(t *testing.T) (*Controller, *coretest.Device, *recordingPublisher) {
	t.Helper()
	dev := &coretest.Device{}
	pub := &recordingPublisher{}
	c := NewController(dev, av)
	c.SetPublisher(pub)
	require.NoError(t, c.Acquire(context.Background(), av))
	return c, dev, pub
}

func TestAcquirePublishesStream(t *testing.T) {
	c, _, pub := newController(t)
	assert.Equal(t, []string{"mic-1", "cam-1"}, pub.last())
	assert.Equal(t, []string{"mic-1", "cam-1"}, c.State().TrackIDs)
}

func TestToggleTwiceRestoresState(t *testing.T) {
	c, dev, pub := newController(t)
	before := c.State()

	assert.False(t, c.ToggleMute())
	assert.False(t, dev.Track("mic-1").Enabled())
	assert.False(t, c.ToggleCamera())
	assert.False(t, dev.Track("cam-1").Enabled())
	assert.True(t, c.ToggleMute())
	assert.True(t, c.ToggleCamera())

	assert.Equal(t, before, c.State())
	assert.Len(t, pub.streams, 1, "toggles never republish")
	for _, tr := range dev.Opened() {
		assert.Equal(t, 0, tr.Stops())
	}
}

func TestAcquireFailureIsDeviceError(t *testing.T) {
	dev := &coretest.Device{UserErr: domain.ErrPermissionDenied}
	c := NewController(dev, av)

	err := c.Acquire(context.Background(), av)
	var derr *domain.DeviceError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Nil(t, c.LocalStream())

	c.ReleaseAll()
	c.ReleaseAll()
}

func TestReacquireStopsPreviousCapture(t *testing.T) {
	c, dev, pub := newController(t)
	require.NoError(t, c.Acquire(context.Background(), av))

	assert.Equal(t, 1, dev.Track("mic-1").Stops())
	assert.Equal(t, 1, dev.Track("cam-1").Stops())
	assert.Equal(t, []string{"mic-2", "cam-2"}, pub.last())
}

func TestReleaseAllStopsEachTrackOnce(t *testing.T) {
	c, dev, _ := newController(t)
	require.NoError(t, c.StartScreenShare(context.Background()))

	c.ReleaseAll()
	c.ReleaseAll()
	for _, tr := range dev.Opened() {
		assert.Equal(t, 1, tr.Stops(), tr.ID())
	}
	assert.Nil(t, c.LocalStream())
	assert.Empty(t, c.State().TrackIDs)
}

func TestScreenShareSubstitutesCamera(t *testing.T) {
	c, dev, pub := newController(t)
	ctx := context.Background()

	require.NoError(t, c.StartScreenShare(ctx))
	assert.Equal(t, []string{"mic-1", "screen-2"}, pub.last())
	assert.Equal(t, 1, dev.Track("cam-1").Stops())
	assert.True(t, c.State().ScreenSharing)
	assert.ErrorIs(t, c.StartScreenShare(ctx), domain.ErrAlreadySharing)

	require.NoError(t, c.StopScreenShare(ctx))
	assert.Equal(t, []string{"mic-1", "cam-3"}, pub.last())
	assert.Equal(t, 1, dev.Track("screen-2").Stops())
	assert.Equal(t, 0, dev.Track("mic-1").Stops())
	calls := dev.UserCalls()
	assert.Equal(t, core.Constraints{Video: true}, calls[len(calls)-1], "restore opens video only")

	assert.ErrorIs(t, c.StopScreenShare(ctx), domain.ErrNotSharing)
}

func TestScreenShareEndedBySystemRestoresCamera(t *testing.T) {
	c, dev, pub := newController(t)
	require.NoError(t, c.StartScreenShare(context.Background()))

	dev.Track("screen-2").End()
	assert.False(t, c.State().ScreenSharing)
	assert.Equal(t, []string{"mic-1", "cam-3"}, pub.last())

	dev.Track("screen-2").End()
	assert.Len(t, pub.streams, 3, "a stale ended event is ignored")
}

func TestScreenShareKeepsCameraToggle(t *testing.T) {
	c, dev, _ := newController(t)
	c.ToggleCamera()
	require.NoError(t, c.StartScreenShare(context.Background()))
	assert.False(t, dev.Track("screen-2").Enabled())
	assert.True(t, c.ToggleCamera())
	assert.True(t, dev.Track("screen-2").Enabled())
}

func TestDisplayDeniedLeavesCamera(t *testing.T) {
	c, dev, pub := newController(t)
	dev.DisplayErr = errors.New("user cancelled")

	err := c.StartScreenShare(context.Background())
	var derr *domain.DeviceError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "display", derr.Kind)
	assert.Equal(t, 0, dev.Track("cam-1").Stops())
	assert.Equal(t, []string{"mic-1", "cam-1"}, pub.last())
}

func TestRestoreFailureStillPublishesMicrophone(t *testing.T) {
	c, dev, pub := newController(t)
	require.NoError(t, c.StartScreenShare(context.Background()))
	dev.UserErr = domain.ErrDeviceUnavailable

	err := c.StopScreenShare(context.Background())
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
	assert.Equal(t, []string{"mic-1"}, pub.last())
}

func TestScreenShareEndedRunsOnExecutor(t *testing.T) {
	c, dev, pub := newController(t)
	var queued []func(context.Context) error
	c.SetExecutor(func(fn func(context.Context) error) { queued = append(queued, fn) })
	require.NoError(t, c.StartScreenShare(context.Background()))

	dev.Track("screen-2").End()
	assert.True(t, c.State().ScreenSharing, "nothing runs until the executor does")
	require.Len(t, queued, 1)

	require.NoError(t, queued[0](context.Background()))
	assert.False(t, c.State().ScreenSharing)
	assert.Equal(t, []string{"mic-1", "cam-3"}, pub.last())
}
