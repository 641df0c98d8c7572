package instrument

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qseries/q2150ctl/serialport"
	"github.com/qseries/q2150ctl/wire"
)

func fastTiming() Timing {
	return Timing{
		PowerOnSettle: 5 * time.Millisecond,
		MenuTimeout:   500 * time.Millisecond,
		ReadTimeout:   50 * time.Millisecond,
		ResetSettle:   20 * time.Millisecond,
	}
}

func newTestController(opts serialport.SimOptions) *Controller {
	opts.BannerDelay = time.Millisecond
	opts.ResetSettle = 5 * time.Millisecond
	return New(
		WithTiming(fastTiming()),
		WithOpener(func(port string, baud int) (serialport.Transport, error) {
			return serialport.NewSimPort(opts), nil
		}),
	)
}

// scenario a: connect, configure, go freerun, collect readings, stop.
func TestConnectConfigureFreerunStop(t *testing.T) {
	ctrl := newTestController(serialport.SimOptions{Averaging: 1, ADCRateHz: 500})
	require.NoError(t, ctrl.Connect(context.Background(), "SIM", 9600))
	assert.Equal(t, ConfigMenu, ctrl.State())

	cfg, err := ctrl.SetMode(wire.ModeFreerun, 0)
	require.NoError(t, err)
	assert.Equal(t, wire.ModeFreerun, cfg.Mode)

	require.NoError(t, ctrl.Start(0))
	assert.Equal(t, AcqFreerun, ctrl.State())

	require.Eventually(t, func() bool {
		return len(ctrl.Snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ctrl.Stop())
	assert.Equal(t, ConfigMenu, ctrl.State())
	ctrl.Disconnect()
	assert.Equal(t, Disconnected, ctrl.State())
}

// scenario b: polled sequence with tag match.
func TestPolledSequence(t *testing.T) {
	ctrl := newTestController(serialport.SimOptions{Averaging: 12, ADCRateHz: 16})
	require.NoError(t, ctrl.Connect(context.Background(), "SIM", 9600))

	_, err := ctrl.SetMode(wire.ModePolled, 'Q')
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(20))
	assert.Equal(t, AcqPolled, ctrl.State())

	require.Eventually(t, func() bool {
		_, ok := ctrl.Latest()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	r, ok := ctrl.Latest()
	require.True(t, ok)
	assert.Equal(t, wire.ModePolled, r.Mode)

	require.NoError(t, ctrl.Stop())
}

// scenario c: pause/resume preserves mode and resumes streaming.
func TestPauseResume(t *testing.T) {
	ctrl := newTestController(serialport.SimOptions{Averaging: 1, ADCRateHz: 500})
	require.NoError(t, ctrl.Connect(context.Background(), "SIM", 9600))
	require.NoError(t, ctrl.Start(0))
	assert.Equal(t, AcqFreerun, ctrl.State())

	require.NoError(t, ctrl.Pause())
	assert.Equal(t, Paused, ctrl.State())

	ctrl.ClearBuffer()
	require.NoError(t, ctrl.Resume())
	assert.Equal(t, AcqFreerun, ctrl.State())

	require.Eventually(t, func() bool {
		return len(ctrl.Snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ctrl.Stop())
}

// scenario g: a polled reply with the wrong TAG is rejected by the codec
// with TagMismatchError and yields no reading.
func TestPolledTagMismatchIsRejected(t *testing.T) {
	line, err := wire.ParsePolled("Z,1.0", 'Q', "S", time.Now())
	require.Error(t, err)
	var mismatch wire.TagMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, wire.Reading{}, line)
}

// scenario h: stop-order correctness — stop is safe from PAUSED too.
func TestStopFromPaused(t *testing.T) {
	ctrl := newTestController(serialport.SimOptions{Averaging: 1, ADCRateHz: 500})
	require.NoError(t, ctrl.Connect(context.Background(), "SIM", 9600))
	require.NoError(t, ctrl.Start(0))
	require.NoError(t, ctrl.Pause())
	require.NoError(t, ctrl.Stop())
	assert.Equal(t, ConfigMenu, ctrl.State())
}

// f: invalid config is rejected before any bytes are sent.
func TestInvalidConfigRejectedPreWire(t *testing.T) {
	ctrl := newTestController(serialport.SimOptions{})
	require.NoError(t, ctrl.Connect(context.Background(), "SIM", 9600))

	_, err := ctrl.SetAveraging(0)
	require.Error(t, err)
	var badVal InvalidConfigValueError
	require.ErrorAs(t, err, &badVal)

	_, err = ctrl.SetADCRate(17)
	require.Error(t, err)
	require.ErrorAs(t, err, &badVal)

	assert.Equal(t, ConfigMenu, ctrl.State())
}

func TestVerbsRejectedFromDisconnected(t *testing.T) {
	ctrl := newTestController(serialport.SimOptions{})
	_, err := ctrl.GetConfig()
	require.Error(t, err)
	var invalidState InvalidStateError
	require.ErrorAs(t, err, &invalidState)
	assert.Equal(t, Disconnected, invalidState.Current)
}
