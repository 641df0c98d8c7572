package serialport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSimPortBannerThenMenuPrompt(t *testing.T) {
	p := NewSimPort(SimOptions{BannerDelay: time.Millisecond})
	defer p.Close()

	line, ok, err := p.ReadLine(500 * time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, line, "SN=Q2150-SIM")

	_, err = p.Write([]byte{0x1B})
	require.NoError(t, err)
	line, ok, err = p.ReadLine(500 * time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Select the letter of the menu entry:", line)
}

func TestSimPortConfigDumpRoundTrip(t *testing.T) {
	p := NewSimPort(SimOptions{BannerDelay: time.Millisecond, Averaging: 12, ADCRateHz: 16})
	defer p.Close()
	require.NoError(t, p.FlushInput())

	_, err := p.Write([]byte{0x1B})
	require.NoError(t, err)
	_, _, _ = p.ReadLine(time.Second) // menu prompt

	_, err = p.Write([]byte("^\r"))
	require.NoError(t, err)
	dump, ok, err := p.ReadLine(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, dump, "12,16,F")

	prompt, ok, err := p.ReadLine(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Select the letter of the menu entry:", prompt)
}

func TestSimPortInvalidADCRateRejected(t *testing.T) {
	p := NewSimPort(SimOptions{BannerDelay: time.Millisecond})
	defer p.Close()

	_, _ = p.Write([]byte{0x1B})
	_, _, _ = p.ReadLine(time.Second)

	_, _ = p.Write([]byte("R\r"))
	_, _ = p.Write([]byte("17\r"))

	line, ok, err := p.ReadLine(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Invalid rate!!! Command is ignored.", line)
}

func TestSimPortFreerunAfterReset(t *testing.T) {
	p := NewSimPort(SimOptions{
		BannerDelay: time.Millisecond,
		Averaging:   1,
		ADCRateHz:   500,
	})
	defer p.Close()

	_, _, _ = p.ReadLine(time.Second) // power-on banner
	_, _ = p.Write([]byte{0x1B})
	_, _, _ = p.ReadLine(time.Second)
	require.NoError(t, p.FlushInput())

	_, err := p.Write([]byte("X\r"))
	require.NoError(t, err)

	line, ok, err := p.ReadLine(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "RESET OK", line)

	line, ok, err = p.ReadLine(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, line)
}
