package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyMenuPrompt(t *testing.T) {
	assert.Equal(t, MenuPrompt, Classify("Select the letter of the menu entry:"))
	assert.Equal(t, MenuPrompt, Classify("select the letter of the menu entry: "))
}

func TestClassifyConfigDump(t *testing.T) {
	line := "Q2150-SIM,2150 REV 4.003,Q,12,16,F,,0,0,1.000"
	assert.Equal(t, ConfigDump, Classify(line))
}

func TestClassifyFreerunReading(t *testing.T) {
	assert.Equal(t, FreerunReading, Classify("1.234"))
	assert.Equal(t, FreerunReading, Classify("1.234,23.500"))
	assert.Equal(t, FreerunReading, Classify("1.234,23.500,5.000"))
}

func TestClassifyPolledReading(t *testing.T) {
	assert.Equal(t, PolledReading, Classify("Q,1.234,23.500,5.000"))
	assert.Equal(t, PolledReading, Classify("Q,1.234"))
}

func TestClassifyErrorBanners(t *testing.T) {
	assert.Equal(t, ErrorBanner, Classify("Invalid rate!!! Command is ignored."))
	assert.Equal(t, ErrorBanner, Classify("****Invalid number, averaging set to 12 somefield"))
	assert.Equal(t, ErrorBanner, Classify(" Bad TAG "))
}

func TestClassifyUnknown(t *testing.T) {
	assert.Equal(t, UnknownLine, Classify("this is not recognized garbage!!"))
}

func TestParseFreerunAllFields(t *testing.T) {
	ts := time.Now()
	r, err := ParseFreerun("1.234,23.500,5.000", "SENSOR1", ts)
	require.NoError(t, err)
	assert.Equal(t, 1.234, r.Value)
	require.NotNil(t, r.TempC)
	assert.Equal(t, 23.5, *r.TempC)
	require.NotNil(t, r.Vin)
	assert.Equal(t, 5.0, *r.Vin)
	assert.Equal(t, "SENSOR1", r.SensorID)
	assert.Equal(t, ModeFreerun, r.Mode)
}

func TestParseFreerunValueOnly(t *testing.T) {
	r, err := ParseFreerun("9.5", "SENSOR1", time.Now())
	require.NoError(t, err)
	assert.Nil(t, r.TempC)
	assert.Nil(t, r.Vin)
	assert.Equal(t, 9.5, r.Value)
}

func TestParsePolledTagMatch(t *testing.T) {
	r, err := ParsePolled("Q,1.5,23.0", 'Q', "SENSOR1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1.5, r.Value)
	require.NotNil(t, r.TempC)
	assert.Equal(t, 23.0, *r.TempC)
	assert.Equal(t, ModePolled, r.Mode)
}

func TestParsePolledTagMismatch(t *testing.T) {
	_, err := ParsePolled("Q,1.5", 'Z', "SENSOR1", time.Now())
	require.Error(t, err)
	var mismatch TagMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, byte('Z'), mismatch.Expected)
	assert.Equal(t, byte('Q'), mismatch.Got)
}

func TestParseConfigDump(t *testing.T) {
	line := "Q2150-SIM,2150 REV 4.003,Q,12,16,P,T,1,0,1.000"
	cfg, err := ParseConfigDump(line)
	require.NoError(t, err)
	assert.Equal(t, "Q2150-SIM", cfg.SensorID)
	assert.Equal(t, "2150 REV 4.003", cfg.FirmwareVersion)
	assert.Equal(t, 12, cfg.Averaging)
	assert.Equal(t, 16, cfg.ADCRateHz)
	assert.Equal(t, ModePolled, cfg.Mode)
	assert.Equal(t, byte('T'), cfg.Tag)
	assert.True(t, cfg.IncludeTemp)
	assert.False(t, cfg.IncludeVin)
	assert.Equal(t, 1.0, cfg.Calfactor)
}

func TestValidADCRate(t *testing.T) {
	assert.True(t, ValidADCRate(16))
	assert.True(t, ValidADCRate(500))
	assert.False(t, ValidADCRate(17))
}

func TestSamplePeriod(t *testing.T) {
	cfg := SensorConfig{Averaging: 16, ADCRateHz: 16}
	assert.Equal(t, time.Second, cfg.SamplePeriod())
}

func TestBuildCommands(t *testing.T) {
	assert.Equal(t, []byte{0x1B}, MenuEnter())
	assert.Equal(t, []byte{'A', 0x0D}, MenuCommand('A'))
	assert.Equal(t, []byte("12\r"), NumericReply(12))
	assert.Equal(t, []byte("X\r"), MenuExit())
	assert.Equal(t, []byte(">Q\r"), PolledQuery('Q'))
}
