package wire

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseFreerun parses a line already classified as FreerunReading. ts is
// the timestamp the caller (the controller) stamps the reading with;
// sensorID is the session's constant sensor identifier.
func ParseFreerun(line string, sensorID string, ts time.Time) (Reading, error) {
	m := freerunPattern.FindStringSubmatch(strings.TrimRight(line, " \t\r\n"))
	if m == nil {
		return Reading{}, wrapErr("parse freerun reading", ErrInvalidLine)
	}
	return buildReading(m[1], m[2], m[3], sensorID, ModeFreerun, ts)
}

// ParsePolled parses a line already classified as PolledReading. It
// enforces the hard TAG-match requirement: a mismatched leading TAG is
// TagMismatchError, not a benign skip.
func ParsePolled(line string, expectedTag byte, sensorID string, ts time.Time) (Reading, error) {
	m := polledPattern.FindStringSubmatch(strings.TrimRight(line, " \t\r\n"))
	if m == nil {
		return Reading{}, wrapErr("parse polled reading", ErrInvalidLine)
	}
	got := m[1][0]
	if upper(got) != upper(expectedTag) {
		return Reading{}, TagMismatchError{Expected: expectedTag, Got: got}
	}
	return buildReading(m[2], m[3], m[4], sensorID, ModePolled, ts)
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

func buildReading(valueStr, tempStr, vinStr, sensorID string, mode AcqMode, ts time.Time) (Reading, error) {
	value, err := parseFiniteFloat(valueStr)
	if err != nil {
		return Reading{}, wrapErr("parse value", err)
	}
	r := Reading{Timestamp: ts, SensorID: sensorID, Mode: mode, Value: value}
	if tempStr != "" {
		temp, err := parseFiniteFloat(tempStr)
		if err != nil {
			return Reading{}, wrapErr("parse temp_c", err)
		}
		r.TempC = &temp
	}
	if vinStr != "" {
		vin, err := parseFiniteFloat(vinStr)
		if err != nil {
			return Reading{}, wrapErr("parse vin", err)
		}
		r.Vin = &vin
	}
	return r, nil
}

func parseFiniteFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrInvalidLine
	}
	return v, nil
}

// ParseConfigDump parses a line already classified as ConfigDump into a
// SensorConfig. Field layout: sensor_id,firmware_version,preamble,
// averaging,adc_rate,mode,tag,include_temp,include_vin,calfactor.
func ParseConfigDump(line string) (SensorConfig, error) {
	fields := strings.Split(strings.TrimRight(line, " \t\r\n"), ",")
	if len(fields) != 10 {
		return SensorConfig{}, wrapErr("parse config dump", ErrInvalidLine)
	}
	averaging, err := strconv.Atoi(fields[3])
	if err != nil {
		return SensorConfig{}, wrapErr("parse averaging", err)
	}
	adcRate, err := strconv.Atoi(fields[4])
	if err != nil {
		return SensorConfig{}, wrapErr("parse adc_rate_hz", err)
	}
	var mode AcqMode
	switch fields[5] {
	case "F":
		mode = ModeFreerun
	case "P":
		mode = ModePolled
	default:
		return SensorConfig{}, wrapErr("parse mode", ErrInvalidLine)
	}
	var tag byte
	if fields[6] != "" {
		tag = fields[6][0]
	}
	includeTemp := fields[7] == "1"
	includeVin := fields[8] == "1"
	calfactor, err := strconv.ParseFloat(fields[9], 64)
	if err != nil {
		return SensorConfig{}, wrapErr("parse calfactor", err)
	}
	return SensorConfig{
		Averaging:       averaging,
		ADCRateHz:       adcRate,
		Mode:            mode,
		Tag:             tag,
		IncludeTemp:     includeTemp,
		IncludeVin:      includeVin,
		SensorID:        fields[0],
		FirmwareVersion: fields[1],
		Preamble:        fields[2],
		Calfactor:       calfactor,
	}, nil
}
