package wire

import (
	"regexp"
	"strings"
)

// LineKind is the result of classifying one inbound line.
type LineKind int

const (
	UnknownLine LineKind = iota
	MenuPrompt
	BannerLine
	ConfigDump
	Echo
	FreerunReading
	PolledReading
	ErrorBanner
)

func (k LineKind) String() string {
	switch k {
	case MenuPrompt:
		return "MENU_PROMPT"
	case BannerLine:
		return "BANNER_LINE"
	case ConfigDump:
		return "CONFIG_DUMP"
	case Echo:
		return "ECHO"
	case FreerunReading:
		return "FREERUN_READING"
	case PolledReading:
		return "POLLED_READING"
	case ErrorBanner:
		return "ERROR_BANNER"
	default:
		return "UNKNOWN"
	}
}

const menuPromptPhrase = "select the letter of the menu entry:"

const numPattern = `[+-]?\d+(?:\.\d+)?`

var (
	freerunPattern = regexp.MustCompile(`^[^,\d+\-]{0,8}(` + numPattern + `)(?:,(` + numPattern + `))?(?:,(` + numPattern + `))?$`)
	polledPattern  = regexp.MustCompile(`^([A-Za-z]),(` + numPattern + `)(?:,(` + numPattern + `))?(?:,(` + numPattern + `))?$`)
	bannerPattern  = regexp.MustCompile(`(?i)\bREV\b|SN=`)
	echoPattern    = regexp.MustCompile(`^[A-Za-z0-9]$`)
	configDumpSep  = regexp.MustCompile(`,`)
)

// errorBanners lists the device's fixed error strings, each tagged with a
// stable symbolic name. "AveragingInvalidHint" is matched by prefix since
// the device appends a variable suffix.
type errorBanner struct {
	tag    string
	text   string
	prefix bool
}

var errorBanners = []errorBanner{
	{tag: "RateInvalid", text: "Invalid rate!!! Command is ignored."},
	{tag: "AveragingInvalidHint", text: "****Invalid number, averaging set to 12", prefix: true},
	{tag: "BadTag", text: " Bad TAG "},
	{tag: "Confused", text: "I am confused"},
	{tag: "ResponseTimeout", text: "Timed out waiting for response."},
}

// Classify inspects a single line (terminator already stripped by the
// transport) and reports its kind. Classify never returns an error; a
// line that matches nothing recognized is UnknownLine.
func Classify(line string) LineKind {
	trimmed := strings.TrimRight(line, " \t\r\n")
	if strings.EqualFold(strings.TrimSpace(trimmed), strings.TrimSpace(menuPromptPhrase)) {
		return MenuPrompt
	}
	for _, b := range errorBanners {
		if b.prefix {
			if strings.HasPrefix(line, b.text) {
				return ErrorBanner
			}
			continue
		}
		if line == b.text {
			return ErrorBanner
		}
	}
	if isConfigDumpShape(trimmed) {
		return ConfigDump
	}
	if polledPattern.MatchString(trimmed) {
		return PolledReading
	}
	if freerunPattern.MatchString(trimmed) {
		return FreerunReading
	}
	if echoPattern.MatchString(trimmed) {
		return Echo
	}
	if bannerPattern.MatchString(line) {
		return BannerLine
	}
	return UnknownLine
}

// isConfigDumpShape recognizes the fixed positional CONFIG_DUMP layout:
// sensor_id,firmware_version,preamble,averaging,adc_rate,mode,tag,
// include_temp,include_vin,calfactor — exactly 10 fields, with the mode
// field being "F" or "P".
func isConfigDumpShape(line string) bool {
	fields := configDumpSep.Split(line, -1)
	if len(fields) != 10 {
		return false
	}
	mode := fields[5]
	return mode == "F" || mode == "P"
}

// ClassifyErrorBanner returns the symbolic tag for a line already known
// to be ErrorBanner. If the line does not match any known banner it
// returns ("", false).
func ClassifyErrorBanner(line string) (tag string, ok bool) {
	for _, b := range errorBanners {
		if b.prefix && strings.HasPrefix(line, b.text) {
			return b.tag, true
		}
		if !b.prefix && line == b.text {
			return b.tag, true
		}
	}
	return "", false
}
