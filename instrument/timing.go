package instrument

import "time"

// Timing holds the protocol driver's fixed timing constants. In
// production these are never anything but the documented defaults; the
// only supported override path is an explicit constructor option, so
// tests can scale them down without risking a tunable leaking into
// production configuration.
type Timing struct {
	PowerOnSettle time.Duration // post-open settle before flush+ESC (1.2s)
	MenuTimeout   time.Duration // wait for MENU_PROMPT (3.0s)
	ReadTimeout   time.Duration // transport read_line timeout (0.5s)
	ResetSettle   time.Duration // post-"X" hardware-reset settle (1.5s)
}

// DefaultTiming returns the protocol's documented fixed constants.
func DefaultTiming() Timing {
	return Timing{
		PowerOnSettle: 1200 * time.Millisecond,
		MenuTimeout:   3000 * time.Millisecond,
		ReadTimeout:   500 * time.Millisecond,
		ResetSettle:   1500 * time.Millisecond,
	}
}
