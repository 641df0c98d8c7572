package wire

import "strconv"

const (
	esc byte = 0x1B
	cr  byte = 0x0D
)

// MenuEnter returns the ESC byte that drops the instrument into its
// interactive configuration menu.
func MenuEnter() []byte {
	return []byte{esc}
}

// MenuCommand returns the single-letter menu selection, CR-terminated.
func MenuCommand(letter byte) []byte {
	return []byte{letter, cr}
}

// NumericReply returns the decimal digits of n, CR-terminated, for
// answering a menu's numeric prompt.
func NumericReply(n int) []byte {
	b := []byte(strconv.Itoa(n))
	return append(b, cr)
}

// PolledInit returns the command that arms polled-mode acquisition for
// the given TAG letter.
func PolledInit(tag byte) []byte {
	b := []byte{'*', tag}
	b = append(b, []byte("Q000!")...)
	return append(b, cr)
}

// PolledQuery returns the single-reading query for the given TAG letter.
func PolledQuery(tag byte) []byte {
	return []byte{'>', tag, cr}
}

// MenuExit returns the "X" command. Sending it triggers a full hardware
// reset on the device; callers must follow the documented post-reset
// settle and flush (see instrument.Controller).
func MenuExit() []byte {
	return []byte{'X', cr}
}
