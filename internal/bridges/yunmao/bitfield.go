package yunmao

import (
	"fmt"
	"strconv"
	"strings"
)

// bitfieldWidth is the widest status word the gateway reports.
const bitfieldWidth = 64

// Decode reports whether the circuit at position is on in a packed status word.
//
// The word is a numeric literal as sent by the gateway, usually hexadecimal
// with a "0x" prefix. Standard base prefixes (0x, 0o, 0b) are accepted.
// Position 1 is the least significant bit.
//
// Parameters:
//   - word: Status word literal (e.g. "0x05")
//   - position: 1-based circuit index
//
// Returns:
//   - bool: Circuit state
//   - error: Wraps ErrDecode if the literal is not an integer or position < 1
func Decode(word string, position int) (bool, error) {
	if position < 1 {
		return false, fmt.Errorf("%w: position %d", ErrDecode, position)
	}

	v, err := strconv.ParseUint(strings.TrimSpace(word), 0, bitfieldWidth)
	if err != nil {
		return false, fmt.Errorf("%w: literal %q: %w", ErrDecode, word, err)
	}

	if position > bitfieldWidth {
		return false, nil
	}

	return (v>>uint(position-1))&1 == 1, nil
}

// SwitchAttr returns the command attribute name for a switch circuit.
//
// Example: SwitchAttr(2) == "KY2"
func SwitchAttr(position int) string {
	return "KY" + strconv.Itoa(position)
}

// SwitchValue returns the command value for a switch state.
func SwitchValue(on bool) string {
	if on {
		return SwitchOn
	}
	return SwitchOff
}
