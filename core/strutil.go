package core

import (
	"strconv"
	"strings"
)

// itoa converts an integer to a string without using fmt package
// This is a lightweight alternative for embedded systems
func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	negative := n < 0
	if negative {
		n = -n
	}

	// Count digits
	temp := n
	digits := 0
	for temp > 0 {
		digits++
		temp /= 10
	}

	if negative {
		digits++
	}

	// Build string from right to left
	buf := make([]byte, digits)
	pos := digits - 1
	for n > 0 {
		buf[pos] = byte('0' + n%10)
		n /= 10
		pos--
	}

	if negative {
		buf[0] = '-'
	}

	return string(buf)
}

// binaryString renders the low width bits of v, most significant first,
// zero padded.
func binaryString(v uint64, width int) string {
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		if v&(1<<uint(width-1-i)) != 0 {
			buf[i] = '1'
		} else {
			buf[i] = '0'
		}
	}
	return string(buf)
}

// hexString renders v as 0x-prefixed upper-case hex padded to digits.
func hexString(v uint64, digits int) string {
	s := strings.ToUpper(strconv.FormatUint(v, 16))
	for len(s) < digits {
		s = "0" + s
	}
	return "0x" + s
}

// formatVolts renders a voltage with three decimals.
func formatVolts(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func toLower(s string) string {
	return strings.ToLower(s)
}

// ParseNumber parses an unsigned integer in decimal, 0x hex or 0b binary.
// A leading zero does not mean octal.
func ParseNumber(s string) (uint64, error) {
	base := 10
	digits := s
	if len(s) > 2 && s[0] == '0' {
		switch s[1] {
		case 'x', 'X':
			base, digits = 16, s[2:]
		case 'b', 'B':
			base, digits = 2, s[2:]
		}
	}
	if digits == "" || digits[0] == '+' || digits[0] == '-' {
		return 0, newError(ErrInvalidValue, "", "not a number: %q", s)
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, newError(ErrInvalidValue, "", "not a number: %q", s)
	}
	return v, nil
}

// ParseFloat parses a decimal voltage. NaN and infinities are rejected.
func ParseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v != v || v > 1e300 || v < -1e300 {
		return 0, newError(ErrInvalidValue, "", "not a number: %q", s)
	}
	return v, nil
}

// parsePattern parses a cpld_write argument: a number in any accepted base,
// or exactly 48 '0'/'1' characters, most significant first.
func parsePattern(s string) (uint64, error) {
	if len(s) == StageCount && strings.Trim(s, "01") == "" {
		v, _ := strconv.ParseUint(s, 2, 64)
		return v, nil
	}
	v, err := ParseNumber(s)
	if err != nil {
		return 0, err
	}
	if v>>StageCount != 0 {
		return 0, newError(ErrInvalidValue, "", "pattern wider than %d bits", StageCount)
	}
	return v, nil
}
