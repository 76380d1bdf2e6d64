// Package money implements fixed-point arithmetic over centavos, the minor
// unit of the Philippine peso. Balances and amounts are always int64 minor
// units; floating point appears only at the system boundary where a
// human-entered major amount is converted exactly once.
package money

import (
	"fmt"
	"math"
	"strings"
)

// MinorPerMajor is the number of centavos in one peso.
const MinorPerMajor = 100

// ToMinor converts a major-unit amount to centavos, rounding half-up.
// Every boundary that accepts a human-entered amount must go through this;
// nothing downstream ever touches a float again.
func ToMinor(major float64) int64 {
	return int64(math.Floor(major*MinorPerMajor + 0.5))
}

// ToMajor converts centavos back to a major-unit amount. The minor-to-major
// direction is exact for any amount representable in two decimals.
func ToMajor(minor int64) float64 {
	return float64(minor) / MinorPerMajor
}

// Add returns a + b.
func Add(a, b int64) int64 { return a + b }

// Subtract returns a - b. The result may be negative; whether that is an
// error is the caller's policy.
func Subtract(a, b int64) int64 { return a - b }

// Compare returns -1, 0 or 1 as a is less than, equal to or greater than b.
func Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Fee returns the fee share of gross at the given rate in basis points,
// rounded half-up. A zero rate yields zero.
func Fee(gross int64, bps int64) int64 {
	if bps == 0 || gross == 0 {
		return 0
	}
	if gross < 0 {
		return -Fee(-gross, bps)
	}
	return (gross*bps + 5000) / 10000
}

// FormatPHP renders centavos as a human-readable peso string, e.g.
// FormatPHP(123456) == "₱1,234.56". Used only for logs and event payloads.
func FormatPHP(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	whole := minor / MinorPerMajor
	frac := minor % MinorPerMajor

	digits := fmt.Sprintf("%d", whole)
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return fmt.Sprintf("%s₱%s.%02d", sign, b.String(), frac)
}
