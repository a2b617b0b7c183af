// Package units provides shared constants and conversions for the length and
// feed-rate units that appear in G-code programs and scanner output.
//
// Machine space is always millimetres internally; G20/G21 only affect how
// program coordinates are interpreted on the way in. Scanner space is
// "digital units" (DU): the offset-binary 16-bit range addressed by the
// XY2-100 position words.
package units

import "fmt"

// Length units accepted from G-code.
const (
	Millimetres = "mm"
	Inches      = "inch"
)

// MMPerInch is the exact inch definition.
const MMPerInch = 25.4

// Digital-unit range addressable by a 16-bit XY2-100 position word.
const (
	DUMin    = 0
	DUMax    = 65535
	DUCentre = 32768
)

// ValidUnits lists the unit values a program may select.
var ValidUnits = []string{Millimetres, Inches}

// IsValid reports whether unit names a supported length unit.
func IsValid(unit string) bool {
	for _, v := range ValidUnits {
		if unit == v {
			return true
		}
	}
	return false
}

// ToMillimetres converts a coordinate value expressed in the given unit to
// millimetres.
func ToMillimetres(v float64, unit string) (float64, error) {
	switch unit {
	case Millimetres:
		return v, nil
	case Inches:
		return v * MMPerInch, nil
	default:
		return 0, fmt.Errorf("unknown length unit %q", unit)
	}
}

// FeedToMMPerSec converts a G-code feed rate (length units per minute) to
// millimetres per second.
func FeedToMMPerSec(feed float64, unit string) (float64, error) {
	mm, err := ToMillimetres(feed, unit)
	if err != nil {
		return 0, err
	}
	return mm / 60.0, nil
}

// InDURange reports whether a scanner-space coordinate is addressable.
func InDURange(v float64) bool {
	return v >= DUMin && v <= DUMax
}
