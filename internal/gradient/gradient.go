// Package gradient maps numeric feedback onto fixed color gradients.
package gradient

import (
	"fmt"

	"libdb.so/fleetglow/internal/led"
)

// Steps is the number of colors in each gradient palette.
const Steps = 9

// MaxIndex is the index of the last color in a palette.
const MaxIndex = Steps - 1

var (
	// BlueToWhite fades from deep sky blue to white.
	BlueToWhite = led.MustParsePalette(
		"#0099ff", "#00bfff", "#00ddff", "#00fbff",
		"#75fff4", "#adfff8", "#c7fffa", "#dbfeff", "#ffffff",
	)
	// RedToWhite fades from red through orange and yellow to white.
	RedToWhite = led.MustParsePalette(
		"#ff0000", "#ff5100", "#ff5e00", "#ff6f00",
		"#ffbb00", "#ffee00", "#fff34f", "#ffffdb", "#ffffff",
	)
)

// MapRange clamps value into [srcMin, srcMax] and linearly rescales it onto
// [dstMin, dstMax], truncating the result toward zero. dstMin may be greater
// than dstMax to invert the mapping. A degenerate source range maps everything
// to dstMin.
func MapRange(value, srcMin, srcMax, dstMin, dstMax int) int {
	if srcMax == srcMin {
		return dstMin
	}

	v := float64(value)
	lo := float64(srcMin)
	hi := float64(srcMax)

	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}

	scale := float64(dstMax - dstMin)
	return int(float64(dstMin) + scale*((v-lo)/(hi-lo)))
}

// Lookup returns the color at index i of the palette. An out-of-range index is
// a bug in the caller: debug builds (tag fleetglow_debug) panic, others clamp.
func Lookup(p led.Palette, i int) led.RGBColor {
	if i < 0 || i >= len(p) {
		if debug {
			panic(fmt.Sprintf("gradient index %d out of range [0, %d)", i, len(p)))
		}
		i = clamp(i, 0, len(p)-1)
	}
	return p[i]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
