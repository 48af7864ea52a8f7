// Package led contains color types shared by the animation components.
package led

import (
	"encoding"
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// RGBColor is a color triple in red, green, blue order.
type RGBColor [3]uint8

var (
	_ encoding.TextUnmarshaler = (*RGBColor)(nil)
	_ encoding.TextMarshaler   = (*RGBColor)(nil)
)

// RGB creates a new color.
func RGB(r, g, b uint8) RGBColor {
	return RGBColor{r, g, b}
}

// ParseHex parses a color in "#RRGGBB" or "#RGB" notation.
func ParseHex(s string) (RGBColor, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return RGBColor{}, errors.Wrapf(err, "invalid color %q", s)
	}
	r, g, b := c.RGB255()
	return RGBColor{r, g, b}, nil
}

// MustParseHex is like ParseHex but panics on error.
func MustParseHex(s string) RGBColor {
	c, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// R returns the red channel.
func (c RGBColor) R() uint8 { return c[0] }

// G returns the green channel.
func (c RGBColor) G() uint8 { return c[1] }

// B returns the blue channel.
func (c RGBColor) B() uint8 { return c[2] }

// Hex returns the color in "#rrggbb" notation.
func (c RGBColor) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

// String implements fmt.Stringer.
func (c RGBColor) String() string {
	return fmt.Sprintf("{%d,%d,%d}", c[0], c[1], c[2])
}

func (c *RGBColor) UnmarshalText(text []byte) error {
	v, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c RGBColor) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// Palette is an ordered list of colors.
type Palette []RGBColor

// MustParsePalette creates a palette from hex colors. It panics if any color
// is invalid, so it is meant for package-level declarations.
func MustParsePalette(hexes ...string) Palette {
	p := make(Palette, len(hexes))
	for i, h := range hexes {
		p[i] = MustParseHex(h)
	}
	return p
}
