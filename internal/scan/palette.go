package scan

import (
	"image/color"
	"math"
)

// MeshAlpha is the opacity every scan surface is drawn with.
const MeshAlpha = 150

const goldenRatioConjugate = 0.618033988749895

// PaletteColor returns a deterministic color for the n-th scan. Hues advance
// by the golden ratio so neighbouring ids stay visually distinct.
func PaletteColor(n int) color.NRGBA {
	h := math.Mod(0.13+float64(n)*goldenRatioConjugate, 1)
	r, g, b := hsvToRGB(h, 0.65, 0.95)
	return color.NRGBA{R: r, G: g, B: b, A: MeshAlpha}
}

func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return uint8(math.Round(r * 255)), uint8(math.Round(g * 255)), uint8(math.Round(b * 255))
}
