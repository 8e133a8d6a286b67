// Package palette assigns a stable chart color to every activity type a user
// has recorded.
package palette

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
)

// RGB is a color with channels in [0, 1].
type RGB struct {
	R, G, B float64
}

func rgb255(r, g, b float64) RGB {
	return RGB{R: r / 255, G: g / 255, B: b / 255}
}

// Fixed colors are handed out first, in order.
var Fixed = []RGB{
	rgb255(54, 162, 235),
	rgb255(255, 99, 132),
	rgb255(255, 159, 64),
	rgb255(255, 205, 86),
	rgb255(75, 192, 192),
	rgb255(153, 102, 255),
	rgb255(201, 203, 207),
}

var (
	white = RGB{1, 1, 1}
	black = RGB{0, 0, 0}
)

const (
	// PastelFactor pulls generated colors toward white.
	PastelFactor = 0.7
	// candidates tried per generated color.
	candidates = 1000
	// Generation is seeded so the same type list always gets the same colors.
	seedHi, seedLo = 0x6669746e, 0x65726421
)

// Assign maps each type, in the order given, to a "#RRGGBB" color.
func Assign(types []string) map[string]string {
	colors := Colors(len(types))
	out := make(map[string]string, len(types))
	for i, t := range types {
		out[t] = Hex(colors[i])
	}
	return out
}

// Decode reads a stored palette. An empty or malformed value decodes to an
// empty palette.
func Decode(stored string) map[string]string {
	out := map[string]string{}
	if stored == "" {
		return out
	}
	if err := json.Unmarshal([]byte(stored), &out); err != nil {
		return map[string]string{}
	}
	return out
}

// Colors returns n colors: the fixed palette first, then generated colors
// that stay away from the fixed ones and from pure white and black.
func Colors(n int) []RGB {
	if n <= len(Fixed) {
		return append([]RGB(nil), Fixed[:n]...)
	}
	exclude := append(append([]RGB(nil), Fixed...), white, black)
	return append(append([]RGB(nil), Fixed...), Generate(n-len(Fixed), exclude)...)
}

// Generate picks n colors one at a time, each the random pastel candidate
// farthest from every color in exclude and every color already picked.
func Generate(n int, exclude []RGB) []RGB {
	rng := rand.New(rand.NewPCG(seedHi, seedLo))
	taken := append([]RGB(nil), exclude...)
	out := make([]RGB, 0, n)

	for len(out) < n {
		var (
			best     RGB
			bestDist = -1.0
		)
		for i := 0; i < candidates; i++ {
			c := pastel(rng)
			d := minDistance(c, taken)
			if d > bestDist {
				best, bestDist = c, d
			}
		}
		out = append(out, best)
		taken = append(taken, best)
	}
	return out
}

func pastel(rng *rand.Rand) RGB {
	ch := func() float64 { return (rng.Float64() + PastelFactor) / (1 + PastelFactor) }
	return RGB{R: ch(), G: ch(), B: ch()}
}

func minDistance(c RGB, others []RGB) float64 {
	d := math.Inf(1)
	for _, o := range others {
		d = math.Min(d, Distance(c, o))
	}
	return d
}

// Distance is the "redmean" weighted RGB distance, a cheap approximation of
// perceived difference.
func Distance(a, b RGB) float64 {
	rMean := (a.R + b.R) * 255 / 2
	dr := (a.R - b.R) * 255
	dg := (a.G - b.G) * 255
	db := (a.B - b.B) * 255
	return math.Sqrt((2+rMean/256)*dr*dr + 4*dg*dg + (2+(255-rMean)/256)*db*db)
}

// Hex renders c as "#RRGGBB", rounding each channel to the nearest integer.
func Hex(c RGB) string {
	return fmt.Sprintf("#%02X%02X%02X", channel(c.R), channel(c.G), channel(c.B))
}

func channel(v float64) int {
	return int(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
