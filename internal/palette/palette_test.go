package palette

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHex(t *testing.T) {
	tests := []struct {
		in   RGB
		want string
	}{
		{Fixed[0], "#36A2EB"},
		{Fixed[1], "#FF6384"},
		{Fixed[6], "#C9CBCF"},
		{white, "#FFFFFF"},
		{black, "#000000"},
		{RGB{0.5, 0.5, 0.5}, "#808080"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Hex(tt.in))
	}
}

func TestAssignUsesFixedPaletteInOrder(t *testing.T) {
	types := []string{"Ride", "Run", "Swim"}

	first := Assign(types)
	assert.Equal(t, map[string]string{
		"Ride": "#36A2EB",
		"Run":  "#FF6384",
		"Swim": "#FF9F40",
	}, first)

	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Assign(types))
	}
}

func TestAssignEmpty(t *testing.T) {
	assert.Empty(t, Assign(nil))
}

func TestAssignBeyondFixedPalette(t *testing.T) {
	types := make([]string, 10)
	for i := range types {
		types[i] = fmt.Sprintf("Type%d", i)
	}

	got := Assign(types)
	require.Len(t, got, 10)

	// The first seven are the fixed colors.
	for i := 0; i < len(Fixed); i++ {
		assert.Equal(t, Hex(Fixed[i]), got[types[i]])
	}

	seen := map[string]bool{}
	for _, c := range got {
		assert.False(t, seen[c], "duplicate color %s", c)
		seen[c] = true
	}
	assert.False(t, seen["#FFFFFF"])
	assert.False(t, seen["#000000"])

	// Generation is deterministic across runs.
	assert.Equal(t, got, Assign(types))
}

func TestGenerateIsPastelAndDistinct(t *testing.T) {
	exclude := append(append([]RGB(nil), Fixed...), white, black)
	colors := Generate(4, exclude)
	require.Len(t, colors, 4)

	floor := PastelFactor / (1 + PastelFactor)
	for _, c := range colors {
		for _, ch := range []float64{c.R, c.G, c.B} {
			assert.GreaterOrEqual(t, ch, floor)
			assert.LessOrEqual(t, ch, 1.0)
		}
		for _, e := range exclude {
			assert.Greater(t, Distance(c, e), 0.0)
		}
	}
}

func TestDistance(t *testing.T) {
	assert.Zero(t, Distance(Fixed[0], Fixed[0]))
	assert.InDelta(t, Distance(white, black), Distance(black, white), 1e-9)
	assert.Greater(t, Distance(white, black), Distance(white, Fixed[6]))
}

func TestDecode(t *testing.T) {
	assert.Equal(t, map[string]string{"Run": "#36a2eb"}, Decode(`{"Run":"#36a2eb"}`))
	assert.Empty(t, Decode(""))
	assert.Empty(t, Decode("{not json"))
}
