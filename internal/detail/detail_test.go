package detail

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	got := Encode([]Item{{Name: "Coffee", Quantity: 3}, {Name: "Croissant", Quantity: 1}})
	assert.Equal(t, "Coffee(3), Croissant(1)", got)
	assert.Equal(t, "", Encode(nil))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Item
	}{
		{"empty", "", nil},
		{"single", "Coffee(3)", []Item{{"Coffee", 3}}},
		{"multiple", "Coffee(3), Croissant(1)", []Item{{"Coffee", 3}, {"Croissant", 1}}},
		{"no space after comma", "Coffee(3),Tea(2)", []Item{{"Coffee", 3}, {"Tea", 2}}},
		{"spaces in name", "Cafe con leche(2)", []Item{{"Cafe con leche", 2}}},
		{"missing parens skipped", "Coffee, Tea(2)", []Item{{"Tea", 2}}},
		{"bad quantity skipped", "Coffee(x), Tea(2)", []Item{{"Tea", 2}}},
		{"zero quantity skipped", "Coffee(0), Tea(2)", []Item{{"Tea", 2}}},
		{"negative quantity skipped", "Coffee(-1)", []Item{}},
		{"empty name skipped", "(4), Tea(1)", []Item{{"Tea", 1}}},
		{"trailing comma", "Tea(1), ", []Item{{"Tea", 1}}},
		{"legacy pipe form", "Coffee:3|Tea:1", []Item{{"Coffee", 3}, {"Tea", 1}}},
		{"legacy malformed token", "Coffee:x|Tea:1|:2", []Item{{"Tea", 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	names := []string{"Coffee", "Tea", "Croissant", "Agua 500ml", "Empanada de pollo", "Jugo"}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		n := rng.Intn(len(names)) + 1
		perm := rng.Perm(len(names))[:n]
		items := make([]Item, 0, n)
		for _, idx := range perm {
			require.True(t, Safe(names[idx]))
			items = append(items, Item{Name: names[idx], Quantity: rng.Intn(50) + 1})
		}

		parsed := Parse(Encode(items))
		assert.ElementsMatch(t, items, parsed)
	}
}

func TestRoundTripIsOrderInsensitive(t *testing.T) {
	a := Parse("Tea(1), Coffee(2)")
	b := Parse("Coffee(2), Tea(1)")
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })
	sort.Slice(b, func(i, j int) bool { return b[i].Name < b[j].Name })
	assert.Equal(t, a, b)
}

func TestSafe(t *testing.T) {
	assert.True(t, Safe("Coffee"))
	assert.False(t, Safe(""))
	assert.False(t, Safe(" Coffee"))
	assert.False(t, Safe("Coffee, large"))
	assert.False(t, Safe("Coffee (L)"))
	assert.False(t, Safe("a|b"))
}
