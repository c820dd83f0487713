package pricing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantClean string
		wantPrice float64
	}{
		{"empty", "", "", 0},
		{"dollar price", "Sends email (COST: $1.50)", "Sends email", 1.50},
		{"free marker", "Free lookup (COST: {})", "Free lookup", 0},
		{"unparseable value", "Bad (COST: abc)", "Bad", 0},
		{"empty value", "Nothing (COST: )", "Nothing", 0},
		{"no currency symbol", "Plain (COST: 2)", "Plain", 2},
		{"lower case keyword", "Mixed (cost: $0.25)", "Mixed", 0.25},
		{"annotation in the middle", "Fetch (COST: $3) quickly", "Fetch quickly", 3},
		{"trailing residue", "Partial (COST: $1.5x)", "Partial", 0},
		{"negative value", "Refund (COST: $-1)", "Refund", 0},
		{"infinite value", "Huge (COST: Inf)", "Huge", 0},
		{"only annotation", "(COST: $0.01)", "", 0.01},
		{"first annotation wins", "Two (COST: $1) (COST: $2)", "Two (COST: $2)", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, price := Parse(tt.input)
			assert.Equal(t, tt.wantClean, clean)
			assert.InDelta(t, tt.wantPrice, price, 1e-9)
		})
	}
}

func TestParseWithoutAnnotationIsIdentity(t *testing.T) {
	inputs := []string{
		"Ping",
		"  padded description  ",
		"Costs nothing (free)",
		"COST: $5 but not bracketed",
		"multi\nline\tdescription",
	}

	for _, in := range inputs {
		clean, price := Parse(in)
		assert.Equal(t, in, clean)
		assert.Zero(t, price)
	}
}

func TestParseIsIdempotent(t *testing.T) {
	inputs := []string{
		"Sends email (COST: $1.50)",
		"Free lookup (COST: {})",
		"Bad (COST: abc)",
		"Ping (COST: $0.01)",
	}

	for _, in := range inputs {
		clean, _ := Parse(in)
		again, price := Parse(clean)
		assert.Equal(t, clean, again)
		assert.Zero(t, price)
		assert.False(t, strings.Contains(strings.ToUpper(clean), "(COST:"))
	}
}
