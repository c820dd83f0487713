// Package pricing extracts per-call price annotations embedded in MCP tool
// descriptions, e.g. "Sends email (COST: $1.50)".
package pricing

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// costPattern matches the first "(COST: <value>)" annotation along with the
// whitespace that precedes it
var costPattern = regexp.MustCompile(`(?i)\s*\(COST:\s*([^)]*)\)`)

// Parse returns the description with its price annotation removed and the
// price it encodes. Descriptions without an annotation are returned unchanged
// with price 0. Malformed values never fail; they price the tool at 0.
func Parse(description string) (string, float64) {
	if description == "" {
		return "", 0
	}

	loc := costPattern.FindStringSubmatchIndex(description)
	if loc == nil {
		return description, 0
	}

	value := description[loc[2]:loc[3]]
	clean := strings.TrimSpace(description[:loc[0]] + description[loc[1]:])

	return clean, parseValue(value)
}

func parseValue(raw string) float64 {
	value := strings.TrimSpace(raw)
	if value == "" || value == "{}" {
		return 0
	}

	value = strings.TrimSpace(strings.TrimPrefix(value, "$"))
	price, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return 0
	}
	return price
}
