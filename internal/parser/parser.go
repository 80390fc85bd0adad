// Package parser extracts named numeric fields from raw telemetry lines.
//
// CIR firmware emits the same data in several textual encodings
// (colon-separated, equals-separated, with or without a trailing unit).
// The parser tries a fixed priority list of grammars and commits to the
// first one that matches anywhere on the line, so a line that happens to
// satisfy more than one grammar is always read the same way.
package parser

import (
	"log"
	"regexp"
	"strconv"
	"strings"
)

// grammars, in priority order. Each matches repeated "key sep value [unit]"
// tokens; keys are case-sensitive alphanumeric identifiers, values signed
// decimals with an optional fractional part. Units are discarded.
var grammars = []*regexp.Regexp{
	regexp.MustCompile(`([A-Za-z0-9]+):\s*(-?\d+(?:\.\d+)?)`),                   // Key:Value
	regexp.MustCompile(`([A-Za-z0-9]+)\s*=\s*(-?\d+(?:\.\d+)?)`),                // Key=Value
	regexp.MustCompile(`([A-Za-z0-9]+)\s*:\s*(-?\d+(?:\.\d+)?)(?:cm|mm|m|°|deg)?`), // Key:Value<unit>
	regexp.MustCompile(`([A-Za-z0-9]+)\s*=\s*(-?\d+(?:\.\d+)?)(?:cm|mm|m|°|deg)?`), // Key=Value<unit>
}

// Parse extracts key/value pairs from one raw telemetry line.
//
// The line is trimmed first; an empty line yields an empty map, signalling
// the caller to skip it without creating a sample. Otherwise grammars are
// tried in order and the first one with at least one match across the line
// wins; matches from different grammars are never combined. A token whose
// value fails numeric conversion is dropped (logged) while the remaining
// tokens of the same line are kept, so a partial line is still usable.
//
// Unknown keys are retained: filtering to the known field set is the
// caller's job, which keeps the parser forward-compatible with new
// telemetry keys.
//
// Parse is pure and never fails; unparsable input yields an empty map.
func Parse(line string) map[string]float64 {
	line = strings.TrimSpace(line)
	values := make(map[string]float64)
	if line == "" {
		return values
	}

	for _, g := range grammars {
		matches := g.FindAllStringSubmatch(line, -1)
		if len(matches) == 0 {
			continue
		}
		for _, m := range matches {
			key, raw := strings.TrimSpace(m[1]), m[2]
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				log.Printf("parser: cannot convert value %q for key %q: %v", raw, key, err)
				continue
			}
			values[key] = v
		}
		break
	}

	return values
}
