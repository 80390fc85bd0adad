// Package telemetry defines the CIR telemetry fields and the sample model
// shared by the ingestion pipeline, the exporters and the dashboard.
package telemetry

import (
	"math"
	"time"
)

// Field identifies one named numeric telemetry channel.
type Field string

// Known telemetry fields, in display order. The order is fixed at startup
// and drives color assignment in the dashboard.
const (
	FieldDistance  Field = "D"
	FieldFOM       Field = "fom"
	FieldPD01      Field = "PD01"
	FieldPD02      Field = "PD02"
	FieldPD12      Field = "PD12"
	FieldAzimuth   Field = "azimuth"
	FieldElevation Field = "elevation"
)

// fields is the fixed, ordered set of known fields.
var fields = []Field{
	FieldDistance,
	FieldFOM,
	FieldPD01,
	FieldPD02,
	FieldPD12,
	FieldAzimuth,
	FieldElevation,
}

// labels maps each field to a human-readable label for display.
var labels = map[Field]string{
	FieldDistance:  "Distance (cm)",
	FieldFOM:       "Figure of Merit",
	FieldPD01:      "Phase Diff 01",
	FieldPD02:      "Phase Diff 02",
	FieldPD12:      "Phase Diff 12",
	FieldAzimuth:   "Azimuth (°)",
	FieldElevation: "Elevation (°)",
}

// Fields returns the known fields in display order. The returned slice
// must not be modified by the caller.
func Fields() []Field {
	return fields
}

// IsKnown reports whether name is one of the known telemetry fields.
func IsKnown(name string) bool {
	for _, f := range fields {
		if string(f) == name {
			return true
		}
	}
	return false
}

// Label returns the display label for a field, or the field name itself
// for fields without one.
func (f Field) Label() string {
	if l, ok := labels[f]; ok {
		return l
	}
	return string(f)
}

// ColorIndex returns the position of the field in the display order,
// used by consumers to assign a stable plot color. Unknown fields get 0.
func (f Field) ColorIndex() int {
	for i, known := range fields {
		if known == f {
			return i
		}
	}
	return 0
}

// PageGroup is a named subset of fields shown together on one dashboard page.
type PageGroup struct {
	Name   string
	Fields []Field
}

// PageGroups returns the dashboard page layout: distance/quality,
// phase differences and angles.
func PageGroups() []PageGroup {
	return []PageGroup{
		{Name: "Distance & Quality", Fields: []Field{FieldDistance, FieldFOM}},
		{Name: "Phase Difference", Fields: []Field{FieldPD01, FieldPD02, FieldPD12}},
		{Name: "Angle", Fields: []Field{FieldAzimuth, FieldElevation}},
	}
}

// DefaultEnabled returns the fields enabled for display when a session starts.
func DefaultEnabled() []Field {
	return []Field{FieldDistance, FieldAzimuth, FieldElevation}
}

// Missing is the sentinel stored for a known field that a sample's source
// line did not carry.
var Missing = math.NaN()

// IsMissing reports whether v is the missing-value sentinel.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// Sample is one ingestion event: a monotonically increasing index, the
// capture wall-clock time and one value (possibly Missing) per known field.
type Sample struct {
	Index     uint64
	Timestamp time.Time
	Values    map[Field]float64
}

// NewSample builds a sample from parsed line values. Every known field
// gets an entry: the parsed value when present, Missing otherwise.
// Keys in parsed that are not known fields are ignored.
func NewSample(index uint64, ts time.Time, parsed map[string]float64) Sample {
	values := make(map[Field]float64, len(fields))
	for _, f := range fields {
		if v, ok := parsed[string(f)]; ok {
			values[f] = v
		} else {
			values[f] = Missing
		}
	}
	return Sample{Index: index, Timestamp: ts, Values: values}
}
