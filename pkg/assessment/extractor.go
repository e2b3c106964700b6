package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"gorm.io/gorm"

	"github.com/greenbuild/autoload/pkg/tenancy"
)

var (
	// ErrUnknownFuel is the skip reason for measurement headers naming no
	// known fuel.
	ErrUnknownFuel = errors.New("no fuel type in header")
	// ErrAmbiguousFuel is the skip reason for headers naming several fuels.
	ErrAmbiguousFuel = errors.New("several fuel types in header")
	// ErrAmbiguousKind is the skip reason for headers naming several
	// measurement kinds.
	ErrAmbiguousKind = errors.New("several measurement kinds in header")
)

// Fuel is one entry of the fuel vocabulary and the header tokens naming it.
type Fuel struct {
	Name   string
	Tokens []string
}

// Fuels is the vocabulary headers are matched against. No token of one
// entry contains a token of another.
var Fuels = []Fuel{
	{Name: "Electricity", Tokens: []string{"electric"}},
	{Name: "Natural Gas", Tokens: []string{"natural gas"}},
	{Name: "Fuel Oil", Tokens: []string{"fuel oil", "heating oil"}},
	{Name: "Propane", Tokens: []string{"propane"}},
	{Name: "Diesel", Tokens: []string{"diesel"}},
	{Name: "Kerosene", Tokens: []string{"kerosene"}},
	{Name: "Coal", Tokens: []string{"coal"}},
	{Name: "Wood", Tokens: []string{"wood"}},
	{Name: "District Steam", Tokens: []string{"steam"}},
	{Name: "District Hot Water", Tokens: []string{"hot water"}},
	{Name: "District Chilled Water", Tokens: []string{"chilled water"}},
}

var kinds = []MeasurementKind{KindConsumption, KindProduction, KindCapacity}

// FieldSpec declares how one header maps to a measurement. Registered specs
// take precedence over reading the header text.
type FieldSpec struct {
	Header string
	Kind   MeasurementKind
	Fuel   string
	PV     bool
}

// SkippedField is a measurement header that produced no measurement.
type SkippedField struct {
	Header string
	Reason error
}

func (s SkippedField) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Header string `json:"header"`
		Reason string `json:"reason"`
	}{s.Header, s.Reason.Error()})
}

// ExtractResult counts the measurements one row produced.
type ExtractResult struct {
	Created int            `json:"created"`
	Updated int            `json:"updated"`
	Skipped []SkippedField `json:"skipped,omitempty"`
}

// Extractor turns wide-format measurement cells into Measurement rows.
type Extractor struct {
	specs map[string]FieldSpec
}

// NewExtractor creates an Extractor with the given explicit field specs.
func NewExtractor(specs ...FieldSpec) *Extractor {
	x := &Extractor{specs: make(map[string]FieldSpec, len(specs))}
	for _, s := range specs {
		x.specs[normalizeHeader(s.Header)] = s
	}
	return x
}

// Spec resolves the measurement a header describes. ok is false for headers
// that are not measurement fields; err explains measurement headers that
// cannot be used.
func (x *Extractor) Spec(header string) (spec FieldSpec, ok bool, err error) {
	h := normalizeHeader(header)
	spec, found := x.specs[h]
	if !found {
		var matched []MeasurementKind
		for _, k := range kinds {
			if strings.Contains(h, string(k)) {
				matched = append(matched, k)
			}
		}
		switch len(matched) {
		case 0:
			return FieldSpec{}, false, nil
		case 1:
		default:
			return FieldSpec{}, true, fmt.Errorf("%w: %q", ErrAmbiguousKind, header)
		}
		spec = FieldSpec{Header: header, Kind: matched[0], PV: isPV(h)}
	}
	if spec.Fuel != "" {
		return spec, true, nil
	}

	fuel, err := fuelOf(h)
	switch {
	case errors.Is(err, ErrUnknownFuel) && spec.PV:
		spec.Fuel = "Electricity"
	case err != nil:
		return FieldSpec{}, true, fmt.Errorf("%w: %q", err, header)
	default:
		spec.Fuel = fuel
	}
	return spec, true, nil
}

// Extract stores one measurement per usable header of the row, reusing
// identical rows of the same assessment property. Headers and values are
// paired by position.
func (x *Extractor) Extract(ctx context.Context, tx *gorm.DB, actor tenancy.Actor, headers, values []string, propertyID string) (ExtractResult, error) {
	var res ExtractResult
	if len(headers) != len(values) {
		return res, fmt.Errorf("extract measurements: %d headers but %d values", len(headers), len(values))
	}
	store := NewStore(tx)
	for i, header := range headers {
		spec, ok, err := x.Spec(header)
		if !ok {
			continue
		}
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedField{Header: header, Reason: err})
			continue
		}
		if strings.TrimSpace(values[i]) == "" {
			continue
		}
		cell, err := ParseCell(values[i])
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedField{Header: header, Reason: err})
			continue
		}

		m := &Measurement{
			OrganizationID:       actor.Organization,
			AssessmentPropertyID: propertyID,
			Kind:                 spec.Kind,
			Fuel:                 spec.Fuel,
			Quantity:             cell.Quantity,
			Unit:                 cell.Unit,
			Status:               cell.Status,
		}
		if spec.PV {
			m.Subtype = SubtypePV
		}
		if spec.Kind == KindCapacity {
			m.Year = cell.Year
		}
		created, err := store.fetchOrCreateMeasurement(ctx, m)
		if err != nil {
			return res, err
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}

// fuelOf requires exactly one vocabulary entry to occur in the header.
func fuelOf(h string) (string, error) {
	var found []string
	for _, f := range Fuels {
		for _, tok := range f.Tokens {
			if strings.Contains(h, tok) {
				found = append(found, f.Name)
				break
			}
		}
	}
	switch len(found) {
	case 0:
		return "", ErrUnknownFuel
	case 1:
		return found[0], nil
	}
	return "", fmt.Errorf("%w (%s)", ErrAmbiguousFuel, strings.Join(found, ", "))
}

func isPV(h string) bool {
	if strings.Contains(h, "photovoltaic") {
		return true
	}
	for _, w := range strings.FieldsFunc(h, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
		if w == "pv" {
			return true
		}
	}
	return false
}
