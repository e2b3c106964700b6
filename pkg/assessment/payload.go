package assessment

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

const dateLayout = "2006-01-02"

// Payload fields, named as they appear in incoming records.
const (
	FieldAssessment   = "assessment"
	FieldSource       = "source"
	FieldStatus       = "status"
	FieldStatusDate   = "status_date"
	FieldMetric       = "metric"
	FieldRating       = "rating"
	FieldVersion      = "version"
	FieldDate         = "date"
	FieldTargetDate   = "target_date"
	FieldEligibility  = "eligibility"
	FieldReferenceID  = "reference_id"
	FieldURLs         = "urls"
	FieldMeasurements = "measurements"
)

// Payload is one incoming certification record. Nil fields were absent and
// leave the prior version's value untouched on revision.
type Payload struct {
	AssessmentID string
	Source       *string
	Status       *string
	StatusDate   *time.Time
	Metric       *float64
	Rating       *string
	Version      *string
	IssueDate    *time.Time
	TargetDate   *time.Time
	Eligibility  *bool
	ReferenceID  *string
	URLs         []string
	// Measurements maps wide-format headers to cell values.
	Measurements map[string]string
}

// Fields returns the sorted names of the assessment fields the payload sets.
// The assessment id, urls and measurements are not assessment fields.
func (p *Payload) Fields() []string {
	set := mapset.NewThreadUnsafeSet[string]()
	add := func(name string, present bool) {
		if present {
			set.Add(name)
		}
	}
	add(FieldSource, p.Source != nil)
	add(FieldStatus, p.Status != nil)
	add(FieldStatusDate, p.StatusDate != nil)
	add(FieldMetric, p.Metric != nil)
	add(FieldRating, p.Rating != nil)
	add(FieldVersion, p.Version != nil)
	add(FieldDate, p.IssueDate != nil)
	add(FieldTargetDate, p.TargetDate != nil)
	add(FieldEligibility, p.Eligibility != nil)
	add(FieldReferenceID, p.ReferenceID != nil)
	fields := set.ToSlice()
	slices.Sort(fields)
	return fields
}

// apply overwrites every field of dst the payload sets.
func (p *Payload) apply(dst *AssessmentProperty) {
	if p.Source != nil {
		dst.Source = *p.Source
	}
	if p.Status != nil {
		dst.Status = *p.Status
	}
	if p.StatusDate != nil {
		dst.StatusDate = p.StatusDate
	}
	if p.Metric != nil {
		dst.Metric = p.Metric
	}
	if p.Rating != nil {
		dst.Rating = *p.Rating
	}
	if p.Version != nil {
		dst.Version = *p.Version
	}
	if p.IssueDate != nil {
		dst.IssueDate = p.IssueDate
	}
	if p.TargetDate != nil {
		dst.TargetDate = p.TargetDate
	}
	if p.Eligibility != nil {
		dst.Eligibility = p.Eligibility
	}
	if p.ReferenceID != nil {
		dst.ReferenceID = *p.ReferenceID
	}
}

// validate checks the payload against its assessment type.
func (p *Payload) validate(a *GreenAssessment) error {
	if p.Metric != nil && a.IsIntegerScore && *p.Metric != math.Trunc(*p.Metric) {
		return invalid(FieldMetric, "%s scores are integers, got %v", a.Name, *p.Metric)
	}
	if p.Rating != nil && a.IsNumericScore && p.Metric == nil {
		return invalid(FieldRating, "%s is scored numerically; use metric", a.Name)
	}
	return nil
}

// ParsePayload converts a decoded JSON or YAML object into a Payload.
// Unknown keys and malformed values are rejected with *ValidationError.
func ParsePayload(raw map[string]any) (Payload, error) {
	var p Payload
	var err error
	for key, v := range raw {
		if v == nil {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case FieldAssessment, "assessment_id":
			p.AssessmentID, err = stringValue(key, v)
		case FieldSource:
			p.Source, err = optString(key, v)
		case FieldStatus:
			p.Status, err = optString(key, v)
		case FieldStatusDate:
			p.StatusDate, err = dateValue(key, v)
		case FieldMetric:
			p.Metric, err = numberValue(key, v)
		case FieldRating:
			p.Rating, err = optString(key, v)
		case FieldVersion:
			p.Version, err = optString(key, v)
		case FieldDate, "issue_date":
			p.IssueDate, err = dateValue(key, v)
		case FieldTargetDate:
			p.TargetDate, err = dateValue(key, v)
		case FieldEligibility:
			p.Eligibility, err = boolValue(key, v)
		case FieldReferenceID:
			p.ReferenceID, err = optString(key, v)
		case FieldURLs:
			p.URLs, err = stringList(key, v)
		case FieldMeasurements:
			p.Measurements, err = stringMap(key, v)
		default:
			err = invalid(key, "unknown field")
		}
		if err != nil {
			return Payload{}, err
		}
	}
	if strings.TrimSpace(p.AssessmentID) == "" {
		return Payload{}, invalid(FieldAssessment, "is required")
	}
	return p, nil
}

func stringValue(key string, v any) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case json.Number:
		return t.String(), nil
	case int, int64, float64:
		return fmt.Sprint(t), nil
	}
	return "", invalid(key, "expected a string, got %T", v)
}

func optString(key string, v any) (*string, error) {
	s, err := stringValue(key, v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func numberValue(key string, v any) (*float64, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return nil, invalid(key, "not a number: %q", t)
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, invalid(key, "not a number: %q", t)
		}
		f = n
	default:
		return nil, invalid(key, "expected a number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, invalid(key, "not a finite number")
	}
	return &f, nil
}

func boolValue(key string, v any) (*bool, error) {
	switch t := v.(type) {
	case bool:
		return &t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, invalid(key, "not a boolean: %q", t)
		}
		return &b, nil
	}
	return nil, invalid(key, "expected a boolean, got %T", v)
}

// dateValue accepts YYYY-MM-DD strings and decoded timestamps. Dates are
// kept at midnight UTC.
func dateValue(key string, v any) (*time.Time, error) {
	var d time.Time
	switch t := v.(type) {
	case time.Time:
		d = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case string:
		parsed, err := ParseDate(t)
		if err != nil {
			return nil, invalid(key, "%v", err)
		}
		d = parsed
	default:
		return nil, invalid(key, "expected a YYYY-MM-DD date, got %T", v)
	}
	return &d, nil
}

// ParseDate parses a YYYY-MM-DD date at midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a YYYY-MM-DD date: %q", s)
	}
	return d, nil
}

func stringList(key string, v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case string:
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, invalid(key, "expected strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, invalid(key, "expected a list of strings, got %T", v)
}

func stringMap(key string, v any) (map[string]string, error) {
	switch t := v.(type) {
	case map[string]string:
		return t, nil
	case map[string]any:
		out := make(map[string]string, len(t))
		for k, item := range t {
			switch c := item.(type) {
			case nil:
				out[k] = ""
			case string:
				out[k] = c
			case map[string]any:
				b, err := json.Marshal(c)
				if err != nil {
					return nil, invalid(key, "cell %q: %v", k, err)
				}
				out[k] = string(b)
			default:
				out[k] = fmt.Sprint(c)
			}
		}
		return out, nil
	}
	return nil, invalid(key, "expected an object of header to cell, got %T", v)
}
