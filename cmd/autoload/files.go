package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/greenbuild/autoload/pkg/assessment"
	"github.com/greenbuild/autoload/pkg/autoload"
	"github.com/greenbuild/autoload/pkg/records"
)

// certificationDoc is one entry of a certifications file. Data holds the
// assessment payload keys.
type certificationDoc struct {
	Address    string         `yaml:"address"`
	PostalCode string         `yaml:"postalCode"`
	CycleID    string         `yaml:"cycleId"`
	Data       map[string]any `yaml:"data"`
}

// readMappings reads a YAML or JSON list of column mappings.
func readMappings(path string) ([]records.ColumnMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mappings: %w", err)
	}
	var mappings []records.ColumnMapping
	if err := decodeStrict(data, &mappings); err != nil {
		return nil, fmt.Errorf("parsing mappings %s: %w", path, err)
	}
	if len(mappings) == 0 {
		return nil, fmt.Errorf("mappings %s: no mappings", path)
	}
	for i, m := range mappings {
		if m.FromField == "" || m.ToField == "" {
			return nil, fmt.Errorf("mappings %s: entry %d needs from_field and to_field", path, i)
		}
		if m.ToTableName == "" {
			mappings[i].ToTableName = "PropertyState"
		}
	}
	return mappings, nil
}

// readCertifications reads a YAML or JSON list of certifications and parses
// each payload. The first invalid entry fails the whole file.
func readCertifications(path string) ([]autoload.Certification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certifications: %w", err)
	}
	var docs []certificationDoc
	if err := decodeStrict(data, &docs); err != nil {
		return nil, fmt.Errorf("parsing certifications %s: %w", path, err)
	}
	certs := make([]autoload.Certification, 0, len(docs))
	for i, d := range docs {
		p, err := assessment.ParsePayload(d.Data)
		if err != nil {
			return nil, fmt.Errorf("certification %d: %w", i, err)
		}
		certs = append(certs, autoload.Certification{
			Key: assessment.BusinessKey{
				Address:    d.Address,
				PostalCode: d.PostalCode,
				CycleID:    d.CycleID,
			},
			Payload: p,
		})
	}
	return certs, nil
}

// decodeStrict decodes one YAML document, which also accepts JSON, and
// rejects unknown fields.
func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty document")
		}
		return err
	}
	return nil
}
