package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/greenbuild/autoload/pkg/records"
)

func newTaskID() string { return uuid.New().String() }

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// parseCSV reads a header row followed by data rows. Rows whose cells are all
// blank are dropped; short rows are padded and long rows truncated to the
// header width.
func parseCSV(data []byte) ([]string, [][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("file has no header row")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, nil, fmt.Errorf("column %d has an empty header", i+1)
		}
		if !seen.Add(h) {
			return nil, nil, fmt.Errorf("duplicate column %q", h)
		}
		header[i] = h
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		if blank(rec) {
			continue
		}
		row := make([]string, len(header))
		copy(row, rec)
		rows = append(rows, row)
	}
	return header, rows, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// runRawSave parses the stored file into raw property states.
func (e *Executor) runRawSave(ctx context.Context, task *ImportTask, report ReportFunc) (int, error) {
	file, err := e.records.GetImportFile(ctx, task.ImportFileID)
	if err != nil {
		return 0, err
	}
	data, err := e.storage.Get(ctx, file.FileRef)
	if err != nil {
		return 0, fmt.Errorf("load upload: %w", err)
	}
	header, rows, err := parseCSV(data)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", file.UploadedFilename, err)
	}

	states := make([]records.PropertyState, len(rows))
	for i, row := range rows {
		raw := make(map[string]any, len(header))
		for j, h := range header {
			raw[h] = row[j]
		}
		states[i] = records.PropertyState{
			OrganizationID: file.OrganizationID,
			ImportFileID:   file.ID,
			CycleID:        file.CycleID,
			DataState:      records.DataStateRaw,
			RowNumber:      i + 1,
			RawData:        raw,
		}
	}

	batch := max(e.cfg.BatchSize, 1)
	err = e.records.Transaction(ctx, func(s *records.Store) error {
		if _, err := s.DeletePropertyStates(ctx, file.ID, records.DataStateRaw); err != nil {
			return err
		}
		for start := 0; start < len(states); start += batch {
			end := min(start+batch, len(states))
			if err := s.CreatePropertyStates(ctx, states[start:end]); err != nil {
				return err
			}
			report(end, len(states))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := e.records.SetRowCount(ctx, file.ID, records.RawRows, len(states)); err != nil {
		return 0, err
	}
	return len(states), nil
}

// runMap applies the cached column mappings to every raw state.
func (e *Executor) runMap(ctx context.Context, task *ImportTask, report ReportFunc) (int, error) {
	file, err := e.records.GetImportFile(ctx, task.ImportFileID)
	if err != nil {
		return 0, err
	}
	mappings := []records.ColumnMapping(file.CachedColumnMappings)
	if len(mappings) == 0 {
		return 0, fmt.Errorf("import file %s has no cached column mappings", file.ID)
	}
	states, err := e.records.ListPropertyStates(ctx, file.ID, records.DataStateRaw)
	if err != nil {
		return 0, err
	}

	for i := range states {
		st := &states[i]
		applyMappings(st, mappings)
		st.DataState = records.DataStateMapped
		if err := e.records.SavePropertyState(ctx, st); err != nil {
			return i, err
		}
		report(i+1, len(states))
	}
	return len(states), nil
}

// runMatch links every mapped state to a property view in its cycle, merging
// into an existing view with the same normalized address and postal code or
// creating a new property.
func (e *Executor) runMatch(ctx context.Context, task *ImportTask, report ReportFunc) (int, error) {
	file, err := e.records.GetImportFile(ctx, task.ImportFileID)
	if err != nil {
		return 0, err
	}
	states, err := e.records.ListPropertyStates(ctx, file.ID, records.DataStateMapped)
	if err != nil {
		return 0, err
	}

	merged := 0
	for i := range states {
		st := &states[i]
		err := e.records.Transaction(ctx, func(s *records.Store) error {
			ok, err := matchState(ctx, s, st, e.logger)
			if ok {
				merged++
			}
			return err
		})
		if err != nil {
			return i, fmt.Errorf("match row %d: %w", st.RowNumber, err)
		}
		report(i+1, len(states))
	}

	matched, err := e.records.CountPropertyStates(ctx, file.ID, records.DataStateMatched)
	if err != nil {
		return len(states), err
	}
	if err := e.records.SetRowCount(ctx, file.ID, records.MatchedRows, matched); err != nil {
		return len(states), err
	}
	e.logger.Info("matching finished", "importFileId", file.ID, "rows", len(states), "merged", merged)
	return len(states), nil
}

// matchState reports whether st was merged into an existing view. A state
// that matches several views, which happens when it carries no postal code,
// becomes a new property instead of merging into an arbitrary one.
func matchState(ctx context.Context, s *records.Store, st *records.PropertyState, logger *slog.Logger) (bool, error) {
	st.NormalizedAddress = records.NormalizeAddress(st.AddressLine1)
	st.NormalizedPostalCode = records.NormalizePostalCode(st.PostalCode)
	st.DataState = records.DataStateMatched

	var views []records.PropertyView
	if st.NormalizedAddress != "" {
		var err error
		views, err = s.FindViewsByBusinessKey(ctx, st.OrganizationID, records.BusinessKey{
			Address:    st.AddressLine1,
			PostalCode: st.PostalCode,
			CycleID:    st.CycleID,
		})
		if err != nil {
			return false, err
		}
	}

	if len(views) > 1 {
		logger.Warn("ambiguous match, creating new property",
			"importFileId", st.ImportFileID, "row", st.RowNumber,
			"address", st.AddressLine1, "candidates", len(views))
	}
	if len(views) != 1 {
		st.MergeState = records.MergeStateNew
		if err := s.SavePropertyState(ctx, st); err != nil {
			return false, err
		}
		_, err := s.CreatePropertyWithView(ctx, st)
		return false, err
	}

	view := views[0]
	existing, err := s.GetPropertyState(ctx, st.OrganizationID, view.StateID)
	if err != nil {
		return false, err
	}
	st.MergeState = records.MergeStateMerged
	if err := s.SavePropertyState(ctx, st); err != nil {
		return false, err
	}
	merged := []records.PropertyState{records.MergeStates(existing, st)}
	if err := s.CreatePropertyStates(ctx, merged); err != nil {
		return false, err
	}
	return true, s.RepointView(ctx, view.ID, merged[0].ID)
}

// applyMappings copies raw cells onto the state's typed columns. Targets
// without a column, and values that do not parse as the column's type, are
// kept in ExtraData under the target name.
func applyMappings(st *records.PropertyState, mappings []records.ColumnMapping) {
	for _, m := range mappings {
		raw, ok := st.RawData[m.FromField]
		if !ok {
			continue
		}
		value := strings.TrimSpace(fmt.Sprint(raw))
		if value == "" {
			continue
		}
		if !setColumn(st, strings.ToLower(strings.TrimSpace(m.ToField)), value) {
			if st.ExtraData == nil {
				st.ExtraData = map[string]any{}
			}
			st.ExtraData[m.ToField] = value
		}
	}
}

func setColumn(st *records.PropertyState, field, value string) bool {
	switch field {
	case "address_line_1":
		st.AddressLine1 = value
	case "address_line_2":
		st.AddressLine2 = value
	case "city":
		st.City = value
	case "state":
		st.State = value
	case "postal_code":
		st.PostalCode = value
	case "property_name":
		st.PropertyName = value
	case "custom_id_1":
		st.CustomID1 = value
	case "energy_score":
		n, err := parseInt(value)
		if err != nil {
			return false
		}
		st.EnergyScore = &n
	case "year_built":
		n, err := parseInt(value)
		if err != nil {
			return false
		}
		st.YearBuilt = &n
	case "gross_floor_area":
		f, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
		if err != nil {
			return false
		}
		st.GrossFloorArea = &f
	default:
		return false
	}
	return true
}

// parseInt accepts integral values written as floats, e.g. "100.0".
func parseInt(value string) (int, error) {
	if n, err := strconv.Atoi(value); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("not an integer: %q", value)
	}
	return int(f), nil
}
