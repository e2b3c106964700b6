package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/greenbuild/autoload/pkg/assessment"
	"github.com/greenbuild/autoload/pkg/autoload"
	"github.com/greenbuild/autoload/pkg/pipeline"
	"github.com/greenbuild/autoload/pkg/progress"
	"github.com/greenbuild/autoload/pkg/records"
	"github.com/greenbuild/autoload/pkg/tenancy"
)

// multipartMemory is the part of a multipart form kept in memory.
const multipartMemory = 8 << 20

type handler struct {
	service *autoload.Service
	records *records.Store
	tracker progress.Tracker
	cfg     *Config
	logger  *slog.Logger
}

// actorFrom returns the request's actor or writes a 400.
func actorFrom(w http.ResponseWriter, r *http.Request) (tenancy.Actor, bool) {
	actor, ok := tenancy.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing organization")
		return tenancy.Actor{}, false
	}
	return actor, true
}

// fail writes err and logs failures the client cannot fix.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error, result *pipeline.Result) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeFailure(w, err, result)
}

// decodeJSON decodes the request body into v, keeping numbers exact.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// POST /cycles
func (h *handler) createCycle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		Name  string `json:"name"`
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	start, err := assessment.ParseDate(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "start: "+err.Error())
		return
	}
	end, err := assessment.ParseDate(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "end: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" || end.Before(start) {
		writeError(w, http.StatusBadRequest, "invalid_argument", "a cycle needs a name and must not end before it starts")
		return
	}

	cycle, err := h.records.CreateCycle(r.Context(), actor.Organization, strings.TrimSpace(req.Name), start, end)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, cycle)
}

// GET /cycles
func (h *handler) listCycles(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	cycles, err := h.records.ListCycles(r.Context(), actor.Organization)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": cycles, "size": len(cycles)})
}

// POST /assessment-types
func (h *handler) createAssessmentType(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		Name            string `json:"name"`
		AwardBody       string `json:"awardBody"`
		RecognitionType string `json:"recognitionType"`
		Description     string `json:"description"`
		IsNumericScore  bool   `json:"isNumericScore"`
		IsIntegerScore  bool   `json:"isIntegerScore"`
		ValidityDays    int    `json:"validityDays"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	a := &assessment.GreenAssessment{
		OrganizationID:  actor.Organization,
		Name:            req.Name,
		AwardBody:       req.AwardBody,
		RecognitionType: req.RecognitionType,
		Description:     req.Description,
		IsNumericScore:  req.IsNumericScore,
		IsIntegerScore:  req.IsIntegerScore,
		ValidityDays:    req.ValidityDays,
	}
	if err := h.service.Engine().Store().CreateAssessmentType(r.Context(), a); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GET /assessment-types
func (h *handler) listAssessmentTypes(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	types, err := h.service.Engine().Store().ListAssessmentTypes(r.Context(), actor.Organization)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": types, "size": len(types)})
}

// POST /imports
// Multipart fields: file, dataset, cycleId, mappings (JSON array).
func (h *handler) createImport(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("read file: %v", err))
		return
	}

	var mappings []records.ColumnMapping
	if raw := r.FormValue("mappings"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mappings); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("mappings: %v", err))
			return
		}
	}

	result, err := h.service.RunImport(r.Context(), pipeline.Request{
		Actor:       actor,
		DatasetName: r.FormValue("dataset"),
		CycleID:     r.FormValue("cycleId"),
		Filename:    header.Filename,
		Data:        data,
		Mappings:    mappings,
	})
	if err != nil {
		h.fail(w, r, err, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /imports/{fileId}
func (h *handler) getImport(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	fileID := chi.URLParam(r, "fileId")
	file, err := h.records.GetImportFile(r.Context(), fileID)
	if err == nil && file.OrganizationID != actor.Organization {
		err = fmt.Errorf("import file %s: %w", fileID, records.ErrNotFound)
	}
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// GET /progress/{key}
func (h *handler) getProgress(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	status, err := h.tracker.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// upsertRequest is the body of POST /assessments. Data holds the assessment
// fields by their record names, for example metric or date.
type upsertRequest struct {
	Address    string         `json:"address"`
	PostalCode string         `json:"postalCode"`
	CycleID    string         `json:"cycleId"`
	Data       map[string]any `json:"data"`
}

// POST /assessments
func (h *handler) upsertAssessment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req upsertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	payload, err := assessment.ParsePayload(req.Data)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	key := assessment.BusinessKey{Address: req.Address, PostalCode: req.PostalCode, CycleID: req.CycleID}
	res, err := h.service.UpsertAssessment(r.Context(), actor, key, payload)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// GET /assessments
// Query params: viewId, assessmentId, referenceId, metric, date
func (h *handler) listAssessments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := assessment.Filter{
		ViewID:       q.Get("viewId"),
		AssessmentID: q.Get("assessmentId"),
		ReferenceID:  q.Get("referenceId"),
	}
	if v := q.Get("metric"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("invalid metric %q", v))
			return
		}
		f.Metric = &m
	}
	if v := q.Get("date"); v != "" {
		d, err := assessment.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
			return
		}
		f.IssueDate = &d
	}

	rows, err := h.service.Engine().Current(r.Context(), actor, f)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows, "size": len(rows)})
}

// GET /assessments/{propertyId}/history
func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	revisions, err := h.service.Engine().History(r.Context(), actor, chi.URLParam(r, "propertyId"))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": revisions, "size": len(revisions)})
}

// POST /assessments/{propertyId}/urls
func (h *handler) attachURLs(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		URLs []string `json:"urls"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	urls, err := h.service.Engine().AttachURLs(r.Context(), actor, chi.URLParam(r, "propertyId"), req.URLs)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": urls, "size": len(urls)})
}

// POST /assessments/{propertyId}:export
func (h *handler) export(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		Target string `json:"target"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := h.service.Engine().RecordExport(r.Context(), actor, chi.URLParam(r, "propertyId"), req.Target)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
