// Package autoload combines the import pipeline and the assessment engine
// into the service the HTTP API and the CLI drive.
package autoload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/greenbuild/autoload/pkg/assessment"
	"github.com/greenbuild/autoload/pkg/pipeline"
	"github.com/greenbuild/autoload/pkg/tenancy"
)

// Certification is one assessment to attach after an import.
type Certification struct {
	Key     assessment.BusinessKey
	Payload assessment.Payload
}

// CertificationResult is the outcome of one certification of a batch.
// Exactly one of Result and Err is set.
type CertificationResult struct {
	Index  int
	Result *assessment.UpsertResult
	Err    error
}

// BatchResult is the outcome of ImportAndAssess.
type BatchResult struct {
	Import         *pipeline.Result
	Certifications []CertificationResult
}

// Failed counts the certifications that were not stored.
func (b *BatchResult) Failed() int {
	n := 0
	for _, c := range b.Certifications {
		if c.Err != nil {
			n++
		}
	}
	return n
}

// Service runs imports and assessment upserts.
type Service struct {
	orchestrator *pipeline.Orchestrator
	engine       *assessment.Engine
	logger       *slog.Logger
}

// NewService creates a Service. A nil logger uses slog.Default().
func NewService(orchestrator *pipeline.Orchestrator, engine *assessment.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{orchestrator: orchestrator, engine: engine, logger: logger}
}

// Engine returns the assessment engine.
func (s *Service) Engine() *assessment.Engine { return s.engine }

// RunImport drives one file through the import pipeline.
func (s *Service) RunImport(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	return s.orchestrator.Run(ctx, req)
}

// UpsertAssessment attaches one assessment to the property view matching key.
func (s *Service) UpsertAssessment(ctx context.Context, actor tenancy.Actor, key assessment.BusinessKey, p assessment.Payload) (*assessment.UpsertResult, error) {
	return s.engine.Upsert(ctx, actor, key, p)
}

// ImportAndAssess imports the file and then upserts each certification.
// A failed import stops the batch. A failed certification is recorded in
// its result and the batch moves on. Certifications without a cycle are
// looked up in the import's cycle.
func (s *Service) ImportAndAssess(ctx context.Context, req pipeline.Request, certs []Certification) (*BatchResult, error) {
	imported, err := s.orchestrator.Run(ctx, req)
	if err != nil {
		return &BatchResult{Import: imported}, fmt.Errorf("import %s: %w", req.DatasetName, err)
	}

	out := &BatchResult{Import: imported, Certifications: make([]CertificationResult, len(certs))}
	for i, c := range certs {
		if err := ctx.Err(); err != nil {
			out.Certifications = out.Certifications[:i]
			return out, err
		}
		key := c.Key
		if key.CycleID == "" {
			key.CycleID = req.CycleID
		}
		res, err := s.engine.Upsert(ctx, req.Actor, key, c.Payload)
		out.Certifications[i] = CertificationResult{Index: i, Result: res, Err: err}
		if err != nil {
			s.logger.Warn("certification not stored",
				"importFileId", imported.ImportFileID,
				"index", i,
				"address", c.Key.Address,
				"error", err)
		}
	}

	s.logger.Info("import and assess finished",
		"importFileId", imported.ImportFileID,
		"certifications", len(certs),
		"failed", out.Failed())
	return out, nil
}
