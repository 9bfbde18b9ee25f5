// Package match implements the two-tier project matching engine.
//
// Tier 1 scores each invoice/project pair through an external
// probabilistic collaborator. Tier 2 is a deterministic string-similarity
// fallback applied per project when the collaborator fails, so a matching
// run always produces a ranked result.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/model"
	"github.com/jdmontoya/invoiceflow/internal/service"
)

// TopCandidates is how many ranked candidates a matching run returns.
const TopCandidates = 3

// Engine ranks validated projects against an invoice and applies the
// auto-assignment decision.
type Engine struct {
	storage  service.Storage
	scorer   service.MatchScorer
	settings service.Settings
}

// New creates a matching engine with the given dependencies.
func New(storage service.Storage, scorer service.MatchScorer, settings service.Settings) *Engine {
	return &Engine{
		storage:  storage,
		scorer:   scorer,
		settings: settings,
	}
}

// Rank scores every validated project against the invoice and returns
// the top candidates sorted by descending score. The sort is stable:
// tie scores keep project iteration order (ordered by project id), so
// the first-seen project wins a tie.
func (e *Engine) Rank(ctx context.Context, invoice model.Invoice) ([]model.MatchCandidate, error) {
	projects, err := e.storage.GetValidatedProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate projects: %w", err)
	}

	var candidates []model.MatchCandidate
	degraded := 0
	for _, project := range projects {
		candidate := e.scoreProject(ctx, invoice, project)
		if candidate.Degraded {
			degraded++
		}
		if candidate.Score > 0 {
			candidates = append(candidates, candidate)
		}
	}

	if degraded > 0 {
		slog.Warn("Primary scorer unavailable for some projects, used fallback",
			"invoice_id", invoice.ID,
			"degraded_projects", degraded,
			"total_projects", len(projects))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > TopCandidates {
		candidates = candidates[:TopCandidates]
	}
	return candidates, nil
}

// scoreProject runs Tier 1 for one pair, falling back to the
// deterministic scorer on error.
func (e *Engine) scoreProject(ctx context.Context, invoice model.Invoice, project model.Project) model.MatchCandidate {
	resp, err := e.scorer.Score(ctx, service.ScoreRequest{Invoice: invoice, Project: project})
	if err != nil {
		err = &common.MatchingError{ProjectID: project.ID, Err: err}
		slog.Debug("Primary scorer failed, using fallback",
			"invoice_id", invoice.ID,
			"error", err)

		score, reason, breakdown := fallbackScore(invoice, project)
		return model.MatchCandidate{
			Project:   project,
			Score:     score,
			Reason:    reason,
			Breakdown: breakdown,
			Degraded:  true,
		}
	}

	return model.MatchCandidate{
		Project: project,
		Score:   clampScore(resp.MatchScore),
		Reason:  resp.MatchReason,
		Breakdown: model.ScoreBreakdown{
			NameScore:    resp.ProjectNameMatch,
			AddressScore: resp.AddressMatch,
			TaxIDScore:   resp.TaxIDMatch,
			CityScore:    resp.CityMatch,
		},
	}
}

// Run ranks candidates and applies the auto-assignment decision,
// persisting the outcome on the invoice.
func (e *Engine) Run(ctx context.Context, invoice model.Invoice) (model.MatchDecision, error) {
	threshold, err := e.settings.AutoMatchThreshold(ctx)
	if err != nil {
		return model.MatchDecision{}, fmt.Errorf("failed to read auto match threshold: %w", err)
	}

	candidates, err := e.Rank(ctx, invoice)
	if err != nil {
		return model.MatchDecision{}, err
	}

	decision := model.MatchDecision{
		Candidates: candidates,
		Threshold:  threshold,
	}

	if len(candidates) == 0 {
		decision.Reason = "no candidates"
		if err := e.storage.ClearInvoiceMatch(ctx, invoice.ID, model.MatchPending); err != nil {
			return decision, fmt.Errorf("failed to record empty match: %w", err)
		}
		return decision, nil
	}

	best := candidates[0]
	if best.Score >= threshold {
		decision.AutoAssigned = true
		decision.Reason = best.Reason
		if err := e.storage.UpdateInvoiceMatch(ctx, invoice.ID,
			best.Project.ID, best.Score, model.MatchAuto, model.MatchedByAI); err != nil {
			return decision, fmt.Errorf("failed to persist auto match: %w", err)
		}

		slog.Info("Auto-assigned invoice to project",
			"invoice_id", invoice.ID,
			"project_id", best.Project.ID,
			"score", best.Score,
			"threshold", threshold)
		return decision, nil
	}

	decision.Reason = fmt.Sprintf("top score %.1f below threshold %.1f, needs review", best.Score, threshold)
	if err := e.storage.ClearInvoiceMatch(ctx, invoice.ID, model.MatchPending); err != nil {
		return decision, fmt.Errorf("failed to record pending match: %w", err)
	}
	return decision, nil
}

// AssignProject records a manual project assignment. Idempotent: it may
// be called at any time after extraction, regardless of what the auto
// decision did.
func (e *Engine) AssignProject(ctx context.Context, invoiceID, projectID string) error {
	project, err := e.storage.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	if err := e.storage.UpdateInvoiceMatch(ctx, invoiceID,
		project.ID, 100, model.MatchManual, model.MatchedByUser); err != nil {
		return fmt.Errorf("failed to persist manual match: %w", err)
	}

	slog.Info("Manually assigned invoice to project", "invoice_id", invoiceID, "project_id", projectID)
	return nil
}

// MarkNoMatch records the reviewer's decision that no project applies.
// Idempotent.
func (e *Engine) MarkNoMatch(ctx context.Context, invoiceID string) error {
	if err := e.storage.ClearInvoiceMatch(ctx, invoiceID, model.MatchNone); err != nil {
		return fmt.Errorf("failed to persist no match: %w", err)
	}
	return nil
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
