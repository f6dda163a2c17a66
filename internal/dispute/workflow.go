// Package dispute gates the visibility of accountability scores behind
// human review. Every filing and resolution is written to the audit ledger
// in the same transaction as the state change.
package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/database"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
)

// Audit actions and subject type.
const (
	ActionFiled    = "dispute_filed"
	ActionApproved = "dispute_approved"
	ActionRejected = "dispute_rejected"

	SubjectScore = "accountability_score"
)

// Workflow files and resolves disputes.
type Workflow struct {
	repo   *database.Repository
	clock  clock.Clock
	logger *slog.Logger
}

// NewWorkflow creates a dispute workflow
func NewWorkflow(repo *database.Repository, clk clock.Clock, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = monitoring.Discard()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Workflow{repo: repo, clock: clk, logger: logger.With("component", "dispute")}
}

// FileRequest is a new dispute against a score.
type FileRequest struct {
	ScoreID  string `json:"score_id"`
	FiledBy  string `json:"filed_by"`
	Reason   string `json:"reason"`
	Evidence string `json:"evidence,omitempty"`
}

func (r FileRequest) validate() error {
	switch {
	case strings.TrimSpace(r.ScoreID) == "":
		return apperrors.NewValidationError("score id is required", "score_id")
	case strings.TrimSpace(r.FiledBy) == "":
		return apperrors.NewValidationError("filer is required", "filed_by")
	case strings.TrimSpace(r.Reason) == "":
		return apperrors.NewValidationError("reason is required", "reason")
	}
	return nil
}

// File opens a pending dispute and moves the score from preview to
// disputed. A filer may hold one pending dispute per score, and only
// scores in preview accept filings.
func (w *Workflow) File(ctx context.Context, req FileRequest) (*database.Dispute, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	d := &database.Dispute{
		ScoreID:   req.ScoreID,
		FiledBy:   req.FiledBy,
		Reason:    strings.TrimSpace(req.Reason),
		Evidence:  req.Evidence,
		Status:    database.DisputePending,
		CreatedAt: w.clock.Now(),
	}

	err := w.repo.WithTx(ctx, func(tx *database.Repository) error {
		score, err := tx.GetAccountabilityScoreByID(ctx, req.ScoreID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return apperrors.NewNotFoundError("accountability score", req.ScoreID)
			}
			return err
		}

		pending, err := tx.HasPendingDispute(ctx, req.ScoreID, req.FiledBy)
		if err != nil {
			return err
		}
		if pending {
			return apperrors.NewConflictError("a pending dispute by this filer already exists", nil)
		}
		if score.State != database.StatePreview {
			return apperrors.NewConflictError(fmt.Sprintf("score is %s; only preview scores can be disputed", score.State), nil)
		}

		if err := tx.InsertDispute(ctx, d); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return apperrors.NewConflictError("a pending dispute by this filer already exists", err)
			}
			return err
		}
		if err := tx.SetScoreState(ctx, score.ID, database.StatePreview, database.StateDisputed); err != nil {
			if errors.Is(err, database.ErrStale) {
				return apperrors.NewConflictError("score changed state concurrently", err)
			}
			return err
		}
		return w.audit(ctx, tx, ActionFiled, req.FiledBy, score.ID, map[string]any{
			"dispute_id": d.ID,
			"reason":     d.Reason,
			"evidence":   d.Evidence,
			"from_state": database.StatePreview,
			"to_state":   database.StateDisputed,
		})
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("Dispute filed", "dispute_id", d.ID, "score_id", d.ScoreID, "filed_by", d.FiledBy)
	return d, nil
}

// ResolveRequest closes a pending dispute.
type ResolveRequest struct {
	DisputeID  string `json:"dispute_id"`
	ReviewedBy string `json:"reviewed_by"`
	Approve    bool   `json:"approve"`
	Resolution string `json:"resolution,omitempty"`
}

// Resolve approves (score published) or rejects (score back to preview) a
// pending dispute. Dispute status, score state and the audit entry are
// written together or not at all.
func (w *Workflow) Resolve(ctx context.Context, req ResolveRequest) (*database.Dispute, error) {
	if strings.TrimSpace(req.DisputeID) == "" {
		return nil, apperrors.NewValidationError("dispute id is required", "dispute_id")
	}
	if strings.TrimSpace(req.ReviewedBy) == "" {
		return nil, apperrors.NewValidationError("reviewer is required", "reviewed_by")
	}

	var resolved *database.Dispute
	err := w.repo.WithTx(ctx, func(tx *database.Repository) error {
		d, err := tx.GetDispute(ctx, req.DisputeID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return apperrors.NewNotFoundError("dispute", req.DisputeID)
			}
			return err
		}
		if d.Status != database.DisputePending {
			return apperrors.NewConflictError(fmt.Sprintf("dispute is already %s", d.Status), nil)
		}

		status, toState, action := database.DisputeRejected, database.StatePreview, ActionRejected
		if req.Approve {
			status, toState, action = database.DisputeApproved, database.StatePublished, ActionApproved
		}

		now := w.clock.Now()
		d.Status = status
		d.ResolvedBy = req.ReviewedBy
		d.Resolution = req.Resolution
		d.ResolvedAt = &now
		if err := tx.ResolveDispute(ctx, d); err != nil {
			if errors.Is(err, database.ErrStale) {
				return apperrors.NewConflictError("dispute was resolved concurrently", err)
			}
			return err
		}

		score, err := tx.GetAccountabilityScoreByID(ctx, d.ScoreID)
		if err != nil {
			return err
		}
		if score.State != database.StateDisputed {
			return apperrors.NewConflictError(fmt.Sprintf("score is %s, expected disputed", score.State), nil)
		}
		if err := tx.SetScoreState(ctx, score.ID, database.StateDisputed, toState); err != nil {
			return err
		}

		resolved = d
		return w.audit(ctx, tx, action, req.ReviewedBy, score.ID, map[string]any{
			"dispute_id": d.ID,
			"resolution": d.Resolution,
			"from_state": database.StateDisputed,
			"to_state":   toState,
		})
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("Dispute resolved",
		"dispute_id", resolved.ID,
		"status", resolved.Status,
		"reviewed_by", resolved.ResolvedBy)
	return resolved, nil
}

// History returns the audit trail of a score, oldest first.
func (w *Workflow) History(ctx context.Context, scoreID string) ([]database.AuditEntry, error) {
	return w.repo.ListAudit(ctx, SubjectScore, scoreID)
}

func (w *Workflow) audit(ctx context.Context, tx *database.Repository, action, actor, scoreID string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	return tx.AppendAudit(ctx, &database.AuditEntry{
		Action:      action,
		Actor:       actor,
		SubjectType: SubjectScore,
		SubjectID:   scoreID,
		Payload:     string(raw),
		CreatedAt:   w.clock.Now(),
	})
}
