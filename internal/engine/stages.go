package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/engine/auth"
	"github.com/Chloe7243/Errandhub/internal/events"
	"github.com/Chloe7243/Errandhub/internal/lifecycle"
	"github.com/Chloe7243/Errandhub/internal/payment"
	"github.com/Chloe7243/Errandhub/internal/repo"
	"github.com/Chloe7243/Errandhub/internal/session"
	"github.com/Chloe7243/Errandhub/internal/validate"
)

type AdvanceOptions struct {
	ErrandID string
	Action   lifecycle.Action
	ActorID  string
	Role     session.Role
}

// AdvanceResult is the errand after the move plus any escrow movement it caused.
type AdvanceResult struct {
	Errand  domain.Errand    `json:"errand"`
	Receipt *payment.Receipt `json:"receipt,omitempty"`
}

var actionEvents = map[lifecycle.Action]string{
	lifecycle.ActionAccept:      events.ErrandAccepted,
	lifecycle.ActionStart:       events.ErrandStarted,
	lifecycle.ActionSubmitProof: events.ProofSubmitted,
	lifecycle.ActionConfirm:     events.ErrandCompleted,
	lifecycle.ActionCancel:      events.ErrandCancelled,
	lifecycle.ActionDispute:     events.DisputeRaised,
}

// AdvanceStage applies accept, start, confirm or cancel. Confirm releases the
// escrow hold and cancel refunds it, in the same transaction as the move.
func (e Engine) AdvanceStage(ctx context.Context, opts AdvanceOptions) (_ AdvanceResult, err error) {
	ctx, span := e.start(ctx, "AdvanceStage",
		attribute.String("errand.id", opts.ErrandID),
		attribute.String("errand.action", string(opts.Action)))
	defer func() { endSpan(span, err) }()

	if e.Config == nil {
		return AdvanceResult{}, ErrConfigMissing
	}
	switch opts.Action {
	case lifecycle.ActionSubmitProof, lifecycle.ActionDispute:
		return AdvanceResult{}, fmt.Errorf("%w: %s", ErrFormRequired, opts.Action)
	}
	if opts.Action == lifecycle.ActionAccept {
		profile, err := e.HelperProfile(ctx, opts.ActorID)
		if err != nil {
			return AdvanceResult{}, err
		}
		if opts.Role == session.Helper && !profile.Available {
			return AdvanceResult{}, ErrHelperOffline
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AdvanceResult{}, err
	}
	defer tx.Rollback()
	errand, err := e.Repo.GetErrandTx(ctx, tx, opts.ErrandID)
	if err != nil {
		return AdvanceResult{}, err
	}
	if err := checkOwnership(errand, opts.Action, opts.ActorID, opts.Role); err != nil {
		return AdvanceResult{}, err
	}
	from := lifecycle.Stage(errand.Stage)
	next, err := e.machine().Next(from, opts.Action, opts.Role)
	if err != nil {
		return AdvanceResult{}, err
	}
	ts := e.stamp()
	errand.Stage = string(next)
	errand.Status = string(next.Status())
	errand.UpdatedAt = ts

	var receipt *payment.Receipt
	switch opts.Action {
	case lifecycle.ActionAccept:
		helperID := opts.ActorID
		errand.HelperID = &helperID
		errand.AcceptedAt = &ts
	case lifecycle.ActionConfirm:
		errand.CompletedAt = &ts
		r, err := e.Escrow.Release(ctx, tx, errand.ID, opts.ActorID)
		if err != nil {
			return AdvanceResult{}, err
		}
		receipt = &r
	case lifecycle.ActionCancel:
		errand.CancelledAt = &ts
		r, err := e.Escrow.Refund(ctx, tx, errand.ID, opts.ActorID)
		if err != nil {
			return AdvanceResult{}, err
		}
		receipt = &r
	}
	if err := e.Repo.UpdateErrandStage(ctx, tx, errand, string(from)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return AdvanceResult{}, lifecycle.TransitionError{From: from, Action: opts.Action}
		}
		return AdvanceResult{}, fmt.Errorf("update errand: %w", err)
	}
	if err := e.Events.Append(ctx, tx, actionEvents[opts.Action], "errand", errand.ID, opts.ActorID, events.EventPayload{
		"from": string(from),
		"to":   errand.Stage,
		"role": opts.Role.String(),
	}); err != nil {
		return AdvanceResult{}, err
	}
	if receipt != nil {
		if err := e.appendReceipt(ctx, tx, *receipt, opts.ActorID); err != nil {
			return AdvanceResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return AdvanceResult{}, err
	}
	return AdvanceResult{Errand: errand, Receipt: receipt}, nil
}

// checkOwnership makes sure only the errand's own parties move it. Any helper
// may accept a posted errand except on their own request.
func checkOwnership(errand domain.Errand, action lifecycle.Action, actorID string, role session.Role) error {
	return session.MatchRole(role,
		func() error { return nil },
		func() error {
			if errand.RequesterID != actorID {
				return auth.ForbiddenError{Reason: "only the requester who posted this errand can do that"}
			}
			return nil
		},
		func() error {
			if action == lifecycle.ActionAccept && errand.HelperID == nil {
				if errand.RequesterID == actorID {
					return auth.ForbiddenError{Reason: "you cannot accept your own errand"}
				}
				return nil
			}
			if errand.HelperID == nil || *errand.HelperID != actorID {
				return auth.ForbiddenError{Reason: "this errand is assigned to another helper"}
			}
			return nil
		},
	)
}

var receiptEvents = map[payment.HoldStatus]string{
	payment.HoldHeld:     events.PaymentHeld,
	payment.HoldReleased: events.PaymentReleased,
	payment.HoldRefunded: events.PaymentRefunded,
}

func (e Engine) appendReceipt(ctx context.Context, tx *sql.Tx, r payment.Receipt, actorID string) error {
	return e.Events.Append(ctx, tx, receiptEvents[r.Status], "payment", r.PaymentID, actorID, events.EventPayload{
		"errand_id": r.ErrandID,
		"amount":    r.Amount.String(),
		"currency":  r.Currency,
	})
}

type SubmitProofOptions struct {
	ErrandID string
	HelperID string
	ImageURL string
	Note     string
}

// ProofResult is returned once the proof is stored and the errand is awaiting review.
type ProofResult struct {
	Errand domain.Errand `json:"errand"`
	Proof  domain.Proof  `json:"proof"`
}

// SubmitProof stores the helper's completion photo and moves the errand to reviewing.
func (e Engine) SubmitProof(ctx context.Context, opts SubmitProofOptions) (_ ProofResult, err error) {
	ctx, span := e.start(ctx, "SubmitProof", attribute.String("errand.id", opts.ErrandID))
	defer func() { endSpan(span, err) }()

	if err := validate.Proof(validate.ProofForm{ImageURL: opts.ImageURL, Note: opts.Note}); err != nil {
		return ProofResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ProofResult{}, err
	}
	defer tx.Rollback()
	errand, err := e.Repo.GetErrandTx(ctx, tx, opts.ErrandID)
	if err != nil {
		return ProofResult{}, err
	}
	if err := checkOwnership(errand, lifecycle.ActionSubmitProof, opts.HelperID, session.Helper); err != nil {
		return ProofResult{}, err
	}
	from := lifecycle.Stage(errand.Stage)
	next, err := e.machine().Next(from, lifecycle.ActionSubmitProof, session.Helper)
	if err != nil {
		return ProofResult{}, err
	}
	ts := e.stamp()
	proof := domain.Proof{
		ID:        uuid.NewString(),
		ErrandID:  errand.ID,
		HelperID:  opts.HelperID,
		ImageURL:  strings.TrimSpace(opts.ImageURL),
		Note:      strings.TrimSpace(opts.Note),
		CreatedAt: ts,
	}
	if err := e.Repo.InsertProof(ctx, tx, proof); err != nil {
		return ProofResult{}, fmt.Errorf("insert proof: %w", err)
	}
	errand.Stage = string(next)
	errand.Status = string(next.Status())
	errand.UpdatedAt = ts
	if err := e.Repo.UpdateErrandStage(ctx, tx, errand, string(from)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ProofResult{}, lifecycle.TransitionError{From: from, Action: lifecycle.ActionSubmitProof}
		}
		return ProofResult{}, fmt.Errorf("update errand: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProofSubmitted, "errand", errand.ID, opts.HelperID, events.EventPayload{
		"proof_id":  proof.ID,
		"image_url": proof.ImageURL,
	}); err != nil {
		return ProofResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ProofResult{}, err
	}
	return ProofResult{Errand: errand, Proof: proof}, nil
}

type RaiseDisputeOptions struct {
	ErrandID       string
	RequesterID    string
	Reason         string
	Explanation    string
	EvidenceImages []string
}

type DisputeResult struct {
	Errand  domain.Errand  `json:"errand"`
	Dispute domain.Dispute `json:"dispute"`
}

// RaiseDispute freezes an errand under review. The escrow is left as it is:
// still held when raised from reviewing, already released after completion.
func (e Engine) RaiseDispute(ctx context.Context, opts RaiseDisputeOptions) (_ DisputeResult, err error) {
	ctx, span := e.start(ctx, "RaiseDispute", attribute.String("errand.id", opts.ErrandID))
	defer func() { endSpan(span, err) }()

	if e.Config == nil {
		return DisputeResult{}, ErrConfigMissing
	}
	form := validate.DisputeForm{Reason: opts.Reason, Explanation: opts.Explanation, EvidenceImages: opts.EvidenceImages}
	if err := validate.Dispute(form); err != nil {
		return DisputeResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DisputeResult{}, err
	}
	defer tx.Rollback()
	errand, err := e.Repo.GetErrandTx(ctx, tx, opts.ErrandID)
	if err != nil {
		return DisputeResult{}, err
	}
	if err := checkOwnership(errand, lifecycle.ActionDispute, opts.RequesterID, session.Requester); err != nil {
		return DisputeResult{}, err
	}
	from := lifecycle.Stage(errand.Stage)
	if closed, err := e.disputeWindowClosed(errand); err != nil {
		return DisputeResult{}, err
	} else if closed {
		return DisputeResult{}, ErrDisputeWindowClosed
	}
	next, err := e.machine().Next(from, lifecycle.ActionDispute, session.Requester)
	if err != nil {
		return DisputeResult{}, err
	}
	ts := e.stamp()
	images := opts.EvidenceImages
	if images == nil {
		images = []string{}
	}
	d := domain.Dispute{
		ID:             uuid.NewString(),
		ErrandID:       errand.ID,
		RaisedBy:       opts.RequesterID,
		Reason:         opts.Reason,
		Explanation:    strings.TrimSpace(opts.Explanation),
		EvidenceImages: images,
		Status:         "under_review",
		CreatedAt:      ts,
	}
	if err := e.Repo.InsertDispute(ctx, tx, d); err != nil {
		return DisputeResult{}, fmt.Errorf("insert dispute: %w", err)
	}
	errand.Stage = string(next)
	errand.Status = string(next.Status())
	errand.UpdatedAt = ts
	if err := e.Repo.UpdateErrandStage(ctx, tx, errand, string(from)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return DisputeResult{}, lifecycle.TransitionError{From: from, Action: lifecycle.ActionDispute}
		}
		return DisputeResult{}, fmt.Errorf("update errand: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.DisputeRaised, "errand", errand.ID, opts.RequesterID, events.EventPayload{
		"dispute_id": d.ID,
		"reason":     d.Reason,
		"from":       string(from),
	}); err != nil {
		return DisputeResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return DisputeResult{}, err
	}
	return DisputeResult{Errand: errand, Dispute: d}, nil
}

// disputeWindowClosed reports whether a completed errand is past the dispute window.
func (e Engine) disputeWindowClosed(errand domain.Errand) (bool, error) {
	if lifecycle.Stage(errand.Stage) != lifecycle.Completed || errand.CompletedAt == nil {
		return false, nil
	}
	completed, err := time.Parse(time.RFC3339, *errand.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("parse completed_at: %w", err)
	}
	return e.now().After(completed.Add(e.Config.DisputeWindow())), nil
}
