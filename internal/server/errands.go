package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/engine"
	"github.com/Chloe7243/Errandhub/internal/lifecycle"
	"github.com/Chloe7243/Errandhub/internal/session"
)

func registerQuotes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "quote",
		Method:      http.MethodPost,
		Path:        "/quotes",
		Summary:     "Preview the payment breakdown",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body QuoteRequest `json:"body"`
	}) (*struct {
		Body QuoteResponse `json:"body"`
	}, error) {
		itemBudget := input.Body.ItemBudget
		if itemBudget == "" {
			itemBudget = "0"
		}
		b, err := e.Quote(itemBudget, input.Body.HelperPayment)
		if err != nil {
			return nil, handleError(err)
		}
		total := b.Total()
		return &struct {
			Body QuoteResponse `json:"body"`
		}{Body: QuoteResponse{
			Breakdown: b,
			Total:     total.String(),
			Display:   display(total, b.Currency),
			Lines:     b.Lines(),
		}}, nil
	})
}

type errandPath struct {
	ErrandID string `path:"errand_id"`
}

func registerErrands(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-errand",
		Method:        http.MethodPost,
		Path:          "/errands",
		Summary:       "Post an errand and hold its payment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateErrandRequest `json:"body"`
	}) (*struct {
		Body domain.Errand `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, session.Requester)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		created, err := e.CreateErrand(ctx, engine.CreateErrandOptions{
			RequesterID:       p.UserID,
			TaskType:          b.TaskType,
			Title:             b.Title,
			Category:          b.Category,
			Description:       b.Description,
			Store:             b.Store,
			DeliveryLocation:  b.DeliveryLocation,
			ItemBudget:        b.ItemBudget,
			AllowSubstitution: b.AllowSubstitution,
			PickupLocation:    b.PickupLocation,
			DropoffLocation:   b.DropoffLocation,
			PickupReference:   b.PickupReference,
			HelperPayment:     b.HelperPayment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Errand `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-errands",
		Method:      http.MethodGet,
		Path:        "/errands",
		Summary:     "List errands for the selected role",
		Description: "Requesters see their own errands. Helpers see open errands nearby while available (scope=available) or the errands they hold (scope=mine).",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"all,new,active,completed,cancelled,disputed" default:"all"`
		Scope  string `query:"scope" enum:"available,mine"`
		Search string `query:"q"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedErrands `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		createdAt, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListErrands(ctx, engine.ListErrandsOptions{
			UserID:          p.UserID,
			Role:            p.Role,
			Status:          input.Status,
			Scope:           input.Scope,
			Search:          input.Search,
			Limit:           limit + 1,
			CursorCreatedAt: createdAt,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedErrands{}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = nonNilErrands(items)
		return &struct {
			Body paginatedErrands `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-errand",
		Method:      http.MethodGet,
		Path:        "/errands/{errand_id}",
		Summary:     "Errand with its progress tracker and available controls",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *errandPath) (*struct {
		Body engine.ErrandView `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !p.Role.IsSet() {
			return nil, handleError(p.RequireRole(session.Requester))
		}
		view, err := e.ViewErrand(ctx, input.ErrandID, p.UserID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ErrandView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-errand",
		Method:      http.MethodPost,
		Path:        "/errands/{errand_id}/actions/{action}",
		Summary:     "Move an errand to its next stage",
		Description: "accept, start, confirm and cancel. Proof and disputes have their own endpoints.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ErrandID string `path:"errand_id"`
		Action   string `path:"action" enum:"accept,start,submit_proof,confirm,dispute,cancel"`
	}) (*struct {
		Body engine.AdvanceResult `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		action, err := lifecycle.ParseAction(input.Action)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.AdvanceStage(ctx, engine.AdvanceOptions{
			ErrandID: input.ErrandID,
			Action:   action,
			ActorID:  p.UserID,
			Role:     p.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AdvanceResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-proof",
		Method:      http.MethodPost,
		Path:        "/errands/{errand_id}/proof",
		Summary:     "Submit proof of completion",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ErrandID string             `path:"errand_id"`
		Body     SubmitProofRequest `json:"body"`
	}) (*struct {
		Body engine.ProofResult `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, session.Helper)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SubmitProof(ctx, engine.SubmitProofOptions{
			ErrandID: input.ErrandID,
			HelperID: p.UserID,
			ImageURL: input.Body.ImageURL,
			Note:     input.Body.Note,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProofResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "raise-dispute",
		Method:        http.MethodPost,
		Path:          "/errands/{errand_id}/disputes",
		Summary:       "Raise a dispute",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ErrandID string              `path:"errand_id"`
		Body     RaiseDisputeRequest `json:"body"`
	}) (*struct {
		Body engine.DisputeResult `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, session.Requester)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RaiseDispute(ctx, engine.RaiseDisputeOptions{
			ErrandID:       input.ErrandID,
			RequesterID:    p.UserID,
			Reason:         input.Body.Reason,
			Explanation:    input.Body.Explanation,
			EvidenceImages: input.Body.EvidenceImages,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DisputeResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-payment",
		Method:      http.MethodGet,
		Path:        "/errands/{errand_id}/payment",
		Summary:     "Escrow hold and ledger for an errand",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *errandPath) (*struct {
		Body PaymentResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pay, entries, err := e.PaymentStatus(ctx, input.ErrandID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []domain.LedgerEntry{}
		}
		return &struct {
			Body PaymentResponse `json:"body"`
		}{Body: PaymentResponse{
			Payment: pay,
			Entries: entries,
			Display: display(pay.Total, pay.Currency),
		}}, nil
	})
}
