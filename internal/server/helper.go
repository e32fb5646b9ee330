package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/engine"
	"github.com/Chloe7243/Errandhub/internal/session"
)

func registerHelper(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-availability",
		Method:      http.MethodGet,
		Path:        "/helper/availability",
		Summary:     "Helper availability and search radius",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.HelperProfile `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, session.Helper)
		if authErr != nil {
			return nil, authErr
		}
		profile, err := e.HelperProfile(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.HelperProfile `json:"body"`
		}{Body: profile}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-availability",
		Method:      http.MethodPut,
		Path:        "/helper/availability",
		Summary:     "Go online or offline and pick a search radius",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body AvailabilityRequest `json:"body"`
	}) (*struct {
		Body domain.HelperProfile `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, session.Helper)
		if authErr != nil {
			return nil, authErr
		}
		profile, err := e.SetAvailability(ctx, p.UserID, input.Body.Available, input.Body.RadiusKm)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.HelperProfile `json:"body"`
		}{Body: profile}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "helper-stats",
		Method:      http.MethodGet,
		Path:        "/helper/stats",
		Summary:     "Earnings and errand history totals",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HelperStatsResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, session.Helper)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := e.HelperStats(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HelperStatsResponse `json:"body"`
		}{Body: HelperStatsResponse{HelperStats: stats, Display: display(stats.TotalEarned, stats.Currency)}}, nil
	})
}

func registerSafety(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "report-safety",
		Method:        http.MethodPost,
		Path:          "/safety",
		Summary:       "Raise a safety alert",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body SafetyRequest `json:"body"`
	}) (*struct {
		Body domain.SafetyAlert `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		alert, err := e.ReportSafety(ctx, engine.ReportSafetyOptions{
			ReporterID: p.UserID,
			ErrandID:   input.Body.ErrandID,
			Action:     input.Body.Action,
			Report:     input.Body.Report,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SafetyAlert `json:"body"`
		}{Body: alert}, nil
	})
}
