package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/engine/auth"
	"github.com/Chloe7243/Errandhub/internal/events"
	"github.com/Chloe7243/Errandhub/internal/repo"
	"github.com/Chloe7243/Errandhub/internal/validate"
)

// HelperProfile returns the stored profile or an offline default.
func (e Engine) HelperProfile(ctx context.Context, userID string) (domain.HelperProfile, error) {
	p, err := e.Repo.GetHelperProfile(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		radius := 1.0
		if e.Config != nil {
			radius = e.Config.Helper.DefaultRadiusKm
		}
		return domain.HelperProfile{UserID: userID, Available: false, RadiusKm: radius}, nil
	}
	return p, err
}

// SetAvailability turns a helper on or off and sets the search radius.
// A zero radius keeps the current one.
func (e Engine) SetAvailability(ctx context.Context, helperID string, available bool, radiusKm float64) (_ domain.HelperProfile, err error) {
	ctx, span := e.start(ctx, "SetAvailability", attribute.Bool("helper.available", available))
	defer func() { endSpan(span, err) }()

	if e.Config == nil {
		return domain.HelperProfile{}, ErrConfigMissing
	}
	p, err := e.HelperProfile(ctx, helperID)
	if err != nil {
		return domain.HelperProfile{}, err
	}
	if radiusKm != 0 {
		if !e.Config.RadiusAllowed(radiusKm) {
			return domain.HelperProfile{}, validate.FieldErrors{"radiusKm": radiusMessage(e.Config.Helper.RadiusOptionsKm)}
		}
		p.RadiusKm = radiusKm
	}
	p.Available = available
	p.UpdatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.HelperProfile{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertHelperProfile(ctx, tx, p); err != nil {
		return domain.HelperProfile{}, fmt.Errorf("upsert helper profile: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.AvailabilitySet, "helper", helperID, helperID, events.EventPayload{
		"available": p.Available,
		"radius_km": p.RadiusKm,
	}); err != nil {
		return domain.HelperProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.HelperProfile{}, err
	}
	return p, nil
}

func radiusMessage(opts []float64) string {
	parts := make([]string, len(opts))
	for i, o := range opts {
		parts[i] = fmt.Sprintf("%g", o)
	}
	if len(parts) == 1 {
		return "Choose " + parts[0] + " km"
	}
	return "Choose " + strings.Join(parts[:len(parts)-1], ", ") + " or " + parts[len(parts)-1] + " km"
}

// HelperStats totals what a helper has earned and how their errands ended.
func (e Engine) HelperStats(ctx context.Context, helperID string) (_ domain.HelperStats, err error) {
	ctx, span := e.start(ctx, "HelperStats")
	defer func() { endSpan(span, err) }()

	stats, err := e.Repo.HelperStats(ctx, helperID)
	if err != nil {
		return domain.HelperStats{}, err
	}
	if stats.Currency == "" && e.Config != nil {
		stats.Currency = e.Config.Platform.Currency
	}
	return stats, nil
}

type ReportSafetyOptions struct {
	ReporterID string
	ErrandID   string
	Action     string
	Report     string
}

// ReportSafety records an emergency action. When tied to an errand the
// reporter must be one of its parties.
func (e Engine) ReportSafety(ctx context.Context, opts ReportSafetyOptions) (_ domain.SafetyAlert, err error) {
	ctx, span := e.start(ctx, "ReportSafety", attribute.String("safety.action", opts.Action))
	defer func() { endSpan(span, err) }()

	if err := validate.Safety(validate.SafetyForm{Action: opts.Action, Report: opts.Report}); err != nil {
		return domain.SafetyAlert{}, err
	}
	if opts.ErrandID != "" {
		errand, err := e.Repo.GetErrand(ctx, opts.ErrandID)
		if err != nil {
			return domain.SafetyAlert{}, err
		}
		if !isParty(errand, opts.ReporterID) {
			return domain.SafetyAlert{}, auth.ForbiddenError{Reason: "not a participant in this errand"}
		}
	}
	a := domain.SafetyAlert{
		ID:         uuid.NewString(),
		ErrandID:   opts.ErrandID,
		ReporterID: opts.ReporterID,
		Action:     opts.Action,
		Report:     strings.TrimSpace(opts.Report),
		CreatedAt:  e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SafetyAlert{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSafetyAlert(ctx, tx, a); err != nil {
		return domain.SafetyAlert{}, fmt.Errorf("insert safety alert: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.SafetyReported, "safety", a.ID, a.ReporterID, events.EventPayload{
		"action":    a.Action,
		"errand_id": a.ErrandID,
	}); err != nil {
		return domain.SafetyAlert{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SafetyAlert{}, err
	}
	return a, nil
}
