package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Chloe7243/Errandhub/internal/config"
	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/events"
	"github.com/Chloe7243/Errandhub/internal/lifecycle"
	"github.com/Chloe7243/Errandhub/internal/payment"
	"github.com/Chloe7243/Errandhub/internal/repo"
)

var (
	ErrConfigMissing       = errors.New("config not loaded")
	ErrFormRequired        = errors.New("this action is submitted with its own form")
	ErrHelperOffline       = errors.New("go online before accepting errands")
	ErrDisputeWindowClosed = errors.New("the dispute window for this errand has closed")
)

// Escrow holds the requester's money for an errand until it is released or refunded.
type Escrow interface {
	Charge(ctx context.Context, tx *sql.Tx, errandID, payerID string, b payment.Breakdown) (payment.Receipt, error)
	Release(ctx context.Context, tx *sql.Tx, errandID, actorID string) (payment.Receipt, error)
	Refund(ctx context.Context, tx *sql.Tx, errandID, actorID string) (payment.Receipt, error)
	Status(ctx context.Context, errandID string) (domain.Payment, []domain.LedgerEntry, error)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Escrow Escrow
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{},
		Config: cfg,
		Escrow: payment.Ledger{Repo: r},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) machine() lifecycle.Machine {
	return lifecycle.NewMachine(e.Config.CancelPolicy())
}

var tracer = otel.Tracer("github.com/Chloe7243/Errandhub/internal/engine")

func (e Engine) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
