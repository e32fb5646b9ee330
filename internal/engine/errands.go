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
	"github.com/Chloe7243/Errandhub/internal/lifecycle"
	"github.com/Chloe7243/Errandhub/internal/payment"
	"github.com/Chloe7243/Errandhub/internal/repo"
	"github.com/Chloe7243/Errandhub/internal/session"
	"github.com/Chloe7243/Errandhub/internal/validate"
)

const (
	TaskShopping = "shopping"
	TaskPickup   = "pickup"
)

// CreateErrandOptions carries the fields of both errand forms; TaskType
// decides which ones are read.
type CreateErrandOptions struct {
	RequesterID       string
	TaskType          string
	Title             string
	Category          string
	Description       string
	Store             string
	DeliveryLocation  string
	ItemBudget        string
	AllowSubstitution bool
	PickupLocation    string
	DropoffLocation   string
	PickupReference   string
	HelperPayment     string
}

// Quote previews the payment breakdown for the entered amounts.
func (e Engine) Quote(itemBudget, helperPayment string) (payment.Breakdown, error) {
	if e.Config == nil {
		return payment.Breakdown{}, ErrConfigMissing
	}
	return e.Config.Fees().QuoteStrings(itemBudget, helperPayment)
}

// CreateErrand posts an errand and places its total on hold.
func (e Engine) CreateErrand(ctx context.Context, opts CreateErrandOptions) (_ domain.Errand, err error) {
	ctx, span := e.start(ctx, "CreateErrand", attribute.String("errand.task_type", opts.TaskType))
	defer func() { endSpan(span, err) }()

	if e.Config == nil {
		return domain.Errand{}, ErrConfigMissing
	}
	if opts.RequesterID == "" {
		return domain.Errand{}, errors.New("requester is required")
	}
	itemBudget := ""
	switch opts.TaskType {
	case TaskShopping:
		if err := validate.Shopping(validate.ShoppingForm{
			Title:             opts.Title,
			Category:          opts.Category,
			Description:       opts.Description,
			Store:             opts.Store,
			DeliveryLocation:  opts.DeliveryLocation,
			ItemBudget:        opts.ItemBudget,
			HelperPayment:     opts.HelperPayment,
			AllowSubstitution: opts.AllowSubstitution,
		}); err != nil {
			return domain.Errand{}, err
		}
		itemBudget = opts.ItemBudget
	case TaskPickup:
		if err := validate.Pickup(validate.PickupForm{
			Title:           opts.Title,
			Category:        opts.Category,
			Description:     opts.Description,
			PickupLocation:  opts.PickupLocation,
			DropoffLocation: opts.DropoffLocation,
			PickupReference: opts.PickupReference,
			HelperPayment:   opts.HelperPayment,
		}); err != nil {
			return domain.Errand{}, err
		}
	default:
		return domain.Errand{}, validate.FieldErrors{"taskType": "Choose shopping or pickup"}
	}
	b, err := e.Config.Fees().QuoteStrings(strings.TrimSpace(itemBudget), strings.TrimSpace(opts.HelperPayment))
	if err != nil {
		return domain.Errand{}, err
	}
	ts := e.stamp()
	errand := domain.Errand{
		ID:            uuid.NewString(),
		RequesterID:   opts.RequesterID,
		Title:         errandTitle(opts),
		Description:   strings.TrimSpace(opts.Description),
		Category:      opts.Category,
		TaskType:      opts.TaskType,
		Stage:         string(lifecycle.Posted),
		Status:        string(lifecycle.Posted.Status()),
		ItemBudget:    b.ItemBudget,
		HelperPayment: b.HelperPayment,
		ServiceFee:    b.ServiceFee,
		PlatformFee:   b.PlatformFee,
		Total:         b.Total(),
		Currency:      b.Currency,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	if errand.Category == "" {
		errand.Category = "standard"
	}
	if opts.TaskType == TaskShopping {
		errand.Store = strings.TrimSpace(opts.Store)
		errand.DeliveryLocation = strings.TrimSpace(opts.DeliveryLocation)
		errand.AllowSubstitution = opts.AllowSubstitution
	} else {
		errand.PickupLocation = strings.TrimSpace(opts.PickupLocation)
		errand.DropoffLocation = strings.TrimSpace(opts.DropoffLocation)
		errand.PickupReference = strings.TrimSpace(opts.PickupReference)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Errand{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertErrand(ctx, tx, errand); err != nil {
		return domain.Errand{}, fmt.Errorf("insert errand: %w", err)
	}
	receipt, err := e.Escrow.Charge(ctx, tx, errand.ID, errand.RequesterID, b)
	if err != nil {
		return domain.Errand{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ErrandPosted, "errand", errand.ID, errand.RequesterID, events.EventPayload{
		"task_type": errand.TaskType,
		"total":     errand.Total.String(),
	}); err != nil {
		return domain.Errand{}, err
	}
	if err := e.appendReceipt(ctx, tx, receipt, errand.RequesterID); err != nil {
		return domain.Errand{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Errand{}, err
	}
	return errand, nil
}

func errandTitle(opts CreateErrandOptions) string {
	if t := strings.TrimSpace(opts.Title); t != "" {
		return t
	}
	if opts.TaskType == TaskPickup {
		return "Pickup from " + strings.TrimSpace(opts.PickupLocation)
	}
	return "Shopping at " + strings.TrimSpace(opts.Store)
}

// ListErrandsOptions selects errands for one side of the marketplace.
// Requesters see their own errands. Helpers see open errands (Scope
// "available") or the errands they hold (Scope "mine").
type ListErrandsOptions struct {
	UserID          string
	Role            session.Role
	Status          string
	Scope           string
	Search          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

const (
	ScopeAvailable = "available"
	ScopeMine      = "mine"
)

func (e Engine) ListErrands(ctx context.Context, opts ListErrandsOptions) (_ []domain.Errand, err error) {
	ctx, span := e.start(ctx, "ListErrands", attribute.String("role", opts.Role.String()))
	defer func() { endSpan(span, err) }()

	stages, err := stagesForStatus(opts.Status)
	if err != nil {
		return nil, err
	}
	f := repo.ErrandFilters{
		Stages:          stages,
		Search:          strings.TrimSpace(opts.Search),
		Limit:           opts.Limit,
		CursorCreatedAt: opts.CursorCreatedAt,
		CursorID:        opts.CursorID,
	}
	switch opts.Role {
	case session.Requester:
		f.RequesterID = opts.UserID
	case session.Helper:
		switch opts.Scope {
		case "", ScopeAvailable:
			profile, err := e.HelperProfile(ctx, opts.UserID)
			if err != nil {
				return nil, err
			}
			if !profile.Available {
				return []domain.Errand{}, nil
			}
			f.Open = true
			f.ExcludeRequesterID = opts.UserID
		case ScopeMine:
			f.HelperID = opts.UserID
		default:
			return nil, validate.FieldErrors{"scope": "Choose available or mine"}
		}
	default:
		return nil, auth.RoleRequiredError{Want: session.Requester}
	}
	return e.Repo.ListErrands(ctx, f)
}

func stagesForStatus(status string) ([]string, error) {
	if status == "" || status == "all" {
		return nil, nil
	}
	stages := lifecycle.StagesFor(lifecycle.Status(status))
	if len(stages) == 0 {
		return nil, validate.FieldErrors{"status": "Unknown status filter"}
	}
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out, nil
}

func (e Engine) GetErrand(ctx context.Context, id string) (domain.Errand, error) {
	return e.Repo.GetErrand(ctx, id)
}

// ErrandView is an errand as one party sees it.
type ErrandView struct {
	Errand       domain.Errand          `json:"errand"`
	Steps        []lifecycle.Step       `json:"steps,omitempty"`
	ShowStepper  bool                   `json:"show_stepper"`
	Affordances  []lifecycle.Affordance `json:"affordances"`
	ReviewChecks []string               `json:"review_checks,omitempty"`
	Breakdown    payment.Breakdown      `json:"breakdown"`
	Proof        *domain.Proof          `json:"proof,omitempty"`
	Dispute      *domain.Dispute        `json:"dispute,omitempty"`
}

// Stepper classifies the errand's stage for the progress tracker.
func Stepper(errand domain.Errand) ([]lifecycle.Step, bool) {
	return lifecycle.Classify(lifecycle.Stage(errand.Stage))
}

// ViewErrand loads an errand for userID acting as role. Requesters may only
// see their own errands; helpers see open errands and the ones they hold.
func (e Engine) ViewErrand(ctx context.Context, id, userID string, role session.Role) (_ ErrandView, err error) {
	ctx, span := e.start(ctx, "ViewErrand", attribute.String("errand.id", id))
	defer func() { endSpan(span, err) }()

	errand, err := e.Repo.GetErrand(ctx, id)
	if err != nil {
		return ErrandView{}, err
	}
	if !canSee(errand, userID, role) {
		return ErrandView{}, auth.ForbiddenError{Reason: "not your errand"}
	}
	stage := lifecycle.Stage(errand.Stage)
	steps, show := Stepper(errand)
	view := ErrandView{
		Errand:      errand,
		Steps:       steps,
		ShowStepper: show,
		Affordances: e.affordances(errand, userID, role),
		Breakdown: payment.Breakdown{
			ItemBudget:    errand.ItemBudget,
			HelperPayment: errand.HelperPayment,
			ServiceFee:    errand.ServiceFee,
			PlatformFee:   errand.PlatformFee,
			Currency:      errand.Currency,
		},
	}
	if stage == lifecycle.Reviewing && role == session.Requester {
		view.ReviewChecks = lifecycle.ReviewChecks(errand.TaskType, errand.AllowSubstitution)
	}
	if proof, err := e.Repo.LatestProof(ctx, errand.ID); err == nil {
		view.Proof = &proof
	} else if !errors.Is(err, repo.ErrNotFound) {
		return ErrandView{}, err
	}
	if stage == lifecycle.Disputed {
		if d, err := e.Repo.GetDisputeByErrand(ctx, errand.ID); err == nil {
			view.Dispute = &d
		} else if !errors.Is(err, repo.ErrNotFound) {
			return ErrandView{}, err
		}
	}
	return view, nil
}

func canSee(errand domain.Errand, userID string, role session.Role) bool {
	return session.MatchRole(role,
		func() bool { return false },
		func() bool { return errand.RequesterID == userID },
		func() bool {
			if errand.HelperID != nil {
				return *errand.HelperID == userID
			}
			return errand.Stage == string(lifecycle.Posted) && errand.RequesterID != userID
		},
	)
}

// affordances drops controls the stage would allow but this user does not own.
func (e Engine) affordances(errand domain.Errand, userID string, role session.Role) []lifecycle.Affordance {
	if !isParty(errand, userID) && !(role == session.Helper && errand.HelperID == nil) {
		return []lifecycle.Affordance{}
	}
	out := []lifecycle.Affordance{}
	closed, err := e.disputeWindowClosed(errand)
	for _, a := range e.machine().Affordances(lifecycle.Stage(errand.Stage), role) {
		if a == lifecycle.AffordRaiseDispute && (closed || err != nil) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func isParty(errand domain.Errand, userID string) bool {
	if errand.RequesterID == userID {
		return true
	}
	return errand.HelperID != nil && *errand.HelperID == userID
}

// Participant returns the errand when userID is its requester or assigned helper.
func (e Engine) Participant(ctx context.Context, errandID, userID string) (domain.Errand, error) {
	errand, err := e.Repo.GetErrand(ctx, errandID)
	if err != nil {
		return domain.Errand{}, err
	}
	if !isParty(errand, userID) {
		return domain.Errand{}, auth.ForbiddenError{Reason: "not a participant in this errand"}
	}
	return errand, nil
}

// PaymentStatus reports the escrow hold of an errand to one of its parties.
func (e Engine) PaymentStatus(ctx context.Context, errandID, userID string) (domain.Payment, []domain.LedgerEntry, error) {
	if _, err := e.Participant(ctx, errandID, userID); err != nil {
		return domain.Payment{}, nil, err
	}
	return e.Escrow.Status(ctx, errandID)
}
