package server

import (
	"encoding/json"

	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/money"
	"github.com/Chloe7243/Errandhub/internal/payment"
)

// Request payloads. Form fields are optional at the schema level so the
// form validator can report every missing field with its own message.

type SignupRequest struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Password  string `json:"password,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

type SelectRoleRequest struct {
	Role string `json:"role" enum:"requester,helper"`
}

type QuoteRequest struct {
	ItemBudget    string `json:"itemBudget,omitempty" example:"8.00"`
	HelperPayment string `json:"helperPayment" example:"3.00"`
}

type CreateErrandRequest struct {
	TaskType          string `json:"taskType" enum:"shopping,pickup"`
	Title             string `json:"title,omitempty"`
	Category          string `json:"category,omitempty" enum:"quick,standard,complex"`
	Description       string `json:"description,omitempty"`
	Store             string `json:"store,omitempty"`
	DeliveryLocation  string `json:"deliveryLocation,omitempty"`
	ItemBudget        string `json:"itemBudget,omitempty"`
	AllowSubstitution bool   `json:"allowSubstitution,omitempty"`
	PickupLocation    string `json:"pickupLocation,omitempty"`
	DropoffLocation   string `json:"dropoffLocation,omitempty"`
	PickupReference   string `json:"pickupReference,omitempty"`
	HelperPayment     string `json:"helperPayment,omitempty"`
}

type SubmitProofRequest struct {
	ImageURL string `json:"imageUrl,omitempty"`
	Note     string `json:"note,omitempty"`
}

type RaiseDisputeRequest struct {
	Reason         string   `json:"reason,omitempty"`
	Explanation    string   `json:"explanation,omitempty"`
	EvidenceImages []string `json:"evidenceImages,omitempty"`
}

type SendMessageRequest struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type AvailabilityRequest struct {
	Available bool    `json:"available"`
	RadiusKm  float64 `json:"radiusKm,omitempty" example:"1"`
}

type SafetyRequest struct {
	ErrandID string `json:"errandId,omitempty"`
	Action   string `json:"action" enum:"alert_admin,share_location,call_security"`
	Report   string `json:"report,omitempty"`
}

// Responses

type GateResponse struct {
	Route    string `json:"route"`
	Zone     string `json:"zone" enum:"public,protected"`
	Redirect bool   `json:"redirect"`
	To       string `json:"to,omitempty"`
	Target   string `json:"target"`
}

type UserResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	CreatedAt string `json:"created_at"`
}

// SessionResponse mirrors the client authentication context.
type SessionResponse struct {
	IsAuthenticated bool          `json:"is_authenticated"`
	User            *UserResponse `json:"user"`
	Role            *string       `json:"role" enum:"requester,helper"`
	SessionID       string        `json:"session_id"`
	ExpiresAt       string        `json:"expires_at"`
}

type LoginResponse struct {
	Token   string          `json:"token"`
	User    UserResponse    `json:"user"`
	Session SessionResponse `json:"session"`
}

type QuoteResponse struct {
	Breakdown payment.Breakdown `json:"breakdown"`
	Total     string            `json:"total" example:"11.28"`
	Display   string            `json:"display" example:"£11.28"`
	Lines     [][2]string       `json:"lines"`
}

type paginatedErrands struct {
	Items      []domain.Errand `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedMessages struct {
	Items      []domain.Message `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type PaymentResponse struct {
	Payment domain.Payment       `json:"payment"`
	Entries []domain.LedgerEntry `json:"entries"`
	Display string               `json:"display" example:"£11.28"`
}

type HelperStatsResponse struct {
	domain.HelperStats
	Display string `json:"display" example:"£42.00"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Phone:     u.Phone,
		CreatedAt: u.CreatedAt,
	}
}

func sessionResponse(u domain.User, s domain.Session) SessionResponse {
	user := userResponse(u)
	resp := SessionResponse{
		IsAuthenticated: s.RevokedAt == nil,
		User:            &user,
		SessionID:       s.ID,
		ExpiresAt:       s.ExpiresAt,
	}
	if s.Role != "" {
		role := s.Role
		resp.Role = &role
	}
	return resp
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func display(a money.Amount, code string) string {
	unit, err := money.Currency(code)
	if err != nil {
		return a.String()
	}
	return money.Format(a, unit)
}

func nonNilErrands(items []domain.Errand) []domain.Errand {
	if items == nil {
		return []domain.Errand{}
	}
	return items
}
