package domain

import "github.com/Chloe7243/Errandhub/internal/money"

type User struct {
	ID           string `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Session struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Role      string  `json:"role,omitempty" enum:"requester,helper"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	ExpiresAt string  `json:"expires_at" format:"date-time"`
	RevokedAt *string `json:"revoked_at,omitempty" format:"date-time"`
}

type Errand struct {
	ID                string       `json:"id"`
	RequesterID       string       `json:"requester_id"`
	HelperID          *string      `json:"helper_id,omitempty"`
	Title             string       `json:"title"`
	Description       string       `json:"description"`
	Category          string       `json:"category" enum:"quick,standard,complex"`
	TaskType          string       `json:"task_type" enum:"shopping,pickup"`
	Stage             string       `json:"stage" enum:"posted,accepted,in_progress,reviewing,completed,cancelled,disputed"`
	Status            string       `json:"status" enum:"new,active,completed,cancelled,disputed"`
	Store             string       `json:"store,omitempty"`
	DeliveryLocation  string       `json:"delivery_location,omitempty"`
	AllowSubstitution bool         `json:"allow_substitution"`
	PickupLocation    string       `json:"pickup_location,omitempty"`
	DropoffLocation   string       `json:"dropoff_location,omitempty"`
	PickupReference   string       `json:"pickup_reference,omitempty"`
	ItemBudget        money.Amount `json:"item_budget"`
	HelperPayment     money.Amount `json:"helper_payment"`
	ServiceFee        money.Amount `json:"service_fee"`
	PlatformFee       money.Amount `json:"platform_fee"`
	Total             money.Amount `json:"total"`
	Currency          string       `json:"currency"`
	CreatedAt         string       `json:"created_at" format:"date-time"`
	UpdatedAt         string       `json:"updated_at" format:"date-time"`
	AcceptedAt        *string      `json:"accepted_at,omitempty" format:"date-time"`
	CompletedAt       *string      `json:"completed_at,omitempty" format:"date-time"`
	CancelledAt       *string      `json:"cancelled_at,omitempty" format:"date-time"`
}

// Location is the place a helper should head to first.
func (e Errand) Location() string {
	if e.TaskType == "pickup" {
		return e.PickupLocation
	}
	return e.Store
}

type Proof struct {
	ID        string `json:"id"`
	ErrandID  string `json:"errand_id"`
	HelperID  string `json:"helper_id"`
	ImageURL  string `json:"image_url"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Dispute struct {
	ID             string   `json:"id"`
	ErrandID       string   `json:"errand_id"`
	RaisedBy       string   `json:"raised_by"`
	Reason         string   `json:"reason"`
	Explanation    string   `json:"explanation"`
	EvidenceImages []string `json:"evidence_images"`
	Status         string   `json:"status" enum:"under_review,resolved"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
}

type Payment struct {
	ID            string       `json:"id"`
	ErrandID      string       `json:"errand_id"`
	PayerID       string       `json:"payer_id"`
	ItemBudget    money.Amount `json:"item_budget"`
	HelperPayment money.Amount `json:"helper_payment"`
	ServiceFee    money.Amount `json:"service_fee"`
	PlatformFee   money.Amount `json:"platform_fee"`
	Total         money.Amount `json:"total"`
	Currency      string       `json:"currency"`
	Status        string       `json:"status" enum:"held,released,refunded"`
	CreatedAt     string       `json:"created_at" format:"date-time"`
	UpdatedAt     string       `json:"updated_at" format:"date-time"`
}

type LedgerEntry struct {
	ID        int64        `json:"id"`
	PaymentID string       `json:"payment_id"`
	Kind      string       `json:"kind" enum:"hold,release,refund"`
	Amount    money.Amount `json:"amount"`
	ActorID   string       `json:"actor_id"`
	TS        string       `json:"ts" format:"date-time"`
}

type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	SenderID string `json:"sender_id"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	SentAt   string `json:"sent_at" format:"date-time"`
}

type HelperProfile struct {
	UserID    string  `json:"user_id"`
	Available bool    `json:"available"`
	RadiusKm  float64 `json:"radius_km"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type HelperStats struct {
	HelperID    string       `json:"helper_id"`
	TotalEarned money.Amount `json:"total_earned"`
	Completed   int          `json:"completed"`
	Disputed    int          `json:"disputed"`
	Currency    string       `json:"currency"`
}

type SafetyAlert struct {
	ID         string `json:"id"`
	ErrandID   string `json:"errand_id,omitempty"`
	ReporterID string `json:"reporter_id"`
	Action     string `json:"action" enum:"alert_admin,share_location,call_security"`
	Report     string `json:"report,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Media struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
