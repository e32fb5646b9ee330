package validate

import "strings"

// DisputeReasons are the fixed reasons a requester can pick.
var DisputeReasons = []string{
	"Item not delivered",
	"Wrong item delivered",
	"Item damaged",
	"Helper didn't show up",
	"Other",
}

const MaxEvidenceImages = 3

type SignupForm struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
}

type LoginForm struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ShoppingForm struct {
	Title             string `json:"title"`
	Category          string `json:"category"`
	Description       string `json:"description"`
	Store             string `json:"store"`
	DeliveryLocation  string `json:"deliveryLocation"`
	ItemBudget        string `json:"itemBudget"`
	HelperPayment     string `json:"helperPayment"`
	AllowSubstitution bool   `json:"allowSubstitution"`
}

type PickupForm struct {
	Title           string `json:"title"`
	Category        string `json:"category"`
	Description     string `json:"description"`
	PickupLocation  string `json:"pickupLocation"`
	DropoffLocation string `json:"dropoffLocation"`
	PickupReference string `json:"pickupReference"`
	HelperPayment   string `json:"helperPayment"`
}

type DisputeForm struct {
	Reason         string   `json:"reason"`
	Explanation    string   `json:"explanation"`
	EvidenceImages []string `json:"evidenceImages"`
}

type ProofForm struct {
	ImageURL string `json:"imageUrl"`
	Note     string `json:"note"`
}

type SafetyForm struct {
	Action string `json:"action"`
	Report string `json:"report"`
}

func Signup(f SignupForm) error {
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.Email = strings.TrimSpace(f.Email)
	f.Phone = strings.TrimSpace(f.Phone)
	return check(FormSignup, f)
}

func Login(f LoginForm) error {
	f.Email = strings.TrimSpace(f.Email)
	return check(FormLogin, f)
}

func Shopping(f ShoppingForm) error {
	f.Description = strings.TrimSpace(f.Description)
	f.Store = strings.TrimSpace(f.Store)
	f.DeliveryLocation = strings.TrimSpace(f.DeliveryLocation)
	f.ItemBudget = strings.TrimSpace(f.ItemBudget)
	f.HelperPayment = strings.TrimSpace(f.HelperPayment)
	return check(FormShopping, f)
}

func Pickup(f PickupForm) error {
	f.Description = strings.TrimSpace(f.Description)
	f.PickupLocation = strings.TrimSpace(f.PickupLocation)
	f.DropoffLocation = strings.TrimSpace(f.DropoffLocation)
	f.HelperPayment = strings.TrimSpace(f.HelperPayment)
	return check(FormPickup, f)
}

// Dispute checks the explanation length as typed, surrounding spaces included.
func Dispute(f DisputeForm) error {
	if f.EvidenceImages == nil {
		f.EvidenceImages = []string{}
	}
	return check(FormDispute, f)
}

func Proof(f ProofForm) error {
	f.ImageURL = strings.TrimSpace(f.ImageURL)
	return check(FormProof, f)
}

func Safety(f SafetyForm) error {
	return check(FormSafety, f)
}

func check(form string, data any) error {
	v, err := Default()
	if err != nil {
		return err
	}
	return v.Check(form, data)
}
