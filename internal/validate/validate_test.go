package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSignup() SignupForm {
	return SignupForm{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@kcl.ac.uk",
		Phone:     "07123456789",
		Password:  "secret1",
	}
}

func fieldErrors(t *testing.T, err error) FieldErrors {
	t.Helper()
	require.Error(t, err)
	fe, ok := AsFieldErrors(err)
	require.True(t, ok, "expected FieldErrors, got %T: %v", err, err)
	return fe
}

func TestSignupAcceptsUniversityEmail(t *testing.T) {
	require.NoError(t, Signup(validSignup()))

	f := validSignup()
	f.Email = "grace@yale.EDU"
	require.NoError(t, Signup(f))
}

func TestSignupRejectsNonUniversityEmail(t *testing.T) {
	f := validSignup()
	f.Email = "a@gmail.com"
	fe := fieldErrors(t, Signup(f))
	assert.Equal(t, "Must be a university email", fe["email"])
	assert.Len(t, fe, 1)
}

func TestSignupRejectsMalformedEmail(t *testing.T) {
	f := validSignup()
	f.Email = "not-an-email"
	fe := fieldErrors(t, Signup(f))
	assert.Equal(t, "Invalid email", fe["email"])
}

func TestSignupPhoneAndPassword(t *testing.T) {
	f := validSignup()
	f.Phone = "12345"
	f.Password = "abc"
	fe := fieldErrors(t, Signup(f))
	assert.Equal(t, "Invalid phone number", fe["phone"])
	assert.Equal(t, "Min 6 characters", fe["password"])

	f = validSignup()
	f.Phone = "0123456789012345"
	fe = fieldErrors(t, Signup(f))
	assert.Equal(t, "Invalid phone number", fe["phone"])
}

func TestSignupRequiredNames(t *testing.T) {
	f := validSignup()
	f.FirstName = "  "
	f.LastName = ""
	fe := fieldErrors(t, Signup(f))
	assert.Equal(t, "First name is required", fe["firstName"])
	assert.Equal(t, "Last name is required", fe["lastName"])
}

func TestDispute(t *testing.T) {
	ok := DisputeForm{Reason: "Item damaged", Explanation: "The eggs were all cracked."}
	require.NoError(t, Dispute(ok))

	fe := fieldErrors(t, Dispute(DisputeForm{Reason: "", Explanation: "short"}))
	assert.Equal(t, "Please select a reason", fe["reason"])
	assert.Equal(t, "Please provide more detail", fe["explanation"])

	fe = fieldErrors(t, Dispute(DisputeForm{Reason: "Bored", Explanation: "long enough text"}))
	assert.Equal(t, "Please select a reason", fe["reason"])

	fe = fieldErrors(t, Dispute(DisputeForm{
		Reason:         "Other",
		Explanation:    "long enough text",
		EvidenceImages: []string{"a", "b", "c", "d"},
	}))
	assert.Equal(t, "Add up to 3 images", fe["evidenceImages"])
}

func TestDisputeExplanationLength(t *testing.T) {
	cases := []struct {
		text string
		ok   bool
	}{
		{"123456789", false},
		{"1234567890", true},
		{"   abcdefgh   ", true},
		{"         ", false},
	}
	for _, tc := range cases {
		err := Dispute(DisputeForm{Reason: "Other", Explanation: tc.text})
		if tc.ok {
			assert.NoError(t, err, "%q", tc.text)
			continue
		}
		assert.Equal(t, "Please provide more detail", fieldErrors(t, err)["explanation"], "%q", tc.text)
	}
}

func TestShoppingAndPickup(t *testing.T) {
	shop := ShoppingForm{
		Description:      "Milk and bread",
		Store:            "Tesco Express",
		DeliveryLocation: "Halls Block B",
		ItemBudget:       "8.00",
		HelperPayment:    "3",
	}
	require.NoError(t, Shopping(shop))

	shop.Store = ""
	shop.ItemBudget = "eight"
	fe := fieldErrors(t, Shopping(shop))
	assert.Equal(t, "Store is required", fe["store"])
	assert.Equal(t, "Enter an amount like 8.00", fe["itemBudget"])

	pick := PickupForm{
		Description:     "Parcel",
		PickupLocation:  "Post office",
		DropoffLocation: "Library",
		HelperPayment:   "",
	}
	fe = fieldErrors(t, Pickup(pick))
	assert.Equal(t, "Helper payment is required", fe["helperPayment"])
	assert.NotContains(t, fe, "pickupReference")
}

func TestProofAndSafety(t *testing.T) {
	fe := fieldErrors(t, Proof(ProofForm{}))
	assert.Equal(t, "Add a photo of the completed errand", fe["imageUrl"])
	require.NoError(t, Proof(ProofForm{ImageURL: "/media/u/1.jpg", Note: "left at door"}))

	fe = fieldErrors(t, Safety(SafetyForm{Action: "panic"}))
	assert.Equal(t, "Choose what to do", fe["action"])
	require.NoError(t, Safety(SafetyForm{Action: "alert_admin"}))
}

func TestFieldErrorsMessageIsStable(t *testing.T) {
	fe := FieldErrors{"b": "two", "a": "one"}
	assert.Equal(t, "validation failed: a: one; b: two", fe.Error())
}
