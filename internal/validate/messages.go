package validate

// messages are keyed "form.field.keyword"; "form.field" is the fallback.
var messages = map[string]string{
	"signup.firstName":      "First name is required",
	"signup.lastName":       "Last name is required",
	"signup.email.format":   "Invalid email",
	"signup.email.required": "Invalid email",
	"signup.email":          "Must be a university email",
	"signup.phone":          "Invalid phone number",
	"signup.password":       "Min 6 characters",

	"login.email":    "Invalid email",
	"login.password": "Password is required",

	"shopping.title":                 "Keep the title under 80 characters",
	"shopping.category":              "Choose quick, standard or complex",
	"shopping.description":           "Description is required",
	"shopping.store":                 "Store is required",
	"shopping.deliveryLocation":      "Delivery location is required",
	"shopping.itemBudget":            "Item budget is required",
	"shopping.itemBudget.pattern":    "Enter an amount like 8.00",
	"shopping.helperPayment":         "Helper payment is required",
	"shopping.helperPayment.pattern": "Enter an amount like 3.00",

	"pickup.title":                 "Keep the title under 80 characters",
	"pickup.category":              "Choose quick, standard or complex",
	"pickup.description":           "Description is required",
	"pickup.pickupLocation":        "Pickup location is required",
	"pickup.dropoffLocation":       "Drop-off location is required",
	"pickup.pickupReference":       "Reference is too long",
	"pickup.helperPayment":         "Helper payment is required",
	"pickup.helperPayment.pattern": "Enter an amount like 3.00",

	"dispute.reason":         "Please select a reason",
	"dispute.explanation":    "Please provide more detail",
	"dispute.evidenceImages": "Add up to 3 images",

	"proof.imageUrl": "Add a photo of the completed errand",
	"proof.note":     "Keep the note under 500 characters",

	"safety.action": "Choose what to do",
	"safety.report": "Keep the report under 1000 characters",
}

func message(form, field, keyword, fallback string) string {
	if m, ok := messages[form+"."+field+"."+keyword]; ok {
		return m
	}
	if m, ok := messages[form+"."+field]; ok {
		return m
	}
	return fallback
}
