package lifecycle

import "github.com/Chloe7243/Errandhub/internal/session"

// Affordance is a control the errand screens may show.
type Affordance string

const (
	AffordAccept         Affordance = "accept"
	AffordStart          Affordance = "start"
	AffordChat           Affordance = "chat"
	AffordCall           Affordance = "call"
	AffordCancel         Affordance = "cancel"
	AffordMarkComplete   Affordance = "mark_complete"
	AffordConfirmRelease Affordance = "confirm_release"
	AffordRaiseDispute   Affordance = "raise_dispute"
)

// Live reports whether both parties are attached and the errand is still moving.
func (s Stage) Live() bool {
	return s == Accepted || s == InProgress || s == Reviewing
}

// Affordances lists the controls for role on an errand in stage.
// Chat and call need an assigned helper, which Live implies.
func (m Machine) Affordances(stage Stage, role session.Role) []Affordance {
	var out []Affordance
	if stage.Live() && role.IsSet() {
		out = append(out, AffordChat, AffordCall)
	}
	for _, a := range m.Available(stage, role) {
		switch a {
		case ActionAccept:
			out = append(out, AffordAccept)
		case ActionStart:
			out = append(out, AffordStart)
		case ActionSubmitProof:
			out = append(out, AffordMarkComplete)
		case ActionConfirm:
			out = append(out, AffordConfirmRelease)
		case ActionDispute:
			out = append(out, AffordRaiseDispute)
		case ActionCancel:
			out = append(out, AffordCancel)
		}
	}
	return out
}

// ReviewChecks is the checklist shown to the requester before releasing payment.
func ReviewChecks(taskType string, allowSubstitution bool) []string {
	if taskType == "pickup" {
		return []string{"Item collected", "Delivered to drop-off", "Delivered on time"}
	}
	checks := []string{"Items delivered"}
	if !allowSubstitution {
		checks = append(checks, "No substitutions needed")
	}
	return append(checks, "Delivered on time")
}
