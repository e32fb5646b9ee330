package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	UserSignedUp    = "user.signed_up"
	SessionStarted  = "session.started"
	SessionEnded    = "session.ended"
	RoleSelected    = "session.role_selected"
	ErrandPosted    = "errand.posted"
	ErrandAccepted  = "errand.accepted"
	ErrandStarted   = "errand.started"
	ProofSubmitted  = "errand.proof_submitted"
	ErrandCompleted = "errand.completed"
	ErrandCancelled = "errand.cancelled"
	DisputeRaised   = "errand.disputed"
	PaymentHeld     = "payment.held"
	PaymentReleased = "payment.released"
	PaymentRefunded = "payment.refunded"
	MessageSent     = "message.sent"
	AvailabilitySet = "helper.availability_set"
	SafetyReported  = "safety.reported"
	MediaUploaded   = "media.uploaded"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
