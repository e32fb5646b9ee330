// Package messaging stores errand chat messages and fans them out to live
// subscribers, in process or across replicas through Redis.
package messaging

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/events"
	"github.com/Chloe7243/Errandhub/internal/lifecycle"
	"github.com/Chloe7243/Errandhub/internal/repo"
)

var (
	ErrEmptyMessage = errors.New("message needs text or an image")
	ErrBothContent  = errors.New("send text or an image, not both")
	ErrChatClosed   = errors.New("chat is only open while a helper is working on the errand")
)

// Content is the body of a message: exactly one of Text or ImageURL.
type Content struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

func (c Content) validate() error {
	text := strings.TrimSpace(c.Text)
	img := strings.TrimSpace(c.ImageURL)
	switch {
	case text == "" && img == "":
		return ErrEmptyMessage
	case text != "" && img != "":
		return ErrBothContent
	}
	return nil
}

// Threads resolves an errand thread for one of its parties.
type Threads interface {
	Participant(ctx context.Context, errandID, userID string) (domain.Errand, error)
}

// Publisher forwards a stored message to other replicas.
type Publisher interface {
	Publish(ctx context.Context, m domain.Message) error
}

type Hub struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Threads Threads
	// Remote is nil for a single process; otherwise delivery happens when the
	// message comes back from the broker.
	Remote Publisher
	Now    func() time.Time

	mu   sync.Mutex
	subs map[string]map[int]func(domain.Message)
	next int
}

func NewHub(db *sql.DB, threads Threads) *Hub {
	return &Hub{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Threads: threads,
		Now:     time.Now,
	}
}

func (h *Hub) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Send stores a message from senderID and delivers it to the thread's subscribers.
func (h *Hub) Send(ctx context.Context, threadID, senderID string, c Content) (domain.Message, error) {
	if err := c.validate(); err != nil {
		return domain.Message{}, err
	}
	errand, err := h.Threads.Participant(ctx, threadID, senderID)
	if err != nil {
		return domain.Message{}, err
	}
	if !lifecycle.Stage(errand.Stage).Live() {
		return domain.Message{}, ErrChatClosed
	}
	m := domain.Message{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		SenderID: senderID,
		Text:     strings.TrimSpace(c.Text),
		ImageURL: strings.TrimSpace(c.ImageURL),
		SentAt:   h.now().UTC().Format(time.RFC3339Nano),
	}
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()
	if err := h.Repo.InsertMessage(ctx, tx, m); err != nil {
		return domain.Message{}, err
	}
	if err := h.Events.Append(ctx, tx, events.MessageSent, "errand", threadID, senderID, events.EventPayload{"message_id": m.ID}); err != nil {
		return domain.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	if h.Remote != nil {
		if err := h.Remote.Publish(ctx, m); err != nil {
			return m, err
		}
		return m, nil
	}
	h.deliver(m)
	return m, nil
}

// History returns the thread oldest first, optionally after a cursor message.
func (h *Hub) History(ctx context.Context, threadID, userID string, after *domain.Message, limit int) ([]domain.Message, error) {
	if _, err := h.Threads.Participant(ctx, threadID, userID); err != nil {
		return nil, err
	}
	f := repo.MessageFilters{ThreadID: threadID, Limit: limit}
	if after != nil {
		f.CursorSentAt = after.SentAt
		f.CursorID = after.ID
	}
	msgs, err := h.Repo.ListMessages(ctx, f)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// Subscribe registers fn for new messages on threadID. fn runs on the
// sender's goroutine and must not block. The returned func unsubscribes.
func (h *Hub) Subscribe(threadID string, fn func(domain.Message)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = map[string]map[int]func(domain.Message){}
	}
	if h.subs[threadID] == nil {
		h.subs[threadID] = map[int]func(domain.Message){}
	}
	id := h.next
	h.next++
	h.subs[threadID][id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[threadID], id)
		if len(h.subs[threadID]) == 0 {
			delete(h.subs, threadID)
		}
	}
}

func (h *Hub) deliver(m domain.Message) {
	h.mu.Lock()
	fns := make([]func(domain.Message), 0, len(h.subs[m.ThreadID]))
	for _, fn := range h.subs[m.ThreadID] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}
