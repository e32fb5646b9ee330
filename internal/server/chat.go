package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/messaging"
)

const (
	streamBuffer    = 32
	streamHeartbeat = 15 * time.Second
)

func registerChat(api huma.API, hub *messaging.Hub) {
	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/errands/{errand_id}/messages",
		Summary:     "Chat history, oldest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ErrandID string `path:"errand_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedMessages `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		after, err := messageCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		items, err := hub.History(ctx, input.ErrandID, p.UserID, after, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedMessages{}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.SentAt, last.ID)
		}
		resp.Items = items
		return &struct {
			Body paginatedMessages `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-message",
		Method:        http.MethodPost,
		Path:          "/errands/{errand_id}/messages",
		Summary:       "Send a chat message",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ErrandID string             `path:"errand_id"`
		Body     SendMessageRequest `json:"body"`
	}) (*struct {
		Body domain.Message `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := hub.Send(ctx, input.ErrandID, p.UserID, messaging.Content{Text: input.Body.Text, ImageURL: input.Body.ImageURL})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Message `json:"body"`
		}{Body: m}, nil
	})
}

func messageCursor(cursor string) (*domain.Message, error) {
	sentAt, id, err := parseCompositeCursor(cursor)
	if err != nil || sentAt == "" {
		return nil, err
	}
	return &domain.Message{SentAt: sentAt, ID: id}, nil
}

// registerChatStream serves new messages of a thread as server-sent events.
// A cursor replays what was sent after it before the live feed starts.
func registerChatStream(r chi.Router, basePath string, hub *messaging.Hub, logger *slog.Logger) {
	r.Get(path.Join(basePath, "errands/{errand_id}/messages/stream"), func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
			return
		}
		threadID := chi.URLParam(req, "errand_id")
		after, err := messageCursor(req.URL.Query().Get("cursor"))
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil))
			return
		}

		ch := make(chan domain.Message, streamBuffer)
		unsubscribe := hub.Subscribe(threadID, func(m domain.Message) {
			select {
			case ch <- m:
			default:
				logger.Warn("chat stream lagging, dropping message", "errand_id", threadID, "message_id", m.ID, "user_id", p.UserID)
			}
		})
		defer unsubscribe()

		// Subscribe first so nothing sent during the replay is missed.
		var backlog []domain.Message
		if after != nil {
			backlog, err = hub.History(ctx, threadID, p.UserID, after, 0)
		} else {
			_, err = hub.Threads.Participant(ctx, threadID, p.UserID)
		}
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		seen := map[string]bool{}
		for _, m := range backlog {
			seen[m.ID] = true
			if err := writeEvent(w, m); err != nil {
				return
			}
		}
		flusher.Flush()

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case m := <-ch:
				if seen[m.ID] {
					continue
				}
				if err := writeEvent(w, m); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

func writeEvent(w http.ResponseWriter, m domain.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", composeCursor(m.SentAt, m.ID), data)
	return err
}
