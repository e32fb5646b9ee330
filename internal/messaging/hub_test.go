package messaging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Chloe7243/Errandhub/internal/config"
	"github.com/Chloe7243/Errandhub/internal/db"
	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/engine"
	"github.com/Chloe7243/Errandhub/internal/engine/auth"
	"github.com/Chloe7243/Errandhub/internal/events"
	"github.com/Chloe7243/Errandhub/internal/lifecycle"
	"github.com/Chloe7243/Errandhub/internal/messaging"
	"github.com/Chloe7243/Errandhub/internal/migrate"
	"github.com/Chloe7243/Errandhub/internal/session"
)

type testEnv struct {
	Engine engine.Engine
	Hub    *messaging.Hub
	Ctx    context.Context
	Errand domain.Errand
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	eng := engine.New(conn, config.Default())
	for _, id := range []string{"req-1", "help-1", "help-2"} {
		if err := eng.Repo.InsertUser(ctx, nil, domain.User{
			ID: id, FirstName: id, LastName: "Test", Email: id + "@kcl.ac.uk", Phone: "07123456789",
			PasswordHash: "x", CreatedAt: "2024-01-01T00:00:00Z",
		}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
	e, err := eng.CreateErrand(ctx, engine.CreateErrandOptions{
		RequesterID:     "req-1",
		TaskType:        engine.TaskPickup,
		Description:     "Parcel at the post room",
		PickupLocation:  "Post room",
		DropoffLocation: "Library",
		HelperPayment:   "4.50",
	})
	if err != nil {
		t.Fatalf("create errand: %v", err)
	}
	hub := messaging.NewHub(conn, eng)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	hub.Now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return testEnv{Engine: eng, Hub: hub, Ctx: ctx, Errand: e}
}

func (env testEnv) accept(t *testing.T) {
	t.Helper()
	if _, err := env.Engine.SetAvailability(env.Ctx, "help-1", true, 0); err != nil {
		t.Fatalf("set availability: %v", err)
	}
	if _, err := env.Engine.AdvanceStage(env.Ctx, engine.AdvanceOptions{
		ErrandID: env.Errand.ID, Action: lifecycle.ActionAccept, ActorID: "help-1", Role: session.Helper,
	}); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func TestSendRequiresLiveErrand(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Hub.Send(env.Ctx, env.Errand.ID, "req-1", messaging.Content{Text: "hello?"})
	if !errors.Is(err, messaging.ErrChatClosed) {
		t.Fatalf("expected chat closed before accept, got %v", err)
	}
}

func TestSendDeliversToSubscribers(t *testing.T) {
	env := newTestEnv(t)
	env.accept(t)

	var got []domain.Message
	stop := env.Hub.Subscribe(env.Errand.ID, func(m domain.Message) { got = append(got, m) })

	m, err := env.Hub.Send(env.Ctx, env.Errand.ID, "req-1", messaging.Content{Text: "  On my way down  "})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m.Text != "On my way down" {
		t.Fatalf("expected trimmed text, got %q", m.Text)
	}
	if len(got) != 1 || got[0].ID != m.ID {
		t.Fatalf("expected subscriber to receive message, got %+v", got)
	}

	stop()
	if _, err := env.Hub.Send(env.Ctx, env.Errand.ID, "help-1", messaging.Content{ImageURL: "/media/abc.jpg"}); err != nil {
		t.Fatalf("send image: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("unsubscribed callback should not fire, got %d", len(got))
	}

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, events.MessageSent, "errand", env.Errand.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 message events, got %d", len(evts))
	}
}

func TestSendValidatesContent(t *testing.T) {
	env := newTestEnv(t)
	env.accept(t)
	if _, err := env.Hub.Send(env.Ctx, env.Errand.ID, "req-1", messaging.Content{Text: "   "}); !errors.Is(err, messaging.ErrEmptyMessage) {
		t.Fatalf("expected empty message error, got %v", err)
	}
	if _, err := env.Hub.Send(env.Ctx, env.Errand.ID, "req-1", messaging.Content{Text: "hi", ImageURL: "/media/x.png"}); !errors.Is(err, messaging.ErrBothContent) {
		t.Fatalf("expected both content error, got %v", err)
	}
}

func TestOutsidersCannotReadOrWrite(t *testing.T) {
	env := newTestEnv(t)
	env.accept(t)
	var forbidden auth.ForbiddenError
	if _, err := env.Hub.Send(env.Ctx, env.Errand.ID, "help-2", messaging.Content{Text: "hi"}); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden send, got %v", err)
	}
	if _, err := env.Hub.History(env.Ctx, env.Errand.ID, "help-2", nil, 10); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden history, got %v", err)
	}
}

func TestHistoryPagesAfterCursor(t *testing.T) {
	env := newTestEnv(t)
	env.accept(t)
	var sent []domain.Message
	for _, text := range []string{"one", "two", "three"} {
		m, err := env.Hub.Send(env.Ctx, env.Errand.ID, "req-1", messaging.Content{Text: text})
		if err != nil {
			t.Fatalf("send %s: %v", text, err)
		}
		sent = append(sent, m)
	}
	all, err := env.Hub.History(env.Ctx, env.Errand.ID, "help-1", nil, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(all) != 3 || all[0].Text != "one" || all[2].Text != "three" {
		t.Fatalf("unexpected history %+v", all)
	}
	rest, err := env.Hub.History(env.Ctx, env.Errand.ID, "help-1", &sent[0], 0)
	if err != nil {
		t.Fatalf("history after: %v", err)
	}
	if len(rest) != 2 || rest[0].Text != "two" {
		t.Fatalf("unexpected page %+v", rest)
	}
}

type recordingPublisher struct{ got []domain.Message }

func (p *recordingPublisher) Publish(_ context.Context, m domain.Message) error {
	p.got = append(p.got, m)
	return nil
}

func TestRemotePublisherDefersLocalDelivery(t *testing.T) {
	env := newTestEnv(t)
	env.accept(t)
	pub := &recordingPublisher{}
	env.Hub.Remote = pub
	delivered := 0
	defer env.Hub.Subscribe(env.Errand.ID, func(domain.Message) { delivered++ })()

	if _, err := env.Hub.Send(env.Ctx, env.Errand.ID, "help-1", messaging.Content{Text: "at the post room"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(pub.got) != 1 {
		t.Fatalf("expected one published message, got %d", len(pub.got))
	}
	if delivered != 0 {
		t.Fatalf("expected delivery to wait for the broker, got %d", delivered)
	}
}

func TestRedisBrokerChannel(t *testing.T) {
	b := messaging.RedisBroker{}
	if got := b.ChannelFor("e1"); got != "errandhub:thread:e1" {
		t.Fatalf("unexpected channel %q", got)
	}
	b.Channel = "eh"
	if got := b.ChannelFor("e1"); got != "eh:e1" {
		t.Fatalf("unexpected channel %q", got)
	}
}

func TestConnectParsesURL(t *testing.T) {
	c, err := messaging.Connect("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	if c.Options().Addr != "localhost:6380" || c.Options().DB != 2 {
		t.Fatalf("unexpected options %+v", c.Options())
	}
	if _, err := messaging.Connect("redis://%zz"); err == nil {
		t.Fatalf("expected parse error")
	}
}
