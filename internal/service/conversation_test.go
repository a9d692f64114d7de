package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/flow"
	"github.com/farmaplex/wsp-bot-go/internal/infra/checkpoint"
	"github.com/farmaplex/wsp-bot-go/internal/infra/classifier"
	"github.com/farmaplex/wsp-bot-go/internal/infra/observability"
	"github.com/farmaplex/wsp-bot-go/internal/matching"

	"go.uber.org/zap"
)

// ============================================================
// Fakes
// ============================================================

type sentMessage struct {
	kind    string
	to      string
	body    string
	buttons []domain.Button
	items   []domain.ListItem
}

type fakeMessenger struct {
	sent []sentMessage
}

func (f *fakeMessenger) SendText(_ context.Context, to, body string) error {
	f.sent = append(f.sent, sentMessage{kind: "text", to: to, body: body})
	return nil
}

func (f *fakeMessenger) SendButtons(_ context.Context, to, _ string, body string, buttons []domain.Button) error {
	f.sent = append(f.sent, sentMessage{kind: "buttons", to: to, body: body, buttons: buttons})
	return nil
}

func (f *fakeMessenger) SendList(_ context.Context, to, _ string, body string, items []domain.ListItem) error {
	f.sent = append(f.sent, sentMessage{kind: "list", to: to, body: body, items: items})
	return nil
}

type stubDirectory struct{ outcome domain.LookupOutcome }

func (s stubDirectory) SearchCustomer(_ context.Context, _ domain.DirectoryQuery) (domain.LookupOutcome, error) {
	return s.outcome, nil
}

type stubDebt struct{ snap *domain.DebtSnapshot }

func (s stubDebt) FetchDebt(_ context.Context, _ string) (*domain.DebtSnapshot, error) {
	return s.snap, nil
}

type stubLinker struct{}

func (stubLinker) Link(reference string, _ float64, _ string) (string, error) {
	return "https://pagos.example.com/" + reference, nil
}

func newConversationService(t *testing.T, messenger *fakeMessenger) (*Conversation, *checkpoint.Memory) {
	t.Helper()

	graph, err := flow.Build(flow.Deps{
		Directory: stubDirectory{outcome: domain.Match(domain.CustomerRecord{
			ID: "42", Name: "Ana Gomez", Phone: "5491155550001", IsValidForIdentification: true,
		})},
		Debt: stubDebt{snap: &domain.DebtSnapshot{
			DebtID: "D-1", Total: 1200, Items: []domain.DebtItem{{Description: "Ibuprofeno", Amount: 1200}},
		}},
		Classifier: classifier.NewKeyword(),
		Routes:     flow.NewStaticRoutes(nil),
		Payments:   stubLinker{},
		Matcher:    matching.New(matching.Config{}),
		Metrics:    observability.NewMetrics(),
		Logger:     zap.NewNop(),
	}, flow.AuthConfig{OrgID: "farmacia-test"})
	if err != nil {
		t.Fatalf("flow.Build() error = %v", err)
	}

	store := checkpoint.NewMemory()
	executor := flow.NewExecutor(graph, 0, 0, observability.NewMetrics(), zap.NewNop())
	svc := NewConversation(executor, store, messenger, observability.NewMetrics(), zap.NewNop())
	return svc, store
}

// ============================================================
// Turn orchestration
// ============================================================

func TestHandleMessagePersistsAndReplies(t *testing.T) {
	messenger := &fakeMessenger{}
	svc, store := newConversationService(t, messenger)

	msg := domain.InboundMessage{MessageID: "wamid.1", From: "5491155550001", Body: "cuanto debo?"}
	if err := svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(messenger.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(messenger.sent))
	}
	if messenger.sent[0].to != "5491155550001" {
		t.Errorf("reply went to %q", messenger.sent[0].to)
	}

	st, err := store.Load(context.Background(), "5491155550001")
	if err != nil || st == nil {
		t.Fatalf("Load() = %v, %v", st, err)
	}
	if !st.IsAuthenticated || st.ExternalCustomerID != "42" {
		t.Errorf("state not persisted: auth=%v id=%q", st.IsAuthenticated, st.ExternalCustomerID)
	}
	if st.Version != 1 {
		t.Errorf("Version = %d, want 1 after first save", st.Version)
	}
	if len(st.MessageLog) < 2 {
		t.Errorf("MessageLog has %d entries, want inbound + outbound", len(st.MessageLog))
	}
}

func TestHandleMessageContinuesAcrossTurns(t *testing.T) {
	messenger := &fakeMessenger{}
	svc, store := newConversationService(t, messenger)
	ctx := context.Background()

	from := "5491155550001"
	if err := svc.HandleMessage(ctx, domain.InboundMessage{MessageID: "m1", From: from, Body: "cuanto debo"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleMessage(ctx, domain.InboundMessage{MessageID: "m2", From: from, ReplyID: "btn_pay_full"}); err != nil {
		t.Fatal(err)
	}

	st, _ := store.Load(ctx, from)
	if st.PaymentStatus != domain.PaymentPending {
		t.Errorf("PaymentStatus = %q, want pending after second turn", st.PaymentStatus)
	}
	if st.Version != 2 {
		t.Errorf("Version = %d, want 2", st.Version)
	}
}

func TestGetUnknownConversationIsNotFound(t *testing.T) {
	svc, _ := newConversationService(t, &fakeMessenger{})

	_, err := svc.Get(context.Background(), "nope")
	var notFound *domain.ErrNotFound
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected ErrNotFound, got %v (%T != %T)", err, err, notFound)
	}
}

func TestResetDiscardsState(t *testing.T) {
	messenger := &fakeMessenger{}
	svc, _ := newConversationService(t, messenger)
	ctx := context.Background()

	from := "5491155550001"
	if err := svc.HandleMessage(ctx, domain.InboundMessage{MessageID: "m1", From: from, Body: "hola"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Reset(ctx, from); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, err := svc.Get(ctx, from); err == nil {
		t.Error("expected not found after reset")
	}
}

// ============================================================
// Truncation
// ============================================================

func TestTruncateButtons(t *testing.T) {
	buttons := []domain.Button{
		{ID: "a", Label: strings.Repeat("x", 30)},
		{ID: "b", Label: "corto"},
		{ID: "c", Label: "tres"},
		{ID: "d", Label: "sobra"},
	}
	out := truncateButtons(buttons)
	if len(out) != 3 {
		t.Fatalf("kept %d buttons, want 3", len(out))
	}
	if got := len([]rune(out[0].Label)); got != 20 {
		t.Errorf("label length = %d, want 20", got)
	}
	if buttons[0].Label == out[0].Label {
		t.Error("truncation must not mutate the input slice")
	}
}

func TestTruncateListItems(t *testing.T) {
	items := make([]domain.ListItem, 12)
	for i := range items {
		items[i] = domain.ListItem{
			ID:          "row",
			Title:       strings.Repeat("t", 40),
			Description: strings.Repeat("d", 100),
		}
	}
	out := truncateListItems(items)
	if len(out) != 10 {
		t.Fatalf("kept %d rows, want 10", len(out))
	}
	if got := len([]rune(out[0].Title)); got != 24 {
		t.Errorf("title length = %d, want 24", got)
	}
	if got := len([]rune(out[0].Description)); got != 72 {
		t.Errorf("description length = %d, want 72", got)
	}
}

// ============================================================
// Payment links
// ============================================================

func TestPayLinkRoundTrip(t *testing.T) {
	links := NewPayLinks("https://pagos.farmaplex.com/checkout", []byte("test-secret"), time.Hour)

	link, err := links.Link("ref-123", 1500.50, "42")
	if err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	if !strings.HasPrefix(link, "https://pagos.farmaplex.com/checkout?t=") {
		t.Fatalf("unexpected link shape: %q", link)
	}

	token := strings.TrimPrefix(link, "https://pagos.farmaplex.com/checkout?t=")
	claims, err := links.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Reference != "ref-123" || claims.Amount != 1500.50 || claims.CustomerID != "42" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestPayLinkRejectsWrongSecret(t *testing.T) {
	links := NewPayLinks("https://pagos.example.com", []byte("secret-a"), time.Hour)
	other := NewPayLinks("https://pagos.example.com", []byte("secret-b"), time.Hour)

	link, err := links.Link("ref-1", 100, "42")
	if err != nil {
		t.Fatal(err)
	}
	token := strings.TrimPrefix(link, "https://pagos.example.com?t=")
	if _, err := other.Verify(token); err == nil {
		t.Error("expected verification failure with a different secret")
	}
}
