package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/infra/classifier"
	"github.com/farmaplex/wsp-bot-go/internal/infra/observability"
	"github.com/farmaplex/wsp-bot-go/internal/matching"

	"go.uber.org/zap"
)

// ============================================================
// Fakes
// ============================================================

type fakeDirectory struct {
	byPhone map[string]domain.LookupOutcome
	byID    map[string]domain.LookupOutcome
	byDoc   map[string]domain.LookupOutcome
	err     error
	calls   int
}

func (f *fakeDirectory) SearchCustomer(_ context.Context, q domain.DirectoryQuery) (domain.LookupOutcome, error) {
	f.calls++
	if f.err != nil {
		return domain.LookupOutcome{}, f.err
	}
	switch {
	case q.Phone != "":
		return f.byPhone[q.Phone], nil
	case q.CustomerID != "":
		return f.byID[q.CustomerID], nil
	case q.Document != "":
		return f.byDoc[q.Document], nil
	}
	return domain.NoMatch(), nil
}

type fakeDebt struct {
	snap *domain.DebtSnapshot
	err  error
}

func (f *fakeDebt) FetchDebt(_ context.Context, _ string) (*domain.DebtSnapshot, error) {
	return f.snap, f.err
}

type fakeLinker struct{}

func (fakeLinker) Link(reference string, _ float64, _ string) (string, error) {
	return "https://pagos.example.com/" + reference, nil
}

func newTestExecutor(t *testing.T, dir *fakeDirectory, debt *fakeDebt) *Executor {
	t.Helper()

	graph, err := Build(Deps{
		Directory:  dir,
		Debt:       debt,
		Classifier: classifier.NewKeyword(),
		Routes:     NewStaticRoutes(nil),
		Payments:   fakeLinker{},
		Matcher:    matching.New(matching.Config{}),
		Metrics:    observability.NewMetrics(),
		Logger:     zap.NewNop(),
	}, AuthConfig{OrgID: "farmacia-test"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return NewExecutor(graph, 0, 0, observability.NewMetrics(), zap.NewNop())
}

func inbound(body, replyID string) domain.InboundMessage {
	return domain.InboundMessage{MessageID: "wamid.test", From: "5491155550001", Body: body, ReplyID: replyID}
}

func anaGomez() domain.CustomerRecord {
	return domain.CustomerRecord{ID: "42", Name: "Ana Gomez", Document: "27301234563", Phone: "5491155550001", IsValidForIdentification: true}
}

func someDebt() *domain.DebtSnapshot {
	return &domain.DebtSnapshot{
		DebtID: "D-1001",
		Total:  15400.50,
		Items: []domain.DebtItem{
			{Description: "Ibuprofeno 600", Amount: 5400.50},
			{Description: "Amoxicilina 500", Amount: 10000},
		},
	}
}

// ============================================================
// Authentication
// ============================================================

func TestPhoneMatchAuthenticatesWithoutChallenge(t *testing.T) {
	dir := &fakeDirectory{byPhone: map[string]domain.LookupOutcome{
		"5491155550001": domain.Match(anaGomez()),
	}}
	ex := newTestExecutor(t, dir, &fakeDebt{snap: someDebt()})

	st := domain.NewConversationState("conv-1", "5491155550001")
	ex.Turn(context.Background(), st, inbound("cuanto debo?", ""))

	if !st.IsAuthenticated {
		t.Fatal("expected authenticated state after unique phone match")
	}
	if st.ExternalCustomerID != "42" {
		t.Errorf("ExternalCustomerID = %q, want 42", st.ExternalCustomerID)
	}
	if st.AuthLevel != domain.AuthLevelPhone {
		t.Errorf("AuthLevel = %q, want phone", st.AuthLevel)
	}
	// No identification challenge was ever issued.
	switch st.AwaitingInput {
	case domain.AwaitAccountNumber, domain.AwaitDNI, domain.AwaitName:
		t.Errorf("unexpected identification prompt, AwaitingInput = %q", st.AwaitingInput)
	}
	// The interrupted debt query resumed in the same turn.
	if st.TotalDebt != 15400.50 {
		t.Errorf("TotalDebt = %v, want 15400.50", st.TotalDebt)
	}
	if !st.HasDebt {
		t.Error("expected HasDebt after resumed debt query")
	}
}

func TestAmbiguousPhonePromptsAccountSelection(t *testing.T) {
	other := anaGomez()
	other.ID = "77"
	other.Name = "Ana Gomez Lopez"
	dir := &fakeDirectory{byPhone: map[string]domain.LookupOutcome{
		"5491155550001": domain.AmbiguousMatch([]domain.CustomerRecord{anaGomez(), other}),
	}}
	ex := newTestExecutor(t, dir, &fakeDebt{snap: someDebt()})

	st := domain.NewConversationState("conv-amb", "5491155550001")
	ex.Turn(context.Background(), st, inbound("quiero pagar", ""))

	if st.IsAuthenticated {
		t.Fatal("ambiguous phone match must never auto-authenticate")
	}
	if st.AwaitingInput != domain.AwaitAccountSelection {
		t.Fatalf("AwaitingInput = %q, want account_selection", st.AwaitingInput)
	}
	if st.ResponseKind != domain.ResponseList || len(st.ResponseListItems) != 2 {
		t.Errorf("expected a 2-row selection list, got kind=%q rows=%d", st.ResponseKind, len(st.ResponseListItems))
	}

	// Picking a row authenticates and resumes the payment intent.
	ex.Turn(context.Background(), st, inbound("", "acct_77"))
	if !st.IsAuthenticated || st.ExternalCustomerID != "77" {
		t.Errorf("after selection: authenticated=%v id=%q, want true/77", st.IsAuthenticated, st.ExternalCustomerID)
	}
}

func TestAccountNumberHappyPath(t *testing.T) {
	dir := &fakeDirectory{
		byID: map[string]domain.LookupOutcome{"9176": domain.Match(domain.CustomerRecord{
			ID: "9176", Name: "Carlos Ruiz", IsValidForIdentification: true,
		})},
	}
	ex := newTestExecutor(t, dir, &fakeDebt{snap: someDebt()})

	st := domain.NewConversationState("conv-2", "5491155559999")
	ex.Turn(context.Background(), st, inbound("cuanto debo", ""))

	if st.IsAuthenticated {
		t.Fatal("no phone match: must not be authenticated yet")
	}
	if st.AwaitingInput != domain.AwaitAccountNumber {
		t.Fatalf("AwaitingInput = %q, want account_number", st.AwaitingInput)
	}
	if st.PreviousIntent != domain.IntentDebtQuery {
		t.Fatalf("PreviousIntent = %q, want debt_query", st.PreviousIntent)
	}

	ex.Turn(context.Background(), st, inbound("Mi cuenta es 9176", ""))
	if !st.IsAuthenticated {
		t.Fatal("expected authentication after valid account number")
	}
	if st.AuthLevel != domain.AuthLevelAccount {
		t.Errorf("AuthLevel = %q, want account", st.AuthLevel)
	}
	if st.TotalDebt != 15400.50 {
		t.Errorf("debt query did not resume, TotalDebt = %v", st.TotalDebt)
	}
}

func TestAccountNotFoundOffersDNIFallback(t *testing.T) {
	dir := &fakeDirectory{
		byDoc: map[string]domain.LookupOutcome{"30123456": domain.Match(domain.CustomerRecord{
			ID: "55", Name: "Juan Alberto Perez", Document: "30123456", IsValidForIdentification: true,
		})},
	}
	ex := newTestExecutor(t, dir, &fakeDebt{snap: someDebt()})

	st := domain.NewConversationState("conv-3", "5491155559999")
	st.AwaitingInput = domain.AwaitAccountNumber
	st.NextStep = StepAuthenticate
	st.PreviousIntent = domain.IntentDebtQuery

	ex.Turn(context.Background(), st, inbound("9999", ""))
	if st.AwaitingInput != domain.AwaitAccountNotFound {
		t.Fatalf("AwaitingInput = %q, want account_not_found", st.AwaitingInput)
	}
	if st.PendingIdentifier != "9999" {
		t.Errorf("PendingIdentifier = %q, want 9999", st.PendingIdentifier)
	}
	if len(st.ResponseButtons) != 2 {
		t.Fatalf("expected retry/DNI buttons, got %d", len(st.ResponseButtons))
	}

	ex.Turn(context.Background(), st, inbound("", "btn_validate_dni"))
	if st.AwaitingInput != domain.AwaitDNI {
		t.Fatalf("AwaitingInput = %q, want dni", st.AwaitingInput)
	}

	ex.Turn(context.Background(), st, inbound("mi dni es 30.123.456", ""))
	if st.AwaitingInput != domain.AwaitName {
		t.Fatalf("AwaitingInput = %q, want name", st.AwaitingInput)
	}

	// "Juan Perez" is a token subset of "Juan Alberto Perez": accepted.
	ex.Turn(context.Background(), st, inbound("Juan Perez", ""))
	if !st.IsAuthenticated {
		t.Fatal("expected authentication after name verification")
	}
	if st.AuthLevel != domain.AuthLevelDocument {
		t.Errorf("AuthLevel = %q, want document", st.AuthLevel)
	}
	if st.NameMismatchCount != 0 {
		t.Errorf("NameMismatchCount = %d, want 0 after success", st.NameMismatchCount)
	}
}

func TestAccountNotFoundRetryKeywordWorks(t *testing.T) {
	dir := &fakeDirectory{}
	ex := newTestExecutor(t, dir, &fakeDebt{})

	st := domain.NewConversationState("conv-retry", "5491155559999")
	st.AwaitingInput = domain.AwaitAccountNotFound
	st.NextStep = StepAuthenticate
	st.PendingIdentifier = "9999"

	ex.Turn(context.Background(), st, inbound("quiero intentar de nuevo", ""))
	if st.AwaitingInput != domain.AwaitAccountNumber {
		t.Fatalf("AwaitingInput = %q, want account_number", st.AwaitingInput)
	}
	if st.PendingIdentifier != "" {
		t.Errorf("PendingIdentifier = %q, want cleared on retry", st.PendingIdentifier)
	}
}

func TestNameMismatchCeilingEscalates(t *testing.T) {
	dir := &fakeDirectory{
		byDoc: map[string]domain.LookupOutcome{"30123456": domain.Match(domain.CustomerRecord{
			ID: "55", Name: "Juan Alberto Perez", IsValidForIdentification: true,
		})},
	}
	ex := newTestExecutor(t, dir, &fakeDebt{})

	st := domain.NewConversationState("conv-4", "5491155559999")
	st.AwaitingInput = domain.AwaitDNI
	st.NextStep = StepAuthenticate

	ex.Turn(context.Background(), st, inbound("30123456", ""))
	for i := 1; i <= 2; i++ {
		ex.Turn(context.Background(), st, inbound("Roberto Gonzalez", ""))
		if st.NameMismatchCount != i {
			t.Fatalf("after attempt %d: NameMismatchCount = %d", i, st.NameMismatchCount)
		}
		if st.RequiresHuman {
			t.Fatalf("escalated too early at attempt %d", i)
		}
	}

	ex.Turn(context.Background(), st, inbound("Roberto Gonzalez", ""))
	if !st.RequiresHuman {
		t.Fatal("expected human handoff at the mismatch ceiling")
	}
	// No fourth prompt: nothing awaits input anymore.
	if st.AwaitingInput != domain.AwaitNone {
		t.Errorf("AwaitingInput = %q, want none after escalation", st.AwaitingInput)
	}
	if st.IsAuthenticated {
		t.Error("must not be authenticated after failed verification")
	}
}

func TestInvalidDocumentCountsOnErrorCeiling(t *testing.T) {
	dir := &fakeDirectory{}
	ex := newTestExecutor(t, dir, &fakeDebt{})

	st := domain.NewConversationState("conv-5", "5491155559999")
	st.AwaitingInput = domain.AwaitDNI
	st.NextStep = StepAuthenticate

	for i := 1; i <= 2; i++ {
		ex.Turn(context.Background(), st, inbound("no tengo idea", ""))
		if st.ErrorCount != i {
			t.Fatalf("after attempt %d: ErrorCount = %d", i, st.ErrorCount)
		}
	}
	ex.Turn(context.Background(), st, inbound("sigo sin saber", ""))
	if !st.RequiresHuman {
		t.Fatal("expected handoff at the error ceiling")
	}
	if st.NameMismatchCount != 0 {
		t.Errorf("NameMismatchCount = %d, parse errors must not count as mismatches", st.NameMismatchCount)
	}
}

// ============================================================
// Greeting
// ============================================================

func TestGreetingOnlyShortCircuits(t *testing.T) {
	dir := &fakeDirectory{}
	ex := newTestExecutor(t, dir, &fakeDebt{})

	st := domain.NewConversationState("conv-6", "5491155559999")
	ex.Turn(context.Background(), st, inbound("¡Hola, buenas tardes!", ""))

	if dir.calls != 0 {
		t.Errorf("directory called %d times on a social turn, want 0", dir.calls)
	}
	if st.Greeting != domain.GreetingSent {
		t.Errorf("Greeting = %q, want greeting_sent", st.Greeting)
	}
	if st.ResponseText == "" {
		t.Error("expected a greeting reply")
	}
	if st.IsAuthenticated {
		t.Error("greeting must not authenticate anyone")
	}
}

func TestGreetingWithContentIsNotShortCircuited(t *testing.T) {
	dir := &fakeDirectory{byPhone: map[string]domain.LookupOutcome{
		"5491155550001": domain.Match(anaGomez()),
	}}
	ex := newTestExecutor(t, dir, &fakeDebt{snap: someDebt()})

	st := domain.NewConversationState("conv-7", "5491155550001")
	ex.Turn(context.Background(), st, inbound("hola, cuanto debo?", ""))

	if !st.IsAuthenticated {
		t.Fatal("greeting plus debt query must run the workflow")
	}
	if st.TotalDebt == 0 {
		t.Error("expected the debt to be fetched")
	}
}

func TestGreetingWhileAwaitingInputBelongsToTheStep(t *testing.T) {
	dir := &fakeDirectory{}
	ex := newTestExecutor(t, dir, &fakeDebt{})

	st := domain.NewConversationState("conv-8", "5491155559999")
	st.AwaitingInput = domain.AwaitDNI
	st.NextStep = StepAuthenticate

	ex.Turn(context.Background(), st, inbound("hola", ""))
	// "hola" is not a DNI: the auth step counts it, no greeting.
	if st.Greeting == domain.GreetingSent {
		t.Error("greeting must not fire while a step awaits input")
	}
	if st.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", st.ErrorCount)
	}
}

// ============================================================
// Payment
// ============================================================

func authenticatedWithDebt(conv string) *domain.ConversationState {
	st := domain.NewConversationState(conv, "5491155550001")
	rec := anaGomez()
	st.IsAuthenticated = true
	st.AuthLevel = domain.AuthLevelPhone
	st.ExternalCustomerID = rec.ID
	st.CustomerRecord = &rec
	st.CustomerName = rec.Name
	st.CurrentAccountID = rec.ID
	st.DebtID = "D-1001"
	st.TotalDebt = 15400.50
	st.HasDebt = true
	st.Greeting = domain.GreetingSent
	return st
}

func TestFullPaymentFlow(t *testing.T) {
	ex := newTestExecutor(t, &fakeDirectory{}, &fakeDebt{snap: someDebt()})

	st := authenticatedWithDebt("conv-pay")
	ex.Turn(context.Background(), st, inbound("", "btn_pay_full"))

	if st.PaymentStatus != domain.PaymentPending {
		t.Fatalf("PaymentStatus = %q, want pending", st.PaymentStatus)
	}
	if st.PaymentAmount != st.TotalDebt {
		t.Errorf("PaymentAmount = %v, want full debt %v", st.PaymentAmount, st.TotalDebt)
	}
	if st.IsPartialPayment {
		t.Error("full payment flagged as partial")
	}
	if !strings.HasPrefix(st.PaymentLink, "https://pagos.example.com/") {
		t.Errorf("PaymentLink = %q", st.PaymentLink)
	}
	if !st.AwaitingPaymentConfirmation {
		t.Error("expected AwaitingPaymentConfirmation")
	}

	ex.Turn(context.Background(), st, inbound("", "btn_confirm_payment"))
	if st.PaymentStatus != domain.PaymentApproved {
		t.Errorf("PaymentStatus = %q, want approved", st.PaymentStatus)
	}
	if st.AwaitingPaymentConfirmation {
		t.Error("confirmation flag must clear")
	}
	if !st.IsComplete {
		t.Error("expected a completed turn")
	}
}

func TestPartialPaymentAsksForAmount(t *testing.T) {
	ex := newTestExecutor(t, &fakeDirectory{}, &fakeDebt{snap: someDebt()})

	st := authenticatedWithDebt("conv-partial")
	ex.Turn(context.Background(), st, inbound("", "btn_pay_partial"))

	if st.AwaitingInput != domain.AwaitAmount {
		t.Fatalf("AwaitingInput = %q, want amount", st.AwaitingInput)
	}

	ex.Turn(context.Background(), st, inbound("3000", ""))
	if st.PaymentAmount != 3000 {
		t.Errorf("PaymentAmount = %v, want 3000", st.PaymentAmount)
	}
	if !st.IsPartialPayment {
		t.Error("expected a partial payment")
	}
	if st.PaymentStatus != domain.PaymentPending {
		t.Errorf("PaymentStatus = %q, want pending", st.PaymentStatus)
	}
}

func TestPaymentAmountCappedAtDebt(t *testing.T) {
	ex := newTestExecutor(t, &fakeDirectory{}, &fakeDebt{snap: someDebt()})

	st := authenticatedWithDebt("conv-cap")
	ex.Turn(context.Background(), st, inbound("quiero pagar $50000", ""))

	if st.PaymentAmount != st.TotalDebt {
		t.Errorf("PaymentAmount = %v, want capped at %v", st.PaymentAmount, st.TotalDebt)
	}
	if st.IsPartialPayment {
		t.Error("a capped overpayment is a full payment")
	}
}

func TestAmountCapturedBeforeDebtFetchSurvives(t *testing.T) {
	ex := newTestExecutor(t, &fakeDirectory{}, &fakeDebt{snap: someDebt()})

	st := authenticatedWithDebt("conv-early-amount")
	st.DebtID = ""
	st.TotalDebt = 0
	st.HasDebt = false

	ex.Turn(context.Background(), st, inbound("quiero pagar $5000", ""))

	if st.DebtID == "" {
		t.Fatal("pay intent without a snapshot should fetch the debt first")
	}
	if st.PaymentAmount != 5000 {
		t.Fatalf("PaymentAmount = %v, want the captured 5000 to survive the fetch", st.PaymentAmount)
	}

	ex.Turn(context.Background(), st, inbound("dale, quiero pagar eso", ""))

	if st.PaymentStatus != domain.PaymentPending {
		t.Fatalf("PaymentStatus = %q, want pending", st.PaymentStatus)
	}
	if st.PaymentAmount != 5000 || !st.IsPartialPayment {
		t.Errorf("link amount = %v partial = %v, want the captured partial amount", st.PaymentAmount, st.IsPartialPayment)
	}
}

func TestRejectCancelsPendingPayment(t *testing.T) {
	ex := newTestExecutor(t, &fakeDirectory{}, &fakeDebt{snap: someDebt()})

	st := authenticatedWithDebt("conv-cancel")
	ex.Turn(context.Background(), st, inbound("", "btn_pay_full"))
	if st.PaymentStatus != domain.PaymentPending {
		t.Fatalf("setup: PaymentStatus = %q", st.PaymentStatus)
	}

	ex.Turn(context.Background(), st, inbound("no, cancelar", ""))
	if st.PaymentStatus != domain.PaymentCanceled {
		t.Errorf("PaymentStatus = %q, want cancelled", st.PaymentStatus)
	}
	if st.AwaitingPaymentConfirmation {
		t.Error("confirmation flag must clear on cancel")
	}
}

// ============================================================
// Debt and invoice
// ============================================================

func TestInvoiceWithoutDebtAutoFetchesFirst(t *testing.T) {
	ex := newTestExecutor(t, &fakeDirectory{}, &fakeDebt{snap: someDebt()})

	st := authenticatedWithDebt("conv-inv")
	st.DebtID = ""
	st.TotalDebt = 0
	st.HasDebt = false

	ex.Turn(context.Background(), st, inbound("mandame la factura", ""))

	if st.DebtID != "D-1001" {
		t.Fatalf("DebtID = %q, debt fetch did not run first", st.DebtID)
	}
	if st.ResponseKind != domain.ResponseList {
		t.Fatalf("ResponseKind = %q, want the invoice list in the same turn", st.ResponseKind)
	}
	if st.AutoProceedToInvoice {
		t.Error("AutoProceedToInvoice must clear after use")
	}
	if len(st.ResponseListItems) != 2 {
		t.Errorf("invoice rows = %d, want 2", len(st.ResponseListItems))
	}
}

func TestNoDebtEndsCheerfully(t *testing.T) {
	ex := newTestExecutor(t, &fakeDirectory{}, &fakeDebt{snap: nil})

	st := authenticatedWithDebt("conv-nodebt")
	st.DebtID = ""
	st.TotalDebt = 0
	st.HasDebt = false

	ex.Turn(context.Background(), st, inbound("cuanto debo", ""))
	if st.HasDebt {
		t.Error("HasDebt = true with a nil snapshot")
	}
	if !st.IsComplete {
		t.Error("a no-debt answer completes the turn")
	}
	if st.ResponseText == "" {
		t.Error("expected a reply")
	}
}

// ============================================================
// Executor behavior
// ============================================================

func TestStepErrorSuspendsAtFailingStep(t *testing.T) {
	ex := newTestExecutor(t, &fakeDirectory{}, &fakeDebt{err: errors.New("plex down")})

	st := authenticatedWithDebt("conv-err")
	st.DebtID = ""
	st.TotalDebt = 0

	ex.Turn(context.Background(), st, inbound("cuanto debo", ""))
	if st.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d, want 1", st.ErrorCount)
	}
	if st.NextStep != StepCheckDebt {
		t.Errorf("NextStep = %q, want the failing step for retry on next message", st.NextStep)
	}
	if st.ResponseText == "" {
		t.Error("expected an apology")
	}
	if st.IsComplete {
		t.Error("a failed turn is not complete")
	}
}

func TestRepeatedStepErrorsEscalate(t *testing.T) {
	ex := newTestExecutor(t, &fakeDirectory{}, &fakeDebt{err: errors.New("plex down")})

	st := authenticatedWithDebt("conv-err3")
	st.DebtID = ""
	st.TotalDebt = 0

	for i := 0; i < 3; i++ {
		ex.Turn(context.Background(), st, inbound("cuanto debo", ""))
	}
	if !st.RequiresHuman {
		t.Fatal("expected handoff after three step failures")
	}
	if st.NextStep != "" {
		t.Errorf("NextStep = %q, want empty after handoff", st.NextStep)
	}
}

func TestUnknownPersistedStepRestartsAtEntry(t *testing.T) {
	ex := newTestExecutor(t, &fakeDirectory{}, &fakeDebt{snap: someDebt()})

	st := authenticatedWithDebt("conv-unknown")
	st.NextStep = "step_removed_in_a_deploy"

	ex.Turn(context.Background(), st, inbound("cuanto debo", ""))
	if st.TotalDebt != 15400.50 {
		t.Errorf("TotalDebt = %v, turn did not restart at entry", st.TotalDebt)
	}
}

func TestCompletedConversationIsReentrant(t *testing.T) {
	ex := newTestExecutor(t, &fakeDirectory{}, &fakeDebt{snap: someDebt()})

	st := authenticatedWithDebt("conv-reentry")
	st.IsComplete = true

	ex.Turn(context.Background(), st, inbound("cuanto debo", ""))
	if !st.IsAuthenticated {
		t.Error("identity must survive re-entry")
	}
	if st.DebtFetchedAt == nil {
		t.Error("expected a fresh debt fetch on re-entry")
	}
}

func TestGraphCompileRejectsDanglingEdge(t *testing.T) {
	nop := func(_ context.Context, _ *domain.ConversationState, _ domain.InboundMessage) error { return nil }
	route := func(_ *domain.ConversationState) domain.StepID { return domain.StepEnd }

	_, err := NewGraph().
		SetEntry("a").
		AddNode("a", nop).
		AddConditionalEdges("a", route, "ghost").
		Compile()
	if err == nil {
		t.Fatal("expected compile error for an edge to an unregistered step")
	}
}

func TestGraphCompileRejectsMissingEdges(t *testing.T) {
	nop := func(_ context.Context, _ *domain.ConversationState, _ domain.InboundMessage) error { return nil }

	_, err := NewGraph().SetEntry("a").AddNode("a", nop).Compile()
	if err == nil {
		t.Fatal("expected compile error for a step with no outgoing edges")
	}
}

// ============================================================
// Intent routing policy
// ============================================================

func TestFallbackIntentsNeverTriggerAuth(t *testing.T) {
	dir := &fakeDirectory{}
	ex := newTestExecutor(t, dir, &fakeDebt{})

	st := domain.NewConversationState("conv-fb", "5491155559999")
	ex.Turn(context.Background(), st, inbound("que horario tienen?", ""))

	if dir.calls != 0 {
		t.Errorf("directory called %d times for an info query, want 0", dir.calls)
	}
	if st.AwaitingInput != domain.AwaitNone {
		t.Errorf("AwaitingInput = %q, want none", st.AwaitingInput)
	}
	if st.ResponseText == "" {
		t.Error("expected a canned reply")
	}
}

func TestEscalatedConversationStaysEscalated(t *testing.T) {
	ex := newTestExecutor(t, &fakeDirectory{}, &fakeDebt{snap: someDebt()})

	st := authenticatedWithDebt("conv-human")
	st.RequiresHuman = true

	ex.Turn(context.Background(), st, inbound("cuanto debo", ""))
	if !st.RequiresHuman {
		t.Error("RequiresHuman must stick")
	}
	if st.DebtFetchedAt != nil {
		t.Error("no business step may run after handoff")
	}
}
