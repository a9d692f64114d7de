package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/infra/observability"
	"github.com/farmaplex/wsp-bot-go/internal/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	btnPayFull        = "btn_pay_full"
	btnPayPartial     = "btn_pay_partial"
	btnInvoice        = "btn_invoice"
	btnConfirmPayment = "btn_confirm_payment"
	btnCancelPayment  = "btn_cancel_payment"
)

// ============================================================
// Debt check
// ============================================================

// DebtCheck fetches the customer's outstanding balance and presents it.
type DebtCheck struct {
	debt    port.DebtFetcher
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewDebtCheck builds the debt node.
func NewDebtCheck(debt port.DebtFetcher, metrics *observability.Metrics, logger *zap.Logger) *DebtCheck {
	return &DebtCheck{debt: debt, metrics: metrics, logger: logger}
}

// Process fetches and stores the debt snapshot. A successful fetch resets
// the error counter: the conversation is making progress again.
func (d *DebtCheck) Process(ctx context.Context, st *domain.ConversationState, _ domain.InboundMessage) error {
	if !st.IsAuthenticated {
		st.PreviousIntent = domain.IntentDebtQuery
		st.NextStep = StepAuthenticate
		return nil
	}

	snap, err := d.debt.FetchDebt(ctx, st.ExternalCustomerID)
	if err != nil {
		d.metrics.IncrExternalError("plex")
		return fmt.Errorf("fetch debt: %w", err)
	}

	now := time.Now().UTC()
	st.DebtFetchedAt = &now
	st.ErrorCount = 0

	if snap == nil || snap.Total <= 0 {
		st.DebtID = ""
		st.TotalDebt = 0
		st.DebtItems = nil
		st.HasDebt = false
		st.AutoProceedToInvoice = false
		st.ResponseKind = domain.ResponseText
		st.ResponseText = "¡Buenas noticias! No registrás deuda pendiente con la farmacia."
		st.NextStep = domain.StepEnd
		return nil
	}

	st.DebtID = snap.DebtID
	st.TotalDebt = snap.Total
	st.DebtItems = snap.Items
	st.HasDebt = true

	if st.AutoProceedToInvoice {
		st.AutoProceedToInvoice = false
		st.NextStep = StepSendInvoice
		return nil
	}

	st.AwaitingInput = domain.AwaitMenu
	st.ResponseKind = domain.ResponseButtons
	st.ResponseTitle = "Tu deuda"
	st.ResponseText = fmt.Sprintf(
		"Tenés una deuda pendiente de %s (%d ítems). ¿Qué querés hacer?",
		formatAmount(snap.Total), len(snap.Items),
	)
	st.ResponseButtons = []domain.Button{
		{ID: btnPayFull, Label: "Pagar todo"},
		{ID: btnPayPartial, Label: "Pago parcial"},
		{ID: btnInvoice, Label: "Ver detalle"},
	}
	return nil
}

// Route follows the decision left in NextStep or suspends on the menu.
func (d *DebtCheck) Route(st *domain.ConversationState) domain.StepID {
	if st.NextStep != "" {
		return st.NextStep
	}
	return domain.StepSuspend
}

// ============================================================
// Invoice
// ============================================================

// Invoice renders the debt breakdown as an interactive list.
type Invoice struct {
	logger *zap.Logger
}

// NewInvoice builds the invoice node.
func NewInvoice(logger *zap.Logger) *Invoice {
	return &Invoice{logger: logger}
}

// Process presents the itemized debt. The router guarantees a debt snapshot
// exists before this node runs.
func (i *Invoice) Process(_ context.Context, st *domain.ConversationState, _ domain.InboundMessage) error {
	if st.DebtID == "" {
		st.AutoProceedToInvoice = true
		st.NextStep = StepCheckDebt
		return nil
	}

	items := make([]domain.ListItem, 0, len(st.DebtItems))
	for n, it := range st.DebtItems {
		items = append(items, domain.ListItem{
			ID:          "item_" + strconv.Itoa(n),
			Title:       it.Description,
			Description: formatAmount(it.Amount),
		})
	}

	st.ResponseKind = domain.ResponseList
	st.ResponseTitle = "Detalle de tu deuda"
	st.ResponseText = fmt.Sprintf("Total: %s. Escribí \"pagar\" cuando quieras abonarla.", formatAmount(st.TotalDebt))
	st.ResponseListItems = items
	st.NextStep = domain.StepEnd
	return nil
}

// Route follows NextStep.
func (i *Invoice) Route(st *domain.ConversationState) domain.StepID {
	if st.NextStep != "" {
		return st.NextStep
	}
	return domain.StepSuspend
}

// ============================================================
// Payment creation
// ============================================================

// Payment creates a signed payment link for the chosen amount.
type Payment struct {
	links   port.PaymentLinker
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewPayment builds the payment node.
func NewPayment(links port.PaymentLinker, metrics *observability.Metrics, logger *zap.Logger) *Payment {
	return &Payment{links: links, metrics: metrics, logger: logger}
}

// Process resolves the amount (full debt, a captured entity, or an explicit
// amount prompt for partial payments), issues the link and asks for
// confirmation.
func (p *Payment) Process(_ context.Context, st *domain.ConversationState, msg domain.InboundMessage) error {
	if st.DebtID == "" {
		st.NextStep = StepCheckDebt
		return nil
	}

	// Answer to the "how much" prompt.
	if st.AwaitingInput == domain.AwaitAmount {
		amount, ok := parseAmount(msg.Body)
		if !ok || amount <= 0 {
			st.ErrorCount++
			st.ResponseKind = domain.ResponseText
			st.ResponseText = "No entendí el monto. Escribilo solo con números, por ejemplo 1500 o 1500.50."
			return nil
		}
		if amount >= st.TotalDebt {
			st.PaymentAmount = st.TotalDebt
			st.IsPartialPayment = false
		} else {
			st.PaymentAmount = amount
			st.IsPartialPayment = true
		}
		st.AwaitingInput = domain.AwaitNone
		st.ErrorCount = 0
	}

	// Partial payment without an amount yet: ask.
	if st.IsPartialPayment && st.PaymentAmount <= 0 {
		st.AwaitingInput = domain.AwaitAmount
		st.ResponseKind = domain.ResponseText
		st.ResponseText = fmt.Sprintf("Tu deuda total es %s. ¿Cuánto querés abonar?", formatAmount(st.TotalDebt))
		return nil
	}

	if st.PaymentAmount <= 0 {
		st.PaymentAmount = st.TotalDebt
	}
	if st.PaymentAmount > st.TotalDebt {
		st.PaymentAmount = st.TotalDebt
	}
	st.IsPartialPayment = st.PaymentAmount < st.TotalDebt

	reference := uuid.NewString()
	link, err := p.links.Link(reference, st.PaymentAmount, st.ExternalCustomerID)
	if err != nil {
		return fmt.Errorf("payment link: %w", err)
	}

	st.PaymentReference = reference
	st.PaymentLink = link
	st.PaymentStatus = domain.PaymentPending
	st.AwaitingPaymentConfirmation = true
	st.ConfirmationReceived = false
	st.ErrorCount = 0

	st.AwaitingInput = domain.AwaitMenu
	st.ResponseKind = domain.ResponseButtons
	st.ResponseTitle = "Link de pago"
	st.ResponseText = fmt.Sprintf(
		"Generé tu link de pago por %s:\n%s\n\nAvisame cuando lo completes.",
		formatAmount(st.PaymentAmount), link,
	)
	st.ResponseButtons = []domain.Button{
		{ID: btnConfirmPayment, Label: "Ya pagué"},
		{ID: btnCancelPayment, Label: "Cancelar"},
	}
	return nil
}

// Route suspends while waiting for the amount or the confirmation.
func (p *Payment) Route(st *domain.ConversationState) domain.StepID {
	if st.NextStep != "" {
		return st.NextStep
	}
	return domain.StepSuspend
}

// ============================================================
// Payment confirmation
// ============================================================

// PaymentConfirm settles a pending payment from the user's answer.
type PaymentConfirm struct {
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewPaymentConfirm builds the confirmation node.
func NewPaymentConfirm(metrics *observability.Metrics, logger *zap.Logger) *PaymentConfirm {
	return &PaymentConfirm{metrics: metrics, logger: logger}
}

// Process marks the payment approved or cancelled. Reconciliation against
// the billing system happens out of band; the conversation only tracks the
// customer's claim.
func (c *PaymentConfirm) Process(_ context.Context, st *domain.ConversationState, msg domain.InboundMessage) error {
	if !st.AwaitingPaymentConfirmation {
		st.NextStep = StepFallbackReply
		return nil
	}

	cancelled := msg.ReplyID == btnCancelPayment ||
		st.Intent == domain.IntentReject ||
		strings.Contains(strings.ToLower(msg.Body), "cancel")

	st.AwaitingPaymentConfirmation = false
	st.ConfirmationReceived = false
	st.AwaitingInput = domain.AwaitNone

	if cancelled {
		st.PaymentStatus = domain.PaymentCanceled
		st.PaymentLink = ""
		st.ResponseKind = domain.ResponseText
		st.ResponseText = "Listo, cancelé el pago. Tu deuda sigue pendiente; avisame cuando quieras retomarlo."
	} else {
		st.PaymentStatus = domain.PaymentApproved
		st.ResponseKind = domain.ResponseText
		st.ResponseText = fmt.Sprintf(
			"¡Gracias! Registramos tu pago de %s. En cuanto se acredite te llega el comprobante.",
			formatAmount(st.PaymentAmount),
		)
	}
	st.NextStep = domain.StepEnd
	return nil
}

// Route follows NextStep.
func (c *PaymentConfirm) Route(st *domain.ConversationState) domain.StepID {
	if st.NextStep != "" {
		return st.NextStep
	}
	return domain.StepSuspend
}

// ============================================================
// Registration, fallback, escalation
// ============================================================

// registerNode answers registration requests. Sign-up itself happens at the
// pharmacy counter; the bot explains what to bring.
func registerNode(_ context.Context, st *domain.ConversationState, _ domain.InboundMessage) error {
	st.ResponseKind = domain.ResponseText
	st.ResponseText = "Para darte de alta necesitamos verte una vez por la farmacia con tu DNI. " +
		"Después de eso vas a poder consultar y pagar por acá."
	st.NextStep = domain.StepEnd
	return nil
}

// Canned replies for intents that end the turn without business logic.
var fallbackReplies = map[domain.Intent]string{
	domain.IntentSummary:   "Por ahora puedo informarte tu deuda actual, enviarte la factura o ayudarte a pagar. Para un resumen histórico consultá en la farmacia.",
	domain.IntentDataQuery: "Por seguridad no manejo datos personales por este medio. Acercate a la farmacia para actualizar tus datos.",
	domain.IntentInfoQuery: "Podés consultar horarios y sucursales en la página de la farmacia, o preguntarme por tu deuda, factura o pagos.",
	domain.IntentReject:    "Sin problema. Si necesitás algo más, escribime cuando quieras.",
	domain.IntentUnknown:   "No entendí tu mensaje. Puedo informarte tu deuda, enviarte la factura o ayudarte a pagar.",
}

// fallbackNode answers fallback intents with a canned reply.
func fallbackNode(_ context.Context, st *domain.ConversationState, _ domain.InboundMessage) error {
	if st.Intent == domain.IntentGreeting {
		Greet(st)
		st.NextStep = domain.StepEnd
		return nil
	}
	reply, ok := fallbackReplies[st.Intent]
	if !ok {
		reply = fallbackReplies[domain.IntentUnknown]
	}
	st.ResponseKind = domain.ResponseText
	st.ResponseText = reply
	st.NextStep = domain.StepEnd
	return nil
}

// Escalate hands the conversation to a human.
type Escalate struct {
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewEscalate builds the escalation node.
func NewEscalate(metrics *observability.Metrics, logger *zap.Logger) *Escalate {
	return &Escalate{metrics: metrics, logger: logger}
}

// Process flags the conversation for a human and tells the user.
func (e *Escalate) Process(_ context.Context, st *domain.ConversationState, _ domain.InboundMessage) error {
	if !st.RequiresHuman {
		e.metrics.IncrEscalation()
	}
	st.RequiresHuman = true
	st.AwaitingInput = domain.AwaitNone
	st.ResponseKind = domain.ResponseText
	st.ResponseText = msgHandoff
	st.NextStep = domain.StepEnd
	e.logger.Info("flow: conversation escalated", zap.String("conversation_id", st.ConversationID))
	return nil
}

// Route follows NextStep.
func (e *Escalate) Route(st *domain.ConversationState) domain.StepID {
	if st.NextStep != "" {
		return st.NextStep
	}
	return domain.StepEnd
}

// ============================================================
// Helpers
// ============================================================

// formatAmount renders a money amount for chat: $1.234,56 in the local
// convention, dropping cents when they are zero.
func formatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	parts := strings.SplitN(s, ".", 2)
	intPart, frac := parts[0], parts[1]

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteRune('.')
		}
		b.WriteRune(r)
	}
	if frac == "00" {
		return "$" + b.String()
	}
	return "$" + b.String() + "," + frac
}

// parseAmount extracts a monetary amount from free text.
func parseAmount(body string) (float64, bool) {
	cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(body), "$"))
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if v, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return v, true
	}
	fields := strings.Fields(cleaned)
	for _, f := range fields {
		f = strings.TrimPrefix(f, "$")
		if v, err := strconv.ParseFloat(strings.ReplaceAll(f, ",", "."), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}
