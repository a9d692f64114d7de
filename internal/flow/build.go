package flow

import (
	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/infra/observability"
	"github.com/farmaplex/wsp-bot-go/internal/matching"
	"github.com/farmaplex/wsp-bot-go/internal/port"

	"go.uber.org/zap"
)

// Deps are the collaborators the graph nodes need.
type Deps struct {
	Directory  port.Directory
	Debt       port.DebtFetcher
	Classifier port.IntentClassifier
	Routes     port.IntentRoutes
	Payments   port.PaymentLinker
	Matcher    *matching.Matcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// Build assembles and compiles the full conversation graph. The edge tables
// are exhaustive on purpose: adding a node without declaring where it can go
// fails at startup.
func Build(deps Deps, authCfg AuthConfig) (*Compiled, error) {
	router := NewRouter(deps.Classifier, deps.Metrics, deps.Logger)
	auth := NewAuth(deps.Directory, deps.Routes, deps.Matcher, authCfg, deps.Metrics, deps.Logger)
	debt := NewDebtCheck(deps.Debt, deps.Metrics, deps.Logger)
	invoice := NewInvoice(deps.Logger)
	payment := NewPayment(deps.Payments, deps.Metrics, deps.Logger)
	confirm := NewPaymentConfirm(deps.Metrics, deps.Logger)
	escalate := NewEscalate(deps.Metrics, deps.Logger)

	g := NewGraph().
		SetEntry(StepRouteIntent).
		AddNode(StepRouteIntent, router.Process).
		AddNode(StepAuthenticate, auth.Process).
		AddNode(StepCheckDebt, debt.Process).
		AddNode(StepSendInvoice, invoice.Process).
		AddNode(StepCreatePayment, payment.Process).
		AddNode(StepConfirmPayment, confirm.Process).
		AddNode(StepRegister, registerNode).
		AddNode(StepFallbackReply, fallbackNode).
		AddNode(StepEscalate, escalate.Process).
		AddConditionalEdges(StepRouteIntent, router.Route,
			StepAuthenticate, StepCheckDebt, StepSendInvoice, StepCreatePayment,
			StepConfirmPayment, StepRegister, StepFallbackReply, StepEscalate).
		AddConditionalEdges(StepAuthenticate, auth.Route,
			StepRouteIntent, StepCheckDebt, StepSendInvoice, StepCreatePayment,
			StepConfirmPayment, StepRegister, StepEscalate).
		AddConditionalEdges(StepCheckDebt, debt.Route,
			StepAuthenticate, StepSendInvoice).
		AddConditionalEdges(StepSendInvoice, invoice.Route,
			StepCheckDebt).
		AddConditionalEdges(StepCreatePayment, payment.Route,
			StepCheckDebt).
		AddConditionalEdges(StepConfirmPayment, confirm.Route,
			StepFallbackReply).
		AddConditionalEdges(StepRegister, stepRoute).
		AddConditionalEdges(StepFallbackReply, stepRoute).
		AddConditionalEdges(StepEscalate, escalate.Route)

	return g.Compile()
}

// stepRoute is the shared route for nodes that encode their decision in
// NextStep and otherwise suspend.
func stepRoute(st *domain.ConversationState) domain.StepID {
	if st.NextStep != "" {
		return st.NextStep
	}
	return domain.StepSuspend
}
