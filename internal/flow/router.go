package flow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/infra/observability"
	"github.com/farmaplex/wsp-bot-go/internal/port"

	"go.uber.org/zap"
)

// Menu button ids the router recognizes as direct intent picks.
var menuIntents = map[string]domain.Intent{
	"btn_debt":        domain.IntentDebtQuery,
	"btn_pay":         domain.IntentPay,
	btnPayFull:        domain.IntentPay,
	btnPayPartial:     domain.IntentPay,
	btnInvoice:        domain.IntentInvoice,
	"btn_register":    domain.IntentRegister,
	btnConfirmPayment: domain.IntentConfirm,
	btnCancelPayment:  domain.IntentReject,
}

// Router is the graph's entry node: it classifies the inbound message and
// encodes the routing policy.
//
// Policy, in order:
//
//   - a conversation already flagged for a human goes straight to escalate
//   - fallback intents (greeting, reject, unknown, summary, data/info
//     queries) get a canned reply and never trigger authentication
//   - transactional intents from an unauthenticated user stash the intent
//     in PreviousIntent and divert to the auth challenge
//   - an invoice request with no debt snapshot diverts to the debt check
//     first, flagging AutoProceedToInvoice so the invoice follows in the
//     same turn
//   - an extracted amount entity is captured as the payment amount, capped
//     at the known debt
type Router struct {
	classifier port.IntentClassifier
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewRouter builds the routing node.
func NewRouter(classifier port.IntentClassifier, metrics *observability.Metrics, logger *zap.Logger) *Router {
	return &Router{classifier: classifier, metrics: metrics, logger: logger}
}

// Process classifies the message and applies the routing policy, leaving the
// decision in NextStep.
func (r *Router) Process(ctx context.Context, st *domain.ConversationState, msg domain.InboundMessage) error {
	if st.RequiresHuman {
		st.NextStep = StepEscalate
		return nil
	}

	cls, err := r.classify(ctx, st, msg)
	if err != nil {
		return err
	}

	if st.Intent != "" && st.Intent != cls.Intent {
		st.PreviousIntent = st.Intent
	}
	st.Intent = cls.Intent
	st.AwaitingInput = domain.AwaitNone
	r.metrics.IncrIntent(string(cls.Intent), cls.Method)

	r.captureAmount(st, cls)

	switch {
	case cls.Intent.IsFallback() && !(cls.Intent == domain.IntentReject && st.AwaitingPaymentConfirmation):
		st.NextStep = StepFallbackReply

	case !st.IsAuthenticated:
		st.PreviousIntent = cls.Intent
		st.NextStep = StepAuthenticate

	case cls.Intent == domain.IntentDebtQuery:
		st.NextStep = StepCheckDebt

	case cls.Intent == domain.IntentInvoice:
		if st.DebtID == "" {
			st.AutoProceedToInvoice = true
			st.NextStep = StepCheckDebt
		} else {
			st.NextStep = StepSendInvoice
		}

	case cls.Intent == domain.IntentPay:
		// Explicit button picks reset the amount; a free-text amount
		// captured above survives.
		switch msg.ReplyID {
		case btnPayPartial:
			st.IsPartialPayment = true
			st.PaymentAmount = 0
		case btnPayFull:
			st.IsPartialPayment = false
			st.PaymentAmount = 0
		}
		if st.DebtID == "" {
			st.NextStep = StepCheckDebt
		} else {
			st.NextStep = StepCreatePayment
		}

	case cls.Intent == domain.IntentConfirm && st.AwaitingPaymentConfirmation:
		st.ConfirmationReceived = true
		st.NextStep = StepConfirmPayment

	case cls.Intent == domain.IntentReject && st.AwaitingPaymentConfirmation:
		st.NextStep = StepConfirmPayment

	case cls.Intent == domain.IntentRegister:
		st.NextStep = StepRegister

	default:
		// Confirm with nothing pending, or anything the policy does not
		// cover, answers like an unknown.
		st.Intent = domain.IntentUnknown
		st.NextStep = StepFallbackReply
	}
	return nil
}

// Route reads the decision Process left behind.
func (r *Router) Route(st *domain.ConversationState) domain.StepID {
	if st.NextStep != "" {
		return st.NextStep
	}
	return domain.StepSuspend
}

// classify resolves the intent: an interactive reply id maps directly, free
// text goes through the classifier port.
func (r *Router) classify(ctx context.Context, st *domain.ConversationState, msg domain.InboundMessage) (domain.Classification, error) {
	if intent, ok := menuIntents[msg.ReplyID]; ok {
		return domain.Classification{Intent: intent, Confidence: 1.0, Method: "button"}, nil
	}

	cls, err := r.classifier.Classify(ctx, msg.Body, domain.ClassifyContext{
		IsAuthenticated:      st.IsAuthenticated,
		DebtKnown:            st.DebtID != "",
		AwaitingConfirmation: st.AwaitingPaymentConfirmation,
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("classify: %w", err)
	}
	return cls, nil
}

// captureAmount stores an extracted amount entity as the payment amount.
// Amounts above a known debt are capped at capture time; with no snapshot
// yet the raw amount is kept, to be capped once the fetch lands.
func (r *Router) captureAmount(st *domain.ConversationState, cls domain.Classification) {
	raw, ok := cls.Entities["amount"]
	if !ok || raw == "" {
		return
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil || amount <= 0 {
		return
	}

	if st.TotalDebt > 0 && amount >= st.TotalDebt {
		st.PaymentAmount = st.TotalDebt
		st.IsPartialPayment = false
	} else {
		st.PaymentAmount = amount
		st.IsPartialPayment = st.TotalDebt > 0
	}

	r.logger.Debug("router: captured amount",
		zap.String("conversation_id", st.ConversationID),
		zap.Float64("amount", st.PaymentAmount),
		zap.Bool("partial", st.IsPartialPayment),
	)
}
