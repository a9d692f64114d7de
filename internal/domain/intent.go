package domain

// ============================================================
// Intents
// ============================================================

// Intent is the closed set of things a user turn can mean. Classification
// itself is a collaborator concern (keyword heuristics or an NLU service);
// the core only routes on the result.
type Intent string

const (
	IntentDebtQuery Intent = "debt_query"
	IntentConfirm   Intent = "confirm"
	IntentInvoice   Intent = "invoice"
	IntentPay       Intent = "pay"
	IntentRegister  Intent = "register"
	IntentGreeting  Intent = "greeting"
	IntentReject    Intent = "reject"
	IntentSummary   Intent = "summary"
	IntentDataQuery Intent = "data_query"
	IntentInfoQuery Intent = "info_query"
	IntentUnknown   Intent = "unknown"
)

// IsFallback reports whether the intent routes to the canned-response
// handler instead of a transactional step.
func (i Intent) IsFallback() bool {
	switch i {
	case IntentGreeting, IntentReject, IntentUnknown, IntentSummary, IntentDataQuery, IntentInfoQuery:
		return true
	}
	return false
}

// Classification is what the intent collaborator returns for one turn.
type Classification struct {
	Intent     Intent            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Method     string            `json:"method"` // keyword, llm, ...
	Entities   map[string]string `json:"entities,omitempty"`
}

// ClassifyContext is the snapshot of conversation facts the classifier may
// condition on.
type ClassifyContext struct {
	IsAuthenticated      bool `json:"is_authenticated"`
	DebtKnown            bool `json:"debt_known"`
	AwaitingConfirmation bool `json:"awaiting_confirmation"`
}

// ============================================================
// Inbound messages
// ============================================================

// InboundMessage is one normalized user turn handed to the workflow. Button
// and list replies arrive with both the pressed id and the visible title;
// free text arrives with Body only.
type InboundMessage struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"` // sender phone, digits only
	Body      string `json:"body"`
	ReplyID   string `json:"reply_id,omitempty"` // button/list reply id, if any
	Timestamp int64  `json:"timestamp,omitempty"`
}
