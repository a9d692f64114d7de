package domain

import "time"

// ============================================================
// Conversation step identifiers
// ============================================================

// StepID names a node in the workflow graph. The set of valid values is
// closed and owned by the flow package; the state only carries them so a
// conversation can resume at the right node on the next inbound message.
type StepID string

// Routing sentinels. They are not graph nodes: Suspend ends the current
// turn and waits for the next inbound message, End terminates the turn
// marking the conversation complete.
const (
	StepSuspend StepID = "__suspend__"
	StepEnd     StepID = "__end__"
)

// ============================================================
// Enums threaded through the conversation state
// ============================================================

// AwaitingInput identifies which step owns the next inbound message.
type AwaitingInput string

const (
	AwaitNone             AwaitingInput = "none"
	AwaitAccountNumber    AwaitingInput = "account_number"
	AwaitAccountNotFound  AwaitingInput = "account_not_found"
	AwaitDNI              AwaitingInput = "dni"
	AwaitName             AwaitingInput = "name"
	AwaitAmount           AwaitingInput = "amount"
	AwaitMenu             AwaitingInput = "menu"
	AwaitAccountSelection AwaitingInput = "account_selection"
)

// PaymentStatus tracks the lifecycle of an initiated payment.
type PaymentStatus string

const (
	PaymentNone     PaymentStatus = ""
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
	PaymentCanceled PaymentStatus = "cancelled"
)

// ResponseKind selects the WhatsApp payload shape for the turn's reply.
type ResponseKind string

const (
	ResponseText    ResponseKind = "text"
	ResponseButtons ResponseKind = "buttons"
	ResponseList    ResponseKind = "list"
)

// GreetingPhase is a small three-state machine replacing the flag soup
// (just_identified / pending_greeting / greeting_sent) that conversational
// bots tend to accumulate. Transitions only move forward.
type GreetingPhase string

const (
	NotGreeted     GreetingPhase = "not_greeted"
	GreetingQueued GreetingPhase = "greeting_queued"
	GreetingSent   GreetingPhase = "greeting_sent"
)

// AuthLevel is the confidence tier of the current identification.
type AuthLevel string

const (
	AuthLevelNone     AuthLevel = "none"
	AuthLevelPhone    AuthLevel = "phone"    // unique phone match, no challenge
	AuthLevelAccount  AuthLevel = "account"  // account number verified
	AuthLevelDocument AuthLevel = "document" // DNI/CUIT + name verification
)

// ============================================================
// ConversationState — the unit of checkpointing
// ============================================================

// MessageLogEntry is one turn in the append-only conversation history.
type MessageLogEntry struct {
	Direction string    `json:"direction"` // inbound, outbound
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Button is one quick-reply option (WhatsApp allows at most 3 per message,
// labels capped at 20 characters by the transport).
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ListItem is one row of an interactive list (at most 10 per message,
// title capped at 24 characters, description at 72).
type ListItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ConversationState is the single mutable record threaded through the whole
// workflow for one WhatsApp conversation. It is read at the start of each
// turn, mutated exclusively by workflow steps, and written back at the end.
// Retention/expiry belongs to the checkpoint store, never to the core.
type ConversationState struct {
	ConversationID string `json:"conversation_id"`

	// Identity
	UserPhone          string          `json:"user_phone"`
	IsAuthenticated    bool            `json:"is_authenticated"`
	ExternalCustomerID string          `json:"external_customer_id,omitempty"`
	CustomerRecord     *CustomerRecord `json:"customer_record,omitempty"`
	CustomerName       string          `json:"customer_name,omitempty"`
	PendingIdentifier  string          `json:"pending_identifier,omitempty"`
	AuthLevel          AuthLevel       `json:"auth_level"`

	// Account selection (ambiguous phone numbers)
	CurrentAccountID         string           `json:"current_account_id,omitempty"`
	RegisteredAccounts       []CustomerRecord `json:"registered_accounts,omitempty"`
	AwaitingAccountSelection bool             `json:"awaiting_account_selection"`

	// Debt snapshot
	DebtID        string     `json:"debt_id,omitempty"`
	TotalDebt     float64    `json:"total_debt"`
	DebtItems     []DebtItem `json:"debt_items,omitempty"`
	HasDebt       bool       `json:"has_debt"`
	DebtFetchedAt *time.Time `json:"debt_fetched_at,omitempty"`

	// Payment
	PaymentAmount               float64       `json:"payment_amount"`
	IsPartialPayment            bool          `json:"is_partial_payment"`
	PaymentLink                 string        `json:"payment_link,omitempty"`
	PaymentStatus               PaymentStatus `json:"payment_status,omitempty"`
	PaymentReference            string        `json:"payment_reference,omitempty"`
	AwaitingPaymentConfirmation bool          `json:"awaiting_payment_confirmation"`

	// Control
	Intent               Intent        `json:"intent,omitempty"`
	PreviousIntent       Intent        `json:"previous_intent,omitempty"`
	AwaitingInput        AwaitingInput `json:"awaiting_input"`
	CurrentStep          StepID        `json:"current_step,omitempty"`
	NextStep             StepID        `json:"next_step,omitempty"`
	IsComplete           bool          `json:"is_complete"`
	ErrorCount           int           `json:"error_count"`
	NameMismatchCount    int           `json:"name_mismatch_count"`
	RequiresHuman        bool          `json:"requires_human"`
	AutoProceedToInvoice bool          `json:"auto_proceed_to_invoice"`
	ConfirmationReceived bool          `json:"confirmation_received"`
	Greeting             GreetingPhase `json:"greeting"`

	// Response shaping — the only fields the transport layer reads
	ResponseKind      ResponseKind `json:"response_kind,omitempty"`
	ResponseTitle     string       `json:"response_title,omitempty"`
	ResponseText      string       `json:"response_text,omitempty"`
	ResponseButtons   []Button     `json:"response_buttons,omitempty"`
	ResponseListItems []ListItem   `json:"response_list_items,omitempty"`

	// History / metadata
	MessageLog    []MessageLogEntry `json:"message_log,omitempty"`
	LastUpdatedAt time.Time         `json:"last_updated_at"`
	Version       int64             `json:"version"` // optimistic checkpoint version
}

// NewConversationState creates the initial state for a brand-new
// conversation: everything empty, unauthenticated, not greeted.
func NewConversationState(conversationID, phone string) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		UserPhone:      phone,
		AuthLevel:      AuthLevelNone,
		AwaitingInput:  AwaitNone,
		Greeting:       NotGreeted,
		LastUpdatedAt:  time.Now().UTC(),
	}
}

// AppendLog records one turn in the message log. The log is append-only;
// steps never rewrite history.
func (s *ConversationState) AppendLog(direction, body string) {
	s.MessageLog = append(s.MessageLog, MessageLogEntry{
		Direction: direction,
		Body:      body,
		Timestamp: time.Now().UTC(),
	})
}

// ClearResponse resets the response-shaping fields before a node runs, so a
// stale reply from a previous turn can never leak into the current one.
func (s *ConversationState) ClearResponse() {
	s.ResponseKind = ""
	s.ResponseTitle = ""
	s.ResponseText = ""
	s.ResponseButtons = nil
	s.ResponseListItems = nil
}

// EnforceInvariants corrects the state after every step execution. The
// executor calls it so no step author can produce an inconsistent state by
// omission:
//
//   - a conversation waiting for input is never complete (suspend wins)
//   - is_authenticated without an external customer id is demoted
//   - a captured payment amount never exceeds a fetched debt; amounts
//     captured before the debt snapshot exists are kept as-is so the fetch
//     can reconcile them
//   - multiple candidate accounts with none selected force the
//     account-selection prompt
func (s *ConversationState) EnforceInvariants() {
	if s.AwaitingInput != AwaitNone {
		s.IsComplete = false
	}
	if s.IsAuthenticated && s.ExternalCustomerID == "" {
		s.IsAuthenticated = false
		s.AuthLevel = AuthLevelNone
	}
	if s.DebtID != "" && s.PaymentAmount > s.TotalDebt {
		s.PaymentAmount = s.TotalDebt
		s.IsPartialPayment = false
	}
	if len(s.RegisteredAccounts) > 1 && s.CurrentAccountID == "" {
		s.AwaitingAccountSelection = true
	}
	s.LastUpdatedAt = time.Now().UTC()
}
