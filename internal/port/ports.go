// Package port defines the interfaces (ports) for external collaborators.
// Following hexagonal architecture, these ports decouple the workflow core
// from concrete implementations: the PLEX billing system, the WhatsApp
// transport, the checkpoint store and the intent classifier.
package port

import (
	"context"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
)

// Directory queries the billing system's person records. Zero, one, or many
// matches are all valid outcomes, surfaced through the LookupOutcome sum
// type; errors are reserved for unexpected failures.
type Directory interface {
	SearchCustomer(ctx context.Context, q domain.DirectoryQuery) (domain.LookupOutcome, error)
}

// DebtFetcher retrieves the outstanding balance for an authenticated
// customer.
type DebtFetcher interface {
	FetchDebt(ctx context.Context, externalCustomerID string) (*domain.DebtSnapshot, error)
}

// Messenger delivers replies to the user. Truncation to WhatsApp's limits
// (3 buttons / 20-char labels, 10 list items / 24-char titles / 72-char
// descriptions) happens before these are called — the transport assumes
// well-formed payloads.
type Messenger interface {
	SendText(ctx context.Context, recipient, body string) error
	SendButtons(ctx context.Context, recipient, title, body string, buttons []domain.Button) error
	SendList(ctx context.Context, recipient, title, body string, items []domain.ListItem) error
}

// Checkpointer persists ConversationState between turns, keyed by
// conversation id. Lock serializes turns for one conversation: no two steps
// from the same conversation may execute against the same prior state
// concurrently.
type Checkpointer interface {
	// Lock acquires the per-conversation lock, returning a release func.
	Lock(ctx context.Context, conversationID string) (func(), error)
	// Load returns the stored state, or nil when the conversation is new.
	Load(ctx context.Context, conversationID string) (*domain.ConversationState, error)
	// Save writes the state back. Implementations may reject concurrent
	// writes with domain.ErrConflict via the state's Version field.
	Save(ctx context.Context, state *domain.ConversationState) error
	// Delete discards a conversation's state (ops/reset endpoint).
	Delete(ctx context.Context, conversationID string) error
}

// IntentClassifier maps one free-text turn to an intent. The mechanism
// (keyword heuristics, an NLU service) is a collaborator concern.
type IntentClassifier interface {
	Classify(ctx context.Context, text string, cctx domain.ClassifyContext) (domain.Classification, error)
}

// IntentRoutes resolves the target step for an intent, scoped by
// organization. Used exclusively for resuming an interrupted intent after
// authentication succeeds.
type IntentRoutes interface {
	StepFor(orgID string, intent domain.Intent) (domain.StepID, bool)
}

// PaymentLinker issues a signed payment link for a pending payment.
type PaymentLinker interface {
	Link(reference string, amount float64, externalCustomerID string) (string, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
