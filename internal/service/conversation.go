// Package service orchestrates one WhatsApp turn end to end: lock the
// conversation, load its state, run the workflow, deliver the reply and
// persist the result. Handlers stay thin; everything stateful lives here or
// below.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/flow"
	"github.com/farmaplex/wsp-bot-go/internal/infra/observability"
	"github.com/farmaplex/wsp-bot-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

// WhatsApp interactive message limits. Replies are truncated to fit before
// they reach the transport.
const (
	maxButtons     = 3
	maxButtonLabel = 20
	maxListItems   = 10
	maxListTitle   = 24
	maxListDesc    = 72
)

// Conversation handles inbound WhatsApp messages for one deployment.
type Conversation struct {
	executor  *flow.Executor
	store     port.Checkpointer
	messenger port.Messenger
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewConversation wires the turn orchestrator.
func NewConversation(executor *flow.Executor, store port.Checkpointer, messenger port.Messenger, metrics *observability.Metrics, logger *zap.Logger) *Conversation {
	return &Conversation{
		executor:  executor,
		store:     store,
		messenger: messenger,
		metrics:   metrics,
		logger:    logger,
	}
}

// HandleMessage runs one full turn. The sender's phone number is the
// conversation id: WhatsApp guarantees one thread per number.
func (c *Conversation) HandleMessage(ctx context.Context, msg domain.InboundMessage) error {
	ctx, span := tracer.Start(ctx, "Conversation.HandleMessage")
	defer span.End()

	conversationID := msg.From

	release, err := c.store.Lock(ctx, conversationID)
	if err != nil {
		var locked *domain.ErrLocked
		if errors.As(err, &locked) {
			// Another turn from the same sender is in flight. Drop this one;
			// WhatsApp users double-send constantly and racing the in-flight
			// turn would fork the state.
			c.metrics.IncrTurn("locked")
			c.logger.Warn("conversation: turn dropped, lock held",
				zap.String("conversation_id", conversationID),
			)
			return nil
		}
		c.metrics.IncrTurn("error")
		return fmt.Errorf("lock conversation: %w", err)
	}
	defer release()

	st, err := c.store.Load(ctx, conversationID)
	if err != nil {
		c.metrics.IncrTurn("error")
		return fmt.Errorf("load conversation: %w", err)
	}
	if st == nil {
		st = domain.NewConversationState(conversationID, msg.From)
		c.logger.Info("conversation: new",
			zap.String("conversation_id", conversationID),
		)
	}

	c.executor.Turn(ctx, st, msg)

	if err := c.deliver(ctx, st); err != nil {
		// Delivery failure is not a state failure: the state still
		// persists so the conversation can continue.
		c.metrics.IncrExternalError("whatsapp")
		c.logger.Error("conversation: reply delivery failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	if err := c.store.Save(ctx, st); err != nil {
		c.metrics.IncrTurn("error")
		return fmt.Errorf("save conversation: %w", err)
	}

	c.metrics.IncrTurn("ok")
	return nil
}

// Get returns the stored state for the ops endpoint.
func (c *Conversation) Get(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	st, err := c.store.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, &domain.ErrNotFound{Resource: "conversation", ID: conversationID}
	}
	return st, nil
}

// Reset discards a conversation's state.
func (c *Conversation) Reset(ctx context.Context, conversationID string) error {
	return c.store.Delete(ctx, conversationID)
}

// deliver sends the turn's reply, truncated to WhatsApp's interactive
// limits, and records it in the message log.
func (c *Conversation) deliver(ctx context.Context, st *domain.ConversationState) error {
	if st.ResponseKind == "" || st.ResponseText == "" {
		return nil
	}

	var err error
	switch st.ResponseKind {
	case domain.ResponseButtons:
		buttons := truncateButtons(st.ResponseButtons)
		err = c.messenger.SendButtons(ctx, st.UserPhone, st.ResponseTitle, st.ResponseText, buttons)
	case domain.ResponseList:
		items := truncateListItems(st.ResponseListItems)
		err = c.messenger.SendList(ctx, st.UserPhone, st.ResponseTitle, st.ResponseText, items)
	default:
		err = c.messenger.SendText(ctx, st.UserPhone, st.ResponseText)
	}
	if err != nil {
		return err
	}

	st.AppendLog("outbound", st.ResponseText)
	return nil
}

// truncateButtons enforces at most 3 buttons with 20-char labels.
func truncateButtons(buttons []domain.Button) []domain.Button {
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	out := make([]domain.Button, len(buttons))
	for i, b := range buttons {
		b.Label = truncate(b.Label, maxButtonLabel)
		out[i] = b
	}
	return out
}

// truncateListItems enforces at most 10 rows, 24-char titles and 72-char
// descriptions.
func truncateListItems(items []domain.ListItem) []domain.ListItem {
	if len(items) > maxListItems {
		items = items[:maxListItems]
	}
	out := make([]domain.ListItem, len(items))
	for i, it := range items {
		it.Title = truncate(it.Title, maxListTitle)
		it.Description = truncate(it.Description, maxListDesc)
		out[i] = it
	}
	return out
}

// truncate cuts s to at most n runes, appending an ellipsis when it cuts.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return string(runes[:n-1]) + "…"
}
