// Package whatsapp sends messages through the Meta WhatsApp Cloud API.
// Payloads follow the Cloud API "messages" contract: plain text, interactive
// button messages (max 3 buttons) and interactive list messages (max 10
// rows). Callers are expected to hand in already-truncated content.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("whatsapp")

// Client calls the Cloud API messages endpoint for one business phone id.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	phoneID    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewClient creates a WhatsApp sender. Delivery is retried with backoff —
// unlike workflow steps, losing an outbound reply leaves the user staring
// at silence, so the transport is allowed to insist.
func NewClient(httpClient *http.Client, baseURL, token, phoneID string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		phoneID:    phoneID,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// --- Cloud API payload shapes ---

type textPayload struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type interactivePayload struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Interactive      interactive `json:"interactive"`
}

type interactive struct {
	Type   string             `json:"type"` // button, list
	Header *interactiveHeader `json:"header,omitempty"`
	Body   interactiveBody    `json:"body"`
	Action interactiveAction  `json:"action"`
}

type interactiveHeader struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type interactiveBody struct {
	Text string `json:"text"`
}

type interactiveAction struct {
	Buttons  []actionButton `json:"buttons,omitempty"`
	Button   string         `json:"button,omitempty"` // list open-button label
	Sections []listSection  `json:"sections,omitempty"`
}

type actionButton struct {
	Type  string      `json:"type"`
	Reply buttonReply `json:"reply"`
}

type buttonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type listSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []listRow `json:"rows"`
}

type listRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, recipient, body string) error {
	return c.send(ctx, "SendText", textPayload{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "text",
		Text:             textBody{Body: body},
	})
}

// SendButtons delivers an interactive button message.
func (c *Client) SendButtons(ctx context.Context, recipient, title, body string, buttons []domain.Button) error {
	action := interactiveAction{}
	for _, b := range buttons {
		action.Buttons = append(action.Buttons, actionButton{
			Type:  "reply",
			Reply: buttonReply{ID: b.ID, Title: b.Label},
		})
	}

	msg := interactivePayload{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "interactive",
		Interactive: interactive{
			Type:   "button",
			Body:   interactiveBody{Text: body},
			Action: action,
		},
	}
	if title != "" {
		msg.Interactive.Header = &interactiveHeader{Type: "text", Text: title}
	}
	return c.send(ctx, "SendButtons", msg)
}

// SendList delivers an interactive list message.
func (c *Client) SendList(ctx context.Context, recipient, title, body string, items []domain.ListItem) error {
	rows := make([]listRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, listRow{ID: it.ID, Title: it.Title, Description: it.Description})
	}

	msg := interactivePayload{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "interactive",
		Interactive: interactive{
			Type: "list",
			Body: interactiveBody{Text: body},
			Action: interactiveAction{
				Button:   "Ver opciones",
				Sections: []listSection{{Rows: rows}},
			},
		},
	}
	if title != "" {
		msg.Interactive.Header = &interactiveHeader{Type: "text", Text: title}
	}
	return c.send(ctx, "SendList", msg)
}

func (c *Client) send(ctx context.Context, op string, payload any) error {
	ctx, span := tracer.Start(ctx, "WhatsAppClient."+op)
	defer span.End()
	span.SetAttributes(attribute.String("whatsapp.phone_id", c.phoneID))

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = c.cb.Execute(func() (any, error) {
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+c.token)
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
				c.logger.Warn("whatsapp: non-2xx response",
					zap.String("op", op),
					zap.Int("status", resp.StatusCode),
					zap.ByteString("body", respBody),
				)
				return fmt.Errorf("whatsapp returned status %d", resp.StatusCode)
			}
			return nil
		})
		return nil, innerErr
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return &domain.ErrCircuitOpen{Service: "whatsapp"}
		}
		return &domain.ErrExternalService{Service: "whatsapp", Err: err}
	}

	c.logger.Debug("whatsapp: message sent", zap.String("op", op))
	return nil
}
