package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Meta webhook payload (inbound)
// ============================================================

type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string       `json:"field"`
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From        string         `json:"from"`
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	Type        string         `json:"type"`
	Text        *waText        `json:"text,omitempty"`
	Interactive *waInteractive `json:"interactive,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waInteractive struct {
	Type        string   `json:"type"`
	ButtonReply *waReply `json:"button_reply,omitempty"`
	ListReply   *waReply `json:"list_reply,omitempty"`
}

type waReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// parseInbound flattens a webhook payload into inbound messages. Status and
// delivery-receipt webhooks produce an empty slice. Interactive replies
// carry the picked id in ReplyID and the human label in Body, so both the
// router and the message log see something meaningful.
func parseInbound(payload webhookPayload) []domain.InboundMessage {
	var out []domain.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				inbound := domain.InboundMessage{
					MessageID: msg.ID,
					From:      msg.From,
					Timestamp: parseUnix(msg.Timestamp),
				}
				switch {
				case msg.Type == "text" && msg.Text != nil:
					inbound.Body = msg.Text.Body
				case msg.Type == "interactive" && msg.Interactive != nil:
					reply := msg.Interactive.ButtonReply
					if reply == nil {
						reply = msg.Interactive.ListReply
					}
					if reply == nil {
						continue
					}
					inbound.ReplyID = reply.ID
					inbound.Body = reply.Title
				default:
					// Audio, images, stickers: not supported, skip.
					continue
				}
				out = append(out, inbound)
			}
		}
	}
	return out
}

func parseUnix(s string) int64 {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now().Unix()
	}
	return sec
}

// ============================================================
// Signature verification
// ============================================================

// verifySignature checks Meta's X-Hub-Signature-256 header (HMAC-SHA256 of
// the raw body with the app secret).
func verifySignature(secret string, body []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := fmt.Sprintf("%x", mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(strings.TrimPrefix(header, "sha256=")))
}

// ============================================================
// GET /webhook — subscription handshake
// ============================================================

func webhookVerifyHandler(verifyToken string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := r.URL.Query().Get("hub.mode")
		token := r.URL.Query().Get("hub.verify_token")
		challenge := r.URL.Query().Get("hub.challenge")

		if mode == "subscribe" && token == verifyToken {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, challenge)
			return
		}
		logger.Warn("webhook: verification rejected", zap.String("mode", mode))
		writeError(w, http.StatusForbidden, "verification failed")
	}
}

// ============================================================
// POST /webhook — inbound messages
// ============================================================

func webhookHandler(conv *service.Conversation, cfg WebhookConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawBody, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}

		if cfg.AppSecret != "" && !verifySignature(cfg.AppSecret, rawBody, r.Header.Get("X-Hub-Signature-256")) {
			logger.Warn("webhook: invalid signature", zap.String("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}

		var payload webhookPayload
		if err := json.Unmarshal(rawBody, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		messages := parseInbound(payload)

		// Meta requires a fast ack and retries on anything else; processing
		// outcome never changes the response.
		w.WriteHeader(http.StatusOK)

		if cfg.Async {
			go processMessages(conv, messages, logger)
			return
		}
		processMessages(conv, messages, logger)
	}
}

func processMessages(conv *service.Conversation, messages []domain.InboundMessage, logger *zap.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("webhook: recovered from panic", zap.Any("panic", rec))
		}
	}()

	// A detached context: the HTTP request is already answered.
	ctx, cancel := newTurnContext()
	defer cancel()

	for _, msg := range messages {
		if err := conv.HandleMessage(ctx, msg); err != nil {
			logger.Error("webhook: turn failed",
				zap.String("message_id", msg.MessageID),
				zap.String("from", msg.From),
				zap.Error(err),
			)
		}
	}
}
