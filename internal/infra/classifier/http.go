package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/farmaplex/wsp-bot-go/internal/domain"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("classifier")

// HTTP calls an external NLU service for classification. Falls back to the
// keyword classifier when the service is unreachable — a degraded intent is
// better than a dead conversation.
type HTTP struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	fallback   *Keyword
	logger     *zap.Logger
}

// NewHTTP creates the HTTP classifier client.
func NewHTTP(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, logger *zap.Logger) *HTTP {
	return &HTTP{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		fallback:   NewKeyword(),
		logger:     logger,
	}
}

type classifyRequest struct {
	Text    string                 `json:"text"`
	Context domain.ClassifyContext `json:"context"`
}

// Classify posts the turn to the NLU service.
func (c *HTTP) Classify(ctx context.Context, text string, cctx domain.ClassifyContext) (domain.Classification, error) {
	ctx, span := tracer.Start(ctx, "HTTPClassifier.Classify")
	defer span.End()

	result, err := c.cb.Execute(func() (any, error) {
		body, err := json.Marshal(classifyRequest{Text: text, Context: cctx})
		if err != nil {
			return nil, err
		}

		url := fmt.Sprintf("%s/v1/classify", c.baseURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("classifier returned status %d", resp.StatusCode)
		}

		var out domain.Classification
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		c.logger.Warn("classifier: falling back to keywords", zap.Error(err))
		return c.fallback.Classify(ctx, text, cctx)
	}

	classification := result.(domain.Classification)
	if classification.Intent == "" {
		classification.Intent = domain.IntentUnknown
	}
	if classification.Method == "" {
		classification.Method = "llm"
	}
	return classification, nil
}
