// Package plex provides a client for the PLEX billing system, the system of
// record for customer identities and outstanding debt. The bot only ever
// reads from it: search people, fetch debt.
package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("plex")

// Client wraps HTTP calls to the PLEX REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	group      singleflight.Group
	logger     *zap.Logger
}

// NewClient creates a PLEX client. The bulkhead bounds concurrent calls;
// identical concurrent lookups are deduplicated (double-taps and webhook
// retries produce the same query within milliseconds).
func NewClient(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, bulkhead *resilience.Bulkhead, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		cb:         cb,
		bulkhead:   bulkhead,
		logger:     logger,
	}
}

// SearchCustomer queries person records by document, customer id, or phone.
// Zero, one, or many results are all valid outcomes; ambiguity is reported
// explicitly, never silently collapsed to the first record.
func (c *Client) SearchCustomer(ctx context.Context, q domain.DirectoryQuery) (domain.LookupOutcome, error) {
	ctx, span := tracer.Start(ctx, "PlexClient.SearchCustomer")
	defer span.End()

	params := url.Values{}
	if q.Document != "" {
		params.Set("documento", q.Document)
	}
	if q.CustomerID != "" {
		params.Set("id", q.CustomerID)
	}
	if q.Phone != "" {
		params.Set("telefono", q.Phone)
	}
	if len(params) == 0 {
		return domain.LookupOutcome{}, &domain.ErrValidation{Field: "query", Message: "at least one search key required"}
	}

	key := params.Encode()
	span.SetAttributes(attribute.String("plex.query", key))

	result, err, _ := c.group.Do(key, func() (any, error) {
		body, err := c.doRequest(ctx, http.MethodGet, "clientes?"+key)
		if err != nil {
			return nil, err
		}

		var records []domain.CustomerRecord
		if len(body) > 0 {
			if err := json.Unmarshal(body, &records); err != nil {
				return nil, fmt.Errorf("decode plex response: %w", err)
			}
		}
		outcome := domain.FromCandidates(records)
		return outcome, nil
	})
	if err != nil {
		return domain.LookupOutcome{}, &domain.ErrExternalService{Service: "plex", Err: err}
	}
	return result.(domain.LookupOutcome), nil
}

// plexDebt maps PLEX's debt payload to our domain.
type plexDebt struct {
	ID    string  `json:"id"`
	Total float64 `json:"total"`
	Items []struct {
		Descripcion string  `json:"descripcion"`
		Importe     float64 `json:"importe"`
	} `json:"items"`
	Referencia string `json:"referencia"`
}

// FetchDebt retrieves the outstanding balance for a customer id.
func (c *Client) FetchDebt(ctx context.Context, externalCustomerID string) (*domain.DebtSnapshot, error) {
	ctx, span := tracer.Start(ctx, "PlexClient.FetchDebt")
	defer span.End()
	span.SetAttributes(attribute.String("plex.customer_id", externalCustomerID))

	body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("clientes/%s/deuda", url.PathEscape(externalCustomerID)))
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "plex", Err: err}
	}
	if len(body) == 0 {
		return nil, &domain.ErrNotFound{Resource: "debt", ID: externalCustomerID}
	}

	var raw plexDebt
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &domain.ErrExternalService{Service: "plex", Err: fmt.Errorf("decode debt response: %w", err)}
	}

	snapshot := &domain.DebtSnapshot{
		DebtID:    raw.ID,
		Total:     raw.Total,
		Reference: raw.Referencia,
	}
	for _, it := range raw.Items {
		snapshot.Items = append(snapshot.Items, domain.DebtItem{
			Description: it.Descripcion,
			Amount:      it.Importe,
		})
	}
	return snapshot, nil
}

// doRequest executes one authenticated request against PLEX, behind the
// breaker and the bulkhead. A single attempt only: failed lookups are
// retried by the user's next message, not here.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.bulkhead.Release()

	result, err := c.cb.Execute(func() (any, error) {
		reqURL := fmt.Sprintf("%s/api/%s", c.baseURL, path)
		req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
		if err != nil {
			return nil, err
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error("plex: request failed",
				zap.String("method", method),
				zap.String("path", path),
				zap.Error(err),
			)
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
			return []byte(nil), nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.logger.Warn("plex: non-2xx response",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
			)
			return nil, fmt.Errorf("plex returned status %d", resp.StatusCode)
		}

		c.logger.Debug("plex: request OK",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return body, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &domain.ErrCircuitOpen{Service: "plex"}
		}
		return nil, err
	}
	return result.([]byte), nil
}
