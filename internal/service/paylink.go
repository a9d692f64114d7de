package service

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================
// Payment links
// ============================================================

// PayLinkClaims are the signed claims embedded in a payment link. The
// payment frontend validates them before rendering a checkout.
type PayLinkClaims struct {
	Reference  string  `json:"ref"`
	Amount     float64 `json:"amount"`
	CustomerID string  `json:"sub"`
	jwt.RegisteredClaims
}

// PayLinks issues signed payment links. The token is the single source of
// truth for amount and reference: the URL cannot be tampered with without
// breaking the signature.
type PayLinks struct {
	baseURL string
	secret  []byte
	ttl     time.Duration
}

// NewPayLinks creates the link signer.
func NewPayLinks(baseURL string, secret []byte, ttl time.Duration) *PayLinks {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PayLinks{baseURL: baseURL, secret: secret, ttl: ttl}
}

// Link signs a payment token and embeds it in the checkout URL.
func (p *PayLinks) Link(reference string, amount float64, externalCustomerID string) (string, error) {
	now := time.Now()
	claims := PayLinkClaims{
		Reference:  reference,
		Amount:     amount,
		CustomerID: externalCustomerID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			Issuer:    "wsp-bot",
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign payment token: %w", err)
	}
	return p.baseURL + "?t=" + url.QueryEscape(token), nil
}

// Verify parses and validates a payment token, returning its claims. The
// checkout frontend holds the same secret and performs this check before
// rendering; Verify is the reference implementation of that contract and
// keeps both sides honest in tests.
func (p *PayLinks) Verify(token string) (*PayLinkClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &PayLinkClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse payment token: %w", err)
	}
	claims, ok := parsed.Claims.(*PayLinkClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid payment token")
	}
	return claims, nil
}
