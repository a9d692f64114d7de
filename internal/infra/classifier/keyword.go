// Package classifier implements the intent-classification collaborator.
// Two variants: an in-process keyword classifier (the default) and an HTTP
// client for an external NLU service. The workflow core only sees the
// IntentClassifier port and routes on whatever comes back.
package classifier

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
)

// Keyword is a deterministic Spanish keyword classifier. Phrase intents
// match by substring; short confirm/reject words match whole tokens only,
// so "si" fires but "siempre" does not.
type Keyword struct{}

// NewKeyword creates the keyword classifier.
func NewKeyword() *Keyword {
	return &Keyword{}
}

var phraseIntents = []struct {
	intent   domain.Intent
	keywords []string
}{
	{domain.IntentInvoice, []string{
		"factura", "comprobante", "recibo", "boleta", "ticket",
	}},
	{domain.IntentPay, []string{
		"pagar", "pago", "abonar", "abono", "link de pago", "transferencia",
	}},
	{domain.IntentDebtQuery, []string{
		"deuda", "cuanto debo", "cuánto debo", "saldo", "lo que debo",
		"estado de cuenta", "mi cuenta",
	}},
	{domain.IntentRegister, []string{
		"registrar", "registrarme", "registro", "alta", "inscribir",
	}},
	{domain.IntentSummary, []string{
		"resumen", "movimientos",
	}},
	{domain.IntentDataQuery, []string{
		"mis datos", "mi direccion", "mi dirección", "mi telefono", "mi teléfono",
	}},
	{domain.IntentInfoQuery, []string{
		"horario", "sucursal", "donde estan", "dónde están", "ubicacion",
		"ubicación", "informacion", "información",
	}},
	// Greeting goes last: "hola, cuánto debo" must classify as a debt query,
	// not a greeting.
	{domain.IntentGreeting, []string{
		"hola", "buenas", "buen dia", "buen día", "buenos dias", "buenos días",
		"buenas tardes", "buenas noches", "que tal", "qué tal",
	}},
}

var (
	confirmTokens = map[string]struct{}{
		"si": {}, "sí": {}, "confirmo": {}, "dale": {}, "ok": {}, "listo": {},
		"correcto": {}, "acepto": {}, "bueno": {},
	}
	rejectTokens = map[string]struct{}{
		"no": {}, "cancelar": {}, "cancela": {}, "cancelo": {}, "salir": {},
		"nada": {},
	}

	amountPattern = regexp.MustCompile(`\$\s*(\d+(?:[.,]\d{1,2})?)|(\d+(?:[.,]\d{1,2})?)\s*(?:pesos|ars)`)
	bareAmount    = regexp.MustCompile(`\d+(?:[.,]\d{1,2})?`)
)

// Classify maps one turn to an intent by keyword matching. The context
// snapshot biases short answers: a lone "si" while the conversation awaits
// payment confirmation is a confirm, not noise.
func (k *Keyword) Classify(_ context.Context, text string, cctx domain.ClassifyContext) (domain.Classification, error) {
	lower := strings.ToLower(strings.TrimSpace(text))
	tokens := strings.Fields(lower)

	result := domain.Classification{
		Intent:     domain.IntentUnknown,
		Confidence: 0.3,
		Method:     "keyword",
	}

	// Token-exact confirm/reject first: they are the shortest and the
	// easiest to misfire on substrings.
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".,!¡¿?")
		if _, ok := confirmTokens[tok]; ok {
			result.Intent = domain.IntentConfirm
			result.Confidence = 0.9
		}
		if _, ok := rejectTokens[tok]; ok {
			result.Intent = domain.IntentReject
			result.Confidence = 0.9
		}
	}

	if result.Intent == domain.IntentUnknown {
		for _, group := range phraseIntents {
			for _, kw := range group.keywords {
				if strings.Contains(lower, kw) {
					result.Intent = group.intent
					result.Confidence = 0.8
					break
				}
			}
			if result.Intent != domain.IntentUnknown {
				break
			}
		}
	}

	// A confirm while nothing awaits confirmation and nothing else matched
	// is weak evidence — keep it, but flag low confidence.
	if result.Intent == domain.IntentConfirm && !cctx.AwaitingConfirmation {
		result.Confidence = 0.6
	}

	if amount, ok := extractAmount(lower, result.Intent); ok {
		if result.Entities == nil {
			result.Entities = make(map[string]string)
		}
		result.Entities["amount"] = amount
	}

	return result, nil
}

// extractAmount pulls a monetary amount out of the text. An explicit
// currency marker ($ or "pesos") counts for any intent; a bare number only
// counts when the intent already concerns paying.
func extractAmount(lower string, intent domain.Intent) (string, bool) {
	if m := amountPattern.FindStringSubmatch(lower); m != nil {
		for _, g := range m[1:] {
			if g != "" {
				return canonicalAmount(g), true
			}
		}
	}
	if intent == domain.IntentPay {
		if m := bareAmount.FindString(lower); m != "" {
			return canonicalAmount(m), true
		}
	}
	return "", false
}

// canonicalAmount normalizes the decimal separator so downstream parsing
// can rely on strconv.
func canonicalAmount(s string) string {
	s = strings.ReplaceAll(s, ",", ".")
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return ""
	}
	return s
}
