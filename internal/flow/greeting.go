package flow

import (
	"strings"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
)

// Greeting vocabulary. Multi-word greetings are matched as whole phrases;
// single tokens individually. A message is greeting-only when, after
// stripping matched phrases and punctuation, nothing is left.
var (
	greetingPhrases = []string{
		"buen dia", "buen día", "buenos dias", "buenos días",
		"buenas tardes", "buenas noches", "que tal", "qué tal",
		"como estas", "cómo estás", "como andas", "cómo andás",
	}
	greetingTokens = map[string]struct{}{
		"hola": {}, "buenas": {}, "hey": {}, "holis": {}, "saludos": {},
	}
)

// IsGreetingOnly reports whether the message is purely social: a greeting
// with no actionable content. "hola" qualifies; "hola, cuánto debo" does not.
func IsGreetingOnly(body string) bool {
	lower := strings.ToLower(strings.TrimSpace(body))
	if lower == "" {
		return false
	}
	phraseMatched := false
	for _, phrase := range greetingPhrases {
		if strings.Contains(lower, phrase) {
			phraseMatched = true
			lower = strings.ReplaceAll(lower, phrase, " ")
		}
	}

	rest := strings.FieldsFunc(lower, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', ',', '.', '!', '¡', '?', '¿':
			return true
		}
		return false
	})
	if len(rest) == 0 {
		return phraseMatched
	}
	for _, tok := range rest {
		if _, ok := greetingTokens[tok]; !ok {
			return false
		}
	}
	return true
}

// Greet writes the social reply for a greeting-only turn and advances the
// greeting phase. The phase machine only moves forward: not_greeted ->
// greeting_queued -> greeting_sent; a repeat greeting later in the
// conversation answers politely without resetting anything.
func Greet(st *domain.ConversationState) {
	st.ResponseKind = domain.ResponseText

	switch st.Greeting {
	case domain.NotGreeted, domain.GreetingQueued:
		if st.IsAuthenticated && st.CustomerName != "" {
			st.ResponseText = "¡Hola, " + firstName(st.CustomerName) + "! Soy el asistente de la farmacia. " +
				"Puedo informarte tu deuda, enviarte la factura o ayudarte a pagar."
		} else {
			st.ResponseText = "¡Hola! Soy el asistente de la farmacia. " +
				"Puedo informarte tu deuda, enviarte la factura o ayudarte a pagar. ¿En qué te ayudo?"
		}
		st.Greeting = domain.GreetingSent
	default:
		st.ResponseText = "¡Hola de nuevo! ¿En qué te puedo ayudar?"
	}
}

// firstName picks the leading token of a full name for a friendly address.
func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return full
	}
	return fields[0]
}
