package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/identity"
	"github.com/farmaplex/wsp-bot-go/internal/infra/observability"
	"github.com/farmaplex/wsp-bot-go/internal/matching"
	"github.com/farmaplex/wsp-bot-go/internal/port"

	"go.uber.org/zap"
)

// Button and list row ids the auth flow emits and recognizes.
const (
	btnRetryAccount = "btn_retry_account"
	btnValidateDNI  = "btn_validate_dni"

	accountRowPrefix = "acct_"
)

const (
	msgAskAccount = "Para continuar necesito identificarte. " +
		"¿Me pasás tu número de cuenta de la farmacia?"
	msgAccountNotFound = "No encontré una cuenta con ese número."
	msgAskDNI          = "¿Me pasás tu DNI o CUIT para validar tu identidad?"
	msgAskName         = "Gracias. Ahora decime tu nombre completo, tal como figura en la farmacia."
	msgBadIdentifier   = "No pude reconocer ese documento. " +
		"Escribilo solo con números, por ejemplo 30123456 o 20-30123456-9."
	msgNameMismatch = "El nombre no coincide con el que tenemos registrado. " +
		"Probá de nuevo con tu nombre completo."
	msgValidationFailed = "No pudimos validar tu identidad por este medio. " +
		"Acercate a la farmacia o comunicate por teléfono para resolverlo."
	msgPickAccount = "Tu teléfono está asociado a más de una cuenta. ¿Cuál querés usar?"
)

// AuthConfig carries the authentication tunables.
type AuthConfig struct {
	OrgID          string
	MaxRetries     int // invalid identifier attempts before handoff
	NameMaxRetries int // failed name verifications before handoff
}

// Auth is the authentication step machine. One graph node; which sub-state
// runs is dispatched on state.AwaitingInput:
//
//	none              first contact: try a phone lookup
//	account_selection ambiguous phone, user picking an account
//	account_number    user answering the account prompt
//	account_not_found user choosing between retry and DNI validation
//	dni               user answering the document prompt
//	name              user confirming the name on the matched record
//
// Two failure counters with separate ceilings: ErrorCount for inputs that
// do not parse, NameMismatchCount for names that parse but do not match.
type Auth struct {
	directory port.Directory
	routes    port.IntentRoutes
	matcher   *matching.Matcher
	cfg       AuthConfig
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewAuth builds the authentication node.
func NewAuth(directory port.Directory, routes port.IntentRoutes, matcher *matching.Matcher, cfg AuthConfig, metrics *observability.Metrics, logger *zap.Logger) *Auth {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxErrors
	}
	if cfg.NameMaxRetries <= 0 {
		cfg.NameMaxRetries = DefaultMaxErrors
	}
	return &Auth{
		directory: directory,
		routes:    routes,
		matcher:   matcher,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
}

// Process runs one authentication sub-step.
func (a *Auth) Process(ctx context.Context, st *domain.ConversationState, msg domain.InboundMessage) error {
	// Already identified and not mid-challenge: pass through to routing.
	if st.IsAuthenticated && !a.owns(st.AwaitingInput) {
		st.NextStep = StepRouteIntent
		return nil
	}

	switch st.AwaitingInput {
	case domain.AwaitAccountSelection:
		return a.selectAccount(st, msg)
	case domain.AwaitAccountNumber:
		return a.handleAccountNumber(ctx, st, msg)
	case domain.AwaitAccountNotFound:
		return a.handleNotFoundChoice(st, msg)
	case domain.AwaitDNI:
		return a.handleDocument(ctx, st, msg)
	case domain.AwaitName:
		return a.handleName(st, msg)
	default:
		return a.tryPhone(ctx, st)
	}
}

// Route decides where the turn goes after Process. The node encodes its
// decision in NextStep; empty means suspend and wait for the user.
func (a *Auth) Route(st *domain.ConversationState) domain.StepID {
	if st.NextStep != "" {
		return st.NextStep
	}
	return domain.StepSuspend
}

// owns reports whether the given awaited input belongs to the auth flow.
func (a *Auth) owns(in domain.AwaitingInput) bool {
	switch in {
	case domain.AwaitAccountNumber, domain.AwaitAccountNotFound,
		domain.AwaitDNI, domain.AwaitName, domain.AwaitAccountSelection:
		return true
	}
	return false
}

// ============================================================
// Sub-steps
// ============================================================

// tryPhone is the zero-friction path: an unambiguous phone match
// authenticates immediately, no challenge.
func (a *Auth) tryPhone(ctx context.Context, st *domain.ConversationState) error {
	outcome, err := a.directory.SearchCustomer(ctx, domain.DirectoryQuery{Phone: st.UserPhone})
	if err != nil {
		return fmt.Errorf("phone lookup: %w", err)
	}

	switch outcome.Kind {
	case domain.LookupFound:
		a.metrics.IncrAuthOutcome("phone_match")
		a.authenticate(st, *outcome.Record, domain.AuthLevelPhone)
		return nil
	case domain.LookupAmbiguous:
		st.RegisteredAccounts = outcome.Candidates
		st.AwaitingAccountSelection = true
		st.AwaitingInput = domain.AwaitAccountSelection
		a.promptAccountSelection(st)
		return nil
	default:
		st.AwaitingInput = domain.AwaitAccountNumber
		st.ResponseKind = domain.ResponseText
		st.ResponseText = msgAskAccount
		return nil
	}
}

// selectAccount resolves an ambiguous phone match from the user's list pick.
func (a *Auth) selectAccount(st *domain.ConversationState, msg domain.InboundMessage) error {
	choice := strings.TrimSpace(msg.ReplyID)
	if choice == "" {
		choice = accountRowPrefix + identity.NormalizeAccountNumber(msg.Body)
	}

	for _, rec := range st.RegisteredAccounts {
		if accountRowPrefix+rec.ID == choice {
			a.metrics.IncrAuthOutcome("phone_match")
			a.authenticate(st, rec, domain.AuthLevelPhone)
			return nil
		}
	}

	a.promptAccountSelection(st)
	return nil
}

func (a *Auth) promptAccountSelection(st *domain.ConversationState) {
	items := make([]domain.ListItem, 0, len(st.RegisteredAccounts))
	for _, rec := range st.RegisteredAccounts {
		items = append(items, domain.ListItem{
			ID:          accountRowPrefix + rec.ID,
			Title:       rec.Name,
			Description: "Cuenta " + rec.ID,
		})
	}
	st.ResponseKind = domain.ResponseList
	st.ResponseTitle = "Elegí tu cuenta"
	st.ResponseText = msgPickAccount
	st.ResponseListItems = items
}

// handleAccountNumber validates the answer to the account prompt against the
// directory. Zero or many matches both land in the not-found branch: a
// number that matches several records cannot identify anyone.
func (a *Auth) handleAccountNumber(ctx context.Context, st *domain.ConversationState, msg domain.InboundMessage) error {
	digits := identity.NormalizeAccountNumber(msg.Body)
	if digits == "" {
		return a.invalidInput(st, msgAskAccount)
	}

	outcome, err := a.directory.SearchCustomer(ctx, domain.DirectoryQuery{CustomerID: digits})
	if err != nil {
		return fmt.Errorf("account lookup: %w", err)
	}

	if outcome.Kind == domain.LookupFound {
		a.metrics.IncrAuthOutcome("account")
		a.authenticate(st, *outcome.Record, domain.AuthLevelAccount)
		return nil
	}

	st.PendingIdentifier = digits
	st.AwaitingInput = domain.AwaitAccountNotFound
	st.ResponseKind = domain.ResponseButtons
	st.ResponseTitle = "Cuenta no encontrada"
	st.ResponseText = msgAccountNotFound + " ¿Cómo querés seguir?"
	st.ResponseButtons = []domain.Button{
		{ID: btnRetryAccount, Label: "Intentar de nuevo"},
		{ID: btnValidateDNI, Label: "Validar con DNI"},
	}
	return nil
}

// handleNotFoundChoice interprets the two-option prompt after a failed
// account lookup. Free text works too: "intentar" or "volver" retries,
// anything mentioning dni switches to document validation.
func (a *Auth) handleNotFoundChoice(st *domain.ConversationState, msg domain.InboundMessage) error {
	choice := strings.ToLower(strings.TrimSpace(msg.ReplyID))
	if choice == "" {
		choice = strings.ToLower(msg.Body)
	}

	switch {
	case choice == btnRetryAccount || strings.Contains(choice, "intentar") || strings.Contains(choice, "volver"):
		st.PendingIdentifier = ""
		st.AwaitingInput = domain.AwaitAccountNumber
		st.ResponseKind = domain.ResponseText
		st.ResponseText = msgAskAccount
	case choice == btnValidateDNI || strings.Contains(choice, "dni") || strings.Contains(choice, "documento"):
		st.AwaitingInput = domain.AwaitDNI
		st.ResponseKind = domain.ResponseText
		st.ResponseText = msgAskDNI
	default:
		st.ResponseKind = domain.ResponseButtons
		st.ResponseTitle = "Cuenta no encontrada"
		st.ResponseText = "No entendí la opción. ¿Cómo querés seguir?"
		st.ResponseButtons = []domain.Button{
			{ID: btnRetryAccount, Label: "Intentar de nuevo"},
			{ID: btnValidateDNI, Label: "Validar con DNI"},
		}
	}
	return nil
}

// handleDocument normalizes the DNI/CUIT answer and looks it up. A matched
// record is never trusted on its own: the user must still confirm the name.
func (a *Auth) handleDocument(ctx context.Context, st *domain.ConversationState, msg domain.InboundMessage) error {
	id, ok := identity.Normalize(msg.Body)
	if !ok {
		return a.invalidInput(st, msgBadIdentifier)
	}

	outcome, err := a.directory.SearchCustomer(ctx, domain.DirectoryQuery{Document: id.Value})
	if err != nil {
		return fmt.Errorf("document lookup: %w", err)
	}

	switch outcome.Kind {
	case domain.LookupFound:
		st.CustomerRecord = outcome.Record
		st.RegisteredAccounts = nil
	case domain.LookupAmbiguous:
		// Several records share the document: verify the name against all
		// candidates and keep the best match.
		st.CustomerRecord = nil
		st.RegisteredAccounts = outcome.Candidates
	default:
		a.metrics.IncrAuthOutcome("failed")
		a.validationFailed(st)
		return nil
	}

	st.PendingIdentifier = id.Value
	st.AwaitingInput = domain.AwaitName
	st.ResponseKind = domain.ResponseText
	st.ResponseText = msgAskName
	return nil
}

// handleName verifies the claimed name against the record(s) matched by
// document. Mismatches count on their own ceiling, separate from parse
// errors.
func (a *Auth) handleName(st *domain.ConversationState, msg domain.InboundMessage) error {
	candidates := st.RegisteredAccounts
	if st.CustomerRecord != nil {
		candidates = []domain.CustomerRecord{*st.CustomerRecord}
	}

	best := -1
	bestScore := 0.0
	for i, rec := range candidates {
		if score := a.matcher.Similarity(msg.Body, rec.Name); score > bestScore {
			best, bestScore = i, score
		}
	}

	if best >= 0 && bestScore >= a.matcher.Threshold() {
		a.metrics.IncrAuthOutcome("document")
		a.authenticate(st, candidates[best], domain.AuthLevelDocument)
		return nil
	}

	st.NameMismatchCount++
	a.logger.Info("auth: name mismatch",
		zap.String("conversation_id", st.ConversationID),
		zap.Int("mismatch_count", st.NameMismatchCount),
		zap.Float64("best_score", bestScore),
	)

	if st.NameMismatchCount >= a.cfg.NameMaxRetries {
		a.metrics.IncrAuthOutcome("escalated")
		st.RequiresHuman = true
		a.validationFailed(st)
		a.metrics.IncrEscalation()
		return nil
	}

	st.ResponseKind = domain.ResponseText
	st.ResponseText = msgNameMismatch
	return nil
}

// ============================================================
// Shared outcomes
// ============================================================

// invalidInput counts a parse failure against ErrorCount and either
// re-prompts or escalates at the ceiling.
func (a *Auth) invalidInput(st *domain.ConversationState, reprompt string) error {
	st.ErrorCount++
	if st.ErrorCount >= a.cfg.MaxRetries {
		a.metrics.IncrAuthOutcome("escalated")
		st.RequiresHuman = true
		a.validationFailed(st)
		a.metrics.IncrEscalation()
		return nil
	}
	st.ResponseKind = domain.ResponseText
	st.ResponseText = reprompt
	return nil
}

// validationFailed closes the auth challenge for this turn: the user is sent
// to the pharmacy, the conversation stays usable for non-authenticated
// intents.
func (a *Auth) validationFailed(st *domain.ConversationState) {
	st.AwaitingInput = domain.AwaitNone
	st.PendingIdentifier = ""
	st.CustomerRecord = nil
	st.RegisteredAccounts = nil
	st.ResponseKind = domain.ResponseText
	st.ResponseText = msgValidationFailed
	st.NextStep = domain.StepEnd
}

// authenticate commits a successful identification and resumes whatever
// intent the challenge interrupted. Both failure counters reset: the
// customer proved who they are.
func (a *Auth) authenticate(st *domain.ConversationState, rec domain.CustomerRecord, level domain.AuthLevel) {
	st.IsAuthenticated = true
	st.AuthLevel = level
	st.ExternalCustomerID = rec.ID
	st.CustomerRecord = &rec
	st.CustomerName = rec.Name
	st.CurrentAccountID = rec.ID
	st.RegisteredAccounts = nil
	st.AwaitingAccountSelection = false
	st.PendingIdentifier = ""
	st.AwaitingInput = domain.AwaitNone
	st.ErrorCount = 0
	st.NameMismatchCount = 0

	if st.PreviousIntent != "" {
		if target, ok := a.routes.StepFor(a.cfg.OrgID, st.PreviousIntent); ok {
			st.Intent = st.PreviousIntent
			st.PreviousIntent = ""
			st.NextStep = target
			return
		}
		st.PreviousIntent = ""
	}

	// Nothing to resume: land on the menu.
	st.AwaitingInput = domain.AwaitMenu
	st.ResponseKind = domain.ResponseButtons
	st.ResponseTitle = "Identidad verificada"
	st.ResponseText = "¡Listo, " + firstName(rec.Name) + "! ¿Qué necesitás?"
	st.ResponseButtons = []domain.Button{
		{ID: "btn_debt", Label: "Consultar deuda"},
		{ID: "btn_pay", Label: "Pagar"},
		{ID: "btn_invoice", Label: "Ver factura"},
	}
}
