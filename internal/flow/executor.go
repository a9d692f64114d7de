package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/infra/observability"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("flow")

// DefaultMaxHops bounds how many steps a single turn may chain. A turn that
// burns through this many hops without suspending or ending is looping.
const DefaultMaxHops = 8

// DefaultMaxErrors is the error ceiling after which a conversation is handed
// to a human instead of apologizing again.
const DefaultMaxErrors = 3

const (
	msgApology = "Disculpá, tuvimos un inconveniente procesando tu mensaje. " +
		"¿Podés intentarlo de nuevo?"
	msgHandoff = "No estamos pudiendo resolver tu consulta por este medio. " +
		"Un representante de la farmacia se va a comunicar con vos a la brevedad."
)

// Executor drives one conversation turn through the compiled graph.
//
// Per turn it: picks the resume step from the persisted state (or the graph
// entry), runs nodes in a loop, enforces the state invariants after every
// node, and follows the node's routing decision until a sentinel stops the
// turn. Node errors never escape: they turn into an apology plus a suspend
// at the failing step, so the next inbound message retries naturally. There
// is no automatic in-turn retry of a failed step.
type Executor struct {
	graph     *Compiled
	maxHops   int
	maxErrors int
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewExecutor wires an executor around a compiled graph. Zero limits take
// the defaults.
func NewExecutor(graph *Compiled, maxHops, maxErrors int, metrics *observability.Metrics, logger *zap.Logger) *Executor {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &Executor{
		graph:     graph,
		maxHops:   maxHops,
		maxErrors: maxErrors,
		metrics:   metrics,
		logger:    logger,
	}
}

// Turn processes one inbound message against the conversation state. The
// state is mutated in place; the caller persists it afterwards regardless of
// outcome.
func (e *Executor) Turn(ctx context.Context, st *domain.ConversationState, msg domain.InboundMessage) {
	ctx, span := tracer.Start(ctx, "Executor.Turn")
	defer span.End()

	st.ClearResponse()
	st.AppendLog("inbound", msg.Body)

	// A completed conversation is re-entrant: the customer keeps their
	// identity, the turn starts fresh at the entry step.
	if st.IsComplete {
		st.IsComplete = false
		st.NextStep = ""
	}

	// Purely social turns short-circuit the graph: greet back, stay put.
	// Only when no step is waiting for input — "hola" while we asked for a
	// DNI belongs to the waiting step.
	if st.AwaitingInput == domain.AwaitNone && IsGreetingOnly(msg.Body) {
		Greet(st)
		st.EnforceInvariants()
		return
	}

	step := st.NextStep
	if step == "" || !e.graph.Has(step) {
		if step != "" {
			e.logger.Warn("flow: persisted resume step unknown, restarting at entry",
				zap.String("conversation_id", st.ConversationID),
				zap.String("step", string(step)),
			)
		}
		step = e.graph.Entry()
	}
	st.NextStep = ""

	for hop := 0; hop < e.maxHops; hop++ {
		st.CurrentStep = step
		node := e.graph.nodes[step]

		start := time.Now()
		err := e.runNode(ctx, node, st, msg)
		e.metrics.RecordStepDuration(string(step), time.Since(start))

		st.EnforceInvariants()

		if err != nil {
			e.failTurn(st, step, err)
			return
		}

		next := e.graph.edges[step].route(st)
		st.NextStep = ""

		switch next {
		case domain.StepSuspend:
			st.NextStep = resumeStep(step, st.AwaitingInput)
			st.EnforceInvariants()
			return
		case domain.StepEnd:
			st.IsComplete = true
			st.NextStep = ""
			st.EnforceInvariants()
			return
		default:
			step = next
		}
	}

	// Hop budget exhausted: a graph bug, not a user problem. Treat it like
	// a step failure so the conversation stays recoverable.
	e.failTurn(st, step, fmt.Errorf("hop budget exhausted at step %q", step))
}

// awaitOwners maps each awaited input to the step that consumes the answer.
// Menu picks are intents and belong to the router; everything else resumes
// at the step that asked.
var awaitOwners = map[domain.AwaitingInput]domain.StepID{
	domain.AwaitAccountNumber:    StepAuthenticate,
	domain.AwaitAccountNotFound:  StepAuthenticate,
	domain.AwaitDNI:              StepAuthenticate,
	domain.AwaitName:             StepAuthenticate,
	domain.AwaitAccountSelection: StepAuthenticate,
	domain.AwaitAmount:           StepCreatePayment,
	domain.AwaitMenu:             StepRouteIntent,
}

// resumeStep picks where the next inbound message enters the graph after a
// suspend.
func resumeStep(current domain.StepID, await domain.AwaitingInput) domain.StepID {
	if owner, ok := awaitOwners[await]; ok {
		return owner
	}
	return current
}

// runNode executes one node, converting panics into errors so a buggy step
// cannot take the whole turn handler down.
func (e *Executor) runNode(ctx context.Context, node NodeFunc, st *domain.ConversationState, msg domain.InboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	return node(ctx, st, msg)
}

// failTurn records a step failure: bump the error counter, answer with an
// apology (or hand off at the ceiling), and suspend at the failing step so
// the user's next message retries it.
func (e *Executor) failTurn(st *domain.ConversationState, step domain.StepID, err error) {
	st.ErrorCount++
	e.logger.Error("flow: step failed",
		zap.String("conversation_id", st.ConversationID),
		zap.String("step", string(step)),
		zap.Int("error_count", st.ErrorCount),
		zap.Error(err),
	)

	if st.ErrorCount >= e.maxErrors {
		st.RequiresHuman = true
		st.AwaitingInput = domain.AwaitNone
		st.NextStep = ""
		st.ResponseKind = domain.ResponseText
		st.ResponseText = msgHandoff
		e.metrics.IncrEscalation()
	} else {
		st.NextStep = step
		st.ResponseKind = domain.ResponseText
		st.ResponseText = msgApology
	}
	st.EnforceInvariants()
}
