// Package flow implements the conversational workflow graph: named steps,
// conditional routing over the accumulated conversation state, and an
// executor that resumes a conversation wherever the previous turn left it.
//
// The graph is deliberately closed: every step id is a constant, every edge
// declares its possible targets, and Compile fails fast on a dangling
// reference. Routing decisions only ever see the merged state — never the
// raw inbound message — so they stay pure and replayable.
package flow

import (
	"context"
	"fmt"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
)

// Step identifiers. These are the only nodes the graph knows; the sentinels
// StepSuspend/StepEnd live in the domain package next to the state that
// carries them.
const (
	StepRouteIntent    domain.StepID = "route_intent"
	StepAuthenticate   domain.StepID = "authenticate"
	StepCheckDebt      domain.StepID = "check_debt"
	StepSendInvoice    domain.StepID = "send_invoice"
	StepCreatePayment  domain.StepID = "create_payment"
	StepConfirmPayment domain.StepID = "confirm_payment"
	StepRegister       domain.StepID = "register"
	StepFallbackReply  domain.StepID = "fallback_reply"
	StepEscalate       domain.StepID = "escalate"
)

// NodeFunc executes one step: it reads the state and the latest inbound
// message and mutates the state. Errors are caught at the executor
// boundary, never propagated to the transport.
type NodeFunc func(ctx context.Context, st *domain.ConversationState, msg domain.InboundMessage) error

// RouteFunc picks the next step from the post-execution state. It must
// return a registered step or one of the sentinels.
type RouteFunc func(st *domain.ConversationState) domain.StepID

type edge struct {
	route   RouteFunc
	targets []domain.StepID
}

// Graph is the mutable builder. Register nodes and edges, then Compile.
type Graph struct {
	entry domain.StepID
	nodes map[domain.StepID]NodeFunc
	edges map[domain.StepID]edge
}

// NewGraph creates an empty graph builder.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[domain.StepID]NodeFunc),
		edges: make(map[domain.StepID]edge),
	}
}

// SetEntry declares the step new conversations start at.
func (g *Graph) SetEntry(id domain.StepID) *Graph {
	g.entry = id
	return g
}

// AddNode registers a step.
func (g *Graph) AddNode(id domain.StepID, fn NodeFunc) *Graph {
	g.nodes[id] = fn
	return g
}

// AddConditionalEdges attaches a routing function to a step, declaring the
// full set of steps it may route to. Sentinels need not be declared.
func (g *Graph) AddConditionalEdges(from domain.StepID, route RouteFunc, targets ...domain.StepID) *Graph {
	g.edges[from] = edge{route: route, targets: targets}
	return g
}

// Compiled is an immutable, validated graph.
type Compiled struct {
	entry domain.StepID
	nodes map[domain.StepID]NodeFunc
	edges map[domain.StepID]edge
}

// Compile validates the graph: an entry must exist, every step needs an
// outgoing edge, and every declared edge target must be a registered step.
// A graph that fails these checks is a programming error caught at startup,
// not a runtime surprise mid-conversation.
func (g *Graph) Compile() (*Compiled, error) {
	if g.entry == "" {
		return nil, fmt.Errorf("graph: no entry step set")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("graph: entry step %q is not registered", g.entry)
	}
	for id := range g.nodes {
		if _, ok := g.edges[id]; !ok {
			return nil, fmt.Errorf("graph: step %q has no outgoing edges", id)
		}
	}
	for from, e := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("graph: edge from unregistered step %q", from)
		}
		for _, target := range e.targets {
			if target == domain.StepSuspend || target == domain.StepEnd {
				continue
			}
			if _, ok := g.nodes[target]; !ok {
				return nil, fmt.Errorf("graph: edge %q -> %q points to unregistered step", from, target)
			}
		}
	}
	return &Compiled{entry: g.entry, nodes: g.nodes, edges: g.edges}, nil
}

// Has reports whether a step id is registered. The executor uses it to
// sanity-check resume pointers coming out of persisted state.
func (c *Compiled) Has(id domain.StepID) bool {
	_, ok := c.nodes[id]
	return ok
}

// Entry returns the entry step.
func (c *Compiled) Entry() domain.StepID {
	return c.entry
}
