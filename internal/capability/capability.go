// Package capability negotiates which MCP primitives (tools, prompts,
// resources, sampling, logging, roots, progress) are active for a session
// once client and server capability sets are both known, via a small rule
// table rather than hardcoded if-chains.
//
// No pack example repo models MCP-style two-sided capability negotiation;
// this is a small, self-contained rule table with no natural library
// surface, so it is built directly on the standard library.
package capability

import "mcpcore/internal/mcp"

// Rule describes how a single capability is decided from the client's and
// server's advertised capability sets.
type Rule int

const (
	// RequireBoth activates the capability only if both sides advertise it.
	RequireBoth Rule = iota
	// RequireClient activates the capability whenever the client advertises
	// it, regardless of the server.
	RequireClient
	// RequireServer activates the capability whenever the server advertises
	// it, regardless of the client.
	RequireServer
	// Optional activates the capability if either side advertises it.
	Optional
	// Custom defers the decision to a caller-supplied function.
	Custom
)

// CustomFunc decides activation for a Custom rule.
type CustomFunc func(client, server *mcp.Capabilities) bool

// Entry binds one capability name to the rule deciding its activation.
type Entry struct {
	Name   string
	Rule   Rule
	Custom CustomFunc
}

// Negotiator holds a table of capability Entries and evaluates them against
// a client/server capability pair.
type Negotiator struct {
	entries []Entry
}

// New builds a Negotiator from entries, evaluated in order.
func New(entries ...Entry) *Negotiator {
	return &Negotiator{entries: entries}
}

// DefaultNegotiator matches MCP's conventional capability shape: tools,
// prompts, resources and logging are server-owned; sampling and roots are
// client-owned; progress reporting is advertised opportunistically by
// either side.
func DefaultNegotiator() *Negotiator {
	return New(
		Entry{Name: "tools", Rule: RequireServer},
		Entry{Name: "prompts", Rule: RequireServer},
		Entry{Name: "resources", Rule: RequireServer},
		Entry{Name: "logging", Rule: RequireServer},
		Entry{Name: "sampling", Rule: RequireClient},
		Entry{Name: "roots", Rule: RequireClient},
		Entry{Name: "progress", Rule: Optional},
	)
}

// Result is the outcome of negotiating one Entry.
type Result struct {
	Name   string
	Active bool
}

// Negotiate evaluates every registered Entry against client and server
// capability sets, either of which may be nil (treated as "nothing
// advertised").
func (n *Negotiator) Negotiate(client, server *mcp.Capabilities) []Result {
	results := make([]Result, 0, len(n.entries))
	for _, e := range n.entries {
		results = append(results, Result{Name: e.Name, Active: n.evaluate(e, client, server)})
	}
	return results
}

func (n *Negotiator) evaluate(e Entry, client, server *mcp.Capabilities) bool {
	switch e.Rule {
	case RequireBoth:
		return has(client, e.Name) && has(server, e.Name)
	case RequireClient:
		return has(client, e.Name)
	case RequireServer:
		return has(server, e.Name)
	case Optional:
		return has(client, e.Name) || has(server, e.Name)
	case Custom:
		if e.Custom == nil {
			return false
		}
		return e.Custom(client, server)
	default:
		return false
	}
}

// has reports whether a capability set advertises the named primitive.
func has(caps *mcp.Capabilities, name string) bool {
	if caps == nil {
		return false
	}
	switch name {
	case "tools":
		return caps.Tools != nil
	case "prompts":
		return caps.Prompts != nil
	case "resources":
		return caps.Resources != nil
	case "logging":
		return caps.Logging != nil
	case "sampling":
		return caps.Sampling != nil
	case "roots":
		return caps.Roots != nil
	case "progress":
		return caps.Progress != nil
	default:
		return false
	}
}

// IsActive reports whether a named capability was activated within results.
func IsActive(results []Result, name string) bool {
	for _, r := range results {
		if r.Name == name {
			return r.Active
		}
	}
	return false
}
