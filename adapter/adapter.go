// Package adapter defines the capability the core requires of every debug
// adapter backend and ships one concrete implementation, delve, in both its
// external-subprocess and embedded-in-process forms.
package adapter

import (
	"encoding/json"

	"github.com/dlv-mcp/bridge/transport"
)

// LaunchParams are the domain-level inputs to a launch, before an Adapter
// translates them into its own DAP argument shape.
type LaunchParams struct {
	Program     string
	Args        []string
	Cwd         string
	Env         map[string]string
	StopOnEntry bool

	// Extra carries adapter-specific knobs (e.g. delve's build flags)
	// that don't have a cross-adapter name.
	Extra map[string]interface{}
}

// AttachParams are the domain-level inputs to an attach.
type AttachParams struct {
	Host      string
	Port      int
	ProcessID int
	Extra     map[string]interface{}
}

// Adapter is the capability the core requires of every debugger backend: a
// way to obtain a Transport, and a way to translate domain-level
// launch/attach inputs into the opaque `arguments` object DAP expects. The
// core never performs type switches across adapter implementations; every
// concrete adapter satisfies this one interface.
type Adapter interface {
	// Name is a short identifier, e.g. "delve".
	Name() string

	// AdapterID is the value placed in the DAP initialize request's
	// adapterID field.
	AdapterID() string

	// FileExtensions lists source extensions this adapter debugs, e.g.
	// [".go"].
	FileExtensions() []string

	// Aliases lists alternate names a session manager's registry may
	// resolve to this adapter.
	Aliases() []string

	// CreateTransport constructs (but does not connect) the Transport
	// this adapter uses for the given launch parameters.
	CreateTransport(params LaunchParams) (transport.Transport, error)

	// CreateAttachTransport is the attach counterpart of CreateTransport.
	CreateAttachTransport(params AttachParams) (transport.Transport, error)

	// GetLaunchArguments returns the opaque object to be serialized as
	// the `arguments` field of the DAP launch request.
	GetLaunchArguments(params LaunchParams) (json.RawMessage, error)

	// GetAttachArguments is the attach counterpart of GetLaunchArguments.
	GetAttachArguments(params AttachParams) (json.RawMessage, error)
}

// Registry is an explicit, init-once table of adapters, constructed at the
// composition root rather than populated by package-level init() /
// decorator-style global registration (per the design note on global
// state: populated once at program start, never mutated afterward).
type Registry struct {
	byName map[string]Adapter
}

// NewRegistry builds a Registry from a fixed set of adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byName: make(map[string]Adapter)}
	for _, a := range adapters {
		r.byName[a.Name()] = a
		for _, alias := range a.Aliases() {
			r.byName[alias] = a
		}
	}
	return r
}

// Lookup resolves name or alias to an Adapter.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	a, ok := r.byName[name]
	return a, ok
}
