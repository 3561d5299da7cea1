package ddbtype

import (
	"fmt"
	"strings"
	"sync"
)

// SetPrefix prefixes the name of a set type: "set:int" is a set of ints.
const SetPrefix = "set:"

// Registry resolves type names and aliases to definitions.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Builtins returns a new registry holding the standard types.
func Builtins() *Registry {
	r := NewRegistry()
	for _, def := range []Definition{
		Number, Float, Int, Decimal, Bool, Str, Bytes, Dict, List, DateTime, Date,
	} {
		r.Register(def)
	}
	return r
}

// Register adds def under its name and aliases. A later registration of the
// same name wins.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name()] = def
	for _, alias := range def.Aliases() {
		r.defs[alias] = def
	}
}

// nativeSets maps the DynamoDB set names to their element type.
var nativeSets = map[string]string{
	"SS": "str",
	"NS": "number",
	"BS": "bytes",
}

// Resolve looks up a type by name or alias. Set types resolve from their
// element type: "set:<elem>", or SS, NS and BS.
func (r *Registry) Resolve(name string) (Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}

	elemName, isSet := strings.CutPrefix(name, SetPrefix)
	if !isSet {
		elemName, isSet = nativeSets[name]
	}
	if isSet {
		elem, err := r.Resolve(elemName)
		if err != nil {
			return nil, err
		}
		return SetOf(elem)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// Coerce resolves name and coerces v with it.
func (r *Registry) Coerce(name string, v any, force bool) (any, error) {
	def, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return def.Coerce(v, force)
}

// Names lists the registered names and aliases.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	return names
}
