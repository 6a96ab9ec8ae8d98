// Package executor selects one operation from the tool catalog for a
// plain-language instruction and invokes it, returning structured data.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"timeclerk/internal/logging"
)

// ParamSpec describes one operation parameter.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, date, integer, boolean
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// OperationSpec describes one callable external operation.
type OperationSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamSpec `json:"parameters"`
}

// InvokeFunc performs the upstream call for one operation.
type InvokeFunc func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// Catalog is the closed set of operations the executor may dispatch to.
// Lookup fails closed: a name not registered here is never invoked, no
// matter what the model returns.
type Catalog struct {
	mu  sync.RWMutex
	ops map[string]*registeredOp
	// order preserves registration order for prompt stability
	order []string
}

type registeredOp struct {
	spec   OperationSpec
	invoke InvokeFunc
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{ops: make(map[string]*registeredOp)}
}

// Register adds an operation to the catalog.
func (c *Catalog) Register(spec OperationSpec, invoke InvokeFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if spec.Name == "" {
		return fmt.Errorf("operation name cannot be empty")
	}
	if invoke == nil {
		return fmt.Errorf("operation %s has no invoke function", spec.Name)
	}
	if _, exists := c.ops[spec.Name]; exists {
		return fmt.Errorf("operation %s already registered", spec.Name)
	}

	c.ops[spec.Name] = &registeredOp{spec: spec, invoke: invoke}
	c.order = append(c.order, spec.Name)
	logging.ExecutorDebug("registered operation %s", spec.Name)
	return nil
}

// Operations returns the specs in registration order.
func (c *Catalog) Operations() []OperationSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]OperationSpec, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.ops[name].spec)
	}
	return out
}

// Invoke dispatches to a registered operation by name.
func (c *Catalog) Invoke(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	c.mu.RLock()
	op, ok := c.ops[name]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown operation %q", name)
	}
	return op.invoke(ctx, args)
}

// Has reports whether the operation name is registered.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ops[name]
	return ok
}

// describe renders the catalog for the selection prompt.
func (c *Catalog) describe() string {
	var b strings.Builder
	for _, spec := range c.Operations() {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
		for _, p := range spec.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "    %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}
	return b.String()
}
