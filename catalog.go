package analyst

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Catalog is the tool registry shared by both agent prompts and the dispatcher.
// Specs may be registered without a handler; such tools are advertised but
// dispatch reports them as not implemented.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]Tool
	specs map[string]ToolSpec
	order []string
}

// NewCatalog constructs a catalog seeded with the provided tools.
func NewCatalog(tools ...Tool) *Catalog {
	c := &Catalog{
		tools: make(map[string]Tool),
		specs: make(map[string]ToolSpec),
	}
	for _, tool := range tools {
		_ = c.Register(tool)
	}
	return c
}

func catalogKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register binds a handler. If a spec with the same name was already described
// the described spec wins, so loaded documents override built-in defaults.
func (c *Catalog) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool is nil")
	}
	spec := tool.Spec()
	key := catalogKey(spec.Name)
	if key == "" {
		return fmt.Errorf("tool name is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tools[key]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	c.tools[key] = tool
	if _, described := c.specs[key]; !described {
		c.specs[key] = spec
		c.order = append(c.order, key)
	}
	return nil
}

// Describe adds or replaces the advertised spec for a tool name.
func (c *Catalog) Describe(spec ToolSpec) error {
	key := catalogKey(spec.Name)
	if key == "" {
		return fmt.Errorf("tool name is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.specs[key]; !exists {
		c.order = append(c.order, key)
	}
	c.specs[key] = spec
	return nil
}

// Lookup returns the handler and its spec. ok is false when no handler is bound.
func (c *Catalog) Lookup(name string) (Tool, ToolSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key := catalogKey(name)
	tool, ok := c.tools[key]
	if !ok {
		return nil, ToolSpec{}, false
	}
	return tool, c.specs[key], true
}

// Specs returns a snapshot of the advertised specs in registration order.
func (c *Catalog) Specs() []ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(c.order))
	for _, key := range c.order {
		specs = append(specs, c.specs[key])
	}
	return specs
}

// Implemented reports whether a handler is bound for name.
func (c *Catalog) Implemented(name string) bool {
	_, _, ok := c.Lookup(name)
	return ok
}

// Summary renders the numbered capability list embedded in both system prompts.
func (c *Catalog) Summary() string {
	var sb strings.Builder
	for i, spec := range c.Specs() {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(". `")
		sb.WriteString(spec.Name)
		sb.WriteString("`: ")
		sb.WriteString(strings.TrimSpace(spec.Description))
	}
	return sb.String()
}
