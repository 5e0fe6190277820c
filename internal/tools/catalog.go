package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a fresh, unconfigured tool instance.
type Factory func() Tool

// Descriptor describes a registered tool for listings.
type Descriptor struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	ConfigSchema map[string]any `json:"configSchema"`
}

// Catalog is the registry of available tools. Ids ending in "-*" match any
// concrete id sharing the prefix before the asterisk.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a tool factory under the id its prototype reports.
func (c *Catalog) Register(factory Factory) {
	id := factory().ID()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.factories[id]; !exists {
		c.order = append(c.order, id)
	}
	c.factories[id] = factory
}

// List returns descriptors of every registered tool in registration order.
func (c *Catalog) List() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, 0, len(c.order))
	for _, id := range c.order {
		t := c.factories[id]()
		out = append(out, Descriptor{
			ID:           t.ID(),
			Name:         t.Name(),
			Description:  t.Description(),
			ConfigSchema: t.ConfigSchema(),
		})
	}
	return out
}

// IDs returns the registered ids sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}

// New returns a fresh instance of the tool matching id.
func (c *Catalog) New(id string) (Tool, error) {
	factory, ok := c.find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, id)
	}
	return factory(), nil
}

// Has reports whether a tool matches id.
func (c *Catalog) Has(id string) bool {
	_, ok := c.find(id)
	return ok
}

func (c *Catalog) find(id string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if factory, ok := c.factories[id]; ok {
		return factory, true
	}
	for _, registered := range c.order {
		if !strings.HasSuffix(registered, "-*") {
			continue
		}
		if strings.HasPrefix(id, strings.TrimSuffix(registered, "*")) {
			return c.factories[registered], true
		}
	}
	return nil, false
}

// Instantiate returns a configured instance of the tool matching id.
func (c *Catalog) Instantiate(id string, env Env) (Tool, error) {
	t, err := c.New(id)
	if err != nil {
		return nil, err
	}
	t.Configure(env)
	return t, nil
}

// LoadAll loads each tool and collects its actions. On failure every handle
// acquired so far is released. The returned release function releases all
// handles and is safe to call more than once.
func LoadAll(ctx context.Context, loaded []Tool) ([]Action, func(), error) {
	var handles []Handle
	release := func() {
		for i := len(handles) - 1; i >= 0; i-- {
			handles[i].Release()
		}
	}

	var actions []Action
	for _, t := range loaded {
		h, err := t.Load(ctx)
		if err != nil {
			release()
			return nil, func() {}, fmt.Errorf("load tool %s: %w", t.ID(), err)
		}
		handles = append(handles, h)
		built, err := h.BuildActions(ctx)
		if err != nil {
			release()
			return nil, func() {}, fmt.Errorf("build actions for %s: %w", t.ID(), err)
		}
		actions = append(actions, built...)
	}
	return actions, release, nil
}
