package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

// Action is one named capability the planner can request.
type Action interface {
	Spec() Spec
	Invoke(ctx context.Context, inv contractx.Invocation, args Args) (string, error)
}

type actionFunc struct {
	spec Spec
	fn   func(ctx context.Context, inv contractx.Invocation, args Args) (string, error)
}

func (a actionFunc) Spec() Spec { return a.spec }

func (a actionFunc) Invoke(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
	return a.fn(ctx, inv, args)
}

// NewAction adapts a function into an Action.
func NewAction(spec Spec, fn func(ctx context.Context, inv contractx.Invocation, args Args) (string, error)) Action {
	return actionFunc{spec: spec, fn: fn}
}

// Catalog is the fixed name to action mapping resolved at startup.
type Catalog struct {
	actions map[string]Action
	order   []string
}

func NewCatalog(actions ...Action) (*Catalog, error) {
	c := &Catalog{actions: make(map[string]Action, len(actions))}
	for _, a := range actions {
		if a == nil {
			return nil, errors.New("nil action")
		}
		name := strings.TrimSpace(a.Spec().Name)
		if name == "" {
			return nil, errors.New("action name is required")
		}
		if _, dup := c.actions[name]; dup {
			return nil, fmt.Errorf("action %q registered twice", name)
		}
		c.actions[name] = a
		c.order = append(c.order, name)
	}
	return c, nil
}

func (c *Catalog) Lookup(name string) (Action, bool) {
	a, ok := c.actions[name]
	return a, ok
}

func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// ToolInfos describes every action for model tool binding, in registration
// order.
func (c *Catalog) ToolInfos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(c.order))
	for _, name := range c.order {
		infos = append(infos, c.actions[name].Spec().ToolInfo())
	}
	return infos
}
