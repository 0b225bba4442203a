// Package tools implements the concrete backends behind the TOOL action
// (spec section 4.4): a small named Catalog of capabilities a thought's
// ActionSelectionResult can invoke directly, with no LLM function-calling
// indirection since the action and its arguments are already selected by
// the time internal/dispatch's ToolHandler reaches this package.
package tools

import (
	"context"
	"fmt"
)

// Tool is a single named capability runnable by the TOOL action.
type Tool interface {
	Name() string
	Run(ctx context.Context, args map[string]string) (string, error)
}

// Catalog dispatches a TOOL invocation by name to a registered Tool.
type Catalog struct {
	tools map[string]Tool
}

// NewCatalog builds a Catalog from the given tools, keyed by their own Name.
func NewCatalog(registered ...Tool) *Catalog {
	c := &Catalog{tools: make(map[string]Tool, len(registered))}
	for _, t := range registered {
		c.tools[t.Name()] = t
	}
	return c
}

// Run invokes the named tool with args, or fails if the name is unknown.
func (c *Catalog) Run(ctx context.Context, name string, args map[string]string) (string, error) {
	t, ok := c.tools[name]
	if !ok {
		return "", fmt.Errorf("tools: unknown tool %q", name)
	}
	return t.Run(ctx, args)
}

// Names lists the catalog's registered tool names, for diagnostics.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	return names
}

// DefaultCatalog returns the built-in tool set every agentd process wires
// into its side-effect sink: shell execution, local file access, and web
// page fetching.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		&ShellTool{Executor: &HostExecutor{}},
		&ReadFileTool{},
		&WriteFileTool{},
		&ListDirectoryTool{},
		&ReadURLTool{},
	)
}
