// Package commands implements the chat command tree: container nodes holding
// subcommands and leaf nodes running handlers. The tree is built by explicit
// constructor calls at startup.
package commands

import (
	"fmt"
	"strings"

	"xonbot/internal/cointoss"
)

// Context carries the identity of the issuing user and the reply channel of
// the surface the command arrived on (game chat or IRC).
type Context struct {
	Caller cointoss.Player
	Reply  func(lines []string)
}

// HandlerFunc runs one leaf command. A returned *cointoss.Error is a
// user-input problem and is shown verbatim to the caller; any other error is
// a system error for the dispatcher to log.
type HandlerFunc func(ctx *Context, args []string) error

// Node is one entry in the command tree, either a Container or a Leaf.
type Node interface {
	name() string
	usage() string
}

// Leaf is a runnable command.
type Leaf struct {
	Name    string
	Usage   string
	Handler HandlerFunc
}

func (l *Leaf) name() string  { return l.Name }
func (l *Leaf) usage() string { return l.Usage }

// Container groups subcommands under a common name. The root container has
// an empty name.
type Container struct {
	Name     string
	Usage    string
	children []Node
}

func (c *Container) name() string  { return c.Name }
func (c *Container) usage() string { return c.Usage }

// NewContainer creates an empty container node.
func NewContainer(name, usage string) *Container {
	return &Container{Name: name, Usage: usage}
}

// Add registers a child node. Later registrations with the same name are
// rejected; command names are unique within a container.
func (c *Container) Add(node Node) *Container {
	for _, existing := range c.children {
		if existing.name() == node.name() {
			panic(fmt.Sprintf("duplicate command %q under %q", node.name(), c.Name))
		}
	}
	c.children = append(c.children, node)
	return c
}

// AddLeaf is shorthand for Add(&Leaf{...}).
func (c *Container) AddLeaf(name, usage string, handler HandlerFunc) *Container {
	return c.Add(&Leaf{Name: name, Usage: usage, Handler: handler})
}

func (c *Container) find(name string) Node {
	for _, child := range c.children {
		if child.name() == name {
			return child
		}
	}
	return nil
}

// Help returns one usage line per direct child, in registration order.
func (c *Container) Help() []string {
	lines := make([]string, 0, len(c.children))
	for _, child := range c.children {
		lines = append(lines, child.usage())
	}
	return lines
}

// Dispatch resolves a tokenized command line against the tree and runs the
// matched leaf. Unknown commands are ignored (chat is full of lines that are
// not for us); a container matched without a runnable subcommand replies
// with its help.
func (c *Container) Dispatch(ctx *Context, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	node := c.find(strings.ToLower(fields[0]))
	if node == nil {
		return nil
	}
	switch n := node.(type) {
	case *Leaf:
		return n.Handler(ctx, fields[1:])
	case *Container:
		if len(fields) > 1 {
			if err := n.Dispatch(ctx, fields[1:]); err != nil {
				return err
			}
			return nil
		}
		ctx.Reply(n.Help())
		return nil
	default:
		return fmt.Errorf("unknown node type %T", node)
	}
}
