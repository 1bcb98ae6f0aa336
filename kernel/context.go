package kernel

import (
	"maps"
	"math"
	"slices"

	"github.com/oarkflow/synth/value"
)

// ----------------------------- Context --------------------------------------

// Position identifies one tag occurrence: the template it lives in and its
// byte offset. State keyed by Position survives repeated renders of the same
// occurrence (loop bodies, inheritance passes).
type Position struct {
	Template string
	Offset   int
}

// Context is the scoped name to Value mapping of one render plus the
// per-position auxiliary state. Copy gives value semantics for bindings and
// settings; the position state and the block registry are shared by
// reference, so a cycle keeps counting across with, for and include scopes.
type Context struct {
	vars       map[string]value.Value
	autoescape bool
	settings   map[string]string
	state      *positionState

	blocks *BlockRegistry
	block  string // innermost block being rendered, for block.super
	level  int    // inheritance level, 0 for the most derived template
	depth  int    // include/extends recursion depth
}

// NewContext creates a context with autoescape on.
func NewContext(vars map[string]value.Value) *Context {
	ctx := &Context{
		vars:       make(map[string]value.Value, len(vars)),
		autoescape: true,
		state:      &positionState{},
	}
	maps.Copy(ctx.vars, vars)
	return ctx
}

// Get looks up a binding. Absence is reported, never an error.
func (c *Context) Get(name string) (value.Value, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Set inserts or replaces a binding.
func (c *Context) Set(name string, v value.Value) { c.vars[name] = v }

// Delete removes a binding.
func (c *Context) Delete(name string) { delete(c.vars, name) }

// Names returns the bound names in sorted order.
func (c *Context) Names() []string {
	return slices.Sorted(maps.Keys(c.vars))
}

// Copy returns a new scope. Bindings and settings are copied; the
// position-keyed state and the block registry are shared.
func (c *Context) Copy() *Context {
	cp := *c
	cp.vars = maps.Clone(c.vars)
	cp.settings = maps.Clone(c.settings)
	cp.state = c.positions()
	return &cp
}

// fork is Copy with private position state, for renders whose side effects
// must not be observed afterwards.
func (c *Context) fork() *Context {
	cp := c.Copy()
	st := c.positions()
	cp.state = &positionState{
		cycles:  maps.Clone(st.cycles),
		changes: maps.Clone(st.changes),
	}
	return cp
}

// IncludeScope returns the context for an included template: a copy outside
// any extends chain, with no bindings when only is set.
func (c *Context) IncludeScope(only bool) *Context {
	cp := c.Copy()
	cp.blocks, cp.block, cp.level = nil, "", 0
	if only {
		cp.vars = make(map[string]value.Value)
	}
	return cp
}

// TopLevel reports whether no extends chain is in progress.
func (c *Context) TopLevel() bool { return c.blocks == nil }

// Autoescape reports whether variable output is escaped.
func (c *Context) Autoescape() bool { return c.autoescape }

// SetAutoescape switches escaping and returns the previous setting.
func (c *Context) SetAutoescape(on bool) bool {
	prev := c.autoescape
	c.autoescape = on
	return prev
}

// Setting returns a dialect runtime setting such as an SSI error message.
func (c *Context) Setting(key string) (string, bool) {
	s, ok := c.settings[key]
	return s, ok
}

// SetSetting stores a dialect runtime setting.
func (c *Context) SetSetting(key, val string) {
	if c.settings == nil {
		c.settings = make(map[string]string)
	}
	c.settings[key] = val
}

// Blocks returns the shared block registry, nil at top level.
func (c *Context) Blocks() *BlockRegistry { return c.blocks }

// CurrentBlock names the innermost block being rendered.
func (c *Context) CurrentBlock() string { return c.block }

// Cycle returns the next index for the cycle at pos and advances it modulo n.
func (c *Context) Cycle(pos Position, n int) int {
	if n <= 0 {
		return 0
	}
	st := c.positions()
	if st.cycles == nil {
		st.cycles = make(map[Position]int)
	}
	cur := st.cycles[pos] % n
	st.cycles[pos] = (cur + 1) % n
	return cur
}

// Changed compares snapshot with the value remembered at pos. When they
// differ, or nothing was remembered, it stores snapshot and reports true.
func (c *Context) Changed(pos Position, snapshot value.Value) bool {
	st := c.positions()
	if prev, ok := st.changes[pos]; ok && value.Equal(prev, snapshot) {
		return false
	}
	if st.changes == nil {
		st.changes = make(map[Position]value.Value)
	}
	st.changes[pos] = snapshot
	return true
}

// ForgetChange drops the value remembered at pos, so the next Changed there
// reports true.
func (c *Context) ForgetChange(pos Position) {
	delete(c.positions().changes, pos)
}

type positionState struct {
	cycles  map[Position]int
	changes map[Position]value.Value
}

func (c *Context) positions() *positionState {
	if c.state == nil {
		c.state = &positionState{}
	}
	return c.state
}

// ----------------------------- Block registry -------------------------------

// BlockRegistry holds the overridable block contents of one extends chain,
// one text per block name and inheritance level. The most derived template
// (lowest level) wins; the next less derived level is its block.super.
type BlockRegistry struct {
	entries map[string]map[int]string
}

// NewBlockRegistry creates an empty registry.
func NewBlockRegistry() *BlockRegistry {
	return &BlockRegistry{entries: make(map[string]map[int]string)}
}

// Store records the text the template at level rendered for name.
func (b *BlockRegistry) Store(name, text string, level int) {
	levels, ok := b.entries[name]
	if !ok {
		levels = make(map[int]string)
		b.entries[name] = levels
	}
	levels[level] = text
}

// Lookup returns the winning text for name.
func (b *BlockRegistry) Lookup(name string) (string, bool) {
	return b.nearest(name, math.MinInt)
}

// Super returns the text stored for name by the nearest template less
// derived than level.
func (b *BlockRegistry) Super(name string, level int) (string, bool) {
	return b.nearest(name, level)
}

func (b *BlockRegistry) nearest(name string, above int) (string, bool) {
	if b == nil {
		return "", false
	}
	best, text, found := 0, "", false
	for lvl, t := range b.entries[name] {
		if lvl > above && (!found || lvl < best) {
			best, text, found = lvl, t, true
		}
	}
	return text, found
}

// Names lists the stored blocks in sorted order.
func (b *BlockRegistry) Names() []string {
	if b == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(b.entries))
}
