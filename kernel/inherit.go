package kernel

import (
	"context"
	"io"
)

// ----------------------------- Block / Extends ------------------------------

// RenderOverridable renders the block name with body as its own content.
// At top level the body is written directly. Inside an extends chain the body
// is rendered privately and stored in the shared registry at the context's
// inheritance level, then the most derived content for name is written.
func (k *Kernel) RenderOverridable(r *Result, name string, body Block, ctx *Context, w io.Writer) error {
	if ctx.TopLevel() {
		return k.RenderBlock(r, body, ctx, w)
	}

	prev := ctx.block
	ctx.block = name
	text, err := k.RenderString(r, body, ctx)
	ctx.block = prev
	if err != nil {
		return err
	}

	ctx.blocks.Store(name, text, ctx.level)
	winner, _ := ctx.blocks.Lookup(name)
	_, err = io.WriteString(w, winner)
	return err
}

// Extend renders the template parent with body's blocks overriding its own,
// in three passes:
//
//  1. parent alone, output discarded, so its blocks become block.super;
//  2. body, output discarded, storing the overriding blocks;
//  3. parent again into w, substituting the stored blocks.
//
// Passes 1 and 2 run on forks of ctx: apart from block contents nothing they
// do (bindings, cycle positions, change memory) is visible to pass 3.
func (k *Kernel) Extend(r *Result, parent string, body Block, ctx *Context, w io.Writer) error {
	prevBlocks, prevLevel := ctx.blocks, ctx.level
	if ctx.blocks == nil {
		ctx.blocks = NewBlockRegistry()
	}
	defer func() { ctx.blocks, ctx.level = prevBlocks, prevLevel }()

	k.opts.Logger.Debug(context.Background(), "extending template",
		"template", r.Name, "parent", parent, "level", prevLevel)

	base := ctx.fork()
	base.level = prevLevel + 1
	if err := k.RenderPath(parent, base, io.Discard); err != nil {
		return err
	}

	if err := k.RenderBlock(r, body, ctx.fork(), io.Discard); err != nil {
		return err
	}

	ctx.level = prevLevel + 1
	return k.RenderPath(parent, ctx, w)
}
