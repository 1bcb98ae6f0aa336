package kernel

// ----------------------------- Match tree -----------------------------------

// Block is an ordered run of sibling nodes.
type Block []*Node

// NamedExpr is one name=expression argument.
type NamedExpr struct {
	Name string
	Expr *Expr
}

// Node is one matched tag occurrence. ID binds it to its render handler,
// Pos is its byte offset in the template source. The remaining fields hold
// whatever the tag's syntax captured.
type Node struct {
	ID     int
	Pos    int
	Name   string
	Args   []string
	Values []*Expr
	Named  []NamedExpr
	Blocks []Block
	Text   string
	Flag   bool
	Data   any
}

// Block returns the i-th captured block, or nil.
func (n *Node) Block(i int) Block {
	if i < 0 || i >= len(n.Blocks) {
		return nil
	}
	return n.Blocks[i]
}

// Walk visits every node of b depth-first.
func (b Block) Walk(fn func(*Node) bool) {
	for _, n := range b {
		if !fn(n) {
			continue
		}
		for _, child := range n.Blocks {
			child.Walk(fn)
		}
	}
}
