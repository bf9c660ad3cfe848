package ir

// Preds computes the predecessor map for every block of f by scanning
// each block's terminator successors once. The map is computed on
// demand rather than maintained incrementally through every mutation;
// none of the passes calls it today (ir_test.go exercises it).
func Preds(f *Function) map[*BasicBlock][]*BasicBlock {
	preds := make(map[*BasicBlock][]*BasicBlock, len(f.Blocks))
	for _, b := range f.Blocks {
		preds[b] = nil
	}
	for _, b := range f.Blocks {
		for _, s := range b.Succs() {
			preds[s] = append(preds[s], b)
		}
	}
	return preds
}

// Reachable returns the set of blocks reachable from entry by following
// successor edges.
func Reachable(entry *BasicBlock) map[*BasicBlock]bool {
	seen := map[*BasicBlock]bool{}
	if entry == nil {
		return seen
	}
	stack := []*BasicBlock{entry}
	seen[entry] = true
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range b.Succs() {
			if !seen[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}
	return seen
}

// Postorder performs a DFS postorder traversal from entry, restricted to
// blocks for which allowed is nil or allowed[b] is true. Nothing in the
// module calls it today. It follows the same
// stack-of-(block,next-successor-index) shape the source repo's own
// dominance pass uses to avoid recursion blowing the Go stack on deep
// CFGs.
func Postorder(entry *BasicBlock, allowed map[*BasicBlock]bool) []*BasicBlock {
	type frame struct {
		b   *BasicBlock
		idx int
	}
	if entry == nil || (allowed != nil && !allowed[entry]) {
		return nil
	}
	seen := map[*BasicBlock]bool{entry: true}
	var order []*BasicBlock
	stack := []frame{{b: entry}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := top.b.Succs()
		if top.idx < len(succs) {
			s := succs[top.idx]
			top.idx++
			if s == nil || seen[s] || (allowed != nil && !allowed[s]) {
				continue
			}
			seen[s] = true
			stack = append(stack, frame{b: s})
			continue
		}
		order = append(order, top.b)
		stack = stack[:len(stack)-1]
	}
	return order
}
