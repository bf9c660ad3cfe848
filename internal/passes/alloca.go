package passes

import (
	"splitkernel/internal/diag"
	"splitkernel/internal/ir"
)

// allocaLoweringPass implements §4.3. Once the kernel has any
// post-barrier block, every stack allocation in it becomes a heap
// allocation, whether or not that particular allocation crosses a
// barrier: each subkernel is its own procedure activation, so a stack
// frame would otherwise vanish between the subkernel that allocates and
// the one that later touches the same memory. If the kernel has no
// barrier at all (B is empty) there is nothing to cross, so the pass is
// a no-op.
type allocaLoweringPass struct{}

func (allocaLoweringPass) Name() string { return "alloca-lowering" }

func (allocaLoweringPass) Run(m *ir.Module, k *ir.Function, _ Options, rep *diag.Reporter) {
	if !hasPostBarrierBlock(k) {
		return
	}

	var allocas []*ir.AllocaInstr
	var starts []*ir.LifetimeStartInstr
	var ends []*ir.LifetimeEndInstr
	for _, b := range k.Blocks {
		for _, in := range b.Instrs {
			switch v := in.(type) {
			case *ir.AllocaInstr:
				allocas = append(allocas, v)
			case *ir.LifetimeStartInstr:
				starts = append(starts, v)
			case *ir.LifetimeEndInstr:
				ends = append(ends, v)
			}
		}
	}

	for _, a := range allocas {
		a.IsHeap = true
	}

	// §4.3 decides this per allocation: an alloca with its own lifetime
	// markers is freed exactly where those markers say, but an alloca the
	// kernel never bracketed with markers still needs freeing before
	// every return, independent of whether some *other* alloca in the
	// same kernel happens to have markers.
	marked := map[*ir.AllocaInstr]bool{}
	for _, e := range ends {
		if a, ok := e.Ptr.(*ir.AllocaInstr); ok {
			marked[a] = true
		}
	}
	for _, s := range starts {
		removeInstr(s)
	}
	for _, e := range ends {
		replaceWithDealloc(k, e)
	}

	var unmarked []*ir.AllocaInstr
	for _, a := range allocas {
		if !marked[a] {
			unmarked = append(unmarked, a)
		}
	}
	for _, b := range k.Blocks {
		if _, ok := b.Term.(*ir.RetTerm); !ok {
			continue
		}
		for _, a := range unmarked {
			b.Append(newDealloc(k, a))
		}
	}
	_ = m
	_ = rep
}

func hasPostBarrierBlock(k *ir.Function) bool {
	for _, b := range k.Blocks {
		if b.PostBarrier {
			return true
		}
	}
	return false
}

func newDealloc(k *ir.Function, ptr ir.Value) *ir.DeallocInstr {
	d := &ir.DeallocInstr{Ptr: ptr}
	d.SetName(freshName(k, "dealloc"))
	ir.SetType(d, ir.VoidType{})
	ir.AssignID(d, k)
	return d
}

func replaceWithDealloc(k *ir.Function, end *ir.LifetimeEndInstr) {
	b := end.Block()
	d := newDealloc(k, end.Ptr)
	insertBefore(b, end, d)
	removeInstr(end)
}
