package passes

import (
	"splitkernel/internal/diag"
	"splitkernel/internal/intrinsics"
	"splitkernel/internal/ir"
)

// barrierSplitPass implements §4.2: every block containing a call to
// the synchronisation barrier is split immediately after that call, the
// barrier itself is erased, and the new block is marked PostBarrier. A
// block can hold more than one barrier in sequence, so splitting runs
// as a worklist rather than a single pass over k.Blocks, re-checking
// every freshly created block for a further barrier before moving on.
type barrierSplitPass struct{}

func (barrierSplitPass) Name() string { return "barrier-split" }

func (barrierSplitPass) Run(m *ir.Module, k *ir.Function, _ Options, rep *diag.Reporter) {
	work := append([]*ir.BasicBlock{}, k.Blocks...)
	for len(work) > 0 {
		b := work[0]
		work = work[1:]

		idx := -1
		for i, in := range b.Instrs {
			if call, ok := in.(*ir.CallInstr); ok && intrinsics.IsBarrier(call.Intrinsic) {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}

		next := splitAfterBarrier(k, b, idx)
		work = append(work, next)
	}
	_ = m
	_ = rep
}

// splitAfterBarrier erases the barrier call at b.Instrs[idx], moves
// everything after it (plus b's original terminator) into a fresh
// successor block, and retargets any φ edges in b's old successors
// that named b as their predecessor. It returns the new block so the
// caller can re-check it for a further barrier.
func splitAfterBarrier(k *ir.Function, b *ir.BasicBlock, idx int) *ir.BasicBlock {
	tail := append([]ir.Instruction{}, b.Instrs[idx+1:]...)
	oldTerm := b.Term

	next := k.InsertBlockAfter(b, freshName(k, "postbarrier"))
	next.PostBarrier = true

	b.Instrs = b.Instrs[:idx]
	for _, in := range tail {
		next.Append(in)
	}
	next.SetTerm(oldTerm)
	b.SetTerm(&ir.BrTerm{Target: next})

	for _, succ := range next.Succs() {
		for _, phi := range succ.Phis() {
			phi.RetargetIncoming(b, next)
		}
	}
	return next
}
