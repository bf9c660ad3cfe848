package passes

import "splitkernel/internal/ir"

// replaceAllUses rewrites every operand of every instruction and
// terminator in fn that currently points at old to point at new
// instead. It is the workhorse behind dim-source substitution, the
// shared-global rewrite in subkernel synthesis and inline splicing.
func replaceAllUses(fn *ir.Function, old, new ir.Value) {
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			for i, v := range in.Operands() {
				if v == old {
					in.SetOperand(i, new)
				}
			}
		}
		if b.Term != nil {
			for i, v := range b.Term.Operands() {
				if v == old {
					b.Term.SetOperand(i, new)
				}
			}
		}
	}
}

// insertBefore splices instr into b's instruction list immediately
// ahead of before, preserving the rest of the block's order. Built on
// the two exported single-ended insertion points (Prepend,
// InsertAfter) rather than touching b.Instrs directly, so the embedded
// setBlock bookkeeping stays inside the ir package.
func insertBefore(b *ir.BasicBlock, before, instr ir.Instruction) {
	idx := -1
	for i, in := range b.Instrs {
		if in == before {
			idx = i
			break
		}
	}
	if idx <= 0 {
		b.Prepend(instr)
		return
	}
	b.InsertAfter(b.Instrs[idx-1], instr)
}

// removeInstr deletes in from its own owning block's
// instruction list; a thin convenience over ir.BasicBlock.RemoveInstr
// that looks the block up from the instruction itself.
func removeInstr(in ir.Instruction) {
	if b := in.Block(); b != nil {
		b.RemoveInstr(in)
	}
}

// finishAndPlace backfills name/type/id on a raw-struct-literal
// instruction and inserts it into blk: right before "before" if given,
// otherwise appended at the block's end (i.e. immediately before its
// terminator). Every pass file downstream of constexpr.go that builds
// an instruction directly rather than through a Builder goes through
// this one function rather than repeating the three setup calls.
func finishAndPlace(fn *ir.Function, blk *ir.BasicBlock, before ir.Instruction, instr ir.Instruction, name string, typ ir.Type) {
	instr.SetName(name)
	ir.SetType(instr, typ)
	ir.AssignID(instr, fn)
	if before != nil {
		insertBefore(blk, before, instr)
		return
	}
	blk.Append(instr)
}

// moveBlockToFront relocates b to index 0 of fn.Blocks, the position
// Entry() reads from. Used once per subkernel synthesis to install the
// from_bb_id dispatch block as the synthesised procedure's real entry.
func moveBlockToFront(fn *ir.Function, b *ir.BasicBlock) {
	out := make([]*ir.BasicBlock, 0, len(fn.Blocks))
	out = append(out, b)
	for _, bb := range fn.Blocks {
		if bb != b {
			out = append(out, bb)
		}
	}
	fn.Blocks = out
}
