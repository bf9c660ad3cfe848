package passes

import (
	"fmt"

	"splitkernel/internal/diag"
	"splitkernel/internal/ir"
)

// synthesizeSubkernel implements §4.7, the core of the whole pass: it
// clones K wholesale, trims the clone down to exactly sk's blocks, and
// rewrites everything that made sense only in the context of the full
// kernel so the result is a free-standing procedure. Four things need
// fixing up, in dependency order:
//
//  1. signature — from_bb_id is appended after K's (already
//     dim-substituted) params, followed by a pointer to the
//     preserved-data record (only when the kernel's record has at least
//     one field), a pointer to the shared-vars record (only when the
//     kernel uses static shared globals) and the dynamic-shared byte
//     pointer (only when it uses a dynamic shared global).
//  2. shared-global accesses — every GlobalAddrInstr of a __shared__
//     global becomes a field address into static_shared or a cast of
//     dyn_shared.
//  3. cross-subkernel value uses — every operand that is a crossing
//     value of the kernel is replaced by a rematerialised
//     expression or a load from the preserved record, and every value
//     this subkernel defines that some other subkernel needs is stored
//     to the preserved record right after its definition.
//  4. control flow at the boundary — a terminator edge leaving sk is
//     replaced by building and returning the ⟨from_bb_id, next_sk_id⟩
//     pair; incoming edges at sk's own entry that originated outside
//     sk are resolved through a from_bb_id switch and one handler
//     block per distinct external predecessor, since which value a φ
//     there should take is exactly as path-dependent as the φ itself.
//
// Blocks the kernel never reaches from sk.Entry without crossing a
// barrier are pruned last, once nothing inside the kept blocks still
// references them.
func synthesizeSubkernel(k *ir.Function, sk *Subkernel, subs []*Subkernel, idx map[*ir.BasicBlock]*Subkernel, layout *KernelLayout, shared *SharedLayout, rep *diag.Reporter) *ir.Function {
	name := fmt.Sprintf("%s.sk%d", k.Name, sk.ID)
	nk, cm := ir.CloneFunction(k, name)

	fromIDParam := nk.AddParam("from_bb_id", ir.I32)

	var preservedParam *ir.Param
	if layout.RecordType != nil && len(layout.RecordType.Fields) > 0 {
		preservedParam = nk.AddParam("preserved", ir.PointerType{Elem: layout.RecordType})
	}
	var sharedParam *ir.Param
	if shared != nil && shared.RecordType != nil {
		sharedParam = nk.AddParam("static_shared", ir.PointerType{Elem: shared.RecordType})
	}
	var dynParam *ir.Param
	if shared != nil && shared.Dynamic != nil {
		dynParam = nk.AddParam("dyn_shared", ir.VoidPtr)
	}

	keep := map[*ir.BasicBlock]bool{}
	for _, b := range sk.Blocks {
		keep[cm.Blocks[b]] = true
	}

	rewriteSharedAccesses(nk, keep, shared, sharedParam, dynParam)

	fixupCrossingUses(nk, cm, layout, preservedParam, keep)
	if preservedParam != nil {
		emitLiveOutStores(nk, cm, layout, preservedParam, keep, sk)
	}

	buildSyntheticEntry(nk, cm, sk, layout, preservedParam, fromIDParam, keep)

	rewriteBoundaryTerminators(nk, cm, sk, idx, keep, rep)

	pruneBlocks(nk, keep)
	return nk
}

// rewriteSharedAccesses retargets every kept use of a __shared__
// global's address to a field of the shared-vars record or a cast of
// the dynamic-shared byte pointer (§4.6). Ordinary (non-shared)
// globals are left as GlobalAddrInstr — constant-expression flattening
// already made them plain instructions, and they stay rematerialisable
// exactly as-is in whichever subkernel needs them.
func rewriteSharedAccesses(nk *ir.Function, keep map[*ir.BasicBlock]bool, shared *SharedLayout, sharedParam, dynParam *ir.Param) {
	if shared == nil {
		return
	}
	for b := range keep {
		for _, in := range append([]ir.Instruction{}, b.Instrs...) {
			ga, ok := in.(*ir.GlobalAddrInstr)
			if !ok {
				continue
			}
			switch ga.G.Shared {
			case ir.StaticShared:
				if sharedParam == nil {
					continue
				}
				gep := &ir.GEPInstr{Base: sharedParam, Field: shared.FieldOf[ga.G]}
				finishAndPlace(nk, b, ga, gep, ga.Name(), ir.PointerType{Elem: ga.G.Elem})
				replaceAllUses(nk, ga, gep)
				removeInstr(ga)
			case ir.DynamicShared:
				if dynParam == nil {
					continue
				}
				bc := &ir.BitCastInstr{Value: dynParam}
				finishAndPlace(nk, b, ga, bc, ga.Name(), ir.PointerType{Elem: ga.G.Elem})
				replaceAllUses(nk, ga, bc)
				removeInstr(ga)
			}
		}
	}
}

// fixupCrossingUses rewrites, in every kept non-φ instruction and
// terminator, any operand that the layout marks as crossing (preserved
// or rematerialisable), including uses inside the subkernel that
// defines it. preservedParam is nil when the kernel has no preserved
// field; rematerialisable operands are rewritten all the same.
// φ nodes are left untouched here: their external edges are
// path-dependent and are resolved by buildSyntheticEntry instead.
func fixupCrossingUses(nk *ir.Function, cm *ir.CloneMap, layout *KernelLayout, preservedParam *ir.Param, keep map[*ir.BasicBlock]bool) {
	for b := range keep {
		for _, in := range append([]ir.Instruction{}, b.Instrs...) {
			if _, isPhi := in.(*ir.PhiInstr); isPhi {
				continue
			}
			for i, op := range in.Operands() {
				orig := cm.Orig(op)
				if !isCrossing(layout, orig) {
					continue
				}
				resolved := materializeCrossing(nk, cm, layout, preservedParam, b, in, orig)
				in.SetOperand(i, resolved)
			}
		}
		if b.Term != nil {
			for i, op := range b.Term.Operands() {
				orig := cm.Orig(op)
				if !isCrossing(layout, orig) {
					continue
				}
				resolved := materializeCrossing(nk, cm, layout, preservedParam, b, nil, orig)
				b.Term.SetOperand(i, resolved)
			}
		}
	}
}

func isCrossing(layout *KernelLayout, v ir.Value) bool {
	if layout.Remat[v] {
		return true
	}
	_, ok := layout.FieldOf[v]
	return ok
}

// materializeCrossing resolves a value known to cross a subkernel
// boundary into something usable right before "before" (or appended
// at the end of blk if before is nil): a rematerialised expression, or
// a load from the preserved record. A value that is neither — which
// should not happen for anything isCrossing reported true for — falls
// back to an explicit Undef rather than propagating a nil operand.
func materializeCrossing(nk *ir.Function, cm *ir.CloneMap, layout *KernelLayout, preservedParam *ir.Param, blk *ir.BasicBlock, before ir.Instruction, origV ir.Value) ir.Value {
	if layout.Remat[origV] {
		return rematerializeExpr(nk, cm, blk, before, origV)
	}
	if fi, ok := layout.FieldOf[origV]; ok && preservedParam != nil {
		gep := &ir.GEPInstr{Base: preservedParam, Field: fi}
		finishAndPlace(nk, blk, before, gep, freshName(nk, "presaddr"), ir.PointerType{Elem: origV.Type()})
		load := &ir.LoadInstr{Ptr: gep}
		finishAndPlace(nk, blk, before, load, freshName(nk, "presval"), origV.Type())
		return load
	}
	return ir.NewUndef(origV.Type())
}

// rematerializeExpr rebuilds origV's defining expression tree (from the
// un-pruned kernel k, reached through cm) freshly inside nk, right
// before "before". Every operand in a rematerialisable tree bottoms out
// at a Param, Const or Undef (that is what canRematerialize verified),
// so the only instruction kinds this ever needs to reconstruct are the
// pure combinational ones.
func rematerializeExpr(nk *ir.Function, cm *ir.CloneMap, blk *ir.BasicBlock, before ir.Instruction, origV ir.Value) ir.Value {
	switch v := origV.(type) {
	case *ir.Param:
		if mapped, ok := cm.Values[v]; ok {
			return mapped
		}
		return v
	case *ir.Const, *ir.Undef:
		return v
	case *ir.GlobalAddrInstr:
		n := &ir.GlobalAddrInstr{G: v.G}
		finishAndPlace(nk, blk, before, n, freshName(nk, "remat"), v.G.Type())
		return n
	case *ir.GEPInstr:
		base := rematerializeExpr(nk, cm, blk, before, v.Base)
		n := &ir.GEPInstr{Base: base, Field: v.Field}
		finishAndPlace(nk, blk, before, n, freshName(nk, "remat"), v.Type())
		return n
	case *ir.BitCastInstr:
		val := rematerializeExpr(nk, cm, blk, before, v.Value)
		n := &ir.BitCastInstr{Value: val}
		finishAndPlace(nk, blk, before, n, freshName(nk, "remat"), v.Type())
		return n
	case *ir.BinInstr:
		l := rematerializeExpr(nk, cm, blk, before, v.Lhs)
		r := rematerializeExpr(nk, cm, blk, before, v.Rhs)
		n := &ir.BinInstr{Op: v.Op, Lhs: l, Rhs: r}
		finishAndPlace(nk, blk, before, n, freshName(nk, "remat"), v.Type())
		return n
	case *ir.CmpInstr:
		l := rematerializeExpr(nk, cm, blk, before, v.Lhs)
		r := rematerializeExpr(nk, cm, blk, before, v.Rhs)
		n := &ir.CmpInstr{Pred: v.Pred, Lhs: l, Rhs: r}
		finishAndPlace(nk, blk, before, n, freshName(nk, "remat"), ir.I1)
		return n
	case *ir.BuildPairInstr:
		f := rematerializeExpr(nk, cm, blk, before, v.From)
		nx := rematerializeExpr(nk, cm, blk, before, v.Next)
		n := &ir.BuildPairInstr{From: f, Next: nx}
		finishAndPlace(nk, blk, before, n, freshName(nk, "remat"), ir.PairType)
		return n
	case *ir.ExtractPairInstr:
		p := rematerializeExpr(nk, cm, blk, before, v.Pair)
		n := &ir.ExtractPairInstr{Pair: p, Index: v.Index}
		finishAndPlace(nk, blk, before, n, freshName(nk, "remat"), ir.I32)
		return n
	case *ir.IndexInstr:
		base := rematerializeExpr(nk, cm, blk, before, v.Base)
		idx := rematerializeExpr(nk, cm, blk, before, v.Index)
		n := &ir.IndexInstr{Base: base, Index: idx, ElemType: v.ElemType}
		finishAndPlace(nk, blk, before, n, freshName(nk, "remat"), v.Type())
		return n
	default:
		return ir.NewUndef(origV.Type())
	}
}

// emitLiveOutStores writes every preserved-record field this subkernel
// is responsible for defining, right after the defining clone (after
// the block's leading φ nodes when the clone is itself a φ), so a
// later subkernel reading that field through materializeCrossing
// always observes the value this subkernel computed (§4.6).
func emitLiveOutStores(nk *ir.Function, cm *ir.CloneMap, layout *KernelLayout, preservedParam *ir.Param, keep map[*ir.BasicBlock]bool, sk *Subkernel) {
	for fi, v := range layout.Preserved {
		instr, ok := v.(ir.Instruction)
		if !ok {
			continue
		}
		if layout.BlockSK[instr.Block()] != sk {
			continue
		}
		clone, ok := cm.Values[v].(ir.Instruction)
		if !ok || !keep[clone.Block()] {
			continue
		}
		var before ir.Instruction
		passed := false
		for _, in := range clone.Block().Instrs {
			if _, isPhi := in.(*ir.PhiInstr); passed && !isPhi {
				before = in
				break
			}
			passed = passed || in == clone
		}
		gep := &ir.GEPInstr{Base: preservedParam, Field: fi}
		finishAndPlace(nk, clone.Block(), before, gep, freshName(nk, "presaddr"), ir.PointerType{Elem: v.Type()})
		store := &ir.StoreInstr{Ptr: gep, Val: clone}
		finishAndPlace(nk, clone.Block(), before, store, "", ir.VoidType{})
	}
}

// buildSyntheticEntry inserts a from_bb_id dispatch in front of sk's
// cloned entry block whenever that block has a φ fed by a predecessor
// whose edge rewriteBoundaryTerminators is about to sever. That happens
// for every predecessor once sk.Entry is itself a post-barrier block —
// including a predecessor that lives inside sk itself, such as a loop
// body's back-edge into its own post-barrier header (spec §8 scenario
// (c)): that edge becomes a trampoline return just like a genuinely
// external one, so its φ value needs exactly the same from_bb_id
// dispatch treatment. sk.Entry is only ever not post-barrier for the
// subkernel seeded at the original function entry, which nothing
// branches into from outside, so there is nothing to synthesize there.
// One handler block is built per distinct predecessor; it resolves that
// predecessor's incoming value for every affected φ (via the same
// rematerialise-or-load machinery as any other crossing value) and
// falls through into the real entry. A from_bb_id that matches none of
// the cases (the driver's very first call into this subkernel) falls to
// the entry directly.
func buildSyntheticEntry(nk *ir.Function, cm *ir.CloneMap, sk *Subkernel, layout *KernelLayout, preservedParam, fromIDParam *ir.Param, keep map[*ir.BasicBlock]bool) {
	entryClone := cm.Blocks[sk.Entry]
	phis := entryClone.Phis()
	if len(phis) == 0 {
		return
	}
	if !sk.Entry.PostBarrier {
		return
	}

	var extPreds []*ir.BasicBlock
	seen := map[*ir.BasicBlock]bool{}
	for _, phi := range phis {
		for _, e := range phi.Incoming {
			origPred := cm.NewBlock[e.Pred]
			if origPred == nil || seen[origPred] {
				continue
			}
			seen[origPred] = true
			extPreds = append(extPreds, origPred)
		}
	}
	if len(extPreds) == 0 {
		return
	}

	se := nk.NewBlock(freshName(nk, "synentry"))
	keep[se] = true
	sw := &ir.SwitchTerm{Value: fromIDParam, Default: entryClone}

	for _, origPred := range extPreds {
		predClone := cm.Blocks[origPred]
		h := nk.NewBlock(freshName(nk, "fromhandler"))
		keep[h] = true
		for _, phi := range phis {
			var val ir.Value
			for _, e := range phi.Incoming {
				if e.Pred == predClone {
					val = e.Value
					break
				}
			}
			if val == nil {
				continue
			}
			resolved := materializeCrossing(nk, cm, layout, preservedParam, h, nil, cm.Orig(val))
			phi.RemoveIncoming(predClone)
			phi.AddIncoming(h, resolved)
		}
		h.SetTerm(&ir.BrTerm{Target: entryClone})
		sw.AddCase(int64(origPred.ID()), h)
	}

	se.SetTerm(sw)
	moveBlockToFront(nk, se)
}

// rewriteBoundaryTerminators replaces every kept terminator edge whose
// target is a post-barrier block with code that builds and returns the
// ⟨from_bb_id, next_sk_id⟩ pair (§3, §4.7). The target's PostBarrier bit,
// not its subkernel membership, decides whether an edge crosses: a loop
// whose body re-enters its own post-barrier entry (spec §8 scenario (c))
// must still return through the trampoline on every iteration, one
// thread completing the barrier before the next one starts, even though
// "next" happens to equal sk's own ID. A plain Br crossing the boundary
// is replaced outright since a single successor needs no branch at all
// once it is a return. A CondBr may cross on one arm, both, or neither;
// whichever arm crosses gets a tiny exit block of its own so the
// surviving conditional structure is preserved. A switch, indirect or
// unwind terminator in a kept block of the kernel is not supported by
// this stage, whatever its targets, and is reported as fatal rather
// than silently mishandled. Blocks that synthesis itself added (the
// from_bb_id dispatch block, its handlers and arm exit blocks) have no
// original block and are left as they are.
func rewriteBoundaryTerminators(nk *ir.Function, cm *ir.CloneMap, sk *Subkernel, idx map[*ir.BasicBlock]*Subkernel, keep map[*ir.BasicBlock]bool, rep *diag.Reporter) {
	for b := range keep {
		origFrom := cm.NewBlock[b]
		if origFrom == nil {
			continue
		}
		switch t := b.Term.(type) {
		case *ir.RetTerm:
			pair := buildExitPair(nk, b, int64(origFrom.ID()), -1)
			b.SetTerm(&ir.RetTerm{Values: []ir.Value{pair}})

		case *ir.BrTerm:
			origTarget := cm.NewBlock[t.Target]
			if !origTarget.PostBarrier {
				continue
			}
			targetSK := idx[origTarget]
			pair := buildExitPair(nk, b, int64(origFrom.ID()), int64(targetSK.ID))
			b.SetTerm(&ir.RetTerm{Values: []ir.Value{pair}})

		case *ir.CondBrTerm:
			newTrue, changedT := crossingArm(nk, b, origFrom, t.True, cm, idx, keep)
			newFalse, changedF := crossingArm(nk, b, origFrom, t.False, cm, idx, keep)
			if changedT || changedF {
				b.SetTerm(&ir.CondBrTerm{Cond: t.Cond, True: newTrue, False: newFalse})
			}

		case *ir.SwitchTerm:
			rep.Errorf("kernel %q: a switch terminator reaching a barrier boundary is not supported", nk.Name)

		case *ir.IndirectTerm:
			rep.Errorf("kernel %q: an indirect branch reaching a barrier boundary is not supported", nk.Name)

		case *ir.UnwindTerm:
			rep.Errorf("kernel %q: an unwind terminator reaching a barrier boundary is not supported", nk.Name)
		}
	}
}

// crossingArm returns the successor a CondBr arm should use: unchanged
// if target is not a post-barrier block, or a fresh exit block that
// returns the right pair (possibly back to sk's own ID, for a loop
// re-entering its own post-barrier entry) if target is one.
func crossingArm(nk *ir.Function, from *ir.BasicBlock, origFrom *ir.BasicBlock, target *ir.BasicBlock, cm *ir.CloneMap, idx map[*ir.BasicBlock]*Subkernel, keep map[*ir.BasicBlock]bool) (*ir.BasicBlock, bool) {
	origTarget := cm.NewBlock[target]
	if !origTarget.PostBarrier {
		return target, false
	}
	targetSK := idx[origTarget]
	thunk := nk.NewBlock(freshName(nk, "exit"))
	keep[thunk] = true
	pair := buildExitPair(nk, thunk, int64(origFrom.ID()), int64(targetSK.ID))
	thunk.SetTerm(&ir.RetTerm{Values: []ir.Value{pair}})
	return thunk, true
}

func buildExitPair(nk *ir.Function, blk *ir.BasicBlock, from, next int64) ir.Value {
	p := &ir.BuildPairInstr{From: ir.ConstInt(ir.I32, from), Next: ir.ConstInt(ir.I32, next)}
	finishAndPlace(nk, blk, nil, p, freshName(nk, "pair"), ir.PairType)
	return p
}

// pruneBlocks erases every block of nk that synthesis did not mark for
// keeping: everything belonging to a different subkernel, now that
// every reference into it has been resolved into a preserved-record
// load, a rematerialised expression, or a returned pair.
func pruneBlocks(nk *ir.Function, keep map[*ir.BasicBlock]bool) {
	var drop []*ir.BasicBlock
	for _, b := range nk.Blocks {
		if !keep[b] {
			drop = append(drop, b)
		}
	}
	for _, b := range drop {
		nk.RemoveBlock(b)
	}
}
