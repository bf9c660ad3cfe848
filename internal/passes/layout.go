package passes

import "splitkernel/internal/ir"

// KernelLayout is the shared state every stage from subkernel synthesis
// onward reads: the partition into subkernels, the reverse block index,
// and the preserved-data layout computed by live-across analysis
// (§4.4-§4.6).
type KernelLayout struct {
	Subs    []*Subkernel
	BlockSK map[*ir.BasicBlock]*Subkernel

	// Preserved lists, in deterministic field order, every SSA value
	// that is defined in one subkernel and used in another and could
	// not be rematerialised. Preserved[i] is field i of RecordType.
	Preserved  []ir.Value
	FieldOf    map[ir.Value]int
	Remat      map[ir.Value]bool
	RecordType *ir.StructType
}

// crossingDef records one value defined in one subkernel and read from
// a different one, keyed for the deterministic sort buildLayout needs.
type crossingDef struct {
	v     ir.Value
	skID  int
	blkID int
	pos   int
}

// buildLayout runs live-across analysis over k's subkernel partition
// (§4.5) and lays out the preserved-data record R(K) (§4.6). Field
// order is by defining subkernel id, then defining block id, then
// position within the block — the same three-key order every run of
// the pass over the same input produces, so R(K)'s shape never depends
// on map iteration order.
func buildLayout(k *ir.Function, subs []*Subkernel) *KernelLayout {
	idx := blockSubkernelIndex(subs)

	var crossings []crossingDef
	seen := map[ir.Value]bool{}

	noteDef := func(v ir.Value, defSK *Subkernel) {
		if defSK == nil || seen[v] {
			return
		}
		seen[v] = true
		instr := v.(ir.Instruction)
		crossings = append(crossings, crossingDef{
			v:     v,
			skID:  defSK.ID,
			blkID: int(instr.Block().ID()),
			pos:   indexInBlock(instr),
		})
	}

	crossesBoundary := func(v ir.Value, useSK *Subkernel) (*Subkernel, bool) {
		instr, ok := v.(ir.Instruction)
		if !ok {
			return nil, false
		}
		defSK := idx[instr.Block()]
		return defSK, defSK != nil && defSK != useSK
	}

	for _, sk := range subs {
		for _, b := range sk.Blocks {
			for _, in := range b.Instrs {
				for _, op := range in.Operands() {
					if defSK, crosses := crossesBoundary(op, sk); crosses {
						noteDef(op, defSK)
					}
				}
			}
			if b.Term != nil {
				for _, op := range b.Term.Operands() {
					if defSK, crosses := crossesBoundary(op, sk); crosses {
						noteDef(op, defSK)
					}
				}
			}
		}
	}

	// Every incoming edge of a φ at a post-barrier entry is severed by
	// rewriteBoundaryTerminators, including a loop's own back-edge into
	// its own post-barrier header (spec §8 scenario (c)): the relaunch
	// between trampoline calls loses whatever SSA register held that
	// value, regardless of whether its defining subkernel happens to be
	// this one. Such a value needs a place to live across the relaunch
	// exactly like any other crossing value, so it cannot be filtered out
	// by the defSK != useSK check above, which only catches genuinely
	// external predecessors.
	var pureLeafPhiValues []ir.Value
	for _, sk := range subs {
		if !sk.Entry.PostBarrier {
			continue
		}
		for _, in := range sk.Entry.Instrs {
			phi, ok := in.(*ir.PhiInstr)
			if !ok {
				continue
			}
			for _, e := range phi.Incoming {
				if seen[e.Value] {
					continue
				}
				if instr, ok := e.Value.(ir.Instruction); ok {
					noteDef(e.Value, idx[instr.Block()])
				} else {
					seen[e.Value] = true
					pureLeafPhiValues = append(pureLeafPhiValues, e.Value)
				}
			}
		}
	}

	sortCrossings(crossings)

	layout := &KernelLayout{
		Subs:    subs,
		BlockSK: idx,
		Remat:   map[ir.Value]bool{},
	}

	memo := map[ir.Value]bool{}
	var fields []ir.Type
	fieldOf := map[ir.Value]int{}
	var preserved []ir.Value
	for _, c := range crossings {
		if canRematerialize(c.v, memo) {
			layout.Remat[c.v] = true
			continue
		}
		fieldOf[c.v] = len(fields)
		fields = append(fields, c.v.Type())
		preserved = append(preserved, c.v)
	}
	for _, v := range pureLeafPhiValues {
		layout.Remat[v] = true
	}

	layout.Preserved = preserved
	layout.FieldOf = fieldOf
	layout.RecordType = &ir.StructType{Name: k.Name + "_preserved", Fields: fields}
	return layout
}

func indexInBlock(instr ir.Instruction) int {
	b := instr.Block()
	for i, in := range b.Instrs {
		if in == instr {
			return i
		}
	}
	return 0
}

// sortCrossings orders by (subkernel id, block id, position) with a
// plain insertion sort: the crossing-value count per kernel is small
// enough that pulling in "sort" for it would be pure ceremony.
func sortCrossings(cs []crossingDef) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && crossingLess(cs[j], cs[j-1]); j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

func crossingLess(a, b crossingDef) bool {
	if a.skID != b.skID {
		return a.skID < b.skID
	}
	if a.blkID != b.blkID {
		return a.blkID < b.blkID
	}
	return a.pos < b.pos
}

// isPureLeaf identifies operand kinds that terminate a rematerialised
// expression tree without needing a defining subkernel of their own:
// they are available identically in every subkernel.
func isPureLeaf(v ir.Value) bool {
	switch v.(type) {
	case *ir.Param, *ir.Const, *ir.Undef:
		return true
	}
	return false
}

// canRematerialize reports whether v's whole defining expression tree
// can be recomputed at the point of use instead of stored in R(K)
// (§4.5's rematerialisation optimisation). Loads, calls, allocas and
// phis are never rematerialised: a load may observe state mutated by
// an intervening subkernel, a call is conservatively assumed impure
// (a purity attribute would let more calls qualify — see DESIGN.md),
// an alloca's address must stay the one identity the whole kernel
// shares, and a phi's value depends on which predecessor ran, which
// information does not survive past a subkernel boundary.
func canRematerialize(v ir.Value, memo map[ir.Value]bool) bool {
	if b, ok := memo[v]; ok {
		return b
	}
	if isPureLeaf(v) {
		memo[v] = true
		return true
	}
	instr, ok := v.(ir.Instruction)
	if !ok {
		memo[v] = false
		return false
	}
	switch instr.Kind() {
	case ir.KindGEP, ir.KindBitCast, ir.KindBin, ir.KindCmp, ir.KindGlobalAddr, ir.KindBuildPair, ir.KindExtractPair, ir.KindIndex:
		memo[v] = true
		for _, op := range instr.Operands() {
			if !canRematerialize(op, memo) {
				memo[v] = false
				return false
			}
		}
		return memo[v]
	default:
		memo[v] = false
		return false
	}
}
