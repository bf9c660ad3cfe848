package ir

// CloneMap records the correspondence between a source function's blocks
// and values and their counterparts in a clone. Two parts of the pass
// build clones for very different reasons: subkernel synthesis (§4.7)
// clones K once per subkernel as the literal basis of the emitted
// procedure N, while inline splicing clones a callee (a subkernel or a
// dim3 helper) to paste its blocks into the caller. Both need the same old↔new correspondence, which is
// why it lives in the ir package rather than being reinvented per caller
// (§9, "cloning builds a fresh arena with a value-to-value remap").
type CloneMap struct {
	Blocks   map[*BasicBlock]*BasicBlock
	NewBlock map[*BasicBlock]*BasicBlock // new -> old, the inverse
	Values   map[Value]Value
	NewValue map[Value]Value // new -> old, the inverse
}

func newCloneMap() *CloneMap {
	return &CloneMap{
		Blocks:   map[*BasicBlock]*BasicBlock{},
		NewBlock: map[*BasicBlock]*BasicBlock{},
		Values:   map[Value]Value{},
		NewValue: map[Value]Value{},
	}
}

func (m *CloneMap) mapBlock(old, new *BasicBlock) {
	m.Blocks[old] = new
	m.NewBlock[new] = old
}

func (m *CloneMap) mapValue(old, new Value) {
	m.Values[old] = new
	m.NewValue[new] = old
}

// Orig returns the source value that new was cloned from, or new itself
// if it was not produced by cloning (constants and globals are shared,
// not cloned).
func (m *CloneMap) Orig(new Value) Value {
	if o, ok := m.NewValue[new]; ok {
		return o
	}
	return new
}

// CloneFunction duplicates src into a new function named newName.
// Block IDs are preserved verbatim from src: every per-subkernel clone of
// a given kernel K must agree on block-id numbering, since from_bb_id
// values produced by one synthesised subkernel are consumed by a switch
// inside another (§4.7). Instruction and parameter identities are fresh;
// callers use the returned CloneMap to translate between src's values and
// the clone's.
func CloneFunction(src *Function, newName string) (*Function, *CloneMap) {
	dst := &Function{Name: newName, RetType: src.RetType}
	cm := newCloneMap()

	for _, p := range src.Params {
		np := dst.AddParam(p.Name(), p.Type())
		cm.mapValue(p, np)
	}

	maxBlockID := BlockID(-1)
	for _, b := range src.Blocks {
		nb := &BasicBlock{id: b.id, name: b.name, fn: dst}
		dst.Blocks = append(dst.Blocks, nb)
		cm.mapBlock(b, nb)
		if b.id > maxBlockID {
			maxBlockID = b.id
		}
	}
	dst.nextBlockID = maxBlockID + 1

	for _, b := range src.Blocks {
		nb := cm.Blocks[b]
		for _, instr := range b.Instrs {
			ni := cloneInstr(dst, cm, instr)
			nb.Append(ni)
			cm.mapValue(instr, ni)
		}
	}

	// Second pass: fix up operands now that every value has a mapping,
	// and clone terminators (which may reference blocks defined later in
	// iteration order).
	for _, b := range src.Blocks {
		nb := cm.Blocks[b]
		for i, instr := range b.Instrs {
			ni := nb.Instrs[i]
			if p, ok := instr.(*PhiInstr); ok {
				np := ni.(*PhiInstr)
				for _, e := range p.Incoming {
					np.Incoming = append(np.Incoming, PhiEdge{
						Pred:  cm.Blocks[e.Pred],
						Value: cm.mapOperand(e.Value),
					})
				}
				continue
			}
			ops := instr.Operands()
			for oi, v := range ops {
				ni.SetOperand(oi, cm.mapOperand(v))
			}
		}
		nb.Term = cloneTerm(cm, b.Term)
	}

	return dst, cm
}

// mapOperand translates an operand through the clone map, leaving
// constants and globals untouched since they are not function-scoped.
func (m *CloneMap) mapOperand(v Value) Value {
	if v == nil {
		return nil
	}
	if nv, ok := m.Values[v]; ok {
		return nv
	}
	return v
}

func cloneInstr(dst *Function, cm *CloneMap, instr Instruction) Instruction {
	base := instrBase{valueBase: valueBase{id: dst.allocValueID(), typ: instr.Type(), name: instr.Name()}}
	switch in := instr.(type) {
	case *AllocaInstr:
		return &AllocaInstr{instrBase: base, ElemType: in.ElemType, Count: in.Count, IsHeap: in.IsHeap}
	case *LoadInstr:
		return &LoadInstr{instrBase: base, Ptr: in.Ptr}
	case *StoreInstr:
		return &StoreInstr{instrBase: base, Ptr: in.Ptr, Val: in.Val}
	case *BinInstr:
		return &BinInstr{instrBase: base, Op: in.Op, Lhs: in.Lhs, Rhs: in.Rhs}
	case *CmpInstr:
		return &CmpInstr{instrBase: base, Pred: in.Pred, Lhs: in.Lhs, Rhs: in.Rhs}
	case *CallInstr:
		return &CallInstr{instrBase: base, Callee: in.Callee, Intrinsic: in.Intrinsic, Args: append([]Value{}, in.Args...)}
	case *PhiInstr:
		return &PhiInstr{instrBase: base}
	case *GEPInstr:
		return &GEPInstr{instrBase: base, Base: in.Base, Field: in.Field}
	case *BitCastInstr:
		return &BitCastInstr{instrBase: base, Value: in.Value}
	case *LifetimeStartInstr:
		return &LifetimeStartInstr{instrBase: base, Ptr: in.Ptr}
	case *LifetimeEndInstr:
		return &LifetimeEndInstr{instrBase: base, Ptr: in.Ptr}
	case *DeallocInstr:
		return &DeallocInstr{instrBase: base, Ptr: in.Ptr}
	case *GlobalAddrInstr:
		return &GlobalAddrInstr{instrBase: base, G: in.G}
	case *BuildPairInstr:
		return &BuildPairInstr{instrBase: base, From: in.From, Next: in.Next}
	case *ExtractPairInstr:
		return &ExtractPairInstr{instrBase: base, Pair: in.Pair, Index: in.Index}
	case *IndexInstr:
		return &IndexInstr{instrBase: base, Base: in.Base, Index: in.Index, ElemType: in.ElemType}
	case *FuncAddrInstr:
		return &FuncAddrInstr{instrBase: base, Fn: in.Fn}
	default:
		panic("ir: cloneInstr: unhandled instruction kind")
	}
}

func cloneTerm(cm *CloneMap, term Terminator) Terminator {
	if term == nil {
		return nil
	}
	switch t := term.(type) {
	case *RetTerm:
		vals := make([]Value, len(t.Values))
		for i, v := range t.Values {
			vals[i] = cm.mapOperand(v)
		}
		return &RetTerm{Values: vals}
	case *BrTerm:
		return &BrTerm{Target: cm.Blocks[t.Target]}
	case *CondBrTerm:
		return &CondBrTerm{Cond: cm.mapOperand(t.Cond), True: cm.Blocks[t.True], False: cm.Blocks[t.False]}
	case *SwitchTerm:
		cases := make([]SwitchCase, len(t.Cases))
		for i, c := range t.Cases {
			cases[i] = SwitchCase{Val: c.Val, Target: cm.Blocks[c.Target]}
		}
		return &SwitchTerm{Value: cm.mapOperand(t.Value), Default: cm.Blocks[t.Default], Cases: cases}
	case *UnreachableTerm:
		return &UnreachableTerm{}
	case *IndirectTerm:
		return &IndirectTerm{}
	case *UnwindTerm:
		return &UnwindTerm{}
	default:
		panic("ir: cloneTerm: unhandled terminator kind")
	}
}
