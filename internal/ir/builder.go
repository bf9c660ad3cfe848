package ir

// Builder provides ergonomic, position-tracking construction of
// instructions inside a single block at a time. The pass's own synthesis
// code (driver assembly, subkernel synthesis) builds IR through a Builder
// rather than poking at BasicBlock.Instrs directly; the textual parser
// builds instructions as struct literals and adds them with
// BasicBlock.Append.
type Builder struct {
	Fn  *Function
	Blk *BasicBlock
}

// NewBuilder returns a Builder positioned at the end of blk.
func NewBuilder(fn *Function, blk *BasicBlock) *Builder {
	return &Builder{Fn: fn, Blk: blk}
}

// SetBlock repositions the builder to append to blk.
func (b *Builder) SetBlock(blk *BasicBlock) { b.Blk = blk }

func (b *Builder) emit(instr Instruction) Instruction {
	b.Blk.Append(instr)
	return instr
}

func (b *Builder) id() ValueID { return b.Fn.allocValueID() }

// Alloca emits a stack allocation of count elements of elemType.
func (b *Builder) Alloca(name string, elemType Type, count Value) *AllocaInstr {
	in := &AllocaInstr{
		instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: PointerType{Elem: elemType}, name: name}},
		ElemType:  elemType,
		Count:     count,
	}
	b.emit(in)
	return in
}

// Load emits a load from ptr.
func (b *Builder) Load(name string, ptr Value) *LoadInstr {
	elem := elemOf(ptr.Type())
	in := &LoadInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: elem, name: name}}, Ptr: ptr}
	b.emit(in)
	return in
}

// Store emits a store of val to ptr.
func (b *Builder) Store(ptr, val Value) *StoreInstr {
	in := &StoreInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: VoidType{}}}, Ptr: ptr, Val: val}
	b.emit(in)
	return in
}

// Bin emits a binary instruction of the given result type.
func (b *Builder) Bin(name string, op BinOp, lhs, rhs Value, resultType Type) *BinInstr {
	in := &BinInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: resultType, name: name}}, Op: op, Lhs: lhs, Rhs: rhs}
	b.emit(in)
	return in
}

// Cmp emits a comparison instruction; the result is always i1.
func (b *Builder) Cmp(name string, pred CmpPred, lhs, rhs Value) *CmpInstr {
	in := &CmpInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: I1, name: name}}, Pred: pred, Lhs: lhs, Rhs: rhs}
	b.emit(in)
	return in
}

// Call emits a call to callee (which may be nil for an intrinsic
// identified purely by name).
func (b *Builder) Call(name string, callee *Function, intrinsic string, resultType Type, args ...Value) *CallInstr {
	in := &CallInstr{
		instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: resultType, name: name}},
		Callee:    callee, Intrinsic: intrinsic, Args: args,
	}
	b.emit(in)
	return in
}

// Phi emits an empty φ node of the given type; incoming edges are added
// with AddIncoming.
func (b *Builder) Phi(name string, t Type) *PhiInstr {
	in := &PhiInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: t, name: name}}}
	b.emit(in)
	return in
}

// AddIncoming appends an incoming edge to a φ node.
func (p *PhiInstr) AddIncoming(pred *BasicBlock, v Value) {
	p.Incoming = append(p.Incoming, PhiEdge{Pred: pred, Value: v})
}

// GEP emits a field-address computation into the aggregate pointed to by
// base.
func (b *Builder) GEP(name string, base Value, field int) *GEPInstr {
	st, ok := elemOf(base.Type()).(*StructType)
	var fieldType Type = VoidType{}
	if ok && field >= 0 && field < len(st.Fields) {
		fieldType = st.Fields[field]
	}
	in := &GEPInstr{
		instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: PointerType{Elem: fieldType}, name: name}},
		Base:      base, Field: field,
	}
	b.emit(in)
	return in
}

// Index emits a dynamic element-address computation into the array
// pointed to by base.
func (b *Builder) Index(name string, base, idx Value, elemType Type) *IndexInstr {
	in := &IndexInstr{
		instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: PointerType{Elem: elemType}, name: name}},
		Base:      base, Index: idx, ElemType: elemType,
	}
	b.emit(in)
	return in
}

// BitCast emits a representation-preserving cast of v to type to.
func (b *Builder) BitCast(name string, v Value, to Type) *BitCastInstr {
	in := &BitCastInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: to, name: name}}, Value: v}
	b.emit(in)
	return in
}

// LifetimeStart and LifetimeEnd bracket an alloca's live range.
func (b *Builder) LifetimeStart(ptr Value) *LifetimeStartInstr {
	in := &LifetimeStartInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: VoidType{}}}, Ptr: ptr}
	b.emit(in)
	return in
}

func (b *Builder) LifetimeEnd(ptr Value) *LifetimeEndInstr {
	in := &LifetimeEndInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: VoidType{}}}, Ptr: ptr}
	b.emit(in)
	return in
}

// Dealloc frees a heap allocation.
func (b *Builder) Dealloc(ptr Value) *DeallocInstr {
	in := &DeallocInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: VoidType{}}}, Ptr: ptr}
	b.emit(in)
	return in
}

// GlobalAddr materialises the address of g as an instruction.
func (b *Builder) GlobalAddr(name string, g *Global) *GlobalAddrInstr {
	in := &GlobalAddrInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: g.Type(), name: name}}, G: g}
	b.emit(in)
	return in
}

// FuncAddr materialises the address of fn as a VoidPtr-typed instruction.
func (b *Builder) FuncAddr(name string, fn *Function) *FuncAddrInstr {
	in := &FuncAddrInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: VoidPtr, name: name}}, Fn: fn}
	b.emit(in)
	return in
}

// BuildPair constructs a ⟨from, next⟩ trampoline-state value.
func (b *Builder) BuildPair(name string, from, next Value) *BuildPairInstr {
	in := &BuildPairInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: PairType, name: name}}, From: from, Next: next}
	b.emit(in)
	return in
}

// ExtractPair reads field index (0=from, 1=next) from a pair value.
func (b *Builder) ExtractPair(name string, pair Value, index int) *ExtractPairInstr {
	in := &ExtractPairInstr{instrBase: instrBase{valueBase: valueBase{id: b.id(), typ: I32, name: name}}, Pair: pair, Index: index}
	b.emit(in)
	return in
}

// Ret closes the current block with a return terminator.
func (b *Builder) Ret(values ...Value) *RetTerm {
	t := &RetTerm{Values: values}
	b.Blk.Term = t
	t.setBlock(b.Blk)
	return t
}

// Br closes the current block with an unconditional branch.
func (b *Builder) Br(target *BasicBlock) *BrTerm {
	t := &BrTerm{Target: target}
	b.Blk.Term = t
	t.setBlock(b.Blk)
	return t
}

// CondBr closes the current block with a conditional branch.
func (b *Builder) CondBr(cond Value, trueB, falseB *BasicBlock) *CondBrTerm {
	t := &CondBrTerm{Cond: cond, True: trueB, False: falseB}
	b.Blk.Term = t
	t.setBlock(b.Blk)
	return t
}

// Switch closes the current block with a switch terminator dispatching on
// value, defaulting to def.
func (b *Builder) Switch(value Value, def *BasicBlock) *SwitchTerm {
	t := &SwitchTerm{Value: value, Default: def}
	b.Blk.Term = t
	t.setBlock(b.Blk)
	return t
}

// Unreachable closes the current block with an unreachable terminator.
func (b *Builder) Unreachable() *UnreachableTerm {
	t := &UnreachableTerm{}
	b.Blk.Term = t
	t.setBlock(b.Blk)
	return t
}

func elemOf(t Type) Type {
	if p, ok := t.(PointerType); ok {
		return p.Elem
	}
	return t
}
