package ir

// InstrKind tags every non-terminator instruction. Passes dispatch on this
// rather than relying on type switches scattered across the codebase, so a
// newly added kind only has to be wired into the switches that actually
// care about it (§9, Tagged variants for terminators, applies equally to
// the instruction set).
type InstrKind int

const (
	KindAlloca InstrKind = iota
	KindLoad
	KindStore
	KindBin
	KindCmp
	KindCall
	KindPhi
	KindGEP
	KindBitCast
	KindLifetimeStart
	KindLifetimeEnd
	KindDealloc
	KindGlobalAddr
	KindBuildPair
	KindExtractPair
	KindIndex
	KindFuncAddr
)

// Instruction is any non-terminator IR instruction. Instructions that
// produce a result are also Values; instructions with no result (stores,
// deallocations, lifetime markers) still carry an ID so they can be
// ordered deterministically and replaced in place during cloning.
type Instruction interface {
	Value
	Kind() InstrKind
	Block() *BasicBlock
	Operands() []Value
	SetOperand(i int, v Value)
	SetName(string)
	setBlock(*BasicBlock)
}

type instrBase struct {
	valueBase
	block *BasicBlock
}

func (i *instrBase) Block() *BasicBlock     { return i.block }
func (i *instrBase) setBlock(b *BasicBlock) { i.block = b }
func (i *instrBase) SetName(n string)       { i.name = n }

// AllocaInstr allocates storage for Count elements of ElemType. IsHeap is
// flipped by the alloca-lowering pass (§4.3) for every alloca of a kernel
// that has at least one post-barrier block; the result type never
// changes across that rewrite.
type AllocaInstr struct {
	instrBase
	ElemType Type
	Count    Value
	IsHeap   bool
}

func (*AllocaInstr) Kind() InstrKind      { return KindAlloca }
func (a *AllocaInstr) Operands() []Value  { return []Value{a.Count} }
func (a *AllocaInstr) SetOperand(i int, v Value) {
	if i == 0 {
		a.Count = v
	}
}

// LoadInstr reads the value pointed to by Ptr.
type LoadInstr struct {
	instrBase
	Ptr Value
}

func (*LoadInstr) Kind() InstrKind     { return KindLoad }
func (l *LoadInstr) Operands() []Value { return []Value{l.Ptr} }
func (l *LoadInstr) SetOperand(i int, v Value) {
	if i == 0 {
		l.Ptr = v
	}
}

// StoreInstr writes Val to the location pointed to by Ptr. It produces no
// result (its Type() is VoidType).
type StoreInstr struct {
	instrBase
	Ptr Value
	Val Value
}

func (*StoreInstr) Kind() InstrKind     { return KindStore }
func (s *StoreInstr) Operands() []Value { return []Value{s.Ptr, s.Val} }
func (s *StoreInstr) SetOperand(i int, v Value) {
	switch i {
	case 0:
		s.Ptr = v
	case 1:
		s.Val = v
	}
}

// BinOp enumerates the arithmetic and logical operators used by kernel
// bodies; the rematerialisation optimisation (§4.5) re-derives trees of
// these plus GEP/BitCast at a downstream subkernel's entry.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	UDiv
	SDiv
	Shl
	LShr
	And
	Or
	Xor
)

// BinInstr is a binary arithmetic/logic instruction.
type BinInstr struct {
	instrBase
	Op       BinOp
	Lhs, Rhs Value
}

func (*BinInstr) Kind() InstrKind     { return KindBin }
func (b *BinInstr) Operands() []Value { return []Value{b.Lhs, b.Rhs} }
func (b *BinInstr) SetOperand(i int, v Value) {
	switch i {
	case 0:
		b.Lhs = v
	case 1:
		b.Rhs = v
	}
}

// CmpPred enumerates comparison predicates; results are always i1.
type CmpPred int

const (
	CmpEQ CmpPred = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
)

// CmpInstr compares Lhs and Rhs under Pred.
type CmpInstr struct {
	instrBase
	Pred     CmpPred
	Lhs, Rhs Value
}

func (*CmpInstr) Kind() InstrKind     { return KindCmp }
func (c *CmpInstr) Operands() []Value { return []Value{c.Lhs, c.Rhs} }
func (c *CmpInstr) SetOperand(i int, v Value) {
	switch i {
	case 0:
		c.Lhs = v
	case 1:
		c.Rhs = v
	}
}

// CallInstr invokes Callee (a regular function, a recognised intrinsic, or
// a companion helper such as dim3_to_arg) with Args. Intrinsic is non-empty
// for dim queries and the synchronisation barrier, and is the field the
// dim-source substitution and barrier-splitting passes key off of instead
// of comparing Callee identity.
type CallInstr struct {
	instrBase
	Callee    *Function
	Intrinsic string
	Args      []Value
}

func (*CallInstr) Kind() InstrKind     { return KindCall }
func (c *CallInstr) Operands() []Value { return append([]Value{}, c.Args...) }
func (c *CallInstr) SetOperand(i int, v Value) {
	if i >= 0 && i < len(c.Args) {
		c.Args[i] = v
	}
}

// PhiEdge is one incoming edge of a PhiInstr.
type PhiEdge struct {
	Pred  *BasicBlock
	Value Value
}

// PhiInstr selects among Incoming based on which predecessor control
// arrived from. The bulk of §4.7's "synthetic entry" logic exists to keep
// these consistent after block pruning and handler-block insertion.
type PhiInstr struct {
	instrBase
	Incoming []PhiEdge
}

func (*PhiInstr) Kind() InstrKind { return KindPhi }
func (p *PhiInstr) Operands() []Value {
	vs := make([]Value, len(p.Incoming))
	for i, e := range p.Incoming {
		vs[i] = e.Value
	}
	return vs
}
func (p *PhiInstr) SetOperand(i int, v Value) {
	if i >= 0 && i < len(p.Incoming) {
		p.Incoming[i].Value = v
	}
}

// RemoveIncoming deletes the edge coming from pred, if present.
func (p *PhiInstr) RemoveIncoming(pred *BasicBlock) {
	out := p.Incoming[:0]
	for _, e := range p.Incoming {
		if e.Pred != pred {
			out = append(out, e)
		}
	}
	p.Incoming = out
}

// RetargetIncoming renames every edge from "from" to "to", used when a
// block is replaced by a phi-handler block (§4.7).
func (p *PhiInstr) RetargetIncoming(from, to *BasicBlock) {
	for i := range p.Incoming {
		if p.Incoming[i].Pred == from {
			p.Incoming[i].Pred = to
		}
	}
}

// GEPInstr computes the address of field Field within the aggregate
// pointed to by Base. It is how both the preserved-data record and the
// shared-vars record are addressed (§4.6, §4.7).
type GEPInstr struct {
	instrBase
	Base  Value
	Field int
}

func (*GEPInstr) Kind() InstrKind     { return KindGEP }
func (g *GEPInstr) Operands() []Value { return []Value{g.Base} }
func (g *GEPInstr) SetOperand(i int, v Value) {
	if i == 0 {
		g.Base = v
	}
}

// IndexInstr computes the address of the Index'th element of the array
// pointed to by Base, where Index is an ordinary runtime value rather
// than the static field selector GEPInstr takes. The driver (§4.8) uses
// this to address a thread's slot in the preserved-data array; call-site
// rewriting and the wrapper and self-contained variants use it to
// address slots of the argument array, and the Go-source frontend
// lowers indexed addressing to it. Every other aggregate access is a
// fixed struct field.
type IndexInstr struct {
	instrBase
	Base     Value
	Index    Value
	ElemType Type
}

func (*IndexInstr) Kind() InstrKind     { return KindIndex }
func (x *IndexInstr) Operands() []Value { return []Value{x.Base, x.Index} }
func (x *IndexInstr) SetOperand(i int, v Value) {
	switch i {
	case 0:
		x.Base = v
	case 1:
		x.Index = v
	}
}

// BitCastInstr reinterprets Value as type To with no representation
// change; used to cast the untyped dynamic-shared byte pointer to its
// element type (§4.7).
type BitCastInstr struct {
	instrBase
	Value Value
}

func (*BitCastInstr) Kind() InstrKind     { return KindBitCast }
func (b *BitCastInstr) Operands() []Value { return []Value{b.Value} }
func (b *BitCastInstr) SetOperand(i int, v Value) {
	if i == 0 {
		b.Value = v
	}
}

// LifetimeStartInstr and LifetimeEndInstr bracket the live range of an
// alloca when the source IR supplies explicit lifetime markers (§4.3).
type LifetimeStartInstr struct {
	instrBase
	Ptr Value
}

func (*LifetimeStartInstr) Kind() InstrKind     { return KindLifetimeStart }
func (l *LifetimeStartInstr) Operands() []Value { return []Value{l.Ptr} }
func (l *LifetimeStartInstr) SetOperand(i int, v Value) {
	if i == 0 {
		l.Ptr = v
	}
}

type LifetimeEndInstr struct {
	instrBase
	Ptr Value
}

func (*LifetimeEndInstr) Kind() InstrKind     { return KindLifetimeEnd }
func (l *LifetimeEndInstr) Operands() []Value { return []Value{l.Ptr} }
func (l *LifetimeEndInstr) SetOperand(i int, v Value) {
	if i == 0 {
		l.Ptr = v
	}
}

// DeallocInstr frees a heap allocation produced by AllocaInstr once it has
// been promoted by the alloca-lowering pass (§4.3).
type DeallocInstr struct {
	instrBase
	Ptr Value
}

func (*DeallocInstr) Kind() InstrKind     { return KindDealloc }
func (d *DeallocInstr) Operands() []Value { return []Value{d.Ptr} }
func (d *DeallocInstr) SetOperand(i int, v Value) {
	if i == 0 {
		d.Ptr = v
	}
}

// GlobalAddrInstr materialises the address of G as an ordinary
// instruction. Constant-expression flattening (§4.10) inserts one of
// these at a function's entry for every transitive use of a shared
// global, so that later φ-repair and use-rewriting logic only ever has to
// reason about instructions, never embedded constant expressions.
type GlobalAddrInstr struct {
	instrBase
	G *Global
}

func (*GlobalAddrInstr) Kind() InstrKind      { return KindGlobalAddr }
func (*GlobalAddrInstr) Operands() []Value    { return nil }
func (*GlobalAddrInstr) SetOperand(int, Value) {}

// FuncAddrInstr materialises the address of Fn as an ordinary pointer
// value. Functions are not themselves Values in this IR, so call-site
// rewriting (§6) goes through this instruction to get a "bitcast of the
// wrapper procedure" it can pass as the launch runtime entry's target
// argument, the same way GlobalAddrInstr stands in for a bare Global
// reference.
type FuncAddrInstr struct {
	instrBase
	Fn *Function
}

func (*FuncAddrInstr) Kind() InstrKind      { return KindFuncAddr }
func (*FuncAddrInstr) Operands() []Value    { return nil }
func (*FuncAddrInstr) SetOperand(int, Value) {}

// BuildPairInstr constructs the ⟨from, next⟩ trampoline-state value
// returned by every synthesised subkernel (§3).
type BuildPairInstr struct {
	instrBase
	From, Next Value
}

func (*BuildPairInstr) Kind() InstrKind     { return KindBuildPair }
func (b *BuildPairInstr) Operands() []Value { return []Value{b.From, b.Next} }
func (b *BuildPairInstr) SetOperand(i int, v Value) {
	switch i {
	case 0:
		b.From = v
	case 1:
		b.Next = v
	}
}

// ExtractPairInstr reads field Index (0 = from, 1 = next) out of a
// ⟨from, next⟩ pair returned by a subkernel call; the driver's dispatch
// loop (§4.8) uses it to update the trampoline state.
type ExtractPairInstr struct {
	instrBase
	Pair  Value
	Index int
}

func (*ExtractPairInstr) Kind() InstrKind     { return KindExtractPair }
func (e *ExtractPairInstr) Operands() []Value { return []Value{e.Pair} }
func (e *ExtractPairInstr) SetOperand(i int, v Value) {
	if i == 0 {
		e.Pair = v
	}
}
