package ir

import "fmt"

// Module is the top-level compilation unit: a set of global variables and
// functions. The pass walks Module.Funcs once per kernel entry, replacing
// each with its driver/wrapper/self-contained trio in place (§2).
type Module struct {
	Name    string
	Globals []*Global
	Funcs   []*Function

	nextGlobalID ValueID
}

// AddGlobal appends a new global to the module, assigning it a fresh
// ValueID.
func (m *Module) AddGlobal(name string, elem Type, shared SharedKind) *Global {
	g := &Global{
		valueBase: valueBase{id: m.allocGlobalID(), typ: PointerType{Elem: elem}, name: name},
		Shared:    shared,
		Elem:      elem,
	}
	m.Globals = append(m.Globals, g)
	return g
}

func (m *Module) allocGlobalID() ValueID {
	m.nextGlobalID++
	return m.nextGlobalID
}

// RemoveGlobal erases g from the module (§8, TP 7: shared globals must not
// survive the pass once every use has been rewritten).
func (m *Module) RemoveGlobal(g *Global) {
	out := m.Globals[:0]
	for _, gg := range m.Globals {
		if gg != g {
			out = append(out, gg)
		}
	}
	m.Globals = out
}

// FuncByName returns the function named n, or nil.
func (m *Module) FuncByName(n string) *Function {
	for _, f := range m.Funcs {
		if f.Name == n {
			return f
		}
	}
	return nil
}

// ReplaceFunc swaps out old for new at old's position (or appends new if
// old is not found), used when the chosen wrapper/self-contained variant
// assumes a kernel's original name and the original is erased (§4.9).
func (m *Module) ReplaceFunc(old, new *Function) {
	for i, f := range m.Funcs {
		if f == old {
			m.Funcs[i] = new
			return
		}
	}
	m.Funcs = append(m.Funcs, new)
}

// RemoveFunc erases fn from the module.
func (m *Module) RemoveFunc(fn *Function) {
	out := m.Funcs[:0]
	for _, f := range m.Funcs {
		if f != fn {
			out = append(out, f)
		}
	}
	m.Funcs = out
}

// Function is a single procedure: a signature plus a CFG of BasicBlocks.
// KernelEntry marks procedures the host program launches as kernels (§6);
// it is cleared once a kernel has been fully replaced by its
// driver/wrapper/self-contained trio, which is what makes a second run of
// the pass over the same module a no-op (§8, TP 8).
type Function struct {
	Name        string
	Params      []*Param
	RetType     Type
	Blocks      []*BasicBlock
	KernelEntry bool

	nextValueID ValueID
	nextBlockID BlockID
}

// NewFunction creates an empty function with the given parameter types.
func NewFunction(name string, paramTypes []Type, ret Type) *Function {
	f := &Function{Name: name, RetType: ret}
	for i, t := range paramTypes {
		f.Params = append(f.Params, &Param{
			valueBase: valueBase{id: f.allocValueID(), typ: t, name: fmt.Sprintf("arg%d", i)},
			Index:     i,
			Fn:        f,
		})
	}
	return f
}

// AddParam appends a new trailing parameter, used by the dim-source
// substitution (§4.1) and subkernel synthesis (§4.7) passes to extend a
// kernel's signature.
func (f *Function) AddParam(name string, t Type) *Param {
	p := &Param{
		valueBase: valueBase{id: f.allocValueID(), typ: t, name: name},
		Index:     len(f.Params),
		Fn:        f,
	}
	f.Params = append(f.Params, p)
	return p
}

func (f *Function) allocValueID() ValueID {
	f.nextValueID++
	return f.nextValueID
}

func (f *Function) allocBlockID() BlockID {
	id := f.nextBlockID
	f.nextBlockID++
	return id
}

// NewBlock appends a fresh, empty block to f.
func (f *Function) NewBlock(label string) *BasicBlock {
	b := &BasicBlock{id: f.allocBlockID(), name: label, fn: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// InsertBlockAfter inserts a new block immediately after "after" in block
// order (order is cosmetic for print stability; it does not affect CFG
// semantics) and returns it.
func (f *Function) InsertBlockAfter(after *BasicBlock, label string) *BasicBlock {
	b := &BasicBlock{id: f.allocBlockID(), name: label, fn: f}
	idx := f.blockIndex(after)
	if idx < 0 {
		f.Blocks = append(f.Blocks, b)
		return b
	}
	f.Blocks = append(f.Blocks, nil)
	copy(f.Blocks[idx+2:], f.Blocks[idx+1:])
	f.Blocks[idx+1] = b
	return b
}

func (f *Function) blockIndex(b *BasicBlock) int {
	for i, bb := range f.Blocks {
		if bb == b {
			return i
		}
	}
	return -1
}

// RemoveBlock erases b from f.Blocks. Callers are responsible for having
// already severed every predecessor edge into b (§4.7, Block pruning).
func (f *Function) RemoveBlock(b *BasicBlock) {
	out := f.Blocks[:0]
	for _, bb := range f.Blocks {
		if bb != b {
			out = append(out, bb)
		}
	}
	f.Blocks = out
}

// Entry returns the function's entry block (the first block), or nil.
func (f *Function) Entry() *BasicBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// NewValueID allocates a fresh ValueID, for instructions constructed
// directly (bypassing the BasicBlock.Append helpers) before the pass has
// decided which block they belong in.
func (f *Function) NewValueID() ValueID { return f.allocValueID() }

// BasicBlock is a single-entry, single-exit sequence of instructions
// ending in exactly one Terminator (nil until the block is closed).
type BasicBlock struct {
	id     BlockID
	name   string
	fn     *Function
	Instrs []Instruction
	Term   Terminator

	// PostBarrier marks a block created by barrier splitting for the
	// code that ran after a synchronisation point (§4.2's set B). Every
	// such block has exactly one predecessor and an unconditional
	// terminator into it by construction.
	PostBarrier bool
}

func (b *BasicBlock) ID() BlockID     { return b.id }
func (b *BasicBlock) Name() string    { return b.name }
func (b *BasicBlock) Func() *Function { return b.fn }

// Append adds instr to the end of the block's instruction list (before the
// terminator) and binds its owning block.
func (b *BasicBlock) Append(instr Instruction) {
	instr.setBlock(b)
	b.Instrs = append(b.Instrs, instr)
}

// Prepend adds instr to the front of the block, after any existing φ
// nodes — the usual insertion point for synthetic-entry loads (§4.7).
func (b *BasicBlock) Prepend(instr Instruction) {
	instr.setBlock(b)
	at := b.firstNonPhiIndex()
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[at+1:], b.Instrs[at:])
	b.Instrs[at] = instr
}

// InsertAfter inserts instr immediately after "after" in b's instruction
// list. Used for live-out stores, which must land right after the
// defining instruction, skipping past trailing φ nodes (§4.7).
func (b *BasicBlock) InsertAfter(after Instruction, instr Instruction) {
	instr.setBlock(b)
	idx := -1
	for i, in := range b.Instrs {
		if in == after {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.Append(instr)
		return
	}
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[idx+2:], b.Instrs[idx+1:])
	b.Instrs[idx+1] = instr
}

func (b *BasicBlock) firstNonPhiIndex() int {
	for i, in := range b.Instrs {
		if in.Kind() != KindPhi {
			return i
		}
	}
	return len(b.Instrs)
}

// Phis returns the leading φ nodes of b.
func (b *BasicBlock) Phis() []*PhiInstr {
	var out []*PhiInstr
	for _, in := range b.Instrs {
		if p, ok := in.(*PhiInstr); ok {
			out = append(out, p)
		} else {
			break
		}
	}
	return out
}

// Succs returns the block's successors, derived from its terminator.
func (b *BasicBlock) Succs() []*BasicBlock {
	if b.Term == nil {
		return nil
	}
	return b.Term.Succs()
}

// SetTerm attaches term as b's terminator and rebinds its owning block,
// the terminator-side counterpart to Append. Barrier splitting (§4.2)
// uses this to move a block's original terminator onto the new block
// created for the code following the barrier.
func (b *BasicBlock) SetTerm(term Terminator) {
	b.Term = term
	if term != nil {
		term.setBlock(b)
	}
}

// RemoveInstr deletes instr from b's instruction list.
func (b *BasicBlock) RemoveInstr(instr Instruction) {
	out := b.Instrs[:0]
	for _, in := range b.Instrs {
		if in != instr {
			out = append(out, in)
		}
	}
	b.Instrs = out
}
