package passes

import (
	"strconv"

	"splitkernel/internal/diag"
	"splitkernel/internal/ir"
)

// constExprPass implements §4.10: it finds every direct use of a
// *ir.Global embedded as an operand and replaces it with a reference to
// a single GlobalAddrInstr materialised at the function's entry, so
// every later pass (barrier splitting, φ-repair, shared-vars lowering)
// only ever has to reason about instructions, never an embedded
// constant expression standing in for a global's address.
type constExprPass struct{}

func (constExprPass) Name() string { return "constexpr-flatten" }

func (constExprPass) Run(m *ir.Module, k *ir.Function, _ Options, rep *diag.Reporter) {
	entry := k.Entry()
	if entry == nil {
		return
	}
	materialised := make(map[*ir.Global]*ir.GlobalAddrInstr)
	get := func(g *ir.Global) *ir.GlobalAddrInstr {
		if in, ok := materialised[g]; ok {
			return in
		}
		in := &ir.GlobalAddrInstr{G: g}
		in.SetName(freshName(k, "gaddr"))
		ir.SetType(in, g.Type())
		ir.AssignID(in, k)
		entry.Prepend(in)
		materialised[g] = in
		return in
	}

	for _, b := range k.Blocks {
		for _, in := range b.Instrs {
			if _, ok := in.(*ir.GlobalAddrInstr); ok {
				continue // already flattened; not itself an operand site
			}
			for i, v := range in.Operands() {
				if g, ok := v.(*ir.Global); ok {
					in.SetOperand(i, get(g))
				}
			}
		}
		if b.Term != nil {
			for i, v := range b.Term.Operands() {
				if g, ok := v.(*ir.Global); ok {
					b.Term.SetOperand(i, get(g))
				}
			}
		}
	}
}

// freshName mints a collision-free instruction name scoped to fn, piggy-
// backing on the function's own value-id allocator rather than keeping a
// side counter.
func freshName(fn *ir.Function, prefix string) string {
	return prefix + "." + strconv.Itoa(int(fn.NewValueID()))
}
