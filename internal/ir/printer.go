package ir

import (
	"fmt"
	"io"
)

// Dump writes a simple, re-parseable textual form of the module. The
// frontend lexer/parser (internal/frontend) understands exactly this
// grammar, so Dump doubles as the pass's "textual IR I/O" ambient surface
// (§6) and as the file format the parser round-trip and command-line
// tests write their modules in.
func Dump(m *Module, w io.Writer) {
	if m == nil {
		fmt.Fprintln(w, "; <nil module>")
		return
	}
	fmt.Fprintf(w, "module %s\n\n", m.Name)
	structs := collectStructs(m)
	for _, st := range structs {
		fmt.Fprintf(w, "type %s\n", st.Definition())
	}
	if len(structs) > 0 {
		fmt.Fprintln(w)
	}
	for _, g := range m.Globals {
		dumpGlobal(g, w)
	}
	if len(m.Globals) > 0 {
		fmt.Fprintln(w)
	}
	for _, f := range m.Funcs {
		dumpFunc(f, w)
		fmt.Fprintln(w)
	}
}

// collectStructs walks every type reachable from the module's globals,
// function signatures and instructions, returning the distinct named
// struct types in first-use order. Dump needs this because StructType's
// String only ever renders a "%name" reference (§ textual IR grammar);
// the full field list is written once, here, as the sole definition site.
func collectStructs(m *Module) []*StructType {
	var order []*StructType
	seen := make(map[*StructType]bool)
	var visit func(t Type)
	visit = func(t Type) {
		switch v := t.(type) {
		case *StructType:
			if seen[v] {
				return
			}
			seen[v] = true
			for _, f := range v.Fields {
				visit(f)
			}
			order = append(order, v)
		case PointerType:
			if v.Elem != nil {
				visit(v.Elem)
			}
		case ArrayType:
			visit(v.Elem)
		}
	}
	for _, g := range m.Globals {
		visit(g.Elem)
	}
	for _, f := range m.Funcs {
		for _, p := range f.Params {
			visit(p.Type())
		}
		visit(f.RetType)
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				visit(in.Type())
				if a, ok := in.(*AllocaInstr); ok {
					visit(a.ElemType)
				}
			}
		}
	}
	return order
}

func dumpGlobal(g *Global, w io.Writer) {
	attr := ""
	switch g.Shared {
	case StaticShared:
		attr = " shared"
	case DynamicShared:
		attr = " shared dynamic"
	}
	fmt.Fprintf(w, "global %s %s%s\n", g.Name(), g.Elem.String(), attr)
}

func dumpFunc(f *Function, w io.Writer) {
	attr := ""
	if f.KernelEntry {
		attr = "kernel-entry "
	}
	fmt.Fprintf(w, "%sfunc %s(", attr, f.Name)
	for i, p := range f.Params {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "%s %s", p.Name(), p.Type().String())
	}
	fmt.Fprintf(w, ") %s {\n", f.RetType.String())
	for _, b := range f.Blocks {
		dumpBlock(b, w)
	}
	fmt.Fprintln(w, "}")
}

func dumpBlock(b *BasicBlock, w io.Writer) {
	fmt.Fprintf(w, "bb%d.%s:\n", b.id, b.name)
	for _, in := range b.Instrs {
		fmt.Fprintf(w, "  %s\n", renderInstr(in))
	}
	if b.Term != nil {
		fmt.Fprintf(w, "  %s\n", renderTerm(b.Term))
	} else {
		fmt.Fprintln(w, "  ; <missing terminator>")
	}
}

func renderInstr(in Instruction) string {
	name := "%" + in.Name()
	switch v := in.(type) {
	case *AllocaInstr:
		kind := "alloca"
		if v.IsHeap {
			kind = "alloca.heap"
		}
		return fmt.Sprintf("%s = %s %s, %s", name, kind, v.ElemType.String(), refOf(v.Count))
	case *LoadInstr:
		return fmt.Sprintf("%s = load %s -> %s", name, refOf(v.Ptr), v.Type().String())
	case *StoreInstr:
		return fmt.Sprintf("store %s, %s", refOf(v.Val), refOf(v.Ptr))
	case *BinInstr:
		return fmt.Sprintf("%s = %s %s, %s -> %s", name, binOpName(v.Op), refOf(v.Lhs), refOf(v.Rhs), v.Type().String())
	case *CmpInstr:
		return fmt.Sprintf("%s = cmp.%s %s, %s", name, cmpPredName(v.Pred), refOf(v.Lhs), refOf(v.Rhs))
	case *CallInstr:
		return fmt.Sprintf("%s = call %s(%s) -> %s", name, calleeName(v), refList(v.Args), v.Type().String())
	case *PhiInstr:
		return fmt.Sprintf("%s = phi %s %s", name, v.Type().String(), phiEdges(v))
	case *GEPInstr:
		return fmt.Sprintf("%s = gep %s, %d -> %s", name, refOf(v.Base), v.Field, v.Type().String())
	case *BitCastInstr:
		return fmt.Sprintf("%s = bitcast %s to %s", name, refOf(v.Value), v.Type().String())
	case *LifetimeStartInstr:
		return fmt.Sprintf("lifetime.start %s", refOf(v.Ptr))
	case *LifetimeEndInstr:
		return fmt.Sprintf("lifetime.end %s", refOf(v.Ptr))
	case *DeallocInstr:
		return fmt.Sprintf("dealloc %s", refOf(v.Ptr))
	case *GlobalAddrInstr:
		return fmt.Sprintf("%s = globaladdr @%s", name, v.G.Name())
	case *BuildPairInstr:
		return fmt.Sprintf("%s = pair %s, %s", name, refOf(v.From), refOf(v.Next))
	case *ExtractPairInstr:
		return fmt.Sprintf("%s = extract %s, %d", name, refOf(v.Pair), v.Index)
	case *IndexInstr:
		return fmt.Sprintf("%s = index %s[%s] -> %s", name, refOf(v.Base), refOf(v.Index), v.Type().String())
	case *FuncAddrInstr:
		return fmt.Sprintf("%s = funcaddr @%s", name, v.Fn.Name)
	default:
		return fmt.Sprintf("; <unknown instruction %T>", in)
	}
}

func renderTerm(t Terminator) string {
	switch v := t.(type) {
	case *RetTerm:
		return fmt.Sprintf("ret %s", refList(v.Values))
	case *BrTerm:
		return fmt.Sprintf("br bb%d", v.Target.id)
	case *CondBrTerm:
		return fmt.Sprintf("condbr %s, bb%d, bb%d", refOf(v.Cond), v.True.id, v.False.id)
	case *SwitchTerm:
		s := fmt.Sprintf("switch %s, default bb%d", refOf(v.Value), v.Default.id)
		for _, c := range v.Cases {
			s += fmt.Sprintf(", %d: bb%d", c.Val, c.Target.id)
		}
		return s
	case *UnreachableTerm:
		return "unreachable"
	case *IndirectTerm:
		return "indirectbr ; unsupported"
	case *UnwindTerm:
		return "unwind ; unsupported"
	default:
		return fmt.Sprintf("; <unknown terminator %T>", t)
	}
}

func refOf(v Value) string {
	if v == nil {
		return "<nil>"
	}
	switch vv := v.(type) {
	case *Const:
		return vv.Name()
	case *Undef:
		return "undef"
	case *Global:
		return "@" + vv.Name()
	case *Param:
		return "%" + vv.Name()
	default:
		return "%" + v.Name()
	}
}

func refList(vs []Value) string {
	s := ""
	for i, v := range vs {
		if i > 0 {
			s += ", "
		}
		s += refOf(v)
	}
	return s
}

func phiEdges(p *PhiInstr) string {
	s := ""
	for i, e := range p.Incoming {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("[bb%d: %s]", e.Pred.id, refOf(e.Value))
	}
	return s
}

func calleeName(c *CallInstr) string {
	if c.Intrinsic != "" {
		return c.Intrinsic
	}
	if c.Callee != nil {
		return c.Callee.Name
	}
	return "<indirect>"
}

func binOpName(op BinOp) string {
	switch op {
	case Add:
		return "add"
	case Sub:
		return "sub"
	case Mul:
		return "mul"
	case UDiv:
		return "udiv"
	case SDiv:
		return "sdiv"
	case Shl:
		return "shl"
	case LShr:
		return "lshr"
	case And:
		return "and"
	case Or:
		return "or"
	case Xor:
		return "xor"
	default:
		return "?"
	}
}

func cmpPredName(p CmpPred) string {
	switch p {
	case CmpEQ:
		return "eq"
	case CmpNE:
		return "ne"
	case CmpLT:
		return "lt"
	case CmpLE:
		return "le"
	case CmpGT:
		return "gt"
	case CmpGE:
		return "ge"
	default:
		return "?"
	}
}
