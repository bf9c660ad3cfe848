// Package validate implements the static checks a module must pass
// before the kernel-splitting transformation can run over it, and the
// lint-only checks a caller can run without actually transforming
// anything (§7, Error handling design).
package validate

import (
	"fmt"

	"splitkernel/internal/diag"
	"splitkernel/internal/intrinsics"
	"splitkernel/internal/ir"
)

// CheckModule validates m against the input IR contract (§6) and
// reports every violation it finds through reporter, rather than
// stopping at the first one, so a single invocation surfaces the full
// set of problems a caller needs to fix. It returns a non-nil error
// once any error-severity diagnostic has been recorded, but reporter
// (not the error's text) is the source of truth for what was wrong.
func CheckModule(m *ir.Module, reporter *diag.Reporter) error {
	if m == nil {
		return fmt.Errorf("no module to validate")
	}
	c := &checker{reporter: reporter}
	c.run(m)
	if c.errCount > 0 {
		return fmt.Errorf("validation failed with %d issue(s)", c.errCount)
	}
	return nil
}

type checker struct {
	reporter *diag.Reporter
	errCount int
}

func (c *checker) run(m *ir.Module) {
	c.checkRequiredHelpers(m)
	for _, f := range m.Funcs {
		if f.KernelEntry {
			c.checkKernel(f)
		}
	}
}

// checkRequiredHelpers implements §7's "Missing required helper
// symbol" category at lint time, ahead of any transformation, mirroring
// the same check TransformKernel itself runs as a fatal precondition.
func (c *checker) checkRequiredHelpers(m *ir.Module) {
	for _, name := range intrinsics.RequiredHelpers() {
		if m.FuncByName(name) == nil {
			c.errorf("module is missing required helper symbol %q", name)
		}
	}
}

// checkKernel walks one kernel-entry function's body looking for the
// handful of conditions §7 calls out as "Unsupported IR construct" or
// as a fatal, user-triggerable condition rather than an invariant the
// pass can assume: a terminator kind the splitting passes don't know
// how to carry across a barrier, an unrecognised intrinsic call, and
// more than one dynamic-shared global reachable from the kernel.
func (c *checker) checkKernel(k *ir.Function) {
	dynShared := map[*ir.Global]bool{}
	for _, b := range k.Blocks {
		c.checkTerminator(k, b)
		for _, in := range b.Instrs {
			if call, ok := in.(*ir.CallInstr); ok && call.Intrinsic != "" {
				c.checkIntrinsic(k, call)
			}
			c.collectDynamicShared(in.Operands(), dynShared)
		}
		if b.Term != nil {
			c.collectDynamicShared(b.Term.Operands(), dynShared)
		}
	}
	if len(dynShared) > 1 {
		c.errorf("kernel %q references %d dynamic-shared globals; at most one is permitted per kernel", k.Name, len(dynShared))
	}
}

// checkTerminator rejects the terminator kinds the splitting passes
// never learned to carry across a barrier split: a kernel body may
// arrive with an unconditional or conditional branch, a return, or (once
// barrier splitting itself has run) a switch, but never an indirect
// branch or an unwind edge.
func (c *checker) checkTerminator(k *ir.Function, b *ir.BasicBlock) {
	switch b.Term.(type) {
	case nil:
		c.errorf("block %q of kernel %q has no terminator", b.Name(), k.Name)
	case *ir.RetTerm, *ir.BrTerm, *ir.CondBrTerm, *ir.SwitchTerm:
	default:
		c.errorf("block %q of kernel %q ends in an unsupported terminator %T", b.Name(), k.Name, b.Term)
	}
}

// checkIntrinsic rejects a call to an intrinsic name the pass has no
// lowering for: only the twelve dim-query sreg reads and the barrier
// are recognised (§6, Input IR contract); anything else reaching the
// pass by name rather than by callee is very likely a typo'd or
// unsupported companion symbol, not a real call the pass should try to
// carry across a subkernel boundary unexamined.
func (c *checker) checkIntrinsic(k *ir.Function, call *ir.CallInstr) {
	if _, _, ok := intrinsics.DimQuery(call.Intrinsic); ok {
		return
	}
	if intrinsics.IsBarrier(call.Intrinsic) {
		return
	}
	c.errorf("kernel %q calls unrecognised intrinsic %q", k.Name, call.Intrinsic)
}

func (c *checker) collectDynamicShared(ops []ir.Value, dynShared map[*ir.Global]bool) {
	for _, op := range ops {
		g, ok := op.(*ir.Global)
		if !ok {
			continue
		}
		if g.Shared == ir.DynamicShared {
			dynShared[g] = true
		}
	}
}

func (c *checker) errorf(format string, args ...any) {
	c.errCount++
	if c.reporter != nil {
		c.reporter.Errorf(format, args...)
	}
}
