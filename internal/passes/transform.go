package passes

import (
	"splitkernel/internal/diag"
	"splitkernel/internal/intrinsics"
	"splitkernel/internal/ir"
)

// TransformKernel runs subkernel discovery through call-site rewriting
// (§4.4-§4.9, §6) over a single kernel entry k. By the time Manager
// calls this, k has already been through the four uniform early passes
// (constant-expression flattening, dim-source substitution, barrier
// splitting, alloca lowering).
func TransformKernel(m *ir.Module, k *ir.Function, opts Options, rep *diag.Reporter) {
	checkRequiredHelpers(m, rep)
	if rep.HasErrors() {
		return
	}

	subs := discoverSubkernels(k)
	layout := buildLayout(k, subs)
	shared := buildSharedLayout(m, k, rep)
	if rep.HasErrors() {
		return
	}

	idx := blockSubkernelIndex(subs)
	synthesized := make(map[int]*ir.Function, len(subs))
	for _, sk := range subs {
		nk := synthesizeSubkernel(k, sk, subs, idx, layout, shared, rep)
		if rep.HasErrors() {
			return
		}
		synthesized[sk.ID] = nk
		m.Funcs = append(m.Funcs, nk)
	}

	driver := buildDriver(m, k, subs, synthesized, layout, shared, opts)
	m.Funcs = append(m.Funcs, driver)

	wrapper, selfContained := buildOuterVariants(m, k, driver, opts)
	named, other := wrapper, selfContained
	if opts.OuterVariant == VariantSelfContained {
		named, other = selfContained, wrapper
	}

	up := userParams(k)
	rewriteCallSites(m, k, wrapper, selfContained, up, opts, rep)
	if rep.HasErrors() {
		return
	}

	m.ReplaceFunc(k, named)
	m.Funcs = append(m.Funcs, other)
}

// checkRequiredHelpers implements §7's "Missing required helper symbol"
// fatal diagnostic: every companion symbol the generated code will
// reference by name must already be declared in the module before any
// rewriting starts.
func checkRequiredHelpers(m *ir.Module, rep *diag.Reporter) {
	for _, name := range intrinsics.RequiredHelpers() {
		if m.FuncByName(name) == nil {
			rep.Errorf("module is missing required helper symbol %q", name)
		}
	}
}

// cleanupModule runs once after every kernel-entry function in m has
// been transformed (§8, TP 7): a shared global survives past the pass
// only if some function still addresses it, which after a full run
// should be none, since shared-vars lowering rewrites every use of a
// statically-sized shared global into a field of S(K) and every use of
// the one permitted dynamic-shared global into a cast of the dynamic
// buffer parameter.
func cleanupModule(m *ir.Module, rep *diag.Reporter) {
	for _, g := range append([]*ir.Global{}, m.Globals...) {
		if g.Shared == ir.NotShared {
			continue
		}
		if !globalStillUsed(m, g) {
			m.RemoveGlobal(g)
		}
	}
}

func globalStillUsed(m *ir.Module, g *ir.Global) bool {
	for _, fn := range m.Funcs {
		for _, b := range fn.Blocks {
			for _, in := range b.Instrs {
				if ga, ok := in.(*ir.GlobalAddrInstr); ok && ga.G == g {
					return true
				}
			}
		}
	}
	return false
}
