package passes

import (
	"context"

	"golang.org/x/sync/errgroup"

	"splitkernel/internal/diag"
	"splitkernel/internal/ir"
)

// Pass is the uniform shape shared by the early, in-place kernel passes
// (constant-expression flattening, dim-source substitution, barrier
// splitting, alloca lowering): each rewrites one function in place and
// reports fatal conditions through rep. The later stages — subkernel
// discovery through the wrapper/self-contained variants — need far more
// shared state (the barrier set, the live-across sets, the
// preserved-data layout) than a single function argument, so they are
// not Passes; Manager runs them directly as the fixed tail of
// TransformKernel.
type Pass interface {
	Name() string
	Run(m *ir.Module, k *ir.Function, opts Options, rep *diag.Reporter)
}

// Manager runs the uniform early passes over a kernel in a fixed order,
// then hands off to TransformKernel for subkernel discovery onward.
type Manager struct {
	early []Pass
	opts  Options
}

// NewManager returns a Manager configured with opts, running the early
// passes in their required dependency order (spec §2, steps 1-3, with
// constant-expression flattening as the stated prerequisite to all of
// them).
func NewManager(opts Options) *Manager {
	return &Manager{
		early: []Pass{
			constExprPass{},
			dimSubstPass{},
			barrierSplitPass{},
			allocaLoweringPass{},
		},
		opts: opts,
	}
}

// Run transforms every kernel-entry function in m, replacing each with
// its driver/wrapper/self-contained trio. Kernels are processed strictly
// one at a time and in module order — an errgroup with SetLimit(1)
// keeps that contract explicit rather than implicit in a for-loop, and
// gives a single point to raise the limit later if independent modules
// are ever fanned out across a single ksplit invocation, without
// touching each kernel's own sequential pass order.
func (mgr *Manager) Run(m *ir.Module, rep *diag.Reporter) error {
	kernels := make([]*ir.Function, 0, len(m.Funcs))
	for _, f := range m.Funcs {
		if f.KernelEntry {
			kernels = append(kernels, f)
		}
	}

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(1)
	for _, k := range kernels {
		k := k
		g.Go(func() error {
			for _, p := range mgr.early {
				p.Run(m, k, mgr.opts, rep)
				if rep.HasErrors() {
					return nil
				}
			}
			if rep.HasErrors() {
				return nil
			}
			TransformKernel(m, k, mgr.opts, rep)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	cleanupModule(m, rep)
	return nil
}
