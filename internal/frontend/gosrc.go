package frontend

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/mod/modfile"
	gopackages "golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"splitkernel/internal/diag"
	"splitkernel/internal/intrinsics"
	"splitkernel/internal/ir"
)

// kernelPragma and sharedPragma are the comment markers a kernel author
// writes directly above a func or var declaration, mirroring how the
// textual grammar spells "kernel-entry" and "shared[,dynamic]" but aimed
// at ordinary Go source instead of this repository's own IR text format.
const (
	kernelPragma = "ksplit:kernel"
	sharedPragma = "ksplit:shared"
)

// ksplitrtPath is the import path a kernel package calls into for the
// twelve dim-query sreg reads and the barrier intrinsic. The functions
// are recognised by name off the static callee rather than by actually
// running them, the way a call to fmt.Print can be recognised by callee
// identity instead of reimplementing fmt's formatting. The package is
// never actually invoked, only pattern-matched.
const ksplitrtPath = "splitkernel/ksplitrt"

var sregByFuncName = map[string]string{
	"GridDimX": "llvm.nvvm.read.ptx.sreg.nctaid.x", "GridDimY": "llvm.nvvm.read.ptx.sreg.nctaid.y", "GridDimZ": "llvm.nvvm.read.ptx.sreg.nctaid.z",
	"BlockIdxX": "llvm.nvvm.read.ptx.sreg.ctaid.x", "BlockIdxY": "llvm.nvvm.read.ptx.sreg.ctaid.y", "BlockIdxZ": "llvm.nvvm.read.ptx.sreg.ctaid.z",
	"BlockDimX": "llvm.nvvm.read.ptx.sreg.ntid.x", "BlockDimY": "llvm.nvvm.read.ptx.sreg.ntid.y", "BlockDimZ": "llvm.nvvm.read.ptx.sreg.ntid.z",
	"ThreadIdxX": "llvm.nvvm.read.ptx.sreg.tid.x", "ThreadIdxY": "llvm.nvvm.read.ptx.sreg.tid.y", "ThreadIdxZ": "llvm.nvvm.read.ptx.sreg.tid.z",
}

// LoadAnnotatedGoPackage builds the ssa.Program for the package resolved
// by LoadGoPackage, then lowers every //ksplit:kernel function and
// //ksplit:shared global it finds into a single ir.Module in one pass.
func LoadAnnotatedGoPackage(cfg GoPackageConfig, reporter *diag.Reporter) (*ir.Module, error) {
	pkgs, fset, err := LoadGoPackage(cfg, reporter)
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages resolved at %s", cfg.Dir)
	}

	prog, ssaPkgs := ssautil.AllPackages(pkgs, ssa.SanityCheckFunctions)
	prog.Build()

	moduleName := pkgs[0].Name
	if modPath, err := moduleRootPath(cfg.Dir); err == nil && modPath != "" {
		moduleName = modPath + "/" + pkgs[0].Name
	} else if err != nil {
		reporter.Warn(token.NoPos, "could not determine module root above %s: %v", cfg.Dir, err)
	}

	m := &ir.Module{Name: moduleName}
	g := &goBuilder{reporter: reporter, fset: fset, module: m, globals: map[string]*ir.Global{}}

	for i, pkg := range pkgs {
		ssaPkg := ssaPkgs[i]
		if ssaPkg == nil {
			continue
		}
		g.collectSharedGlobals(pkg)
	}
	for i, pkg := range pkgs {
		ssaPkg := ssaPkgs[i]
		if ssaPkg == nil {
			continue
		}
		g.translatePackage(pkg, ssaPkg)
	}

	if reporter.HasErrors() {
		return m, fmt.Errorf("translating annotated Go source failed")
	}
	return m, nil
}

// moduleRootPath walks up from dir looking for a go.mod and returns the
// module path declared in it, parsed with modfile rather than go/build
// so this works even when the annotated kernel package is resolved
// outside of any GOPATH-style layout. Returns "" with no error if dir
// is not inside a module at all (a single free-standing kernel file).
func moduleRootPath(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(abs, "go.mod")
		data, err := os.ReadFile(candidate)
		if err == nil {
			f, err := modfile.Parse(candidate, data, nil)
			if err != nil {
				return "", fmt.Errorf("parsing %s: %w", candidate, err)
			}
			if f.Module == nil {
				return "", nil
			}
			return f.Module.Mod.Path, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", nil
		}
		abs = parent
	}
}

type goBuilder struct {
	reporter *diag.Reporter
	fset     *token.FileSet
	module   *ir.Module
	globals  map[string]*ir.Global // Go var name -> module global

	fn     *ir.Function
	b      *ir.Builder
	values map[ssa.Value]ir.Value
	blocks map[*ssa.BasicBlock]*ir.BasicBlock
	phis   []phiFixup
	extern map[string]*ir.Function
}

type phiFixup struct {
	instr *ir.PhiInstr
	ssaPhi *ssa.Phi
}

// collectSharedGlobals finds every package-level var carrying a
// //ksplit:shared pragma and registers a matching ir.Global, before any
// kernel body is translated, since a kernel may reference a shared
// global declared later in the same file.
func (g *goBuilder) collectSharedGlobals(pkg *gopackages.Package) {
	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			gd, ok := decl.(*ast.GenDecl)
			if !ok || gd.Tok != token.VAR {
				continue
			}
			doc := pragmaText(gd.Doc)
			if doc == "" {
				continue
			}
			kind, ok := parseSharedPragma(doc)
			if !ok {
				continue
			}
			for _, spec := range gd.Specs {
				vs, ok := spec.(*ast.ValueSpec)
				if !ok {
					continue
				}
				for _, name := range vs.Names {
					if name.Name == "_" {
						continue
					}
					obj := pkg.TypesInfo.ObjectOf(name)
					tv, ok := obj.(*types.Var)
					if !ok {
						g.reporter.Errorf("%s: %s is not a variable", g.fset.Position(name.Pos()), name.Name)
						continue
					}
					arr, ok := tv.Type().Underlying().(*types.Array)
					if !ok {
						g.reporter.Errorf("%s: shared global %s must have array type", g.fset.Position(name.Pos()), name.Name)
						continue
					}
					elem := g.convertType(arr.Elem())
					global := g.module.AddGlobal(name.Name, ir.ArrayType{Elem: elem, Count: int(arr.Len())}, kind)
					g.globals[name.Name] = global
				}
			}
		}
	}
}

func parseSharedPragma(doc string) (ir.SharedKind, bool) {
	if !strings.HasPrefix(doc, sharedPragma) {
		return 0, false
	}
	rest := strings.TrimPrefix(doc, sharedPragma)
	if strings.Contains(rest, "dynamic") {
		return ir.DynamicShared, true
	}
	return ir.StaticShared, true
}

// pragmaText returns the first comment line of cg that starts with
// "ksplit:" once its leading "//" and whitespace are trimmed, or "" if
// cg is nil or has no such line.
func pragmaText(cg *ast.CommentGroup) string {
	if cg == nil {
		return ""
	}
	for _, c := range cg.List {
		line := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
		if strings.HasPrefix(line, "ksplit:") {
			return line
		}
	}
	return ""
}

func (g *goBuilder) translatePackage(pkg *gopackages.Package, ssaPkg *ssa.Package) {
	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok || fd.Recv != nil {
				continue
			}
			if pragmaText(fd.Doc) != kernelPragma {
				continue
			}
			ssaFn := ssaPkg.Func(fd.Name.Name)
			if ssaFn == nil {
				g.reporter.Errorf("%s: could not resolve SSA for kernel %s", g.fset.Position(fd.Pos()), fd.Name.Name)
				continue
			}
			g.translateKernel(ssaFn)
		}
	}
}

func (g *goBuilder) translateKernel(ssaFn *ssa.Function) {
	paramTypes := make([]ir.Type, 0, len(ssaFn.Params))
	for _, p := range ssaFn.Params {
		paramTypes = append(paramTypes, g.convertType(p.Type()))
	}

	fn := ir.NewFunction(ssaFn.Name(), paramTypes, ir.VoidType{})
	fn.KernelEntry = true
	g.module.Funcs = append(g.module.Funcs, fn)

	g.fn = fn
	g.values = make(map[ssa.Value]ir.Value, len(ssaFn.Blocks)*4)
	g.blocks = make(map[*ssa.BasicBlock]*ir.BasicBlock, len(ssaFn.Blocks))
	g.phis = nil
	g.extern = map[string]*ir.Function{}

	for i, p := range ssaFn.Params {
		g.values[p] = fn.Params[i]
	}

	for i, sb := range ssaFn.Blocks {
		label := sb.Comment
		if label == "" {
			label = fmt.Sprintf("bb%d", i)
		}
		g.blocks[sb] = fn.NewBlock(label)
	}

	for _, sb := range ssaFn.Blocks {
		g.translateBlock(sb)
	}

	for _, fix := range g.phis {
		for i, edge := range fix.ssaPhi.Edges {
			pred := fix.ssaPhi.Block().Preds[i]
			fix.instr.AddIncoming(g.blocks[pred], g.valueFor(edge))
		}
	}
}

func (g *goBuilder) translateBlock(sb *ssa.BasicBlock) {
	blk := g.blocks[sb]
	g.b = ir.NewBuilder(g.fn, blk)

	for _, instr := range sb.Instrs {
		g.translateInstr(sb, instr)
	}
}

func (g *goBuilder) translateInstr(sb *ssa.BasicBlock, instr ssa.Instruction) {
	switch v := instr.(type) {
	case *ssa.Alloc:
		elem := g.convertType(derefType(v.Type()))
		al := g.b.Alloca(localName(v), elem, ir.ConstInt(ir.I32, 1))
		g.values[v] = al

	case *ssa.Store:
		g.b.Store(g.valueFor(v.Addr), g.valueFor(v.Val))

	case *ssa.UnOp:
		switch v.Op {
		case token.MUL:
			g.values[v] = g.b.Load(localName(v), g.valueFor(v.X))
		case token.NOT:
			zero := ir.ConstInt(ir.I1, 0)
			g.values[v] = g.b.Cmp(localName(v), ir.CmpEQ, g.valueFor(v.X), zero)
		default:
			g.reporter.Errorf("unsupported unary operator %s in kernel %s", v.Op, g.fn.Name)
		}

	case *ssa.BinOp:
		g.translateBinOp(v)

	case *ssa.Call:
		g.translateCall(v)

	case *ssa.Phi:
		ph := g.b.Phi(localName(v), g.convertType(v.Type()))
		g.values[v] = ph
		g.phis = append(g.phis, phiFixup{ph, v})

	case *ssa.FieldAddr:
		g.values[v] = g.b.GEP(localName(v), g.valueFor(v.X), v.Field)

	case *ssa.IndexAddr:
		elem := g.convertType(derefType(v.Type()))
		g.values[v] = g.b.Index(localName(v), g.valueFor(v.X), g.valueFor(v.Index), elem)

	case *ssa.Convert:
		g.values[v] = g.b.BitCast(localName(v), g.valueFor(v.X), g.convertType(v.Type()))
	case *ssa.ChangeType:
		g.values[v] = g.b.BitCast(localName(v), g.valueFor(v.X), g.convertType(v.Type()))

	case *ssa.If:
		cond := g.valueFor(v.Cond)
		g.b.CondBr(cond, g.blocks[sb.Succs[0]], g.blocks[sb.Succs[1]])
	case *ssa.Jump:
		g.b.Br(g.blocks[sb.Succs[0]])
	case *ssa.Return:
		vals := make([]ir.Value, len(v.Results))
		for i, r := range v.Results {
			vals[i] = g.valueFor(r)
		}
		g.b.Ret(vals...)
	case *ssa.DebugRef:
		// carries no IR effect, purely a source-position hint.
	default:
		g.reporter.Errorf("unsupported SSA instruction %T in kernel %s", v, g.fn.Name)
	}
}

func (g *goBuilder) translateCall(call *ssa.Call) {
	callee := call.Call.StaticCallee()
	if callee == nil {
		g.reporter.Errorf("unsupported dynamic call in kernel %s", g.fn.Name)
		return
	}
	pkgPath := ""
	if callee.Pkg != nil && callee.Pkg.Pkg != nil {
		pkgPath = callee.Pkg.Pkg.Path()
	}

	if pkgPath == ksplitrtPath {
		switch {
		case callee.Name() == "Barrier":
			g.b.Call(localName(call), nil, intrinsics.BarrierName, ir.VoidType{})
			return
		default:
			if sreg, ok := sregByFuncName[callee.Name()]; ok {
				g.values[call] = g.b.Call(localName(call), nil, sreg, ir.I32)
				return
			}
		}
		g.reporter.Errorf("unrecognised %s call %s in kernel %s", ksplitrtPath, callee.Name(), g.fn.Name)
		return
	}

	args := make([]ir.Value, len(call.Call.Args))
	for i, a := range call.Call.Args {
		args[i] = g.valueFor(a)
	}
	target := g.externFunc(callee)
	ret := g.convertType(call.Type())
	res := g.b.Call(localName(call), target, "", ret, args...)
	if tup, ok := call.Type().(*types.Tuple); !ok || tup.Len() > 0 {
		g.values[call] = res
	}
}

// externFunc declares a symbol for a non-intrinsic callee the first time
// it is seen, so repeated calls to the same helper resolve to one
// *ir.Function rather than a fresh declaration each time.
func (g *goBuilder) externFunc(callee *ssa.Function) *ir.Function {
	if fn, ok := g.extern[callee.Name()]; ok {
		return fn
	}
	if fn := g.module.FuncByName(callee.Name()); fn != nil {
		g.extern[callee.Name()] = fn
		return fn
	}
	paramTypes := make([]ir.Type, len(callee.Params))
	for i, p := range callee.Params {
		paramTypes[i] = g.convertType(p.Type())
	}
	fn := ir.NewFunction(callee.Name(), paramTypes, g.convertType(callee.Signature.Results()))
	g.module.Funcs = append(g.module.Funcs, fn)
	g.extern[callee.Name()] = fn
	return fn
}

func (g *goBuilder) translateBinOp(v *ssa.BinOp) {
	lhs, rhs := g.valueFor(v.X), g.valueFor(v.Y)
	resultType := g.convertType(v.Type())
	signed := isSignedType(v.X.Type())

	switch v.Op {
	case token.ADD:
		g.values[v] = g.b.Bin(localName(v), ir.Add, lhs, rhs, resultType)
	case token.SUB:
		g.values[v] = g.b.Bin(localName(v), ir.Sub, lhs, rhs, resultType)
	case token.MUL:
		g.values[v] = g.b.Bin(localName(v), ir.Mul, lhs, rhs, resultType)
	case token.QUO:
		op := ir.UDiv
		if signed {
			op = ir.SDiv
		}
		g.values[v] = g.b.Bin(localName(v), op, lhs, rhs, resultType)
	case token.SHL:
		g.values[v] = g.b.Bin(localName(v), ir.Shl, lhs, rhs, resultType)
	case token.SHR:
		g.values[v] = g.b.Bin(localName(v), ir.LShr, lhs, rhs, resultType)
	case token.AND:
		g.values[v] = g.b.Bin(localName(v), ir.And, lhs, rhs, resultType)
	case token.OR:
		g.values[v] = g.b.Bin(localName(v), ir.Or, lhs, rhs, resultType)
	case token.XOR:
		g.values[v] = g.b.Bin(localName(v), ir.Xor, lhs, rhs, resultType)
	case token.EQL:
		g.values[v] = g.b.Cmp(localName(v), ir.CmpEQ, lhs, rhs)
	case token.NEQ:
		g.values[v] = g.b.Cmp(localName(v), ir.CmpNE, lhs, rhs)
	case token.LSS:
		g.values[v] = g.b.Cmp(localName(v), ir.CmpLT, lhs, rhs)
	case token.LEQ:
		g.values[v] = g.b.Cmp(localName(v), ir.CmpLE, lhs, rhs)
	case token.GTR:
		g.values[v] = g.b.Cmp(localName(v), ir.CmpGT, lhs, rhs)
	case token.GEQ:
		g.values[v] = g.b.Cmp(localName(v), ir.CmpGE, lhs, rhs)
	default:
		g.reporter.Errorf("unsupported binary operator %s in kernel %s", v.Op, g.fn.Name)
	}
}

// valueFor resolves an already-translated ssa.Value, materialising
// constants and global addresses on demand since those are not visited
// as standalone instructions by ssa.BasicBlock.Instrs.
func (g *goBuilder) valueFor(v ssa.Value) ir.Value {
	if val, ok := g.values[v]; ok {
		return val
	}
	switch c := v.(type) {
	case *ssa.Const:
		t := g.convertType(c.Type())
		if c.Value == nil {
			return ir.ConstNull(t)
		}
		switch t.(type) {
		case ir.FloatType:
			f, _ := strconv.ParseFloat(c.Value.ExactString(), 64)
			return ir.ConstFloat(t, f)
		default:
			i, _ := strconv.ParseInt(c.Value.ExactString(), 10, 64)
			return ir.ConstInt(t, i)
		}
	case *ssa.Global:
		name := c.Name()
		if global, ok := g.globals[name]; ok {
			addr := g.b.GlobalAddr(localName(v)+".addr", global)
			g.values[v] = addr
			return addr
		}
	}
	g.reporter.Errorf("reference to untranslated value %v in kernel %s", v, g.fn.Name)
	return ir.NewUndef(g.convertType(v.Type()))
}

func localName(v ssa.Value) string {
	if n := v.Name(); n != "" {
		return n
	}
	return "v"
}

func derefType(t types.Type) types.Type {
	if p, ok := t.Underlying().(*types.Pointer); ok {
		return p.Elem()
	}
	return t
}

func isSignedType(t types.Type) bool {
	basic, ok := t.Underlying().(*types.Basic)
	if !ok {
		return true
	}
	return basic.Info()&types.IsUnsigned == 0
}

// convertType lowers a go/types.Type into this project's IR type system.
// Only the shapes a kernel parameter or local can realistically take are
// handled: scalars, pointers, arrays and fixed-size slices-as-pointers.
func (g *goBuilder) convertType(t types.Type) ir.Type {
	if t == nil {
		return ir.VoidType{}
	}
	switch u := t.Underlying().(type) {
	case *types.Basic:
		switch u.Kind() {
		case types.Float32:
			return ir.F32
		case types.Float64:
			return ir.F64
		case types.Int64, types.Uint64:
			return ir.I64
		case types.Bool:
			return ir.I1
		default:
			return ir.I32
		}
	case *types.Pointer:
		return ir.PointerType{Elem: g.convertType(u.Elem())}
	case *types.Slice:
		// Only the data pointer crosses into kernel IR; length/capacity
		// are ordinary scalar parameters if the kernel needs them.
		return ir.PointerType{Elem: g.convertType(u.Elem())}
	case *types.Array:
		return ir.ArrayType{Elem: g.convertType(u.Elem()), Count: int(u.Len())}
	case *types.Tuple:
		if u.Len() == 0 {
			return ir.VoidType{}
		}
		return g.convertType(u.At(0).Type())
	default:
		g.reporter.Errorf("unsupported Go type %s", t.String())
		return ir.VoidType{}
	}
}
