package frontend

import (
	"fmt"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	gopackages "golang.org/x/tools/go/packages"

	"splitkernel/internal/diag"
)

// GoPackageConfig configures how a Go source package should be
// resolved before SSA translation.
type GoPackageConfig struct {
	Dir       string
	BuildTags []string
}

// LoadGoPackage resolves dir into type-checked syntax, pointed at a
// package of annotated kernel source. The returned packages feed
// gosrc.go's ssautil.AllPackages call.
func LoadGoPackage(cfg GoPackageConfig, reporter *diag.Reporter) ([]*gopackages.Package, *token.FileSet, error) {
	if cfg.Dir == "" {
		return nil, nil, fmt.Errorf("no package directory was provided")
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, nil, err
	}

	fset := token.NewFileSet()
	loadCfg := &gopackages.Config{
		Mode: gopackages.NeedName | gopackages.NeedSyntax | gopackages.NeedFiles |
			gopackages.NeedCompiledGoFiles | gopackages.NeedTypes | gopackages.NeedTypesInfo |
			gopackages.NeedImports | gopackages.NeedDeps | gopackages.NeedModule | gopackages.NeedTypesSizes,
		Fset: fset,
		Dir:  dir,
		Env:  os.Environ(),
	}
	if len(cfg.BuildTags) > 0 {
		loadCfg.BuildFlags = buildTagFlag(cfg.BuildTags)
	}

	pkgs, err := gopackages.Load(loadCfg, ".")
	if err != nil {
		return nil, nil, err
	}

	reporter.SetFileSet(fset)

	var hadErrors bool
	for _, pkg := range pkgs {
		for _, loadErr := range pkg.Errors {
			reporter.Errorf("%s: %s", loadErr.Pos, loadErr.Msg)
			hadErrors = true
		}
	}
	if hadErrors {
		return nil, nil, fmt.Errorf("loading package at %s failed", dir)
	}

	return pkgs, fset, nil
}

func buildTagFlag(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	joined := strings.Join(tags, ",")
	if joined == "" {
		return nil
	}
	return []string{"-tags=" + joined}
}
