package frontend

import (
	"go/token"
	"os"

	"splitkernel/internal/diag"
	"splitkernel/internal/ir"
)

// LoadFile reads path and parses it as a module in the textual IR
// grammar. The returned FileSet is also installed on reporter so
// subsequent validator and pass diagnostics render the same
// file:line:col positions the parser itself used.
func LoadFile(path string, reporter *diag.Reporter) (*ir.Module, *token.FileSet, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return LoadString(path, string(src), reporter)
}

// LoadString parses src as a module named filename, without touching the
// filesystem. Used by tests that author fixtures as Go string literals.
func LoadString(filename, src string, reporter *diag.Reporter) (*ir.Module, *token.FileSet, error) {
	fset := token.NewFileSet()
	p := NewParser(filename, src, fset, reporter)
	m := p.Parse()
	if reporter.HasErrors() {
		return m, fset, errParse{filename}
	}
	return m, fset, nil
}

type errParse struct{ filename string }

func (e errParse) Error() string { return "parsing " + e.filename + " failed" }
