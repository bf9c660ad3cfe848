package frontend

import (
	"go/token"
	"strconv"

	"splitkernel/internal/diag"
	"splitkernel/internal/ir"
)

// Parser builds an *ir.Module from the textual grammar ir.Dump emits.
// It is the inverse of that printer and backs the ksplit command's
// loading of textual modules. The subkernel scenario tests build their
// IR through ir.Builder rather than through this parser.
type Parser struct {
	lex      *Lexer
	fset     *token.FileSet
	file     *token.File
	reporter *diag.Reporter

	cur Token

	structs map[string]*ir.StructType
	module  *ir.Module
}

// NewParser returns a Parser over src, registered as filename in fset.
func NewParser(filename, src string, fset *token.FileSet, reporter *diag.Reporter) *Parser {
	file := fset.AddFile(filename, -1, len(src))
	file.SetLinesForContent([]byte(src))
	p := &Parser{
		lex:      NewLexer(src, file),
		fset:     fset,
		file:     file,
		reporter: reporter,
		structs:  map[string]*ir.StructType{"dim3": ir.Dim3Type, "sk_pair": ir.PairType},
	}
	reporter.SetFileSet(fset)
	p.cur = p.lex.Next()
	return p
}

func (p *Parser) advance() Token {
	t := p.cur
	p.cur = p.lex.Next()
	return t
}

func (p *Parser) errorf(format string, args ...any) {
	p.reporter.ErrorAt(p.cur.Pos, format, args...)
}

// expectIdent consumes the current token as TokIdent and returns its
// text, reporting an error and returning "" if the kind doesn't match.
func (p *Parser) expectIdent() string {
	if p.cur.Kind != TokIdent {
		p.errorf("expected identifier, got %q", p.cur.Text)
		return ""
	}
	return p.advance().Text
}

func (p *Parser) expect(kind TokenKind, what string) Token {
	if p.cur.Kind != kind {
		p.errorf("expected %s, got %q", what, p.cur.Text)
		return p.cur
	}
	return p.advance()
}

func (p *Parser) at(kind TokenKind) bool { return p.cur.Kind == kind }

func (p *Parser) atIdent(text string) bool { return p.cur.Kind == TokIdent && p.cur.Text == text }

// Parse consumes the whole token stream and returns the module it
// describes. Errors are reported through the Reporter; Parse still
// returns a best-effort module so callers can decide whether to stop.
func (p *Parser) Parse() *ir.Module {
	p.expectIdentKeyword("module")
	name := p.expectIdent()
	p.module = &ir.Module{Name: name}

	for p.atIdent("type") {
		p.parseTypeDecl()
	}
	for p.atIdent("global") {
		p.parseGlobal()
	}
	for p.atIdent("kernel-entry") || p.atIdent("func") {
		p.parseFunc()
	}
	if !p.at(TokEOF) {
		p.errorf("unexpected trailing token %q", p.cur.Text)
	}
	return p.module
}

func (p *Parser) expectIdentKeyword(kw string) {
	if !p.atIdent(kw) {
		p.errorf("expected %q, got %q", kw, p.cur.Text)
		return
	}
	p.advance()
}

func (p *Parser) parseTypeDecl() {
	p.advance() // "type"
	name := p.expectIdent()
	p.expect(TokLBrace, "{")
	st := &ir.StructType{Name: name}
	p.structs[name] = st
	if !p.at(TokRBrace) {
		st.Fields = append(st.Fields, p.parseType())
		for p.at(TokComma) {
			p.advance()
			st.Fields = append(st.Fields, p.parseType())
		}
	}
	p.expect(TokRBrace, "}")
}

func (p *Parser) parseGlobal() {
	p.advance() // "global"
	name := p.expectIdent()
	elem := p.parseType()
	shared := ir.NotShared
	if p.atIdent("shared") {
		p.advance()
		shared = ir.StaticShared
		if p.atIdent("dynamic") {
			p.advance()
			shared = ir.DynamicShared
		}
	}
	p.module.AddGlobal(name, elem, shared)
}

func (p *Parser) parseType() ir.Type {
	switch {
	case p.atIdent("void"):
		p.advance()
		return ir.VoidType{}
	case p.atIdent("ptr"):
		p.advance()
		if p.at(TokLAngle) {
			p.advance()
			elem := p.parseType()
			p.expect(TokRAngle, ">")
			return ir.PointerType{Elem: elem}
		}
		return ir.VoidPtr
	case p.at(TokLBracket):
		p.advance()
		n := p.parseIntLiteral()
		if !p.atIdent("x") {
			p.errorf("expected 'x' in array type, got %q", p.cur.Text)
		} else {
			p.advance()
		}
		elem := p.parseType()
		p.expect(TokRBracket, "]")
		return ir.ArrayType{Elem: elem, Count: int(n)}
	case p.at(TokPercent):
		name := p.advance().Text
		st, ok := p.structs[name]
		if !ok {
			p.errorf("reference to undeclared struct type %%%s", name)
			st = &ir.StructType{Name: name}
			p.structs[name] = st
		}
		return st
	case p.at(TokIdent):
		txt := p.cur.Text
		if len(txt) > 1 && txt[0] == 'i' {
			if w, err := strconv.Atoi(txt[1:]); err == nil {
				p.advance()
				return ir.IntType{Width: w}
			}
		}
		if len(txt) > 2 && txt[0] == 's' && txt[1] == 'i' {
			if w, err := strconv.Atoi(txt[2:]); err == nil {
				p.advance()
				return ir.IntType{Width: w, Signed: true}
			}
		}
		if len(txt) > 1 && txt[0] == 'f' {
			if w, err := strconv.Atoi(txt[1:]); err == nil {
				p.advance()
				return ir.FloatType{Width: w}
			}
		}
		p.errorf("unrecognised type %q", txt)
		p.advance()
		return ir.VoidType{}
	default:
		p.errorf("expected a type, got %q", p.cur.Text)
		p.advance()
		return ir.VoidType{}
	}
}

func (p *Parser) parseIntLiteral() int64 {
	if !p.at(TokInt) {
		p.errorf("expected integer literal, got %q", p.cur.Text)
		return 0
	}
	t := p.advance()
	n, _ := strconv.ParseInt(t.Text, 10, 64)
	return n
}

// funcParser holds the per-function symbol tables used to resolve
// forward references (loop back-edge φ operands, in particular) once
// every block and instruction skeleton in the function has been built.
type funcParser struct {
	p         *Parser
	fn        *ir.Function
	byName    map[string]ir.Value
	blocksByID map[int]*ir.BasicBlock
	pending   []func()
}

func (p *Parser) parseFunc() {
	kernelEntry := false
	if p.atIdent("kernel-entry") {
		kernelEntry = true
		p.advance()
	}
	p.expectIdentKeyword("func")
	name := p.expectIdent()
	p.expect(TokLParen, "(")

	var paramNames []string
	var paramTypes []ir.Type
	if !p.at(TokRParen) {
		n, t := p.parseParam()
		paramNames, paramTypes = append(paramNames, n), append(paramTypes, t)
		for p.at(TokComma) {
			p.advance()
			n, t := p.parseParam()
			paramNames, paramTypes = append(paramNames, n), append(paramTypes, t)
		}
	}
	p.expect(TokRParen, ")")
	retType := p.parseType()

	fn := ir.NewFunction(name, paramTypes, retType)
	fn.KernelEntry = kernelEntry
	for i, n := range paramNames {
		fn.Params[i].SetName(n)
	}
	p.module.Funcs = append(p.module.Funcs, fn)

	p.expect(TokLBrace, "{")

	fp := &funcParser{p: p, fn: fn, byName: map[string]ir.Value{}, blocksByID: map[int]*ir.BasicBlock{}}
	for _, pm := range fn.Params {
		fp.byName[pm.Name()] = pm
	}

	for p.at(TokIdent) && len(p.cur.Text) >= 2 && p.cur.Text[0] == 'b' && p.cur.Text[1] == 'b' {
		fp.parseBlock()
	}
	p.expect(TokRBrace, "}")

	for _, resolve := range fp.pending {
		resolve()
	}
}

func (p *Parser) parseParam() (string, ir.Type) {
	name := p.expectIdent()
	t := p.parseType()
	return name, t
}

// parseBlock parses one "bb<id>.<label>:" header followed by its
// instruction and terminator lines.
func (fp *funcParser) parseBlock() {
	p := fp.p
	header := p.advance().Text // e.g. "bb3.entry"
	idStr, label, ok := trimIdentSuffix(header[2:], ".")
	if !ok {
		p.errorf("malformed block header %q", header)
		return
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		p.errorf("malformed block id in header %q", header)
	}
	p.expect(TokColon, ":")

	b := fp.fn.NewBlock(label)
	fp.blocksByID[id] = b
	if int(b.ID()) != id {
		// Dump always emits ids in construction order starting at 0, so a
		// mismatch means the fixture's ids are not contiguous; still
		// resolvable via blocksByID, but flag it since it usually signals
		// a hand-edited fixture bug.
		p.reporter.Warn(p.cur.Pos, "block %q declared with id %d but assigned id %d", label, id, b.ID())
	}

	for !p.atTerminatorKeyword() {
		if p.at(TokEOF) || p.at(TokRBrace) {
			p.errorf("unterminated block %q: missing terminator", label)
			return
		}
		fp.parseInstr(b)
	}
	fp.parseTerm(b)
}

func (p *Parser) atTerminatorKeyword() bool {
	for _, kw := range []string{"ret", "br", "condbr", "switch", "unreachable", "indirectbr", "unwind"} {
		if p.atIdent(kw) {
			return true
		}
	}
	return false
}

func (fp *funcParser) define(name string, v ir.Value) {
	fp.byName[name] = v
}

func (fp *funcParser) resolveValue(tok Token) ir.Value {
	switch tok.Kind {
	case TokPercent:
		if v, ok := fp.byName[tok.Text]; ok {
			return v
		}
		fp.p.reporter.ErrorAt(tok.Pos, "undefined value %%%s", tok.Text)
		return ir.NewUndef(ir.I32)
	case TokAt:
		for _, g := range fp.p.module.Globals {
			if g.Name() == tok.Text {
				return g
			}
		}
		fp.p.reporter.ErrorAt(tok.Pos, "undefined global @%s", tok.Text)
		return ir.NewUndef(ir.VoidPtr)
	case TokInt:
		n, _ := strconv.ParseInt(tok.Text, 10, 64)
		return ir.ConstInt(ir.I32, n)
	case TokFloat:
		f, _ := strconv.ParseFloat(tok.Text, 64)
		return ir.ConstFloat(ir.F32, f)
	case TokIdent:
		switch tok.Text {
		case "null":
			return ir.ConstNull(ir.VoidPtr)
		case "undef":
			return ir.NewUndef(ir.I32)
		}
	}
	fp.p.reporter.ErrorAt(tok.Pos, "expected a value reference, got %q", tok.Text)
	return ir.NewUndef(ir.I32)
}

// parseRef consumes one operand token and schedules its resolution.
func (fp *funcParser) parseRef() Token {
	t := fp.p.cur
	fp.p.advance()
	return t
}

func (fp *funcParser) blockRef() Token {
	t := fp.p.expect(TokIdent, "a block reference (bb<id>)")
	return t
}

func (fp *funcParser) resolveBlock(tok Token) *ir.BasicBlock {
	if len(tok.Text) < 2 || tok.Text[0] != 'b' || tok.Text[1] != 'b' {
		fp.p.reporter.ErrorAt(tok.Pos, "expected a block reference, got %q", tok.Text)
		return nil
	}
	id, err := strconv.Atoi(tok.Text[2:])
	if err != nil {
		fp.p.reporter.ErrorAt(tok.Pos, "malformed block reference %q", tok.Text)
		return nil
	}
	b, ok := fp.blocksByID[id]
	if !ok {
		fp.p.reporter.ErrorAt(tok.Pos, "reference to undeclared block bb%d", id)
	}
	return b
}
