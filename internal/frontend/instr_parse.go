package frontend

import "splitkernel/internal/ir"

// parseInstr parses one non-terminator instruction line and appends it
// to b. Operand resolution is deferred to fp.pending so that φ nodes on
// a loop back-edge can reference a value defined later in block order.
func (fp *funcParser) parseInstr(b *ir.BasicBlock) {
	p := fp.p

	if p.atIdent("store") {
		p.advance()
		valTok := fp.parseRef()
		p.expect(TokComma, ",")
		ptrTok := fp.parseRef()
		in := &ir.StoreInstr{}
		in.SetName("")
		b.Append(in)
		fp.pending = append(fp.pending, func() {
			in.Val = fp.resolveValue(valTok)
			in.Ptr = fp.resolveValue(ptrTok)
		})
		return
	}
	if p.atIdent("lifetime.start") {
		p.advance()
		ptrTok := fp.parseRef()
		in := &ir.LifetimeStartInstr{}
		b.Append(in)
		fp.pending = append(fp.pending, func() { in.Ptr = fp.resolveValue(ptrTok) })
		return
	}
	if p.atIdent("lifetime.end") {
		p.advance()
		ptrTok := fp.parseRef()
		in := &ir.LifetimeEndInstr{}
		b.Append(in)
		fp.pending = append(fp.pending, func() { in.Ptr = fp.resolveValue(ptrTok) })
		return
	}
	if p.atIdent("dealloc") {
		p.advance()
		ptrTok := fp.parseRef()
		in := &ir.DeallocInstr{}
		b.Append(in)
		fp.pending = append(fp.pending, func() { in.Ptr = fp.resolveValue(ptrTok) })
		return
	}

	// Every remaining form is "%name = <op> ...".
	nameTok := p.expect(TokPercent, "a %-prefixed result name")
	p.expect(TokEqual, "=")
	name := nameTok.Text

	switch {
	case p.atIdent("alloca") || p.atIdent("alloca.heap"):
		heap := p.cur.Text == "alloca.heap"
		p.advance()
		elemType := p.parseType()
		p.expect(TokComma, ",")
		countTok := fp.parseRef()
		in := &ir.AllocaInstr{ElemType: elemType, IsHeap: heap}
		in.SetName(name)
		setResultType(in, ir.PointerType{Elem: elemType})
		b.Append(in)
		fp.define(name, in)
		fp.pending = append(fp.pending, func() { in.Count = fp.resolveValue(countTok) })

	case p.atIdent("load"):
		p.advance()
		ptrTok := fp.parseRef()
		p.expect(TokArrow, "->")
		resultType := p.parseType()
		in := &ir.LoadInstr{}
		in.SetName(name)
		setResultType(in, resultType)
		b.Append(in)
		fp.define(name, in)
		fp.pending = append(fp.pending, func() { in.Ptr = fp.resolveValue(ptrTok) })

	case binOpByName(p.cur.Text) != nil:
		op := *binOpByName(p.cur.Text)
		p.advance()
		lhsTok := fp.parseRef()
		p.expect(TokComma, ",")
		rhsTok := fp.parseRef()
		p.expect(TokArrow, "->")
		resultType := p.parseType()
		in := &ir.BinInstr{Op: op}
		in.SetName(name)
		setResultType(in, resultType)
		b.Append(in)
		fp.define(name, in)
		fp.pending = append(fp.pending, func() {
			in.Lhs = fp.resolveValue(lhsTok)
			in.Rhs = fp.resolveValue(rhsTok)
		})

	case cmpPredByName(p.cur.Text) != nil:
		pred := *cmpPredByName(p.cur.Text)
		p.advance()
		lhsTok := fp.parseRef()
		p.expect(TokComma, ",")
		rhsTok := fp.parseRef()
		in := &ir.CmpInstr{Pred: pred}
		in.SetName(name)
		setResultType(in, ir.I1)
		b.Append(in)
		fp.define(name, in)
		fp.pending = append(fp.pending, func() {
			in.Lhs = fp.resolveValue(lhsTok)
			in.Rhs = fp.resolveValue(rhsTok)
		})

	case p.atIdent("call"):
		p.advance()
		callee := p.expectIdent()
		p.expect(TokLParen, "(")
		var argToks []Token
		if !p.at(TokRParen) {
			argToks = append(argToks, fp.parseRef())
			for p.at(TokComma) {
				p.advance()
				argToks = append(argToks, fp.parseRef())
			}
		}
		p.expect(TokRParen, ")")
		p.expect(TokArrow, "->")
		resultType := p.parseType()
		in := &ir.CallInstr{Args: make([]ir.Value, len(argToks))}
		in.SetName(name)
		setResultType(in, resultType)
		b.Append(in)
		fp.define(name, in)
		fp.pending = append(fp.pending, func() {
			if fn := fp.p.module.FuncByName(callee); fn != nil {
				in.Callee = fn
			} else {
				in.Intrinsic = callee
			}
			for i, t := range argToks {
				in.Args[i] = fp.resolveValue(t)
			}
		})

	case p.atIdent("phi"):
		p.advance()
		phiType := p.parseType()
		in := &ir.PhiInstr{}
		in.SetName(name)
		setResultType(in, phiType)
		b.Append(in)
		fp.define(name, in)

		type rawEdge struct {
			blk Token
			val Token
		}
		var edges []rawEdge
		for p.at(TokLBracket) {
			p.advance()
			blkTok := fp.blockRef()
			p.expect(TokColon, ":")
			valTok := fp.parseRef()
			p.expect(TokRBracket, "]")
			edges = append(edges, rawEdge{blkTok, valTok})
			if p.at(TokComma) {
				p.advance()
			}
		}
		fp.pending = append(fp.pending, func() {
			for _, e := range edges {
				in.Incoming = append(in.Incoming, ir.PhiEdge{Pred: fp.resolveBlock(e.blk), Value: fp.resolveValue(e.val)})
			}
		})

	case p.atIdent("gep"):
		p.advance()
		baseTok := fp.parseRef()
		p.expect(TokComma, ",")
		field := int(p.parseIntLiteral())
		p.expect(TokArrow, "->")
		resultType := p.parseType()
		in := &ir.GEPInstr{Field: field}
		in.SetName(name)
		setResultType(in, resultType)
		b.Append(in)
		fp.define(name, in)
		fp.pending = append(fp.pending, func() { in.Base = fp.resolveValue(baseTok) })

	case p.atIdent("bitcast"):
		p.advance()
		valTok := fp.parseRef()
		if !p.atIdent("to") {
			p.errorf("expected 'to' in bitcast, got %q", p.cur.Text)
		} else {
			p.advance()
		}
		toType := p.parseType()
		in := &ir.BitCastInstr{}
		in.SetName(name)
		setResultType(in, toType)
		b.Append(in)
		fp.define(name, in)
		fp.pending = append(fp.pending, func() { in.Value = fp.resolveValue(valTok) })

	case p.atIdent("globaladdr"):
		p.advance()
		gTok := p.expect(TokAt, "@global")
		in := &ir.GlobalAddrInstr{}
		in.SetName(name)
		b.Append(in)
		fp.define(name, in)
		fp.pending = append(fp.pending, func() {
			for _, g := range fp.p.module.Globals {
				if g.Name() == gTok.Text {
					in.G = g
					setResultType(in, g.Type())
					return
				}
			}
			fp.p.reporter.ErrorAt(gTok.Pos, "undefined global @%s", gTok.Text)
		})

	case p.atIdent("pair"):
		p.advance()
		fromTok := fp.parseRef()
		p.expect(TokComma, ",")
		nextTok := fp.parseRef()
		in := &ir.BuildPairInstr{}
		in.SetName(name)
		setResultType(in, ir.PairType)
		b.Append(in)
		fp.define(name, in)
		fp.pending = append(fp.pending, func() {
			in.From = fp.resolveValue(fromTok)
			in.Next = fp.resolveValue(nextTok)
		})

	case p.atIdent("index"):
		p.advance()
		baseTok := fp.parseRef()
		p.expect(TokLBracket, "[")
		idxTok := fp.parseRef()
		p.expect(TokRBracket, "]")
		p.expect(TokArrow, "->")
		resultType := p.parseType()
		in := &ir.IndexInstr{}
		if pt, ok := resultType.(ir.PointerType); ok {
			in.ElemType = pt.Elem
		}
		in.SetName(name)
		setResultType(in, resultType)
		b.Append(in)
		fp.define(name, in)
		fp.pending = append(fp.pending, func() {
			in.Base = fp.resolveValue(baseTok)
			in.Index = fp.resolveValue(idxTok)
		})

	case p.atIdent("funcaddr"):
		p.advance()
		fnTok := p.expect(TokAt, "@function")
		in := &ir.FuncAddrInstr{}
		in.SetName(name)
		setResultType(in, ir.VoidPtr)
		b.Append(in)
		fp.define(name, in)
		fp.pending = append(fp.pending, func() {
			if fn := fp.p.module.FuncByName(fnTok.Text); fn != nil {
				in.Fn = fn
			} else {
				fp.p.reporter.ErrorAt(fnTok.Pos, "undefined function @%s", fnTok.Text)
			}
		})

	case p.atIdent("extract"):
		p.advance()
		pairTok := fp.parseRef()
		p.expect(TokComma, ",")
		index := int(p.parseIntLiteral())
		in := &ir.ExtractPairInstr{Index: index}
		in.SetName(name)
		setResultType(in, ir.I32)
		b.Append(in)
		fp.define(name, in)
		fp.pending = append(fp.pending, func() { in.Pair = fp.resolveValue(pairTok) })

	default:
		p.errorf("unrecognised instruction %q", p.cur.Text)
		p.advance()
	}
}

// parseTerm parses the single terminator line that closes b.
func (fp *funcParser) parseTerm(b *ir.BasicBlock) {
	p := fp.p
	switch {
	case p.atIdent("ret"):
		p.advance()
		var toks []Token
		if !p.atTerminatorKeyword() && !p.at(TokRBrace) && !p.at(TokEOF) {
			toks = append(toks, fp.parseRef())
			for p.at(TokComma) {
				p.advance()
				toks = append(toks, fp.parseRef())
			}
		}
		t := &ir.RetTerm{Values: make([]ir.Value, len(toks))}
		b.Term = t
		fp.pending = append(fp.pending, func() {
			for i, tok := range toks {
				t.Values[i] = fp.resolveValue(tok)
			}
		})

	case p.atIdent("br"):
		p.advance()
		targetTok := fp.blockRef()
		t := &ir.BrTerm{}
		b.Term = t
		fp.pending = append(fp.pending, func() { t.Target = fp.resolveBlock(targetTok) })

	case p.atIdent("condbr"):
		p.advance()
		condTok := fp.parseRef()
		p.expect(TokComma, ",")
		trueTok := fp.blockRef()
		p.expect(TokComma, ",")
		falseTok := fp.blockRef()
		t := &ir.CondBrTerm{}
		b.Term = t
		fp.pending = append(fp.pending, func() {
			t.Cond = fp.resolveValue(condTok)
			t.True = fp.resolveBlock(trueTok)
			t.False = fp.resolveBlock(falseTok)
		})

	case p.atIdent("switch"):
		p.advance()
		valTok := fp.parseRef()
		p.expect(TokComma, ",")
		if !p.atIdent("default") {
			p.errorf("expected 'default' in switch, got %q", p.cur.Text)
		} else {
			p.advance()
		}
		defTok := fp.blockRef()
		type rawCase struct {
			val  int64
			blk  Token
		}
		var cases []rawCase
		for p.at(TokComma) {
			p.advance()
			v := p.parseIntLiteral()
			p.expect(TokColon, ":")
			blk := fp.blockRef()
			cases = append(cases, rawCase{v, blk})
		}
		t := &ir.SwitchTerm{}
		b.Term = t
		fp.pending = append(fp.pending, func() {
			t.Value = fp.resolveValue(valTok)
			t.Default = fp.resolveBlock(defTok)
			for _, c := range cases {
				t.AddCase(c.val, fp.resolveBlock(c.blk))
			}
		})

	case p.atIdent("unreachable"):
		p.advance()
		b.Term = &ir.UnreachableTerm{}

	case p.atIdent("indirectbr"):
		p.advance()
		b.Term = &ir.IndirectTerm{}

	case p.atIdent("unwind"):
		p.advance()
		b.Term = &ir.UnwindTerm{}

	default:
		p.errorf("unrecognised terminator %q", p.cur.Text)
		p.advance()
	}
}

func binOpByName(s string) *ir.BinOp {
	m := map[string]ir.BinOp{
		"add": ir.Add, "sub": ir.Sub, "mul": ir.Mul, "udiv": ir.UDiv, "sdiv": ir.SDiv,
		"shl": ir.Shl, "lshr": ir.LShr, "and": ir.And, "or": ir.Or, "xor": ir.Xor,
	}
	if v, ok := m[s]; ok {
		return &v
	}
	return nil
}

func cmpPredByName(s string) *ir.CmpPred {
	m := map[string]ir.CmpPred{
		"cmp.eq": ir.CmpEQ, "cmp.ne": ir.CmpNE, "cmp.lt": ir.CmpLT,
		"cmp.le": ir.CmpLE, "cmp.gt": ir.CmpGT, "cmp.ge": ir.CmpGE,
	}
	if v, ok := m[s]; ok {
		return &v
	}
	return nil
}

// setResultType backfills the explicit result type Dump prints for
// instruction kinds the parser can't type purely from structural fields
// (load, bin, call, phi, gep, bitcast).
func setResultType(v ir.Instruction, t ir.Type) { ir.SetType(v, t) }
