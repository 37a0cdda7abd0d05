package main

// This file is the minimal textual reader that bridges a Lisp-flavored
// source file to the compiler package's AST contract. The tokenizer
// and parser are explicitly out of scope for the core spec (an
// external collaborator producing a well-formed AST) — this is just
// enough of one to drive the compiler from a real source file.

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"lispmc/compiler"
)

// sexpr is either an atom (string) or a list ([]sexpr).
type sexpr interface{}

func tokenize(src string) []string {
	var tokens []string
	i := 0
	for i < len(src) {
		r := rune(src[i])
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')':
			tokens = append(tokens, string(r))
			i++
		case r == '"':
			j := i + 1
			for j < len(src) && src[j] != '"' {
				j++
			}
			if j >= len(src) {
				tokens = append(tokens, src[i:])
				i = len(src)
				break
			}
			tokens = append(tokens, src[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(src) && !unicode.IsSpace(rune(src[j])) && src[j] != '(' && src[j] != ')' {
				j++
			}
			tokens = append(tokens, src[i:j])
			i = j
		}
	}
	return tokens
}

// parseAll reads every top-level form in src, per the 6 canonical
// scenarios' source style of sequential un-wrapped forms.
func parseAll(src string) ([]sexpr, error) {
	tokens := tokenize(src)
	pos := 0
	var forms []sexpr
	for pos < len(tokens) {
		form, next, err := parseOne(tokens, pos)
		if err != nil {
			return nil, err
		}
		forms = append(forms, form)
		pos = next
	}
	return forms, nil
}

func parseOne(tokens []string, pos int) (sexpr, int, error) {
	if pos >= len(tokens) {
		return nil, pos, errors.New("unexpected end of input")
	}
	if tokens[pos] == "(" {
		pos++
		var list []sexpr
		for pos < len(tokens) && tokens[pos] != ")" {
			elem, next, err := parseOne(tokens, pos)
			if err != nil {
				return nil, pos, err
			}
			list = append(list, elem)
			pos = next
		}
		if pos >= len(tokens) {
			return nil, pos, errors.New("unterminated list")
		}
		return list, pos + 1, nil
	}
	if tokens[pos] == ")" {
		return nil, pos, errors.New("unexpected ')'")
	}
	return tokens[pos], pos + 1, nil
}

// ParseProgram converts source text into the top-level node list
// compiler.CodeGen.Generate accepts.
func ParseProgram(src string) ([]compiler.Node, error) {
	forms, err := parseAll(src)
	if err != nil {
		return nil, err
	}
	nodes := make([]compiler.Node, 0, len(forms))
	for _, f := range forms {
		n, err := toNode(f)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func toNode(s sexpr) (compiler.Node, error) {
	switch v := s.(type) {
	case string:
		return atomToNode(v)
	case []sexpr:
		return listToNode(v)
	default:
		return nil, errors.Errorf("unrecognized form %#v", s)
	}
}

func atomToNode(tok string) (compiler.Node, error) {
	if len(tok) >= 2 && strings.HasPrefix(tok, `"`) && strings.HasSuffix(tok, `"`) {
		return compiler.Str{Value: tok[1 : len(tok)-1]}, nil
	}
	if n, err := strconv.ParseInt(tok, 10, 32); err == nil {
		return compiler.Number{Value: int32(n)}, nil
	}
	return compiler.Var{Name: tok}, nil
}

func stmtList(s sexpr) ([]compiler.Node, error) {
	list, ok := s.([]sexpr)
	if !ok {
		return nil, errors.Errorf("expected a statement list, got %#v", s)
	}
	out := make([]compiler.Node, 0, len(list))
	for _, elem := range list {
		n, err := toNode(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func symbolList(s sexpr) ([]string, error) {
	list, ok := s.([]sexpr)
	if !ok {
		return nil, errors.Errorf("expected a symbol list, got %#v", s)
	}
	out := make([]string, 0, len(list))
	for _, elem := range list {
		sym, ok := elem.(string)
		if !ok {
			return nil, errors.Errorf("expected a symbol, got %#v", elem)
		}
		out = append(out, sym)
	}
	return out, nil
}

func symbol(s sexpr) (string, error) {
	sym, ok := s.(string)
	if !ok {
		return "", errors.Errorf("expected a symbol, got %#v", s)
	}
	return sym, nil
}

func listToNode(v []sexpr) (compiler.Node, error) {
	if len(v) == 0 {
		return nil, errors.New("empty form")
	}
	head, ok := v[0].(string)
	if !ok {
		return nil, errors.Errorf("expected a symbol in head position, got %#v", v[0])
	}

	switch compiler.BinOp(head) {
	case compiler.OpAdd, compiler.OpSub, compiler.OpMul, compiler.OpDiv,
		compiler.OpEq, compiler.OpNe, compiler.OpLt, compiler.OpGt:
		if len(v) != 3 {
			return nil, errors.Errorf("%s: expected 2 operands, got %d", head, len(v)-1)
		}
		left, err := toNode(v[1])
		if err != nil {
			return nil, err
		}
		right, err := toNode(v[2])
		if err != nil {
			return nil, err
		}
		return compiler.Binop{Op: compiler.BinOp(head), Left: left, Right: right}, nil
	}

	switch head {
	case "var":
		name, err := symbol(v[1])
		if err != nil {
			return nil, err
		}
		switch {
		case len(v) == 2:
			return compiler.Var{Name: name}, nil
		case len(v) == 3:
			if sizeForm, ok := v[2].([]sexpr); ok && len(sizeForm) == 2 {
				if tag, _ := sizeForm[0].(string); tag == "size" {
					sizeStr, err := symbol(sizeForm[1])
					if err != nil {
						return nil, err
					}
					size, err := strconv.Atoi(sizeStr)
					if err != nil {
						return nil, errors.Wrapf(err, "var %s size", name)
					}
					return compiler.Var{Name: name, Size: size}, nil
				}
			}
			expr, err := toNode(v[2])
			if err != nil {
				return nil, err
			}
			return compiler.Var{Name: name, Expr: expr}, nil
		default:
			return nil, errors.Errorf("var: unexpected arity %d", len(v)-1)
		}
	case "set":
		name, err := symbol(v[1])
		if err != nil {
			return nil, err
		}
		expr, err := toNode(v[2])
		if err != nil {
			return nil, err
		}
		return compiler.Set{Name: name, Expr: expr}, nil
	case "if":
		cond, err := toNode(v[1])
		if err != nil {
			return nil, err
		}
		then, err := stmtList(v[2])
		if err != nil {
			return nil, err
		}
		var elseBody []compiler.Node
		if len(v) > 3 {
			elseBody, err = stmtList(v[3])
			if err != nil {
				return nil, err
			}
		}
		return compiler.If{Cond: cond, Then: then, Else: elseBody}, nil
	case "while":
		cond, err := toNode(v[1])
		if err != nil {
			return nil, err
		}
		body, err := stmtList(v[2])
		if err != nil {
			return nil, err
		}
		return compiler.While{Cond: cond, Body: body}, nil
	case "defunc":
		name, err := symbol(v[1])
		if err != nil {
			return nil, err
		}
		params, err := symbolList(v[2])
		if err != nil {
			return nil, err
		}
		body, err := stmtList(v[3])
		if err != nil {
			return nil, err
		}
		return compiler.Defunc{Name: name, Params: params, Body: body}, nil
	case "funcall":
		name, err := symbol(v[1])
		if err != nil {
			return nil, err
		}
		var args []compiler.Node
		if len(v) > 2 {
			args, err = stmtList(v[2])
			if err != nil {
				return nil, err
			}
		}
		return compiler.Funcall{Name: name, Args: args}, nil
	case "print_string":
		val, err := toNode(v[1])
		if err != nil {
			return nil, err
		}
		return compiler.PrintString{Value: val}, nil
	case "read_line":
		name, err := symbol(v[1])
		if err != nil {
			return nil, err
		}
		return compiler.ReadLine{Name: name}, nil
	case "get":
		array, err := symbol(v[1])
		if err != nil {
			return nil, err
		}
		index, err := toNode(v[2])
		if err != nil {
			return nil, err
		}
		return compiler.Get{Array: array, Index: index}, nil
	case "set_get":
		array, err := symbol(v[1])
		if err != nil {
			return nil, err
		}
		index, err := toNode(v[2])
		if err != nil {
			return nil, err
		}
		expr, err := toNode(v[3])
		if err != nil {
			return nil, err
		}
		return compiler.SetGet{Array: array, Index: index, Expr: expr}, nil
	default:
		return nil, errors.Errorf("unknown form %q", head)
	}
}
