package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrParse is returned for malformed type expressions.
var ErrParse = errors.New("schema: invalid type expression")

var primitivesByName = map[string]ScalarKind{
	"bool":   Bool,
	"int32":  Int32,
	"int":    Int64,
	"float":  Float32,
	"double": Float64,
	"str":    String,
	"bytes":  Binary,
}

// Parse parses a type expression into a schema node. Bare identifiers that
// are not primitive names parse as extension type names; resolution against a
// registry happens later, at conversion time.
func Parse(expr string) (Node, error) {
	p := &parser{in: expr}
	n, err := p.parseNode()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.in) {
		return nil, fmt.Errorf("%w: trailing input in %q", ErrParse, expr)
	}
	return n, nil
}

// MustParse is Parse for statically known expressions; it panics on error.
func MustParse(expr string) Node {
	n, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return n
}

type parser struct {
	in  string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.in) && (p.in[p.pos] == ' ' || p.in[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos < len(p.in) {
		return p.in[p.pos]
	}
	return 0
}

func (p *parser) parseNode() (Node, error) {
	p.skipSpace()
	switch p.peek() {
	case '[':
		return p.parseList()
	case '{':
		return p.parseStruct()
	default:
		return p.parseName()
	}
}

func (p *parser) parseList() (Node, error) {
	p.pos++ // consume '['
	elem, err := p.parseNode()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	size := 0
	if p.peek() == ':' {
		p.pos++
		start := p.pos
		for p.pos < len(p.in) && p.in[p.pos] >= '0' && p.in[p.pos] <= '9' {
			p.pos++
		}
		size, err = strconv.Atoi(p.in[start:p.pos])
		if err != nil || size <= 0 {
			return nil, fmt.Errorf("%w: bad fixed list size in %q", ErrParse, p.in)
		}
	}
	p.skipSpace()
	if p.peek() != ']' {
		return nil, fmt.Errorf("%w: unterminated list in %q", ErrParse, p.in)
	}
	p.pos++
	return &List{Elem: elem, FixedSize: size}, nil
}

func (p *parser) parseStruct() (Node, error) {
	p.pos++ // consume '{'
	st := &Struct{}
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return st, nil
		}
		name := p.readIdent()
		if name == "" {
			return nil, fmt.Errorf("%w: expected field name in %q", ErrParse, p.in)
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, fmt.Errorf("%w: expected ':' after field %q", ErrParse, name)
		}
		p.pos++
		node, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		st.Fields = append(st.Fields, Field{Name: name, Node: node})
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
		default:
			return nil, fmt.Errorf("%w: expected ',' or '}' in %q", ErrParse, p.in)
		}
	}
}

func (p *parser) parseName() (Node, error) {
	name := p.readIdent()
	if name == "" {
		return nil, fmt.Errorf("%w: expected type name in %q", ErrParse, p.in)
	}
	if kind, ok := primitivesByName[name]; ok {
		return Primitive{Kind: kind}, nil
	}
	return Extension{Name: name}, nil
}

func (p *parser) readIdent() string {
	start := p.pos
	for p.pos < len(p.in) {
		c := p.in[p.pos]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		break
	}
	return p.in[start:p.pos]
}

// ParseFields parses an ordered list of (name, type expression) pairs, the
// form in which dataset schemas are declared in spec.json.
func ParseFields(pairs [][2]string) ([]Field, error) {
	fields := make([]Field, 0, len(pairs))
	for _, pr := range pairs {
		node, err := Parse(pr[1])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", pr[0], err)
		}
		name := strings.TrimSpace(pr[0])
		if name == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrParse)
		}
		fields = append(fields, Field{Name: name, Node: node})
	}
	return fields, nil
}
