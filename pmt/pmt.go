// Package pmt implements the polymorphic message type (Pmt) used both as
// the payload of message-port calls and as the value carried by item tags.
//
// A Pmt is a tagged union over scalars, strings, ordered sequences, string
// keyed maps, byte blobs, and an opaque cloneable "any" payload for callers
// who need a closed-world escape hatch. Equality is structural; float
// comparison follows IEEE-754 (NaN != NaN), which Go's native == already
// gives us, so Equal never special-cases it.
package pmt

import (
	"fmt"
	"math"
	"reflect"
)

// Kind discriminates the union member held by a Pmt.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUInt
	KindFloat
	KindComplex
	KindString
	KindVectorF32
	KindBlob
	KindSeq
	KindMap
	KindAny
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindUInt:
		return "UInt"
	case KindFloat:
		return "Float"
	case KindComplex:
		return "Complex"
	case KindString:
		return "String"
	case KindVectorF32:
		return "VectorF32"
	case KindBlob:
		return "Blob"
	case KindSeq:
		return "Seq"
	case KindMap:
		return "Map"
	case KindAny:
		return "Any"
	default:
		return "Unknown"
	}
}

// Any is the opaque-payload capability: a type-erased, cloneable value
// that a Pmt of KindAny carries. Consumers downcast with a type switch or
// assertion on the concrete type they expect.
type Any interface {
	Clone() Any
}

// EqualAny is implemented by Any payloads that support structural
// equality; payloads that don't are compared with Go's == when both have
// the same comparable dynamic type, and otherwise compare unequal.
type EqualAny interface {
	Any
	EqualAny(Any) bool
}

// Pmt is an immutable polymorphic value. The zero value is Null.
type Pmt struct {
	kind   Kind
	b      bool
	i      int64
	u      uint64
	f      float64
	c      complex128
	s      string
	vecF32 []float32
	blob   []byte
	seq    []Pmt
	m      map[string]Pmt
	any    Any
}

func Null() Pmt                { return Pmt{kind: KindNull} }
func Bool(v bool) Pmt          { return Pmt{kind: KindBool, b: v} }
func Int(v int64) Pmt          { return Pmt{kind: KindInt, i: v} }
func UInt(v uint64) Pmt         { return Pmt{kind: KindUInt, u: v} }
func Float(v float64) Pmt      { return Pmt{kind: KindFloat, f: v} }
func Complex(v complex128) Pmt { return Pmt{kind: KindComplex, c: v} }
func String(v string) Pmt      { return Pmt{kind: KindString, s: v} }

// VectorF32 builds a Pmt over a copy of v, so the Pmt stays immutable even
// if the caller mutates their slice afterwards.
func VectorF32(v []float32) Pmt {
	cp := make([]float32, len(v))
	copy(cp, v)
	return Pmt{kind: KindVectorF32, vecF32: cp}
}

// Blob builds a Pmt over a copy of v.
func Blob(v []byte) Pmt {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Pmt{kind: KindBlob, blob: cp}
}

// Seq builds an ordered sequence Pmt.
func Seq(items ...Pmt) Pmt {
	cp := make([]Pmt, len(items))
	copy(cp, items)
	return Pmt{kind: KindSeq, seq: cp}
}

// Map builds an unordered string-keyed map Pmt. The input map is copied.
func Map(m map[string]Pmt) Pmt {
	cp := make(map[string]Pmt, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Pmt{kind: KindMap, m: cp}
}

// AnyValue wraps an opaque cloneable payload.
func AnyValue(v Any) Pmt {
	return Pmt{kind: KindAny, any: v}
}

func (p Pmt) Kind() Kind { return p.kind }

func (p Pmt) AsBool() (bool, bool)       { return p.b, p.kind == KindBool }
func (p Pmt) AsInt() (int64, bool)       { return p.i, p.kind == KindInt }
func (p Pmt) AsUInt() (uint64, bool)     { return p.u, p.kind == KindUInt }
func (p Pmt) AsFloat() (float64, bool)   { return p.f, p.kind == KindFloat }
func (p Pmt) AsComplex() (complex128, bool) { return p.c, p.kind == KindComplex }
func (p Pmt) AsString() (string, bool)   { return p.s, p.kind == KindString }

func (p Pmt) AsVectorF32() ([]float32, bool) {
	if p.kind != KindVectorF32 {
		return nil, false
	}
	cp := make([]float32, len(p.vecF32))
	copy(cp, p.vecF32)
	return cp, true
}

func (p Pmt) AsBlob() ([]byte, bool) {
	if p.kind != KindBlob {
		return nil, false
	}
	cp := make([]byte, len(p.blob))
	copy(cp, p.blob)
	return cp, true
}

func (p Pmt) AsSeq() ([]Pmt, bool) {
	if p.kind != KindSeq {
		return nil, false
	}
	cp := make([]Pmt, len(p.seq))
	copy(cp, p.seq)
	return cp, true
}

func (p Pmt) AsMap() (map[string]Pmt, bool) {
	if p.kind != KindMap {
		return nil, false
	}
	cp := make(map[string]Pmt, len(p.m))
	for k, v := range p.m {
		cp[k] = v
	}
	return cp, true
}

func (p Pmt) AsAny() (Any, bool) { return p.any, p.kind == KindAny }

// Equal reports structural equality. Float and Complex comparisons use
// Go's native == which already implements IEEE-754 (NaN != NaN, and the
// imaginary/real parts of Complex are compared the same way).
func (p Pmt) Equal(o Pmt) bool {
	if p.kind != o.kind {
		return false
	}
	switch p.kind {
	case KindNull:
		return true
	case KindBool:
		return p.b == o.b
	case KindInt:
		return p.i == o.i
	case KindUInt:
		return p.u == o.u
	case KindFloat:
		return p.f == o.f
	case KindComplex:
		return p.c == o.c
	case KindString:
		return p.s == o.s
	case KindVectorF32:
		if len(p.vecF32) != len(o.vecF32) {
			return false
		}
		for i := range p.vecF32 {
			if p.vecF32[i] != o.vecF32[i] {
				return false
			}
		}
		return true
	case KindBlob:
		if len(p.blob) != len(o.blob) {
			return false
		}
		for i := range p.blob {
			if p.blob[i] != o.blob[i] {
				return false
			}
		}
		return true
	case KindSeq:
		if len(p.seq) != len(o.seq) {
			return false
		}
		for i := range p.seq {
			if !p.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(p.m) != len(o.m) {
			return false
		}
		for k, v := range p.m {
			ov, ok := o.m[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	case KindAny:
		if p.any == nil || o.any == nil {
			return p.any == o.any
		}
		if eq, ok := p.any.(EqualAny); ok {
			return eq.EqualAny(o.any)
		}
		if t := reflect.TypeOf(p.any); t != reflect.TypeOf(o.any) || !t.Comparable() {
			return false
		}
		return p.any == o.any
	default:
		return false
	}
}

// IsNaN reports whether p is a Float holding NaN, a convenience for
// callers that want to special-case the one value never equal to itself.
func (p Pmt) IsNaN() bool {
	return p.kind == KindFloat && math.IsNaN(p.f)
}

func (p Pmt) String() string {
	switch p.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", p.b)
	case KindInt:
		return fmt.Sprintf("%d", p.i)
	case KindUInt:
		return fmt.Sprintf("%d", p.u)
	case KindFloat:
		return fmt.Sprintf("%g", p.f)
	case KindComplex:
		return fmt.Sprintf("%v", p.c)
	case KindString:
		return fmt.Sprintf("%q", p.s)
	case KindVectorF32:
		return fmt.Sprintf("f32vec(len=%d)", len(p.vecF32))
	case KindBlob:
		return fmt.Sprintf("blob(len=%d)", len(p.blob))
	case KindSeq:
		return fmt.Sprintf("seq(len=%d)", len(p.seq))
	case KindMap:
		return fmt.Sprintf("map(len=%d)", len(p.m))
	case KindAny:
		return fmt.Sprintf("any(%T)", p.any)
	default:
		return "unknown"
	}
}
