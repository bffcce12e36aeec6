package pmt

import (
	"bytes"
	"encoding/binary"
	"math"

	"go.fsdr.dev/flowgraph/internal/flowerr"
)

// Encode serializes p to a compact binary form. Round-tripping through
// Encode/Decode always reproduces the original value for every Kind except
// KindAny, whose payload is opaque by design (serialization of opaque
// message payloads is an explicit collaborator of this runtime, not part
// of it) — encoding a KindAny Pmt returns a PmtValueError.
func (p Pmt) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeInto(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeInto(buf *bytes.Buffer, p Pmt) error {
	buf.WriteByte(byte(p.kind))

	switch p.kind {
	case KindNull:
	case KindBool:
		if p.b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindInt:
		writeUint64(buf, uint64(p.i))
	case KindUInt:
		writeUint64(buf, p.u)
	case KindFloat:
		writeUint64(buf, math.Float64bits(p.f))
	case KindComplex:
		writeUint64(buf, math.Float64bits(real(p.c)))
		writeUint64(buf, math.Float64bits(imag(p.c)))
	case KindString:
		writeBytes(buf, []byte(p.s))
	case KindVectorF32:
		writeUint64(buf, uint64(len(p.vecF32)))
		for _, v := range p.vecF32 {
			var tmp [4]byte
			binary.BigEndian.PutUint32(tmp[:], math.Float32bits(v))
			buf.Write(tmp[:])
		}
	case KindBlob:
		writeBytes(buf, p.blob)
	case KindSeq:
		writeUint64(buf, uint64(len(p.seq)))
		for _, v := range p.seq {
			if err := encodeInto(buf, v); err != nil {
				return err
			}
		}
	case KindMap:
		writeUint64(buf, uint64(len(p.m)))
		for k, v := range p.m {
			writeBytes(buf, []byte(k))
			if err := encodeInto(buf, v); err != nil {
				return err
			}
		}
	case KindAny:
		return flowerr.New(flowerr.PmtValueError, "cannot encode opaque Any payload of type %T", p.any)
	default:
		return flowerr.New(flowerr.PmtValueError, "unknown Pmt kind %d", p.kind)
	}

	return nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint64(buf, uint64(len(b)))
	buf.Write(b)
}

// Decode parses a Pmt previously produced by Encode.
func Decode(data []byte) (Pmt, error) {
	r := bytes.NewReader(data)
	p, err := decodeFrom(r)
	if err != nil {
		return Pmt{}, err
	}
	if r.Len() != 0 {
		return Pmt{}, flowerr.New(flowerr.PmtValueError, "trailing %d bytes after decoding Pmt", r.Len())
	}
	return p, nil
}

func decodeFrom(r *bytes.Reader) (Pmt, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Pmt{}, flowerr.Wrap(flowerr.PmtValueError, err, "reading Pmt kind tag")
	}
	kind := Kind(kindByte)

	switch kind {
	case KindNull:
		return Null(), nil
	case KindBool:
		b, err := r.ReadByte()
		if err != nil {
			return Pmt{}, flowerr.Wrap(flowerr.PmtValueError, err, "reading Bool payload")
		}
		return Bool(b != 0), nil
	case KindInt:
		v, err := readUint64(r)
		if err != nil {
			return Pmt{}, err
		}
		return Int(int64(v)), nil
	case KindUInt:
		v, err := readUint64(r)
		if err != nil {
			return Pmt{}, err
		}
		return UInt(v), nil
	case KindFloat:
		v, err := readUint64(r)
		if err != nil {
			return Pmt{}, err
		}
		return Float(math.Float64frombits(v)), nil
	case KindComplex:
		re, err := readUint64(r)
		if err != nil {
			return Pmt{}, err
		}
		im, err := readUint64(r)
		if err != nil {
			return Pmt{}, err
		}
		return Complex(complex(math.Float64frombits(re), math.Float64frombits(im))), nil
	case KindString:
		b, err := readBytes(r)
		if err != nil {
			return Pmt{}, err
		}
		return String(string(b)), nil
	case KindVectorF32:
		n, err := readUint64(r)
		if err != nil {
			return Pmt{}, err
		}
		vec := make([]float32, n)
		for i := range vec {
			var tmp [4]byte
			if _, err := r.Read(tmp[:]); err != nil {
				return Pmt{}, flowerr.Wrap(flowerr.PmtValueError, err, "reading VectorF32 element %d", i)
			}
			vec[i] = math.Float32frombits(binary.BigEndian.Uint32(tmp[:]))
		}
		return Pmt{kind: KindVectorF32, vecF32: vec}, nil
	case KindBlob:
		b, err := readBytes(r)
		if err != nil {
			return Pmt{}, err
		}
		return Pmt{kind: KindBlob, blob: b}, nil
	case KindSeq:
		n, err := readUint64(r)
		if err != nil {
			return Pmt{}, err
		}
		seq := make([]Pmt, n)
		for i := range seq {
			v, err := decodeFrom(r)
			if err != nil {
				return Pmt{}, err
			}
			seq[i] = v
		}
		return Pmt{kind: KindSeq, seq: seq}, nil
	case KindMap:
		n, err := readUint64(r)
		if err != nil {
			return Pmt{}, err
		}
		m := make(map[string]Pmt, n)
		for i := uint64(0); i < n; i++ {
			key, err := readBytes(r)
			if err != nil {
				return Pmt{}, err
			}
			v, err := decodeFrom(r)
			if err != nil {
				return Pmt{}, err
			}
			m[string(key)] = v
		}
		return Pmt{kind: KindMap, m: m}, nil
	default:
		return Pmt{}, flowerr.New(flowerr.PmtValueError, "unknown Pmt kind tag %d", kindByte)
	}
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return 0, flowerr.Wrap(flowerr.PmtValueError, err, "reading length/value field")
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(out); err != nil {
			return nil, flowerr.Wrap(flowerr.PmtValueError, err, "reading %d byte field", n)
		}
	}
	return out, nil
}
