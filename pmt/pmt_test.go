package pmt_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.fsdr.dev/flowgraph/pmt"
)

func TestEqual_Scalars(t *testing.T) {
	assert.True(t, pmt.Int(42).Equal(pmt.Int(42)))
	assert.False(t, pmt.Int(42).Equal(pmt.Int(43)))
	assert.False(t, pmt.Int(42).Equal(pmt.UInt(42)))
	assert.True(t, pmt.String("hi").Equal(pmt.String("hi")))
}

func TestEqual_NaN(t *testing.T) {
	nan := pmt.Float(math.NaN())
	assert.False(t, nan.Equal(nan), "NaN must not equal itself, per IEEE-754")
	assert.True(t, pmt.Float(1.5).Equal(pmt.Float(1.5)))
}

func TestEqual_Composite(t *testing.T) {
	a := pmt.Seq(pmt.Int(1), pmt.String("x"), pmt.VectorF32([]float32{1, 2, 3}))
	b := pmt.Seq(pmt.Int(1), pmt.String("x"), pmt.VectorF32([]float32{1, 2, 3}))
	assert.True(t, a.Equal(b))

	m1 := pmt.Map(map[string]pmt.Pmt{"a": pmt.Int(1), "b": pmt.Bool(true)})
	m2 := pmt.Map(map[string]pmt.Pmt{"b": pmt.Bool(true), "a": pmt.Int(1)})
	assert.True(t, m1.Equal(m2))
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []pmt.Pmt{
		pmt.Null(),
		pmt.Bool(true),
		pmt.Bool(false),
		pmt.Int(-7),
		pmt.UInt(7),
		pmt.Float(3.25),
		pmt.Complex(complex(1, -2)),
		pmt.String("hello, flowgraph"),
		pmt.VectorF32([]float32{1, 2, 3, 4}),
		pmt.Blob([]byte{0xde, 0xad, 0xbe, 0xef}),
		pmt.Seq(pmt.Int(1), pmt.String("nested"), pmt.Seq(pmt.Bool(true))),
		pmt.Map(map[string]pmt.Pmt{"k1": pmt.Int(1), "k2": pmt.String("v")}),
	}

	for _, c := range cases {
		data, err := c.Encode()
		require.NoError(t, err)

		got, err := pmt.Decode(data)
		require.NoError(t, err)

		if diff := cmp.Diff(c, got, cmp.Comparer(func(a, b pmt.Pmt) bool {
			return a.Equal(b)
		})); diff != "" {
			t.Errorf("round trip mismatch for kind %v (-want +got):\n%s", c.Kind(), diff)
		}
	}
}

type cloneableTag struct{ v int }

func (c cloneableTag) Clone() pmt.Any { return c }
func (c cloneableTag) EqualAny(o pmt.Any) bool {
	other, ok := o.(cloneableTag)
	return ok && other.v == c.v
}

func TestEncode_AnyIsNotSerializable(t *testing.T) {
	p := pmt.AnyValue(cloneableTag{v: 1})
	_, err := p.Encode()
	require.Error(t, err)
}

func TestEqual_Any(t *testing.T) {
	a := pmt.AnyValue(cloneableTag{v: 1})
	b := pmt.AnyValue(cloneableTag{v: 1})
	c := pmt.AnyValue(cloneableTag{v: 2})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
