package tag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.fsdr.dev/flowgraph/pmt"
	"go.fsdr.dev/flowgraph/tag"
)

func TestEqual(t *testing.T) {
	assert.True(t, tag.ID(42).Equal(tag.ID(42)))
	assert.False(t, tag.ID(42).Equal(tag.ID(43)))
	assert.True(t, tag.Data(pmt.Int(1)).Equal(tag.Data(pmt.Int(1))))
	assert.False(t, tag.ID(1).Equal(tag.Str("1")))
}

func TestPropagate_OneToOne(t *testing.T) {
	in := []tag.ItemTag{{Index: 4, Tag: tag.ID(42)}}
	out := tag.Propagate(in, 10, 10)
	assert.Equal(t, []tag.ItemTag{{Index: 4, Tag: tag.ID(42)}}, out)
}

func TestPropagate_FloorMapped(t *testing.T) {
	in := []tag.ItemTag{{Index: 5, Tag: tag.ID(1)}}
	// consumed 10 inputs produce 5 outputs: a 2:1 downsample.
	out := tag.Propagate(in, 10, 5)
	assert.Len(t, out, 1)
	assert.Equal(t, 2, out[0].Index)
}

func TestPropagate_OutOfRangeDropped(t *testing.T) {
	in := []tag.ItemTag{{Index: 20, Tag: tag.ID(1)}}
	out := tag.Propagate(in, 10, 10)
	assert.Empty(t, out)
}

func TestPropagate_ZeroConsumedOrProduced(t *testing.T) {
	in := []tag.ItemTag{{Index: 0, Tag: tag.ID(1)}}
	assert.Empty(t, tag.Propagate(in, 0, 5))
	assert.Empty(t, tag.Propagate(in, 5, 0))
}
