package objectid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexRoundTrip(t *testing.T) {
	gen, err := NewGenerator()
	require.NoError(t, err)
	id := gen.New()

	parsed, err := FromHex(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestMonotonicCounterWithinProcess(t *testing.T) {
	gen, err := NewGenerator()
	require.NoError(t, err)

	var prev ObjectID
	for i := 0; i < 1000; i++ {
		cur := gen.New()
		if i > 0 && cur.Timestamp() == prev.Timestamp() {
			assert.Greater(t, counterOf(cur), counterOf(prev))
		}
		prev = cur
	}
}

func counterOf(id ObjectID) uint32 {
	return uint32(id[9])<<16 | uint32(id[10])<<8 | uint32(id[11])
}

func TestIsValidHex(t *testing.T) {
	gen, err := NewGenerator()
	require.NoError(t, err)
	id := gen.New()
	assert.True(t, IsValidHex(id.Hex()))
	assert.False(t, IsValidHex("not-valid"))
	assert.False(t, IsValidHex("abc"))
}
