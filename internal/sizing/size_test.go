package sizing

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOverflow = errors.New("overflow")

func TestNeeds64(t *testing.T) {
	t.Parallel()

	assert.False(t, Needs64(0))
	assert.False(t, Needs64(math.MaxUint32-1))
	assert.True(t, Needs64(math.MaxUint32))
	assert.True(t, Needs64(1<<32))
}

func TestAdd(t *testing.T) {
	t.Parallel()

	sum, err := Add(1, 2, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum)

	_, err = Add(math.MaxUint64, 1, errOverflow)
	assert.ErrorIs(t, err, errOverflow)
}

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	data, err := ReadAllWithLimit(bytes.NewReader([]byte("hello")), 5, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = ReadAllWithLimit(bytes.NewReader([]byte("hello!")), 5, errOverflow)
	assert.ErrorIs(t, err, errOverflow)

	data, err = ReadAllWithLimit(bytes.NewReader([]byte("unbounded")), 0, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, "unbounded", string(data))
}
