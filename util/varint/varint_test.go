package varint

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactSize(t *testing.T) {
	assert.Equal(t, uint64(1), CompactSize(0))
	assert.Equal(t, uint64(1), CompactSize(252))
	assert.Equal(t, uint64(3), CompactSize(253))
	assert.Equal(t, uint64(3), CompactSize(0xffff))
	assert.Equal(t, uint64(5), CompactSize(0x10000))
	assert.Equal(t, uint64(9), CompactSize(0x100000000))
}

func TestKnownEncodings(t *testing.T) {
	tests := []struct {
		n    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x00}},
		{255, []byte{0x80, 0x7f}},
		{256, []byte{0x81, 0x00}},
		{16383, []byte{0xfe, 0x7f}},
		{16384, []byte{0xff, 0x00}},
		{16511, []byte{0xff, 0x7f}},
		{65535, []byte{0x82, 0xfe, 0x7f}},
	}

	for _, tt := range tests {
		got := Put(nil, tt.n)
		assert.Equal(t, tt.want, got, "encode %d", tt.n)
		assert.Equal(t, len(tt.want), Size(tt.n))

		n, err := Read(bytes.NewReader(got))
		require.NoError(t, err)
		assert.Equal(t, tt.n, n)
	}
}

func TestMaxValue(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Write(buf, ^uint64(0)))

	n, err := Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), n)
}

func TestTruncated(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{0x80}))
	require.Error(t, err)
}
