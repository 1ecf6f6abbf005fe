package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint64Bytes(t *testing.T) {
	for _, v := range []uint64{0, 1, 255, 1 << 40} {
		assert.Equal(t, v, ConvertBytesToUint64(ConvertUint64ToBytes(v)))
	}
}

func TestMsgPack(t *testing.T) {
	type payload struct {
		Name  string
		Count int64
		Tags  map[string]string
	}
	in := payload{Name: "a", Count: 7, Tags: map[string]string{"k": "v"}}

	buf, err := EncodeMsgPack(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, DecodeMsgPack(buf.Bytes(), &out))
	assert.Equal(t, in, out)
}
