package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRegistered(t *testing.T) {
	assert.NoError(t, ensureCodec())
}

func TestCodecRoundTrip(t *testing.T) {
	codec := msgpackCodec{}
	in := &GetChangesRequest{StreamID: "s1", TabletID: "t1", LastReadableOpIndex: 9}

	data, err := codec.Marshal(in)
	require.NoError(t, err)

	out := new(GetChangesRequest)
	require.NoError(t, codec.Unmarshal(data, out))
	assert.Equal(t, in, out)
}
