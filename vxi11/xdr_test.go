package vxi11

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXDR_Uint32RoundTrip(t *testing.T) {
	enc := newXDREncoder()
	enc.putUint32(0)
	enc.putUint32(0x0607AF)
	enc.putUint32(0xFFFFFFFF)

	dec := newXDRDecoder(enc.bytes())
	for _, want := range []uint32{0, 0x0607AF, 0xFFFFFFFF} {
		got, err := dec.uint32()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := dec.uint32()
	assert.ErrorIs(t, err, errXDRShortBuffer)
}

func TestXDR_OpaquePadding(t *testing.T) {
	enc := newXDREncoder()
	enc.putString("inst0") // 5 bytes, padded to 8
	enc.putUint32(7)

	assert.Len(t, enc.bytes(), 4+8+4)

	dec := newXDRDecoder(enc.bytes())
	data, err := dec.opaque()
	require.NoError(t, err)
	assert.Equal(t, "inst0", string(data))

	tail, err := dec.uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), tail)
}

func TestXDR_OpaqueTruncated(t *testing.T) {
	enc := newXDREncoder()
	enc.putUint32(64) // claims 64 bytes, none follow

	dec := newXDRDecoder(enc.bytes())
	_, err := dec.opaque()
	assert.Error(t, err)
}

func TestDeviceErr(t *testing.T) {
	assert.NoError(t, deviceErr(errNoError))

	err := deviceErr(errDeviceLocked)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")

	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, uint32(errDeviceLocked), devErr.Code)
}
