package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	payload := []byte("hello, reliable world")
	raw := Pack(TypeData, 7, payload)

	require.False(t, IsCorrupt(raw))

	fr, err := Unpack(raw)
	require.NoError(t, err)
	require.Equal(t, TypeData, fr.Type)
	require.Equal(t, uint8(7), fr.Seq)
	require.Equal(t, payload, fr.Payload)
}

func TestAck_IsWellFormed(t *testing.T) {
	raw := Ack(42)
	require.Len(t, raw, HeaderSize)
	require.False(t, IsCorrupt(raw))

	fr, err := Unpack(raw)
	require.NoError(t, err)
	require.Equal(t, TypeACK, fr.Type)
	require.Equal(t, uint8(42), fr.Seq)
	require.Empty(t, fr.Payload)
}

func TestIsCorrupt_DetectsFlippedByte(t *testing.T) {
	raw := Pack(TypeData, 1, []byte("x"))
	raw[len(raw)-1] ^= 0xFF
	require.True(t, IsCorrupt(raw))
}

func TestIsCorrupt_ShortFrame(t *testing.T) {
	require.True(t, IsCorrupt([]byte{1, 2, 3}))
}

func TestUnpack_RejectsTruncatedPayload(t *testing.T) {
	raw := Pack(TypeData, 1, []byte("hello"))
	_, err := Unpack(raw[:len(raw)-2])
	require.Error(t, err)
}

func FuzzUnpack_NoPanic(f *testing.F) {
	f.Add(Pack(TypeData, 3, []byte("seed")))
	f.Add(Ack(9))
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, raw []byte) {
		IsCorrupt(raw)
		_, _ = Unpack(raw)
	})
}
