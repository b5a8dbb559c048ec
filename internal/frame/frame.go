// Package frame implements the 6-byte RDT wire header: pack/unpack,
// corruption detection, and the zero-payload ACK constructor.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/coursenet/rdt/internal/checksum"
)

// Frame type values (§3 of the spec: 11 = ACK, 12 = DATA).
const (
	TypeACK  uint8 = 11
	TypeData uint8 = 12
)

// HeaderSize is the fixed 6-byte header: type(1) seq(1) checksum(2) payload_len(2).
const HeaderSize = 6

// Payload is the maximum application bytes carried by one DATA frame.
const Payload = 1000

// Frame is the decoded representation of one wire frame.
type Frame struct {
	Type     uint8
	Seq      uint8
	Checksum uint16
	Payload  []byte
}

// Pack serializes typ/seq/payload into a wire frame, computing the
// checksum with the checksum field zeroed first, per §4.1.
func Pack(typ, seq uint8, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = typ
	buf[1] = seq
	// buf[2:4] checksum left zero for the computation pass.
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)

	sum := checksum.Compute(buf)
	binary.BigEndian.PutUint16(buf[2:4], sum)
	return buf
}

// Ack builds a well-formed zero-payload ACK frame for the given sequence.
func Ack(seq uint8) []byte {
	return Pack(TypeACK, seq, nil)
}

// Unpack decodes a wire frame. It does not validate the checksum; call
// IsCorrupt separately, matching the reference implementation's split
// between unpack_msg and check_if_corrupt.
func Unpack(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, fmt.Errorf("frame: short header: %d bytes", len(b))
	}
	payloadLen := binary.BigEndian.Uint16(b[4:6])
	if len(b) < HeaderSize+int(payloadLen) {
		return Frame{}, fmt.Errorf("frame: truncated payload: have %d want %d", len(b)-HeaderSize, payloadLen)
	}
	f := Frame{
		Type:     b[0],
		Seq:      b[1],
		Checksum: binary.BigEndian.Uint16(b[2:4]),
		Payload:  append([]byte(nil), b[HeaderSize:HeaderSize+int(payloadLen)]...),
	}
	return f, nil
}

// IsCorrupt recomputes the checksum over b with the checksum field
// zeroed and reports whether it disagrees with the carried value.
func IsCorrupt(b []byte) bool {
	if len(b) < HeaderSize {
		return true
	}
	want := binary.BigEndian.Uint16(b[2:4])
	scratch := make([]byte, len(b))
	copy(scratch, b)
	scratch[2], scratch[3] = 0, 0
	return checksum.Compute(scratch) != want
}
