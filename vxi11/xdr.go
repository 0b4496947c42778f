package vxi11

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Minimal XDR (RFC 4506) encoding for the handful of types the VXI-11 core
// channel uses: unsigned 32-bit integers and variable-length opaques padded to
// a 4-byte boundary.

var errXDRShortBuffer = errors.New("xdr: short buffer")

// xdrEncoder appends XDR-encoded values to a byte slice.
type xdrEncoder struct {
	buf []byte
}

func newXDREncoder() *xdrEncoder {
	return &xdrEncoder{buf: make([]byte, 0, 64)}
}

func (e *xdrEncoder) bytes() []byte { return e.buf }

func (e *xdrEncoder) putUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

// putOpaque encodes a variable-length opaque: length, data, zero padding to a
// 4-byte boundary.
func (e *xdrEncoder) putOpaque(data []byte) {
	e.putUint32(uint32(len(data)))
	e.buf = append(e.buf, data...)
	if pad := len(data) % 4; pad != 0 {
		e.buf = append(e.buf, make([]byte, 4-pad)...)
	}
}

func (e *xdrEncoder) putString(s string) {
	e.putOpaque([]byte(s))
}

// xdrDecoder consumes XDR-encoded values from a byte slice.
type xdrDecoder struct {
	buf []byte
	off int
}

func newXDRDecoder(buf []byte) *xdrDecoder {
	return &xdrDecoder{buf: buf}
}

func (d *xdrDecoder) uint32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, errXDRShortBuffer
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4

	return v, nil
}

func (d *xdrDecoder) opaque() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	if n > uint32(len(d.buf)-d.off) {
		return nil, fmt.Errorf("xdr: opaque length %d exceeds buffer", n)
	}

	data := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	if pad := int(n) % 4; pad != 0 {
		if d.off+4-pad > len(d.buf) {
			return nil, errXDRShortBuffer
		}
		d.off += 4 - pad
	}

	return data, nil
}

// skipOpaque discards a variable-length opaque, used for RPC auth verifiers.
func (d *xdrDecoder) skipOpaque() error {
	_, err := d.opaque()
	return err
}
