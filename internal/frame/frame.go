// Package frame moves opaque payloads over a byte stream as
// [8-byte big-endian length][payload] units.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/andresmejia3/fogwatch/internal/protocol"
)

// HeaderSize is the width of the length prefix.
const HeaderSize = 8

// DefaultMaxSize bounds the payload a receiver is willing to allocate for.
const DefaultMaxSize = 64 << 20

// Send writes the length prefix followed by the full payload. It only returns nil
// once the transport accepted every byte.
func Send(w io.Writer, payload []byte) error {
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(header, uint64(len(payload)))

	bufs := net.Buffers{header, payload}
	want := int64(HeaderSize + len(payload))
	n, err := bufs.WriteTo(w)
	if err != nil {
		return protocol.Transport("send frame", err)
	}
	if n != want {
		return protocol.Transport("send frame", fmt.Errorf("%w: wrote %d of %d bytes", io.ErrShortWrite, n, want))
	}
	return nil
}

// Recv reads one frame. maxSize caps the declared length; zero means DefaultMaxSize.
//
// Reads are clipped to the remaining deficit so bytes of the next frame stay in r.
func Recv(r io.Reader, maxSize uint64) ([]byte, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}

	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &protocol.ProtocolError{Reason: "missing length header", Err: err}
		}
		return nil, protocol.Transport("read frame header", err)
	}

	length := binary.BigEndian.Uint64(header)
	if length > maxSize {
		return nil, &protocol.ProtocolError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit of %d", length, maxSize)}
	}

	payload := make([]byte, length)
	var got uint64
	for got < length {
		n, err := r.Read(payload[got:length])
		got += uint64(n)
		if got == length {
			break
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, protocol.Transport("read frame payload", err)
		}
		if n == 0 {
			return nil, &protocol.ProtocolError{
				Reason: fmt.Sprintf("connection closed mid-frame (%d of %d bytes)", got, length),
			}
		}
	}
	return payload, nil
}
