package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"testing/iotest"

	"github.com/andresmejia3/fogwatch/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRecvRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"small", []byte("hello fog")},
		{"binary", bytes.Repeat([]byte{0x00, 0xff, 0x10}, 5000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Send(&buf, tt.payload))
			assert.Equal(t, HeaderSize+len(tt.payload), buf.Len())
			assert.Equal(t, uint64(len(tt.payload)), binary.BigEndian.Uint64(buf.Bytes()[:HeaderSize]))

			got, err := Recv(&buf, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
			assert.Zero(t, buf.Len())
		})
	}
}

func TestRecvHandlesShortReads(t *testing.T) {
	payload := bytes.Repeat([]byte("abc"), 1000)
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, payload))

	got, err := Recv(iotest.OneByteReader(&buf), 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestRecvLeavesNextFrameUnread(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, []byte("first")))
	require.NoError(t, Send(&buf, []byte("second")))

	first, err := Recv(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", string(first))

	second, err := Recv(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "second", string(second))
}

func TestRecvErrors(t *testing.T) {
	header := func(n uint64) []byte {
		h := make([]byte, HeaderSize)
		binary.BigEndian.PutUint64(h, n)
		return h
	}

	tests := []struct {
		name    string
		input   []byte
		max     uint64
		wantMsg string
	}{
		{"no bytes", nil, 0, "missing length header"},
		{"partial header", []byte{0, 0, 1}, 0, "missing length header"},
		{"closed mid-frame", append(header(10), []byte("abc")...), 0, "connection closed mid-frame (3 of 10 bytes)"},
		{"over limit", header(2048), 1024, "exceeds limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Recv(bytes.NewReader(tt.input), tt.max)
			require.Error(t, err)

			var pe *protocol.ProtocolError
			require.True(t, errors.As(err, &pe), "expected protocol error, got %T", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestRecvTransportFailure(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := Recv(iotest.ErrReader(boom), 0)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, "transport", protocol.Kind(err))
}

type shortWriter struct{ limit int }

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		return w.limit, nil
	}
	return len(p), nil
}

func TestSendShortWrite(t *testing.T) {
	err := Send(&shortWriter{limit: 4}, []byte("payload"))
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, "transport", protocol.Kind(err))
}

func TestSendRecvOverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	payload := bytes.Repeat([]byte{7}, 70000)
	errc := make(chan error, 1)
	go func() { errc <- Send(a, payload) }()

	got, err := Recv(b, 0)
	require.NoError(t, err)
	require.NoError(t, <-errc)
	assert.Equal(t, payload, got)
}
