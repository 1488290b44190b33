// Package protocol holds the coordinator/worker wire contract: the unframed
// availability poll and reply, the msgpack schemas carried inside frames, and
// the error taxonomy shared by both sides.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// PollMessage is the fixed, unframed availability check sent by the coordinator.
var PollMessage = []byte("FWPOLL01")

// Replies are bare case-insensitive tokens with no terminator.
const (
	ReplyYes = "yes"
	ReplyNo  = "no"
)

// WritePoll sends the availability check.
func WritePoll(w io.Writer) error {
	if _, err := w.Write(PollMessage); err != nil {
		return Transport("send poll", err)
	}
	return nil
}

// ReadPoll waits for the next availability check. A clean close before any byte
// arrives is reported as io.EOF so callers can end their loop quietly.
func ReadPoll(r io.Reader) error {
	buf := make([]byte, len(PollMessage))
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return &ProtocolError{Reason: "truncated availability check", Err: err}
		}
		return Transport("read poll", err)
	}
	if !bytes.Equal(buf, PollMessage) {
		return &ProtocolError{Reason: fmt.Sprintf("unexpected control message %q", buf)}
	}
	return nil
}

// WriteReply sends "yes" or "no".
func WriteReply(w io.Writer, available bool) error {
	reply := ReplyNo
	if available {
		reply = ReplyYes
	}
	if _, err := io.WriteString(w, reply); err != nil {
		return Transport("send reply", err)
	}
	return nil
}

// ReadReply parses a worker's answer to the availability check. It consumes
// exactly the token: two bytes for "no", three for "yes". Anything else is a
// ProtocolError.
func ReadReply(r io.Reader) (bool, error) {
	head := make([]byte, 2)
	if err := readReplyBytes(r, head); err != nil {
		return false, err
	}
	switch strings.ToLower(string(head)) {
	case ReplyNo:
		return false, nil
	case ReplyYes[:2]:
	default:
		return false, &ProtocolError{Reason: fmt.Sprintf("unexpected availability reply %q", head)}
	}

	tail := make([]byte, 1)
	if err := readReplyBytes(r, tail); err != nil {
		return false, err
	}
	if tail[0] != 's' && tail[0] != 'S' {
		return false, &ProtocolError{Reason: fmt.Sprintf("unexpected availability reply %q", append(head, tail...))}
	}
	return true, nil
}

func readReplyBytes(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return &ProtocolError{Reason: "connection closed before availability reply", Err: err}
		}
		return Transport("read reply", err)
	}
	return nil
}
