package protocol

import (
	"bytes"
	"fmt"

	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

// SchemaVersion is stamped on every structured payload.
const SchemaVersion = 1

type assignmentMsg struct {
	Version uint8           `msgpack:"v"`
	Classes []types.ClassID `msgpack:"classes"`
}

// ClassResult is one class entry of a worker's result. Error is set when the
// detector could not evaluate the class; Detections is then empty.
type ClassResult struct {
	Class      types.ClassID     `msgpack:"class"`
	Detections []types.Detection `msgpack:"detections"`
	Error      string            `msgpack:"error,omitempty"`
}

type resultMsg struct {
	Version uint8         `msgpack:"v"`
	Classes []ClassResult `msgpack:"classes"`
}

// EncodeAssignment serializes an assignment.
func EncodeAssignment(a types.Assignment) ([]byte, error) {
	return msgpack.Marshal(&assignmentMsg{Version: SchemaVersion, Classes: a})
}

// DecodeAssignment parses an assignment frame. Duplicated ids are rejected.
func DecodeAssignment(b []byte) (types.Assignment, error) {
	var msg assignmentMsg
	if err := unmarshalStrict(b, &msg); err != nil {
		return nil, &DecodeError{What: "assignment", Err: err}
	}
	if msg.Version != SchemaVersion {
		return nil, &DecodeError{What: "assignment", Err: fmt.Errorf("unsupported schema version %d", msg.Version)}
	}
	seen := make(map[types.ClassID]bool, len(msg.Classes))
	for _, id := range msg.Classes {
		if seen[id] {
			return nil, &DecodeError{What: "assignment", Err: fmt.Errorf("class %d listed twice", id)}
		}
		seen[id] = true
	}
	return types.Assignment(msg.Classes), nil
}

// EncodeResult serializes a worker's per-class results.
func EncodeResult(classes []ClassResult) ([]byte, error) {
	return msgpack.Marshal(&resultMsg{Version: SchemaVersion, Classes: classes})
}

// DecodeResult parses a result frame. Every class may appear at most once.
func DecodeResult(b []byte) ([]ClassResult, error) {
	var msg resultMsg
	if err := unmarshalStrict(b, &msg); err != nil {
		return nil, &DecodeError{What: "detection result", Err: err}
	}
	if msg.Version != SchemaVersion {
		return nil, &DecodeError{What: "detection result", Err: fmt.Errorf("unsupported schema version %d", msg.Version)}
	}
	seen := make(map[types.ClassID]bool, len(msg.Classes))
	for _, cr := range msg.Classes {
		if seen[cr.Class] {
			return nil, &DecodeError{What: "detection result", Err: fmt.Errorf("class %d reported twice", cr.Class)}
		}
		seen[cr.Class] = true
	}
	return msg.Classes, nil
}

func unmarshalStrict(b []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields(true)
	return dec.Decode(v)
}
