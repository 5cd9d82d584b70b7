package protocol

import (
	"encoding/json"
	"fmt"
)

// ConnIDSize is the fixed width of a conn_id on the wire: the ASCII text
// form of a UUID is always exactly 36 bytes.
const ConnIDSize = 36

// EncodeText marshals a Message to the JSON text-frame form. The "type"
// field is the discriminant every DecodeText switches on.
func EncodeText(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.MessageType(), err)
	}
	return data, nil
}

// typeOnly is used to sniff the discriminant before picking a concrete type
// to unmarshal the full payload into.
type typeOnly struct {
	Type string `json:"type"`
}

// DecodeText unmarshals a JSON text frame into its concrete Message type.
// An unrecognized "type" is a decode error; callers drop the frame and
// continue per spec §7 (decode failures are never fatal).
func DecodeText(data []byte) (Message, error) {
	var t typeOnly
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}

	var msg Message
	switch t.Type {
	case "register":
		msg = &RegisterMessage{}
	case "register_response":
		msg = &RegisterResponseMessage{}
	case "new_connection":
		msg = &NewConnectionMessage{}
	case "connection_ready":
		msg = &ConnectionReadyMessage{}
	case "data":
		msg = &DataMessage{}
	case "close_connection":
		msg = &CloseConnectionMessage{}
	case "ping":
		msg = &PingMessage{}
	case "pong":
		msg = &PongMessage{}
	case "error":
		msg = &ErrorMessage{}
	case "add_tunnel":
		msg = &AddTunnelMessage{}
	case "add_tunnel_response":
		msg = &AddTunnelResponseMessage{}
	default:
		return nil, fmt.Errorf("unknown message type %q", t.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", t.Type, err)
	}
	return msg, nil
}

// EncodeBinary builds the binary-frame form of a Data message: exactly
// ConnIDSize bytes of ASCII conn_id (zero-padded if shorter, truncated if
// longer) followed by the raw payload. This is the fast path that avoids
// base64-inflating bulk data; revtun's senders always prefer it.
func EncodeBinary(connID string, payload []byte) []byte {
	buf := make([]byte, ConnIDSize+len(payload))
	idBytes := []byte(connID)
	if len(idBytes) >= ConnIDSize {
		copy(buf[:ConnIDSize], idBytes[:ConnIDSize])
	} else {
		copy(buf[:len(idBytes)], idBytes)
		// remainder is already zero from make()
	}
	copy(buf[ConnIDSize:], payload)
	return buf
}

// DecodeBinary splits a binary frame into (conn_id, payload). ok is false
// if the frame is shorter than ConnIDSize bytes of prefix plus at least one
// payload byte — per spec §4.5 such frames are dropped, not an error.
func DecodeBinary(frame []byte) (connID string, payload []byte, ok bool) {
	if len(frame) < ConnIDSize+1 {
		return "", nil, false
	}
	return string(frame[:ConnIDSize]), frame[ConnIDSize:], true
}
