// Package hub fans messages out to websocket clients. Every client has a
// small queue; when it fills up the oldest message is dropped so slow
// clients always catch up to the newest mask or preview frame.
package hub

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded text message
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data (PNG masks, JPEG previews)
	BinaryMessage
)

// Message is one websocket frame to send.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
