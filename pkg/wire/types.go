// Package wire defines the frame schema spoken on the chat websocket.
package wire

// ClientFrame is one inbound message from the client. An absent ThreadID
// starts a new thread; Delete tears the thread down instead of starting
// a turn.
type ClientFrame struct {
	ThreadID string `json:"thread_id,omitempty"`
	Text     string `json:"text,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`
	Language string `json:"language,omitempty"`
	Delete   bool   `json:"delete,omitempty"`
}

type FrameKind string

const (
	KindFragment      FrameKind = "fragment"
	KindCompleted     FrameKind = "completed"
	KindFailed        FrameKind = "failed"
	KindCancelled     FrameKind = "cancelled"
	KindProtocolError FrameKind = "protocol_error"
)

// ServerFrame is one outbound message. Seq is set for fragments only and
// increases by one per fragment within a turn. For terminal kinds Payload
// holds the full assistant text (completed), the failure reason (failed),
// or the rejection reason (protocol_error).
type ServerFrame struct {
	ThreadID string    `json:"thread_id,omitempty"`
	Kind     FrameKind `json:"kind"`
	Seq      *int      `json:"seq,omitempty"`
	Payload  string    `json:"payload,omitempty"`
}

// Fragment builds a fragment frame for one streamed chunk.
func Fragment(threadID string, seq int, text string) ServerFrame {
	return ServerFrame{ThreadID: threadID, Kind: KindFragment, Seq: &seq, Payload: text}
}

// Completed builds the terminal frame carrying the full assistant text.
func Completed(threadID, fullText string) ServerFrame {
	return ServerFrame{ThreadID: threadID, Kind: KindCompleted, Payload: fullText}
}

// Failed builds the terminal frame for an upstream or persistence failure.
func Failed(threadID, reason string) ServerFrame {
	return ServerFrame{ThreadID: threadID, Kind: KindFailed, Payload: reason}
}

// Cancelled builds the terminal frame for a cancelled turn.
func Cancelled(threadID string) ServerFrame {
	return ServerFrame{ThreadID: threadID, Kind: KindCancelled}
}

// ProtocolError builds a rejection frame. ThreadID may be empty when the
// offending frame carried none.
func ProtocolError(threadID, reason string) ServerFrame {
	return ServerFrame{ThreadID: threadID, Kind: KindProtocolError, Payload: reason}
}
