package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/btcache/lib/env"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Bytes int64 `json:"bytes,omitempty"` // Used for: Resize (new cache size)
	Clear bool  `json:"clear,omitempty"` // Used for: Stats (reset evictor counters)

	// Response only fields
	Ok    bool       `json:"ok,omitempty"`    // Used for: Alert (pass was started), Evict
	Stats *env.Stats `json:"stats,omitempty"` // Used for: Stats, Evict responses
	Err   string     `json:"err,omitempty"`   // Empty if no error, otherwise contains the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewStatsRequest creates a new Stats request
func NewStatsRequest(clear bool) *Message {
	return &Message{
		MsgType: MsgTStats,
		Clear:   clear,
	}
}

// NewStatsResponse creates a new Stats response
func NewStatsResponse(stats *env.Stats, err error) *Message {
	msg := &Message{
		MsgType: MsgTStats,
		Stats:   stats,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewEvictRequest creates a new Evict request
func NewEvictRequest() *Message {
	return &Message{
		MsgType: MsgTEvict,
	}
}

// NewEvictResponse creates a new Evict response carrying the stats after
// the pass
func NewEvictResponse(stats *env.Stats, err error) *Message {
	msg := &Message{
		MsgType: MsgTEvict,
		Ok:      err == nil,
		Stats:   stats,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewAlertRequest creates a new Alert request
func NewAlertRequest() *Message {
	return &Message{
		MsgType: MsgTAlert,
	}
}

// NewAlertResponse creates a new Alert response
func NewAlertResponse(ok bool) *Message {
	return &Message{
		MsgType: MsgTAlert,
		Ok:      ok,
	}
}

// NewResizeRequest creates a new Resize request
func NewResizeRequest(bytes int64) *Message {
	return &Message{
		MsgType: MsgTResize,
		Bytes:   bytes,
	}
}

// NewResizeResponse creates a new Resize response
func NewResizeResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTResize,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTStats:
		return "stats"
	case MsgTEvict:
		return "evict"
	case MsgTAlert:
		return "alert"
	case MsgTResize:
		return "resize"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "stats":
		*t = MsgTStats
	case "evict":
		*t = MsgTEvict
	case "alert":
		*t = MsgTAlert
	case "resize":
		*t = MsgTResize
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Admin operations

	MsgTStats  // Read the environment and evictor statistics
	MsgTEvict  // Run a manual eviction pass
	MsgTAlert  // Wake the evictor daemon if there is work
	MsgTResize // Change the cache size
)
