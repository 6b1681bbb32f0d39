package changewire

import "github.com/tuannm99/novaview/internal/engine"

// Message is one frame pushed to a remote subscriber. Seq is per-connection
// and strictly increasing; a gap means the server dropped frames for this
// consumer (see slow-consumer handling in Serve).
type Message struct {
	Seq   uint64                      `json:"seq"`
	Event *engine.RelationChangeEvent `json:"event,omitempty"`
	Error string                      `json:"error,omitempty"`
}
