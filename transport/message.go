// Package transport carries structural changes between matrix replicas over
// websockets. A Relay fans ops out to every connection on the same matrix id
// and optionally journals them; a Client is the cellrope.Submitter side that
// also applies the ops it receives.
package transport

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/phroun/cellrope"
)

// Message actions.
const (
	ActionSessionCreated = "session_created"
	ActionOp             = "op"
	ActionAck            = "ack"
	ActionError          = "error"
)

// Message is the JSON frame exchanged in both directions. Pos is the journal
// position of a relayed op, or of the sender's op an ack confirms; it is 0
// when the relay keeps no journal.
type Message struct {
	Action    string       `json:"action"`
	SessionID string       `json:"sessionId,omitempty"`
	Op        *cellrope.Op `json:"op,omitempty"`
	Pos       int64        `json:"pos,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// MatrixPath is the relay route for one matrix.
const MatrixPath = "/matrices/{id}"

// MatrixURL joins a relay base URL (ws:// or wss://) with the route for id.
// A non-negative since asks the relay to replay the journal entries after that
// position.
func MatrixURL(base, id string, since int64) string {
	u := strings.TrimRight(base, "/") + "/matrices/" + url.PathEscape(id)
	if since >= 0 {
		u += "?since=" + strconv.FormatInt(since, 10)
	}
	return u
}
