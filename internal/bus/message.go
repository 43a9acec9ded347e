// Package bus implements the ipwall message-bus transport described in
// spec.md §4.9 and §6: a small set of named commands (IPWALL_BLOCK,
// IPWALL_UNBLOCK, IPWALL_GET_STATUS inbound; IPWALL_CURRENT_STATUS,
// FIREWALL_UP outbound) carried over a websocket connection. The
// register/unregister/broadcast hub shape is adapted from the teacher's
// internal/websocket.Hub, repurposed from browser event fan-out to a
// small peer-to-peer command bus.
package bus

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Command names, matching original_source/tools/ipwall/server.cpp's
// documented protocol.
const (
	CmdBlock         = "IPWALL_BLOCK"
	CmdUnblock       = "IPWALL_UNBLOCK"
	CmdGetStatus     = "IPWALL_GET_STATUS"
	CmdCurrentStatus = "IPWALL_CURRENT_STATUS"
	CmdFirewallUp    = "FIREWALL_UP"
)

// Message is one bus frame: a command name plus its fields. ID correlates
// a reply with the request that triggered it, since a Hub may have several
// requests from the same peer in flight at once.
type Message struct {
	ID      string            `json:"id"`
	Command string            `json:"command"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// newID generates a bus message correlation ID.
func newID() string {
	return uuid.NewString()
}

// Encode serializes a Message for the wire.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire frame back into a Message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Block builds an IPWALL_BLOCK message.
func Block(uri, period, reason string) Message {
	return Message{ID: newID(), Command: CmdBlock, Fields: map[string]string{"uri": uri, "period": period, "reason": reason}}
}

// Unblock builds an IPWALL_UNBLOCK message.
func Unblock(uri string) Message {
	return Message{ID: newID(), Command: CmdUnblock, Fields: map[string]string{"uri": uri}}
}

// GetStatus builds an IPWALL_GET_STATUS message.
func GetStatus() Message {
	return Message{ID: newID(), Command: CmdGetStatus}
}

// CurrentStatus builds an IPWALL_CURRENT_STATUS reply, carrying the
// request's ID so the caller can match it to the GetStatus it sent.
func CurrentStatus(up bool, replyTo string) Message {
	status := "down"
	if up {
		status = "up"
	}
	return Message{ID: replyTo, Command: CmdCurrentStatus, Fields: map[string]string{"status": status, "cache": "no"}}
}

// FirewallUp builds the one-shot FIREWALL_UP broadcast sent after the
// initial apply succeeds.
func FirewallUp() Message {
	return Message{ID: newID(), Command: CmdFirewallUp}
}
