// Package protocol defines the JSON envelope exchanged over the WebSocket
// endpoint and the MQTT command and event topics.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType defines the type of a message
type MessageType string

const (
	// TypeAuth is sent by a client right after connecting when a token is configured
	TypeAuth MessageType = "auth"

	// TypeEvent carries an engine event to clients
	TypeEvent MessageType = "event"

	// TypeCommand asks the engine to do something
	TypeCommand MessageType = "command"

	// TypeResult answers a command, echoing its ID
	TypeResult MessageType = "result"

	TypePing MessageType = "ping"
)

// Command names accepted in CommandPayload.Action.
const (
	CmdStatus         = "status"
	CmdPlay           = "play"
	CmdPause          = "pause"
	CmdResume         = "resume"
	CmdStop           = "stop"
	CmdRecordStart    = "record_start"
	CmdRecordStop     = "record_stop"
	CmdHealth         = "health"
	CmdHotkeysSuspend = "hotkeys_suspend"
	CmdHotkeysResume  = "hotkeys_resume"
)

// Message is the generic container for all messages
type Message struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`
	Event   string      `json:"event,omitempty"`
	Time    time.Time   `json:"time"`
	Payload any         `json:"payload,omitempty"`
}

// Envelope is a received message whose payload is decoded later.
type Envelope struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AuthPayload struct {
	Token      string `json:"token"`
	ClientName string `json:"client_name,omitempty"`
}

// CommandPayload is the payload for TypeCommand
type CommandPayload struct {
	Action   string  `json:"action"`
	ScriptID string  `json:"script_id,omitempty"`
	Name     string  `json:"name,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
	Repeat   int     `json:"repeat,omitempty"`
}

// ResultPayload is the payload for TypeResult
type ResultPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func NewEvent(name string, at time.Time, payload any) Message {
	return Message{Type: TypeEvent, Event: name, Time: at, Payload: payload}
}

func NewResult(id string, data any, err error) Message {
	r := ResultPayload{OK: err == nil, Data: data}
	if err != nil {
		r.Error = err.Error()
	}
	return Message{Type: TypeResult, ID: id, Time: time.Now().UTC(), Payload: r}
}

// Decode parses an incoming message.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("invalid message: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("invalid message: missing type")
	}
	return env, nil
}

// Command decodes a TypeCommand payload.
func (e Envelope) Command() (CommandPayload, error) {
	var c CommandPayload
	if e.Type != TypeCommand {
		return c, fmt.Errorf("message type %q is not a command", e.Type)
	}
	if err := json.Unmarshal(e.Payload, &c); err != nil {
		return c, fmt.Errorf("invalid command payload: %w", err)
	}
	if c.Action == "" {
		return c, fmt.Errorf("command without action")
	}
	return c, nil
}

func (e Envelope) Auth() (AuthPayload, error) {
	var a AuthPayload
	if err := json.Unmarshal(e.Payload, &a); err != nil {
		return a, fmt.Errorf("invalid auth payload: %w", err)
	}
	return a, nil
}
