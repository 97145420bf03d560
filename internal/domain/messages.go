package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ChatType identifies the payload carried by an Envelope. The numeric
// values are the codes the web client has always used.
type ChatType int

const (
	ChatOnlineCount   ChatType = 1
	ChatHistoryRecord ChatType = 2
	ChatSendMessage   ChatType = 3
	ChatRecallMessage ChatType = 4
	ChatVoiceMessage  ChatType = 5
	ChatHeartBeat     ChatType = 6
)

var chatTypeNames = map[ChatType]string{
	ChatOnlineCount:   "ONLINE_COUNT",
	ChatHistoryRecord: "HISTORY_RECORD",
	ChatSendMessage:   "SEND_MESSAGE",
	ChatRecallMessage: "RECALL_MESSAGE",
	ChatVoiceMessage:  "VOICE_MESSAGE",
	ChatHeartBeat:     "HEART_BEAT",
}

var chatTypesByName = func() map[string]ChatType {
	m := make(map[string]ChatType, len(chatTypeNames))
	for t, name := range chatTypeNames {
		m[name] = t
	}
	return m
}()

// String returns the wire name of the type.
func (t ChatType) String() string {
	if name, ok := chatTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is a known type.
func (t ChatType) Valid() bool {
	_, ok := chatTypeNames[t]
	return ok
}

// ClientSendable reports whether a client may send this type.
func (t ChatType) ClientSendable() bool {
	switch t {
	case ChatSendMessage, ChatRecallMessage, ChatHeartBeat:
		return true
	}
	return false
}

// MarshalJSON encodes the type as its name.
func (t ChatType) MarshalJSON() ([]byte, error) {
	name, ok := chatTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown chat type %d", ErrValidation, int(t))
	}
	return json.Marshal(name)
}

// UnmarshalJSON accepts the type name or its numeric code.
func (t *ChatType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		ct, ok := chatTypesByName[name]
		if !ok {
			return fmt.Errorf("%w: unknown chat type %q", ErrValidation, name)
		}
		*t = ct
		return nil
	}

	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("%w: chat type must be a name or code", ErrValidation)
	}
	ct := ChatType(code)
	if !ct.Valid() {
		return fmt.Errorf("%w: unknown chat type %d", ErrValidation, code)
	}
	*t = ct
	return nil
}

// Envelope is the frame exchanged over the chat socket.
type Envelope struct {
	Type ChatType        `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode builds the wire form of an envelope.
func Encode(t ChatType, data interface{}) ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown chat type %d", ErrValidation, int(t))
	}

	env := Envelope{Type: t}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", t, err)
		}
		env.Data = raw
	}

	return json.Marshal(env)
}

// Decode parses an inbound frame. Malformed JSON, a missing type and unknown
// types are all validation errors.
func Decode(raw []byte) (*Envelope, error) {
	var probe struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrValidation, err)
	}
	if len(probe.Type) == 0 || string(probe.Type) == "null" {
		return nil, fmt.Errorf("%w: envelope has no type", ErrValidation)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if errors.Is(err, ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return &env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e *Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return fmt.Errorf("%w: %s has no data", ErrValidation, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: invalid %s data: %v", ErrValidation, e.Type, err)
	}
	return nil
}

// HeartBeatAck is the data of the reply to a client heartbeat.
const HeartBeatAck = "pong"
