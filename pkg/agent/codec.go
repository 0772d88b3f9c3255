package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Encode renders e as a flat JSON object carrying its "_tag" discriminant
// followed by the header and variant fields.
func Encode(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("encode: nil event")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Tag(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("encode %s: unexpected json shape", e.Tag())
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + len(e.Tag()) + 12)
	buf.WriteString(`{"_tag":`)
	buf.WriteString(strconv.Quote(string(e.Tag())))
	if len(body) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// EncodeAll encodes events in order as raw JSON values.
func EncodeAll(events []Event) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		b, err := Encode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Decode parses a fully-formed encoded event, as produced by Encode. The
// object is validated against the variant's schema before it is decoded.
func Decode(data []byte) (Event, error) {
	tag, err := peekTag(data)
	if err != nil {
		return nil, err
	}
	if err := validateEvent(tag, data, true); err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, err)
	}
	return decodeAs(tag, data)
}

// DecodeAll decodes raw events in order.
func DecodeAll(raw []json.RawMessage) ([]Event, error) {
	out := make([]Event, 0, len(raw))
	for i, r := range raw {
		e, err := Decode(r)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// DecodeInput parses an event submitted by an external caller. Only the tag
// and the variant fields are required; id, timestamp and parent are assigned
// by the actor. When triggersAgentTurn is absent the variant default applies.
func DecodeInput(agent AgentName, data []byte) (Event, error) {
	tag, err := peekTag(data)
	if err != nil {
		return nil, err
	}
	if err := validateEvent(tag, data, false); err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, err)
	}
	e, err := decodeAs(tag, data)
	if err != nil {
		return nil, err
	}
	var flags struct {
		Triggers *bool `json:"triggersAgentTurn"`
	}
	if err := json.Unmarshal(data, &flags); err != nil {
		return nil, err
	}
	h := e.EventHeader()
	h.AgentName = agent
	h.TriggersAgentTurn = tag == TagUserMessage
	if flags.Triggers != nil {
		h.TriggersAgentTurn = *flags.Triggers
	}
	return e.withHeader(h), nil
}

func peekTag(data []byte) (Tag, error) {
	var probe struct {
		Tag Tag `json:"_tag"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if probe.Tag == "" {
		return "", fmt.Errorf("decode: missing _tag")
	}
	return probe.Tag, nil
}

func decodeAs(tag Tag, data []byte) (Event, error) {
	switch tag {
	case TagSystemPrompt:
		return unmarshalAs[SystemPrompt](data)
	case TagUserMessage:
		return unmarshalAs[UserMessage](data)
	case TagAssistantMessage:
		return unmarshalAs[AssistantMessage](data)
	case TagTextDelta:
		return unmarshalAs[TextDelta](data)
	case TagSetLlmConfig:
		return unmarshalAs[SetLlmConfig](data)
	case TagSetTimeout:
		return unmarshalAs[SetTimeout](data)
	case TagSessionStarted:
		return unmarshalAs[SessionStarted](data)
	case TagSessionEnded:
		return unmarshalAs[SessionEnded](data)
	case TagAgentTurnStarted:
		return unmarshalAs[AgentTurnStarted](data)
	case TagAgentTurnCompleted:
		return unmarshalAs[AgentTurnCompleted](data)
	case TagAgentTurnInterrupted:
		return unmarshalAs[AgentTurnInterrupted](data)
	case TagAgentTurnFailed:
		return unmarshalAs[AgentTurnFailed](data)
	}
	return nil, fmt.Errorf("decode: unknown event tag %q", tag)
}

func unmarshalAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", v.Tag(), err)
	}
	return v, nil
}
