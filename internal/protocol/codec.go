package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Delimiter terminates every frame on the wire
const Delimiter = "SPLIT_MESSAGE"

var delimiter = []byte(Delimiter)

// Protocol errors
var (
	ErrUnknownMessage  = errors.New("unknown message tag")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrDelimiterInBody = errors.New("payload contains the frame delimiter")
)

// UnknownMessageError reports a header outside the catalog
type UnknownMessageError struct {
	Tag Tag
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("unknown message tag %q", string(e.Tag))
}

func (e *UnknownMessageError) Unwrap() error {
	return ErrUnknownMessage
}

// Marshal encodes m as HEADER || PAYLOAD, without the trailing delimiter
func Marshal(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Tag(), err)
	}
	if bytes.Contains(payload, delimiter) {
		return nil, fmt.Errorf("encode %s: %w", m.Tag(), ErrDelimiterInBody)
	}

	frame := make([]byte, 0, HeaderSize+len(payload))
	frame = append(frame, m.Tag()...)
	frame = append(frame, payload...)
	return frame, nil
}

// Encode returns the complete wire frame for m, delimiter included
func Encode(m Message) ([]byte, error) {
	frame, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(frame, delimiter...), nil
}

// Unmarshal decodes one delimiter-free fragment into a typed message
func Unmarshal(fragment []byte) (Message, error) {
	tag, payload, err := ParseFrame(fragment)
	if err != nil {
		return nil, err
	}
	return Decode(tag, payload)
}

// ParseFrame splits a fragment into its header and payload
func ParseFrame(fragment []byte) (Tag, []byte, error) {
	if len(fragment) < HeaderSize {
		return "", nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(fragment))
	}
	for _, c := range fragment[:HeaderSize] {
		if c < '0' || c > '9' {
			return "", nil, fmt.Errorf("%w: non-numeric header %q", ErrMalformedFrame, fragment[:HeaderSize])
		}
	}
	return Tag(fragment[:HeaderSize]), fragment[HeaderSize:], nil
}

// Decode parses payload as the kind named by tag
func Decode(tag Tag, payload []byte) (Message, error) {
	switch tag {
	case TagRegister:
		return decodeAs[Register](tag, payload)
	case TagNumPlayers:
		return decodeAs[NumPlayers](tag, payload)
	case TagListenAck:
		return decodeAs[ListenAck](tag, payload)
	case TagMovingStatus:
		return decodeAs[MovingStatus](tag, payload)
	case TagStartGame:
		return decodeEmpty[StartGame](tag, payload)
	case TagDollGonnaTurn:
		return decodeEmpty[DollGonnaTurn](tag, payload)
	case TagDollTurned:
		return decodeAs[DollTurned](tag, payload)
	case TagFinishedHandlingTurn:
		return decodeAs[FinishedHandlingTurn](tag, payload)
	case TagPlayerLose:
		return decodeAs[PlayerLose](tag, payload)
	case TagCloseConnection:
		return decodeAs[CloseConnection](tag, payload)
	case TagGameFinished:
		return decodeEmpty[GameFinished](tag, payload)
	case TagKillAll:
		return decodeEmpty[KillAll](tag, payload)
	case TagPing:
		return decodeEmpty[Ping](tag, payload)
	case TagPlayerName:
		return decodeAs[PlayerName](tag, payload)
	default:
		return nil, &UnknownMessageError{Tag: tag}
	}
}

func decodeAs[T Message](tag Tag, payload []byte) (Message, error) {
	var m T
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("%w: %s payload is empty", ErrMalformedFrame, tag)
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, tag, err)
	}
	return m, nil
}

// decodeEmpty is decodeAs for the field-less kinds, which may also
// arrive with no payload at all
func decodeEmpty[T Message](tag Tag, payload []byte) (Message, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		var m T
		return m, nil
	}
	return decodeAs[T](tag, payload)
}

// Split cuts a received buffer on the delimiter and returns every
// non-empty fragment in order. A trailing partial frame is returned
// as-is; nothing is carried over to the next read.
func Split(buf []byte) [][]byte {
	parts := bytes.Split(buf, delimiter)
	fragments := make([][]byte, 0, len(parts))
	for _, p := range parts {
		if len(p) > 0 {
			fragments = append(fragments, p)
		}
	}
	return fragments
}
