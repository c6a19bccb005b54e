package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// wireMessage 线上 JSON 结构
// 示例：{"type":"MOVE","x":0.42,"y":0.7,"seq":12}
type wireMessage struct {
	Type string   `json:"type"`
	X    *float32 `json:"x,omitempty"`
	Y    *float32 `json:"y,omitempty"`
	Seq  uint64   `json:"seq,omitempty"`
}

// Encode 将消息编码为线上字符串
func Encode(m Message) (string, error) {
	if m == nil {
		return "", fmt.Errorf("trying to encode nil message")
	}
	w := wireMessage{Type: string(m.Kind()), Seq: m.Sequence()}
	if mv, ok := m.(Move); ok {
		if !inUnit(mv.X) || !inUnit(mv.Y) {
			return "", fmt.Errorf("move out of range (%v,%v): %w", mv.X, mv.Y, ErrMalformed)
		}
		x, y := mv.X, mv.Y
		w.X, w.Y = &x, &y
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode 解析线上字符串；失败时返回 ErrMalformed 或 ErrUnknownType，不会 panic
func Decode(payload string) (Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload: %w", ErrMalformed)
	}
	var w wireMessage
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	switch Kind(strings.ToUpper(w.Type)) {
	case KindMove:
		if w.X == nil || w.Y == nil {
			return nil, fmt.Errorf("move without coordinates: %w", ErrMalformed)
		}
		if !inUnit(*w.X) || !inUnit(*w.Y) {
			return nil, fmt.Errorf("move out of range (%v,%v): %w", *w.X, *w.Y, ErrMalformed)
		}
		return Move{X: *w.X, Y: *w.Y, Seq: w.Seq}, nil
	case KindFire:
		return Fire{Seq: w.Seq}, nil
	case KindGameOver:
		return GameOver{Seq: w.Seq}, nil
	case KindAck:
		return Ack{Seq: w.Seq}, nil
	case "":
		return nil, fmt.Errorf("missing type: %w", ErrMalformed)
	default:
		return nil, fmt.Errorf("%q: %w", w.Type, ErrUnknownType)
	}
}

func inUnit(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && f >= 0 && f <= 1
}
