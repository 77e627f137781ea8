package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeError 入站帧格式错误或判别字段未知，会话应记录后丢弃该帧
type DecodeError struct {
	Op     Op
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("decode frame: %s", e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("decode %s frame: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s frame: %s", e.Op, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

type envelope struct {
	Op Op              `json:"op"`
	D  json.RawMessage `json:"d"`
}

type outboundEnvelope struct {
	Op Op      `json:"op"`
	D  Payload `json:"d"`
}

// Encode 将负载序列化为一条传输消息
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("encode frame: nil payload")
	}
	data, err := json.Marshal(outboundEnvelope{Op: p.Op(), D: p})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", p.Op(), err)
	}
	return data, nil
}

// MustEncode 仅用于负载确定可序列化的场景（如 Hello）
func MustEncode(p Payload) []byte {
	data, err := Encode(p)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode 解析一条传输消息，所有失败都以 *DecodeError 返回
func Decode(data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed envelope", Err: err}
	}
	if env.Op == "" {
		return nil, &DecodeError{Reason: "missing op"}
	}
	if len(env.D) == 0 || bytes.Equal(env.D, []byte("null")) {
		return nil, &DecodeError{Op: env.Op, Reason: "missing payload"}
	}

	switch env.Op {
	case OpHello:
		return decodePayload[Hello](env, nil)
	case OpIdentify:
		return decodePayload(env, func(p Identify) string {
			if p.UserID == "" && p.Token == "" {
				return "user_id or token is required"
			}
			return ""
		})
	case OpSubscribe:
		return decodePayload(env, func(p Subscribe) string {
			if p.ChannelID == "" {
				return "channel_id is required"
			}
			return ""
		})
	case OpUnsubscribe:
		return decodePayload(env, func(p Unsubscribe) string {
			if p.ChannelID == "" {
				return "channel_id is required"
			}
			return ""
		})
	case OpMessageCreate:
		return decodePayload(env, func(p MessageCreate) string {
			if p.ChannelID == "" {
				return "channel_id is required"
			}
			return ""
		})
	case OpDispatch:
		payload, err := decodePayload(env, func(p Dispatch) string {
			if p.T == "" {
				return "event type is required"
			}
			return ""
		})
		if err != nil {
			return nil, err
		}
		dispatch := payload.(Dispatch)
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, dispatch.D); err != nil {
			return nil, &DecodeError{Op: env.Op, Reason: "malformed event", Err: err}
		}
		dispatch.D = compacted.Bytes()
		return dispatch, nil
	case OpHeartbeat:
		return decodePayload[Heartbeat](env, nil)
	case OpHeartbeatAck:
		return decodePayload[HeartbeatAck](env, nil)
	default:
		return nil, &DecodeError{Op: env.Op, Reason: "unknown op"}
	}
}

func decodePayload[T Payload](env envelope, validate func(T) string) (Payload, error) {
	var p T
	if err := json.Unmarshal(env.D, &p); err != nil {
		return nil, &DecodeError{Op: env.Op, Reason: "malformed payload", Err: err}
	}
	if validate != nil {
		if reason := validate(p); reason != "" {
			return nil, &DecodeError{Op: env.Op, Reason: reason}
		}
	}
	return p, nil
}
