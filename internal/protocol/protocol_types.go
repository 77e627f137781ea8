// Package protocol 定义网关帧的标签信封 {"op": ..., "d": ...} 及各类帧的负载
package protocol

import (
	"encoding/json"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
)

// Op 信封中的判别字段
type Op string

const (
	OpHello         Op = "Hello"         // server -> client
	OpIdentify      Op = "Identify"      // client -> server
	OpSubscribe     Op = "Subscribe"     // client -> server
	OpUnsubscribe   Op = "Unsubscribe"   // client -> server
	OpMessageCreate Op = "MessageCreate" // client -> server
	OpDispatch      Op = "Dispatch"      // server -> client
	OpHeartbeat     Op = "Heartbeat"     // client -> server
	OpHeartbeatAck  Op = "HeartbeatAck"  // server -> client
)

// EventMessageCreate Dispatch 帧中携带 MessageCreateEvent 时的事件类型
const EventMessageCreate = "MESSAGE_CREATE"

func (op Op) String() string {
	return string(op)
}

// Payload 所有帧负载都实现该接口
type Payload interface {
	Op() Op
}

type Hello struct {
	HeartbeatIntervalMS uint64 `json:"heartbeat_interval_ms"`
}

// Identify 将连接与用户身份关联；Token 非空时由令牌查找用户
type Identify struct {
	UserID ids.UserID `json:"user_id,omitempty"`
	Token  ids.Token  `json:"token,omitempty"`
}

type Subscribe struct {
	ChannelID ids.ChannelID `json:"channel_id"`
}

type Unsubscribe struct {
	ChannelID ids.ChannelID `json:"channel_id"`
}

type MessageCreate struct {
	ChannelID ids.ChannelID `json:"channel_id"`
	Content   string        `json:"content"`
}

// Dispatch 服务端推送事件的通用信封
// Encode 与 Decode 都会压缩 D 中的空白，相等性按紧凑形式比较
type Dispatch struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d"`
}

type Heartbeat struct {
	Nonce uint64 `json:"nonce,omitempty"`
}

type HeartbeatAck struct {
	Nonce uint64 `json:"nonce,omitempty"`
}

func (Hello) Op() Op         { return OpHello }
func (Identify) Op() Op      { return OpIdentify }
func (Subscribe) Op() Op     { return OpSubscribe }
func (Unsubscribe) Op() Op   { return OpUnsubscribe }
func (MessageCreate) Op() Op { return OpMessageCreate }
func (Dispatch) Op() Op      { return OpDispatch }
func (Heartbeat) Op() Op     { return OpHeartbeat }
func (HeartbeatAck) Op() Op  { return OpHeartbeatAck }
