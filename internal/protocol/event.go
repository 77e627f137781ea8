package protocol

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
	"github.com/oklog/ulid/v2"
)

// MessageCreateEvent 只在扇出期间存在，不做持久化
type MessageCreateEvent struct {
	ID                 ulid.ULID        `json:"id"`
	ChannelID          ids.ChannelID    `json:"channel_id"`
	AuthorConnectionID ids.ConnectionID `json:"author_connection_id"`
	Content            string           `json:"content"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID 生成按时间排序的 ULID，同一毫秒内单调递增
func NewEventID() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

func NewMessageCreateEvent(author ids.ConnectionID, channel ids.ChannelID, content string) MessageCreateEvent {
	return MessageCreateEvent{
		ID:                 NewEventID(),
		ChannelID:          channel,
		AuthorConnectionID: author,
		Content:            content,
	}
}

// DispatchFrame 将事件包装为 MESSAGE_CREATE 类型的 Dispatch 帧并编码
func (e MessageCreateEvent) DispatchFrame() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", EventMessageCreate, err)
	}
	return Encode(Dispatch{T: EventMessageCreate, D: data})
}

// DecodeMessageCreate 从 Dispatch 帧中取出 MessageCreateEvent
func DecodeMessageCreate(d Dispatch) (MessageCreateEvent, error) {
	var e MessageCreateEvent
	if d.T != EventMessageCreate {
		return e, fmt.Errorf("unexpected dispatch type %q", d.T)
	}
	if err := json.Unmarshal(d.D, &e); err != nil {
		return e, fmt.Errorf("decode %s event: %w", EventMessageCreate, err)
	}
	return e, nil
}
