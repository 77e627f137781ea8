// Package ids 定义网关使用的不透明标识符类型
package ids

import "github.com/google/uuid"

// ConnectionID 每个被接受的连接在进程内唯一，永不复用
type ConnectionID string

// ChannelID 由客户端提供，网关不校验其是否"存在"
type ChannelID string

// UserID 由 Identify 帧或令牌查询得到
type UserID string

// Token 外部签发的不透明凭据，只做查找不做密码学校验
type Token string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

func NewUserID() UserID {
	return UserID(uuid.NewString())
}

func NewToken() Token {
	return Token(uuid.NewString())
}

func (id ConnectionID) String() string { return string(id) }
func (id ChannelID) String() string    { return string(id) }
func (id UserID) String() string       { return string(id) }

// String 不输出完整令牌，避免写进日志
func (t Token) String() string {
	if len(t) <= 8 {
		return "****"
	}
	return string(t[:8]) + "****"
}
