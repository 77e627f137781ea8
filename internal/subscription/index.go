// Package subscription 实现频道 -> 订阅连接集合的进程级索引
package subscription

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
)

const DefaultShardCount = 32

type set[K comparable] map[K]struct{}

type shard[K comparable, V comparable] struct {
	mu    sync.RWMutex
	items map[K]set[V]
}

// add 返回 false 表示 (key, value) 已存在
func (s *shard[K, V]) add(key K, value V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.items[key]
	if !ok {
		members = make(set[V])
		s.items[key] = members
	}
	if _, exists := members[value]; exists {
		return false
	}
	members[value] = struct{}{}
	return true
}

// remove 集合为空时删除该键，频道"存在"仅意味着至少有一个订阅者
func (s *shard[K, V]) remove(key K, value V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.items[key]
	if !ok {
		return false
	}
	if _, exists := members[value]; !exists {
		return false
	}
	delete(members, value)
	if len(members) == 0 {
		delete(s.items, key)
	}
	return true
}

func (s *shard[K, V]) take(key K) []V {
	s.mu.Lock()
	members := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	return keys(members)
}

func (s *shard[K, V]) snapshot(key K) []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return keys(s.items[key])
}

func (s *shard[K, V]) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func keys[V comparable](members set[V]) []V {
	result := make([]V, 0, len(members))
	for member := range members {
		result = append(result, member)
	}
	return result
}

// Index 频道和连接两个方向各一组分片，分片由 xxhash 选择
// 同一连接的 Subscribe/Unsubscribe/UnsubscribeAll 必须由调用方串行发起（会话读协程天然满足），
// 不同连接之间无需外部加锁
type Index struct {
	channels    []*shard[ids.ChannelID, ids.ConnectionID]
	connections []*shard[ids.ConnectionID, ids.ChannelID]
}

func NewIndex(shardCount int) *Index {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	idx := &Index{
		channels:    make([]*shard[ids.ChannelID, ids.ConnectionID], shardCount),
		connections: make([]*shard[ids.ConnectionID, ids.ChannelID], shardCount),
	}
	for i := 0; i < shardCount; i++ {
		idx.channels[i] = &shard[ids.ChannelID, ids.ConnectionID]{items: make(map[ids.ChannelID]set[ids.ConnectionID])}
		idx.connections[i] = &shard[ids.ConnectionID, ids.ChannelID]{items: make(map[ids.ConnectionID]set[ids.ChannelID])}
	}
	return idx
}

func (idx *Index) channelShard(channel ids.ChannelID) *shard[ids.ChannelID, ids.ConnectionID] {
	return idx.channels[xxhash.Sum64String(string(channel))%uint64(len(idx.channels))]
}

func (idx *Index) connectionShard(conn ids.ConnectionID) *shard[ids.ConnectionID, ids.ChannelID] {
	return idx.connections[xxhash.Sum64String(string(conn))%uint64(len(idx.connections))]
}

// Subscribe 幂等，返回 true 表示这是新的订阅
func (idx *Index) Subscribe(channel ids.ChannelID, conn ids.ConnectionID) bool {
	if !idx.channelShard(channel).add(channel, conn) {
		return false
	}
	idx.connectionShard(conn).add(conn, channel)
	return true
}

func (idx *Index) Unsubscribe(channel ids.ChannelID, conn ids.ConnectionID) bool {
	if !idx.channelShard(channel).remove(channel, conn) {
		return false
	}
	idx.connectionShard(conn).remove(conn, channel)
	return true
}

// UnsubscribeAll 在连接拆除时调用，返回被移除的频道
func (idx *Index) UnsubscribeAll(conn ids.ConnectionID) []ids.ChannelID {
	channels := idx.connectionShard(conn).take(conn)
	for _, channel := range channels {
		idx.channelShard(channel).remove(channel, conn)
	}
	sortIDs(channels)
	return channels
}

// SubscribersOf 返回快照，扇出时可能已经过期
func (idx *Index) SubscribersOf(channel ids.ChannelID) []ids.ConnectionID {
	subscribers := idx.channelShard(channel).snapshot(channel)
	sortIDs(subscribers)
	return subscribers
}

func (idx *Index) ChannelsOf(conn ids.ConnectionID) []ids.ChannelID {
	channels := idx.connectionShard(conn).snapshot(conn)
	sortIDs(channels)
	return channels
}

// ChannelCount 至少有一个订阅者的频道数
func (idx *Index) ChannelCount() int {
	total := 0
	for _, s := range idx.channels {
		total += s.count()
	}
	return total
}

func sortIDs[T ~string](values []T) {
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
}
