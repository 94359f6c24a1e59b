package snowflake

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	// 起始时间戳 (2024-01-01 00:00:00 UTC)
	epoch int64 = 1704067200000

	nodeBits     = 10
	sequenceBits = 12

	maxNodeID   = -1 ^ (-1 << nodeBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	nodeShift      = sequenceBits
	timestampShift = nodeBits + sequenceBits

	// 允许的最大时钟回拨，超过即拒绝生成
	maxBackwardDrift = 5 * time.Millisecond
)

var (
	ErrInvalidNodeID  = errors.New("snowflake: node id out of range")
	ErrClockBackwards = errors.New("snowflake: clock moved backwards")
)

// ID 雪花ID
type ID int64

// String 十进制字符串（前端 JSON 使用字符串避免精度丢失）
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Int64 转换为 int64
func (id ID) Int64() int64 {
	return int64(id)
}

// ParseString 从十进制字符串解析
func ParseString(s string) (ID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ID(v), nil
}

// Node 雪花ID生成器节点
type Node struct {
	mu       sync.Mutex
	nodeID   int64
	sequence int64
	lastTime int64
	now      func() int64
}

// NewNode 创建雪花ID生成器，nodeID 取值 [0, 1023]
func NewNode(nodeID int64) (*Node, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, ErrInvalidNodeID
	}
	return &Node{
		nodeID: nodeID,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Generate 生成雪花ID
// 小幅时钟回拨时等待追平，超过 maxBackwardDrift 返回 ErrClockBackwards
func (n *Node) Generate() (ID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()

	if now < n.lastTime {
		if time.Duration(n.lastTime-now)*time.Millisecond > maxBackwardDrift {
			return 0, ErrClockBackwards
		}
		for now < n.lastTime {
			time.Sleep(time.Millisecond)
			now = n.now()
		}
	}

	if now == n.lastTime {
		n.sequence = (n.sequence + 1) & maxSequence
		if n.sequence == 0 {
			// 序号用尽，等待下一毫秒
			for now <= n.lastTime {
				now = n.now()
			}
		}
	} else {
		n.sequence = 0
	}

	n.lastTime = now

	id := ((now - epoch) << timestampShift) |
		(n.nodeID << nodeShift) |
		n.sequence

	return ID(id), nil
}
