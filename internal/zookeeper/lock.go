// internal/zookeeper/lock.go
package zookeeper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/pkg/logger"

	"github.com/go-zookeeper/zk"
)

const (
	lockRoot     = "/distributed_locks" // 所有分布式锁的根节点
	nodePrefix   = "lock-"
	defaultLease = 30 * time.Second
)

// 节点数据：排队中的节点写 waiting，拿到锁后改为 held
var (
	waitingMark = []byte("waiting")
	heldMark    = []byte("held")
)

// Locker 是 lock.Locker 的 ZooKeeper 实现：临时顺序节点 + 监听前一个节点。
// 每次加锁的令牌就是自己创建的节点路径。
// 持有者崩溃时会话过期会删除节点；lease 由本地定时器兜底，到期主动删除节点。
type Locker struct {
	conn *Conn

	mu   sync.Mutex
	held map[lock.Token]*time.Timer
}

func NewLocker(conn *Conn) (*Locker, error) {
	if err := conn.ensurePath(lockRoot); err != nil {
		return nil, err
	}
	return &Locker{conn: conn, held: make(map[lock.Token]*time.Timer)}, nil
}

// 锁的路径，例如 /distributed_locks/order:o-1
func (l *Locker) path(key string) string {
	return lockRoot + "/" + strings.ReplaceAll(key, "/", "_")
}

// TryLock 尝试获取锁，最多等待 wait
func (l *Locker) TryLock(ctx context.Context, key string, wait, lease time.Duration) (lock.Token, bool, error) {
	if lease <= 0 {
		lease = defaultLease
	}
	lockPath := l.path(key)
	if err := l.conn.ensurePath(lockPath); err != nil {
		return "", false, err
	}

	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(lockPath+"/"+nodePrefix, waitingMark, zk.WorldACL(zk.PermAll))
	if err != nil {
		return "", false, fmt.Errorf("failed to create sequential node: %w", err)
	}
	myNode := strings.TrimPrefix(nodePath, lockPath+"/")

	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	giveUp := func(result error) (lock.Token, bool, error) {
		if err := l.conn.Delete(nodePath, -1); err != nil && err != zk.ErrNoNode {
			logger.Ctx(ctx).Warn().Err(err).Str("node", nodePath).Msg("⚠️ failed to remove abandoned lock node")
		}
		return "", false, result
	}

	for {
		// 2. 获取锁路径下的所有子节点，按序号排序
		children, _, err := l.conn.Children(lockPath)
		if err != nil {
			return giveUp(fmt.Errorf("failed to get children nodes: %w", err))
		}
		sortBySequence(children)

		// 3. 判断自己是否是最小的节点
		idx := indexOf(children, myNode)
		if idx < 0 {
			return giveUp(errors.New("lock node disappeared, session may have expired"))
		}
		if idx == 0 {
			if _, err := l.conn.Set(nodePath, heldMark, -1); err != nil {
				return giveUp(fmt.Errorf("failed to mark lock node: %w", err))
			}
			token := lock.Token(nodePath)
			l.acquired(token, lease)
			return token, true, nil
		}

		// 4. 不是最小节点，监听前一个节点
		prevNodePath := lockPath + "/" + children[idx-1]
		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			return giveUp(fmt.Errorf("failed to watch previous node: %w", err))
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
			// 前一个节点变化（通常是删除），重新进入循环竞争
		case <-ctx.Done():
			return giveUp(ctx.Err())
		case <-deadline.C:
			return giveUp(nil)
		}
	}
}

// acquired 记录持有的节点，并启动租约定时器
func (l *Locker) acquired(token lock.Token, lease time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[token] = time.AfterFunc(lease, func() {
		if !l.forget(token) {
			return
		}
		if err := l.conn.Delete(string(token), -1); err != nil && err != zk.ErrNoNode {
			logger.Logger.Warn().Err(err).Str("node", string(token)).Msg("⚠️ failed to expire lock node")
		}
	})
}

// forget 删除令牌记录，返回它是否仍被持有
func (l *Locker) forget(token lock.Token) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	timer, ok := l.held[token]
	if ok {
		timer.Stop()
		delete(l.held, token)
	}
	return ok
}

func (l *Locker) owns(key string, token lock.Token) bool {
	return strings.HasPrefix(string(token), l.path(key)+"/")
}

// Unlock 释放 token 对应的节点；租约已过期或令牌不属于该 key 时返回 ErrNotHeld
func (l *Locker) Unlock(_ context.Context, key string, token lock.Token) error {
	if !l.owns(key, token) || !l.forget(token) {
		return lock.ErrNotHeld
	}
	err := l.conn.Delete(string(token), -1)
	if err == zk.ErrNoNode {
		return lock.ErrNotHeld
	}
	if err != nil {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	return nil
}

func (l *Locker) IsHeldByCurrentOwner(_ context.Context, key string, token lock.Token) (bool, error) {
	if !l.owns(key, token) {
		return false, nil
	}
	l.mu.Lock()
	_, ok := l.held[token]
	l.mu.Unlock()
	if !ok {
		return false, nil
	}
	exists, _, err := l.conn.Exists(string(token))
	if err != nil {
		return false, fmt.Errorf("failed to check lock node: %w", err)
	}
	return exists, nil
}

// IsLocked 只看序号最小的节点是否已标记为持有；排队中的节点不算
func (l *Locker) IsLocked(_ context.Context, key string) (bool, error) {
	lockPath := l.path(key)
	for {
		children, _, err := l.conn.Children(lockPath)
		if err == zk.ErrNoNode {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to get children nodes: %w", err)
		}
		if len(children) == 0 {
			return false, nil
		}
		sortBySequence(children)
		data, _, err := l.conn.Get(lockPath + "/" + children[0])
		if err == zk.ErrNoNode {
			// 最小节点刚被删除，重新读取
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to read lock node: %w", err)
		}
		return bytes.Equal(data, heldMark), nil
	}
}

// sortBySequence 按服务端分配的序号排序；protected 节点名带有 GUID 前缀，不能直接按字符串排序
func sortBySequence(children []string) {
	sort.SliceStable(children, func(i, j int) bool {
		return sequenceOf(children[i]) < sequenceOf(children[j])
	})
}

func sequenceOf(node string) string {
	if i := strings.LastIndex(node, nodePrefix); i >= 0 {
		return node[i+len(nodePrefix):]
	}
	return node
}

func indexOf(children []string, name string) int {
	for i, c := range children {
		if c == name {
			return i
		}
	}
	return -1
}

var _ lock.Locker = (*Locker)(nil)
