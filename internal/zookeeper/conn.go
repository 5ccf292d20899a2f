// internal/zookeeper/conn.go
package zookeeper

import (
	"fmt"
	"strings"
	"time"

	"fulfillment/internal/pkg/logger"

	"github.com/go-zookeeper/zk"
)

// Conn 包装 zk.Conn，会话断开时临时节点会被服务端清理
type Conn struct {
	*zk.Conn
}

// Connect servers 格式为 "host1:2181,host2:2181"
func Connect(servers string, sessionTimeout time.Duration) (*Conn, error) {
	var list []string
	for _, s := range strings.Split(servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("zookeeper: no servers configured")
	}
	c, events, err := zk.Connect(list, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zookeeper: connect %s: %w", servers, err)
	}

	// 等待会话建立，避免第一次调用就失败
	deadline := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				logger.Logger.Info().Str("servers", servers).Msg("✅ Connected to ZooKeeper.")
				return &Conn{Conn: c}, nil
			}
		case <-deadline:
			c.Close()
			return nil, fmt.Errorf("zookeeper: no session with %s after %s", servers, sessionTimeout)
		}
	}
}

// ensurePath 逐级创建持久节点，已存在时忽略
func (c *Conn) ensurePath(path string) error {
	cur := ""
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		cur += "/" + part
		_, err := c.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return fmt.Errorf("failed to create node %s: %w", cur, err)
		}
	}
	return nil
}
