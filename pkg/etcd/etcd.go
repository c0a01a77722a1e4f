package etcd

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// Client etcd客户端
type Client struct {
	cli     *clientv3.Client
	prefix  string
	ttl     int
	timeout time.Duration
}

// NewClient 创建etcd客户端
func NewClient(endpoints []string, prefix string, ttl int) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	if ttl <= 0 {
		ttl = 60
	}

	return &Client{
		cli:     cli,
		prefix:  prefix,
		ttl:     ttl,
		timeout: 5 * time.Second,
	}, nil
}

// Lock 获取分布式互斥锁，阻塞直到获得锁或ctx结束
// 持锁进程崩溃时锁随会话租约过期释放
func (c *Client) Lock(ctx context.Context, key string) (func(), error) {
	session, err := concurrency.NewSession(c.cli, concurrency.WithTTL(c.ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	lockKey := c.prefix + key
	mutex := concurrency.NewMutex(session, lockKey)
	if err := mutex.Lock(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", lockKey, err)
	}
	logrus.Infof("[Etcd] Acquired lock: %s", lockKey)

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := mutex.Unlock(unlockCtx); err != nil {
			logrus.Warnf("[Etcd] Failed to unlock %s: %v", lockKey, err)
		}
		session.Close()
		logrus.Infof("[Etcd] Released lock: %s", lockKey)
	}, nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	return c.cli.Close()
}
