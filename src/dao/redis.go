package dao

import (
	"github.com/go-redis/redis"
)

// IRedisDao mirrors the live session set to an external store.
type IRedisDao interface {
	AddSession(member string) error
	DelSession(member string) error
	GetSessions() ([]string, error)
	GetSessionNum() (int64, error)
}

var RedisDao IRedisDao = &RedisNilClient{}

type RedisNilClient struct {
}

func (r *RedisNilClient) AddSession(member string) error {
	return nil
}

func (r *RedisNilClient) DelSession(member string) error {
	return nil
}

func (r *RedisNilClient) GetSessions() ([]string, error) {
	return nil, nil
}

func (r *RedisNilClient) GetSessionNum() (int64, error) {
	return 0, nil
}

type RedisClient struct {
	client *redis.Client
	key    string
}

func NewRedisDao(addr, password, prefix string) *RedisClient {
	rc := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return &RedisClient{client: rc, key: genSessionsKey(prefix)}
}

// 存储当前所有会话
func genSessionsKey(prefix string) string {
	if prefix == "" {
		prefix = "holesocks"
	}
	return prefix + "|sessions"
}

func (rc *RedisClient) AddSession(member string) error {
	return rc.client.SAdd(rc.key, member).Err()
}

func (rc *RedisClient) DelSession(member string) error {
	return rc.client.SRem(rc.key, member).Err()
}

func (rc *RedisClient) GetSessions() ([]string, error) {
	return rc.client.SMembers(rc.key).Result()
}

func (rc *RedisClient) GetSessionNum() (int64, error) {
	return rc.client.SCard(rc.key).Result()
}

// Reset drops the mirrored set, left over members belong to a previous run.
func (rc *RedisClient) Reset() error {
	return rc.client.Del(rc.key).Err()
}

func (rc *RedisClient) Close() error {
	return rc.client.Close()
}
