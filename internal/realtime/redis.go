package realtime

import (
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// NewRedis creates a new Redis client. An empty addr disables redis and
// returns nil; every consumer treats a nil client as "not configured".
func NewRedis(addr, password string, db int) *redis.Client {
	if addr == "" {
		log.Info("redis disabled (REDIS_ADDR empty)")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	log.WithField("addr", addr).Info("redis client created")
	return rdb
}

// NotificationChannel is the pub/sub channel carrying a user's events.
func NotificationChannel(userID string) string {
	return "notifications:" + userID
}
