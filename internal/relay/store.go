package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
)

// memberTTL caps how long a session's membership set survives without
// activity, so rooms abandoned by a crashed relay instance eventually
// disappear from the registry.
const memberTTL = 24 * time.Hour

// Store mirrors session membership into redis. It exists for
// observability across relay restarts and instances; the in-memory hub
// remains authoritative for message routing.
type Store struct {
	rdb    *redis.Client
	logger *logrus.Entry
}

// NewStore connects to redis and verifies the connection.
func NewStore(cfg config.Relay, logger *logrus.Entry) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("relay: failed to connect to redis: %w", err)
	}

	return &Store{rdb: rdb, logger: logger}, nil
}

// Close releases the redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func memberKey(sessionID string) string {
	return "fieldcast:session:" + sessionID + ":members"
}

// AddMember records a role as present in a session.
func (s *Store) AddMember(ctx context.Context, sessionID string, role config.Role) error {
	key := memberKey(sessionID)
	if err := s.rdb.SAdd(ctx, key, string(role)).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, memberTTL).Err()
}

// RemoveMember removes a role from a session, deleting the set once it
// is empty.
func (s *Store) RemoveMember(ctx context.Context, sessionID string, role config.Role) error {
	key := memberKey(sessionID)
	if err := s.rdb.SRem(ctx, key, string(role)).Err(); err != nil {
		return err
	}

	n, err := s.rdb.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.rdb.Del(ctx, key).Err()
	}
	return nil
}

// Members returns the roles recorded as present in a session.
func (s *Store) Members(ctx context.Context, sessionID string) ([]string, error) {
	return s.rdb.SMembers(ctx, memberKey(sessionID)).Result()
}
