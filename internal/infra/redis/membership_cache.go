package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/shared"
)

// membershipPrefix yields keys of the form authz:member:{org}:{user}.
const membershipPrefix = "authz:member"

// membershipEntry caches both hits and "not a member" answers.
type membershipEntry struct {
	Member     bool              `json:"member"`
	Membership access.Membership `json:"membership"`
}

// MembershipCache caches organization membership lookups used by the
// authorization decision.
type MembershipCache struct {
	client *Client
	ttl    time.Duration
}

// NewMembershipCache creates a membership cache with the given TTL.
func NewMembershipCache(client *Client, ttl time.Duration) (*MembershipCache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("membership TTL must be positive")
	}
	return &MembershipCache{client: client, ttl: ttl}, nil
}

func membershipKey(orgID, userID shared.ID) string {
	return membershipPrefix + ":" + orgID.String() + ":" + userID.String()
}

// GetOrLoad returns the membership of userID in orgID, or nil if there is
// none. Misses and Redis failures call load; a loader error is returned and
// nothing is cached.
func (m *MembershipCache) GetOrLoad(
	ctx context.Context,
	orgID, userID shared.ID,
	load func(ctx context.Context) (*access.Membership, error),
) (*access.Membership, error) {
	key := membershipKey(orgID, userID)

	entry, err := m.read(ctx, key)
	switch {
	case err == nil:
		membershipLookups.WithLabelValues("hit").Inc()
		return entry.membership(), nil
	case errors.Is(err, redis.Nil):
		membershipLookups.WithLabelValues("miss").Inc()
	default:
		membershipLookups.WithLabelValues("error").Inc()
		m.client.logger.Warn("membership cache read failed, using database",
			"org_id", orgID.String(), "user_id", userID.String(), "error", err)
	}

	mem, err := load(ctx)
	if err != nil {
		return nil, err
	}

	fresh := membershipEntry{}
	if mem != nil {
		fresh = membershipEntry{Member: true, Membership: *mem}
	}
	if err := m.write(ctx, key, fresh); err != nil {
		m.client.logger.Warn("membership cache write failed",
			"org_id", orgID.String(), "user_id", userID.String(), "error", err)
	}
	return fresh.membership(), nil
}

// Invalidate drops the cached membership.
func (m *MembershipCache) Invalidate(ctx context.Context, orgID, userID shared.ID) error {
	done := timed("del")
	err := m.client.client.Del(ctx, membershipKey(orgID, userID)).Err()
	done(err)
	if err != nil {
		return fmt.Errorf("invalidate membership: %w", err)
	}
	return nil
}

func (m *MembershipCache) read(ctx context.Context, key string) (*membershipEntry, error) {
	done := timed("get")
	data, err := m.client.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		done(nil)
		return nil, err
	}
	done(err)
	if err != nil {
		return nil, err
	}

	var entry membershipEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode membership entry: %w", err)
	}
	return &entry, nil
}

func (m *MembershipCache) write(ctx context.Context, key string, entry membershipEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	done := timed("set")
	err = m.client.client.Set(ctx, key, data, m.ttl).Err()
	done(err)
	return err
}

func (e *membershipEntry) membership() *access.Membership {
	if !e.Member {
		return nil
	}
	mem := e.Membership
	return &mem
}
