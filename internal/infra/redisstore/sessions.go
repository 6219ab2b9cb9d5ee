// Package redisstore keeps hub sessions in Redis so several hub devices
// and API instances share one float. Every float change is a Lua script,
// which makes check-and-update a single step per session.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"

	"github.com/redis/go-redis/v9"
)

// closedRetention is how long a closed session stays readable.
const closedRetention = 72 * time.Hour

// Script return codes.
const (
	codeOK           = 1
	codeNotFound     = -1
	codeClosed       = -2
	codeInsufficient = -3
)

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return {-2, 0} end
redis.call('HSET', KEYS[1], 'status', 'open', 'hub_id', ARGV[1], 'operator_id', ARGV[2],
  'start', ARGV[3], 'current', ARGV[3], 'paid_out', 0, 'count', 0, 'opened_at', ARGV[4])
return {1, 0}
`)

var reserveScript = redis.NewScript(`
local s = redis.call('HMGET', KEYS[1], 'status', 'current')
if not s[1] then return {-1, 0} end
if s[1] ~= 'open' then return {-2, 0} end
local cur = tonumber(s[2])
local amt = tonumber(ARGV[1])
if cur - amt < 0 then return {-3, cur} end
redis.call('HINCRBY', KEYS[1], 'current', -amt)
redis.call('HINCRBY', KEYS[1], 'paid_out', amt)
redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, cur - amt}
`)

var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1, 0} end
local amt = tonumber(ARGV[1])
redis.call('HINCRBY', KEYS[1], 'current', amt)
redis.call('HINCRBY', KEYS[1], 'paid_out', -amt)
redis.call('HINCRBY', KEYS[1], 'count', -1)
return {1, 0}
`)

var topUpScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return {-1, 0} end
if st ~= 'open' then return {-2, 0} end
local amt = tonumber(ARGV[1])
redis.call('HINCRBY', KEYS[1], 'start', amt)
redis.call('HINCRBY', KEYS[1], 'current', amt)
return {1, 0}
`)

var closeScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return {-1, 0} end
if st ~= 'open' then return {-2, 0} end
redis.call('HSET', KEYS[1], 'status', 'closed', 'closed_at', ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return {1, 0}
`)

// Sessions is a Redis-backed SessionStore.
type Sessions struct {
	client redis.UniversalClient
	prefix string
}

// NewSessions creates a session store; keys are prefixed with prefix.
func NewSessions(client redis.UniversalClient, prefix string) *Sessions {
	if prefix == "" {
		prefix = "hubsession:"
	}
	return &Sessions{client: client, prefix: prefix}
}

func (s *Sessions) key(id string) string { return s.prefix + id }

func (s *Sessions) CreateSession(ctx context.Context, hs *domain.HubSession) error {
	res, err := createScript.Run(ctx, s.client, []string{s.key(hs.ID)},
		hs.HubID, hs.OperatorID, int64(hs.CashFloatStart), hs.OpenedAt.UTC().Format(time.RFC3339Nano)).Int64Slice()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if res[0] != codeOK {
		return &domain.ErrDuplicate{Key: hs.ID}
	}
	return nil
}

func (s *Sessions) GetSession(ctx context.Context, id string) (*domain.HubSession, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, &domain.ErrNotFound{Resource: "session", ID: id}
	}
	return decodeSession(id, fields)
}

func (s *Sessions) Reserve(ctx context.Context, id string, amount domain.Money) (*domain.HubSession, error) {
	res, err := reserveScript.Run(ctx, s.client, []string{s.key(id)}, int64(amount)).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("reserve float: %w", err)
	}
	switch res[0] {
	case codeOK:
		return s.GetSession(ctx, id)
	case codeInsufficient:
		return nil, &domain.ErrInsufficientFloat{SessionID: id, Available: domain.Money(res[1]), Required: amount}
	default:
		return nil, scriptError(id, res[0])
	}
}

func (s *Sessions) Release(ctx context.Context, id string, amount domain.Money) error {
	res, err := releaseScript.Run(ctx, s.client, []string{s.key(id)}, int64(amount)).Int64Slice()
	if err != nil {
		return fmt.Errorf("release float: %w", err)
	}
	if res[0] != codeOK {
		return scriptError(id, res[0])
	}
	return nil
}

func (s *Sessions) TopUp(ctx context.Context, id string, amount domain.Money) (*domain.HubSession, error) {
	res, err := topUpScript.Run(ctx, s.client, []string{s.key(id)}, int64(amount)).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("top up float: %w", err)
	}
	if res[0] != codeOK {
		return nil, scriptError(id, res[0])
	}
	return s.GetSession(ctx, id)
}

func (s *Sessions) CloseSession(ctx context.Context, id string, at time.Time) (*domain.HubSession, error) {
	res, err := closeScript.Run(ctx, s.client, []string{s.key(id)},
		at.UTC().Format(time.RFC3339Nano), int64(closedRetention.Seconds())).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	if res[0] == codeClosed {
		return nil, &domain.ErrInvalidTransition{Resource: "session", From: domain.SessionClosed, To: domain.SessionClosed}
	}
	if res[0] != codeOK {
		return nil, scriptError(id, res[0])
	}
	return s.GetSession(ctx, id)
}

func scriptError(id string, code int64) error {
	switch code {
	case codeNotFound:
		return &domain.ErrNotFound{Resource: "session", ID: id}
	case codeClosed:
		return &domain.ErrForbidden{Action: "session " + id + " is closed"}
	default:
		return fmt.Errorf("session %s: unexpected script result %d", id, code)
	}
}

func decodeSession(id string, f map[string]string) (*domain.HubSession, error) {
	var errs []error
	num := func(k string) int64 {
		v, err := strconv.ParseInt(f[k], 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", k, err))
		}
		return v
	}

	hs := &domain.HubSession{
		ID:                id,
		HubID:             f["hub_id"],
		OperatorID:        f["operator_id"],
		Status:            f["status"],
		CashFloatStart:    domain.Money(num("start")),
		CashFloatCurrent:  domain.Money(num("current")),
		TotalPaidOut:      domain.Money(num("paid_out")),
		TransactionsCount: num("count"),
	}
	opened, err := time.Parse(time.RFC3339Nano, f["opened_at"])
	if err != nil {
		errs = append(errs, fmt.Errorf("field opened_at: %w", err))
	}
	hs.OpenedAt = opened
	if raw := f["closed_at"]; raw != "" {
		closed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("field closed_at: %w", err))
		}
		hs.ClosedAt = &closed
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return hs, nil
}
