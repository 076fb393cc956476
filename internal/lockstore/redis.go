package lockstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

const redisKeyPrefix = "assignment:lock:"

// Result codes returned as the first element of every script reply.
const (
	redisCodeRejected  = "0"
	redisCodeAcquired  = "1"
	redisCodeRefreshed = "2"
)

// Times are stored as unix milliseconds. The key TTL mirrors the lock
// expiry so Redis evicts stale locks without a reaper.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[5])
local expires = tonumber(ARGV[6])
local max_total = tonumber(ARGV[7])

local function reply(code)
  local out = {code}
  local fields = redis.call('HGETALL', key)
  for i = 1, #fields do out[#out + 1] = fields[i] end
  return out
end

if redis.call('EXISTS', key) == 1 then
  local holder = redis.call('HGET', key, 'holder_id')
  local current = tonumber(redis.call('HGET', key, 'expires_at'))
  if current > now then
    if holder ~= ARGV[2] then
      return reply('0')
    end
    local acquired = tonumber(redis.call('HGET', key, 'acquired_at'))
    local new_expiry = expires
    if max_total > 0 and acquired + max_total < new_expiry then
      new_expiry = acquired + max_total
    end
    redis.call('HSET', key, 'expires_at', string.format('%d', new_expiry), 'holder_name', ARGV[3])
    redis.call('PEXPIRE', key, new_expiry - now)
    return reply('2')
  end
  redis.call('DEL', key)
end

redis.call('HSET', key,
  'id', ARGV[1],
  'ticket_id', ARGV[8],
  'holder_id', ARGV[2],
  'holder_name', ARGV[3],
  'holder_role', ARGV[4],
  'acquired_at', string.format('%d', now),
  'expires_at', string.format('%d', expires))
redis.call('PEXPIRE', key, expires - now)
return reply('1')
`)

var releaseScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[2])
if redis.call('EXISTS', key) == 0 then
  return {'0'}
end
if tonumber(redis.call('HGET', key, 'expires_at')) <= now then
  return {'0'}
end
if ARGV[1] ~= '' and redis.call('HGET', key, 'holder_id') ~= ARGV[1] then
  return {'0'}
end
local out = {'1'}
local fields = redis.call('HGETALL', key)
for i = 1, #fields do out[#out + 1] = fields[i] end
redis.call('DEL', key)
return out
`)

var extendScript = redis.NewScript(`
local key = KEYS[1]
local by = tonumber(ARGV[2])
local max_total = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
if redis.call('EXISTS', key) == 0 then
  return {'0'}
end
local current = tonumber(redis.call('HGET', key, 'expires_at'))
if current <= now or redis.call('HGET', key, 'holder_id') ~= ARGV[1] then
  return {'0'}
end
local acquired = tonumber(redis.call('HGET', key, 'acquired_at'))
local new_expiry = current + by
if max_total > 0 and acquired + max_total < new_expiry then
  new_expiry = acquired + max_total
end
if new_expiry > current then
  redis.call('HSET', key, 'expires_at', string.format('%d', new_expiry))
  redis.call('PEXPIRE', key, new_expiry - now)
end
local out = {'1'}
local fields = redis.call('HGETALL', key)
for i = 1, #fields do out[#out + 1] = fields[i] end
return out
`)

type redisStore struct {
	client redis.UniversalClient
}

// NewRedisStore returns a Store backed by one Redis hash per ticket.
func NewRedisStore(client redis.UniversalClient) Store {
	return &redisStore{client: client}
}

func redisKey(ticketID string) string {
	return redisKeyPrefix + ticketID
}

func (s *redisStore) Acquire(ctx context.Context, p AcquireParams) (AcquireOutcome, error) {
	lock := p.Lock
	reply, err := acquireScript.Run(ctx, s.client, []string{redisKey(lock.TicketID)},
		lock.ID,
		lock.HolderID,
		lock.HolderName,
		string(lock.HolderRole),
		lock.AcquiredAt.UnixMilli(),
		lock.ExpiresAt.UnixMilli(),
		p.MaxTotal.Milliseconds(),
		lock.TicketID,
	).Slice()
	if err != nil {
		return AcquireOutcome{}, fmt.Errorf("redis acquire: %w", err)
	}

	code, current, err := decodeRedisReply(reply)
	if err != nil {
		return AcquireOutcome{}, err
	}
	if current == nil {
		return AcquireOutcome{}, errors.New("redis acquire: empty lock reply")
	}
	switch code {
	case redisCodeAcquired:
		return AcquireOutcome{Lock: *current, Acquired: true}, nil
	case redisCodeRefreshed:
		return AcquireOutcome{Lock: *current, Acquired: true, Refreshed: true}, nil
	default:
		return AcquireOutcome{Lock: *current}, nil
	}
}

func (s *redisStore) Get(ctx context.Context, ticketID string, now time.Time) (*domain.AssignmentLock, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(ticketID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	lock, err := lockFromFields(fields)
	if err != nil {
		return nil, err
	}
	if !lock.LiveAt(now) {
		return nil, nil
	}
	return lock, nil
}

func (s *redisStore) Release(ctx context.Context, ticketID, holderID string, now time.Time) (*domain.AssignmentLock, error) {
	reply, err := releaseScript.Run(ctx, s.client, []string{redisKey(ticketID)}, holderID, now.UnixMilli()).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis release: %w", err)
	}
	code, released, err := decodeRedisReply(reply)
	if err != nil || code == redisCodeRejected {
		return nil, err
	}
	released.Active = false
	return released, nil
}

func (s *redisStore) Extend(ctx context.Context, p ExtendParams) (*domain.AssignmentLock, error) {
	reply, err := extendScript.Run(ctx, s.client, []string{redisKey(p.TicketID)},
		p.HolderID,
		p.By.Milliseconds(),
		p.MaxTotal.Milliseconds(),
		p.Now.UnixMilli(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis extend: %w", err)
	}
	code, lock, err := decodeRedisReply(reply)
	if err != nil || code == redisCodeRejected {
		return nil, err
	}
	return lock, nil
}

// Reap is a no-op: key TTLs evict expired locks.
func (s *redisStore) Reap(context.Context, time.Time) (int, error) {
	return 0, nil
}

func decodeRedisReply(reply []interface{}) (string, *domain.AssignmentLock, error) {
	if len(reply) == 0 {
		return "", nil, errors.New("redis: empty script reply")
	}
	code, ok := reply[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("redis: unexpected reply code %T", reply[0])
	}
	if len(reply) == 1 {
		return code, nil, nil
	}

	fields := make(map[string]string, (len(reply)-1)/2)
	for i := 1; i+1 < len(reply); i += 2 {
		key, _ := reply[i].(string)
		value, _ := reply[i+1].(string)
		fields[key] = value
	}
	lock, err := lockFromFields(fields)
	if err != nil {
		return "", nil, err
	}
	return code, lock, nil
}

func lockFromFields(fields map[string]string) (*domain.AssignmentLock, error) {
	acquired, err := strconv.ParseInt(fields["acquired_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: parse acquired_at: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: parse expires_at: %w", err)
	}
	return &domain.AssignmentLock{
		ID:         fields["id"],
		TicketID:   fields["ticket_id"],
		HolderID:   fields["holder_id"],
		HolderName: fields["holder_name"],
		HolderRole: domain.Role(fields["holder_role"]),
		AcquiredAt: time.UnixMilli(acquired).UTC(),
		ExpiresAt:  time.UnixMilli(expires).UTC(),
		Active:     true,
	}, nil
}
