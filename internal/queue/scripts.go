package queue

import "github.com/redis/go-redis/v9"

// Item hashes live at <prefix>:item:<id>; scope keys are
// <prefix>:<collection>:<mode>:{pending,inflight,gen,done}.
//
// Scripts build item and scope keys from the prefix in ARGV rather than
// declaring them in KEYS, so they need a single-node Redis (or a Sentinel
// primary). Redis Cluster would reject the cross-slot access.

// KEYS: gen index, pending zset, by-generation set.
// ARGV: prefix, new id, generation, collection, mode, ordering ms, metadata, now ms.
var upsertScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[1], ARGV[3])
if existing then
  local key = ARGV[1] .. ':item:' .. existing
  if redis.call('EXISTS', key) == 1 then
    redis.call('HSET', key, 'ordering_key', ARGV[6], 'metadata', ARGV[7], 'updated_at', ARGV[8])
    if redis.call('HGET', key, 'status') == 'pending' then
      redis.call('ZADD', KEYS[2], ARGV[6], existing)
    end
    return {existing, 0}
  end
  redis.call('HDEL', KEYS[1], ARGV[3])
end
local key = ARGV[1] .. ':item:' .. ARGV[2]
redis.call('HSET', key,
  'id', ARGV[2], 'generation_id', ARGV[3], 'collection_id', ARGV[4], 'mode', ARGV[5],
  'status', 'pending', 'ordering_key', ARGV[6], 'metadata', ARGV[7],
  'created_at', ARGV[8], 'updated_at', ARGV[8])
redis.call('HSET', KEYS[1], ARGV[3], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[6], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[2])
return {ARGV[2], 1}
`)

// KEYS: pending zset, scope inflight zset, global inflight zset.
// ARGV: prefix, limit, reviewer, now ms.
var claimScript = redis.NewScript(`
local limit = tonumber(ARGV[2])
local claimed = {}
while #claimed < limit do
  local ids = redis.call('ZRANGE', KEYS[1], 0, limit - #claimed - 1)
  if #ids == 0 then break end
  for _, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
    local key = ARGV[1] .. ':item:' .. id
    if redis.call('HGET', key, 'status') == 'pending' then
      redis.call('HSET', key, 'status', 'in_progress', 'assigned_to', ARGV[3],
        'assigned_at', ARGV[4], 'updated_at', ARGV[4])
      redis.call('ZADD', KEYS[2], ARGV[4], id)
      redis.call('ZADD', KEYS[3], ARGV[4], id)
      claimed[#claimed + 1] = id
    end
  end
end
return claimed
`)

// KEYS: global inflight zset.
// ARGV: prefix, owner ('' for any), now ms, ids...
var releaseScript = redis.NewScript(`
local released = 0
for i = 4, #ARGV do
  local id = ARGV[i]
  local key = ARGV[1] .. ':item:' .. id
  local f = redis.call('HMGET', key, 'status', 'assigned_to', 'collection_id', 'mode', 'ordering_key')
  if f[1] == 'in_progress' and (ARGV[2] == '' or f[2] == ARGV[2]) then
    local scope = ARGV[1] .. ':' .. f[3] .. ':' .. f[4]
    redis.call('HSET', key, 'status', 'pending', 'updated_at', ARGV[3])
    redis.call('HDEL', key, 'assigned_to', 'assigned_at')
    redis.call('ZREM', scope .. ':inflight', id)
    redis.call('ZREM', KEYS[1], id)
    redis.call('ZADD', scope .. ':pending', f[5], id)
    released = released + 1
  end
end
return released
`)

// KEYS: global inflight zset.
// ARGV: prefix, cutoff ms, now ms.
var reapScript = redis.NewScript(`
local cutoff = tonumber(ARGV[2])
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local reclaimed = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. ':item:' .. id
  local f = redis.call('HMGET', key, 'status', 'assigned_at', 'collection_id', 'mode', 'ordering_key')
  if f[1] == 'in_progress' then
    if tonumber(f[2]) <= cutoff then
      local scope = ARGV[1] .. ':' .. f[3] .. ':' .. f[4]
      redis.call('HSET', key, 'status', 'pending', 'updated_at', ARGV[3])
      redis.call('HDEL', key, 'assigned_to', 'assigned_at')
      redis.call('ZREM', scope .. ':inflight', id)
      redis.call('ZREM', KEYS[1], id)
      redis.call('ZADD', scope .. ':pending', f[5], id)
      reclaimed = reclaimed + 1
    end
  else
    redis.call('ZREM', KEYS[1], id)
  end
end
return reclaimed
`)

// KEYS: by-generation set, global inflight zset.
// ARGV: prefix, mode ('' for any), now ms, generation.
var completeScript = redis.NewScript(`
local done = 0
local ids = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ids) do
  local key = ARGV[1] .. ':item:' .. id
  local f = redis.call('HMGET', key, 'status', 'collection_id', 'mode')
  if not f[1] then
    redis.call('SREM', KEYS[1], id)
  elseif f[1] ~= 'done' and (ARGV[2] == '' or f[3] == ARGV[2]) then
    local scope = ARGV[1] .. ':' .. f[2] .. ':' .. f[3]
    redis.call('HSET', key, 'status', 'done', 'updated_at', ARGV[3])
    redis.call('HDEL', key, 'assigned_to', 'assigned_at')
    redis.call('ZREM', scope .. ':pending', id)
    redis.call('ZREM', scope .. ':inflight', id)
    redis.call('ZREM', KEYS[2], id)
    if redis.call('HGET', scope .. ':gen', ARGV[4]) == id then
      redis.call('HDEL', scope .. ':gen', ARGV[4])
    end
    redis.call('SADD', scope .. ':done', id)
    redis.call('SREM', KEYS[1], id)
    done = done + 1
  end
end
return done
`)
