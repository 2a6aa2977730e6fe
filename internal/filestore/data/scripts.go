package data

import (
	"github.com/redis/go-redis/v9"

	pkgredis "github.com/lk2023060901/file-dedup-service/internal/pkg/redis"
)

// All scripts take KEYS[1] = fh:<digest>, KEYS[2] = file:<id> and reply
// {outcome, path, count}. Lease deadlines are unix milliseconds.

// takeReference adds file:<id> as one more reference to existing content,
// unless a live retirement claim holds it. Expects local fp and ARGV[1..3] =
// digest, ts, now.
const takeReference = `
local rl = tonumber(redis.call('HGET', KEYS[1], 'rl') or '')
if rl then
  if rl > tonumber(ARGV[3]) then
    return {'busy'}
  end
  redis.call('HDEL', KEYS[1], 'rl', 'rt')
end
local cnt = redis.call('HINCRBY', KEYS[1], 'cnt', 1)
redis.call('HSET', KEYS[2], 'ts', ARGV[2], 'fh', ARGV[1], 'fp', fp)
return {'hit', fp, cnt}
`

// ARGV: digest, ts, now
var acquireScript = pkgredis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {'exists'}
end
local fp = redis.call('HGET', KEYS[1], 'fp')
if not fp then
  return {'miss'}
end
` + takeReference)

// ARGV: digest, ts, now, path, size
var commitScript = pkgredis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {'exists'}
end
local fp = redis.call('HGET', KEYS[1], 'fp')
if not fp then
  redis.call('HSET', KEYS[1], 'fp', ARGV[4], 'cnt', 1, 'sz', ARGV[5])
  redis.call('HSET', KEYS[2], 'ts', ARGV[2], 'fh', ARGV[1], 'fp', ARGV[4])
  return {'created', ARGV[4], 1}
end
` + takeReference)

// ARGV: token, now, lease deadline, digest
var releaseScript = pkgredis.NewScript(`
local fh = redis.call('HGET', KEYS[2], 'fh')
if (not fh) or fh ~= ARGV[4] then
  return {'notfound'}
end
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'orphan'}
end
local rl = tonumber(redis.call('HGET', KEYS[1], 'rl') or '')
if rl then
  if rl > tonumber(ARGV[2]) then
    return {'busy'}
  end
  redis.call('HDEL', KEYS[1], 'rl', 'rt')
end
local cnt = tonumber(redis.call('HGET', KEYS[1], 'cnt') or '') or 0
if cnt < 1 then
  return {'corrupt', '', cnt}
end
if cnt > 1 then
  redis.call('DEL', KEYS[2])
  cnt = redis.call('HINCRBY', KEYS[1], 'cnt', -1)
  return {'released', '', cnt}
end
redis.call('HSET', KEYS[1], 'rl', ARGV[3], 'rt', ARGV[1])
return {'claimed', redis.call('HGET', KEYS[1], 'fp'), cnt}
`)

// ARGV: token
var finalizeScript = pkgredis.NewScript(`
if redis.call('HGET', KEYS[1], 'rt') == ARGV[1] then
  redis.call('DEL', KEYS[1], KEYS[2])
  return {'retired', '', 0}
end
local cnt = 0
if redis.call('DEL', KEYS[2]) == 1 and redis.call('EXISTS', KEYS[1]) == 1 then
  cnt = redis.call('HINCRBY', KEYS[1], 'cnt', -1)
  if cnt < 1 then
    redis.call('DEL', KEYS[1])
  end
end
return {'lost', '', cnt}
`)

// KEYS[1] = fh:<digest>; ARGV: token
var abortScript = pkgredis.NewScript(`
if redis.call('HGET', KEYS[1], 'rt') == ARGV[1] then
  redis.call('HDEL', KEYS[1], 'rl', 'rt')
  return 1
end
return 0
`)

// Scripts 返回全部脚本，供启动时预加载
func Scripts() []*redis.Script {
	return []*redis.Script{acquireScript, commitScript, releaseScript, finalizeScript, abortScript}
}
