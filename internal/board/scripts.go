package board

import "github.com/redis/go-redis/v9"

// seedScript 보드가 없을 때만 기본 상태를 기록 (get-or-init)
//
// KEYS[1] meta, KEYS[2] tokens
// ARGV[1] ttl(ms), ARGV[2] activeLayer, ARGV[3..] token id / json pairs
var seedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'activeLayer', ARGV[2])
for i = 3, #ARGV, 2 do
	redis.call('HSET', KEYS[2], ARGV[i], ARGV[i + 1])
end
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return 1
`)

// appendScript id 목록 끝에 항목을 추가하고 최근 limit개만 남김
//
// KEYS[1] id list, KEYS[2] data hash, KEYS[3..] keys whose ttl is refreshed
// ARGV[1] id, ARGV[2] json, ARGV[3] limit, ARGV[4] ttl(ms)
//
// An existing id is replaced and moved to the end.
var appendScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
	redis.call('LREM', KEYS[1], 0, ARGV[1])
end
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
local n = redis.call('LLEN', KEYS[1])
local excess = n - tonumber(ARGV[3])
if excess > 0 then
	local dropped = redis.call('LRANGE', KEYS[1], 0, excess - 1)
	redis.call('LTRIM', KEYS[1], excess, -1)
	for _, id in ipairs(dropped) do
		redis.call('HDEL', KEYS[2], id)
	end
	n = n - excess
end
for i = 1, #KEYS do
	redis.call('PEXPIRE', KEYS[i], ARGV[4])
end
return n
`)

// removeScript id로 항목 삭제. 삭제된 개수 반환.
//
// KEYS[1] id list, KEYS[2] data hash, KEYS[3..] keys whose ttl is refreshed
// ARGV[1] id, ARGV[2] ttl(ms)
var removeScript = redis.NewScript(`
local removed = redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
for i = 1, #KEYS do
	redis.call('PEXPIRE', KEYS[i], ARGV[2])
end
return removed
`)
