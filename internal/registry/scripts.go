package registry

import "github.com/redis/go-redis/v9"

// leaveScript removes a member and tears the session down when it was the last one.
//
// KEYS[1] room_users set, KEYS[2] user hash, KEYS[3] room hash, KEYS[4..] board keys
// ARGV[1] connection id, ARGV[2] session id
//
// Returns -1 when the connection was not a member, otherwise the remaining member count.
var leaveScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if redis.call('HGET', KEYS[2], 'sessionId') == ARGV[2] then
	redis.call('DEL', KEYS[2])
end
if removed == 0 then
	return -1
end
local left = redis.call('SCARD', KEYS[1])
if left == 0 then
	for i = 3, #KEYS do
		redis.call('DEL', KEYS[i])
	end
end
return left
`)
