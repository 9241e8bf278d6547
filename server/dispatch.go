/*
Copyright (C) 2026  kvmesh contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package server implements the RESP2 command dispatch of spec.md §6 on
// top of a shard.Dispatcher: one Execute call per command, translating
// kverrors.KindError into the matching RESP error prefix. No pack example
// implements a raw TCP command server, so this layer is grounded on the
// standard library net/bufio rather than a retrieved dependency (see
// DESIGN.md); the command table itself is grounded on shard/commands.go's
// operation set.
package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/launix-de/kvmesh/kverrors"
	"github.com/launix-de/kvmesh/resp"
	"github.com/launix-de/kvmesh/shard"
)

// Clock is the minimal time source the dispatch layer needs to turn
// relative expirations (EXPIRE/SETEX's seconds-from-now) into the absolute
// epoch milliseconds the shard layer stores.
type Clock interface {
	NowMs() int64
}

// Dispatch executes one already-parsed command against d and returns the
// RESP reply to write back. args[0] is the command name; it is matched
// case-insensitively as RESP clients send mixed case.
func Dispatch(disp *shard.Dispatcher, clock Clock, args []string) resp.Reply {
	if len(args) == 0 {
		return resp.Err("ERR empty command")
	}
	cmd := strings.ToUpper(args[0])
	a := args[1:]

	switch cmd {
	case "PING":
		if len(a) == 0 {
			return resp.Simple("PONG")
		}
		return resp.BulkString(a[0])
	case "ECHO":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		return resp.BulkString(a[0])
	case "SELECT":
		// No-op: this node carries a single keyspace (SPEC_FULL.md's
		// resolution of spec.md's Open Question).
		return resp.Simple("OK")
	case "DBSIZE":
		n, err := disp.DBSize()
		return intOrErr(n, err)
	case "FLUSHALL", "FLUSHDB":
		if err := disp.FlushAll(); err != nil {
			return errReply(err)
		}
		return resp.Simple("OK")
	case "COMMAND":
		return resp.StringArray(commandTable)
	case "INFO":
		return resp.BulkString(infoText(disp))

	case "SET":
		return dispatchSet(disp, clock, a)
	case "GET":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		v, ok, err := disp.Get(a[0])
		return bulkOrErr(v, ok, err)
	case "GETSET":
		if len(a) != 2 {
			return wrongArgs(cmd)
		}
		v, ok, err := disp.GetSet(a[0], []byte(a[1]))
		return bulkOrErr(v, ok, err)
	case "SETNX":
		if len(a) != 2 {
			return wrongArgs(cmd)
		}
		ok, err := disp.Set(a[0], []byte(a[1]), shard.SetOptions{NX: true})
		return intBoolOrErr(ok, err)
	case "SETEX", "PSETEX":
		if len(a) != 3 {
			return wrongArgs(cmd)
		}
		n, err := strconv.ParseInt(a[1], 10, 64)
		if err != nil {
			return errReply(kverrors.New(kverrors.Syntax, "invalid expire time in '%s'", strings.ToLower(cmd)))
		}
		ttl := time.Duration(n) * time.Second
		if cmd == "PSETEX" {
			ttl = time.Duration(n) * time.Millisecond
		}
		_, err = disp.Set(a[0], []byte(a[2]), shard.SetOptions{ExpiryMs: clock.NowMs() + ttl.Milliseconds()})
		if err != nil {
			return errReply(err)
		}
		return resp.Simple("OK")
	case "MSET":
		if len(a) == 0 || len(a)%2 != 0 {
			return wrongArgs(cmd)
		}
		pairs := make(map[string][]byte, len(a)/2)
		for i := 0; i < len(a); i += 2 {
			pairs[a[i]] = []byte(a[i+1])
		}
		if err := disp.MSet(pairs); err != nil {
			return errReply(err)
		}
		return resp.Simple("OK")
	case "MGET":
		if len(a) == 0 {
			return wrongArgs(cmd)
		}
		values, exists, err := disp.MGet(a)
		if err != nil {
			return errReply(err)
		}
		items := make([]resp.Reply, len(values))
		for i := range values {
			if exists[i] {
				items[i] = resp.BulkString(string(values[i]))
			} else {
				items[i] = resp.NilBulk()
			}
		}
		return resp.Array{Items: items}
	case "DEL":
		if len(a) == 0 {
			return wrongArgs(cmd)
		}
		n, err := disp.DelMulti(a)
		return intOrErr(n, err)
	case "APPEND":
		if len(a) != 2 {
			return wrongArgs(cmd)
		}
		n, err := disp.Append(a[0], []byte(a[1]))
		return intOrErr(n, err)
	case "STRLEN":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		n, err := disp.Strlen(a[0])
		return intOrErr(n, err)
	case "INCR":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		n, err := disp.IncrBy(a[0], 1)
		return int64OrErr(n, err)
	case "DECR":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		n, err := disp.IncrBy(a[0], -1)
		return int64OrErr(n, err)
	case "INCRBY":
		if len(a) != 2 {
			return wrongArgs(cmd)
		}
		amt, perr := strconv.ParseInt(a[1], 10, 64)
		if perr != nil {
			return errReply(kverrors.New(kverrors.Syntax, "value is not an integer or out of range"))
		}
		n, err := disp.IncrBy(a[0], amt)
		return int64OrErr(n, err)
	case "DECRBY":
		if len(a) != 2 {
			return wrongArgs(cmd)
		}
		amt, perr := strconv.ParseInt(a[1], 10, 64)
		if perr != nil {
			return errReply(kverrors.New(kverrors.Syntax, "value is not an integer or out of range"))
		}
		n, err := disp.IncrBy(a[0], -amt)
		return int64OrErr(n, err)

	case "EXPIRE", "PEXPIRE", "EXPIREAT", "PEXPIREAT":
		return dispatchExpire(disp, clock, cmd, a)
	case "TTL":
		ms, ok, err := ttlOf(disp, a)
		if err != nil {
			return errReply(err)
		}
		if !ok {
			return resp.Int(ms)
		}
		if ms < 0 {
			return resp.Int(-1)
		}
		return resp.Int((ms + 999) / 1000)
	case "PTTL":
		ms, ok, err := ttlOf(disp, a)
		if err != nil {
			return errReply(err)
		}
		if !ok {
			return resp.Int(ms)
		}
		return resp.Int(ms)
	case "PERSIST":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		ok, err := disp.Persist(a[0])
		return intBoolOrErr(ok, err)

	case "SADD":
		if len(a) < 2 {
			return wrongArgs(cmd)
		}
		n, err := disp.SAdd(a[0], a[1:]...)
		return intOrErr(n, err)
	case "SREM":
		if len(a) < 2 {
			return wrongArgs(cmd)
		}
		n, err := disp.SRem(a[0], a[1:]...)
		return intOrErr(n, err)
	case "SMEMBERS":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		members, err := disp.SMembers(a[0])
		if err != nil {
			return errReply(err)
		}
		return resp.StringArray(members)
	case "SISMEMBER":
		if len(a) != 2 {
			return wrongArgs(cmd)
		}
		ok, err := disp.SIsMember(a[0], a[1])
		return intBoolOrErr(ok, err)
	case "SCARD":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		n, err := disp.SCard(a[0])
		return intOrErr(n, err)
	case "SPOP":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		v, ok, err := disp.SPop(a[0])
		return bulkStrOrErr(v, ok, err)

	case "HSET", "HMSET":
		if len(a) < 3 || len(a)%2 == 0 {
			return wrongArgs(cmd)
		}
		var lastOK bool
		var err error
		for i := 1; i < len(a); i += 2 {
			lastOK, err = disp.HSet(a[0], a[i], a[i+1])
			if err != nil {
				return errReply(err)
			}
		}
		if cmd == "HMSET" {
			return resp.Simple("OK")
		}
		return intBoolOrErr(lastOK, nil)
	case "HGET":
		if len(a) != 2 {
			return wrongArgs(cmd)
		}
		v, ok, err := disp.HGet(a[0], a[1])
		return bulkStrOrErr(v, ok, err)
	case "HMGET":
		if len(a) < 2 {
			return wrongArgs(cmd)
		}
		items := make([]resp.Reply, 0, len(a)-1)
		for _, field := range a[1:] {
			v, ok, err := disp.HGet(a[0], field)
			if err != nil {
				return errReply(err)
			}
			if ok {
				items = append(items, resp.BulkString(v))
			} else {
				items = append(items, resp.NilBulk())
			}
		}
		return resp.Array{Items: items}
	case "HDEL":
		if len(a) < 2 {
			return wrongArgs(cmd)
		}
		n, err := disp.HDel(a[0], a[1:]...)
		return intOrErr(n, err)
	case "HGETALL":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		m, err := disp.HGetAll(a[0])
		if err != nil {
			return errReply(err)
		}
		items := make([]resp.Reply, 0, len(m)*2)
		for k, v := range m {
			items = append(items, resp.BulkString(k), resp.BulkString(v))
		}
		return resp.Array{Items: items}
	case "HINCRBY":
		if len(a) != 3 {
			return wrongArgs(cmd)
		}
		amt, perr := strconv.ParseInt(a[2], 10, 64)
		if perr != nil {
			return errReply(kverrors.New(kverrors.Syntax, "value is not an integer or out of range"))
		}
		n, err := disp.HIncrBy(a[0], a[1], amt)
		return int64OrErr(n, err)
	case "HEXISTS":
		if len(a) != 2 {
			return wrongArgs(cmd)
		}
		ok, err := disp.HExists(a[0], a[1])
		return intBoolOrErr(ok, err)
	case "HKEYS":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		keys, err := disp.HKeys(a[0])
		if err != nil {
			return errReply(err)
		}
		return resp.StringArray(keys)
	case "HVALS":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		vals, err := disp.HVals(a[0])
		if err != nil {
			return errReply(err)
		}
		return resp.StringArray(vals)
	case "HLEN":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		n, err := disp.HLen(a[0])
		return intOrErr(n, err)

	case "LPUSH":
		if len(a) < 2 {
			return wrongArgs(cmd)
		}
		n, err := disp.LPush(a[0], a[1:]...)
		return intOrErr(n, err)
	case "RPUSH":
		if len(a) < 2 {
			return wrongArgs(cmd)
		}
		n, err := disp.RPush(a[0], a[1:]...)
		return intOrErr(n, err)
	case "LPOP":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		v, ok, err := disp.LPop(a[0])
		return bulkStrOrErr(v, ok, err)
	case "RPOP":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		v, ok, err := disp.RPop(a[0])
		return bulkStrOrErr(v, ok, err)
	case "LLEN":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		n, err := disp.LLen(a[0])
		return intOrErr(n, err)
	case "LRANGE":
		if len(a) != 3 {
			return wrongArgs(cmd)
		}
		start, e1 := strconv.Atoi(a[1])
		stop, e2 := strconv.Atoi(a[2])
		if e1 != nil || e2 != nil {
			return errReply(kverrors.New(kverrors.Syntax, "value is not an integer or out of range"))
		}
		items, err := disp.LRange(a[0], start, stop)
		if err != nil {
			return errReply(err)
		}
		return resp.StringArray(items)
	case "LINDEX":
		if len(a) != 2 {
			return wrongArgs(cmd)
		}
		idx, e1 := strconv.Atoi(a[1])
		if e1 != nil {
			return errReply(kverrors.New(kverrors.Syntax, "value is not an integer or out of range"))
		}
		v, ok, err := disp.LIndex(a[0], idx)
		return bulkStrOrErr(v, ok, err)
	case "LSET":
		if len(a) != 3 {
			return wrongArgs(cmd)
		}
		idx, e1 := strconv.Atoi(a[1])
		if e1 != nil {
			return errReply(kverrors.New(kverrors.Syntax, "value is not an integer or out of range"))
		}
		if err := disp.LSet(a[0], idx, a[2]); err != nil {
			return errReply(err)
		}
		return resp.Simple("OK")
	case "LTRIM":
		if len(a) != 3 {
			return wrongArgs(cmd)
		}
		start, e1 := strconv.Atoi(a[1])
		stop, e2 := strconv.Atoi(a[2])
		if e1 != nil || e2 != nil {
			return errReply(kverrors.New(kverrors.Syntax, "value is not an integer or out of range"))
		}
		if err := disp.LTrim(a[0], start, stop); err != nil {
			return errReply(err)
		}
		return resp.Simple("OK")

	case "ZADD":
		if len(a) < 3 || len(a)%2 == 0 {
			return wrongArgs(cmd)
		}
		added := 0
		for i := 1; i < len(a); i += 2 {
			score, serr := strconv.ParseFloat(a[i], 64)
			if serr != nil {
				return errReply(kverrors.New(kverrors.Syntax, "value is not a valid float"))
			}
			isNew, err := disp.ZAdd(a[0], a[i+1], score)
			if err != nil {
				return errReply(err)
			}
			if isNew {
				added++
			}
		}
		return resp.Int(added)
	case "ZREM":
		if len(a) < 2 {
			return wrongArgs(cmd)
		}
		n, err := disp.ZRem(a[0], a[1:]...)
		return intOrErr(n, err)
	case "ZSCORE":
		if len(a) != 2 {
			return wrongArgs(cmd)
		}
		score, ok, err := disp.ZScore(a[0], a[1])
		if err != nil {
			return errReply(err)
		}
		if !ok {
			return resp.NilBulk()
		}
		return resp.BulkString(formatFloat(score))
	case "ZCARD":
		if len(a) != 1 {
			return wrongArgs(cmd)
		}
		n, err := disp.ZCard(a[0])
		return intOrErr(n, err)
	case "ZINCRBY":
		if len(a) != 3 {
			return wrongArgs(cmd)
		}
		amt, perr := strconv.ParseFloat(a[1], 64)
		if perr != nil {
			return errReply(kverrors.New(kverrors.Syntax, "value is not a valid float"))
		}
		score, err := disp.ZIncrBy(a[0], a[2], amt)
		if err != nil {
			return errReply(err)
		}
		return resp.BulkString(formatFloat(score))
	case "ZRANGE":
		if len(a) != 3 {
			return wrongArgs(cmd)
		}
		start, e1 := strconv.Atoi(a[1])
		stop, e2 := strconv.Atoi(a[2])
		if e1 != nil || e2 != nil {
			return errReply(kverrors.New(kverrors.Syntax, "value is not an integer or out of range"))
		}
		members, err := disp.ZRange(a[0], start, stop)
		if err != nil {
			return errReply(err)
		}
		return resp.StringArray(members)
	case "ZRANGEBYSCORE":
		if len(a) != 3 {
			return wrongArgs(cmd)
		}
		min, e1 := strconv.ParseFloat(a[1], 64)
		max, e2 := strconv.ParseFloat(a[2], 64)
		if e1 != nil || e2 != nil {
			return errReply(kverrors.New(kverrors.Syntax, "min or max is not a float"))
		}
		members, err := disp.ZRangeByScore(a[0], min, max)
		if err != nil {
			return errReply(err)
		}
		return resp.StringArray(members)

	default:
		return resp.Err("ERR unknown command '" + args[0] + "'")
	}
}

func dispatchSet(disp *shard.Dispatcher, clock Clock, a []string) resp.Reply {
	if len(a) < 2 {
		return wrongArgs("SET")
	}
	opts := shard.SetOptions{}
	for i := 2; i < len(a); i++ {
		switch strings.ToUpper(a[i]) {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "EX", "PX", "EXAT", "PXAT":
			if i+1 >= len(a) {
				return errReply(kverrors.New(kverrors.Syntax, "syntax error"))
			}
			n, err := strconv.ParseInt(a[i+1], 10, 64)
			if err != nil {
				return errReply(kverrors.New(kverrors.Syntax, "value is not an integer or out of range"))
			}
			switch strings.ToUpper(a[i]) {
			case "EX":
				opts.ExpiryMs = clock.NowMs() + n*1000
			case "PX":
				opts.ExpiryMs = clock.NowMs() + n
			case "EXAT":
				opts.ExpiryMs = n * 1000
			case "PXAT":
				opts.ExpiryMs = n
			}
			i++
		default:
			return errReply(kverrors.New(kverrors.Syntax, "syntax error"))
		}
	}
	ok, err := disp.Set(a[0], []byte(a[1]), opts)
	if err != nil {
		return errReply(err)
	}
	if !ok {
		return resp.NilBulk()
	}
	return resp.Simple("OK")
}

func dispatchExpire(disp *shard.Dispatcher, clock Clock, cmd string, a []string) resp.Reply {
	if len(a) != 2 {
		return wrongArgs(cmd)
	}
	n, err := strconv.ParseInt(a[1], 10, 64)
	if err != nil {
		return errReply(kverrors.New(kverrors.Syntax, "value is not an integer or out of range"))
	}
	var atMs int64
	switch cmd {
	case "EXPIRE":
		atMs = clock.NowMs() + n*1000
	case "PEXPIRE":
		atMs = clock.NowMs() + n
	case "EXPIREAT":
		atMs = n * 1000
	case "PEXPIREAT":
		atMs = n
	}
	ok, err2 := disp.Expire(a[0], atMs)
	return intBoolOrErr(ok, err2)
}

func ttlOf(disp *shard.Dispatcher, a []string) (int64, bool, error) {
	if len(a) != 1 {
		return 0, false, kverrors.New(kverrors.Syntax, "wrong number of arguments")
	}
	return disp.TTLMs(a[0])
}

var commandTable = []string{
	"SET", "GET", "GETSET", "SETNX", "SETEX", "PSETEX", "MSET", "MGET", "DEL",
	"APPEND", "STRLEN", "INCR", "DECR", "INCRBY", "DECRBY",
	"EXPIRE", "PEXPIRE", "EXPIREAT", "PEXPIREAT", "TTL", "PTTL", "PERSIST",
	"SADD", "SREM", "SMEMBERS", "SISMEMBER", "SCARD", "SPOP",
	"HSET", "HMSET", "HGET", "HMGET", "HDEL", "HGETALL", "HINCRBY", "HEXISTS", "HKEYS", "HVALS", "HLEN",
	"LPUSH", "RPUSH", "LPOP", "RPOP", "LLEN", "LRANGE", "LINDEX", "LSET", "LTRIM",
	"ZADD", "ZREM", "ZSCORE", "ZCARD", "ZINCRBY", "ZRANGE", "ZRANGEBYSCORE",
	"PING", "ECHO", "SELECT", "DBSIZE", "FLUSHALL", "FLUSHDB", "COMMAND", "INFO",
}

func infoText(disp *shard.Dispatcher) string {
	n, _ := disp.DBSize()
	return "# Server\r\n" +
		"kvmesh_shard_count:" + strconv.Itoa(disp.ShardCount()) + "\r\n" +
		"kvmesh_keys:" + strconv.Itoa(n) + "\r\n"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func wrongArgs(cmd string) resp.Reply {
	return resp.Err("ERR wrong number of arguments for '" + strings.ToLower(cmd) + "' command")
}

func errReply(err error) resp.Reply {
	if ke, ok := err.(*kverrors.KindError); ok {
		return resp.Err(ke.Error())
	}
	return resp.Err("ERR " + err.Error())
}

func intOrErr(n int, err error) resp.Reply {
	if err != nil {
		return errReply(err)
	}
	return resp.Int(int64(n))
}

func int64OrErr(n int64, err error) resp.Reply {
	if err != nil {
		return errReply(err)
	}
	return resp.Int(n)
}

func intBoolOrErr(ok bool, err error) resp.Reply {
	if err != nil {
		return errReply(err)
	}
	if ok {
		return resp.Int(1)
	}
	return resp.Int(0)
}

func bulkOrErr(v []byte, ok bool, err error) resp.Reply {
	if err != nil {
		return errReply(err)
	}
	if !ok {
		return resp.NilBulk()
	}
	return resp.BulkString(string(v))
}

func bulkStrOrErr(v string, ok bool, err error) resp.Reply {
	if err != nil {
		return errReply(err)
	}
	if !ok {
		return resp.NilBulk()
	}
	return resp.BulkString(v)
}
