// Package redisdoc 提供基于 Redis 的文档型实体仓储
//
// 存储布局：
//   - {prefix}:{id}   HASH，字段 version / doc
//   - {prefix}:ids    ZSET，成员为 id，score 为插入序号
//   - {prefix}:seq    插入序号计数器
//
// 创建与条件更新通过 Lua 脚本在服务端原子执行。
package redisdoc

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"gochen-trade/domain/entity"
	"gochen-trade/domain/repository"
)

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'version', 1, 'doc', ARGV[1])
local seq = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[2], seq, ARGV[2])
return 1
`)

// 返回值：1 成功，0 版本冲突，-1 不存在
var updateScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if not current then
	return -1
end
if tonumber(current) ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', tonumber(ARGV[1]) + 1, 'doc', ARGV[2])
return 1
`)

// Repository Redis 文档仓储
type Repository[T entity.IEntity[ID], ID repository.Key] struct {
	client redis.UniversalClient
	codec  repository.ICodec[T]
	prefix string
}

// NewRepository 创建 Redis 文档仓储，prefix 区分不同实体集合
func NewRepository[T entity.IEntity[ID], ID repository.Key](client redis.UniversalClient, prefix string, codec repository.ICodec[T]) *Repository[T, ID] {
	return &Repository[T, ID]{client: client, codec: codec, prefix: prefix}
}

func (r *Repository[T, ID]) docKey(id string) string { return r.prefix + ":" + id }
func (r *Repository[T, ID]) idsKey() string          { return r.prefix + ":ids" }
func (r *Repository[T, ID]) seqKey() string          { return r.prefix + ":seq" }

func (r *Repository[T, ID]) Create(ctx context.Context, e T) error {
	id := e.GetID()
	doc, err := r.codec.Encode(e)
	if err != nil {
		return repository.Failed(id, err)
	}
	key := id.String()
	created, err := createScript.Run(ctx, r.client,
		[]string{r.docKey(key), r.idsKey(), r.seqKey()},
		string(doc), key,
	).Int()
	if err != nil {
		return repository.Failed(id, err)
	}
	if created == 0 {
		return repository.AlreadyExists(id)
	}
	e.SetVersion(1)
	return nil
}

func (r *Repository[T, ID]) Get(ctx context.Context, id ID) (T, bool, error) {
	var zero T
	vals, err := r.client.HMGet(ctx, r.docKey(id.String()), "version", "doc").Result()
	if err != nil {
		return zero, false, repository.Failed(id, err)
	}
	e, ok, err := r.decode(vals)
	if err != nil {
		return zero, false, repository.Failed(id, err)
	}
	return e, ok, nil
}

func (r *Repository[T, ID]) Find(ctx context.Context, pred repository.Predicate[T]) (T, bool, error) {
	var zero T
	all, err := r.GetAll(ctx, pred)
	if err != nil {
		return zero, false, err
	}
	if len(all) == 0 {
		return zero, false, nil
	}
	return all[0], true, nil
}

func (r *Repository[T, ID]) GetAll(ctx context.Context, pred repository.Predicate[T]) ([]T, error) {
	ids, err := r.client.ZRange(ctx, r.idsKey(), 0, -1).Result()
	if err != nil {
		return nil, repository.Failed(nil, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HMGet(ctx, r.docKey(id), "version", "doc")
		}
		return nil
	})
	if err != nil {
		return nil, repository.Failed(nil, err)
	}

	result := make([]T, 0, len(ids))
	for i, cmd := range cmds {
		e, ok, err := r.decode(cmd.Val())
		if err != nil {
			return nil, repository.Failed(ids[i], err)
		}
		// 索引与文档之间可能存在短暂不一致（并发删除）
		if !ok {
			continue
		}
		if pred.Match(e) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (r *Repository[T, ID]) Update(ctx context.Context, e T) error {
	id := e.GetID()
	doc, err := r.codec.Encode(e)
	if err != nil {
		return repository.Failed(id, err)
	}
	expected := e.GetVersion()
	res, err := updateScript.Run(ctx, r.client,
		[]string{r.docKey(id.String())},
		expected, string(doc),
	).Int()
	if err != nil {
		return repository.Failed(id, err)
	}
	switch res {
	case -1:
		return repository.NotFound(id)
	case 0:
		return repository.VersionConflict(id, expected)
	}
	e.SetVersion(expected + 1)
	return nil
}

func (r *Repository[T, ID]) Remove(ctx context.Context, id ID) error {
	key := id.String()
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.docKey(key))
		p.ZRem(ctx, r.idsKey(), key)
		return nil
	})
	if err != nil {
		return repository.Failed(id, err)
	}
	return nil
}

// decode 将 HMGET 结果还原为实体，字段缺失视为不存在
func (r *Repository[T, ID]) decode(vals []interface{}) (T, bool, error) {
	var zero T
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return zero, false, nil
	}
	versionStr, ok1 := vals[0].(string)
	doc, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return zero, false, errors.New("unexpected hash field types")
	}
	version, err := strconv.ParseInt(versionStr, 10, 64)
	if err != nil {
		return zero, false, err
	}
	e, err := r.codec.Decode([]byte(doc))
	if err != nil {
		return zero, false, err
	}
	e.SetVersion(version)
	return e, true, nil
}
