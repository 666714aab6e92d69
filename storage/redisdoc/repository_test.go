package redisdoc

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gochen-trade/domain/repository"
	"gochen-trade/storage/storagetest"
)

// redisClient 连接 REDIS_ADDR 指向的实例，不可用时跳过
func redisClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRepositoryContract_Redis(t *testing.T) {
	client := redisClient(t)
	storagetest.Run(t, func(t *testing.T) repository.IRepository[*storagetest.Doc, uuid.UUID] {
		prefix := "test:docs:" + uuid.NewString()
		t.Cleanup(func() {
			ctx := context.Background()
			keys, _ := client.Keys(ctx, prefix+":*").Result()
			if len(keys) > 0 {
				client.Del(ctx, keys...)
			}
		})
		return NewRepository[*storagetest.Doc, uuid.UUID](client, prefix, storagetest.NewDocCodec())
	})
}

func TestKeys(t *testing.T) {
	repo := NewRepository[*storagetest.Doc, uuid.UUID](nil, "trading:purchases", storagetest.NewDocCodec())
	assert.Equal(t, "trading:purchases:abc", repo.docKey("abc"))
	assert.Equal(t, "trading:purchases:ids", repo.idsKey())
	assert.Equal(t, "trading:purchases:seq", repo.seqKey())
}

func TestDecode(t *testing.T) {
	repo := NewRepository[*storagetest.Doc, uuid.UUID](nil, "p", storagetest.NewDocCodec())

	_, ok, err := repo.decode([]interface{}{nil, nil})
	require.NoError(t, err)
	assert.False(t, ok)

	id := uuid.New()
	doc, ok, err := repo.decode([]interface{}{"3", `{"id":"` + id.String() + `","owner":"o","count":2}`})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, int64(3), doc.GetVersion())

	_, _, err = repo.decode([]interface{}{"x", "{}"})
	assert.Error(t, err)
}
