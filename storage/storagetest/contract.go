// Package storagetest 提供仓储契约的通用测试套件，供各存储引擎复用
package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gochen-trade/domain/entity"
	"gochen-trade/domain/repository"
)

// Doc 契约测试使用的实体
type Doc struct {
	entity.Versioned
	ID    uuid.UUID `json:"id"`
	Owner string    `json:"owner"`
	Count int       `json:"count"`
}

func (d *Doc) GetID() uuid.UUID { return d.ID }

// NewDocCodec 返回 Doc 的 JSON 编解码器
func NewDocCodec() *repository.JSONCodec[*Doc] {
	return repository.NewJSONCodec(func() *Doc { return &Doc{} })
}

// Factory 为每个子测试创建一个空仓储
type Factory func(t *testing.T) repository.IRepository[*Doc, uuid.UUID]

// Run 执行仓储契约测试
func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateThenGet", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		doc := &Doc{ID: uuid.New(), Owner: "u1", Count: 3}

		require.NoError(t, repo.Create(ctx, doc))
		assert.Equal(t, int64(1), doc.GetVersion())

		got, found, err := repo.Get(ctx, doc.ID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "u1", got.Owner)
		assert.Equal(t, 3, got.Count)
		assert.Equal(t, int64(1), got.GetVersion())
	})

	t.Run("CreateDuplicateKey", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		id := uuid.New()

		require.NoError(t, repo.Create(ctx, &Doc{ID: id, Owner: "first"}))
		err := repo.Create(ctx, &Doc{ID: id, Owner: "second"})
		require.ErrorIs(t, err, repository.ErrEntityAlreadyExists)

		got, _, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "first", got.Owner)
	})

	t.Run("GetMissingIsAbsenceNotError", func(t *testing.T) {
		repo := newRepo(t)
		got, found, err := repo.Get(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, got)
	})

	t.Run("FindByPredicate", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, &Doc{ID: uuid.New(), Owner: "a", Count: 1}))
		require.NoError(t, repo.Create(ctx, &Doc{ID: uuid.New(), Owner: "b", Count: 2}))

		got, found, err := repo.Find(ctx, func(d *Doc) bool { return d.Owner == "b" })
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 2, got.Count)

		_, found, err = repo.Find(ctx, func(d *Doc) bool { return d.Owner == "nobody" })
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("GetAllWithAndWithoutPredicate", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		for i := 0; i < 4; i++ {
			owner := "even"
			if i%2 == 1 {
				owner = "odd"
			}
			require.NoError(t, repo.Create(ctx, &Doc{ID: uuid.New(), Owner: owner, Count: i}))
		}

		all, err := repo.GetAll(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		odd, err := repo.GetAll(ctx, func(d *Doc) bool { return d.Owner == "odd" })
		require.NoError(t, err)
		assert.Len(t, odd, 2)
	})

	t.Run("UpdateBumpsVersion", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		doc := &Doc{ID: uuid.New(), Count: 1}
		require.NoError(t, repo.Create(ctx, doc))

		doc.Count = 5
		require.NoError(t, repo.Update(ctx, doc))
		assert.Equal(t, int64(2), doc.GetVersion())

		got, _, err := repo.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.Count)
		assert.Equal(t, int64(2), got.GetVersion())
	})

	t.Run("UpdateMissingIsNotFound", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.Update(context.Background(), &Doc{ID: uuid.New(), Versioned: entity.Versioned{Version: 1}})
		require.ErrorIs(t, err, repository.ErrEntityNotFound)
	})

	t.Run("UpdateStaleVersionConflicts", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		doc := &Doc{ID: uuid.New()}
		require.NoError(t, repo.Create(ctx, doc))

		first, _, err := repo.Get(ctx, doc.ID)
		require.NoError(t, err)
		second, _, err := repo.Get(ctx, doc.ID)
		require.NoError(t, err)

		first.Count = 1
		require.NoError(t, repo.Update(ctx, first))

		second.Count = 2
		err = repo.Update(ctx, second)
		require.ErrorIs(t, err, repository.ErrVersionConflict)

		got, _, err := repo.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Count)
	})

	t.Run("ConcurrentWritersOneWins", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		doc := &Doc{ID: uuid.New()}
		require.NoError(t, repo.Create(ctx, doc))

		const writers = 8
		var wins, conflicts int32
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				stale := &Doc{ID: doc.ID, Count: n, Versioned: entity.Versioned{Version: 1}}
				switch err := repo.Update(ctx, stale); {
				case err == nil:
					atomic.AddInt32(&wins, 1)
				case assert.ErrorIs(t, err, repository.ErrVersionConflict):
					atomic.AddInt32(&conflicts, 1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
		assert.Equal(t, int32(writers-1), conflicts)
	})

	t.Run("RemoveIsIdempotent", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		doc := &Doc{ID: uuid.New()}
		require.NoError(t, repo.Create(ctx, doc))

		require.NoError(t, repo.Remove(ctx, doc.ID))
		require.NoError(t, repo.Remove(ctx, doc.ID))
		require.NoError(t, repo.Remove(ctx, uuid.New()))

		_, found, err := repo.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("ReturnedEntitiesAreCopies", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		doc := &Doc{ID: uuid.New(), Count: 1}
		require.NoError(t, repo.Create(ctx, doc))

		got, _, err := repo.Get(ctx, doc.ID)
		require.NoError(t, err)
		got.Count = 99

		again, _, err := repo.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, again.Count)
	})
}
