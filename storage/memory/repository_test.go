package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gochen-trade/domain/repository"
	"gochen-trade/storage/storagetest"
)

func TestRepositoryContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) repository.IRepository[*storagetest.Doc, uuid.UUID] {
		return NewRepository[*storagetest.Doc, uuid.UUID](storagetest.NewDocCodec())
	})
}

// TestRepository_InsertionOrder 遍历按插入顺序进行，删除后顺序保持
func TestRepository_InsertionOrder(t *testing.T) {
	repo := NewRepository[*storagetest.Doc, uuid.UUID](storagetest.NewDocCodec())
	ctx := context.Background()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, id := range ids {
		require.NoError(t, repo.Create(ctx, &storagetest.Doc{ID: id, Count: i}))
	}
	require.NoError(t, repo.Remove(ctx, ids[1]))

	all, err := repo.GetAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ids[0], all[0].ID)
	assert.Equal(t, ids[2], all[1].ID)
	assert.Equal(t, 2, repo.Len())
}
