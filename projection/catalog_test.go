package projection

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gochen-trade/contracts"
	"gochen-trade/messaging"
	synctransport "gochen-trade/messaging/transport/sync"
	"gochen-trade/patterns/retry"
	"gochen-trade/storage/memory"
)

func setup(t *testing.T) (*memory.Repository[*CatalogItem, uuid.UUID], *messaging.MessageBus) {
	t.Helper()
	repo := memory.NewRepository[*CatalogItem, uuid.UUID](NewCatalogItemCodec())
	bus := messaging.NewMessageBus(synctransport.NewSyncTransport())
	require.NoError(t, NewCatalogConsumers("inventory", repo).Register(context.Background(), bus))
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Close() })
	return repo, bus
}

func created(id uuid.UUID, name string) messaging.IMessage {
	return contracts.NewCatalogEvent(contracts.TypeCatalogItemCreated, contracts.CatalogItemCreated{
		ItemID: id, Name: name, Description: name + " desc", Price: decimal.NewFromInt(5),
	})
}

// TestCreated_DuplicateDelivery 重复的 created 事件只产生一条记录
func TestCreated_DuplicateDelivery(t *testing.T) {
	repo, bus := setup(t)
	ctx := context.Background()
	id := uuid.New()

	msg := created(id, "Potion")
	require.NoError(t, bus.Publish(ctx, msg))
	require.NoError(t, bus.Publish(ctx, msg))
	require.NoError(t, bus.Publish(ctx, created(id, "Other name")))

	assert.Equal(t, 1, repo.Len())
	item, found, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Potion", item.Name)
}

// TestRoundTrip 依次应用 created、updated、deleted 后不留记录
func TestRoundTrip(t *testing.T) {
	repo, bus := setup(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, bus.Publish(ctx, created(id, "Potion")))
	require.NoError(t, bus.Publish(ctx, contracts.NewCatalogEvent(contracts.TypeCatalogItemUpdated, contracts.CatalogItemUpdated{
		ItemID: id, Name: "Hi-Potion", Description: "restores more", Price: decimal.NewFromInt(9),
	})))

	item, found, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Hi-Potion", item.Name)
	assert.True(t, decimal.NewFromInt(9).Equal(item.Price))

	del := contracts.NewCatalogEvent(contracts.TypeCatalogItemDeleted, contracts.CatalogItemDeleted{ItemID: id})
	require.NoError(t, bus.Publish(ctx, del))
	require.NoError(t, bus.Publish(ctx, del))

	_, found, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, repo.Len())
}

// TestUpdated_SelfHeals 未见过的物品收到 updated 时直接创建
func TestUpdated_SelfHeals(t *testing.T) {
	repo, bus := setup(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, bus.Publish(ctx, contracts.NewCatalogEvent(contracts.TypeCatalogItemUpdated, contracts.CatalogItemUpdated{
		ItemID: id, Name: "Ether", Description: "restores mp", Price: decimal.NewFromInt(7),
	})))

	item, found, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Ether", item.Name)
}

func TestDeleted_UnknownIsNoop(t *testing.T) {
	repo, bus := setup(t)
	require.NoError(t, bus.Publish(context.Background(), contracts.NewCatalogEvent(contracts.TypeCatalogItemDeleted, contracts.CatalogItemDeleted{ItemID: uuid.New()})))
	assert.Equal(t, 0, repo.Len())
}

func TestHandleCreated_MalformedPayloadIsPermanent(t *testing.T) {
	repo := memory.NewRepository[*CatalogItem, uuid.UUID](NewCatalogItemCodec())
	c := NewCatalogConsumers("trading", repo)

	err := c.HandleCreated(context.Background(), messaging.NewMessage("m", contracts.TypeCatalogItemCreated, []byte(`{"itemId":42}`)))
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}
