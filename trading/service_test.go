package trading

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gochen-trade/contracts"
	"gochen-trade/errors"
	"gochen-trade/storage/memory"
)

func TestSubmit(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewPurchaseService(memory.NewRepository[*PurchaseState, uuid.UUID](NewPurchaseStateCodec()), pub)
	ctx := context.Background()
	user, item := uuid.New(), uuid.New()

	corr, err := svc.Submit(ctx, user, item, 3)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, corr)

	requests := pub.ofType(contracts.TypePurchaseRequested)
	require.Len(t, requests, 1)
	req, err := contracts.Decode[contracts.PurchaseRequested](requests[0])
	require.NoError(t, err)
	assert.Equal(t, contracts.PurchaseRequested{UserID: user, ItemID: item, Quantity: 3, CorrelationID: corr}, req)
	assert.Equal(t, corr, contracts.CorrelationOf(requests[0]))
}

func TestSubmit_Validation(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewPurchaseService(memory.NewRepository[*PurchaseState, uuid.UUID](NewPurchaseStateCodec()), pub)
	ctx := context.Background()

	for _, quantity := range []int{0, 101, -1} {
		_, err := svc.Submit(ctx, uuid.New(), uuid.New(), quantity)
		assert.True(t, errors.IsValidation(err), "quantity=%d", quantity)
	}
	_, err := svc.Submit(ctx, uuid.Nil, uuid.New(), 1)
	assert.True(t, errors.IsValidation(err))

	_, err = svc.Submit(ctx, uuid.New(), uuid.New(), MaxQuantity)
	assert.NoError(t, err)
	assert.Len(t, pub.messages, 1)
}

func TestSubmit_PublishFailure(t *testing.T) {
	pub := &recordingPublisher{fail: assert.AnError}
	svc := NewPurchaseService(memory.NewRepository[*PurchaseState, uuid.UUID](NewPurchaseStateCodec()), pub)

	_, err := svc.Submit(context.Background(), uuid.New(), uuid.New(), 1)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeQueue))
}

func TestStatus(t *testing.T) {
	f := newSagaFixture(t)
	svc := NewPurchaseService(f.store, f.pub)
	ctx := context.Background()
	corr := uuid.New()
	require.NoError(t, f.saga.HandlePurchaseRequested(ctx, purchaseRequested(uuid.New(), f.potion, corr, 1)))

	st, err := svc.Status(ctx, corr)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, st.CurrentState)

	_, err = svc.Status(ctx, uuid.New())
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, IsSagaNotFound(err))
}
