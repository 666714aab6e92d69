package trading

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gochen-trade/contracts"
)

func TestSweepOnce_RepublishesStalePendingCommands(t *testing.T) {
	f := newSagaFixture(t)
	ctx := context.Background()
	corr := uuid.New()

	f.pub.fail = stderrors.New("broker unavailable")
	require.NoError(t, f.saga.HandlePurchaseRequested(ctx, purchaseRequested(uuid.New(), f.potion, corr, 1)))
	require.Len(t, f.state(t, corr).Outbox, 1)
	f.pub.fail = nil

	sweeper := NewSweeper(f.store, NewDispatcher(f.store, f.pub), SweeperConfig{Interval: time.Second, StaleAfter: time.Minute})

	// 尚未超过滞留阈值
	sweeper.now = func() time.Time { return f.clock.Add(30 * time.Second) }
	result, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
	assert.Empty(t, f.pub.messages)

	sweeper.now = func() time.Time { return f.clock.Add(2 * time.Minute) }
	result, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Republished)

	debits := f.pub.ofType(contracts.TypeDebitGil)
	require.Len(t, debits, 1)
	assert.Equal(t, contracts.MessageID(corr, contracts.TypeDebitGil), debits[0].GetID())

	st := f.state(t, corr)
	assert.Empty(t, st.Outbox)
	assert.Equal(t, StateAccepted, st.CurrentState, "对账不强制置为 Faulted")
	assert.True(t, st.LastUpdated.Equal(f.clock))
}

func TestSweepOnce_CountsStuckInstances(t *testing.T) {
	f := newSagaFixture(t)
	ctx := context.Background()

	stuck := uuid.New()
	require.NoError(t, f.saga.HandlePurchaseRequested(ctx, purchaseRequested(uuid.New(), f.potion, stuck, 1)))

	done := uuid.New()
	require.NoError(t, f.saga.HandlePurchaseRequested(ctx, purchaseRequested(uuid.New(), uuid.New(), done, 1)))

	sweeper := NewSweeper(f.store, NewDispatcher(f.store, f.pub), SweeperConfig{StaleAfter: time.Minute})
	sweeper.now = func() time.Time { return f.clock.Add(time.Hour) }

	result, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Stuck: 1}, result)
	assert.Equal(t, StateAccepted, f.state(t, stuck).CurrentState)
	assert.Equal(t, StateFaulted, f.state(t, done).CurrentState)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	f := newSagaFixture(t)
	sweeper := NewSweeper(f.store, NewDispatcher(f.store, f.pub), SweeperConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
