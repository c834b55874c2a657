package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/style-suite/api/internal/repositories"
)

func TestInventoryReserveConcurrentLastUnit(t *testing.T) {
	store := newTestStore(t)
	seedProduct(t, store, "last-unit", 1000, 1, true)

	const racers = 2
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, racers)
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = store.Inventory().Reserve(context.Background(), []repositories.InventoryLine{{ProductID: "last-unit", Quantity: 1}})
		}(i)
	}
	close(start)
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var invErr *repositories.InventoryError
		if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInsufficientStock {
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 0, stockOf(t, store, "last-unit"))
}

func TestInventoryReserveIsAllOrNothing(t *testing.T) {
	store := newTestStore(t)
	seedProduct(t, store, "p-a", 1000, 5, true)
	seedProduct(t, store, "p-b", 500, 1, true)

	_, err := store.Inventory().Reserve(context.Background(), []repositories.InventoryLine{
		{ProductID: "p-a", Quantity: 2},
		{ProductID: "p-b", Quantity: 3},
	})
	require.Error(t, err)

	var invErr *repositories.InventoryError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, repositories.InventoryErrorInsufficientStock, invErr.Code)
	assert.Equal(t, "p-b", invErr.ProductID)
	assert.Equal(t, 1, invErr.Available)

	assert.Equal(t, 5, stockOf(t, store, "p-a"))
	assert.Equal(t, 1, stockOf(t, store, "p-b"))
}

func TestInventoryReserveReturnsPricesAndDecrements(t *testing.T) {
	store := newTestStore(t)
	seedProduct(t, store, "p-a", 1000, 5, true)
	seedProduct(t, store, "p-b", 500, 2, true)

	products, err := store.Inventory().Reserve(context.Background(), []repositories.InventoryLine{
		{ProductID: "p-b", Quantity: 1},
		{ProductID: "p-a", Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, int64(1000), products["p-a"].Price)
	assert.Equal(t, 3, products["p-a"].Stock)
	assert.Equal(t, 1, stockOf(t, store, "p-b"))
}

func TestInventoryReserveRejectsMissingAndInactiveProducts(t *testing.T) {
	store := newTestStore(t)
	seedProduct(t, store, "retired", 100, 10, false)

	for _, id := range []string{"retired", "does-not-exist"} {
		_, err := store.Inventory().Reserve(context.Background(), []repositories.InventoryLine{{ProductID: id, Quantity: 1}})
		var invErr *repositories.InventoryError
		require.ErrorAs(t, err, &invErr, id)
		assert.Equal(t, repositories.InventoryErrorProductNotFound, invErr.Code, id)
		assert.Equal(t, id, invErr.ProductID)
	}
	assert.Equal(t, 10, stockOf(t, store, "retired"))
}

func TestInventoryRestore(t *testing.T) {
	store := newTestStore(t)
	seedProduct(t, store, "p-a", 1000, 5, true)

	_, err := store.Inventory().Reserve(context.Background(), []repositories.InventoryLine{{ProductID: "p-a", Quantity: 4}})
	require.NoError(t, err)
	require.Equal(t, 1, stockOf(t, store, "p-a"))

	require.NoError(t, store.Inventory().Restore(context.Background(), []repositories.InventoryLine{{ProductID: "p-a", Quantity: 4}}))
	assert.Equal(t, 5, stockOf(t, store, "p-a"))
}
