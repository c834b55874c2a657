package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/style-suite/api/internal/domain"
)

var testNow = time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite",
		filepath.Join(t.TempDir(), "orders.db"))
	store, err := Open(context.Background(), Options{
		Driver:       DriverSQLite,
		DSN:          dsn,
		QueryTimeout: 5 * time.Second,
		Clock:        func() time.Time { return testNow },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	require.NoError(t, store.Migrate())
	return store
}

func seedProduct(t *testing.T, store *Store, id string, price int64, stock int, active bool) {
	t.Helper()
	err := store.Products().Insert(context.Background(), domain.Product{
		ID:     id,
		Name:   "Product " + id,
		Price:  price,
		Stock:  stock,
		Active: active,
		Images: []string{"/" + id + ".png"},
		Sizes:  []string{"S", "M"},
		Colors: []string{"Red"},
	})
	require.NoError(t, err)
}

func stockOf(t *testing.T, store *Store, id string) int {
	t.Helper()
	product, err := store.Products().FindByID(context.Background(), id)
	require.NoError(t, err)
	return product.Stock
}

func TestRebindPostgresPlaceholders(t *testing.T) {
	store := &Store{driver: DriverPostgres}
	require.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2,$3)", store.rebind("SELECT * FROM t WHERE a = ? AND b IN (?,?)"))

	lite := &Store{driver: DriverSQLite}
	require.Equal(t, "SELECT ? ", lite.rebind("SELECT ? "))
}

func TestMigrateSeedsCatalog(t *testing.T) {
	store := newTestStore(t)

	product, err := store.Products().FindByID(context.Background(), "silk-kurta-1")
	require.NoError(t, err)
	require.Equal(t, int64(2999), product.Price)
	require.Equal(t, []string{"S", "M", "L", "XL", "XXL"}, product.Sizes)

	// A second run is a no-op.
	require.NoError(t, store.Migrate())
}

func TestProductFindByIDNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Products().FindByID(context.Background(), "missing")
	require.Error(t, err)
	var repoErr *Error
	require.ErrorAs(t, err, &repoErr)
	require.True(t, repoErr.IsNotFound())
}
