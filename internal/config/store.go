package config

import (
	"context"
	"fmt"

	"github.com/shaiso/Flowy/internal/repo"
)

// OpenStore открывает хранилище экземпляров по StoreDriver.
// Возвращённая функция освобождает ресурсы хранилища.
func (c *Config) OpenStore(ctx context.Context) (repo.Store, func(), error) {
	switch c.StoreDriver {
	case DriverMemory:
		return repo.NewMemoryStore(), func() {}, nil

	case DriverSQLite:
		store, err := repo.OpenSQLite(ctx, c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, func() { store.Close() }, nil

	case DriverPostgres:
		pool, err := repo.NewPool(ctx, c.DBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := repo.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
}
