package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gochen-trade/catalog"
	"gochen-trade/config"
	core "gochen-trade/data/db"
	"gochen-trade/data/db/basic"
	"gochen-trade/domain/entity"
	"gochen-trade/domain/repository"
	"gochen-trade/identity"
	"gochen-trade/inventory"
	"gochen-trade/projection"
	"gochen-trade/storage/memory"
	"gochen-trade/storage/redisdoc"
	"gochen-trade/storage/sqldoc"
	"gochen-trade/trading"
)

// stores 各服务独立拥有的仓储
//
// inventory 与 trading 各自维护一份目录投影，互不共享。
type stores struct {
	catalog          repository.IRepository[*catalog.Item, uuid.UUID]
	users            identity.UserRepository
	holdings         inventory.HoldingRepository
	inventoryCatalog projection.Repository
	tradingCatalog   projection.Repository
	purchases        trading.Repository
}

// backend 按 STORE 选择的存储引擎
type backend struct {
	kind  string
	db    *basic.DB
	redis redis.UniversalClient
}

func openBackend(ctx context.Context, cfg *config.Config, sharedRedis func() redis.UniversalClient) (*backend, error) {
	b := &backend{kind: cfg.Store}
	switch cfg.Store {
	case config.StoreMemory:
	case config.StoreSQLite, config.StoreMySQL:
		db, err := basic.New(core.DBConfig{Driver: cfg.Store, DSN: cfg.DBDSN, ParseTime: true})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Store, err)
		}
		b.db = db
	case config.StoreRedis:
		client := sharedRedis()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		b.redis = client
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
	return b, nil
}

// open 创建一个命名仓储，name 同时作为表名或 Redis 键前缀
func open[T entity.IEntity[uuid.UUID]](ctx context.Context, b *backend, name string, codec repository.ICodec[T]) (repository.IRepository[T, uuid.UUID], error) {
	switch {
	case b.db != nil:
		repo := sqldoc.NewRepository[T, uuid.UUID](b.db, name, codec)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema %s: %w", name, err)
		}
		return repo, nil
	case b.redis != nil:
		return redisdoc.NewRepository[T, uuid.UUID](b.redis, "playtrade:"+name, codec), nil
	default:
		return memory.NewRepository[T, uuid.UUID](codec), nil
	}
}

func openStores(ctx context.Context, b *backend) (*stores, error) {
	s := &stores{}
	var err error
	if s.catalog, err = open(ctx, b, "catalog_items", catalog.NewItemCodec()); err != nil {
		return nil, err
	}
	if s.users, err = open(ctx, b, "identity_users", identity.NewUserCodec()); err != nil {
		return nil, err
	}
	if s.holdings, err = open(ctx, b, "inventory_items", inventory.NewInventoryItemCodec()); err != nil {
		return nil, err
	}
	if s.inventoryCatalog, err = open(ctx, b, "inventory_catalog_items", projection.NewCatalogItemCodec()); err != nil {
		return nil, err
	}
	if s.tradingCatalog, err = open(ctx, b, "trading_catalog_items", projection.NewCatalogItemCodec()); err != nil {
		return nil, err
	}
	if s.purchases, err = open(ctx, b, "trading_purchases", trading.NewPurchaseStateCodec()); err != nil {
		return nil, err
	}
	return s, nil
}

// close 只关闭数据库连接，Redis 客户端由 Server 统一关闭
func (b *backend) close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
