package port

import (
	"context"

	"cryptofolio/internal/domain/model"
)

// Subscription is a live push channel; Close tears it down.
type Subscription interface {
	Close() error
}

// ProfileStore 远端用户档案存储（按 ownerID 的持久化键值记录）
type ProfileStore interface {
	// Pull returns (nil, nil) when the owner has no record yet.
	Pull(ctx context.Context, ownerID string) (*model.ProfileRecord, error)

	// Push writes the bulk snapshot fields; tier/role are never written from here.
	Push(ctx context.Context, ownerID string, snap model.Snapshot) error

	// Subscribe delivers every remote change of the owner's record until the
	// subscription is closed or ctx is done.
	Subscribe(ctx context.Context, ownerID string, fn func(model.ProfileRecord)) (Subscription, error)
}

// LocalCache 本地持久化键值缓存，启动时先于远端加载
type LocalCache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
