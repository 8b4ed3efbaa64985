package gorm

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"gorm.io/gorm"

	"github.com/scitex/scitex-cloud/pkg/server/store"
	"github.com/scitex/scitex-cloud/pkg/signals"
)

const uniqueViolation = "23505"

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrConflict
	}
	return err
}

// withContext binds ctx to db. The signals dispatcher db was opened with
// is carried over unless ctx brings its own.
func withContext(db *gorm.DB, ctx context.Context) *gorm.DB {
	if _, ok := signals.FromContext(ctx); !ok && db.Statement != nil && db.Statement.Context != nil {
		if d, ok := signals.FromContext(db.Statement.Context); ok {
			ctx = signals.WithDispatcher(ctx, d)
		}
	}
	return db.WithContext(ctx)
}
