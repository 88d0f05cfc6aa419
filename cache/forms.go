package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"form-payment-svc/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type FormStore interface {
	FindFormByID(ctx context.Context, id string) (*models.Form, error)
}

// FormLookup reads forms through Redis. Cache failures fall back to the
// store and are only logged. A nil client disables caching.
type FormLookup struct {
	store  FormStore
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewFormLookup(store FormStore, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *FormLookup {
	return &FormLookup{store: store, rdb: rdb, ttl: ttl, logger: logger}
}

func (l *FormLookup) FindFormByID(ctx context.Context, id string) (*models.Form, error) {
	if l.rdb != nil {
		data, err := GetForm(ctx, l.rdb, id)
		switch {
		case err == nil:
			var form models.Form
			if err := json.Unmarshal(data, &form); err == nil {
				return &form, nil
			}
			l.logger.Warn("Discarding undecodable cached form", zap.String("form_id", id))
		case !errors.Is(err, redis.Nil):
			l.logger.Warn("Form cache read failed", zap.String("form_id", id), zap.Error(err))
		}
	}

	form, err := l.store.FindFormByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if l.rdb != nil {
		if err := SetForm(ctx, l.rdb, id, form, l.ttl); err != nil {
			l.logger.Warn("Form cache write failed", zap.String("form_id", id), zap.Error(err))
		}
	}
	return form, nil
}

// Invalidate drops a cached form after its payment configuration changed.
func (l *FormLookup) Invalidate(ctx context.Context, id string) error {
	if l.rdb == nil {
		return nil
	}
	return DeleteForm(ctx, l.rdb, id)
}
