package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kiloan-app/kiloan/internal/payment/domain"
	pkgdb "github.com/kiloan-app/kiloan/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIntent(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	return db.WithContext(ctx).Create(intent).Error
}

func (r *repo) FindReusableIntent(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ownerType string, ownerID snowflake.ID, amount int64, now time.Time) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND owner_type = ? AND owner_id = ?", tenantID, ownerType, ownerID).
		Where("amount = ? AND status IN ? AND expires_at > ?",
			amount, []string{domain.IntentStatusCreated, domain.IntentStatusReady}, now).
		Order("created_at DESC").
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

func (r *repo) LockIntentByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := pkgdb.ForUpdate(db.WithContext(ctx)).
		Where("reference = ?", reference).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

func (r *repo) LockLatestUsableIntent(ctx context.Context, db *gorm.DB, ownerType string, ownerID snowflake.ID, now time.Time) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := pkgdb.ForUpdate(db.WithContext(ctx)).
		Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		Where("status IN ? AND expires_at > ?",
			[]string{domain.IntentStatusCreated, domain.IntentStatusReady}, now).
		Order("created_at DESC").
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

func (r *repo) MarkIntentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.PaymentIntent{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": now}).Error
}

func (r *repo) ExpireStaleIntents(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error) {
	stale, err := r.StaleIntents(ctx, db, now, limit)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	ids := make([]snowflake.ID, 0, len(stale))
	for i := range stale {
		ids = append(ids, stale[i].ID)
	}
	res := db.WithContext(ctx).
		Model(&domain.PaymentIntent{}).
		Where("id IN ? AND status IN ?", ids, []string{domain.IntentStatusCreated, domain.IntentStatusReady}).
		Updates(map[string]any{"status": domain.IntentStatusExpired, "updated_at": now})
	return res.RowsAffected, res.Error
}

func (r *repo) StaleIntents(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.PaymentIntent, error) {
	var intents []domain.PaymentIntent
	err := db.WithContext(ctx).
		Where("status IN ? AND expires_at <= ?",
			[]string{domain.IntentStatusCreated, domain.IntentStatusReady}, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

// InsertEvent relies on the (provider, event_id) unique index: the
// conflict clause swallows replays and RowsAffected tells them apart.
func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.PaymentEvent) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FinalizeEvent(ctx context.Context, db *gorm.DB, id snowflake.ID, status, note string, processedAt time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.PaymentEvent{}).
		Where("id = ? AND process_status = ?", id, domain.EventReceived).
		Updates(map[string]any{
			"process_status": status,
			"process_note":   note,
			"processed_at":   processedAt,
		}).Error
}
