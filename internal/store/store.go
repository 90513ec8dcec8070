package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"slotly-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	// WithTx runs fn inside a single database transaction. The Store passed
	// to fn is bound to that transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	GetLot(ctx context.Context, id int64) (*model.Lot, error)
	ListLots(ctx context.Context, filter LotFilter) ([]model.Lot, error)
	CreateLot(ctx context.Context, lot *model.Lot) error
	UpdateLot(ctx context.Context, lot *model.Lot) error
	DeleteLot(ctx context.Context, id int64) error

	GetSpot(ctx context.Context, id int64) (*model.Spot, error)
	ListSpots(ctx context.Context, lotID int64, status *model.SpotStatus) ([]model.Spot, error)
	CountSpots(ctx context.Context, lotID int64) (int64, error)
	CreateSpot(ctx context.Context, spot *model.Spot) error
	DeleteSpot(ctx context.Context, id int64) error
	ConditionalSetSpotStatus(ctx context.Context, spotID int64, expected, next model.SpotStatus) (bool, error)

	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)
	FindActiveReservation(ctx context.Context, userID int64, reservationID *int64, now time.Time) (*model.Reservation, error)
	FindOpenReservationForSpot(ctx context.Context, spotID int64, now time.Time) (*model.Reservation, error)
	UpdateReservationEnd(ctx context.Context, id, userID int64, expectedEnd *time.Time, newEnd time.Time) (bool, error)
	CloseReservation(ctx context.Context, id, userID int64, expectedEnd *time.Time, end, releasedAt time.Time) (bool, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]model.Reservation, error)
	ListElapsedClaims(ctx context.Context, now time.Time) ([]ElapsedClaim, error)

	GetUser(ctx context.Context, id int64) (*model.User, error)
	UpsertUser(ctx context.Context, user *model.User) error
	ListUsers(ctx context.Context) ([]model.User, error)

	PutSubscription(ctx context.Context, sub *model.PushSubscription, lotIDs []int64) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForLot(ctx context.Context, lotID int64) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// WithTx runs fn in a transaction; fn's error is returned unchanged.
func (s *gormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&gormStore{db: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return translateError(err)
}

// --- Lots ---

func (s *gormStore) GetLot(ctx context.Context, id int64) (*model.Lot, error) {
	var lot model.Lot
	if err := s.db.WithContext(ctx).First(&lot, id).Error; err != nil {
		return nil, translateError(err)
	}
	return &lot, nil
}

func (s *gormStore) ListLots(ctx context.Context, filter LotFilter) ([]model.Lot, error) {
	q := s.db.WithContext(ctx).Order("id")
	if term := strings.TrimSpace(filter.Query); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(address) LIKE ? OR LOWER(postal_code) LIKE ?", like, like, like)
	}
	var lots []model.Lot
	if err := q.Find(&lots).Error; err != nil {
		return nil, translateError(err)
	}
	return lots, nil
}

func (s *gormStore) CreateLot(ctx context.Context, lot *model.Lot) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(lot).Error; err != nil {
		return fmt.Errorf("failed to create lot %q: %w", lot.Name, translateError(err))
	}
	return nil
}

func (s *gormStore) UpdateLot(ctx context.Context, lot *model.Lot) error {
	res := s.db.WithContext(ctx).Model(&model.Lot{}).Where("id = ?", lot.ID).Updates(map[string]any{
		"name":        lot.Name,
		"address":     lot.Address,
		"postal_code": lot.PostalCode,
		"hourly_rate": lot.HourlyRate,
		"capacity":    lot.Capacity,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update lot %d: %w", lot.ID, translateError(res.Error))
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLot removes a lot together with its spots and their reservation
// history. Cascades are done explicitly so SQLite without foreign key
// enforcement behaves like PostgreSQL.
func (s *gormStore) DeleteLot(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		spotIDs := tx.Model(&model.Spot{}).Select("id").Where("lot_id = ?", id)
		if err := tx.Where("spot_id IN (?)", spotIDs).Delete(&model.Reservation{}).Error; err != nil {
			return fmt.Errorf("failed to delete reservations of lot %d: %w", id, translateError(err))
		}
		if err := tx.Exec("DELETE FROM subscription_lot_mapping WHERE lot_id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete watchers of lot %d: %w", id, translateError(err))
		}
		if err := tx.Where("lot_id = ?", id).Delete(&model.Spot{}).Error; err != nil {
			return fmt.Errorf("failed to delete spots of lot %d: %w", id, translateError(err))
		}
		res := tx.Delete(&model.Lot{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete lot %d: %w", id, translateError(res.Error))
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// --- Spots ---

func (s *gormStore) GetSpot(ctx context.Context, id int64) (*model.Spot, error) {
	var spot model.Spot
	if err := s.db.WithContext(ctx).First(&spot, id).Error; err != nil {
		return nil, translateError(err)
	}
	return &spot, nil
}

// ListSpots returns the spots of a lot in ascending id order, optionally
// restricted to one status.
func (s *gormStore) ListSpots(ctx context.Context, lotID int64, status *model.SpotStatus) ([]model.Spot, error) {
	q := s.db.WithContext(ctx).Where("lot_id = ?", lotID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var spots []model.Spot
	if err := q.Order("id").Find(&spots).Error; err != nil {
		return nil, translateError(err)
	}
	return spots, nil
}

func (s *gormStore) CountSpots(ctx context.Context, lotID int64) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Spot{}).Where("lot_id = ?", lotID).Count(&n).Error; err != nil {
		return 0, translateError(err)
	}
	return n, nil
}

func (s *gormStore) CreateSpot(ctx context.Context, spot *model.Spot) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(spot).Error; err != nil {
		return fmt.Errorf("failed to create spot in lot %d: %w", spot.LotID, translateError(err))
	}
	return nil
}

func (s *gormStore) DeleteSpot(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("spot_id = ?", id).Delete(&model.Reservation{}).Error; err != nil {
			return fmt.Errorf("failed to delete reservations of spot %d: %w", id, translateError(err))
		}
		res := tx.Delete(&model.Spot{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete spot %d: %w", id, translateError(res.Error))
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ConditionalSetSpotStatus flips a spot from expected to next in a single
// statement. It reports false when the spot was not in the expected state.
func (s *gormStore) ConditionalSetSpotStatus(ctx context.Context, spotID int64, expected, next model.SpotStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Spot{}).
		Where("id = ? AND status = ?", spotID, expected).
		Update("status", next)
	if res.Error != nil {
		return false, fmt.Errorf("failed to set spot %d to %s: %w", spotID, next, translateError(res.Error))
	}
	return res.RowsAffected == 1, nil
}

// --- Reservations ---

func (s *gormStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(r).Error; err != nil {
		return fmt.Errorf("failed to create reservation for spot %d: %w", r.SpotID, translateError(err))
	}
	return nil
}

func (s *gormStore) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	var r model.Reservation
	if err := s.db.WithContext(ctx).Preload("Spot.Lot").First(&r, id).Error; err != nil {
		return nil, translateError(err)
	}
	return &r, nil
}

// FindActiveReservation returns the caller's unreleased reservation that is
// open or whose end has not elapsed at now. With a nil reservationID the caller's
// oldest such reservation is returned.
func (s *gormStore) FindActiveReservation(ctx context.Context, userID int64, reservationID *int64, now time.Time) (*model.Reservation, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("released_at IS NULL").
		Where("end_time IS NULL OR end_time >= ?", now)
	if reservationID != nil {
		q = q.Where("id = ?", *reservationID)
	}
	var r model.Reservation
	if err := q.Order("id").First(&r).Error; err != nil {
		return nil, translateError(err)
	}
	return &r, nil
}

// FindOpenReservationForSpot returns the reservation currently holding the
// spot, if any.
func (s *gormStore) FindOpenReservationForSpot(ctx context.Context, spotID int64, now time.Time) (*model.Reservation, error) {
	var r model.Reservation
	err := s.db.WithContext(ctx).
		Where("spot_id = ?", spotID).
		Where("released_at IS NULL").
		Where("end_time IS NULL OR end_time >= ?", now).
		Order("id DESC").
		First(&r).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &r, nil
}

// UpdateReservationEnd sets the end time of the caller's unreleased
// reservation if its current end still matches expectedEnd (nil meaning
// still open).
func (s *gormStore) UpdateReservationEnd(ctx context.Context, id, userID int64, expectedEnd *time.Time, newEnd time.Time) (bool, error) {
	res := s.unreleased(ctx, id, userID, expectedEnd).Update("end_time", newEnd)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update end of reservation %d: %w", id, translateError(res.Error))
	}
	return res.RowsAffected == 1, nil
}

// CloseReservation is UpdateReservationEnd that also marks the reservation
// released.
func (s *gormStore) CloseReservation(ctx context.Context, id, userID int64, expectedEnd *time.Time, end, releasedAt time.Time) (bool, error) {
	res := s.unreleased(ctx, id, userID, expectedEnd).Updates(map[string]any{
		"end_time":    end,
		"released_at": releasedAt,
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to close reservation %d: %w", id, translateError(res.Error))
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) unreleased(ctx context.Context, id, userID int64, expectedEnd *time.Time) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Where("released_at IS NULL")
	if expectedEnd == nil {
		return q.Where("end_time IS NULL")
	}
	return q.Where("end_time = ?", *expectedEnd)
}

// ListReservations returns reservations with their spot and lot preloaded,
// newest start first.
func (s *gormStore) ListReservations(ctx context.Context, filter ReservationFilter) ([]model.Reservation, error) {
	q := s.db.WithContext(ctx).Model(&model.Reservation{}).Preload("Spot.Lot")
	if filter.UserID != nil {
		q = q.Where("reservations.user_id = ?", *filter.UserID)
	}
	if filter.LotID != nil {
		q = q.Joins("JOIN spots ON spots.id = reservations.spot_id").Where("spots.lot_id = ?", *filter.LotID)
	}
	if filter.HasEnded != nil {
		if *filter.HasEnded {
			q = q.Where("reservations.end_time IS NOT NULL")
		} else {
			q = q.Where("reservations.end_time IS NULL")
		}
	}
	if filter.EndedFrom != nil {
		q = q.Where("reservations.end_time >= ?", *filter.EndedFrom)
	}
	if filter.EndedTo != nil {
		q = q.Where("reservations.end_time < ?", *filter.EndedTo)
	}

	var out []model.Reservation
	if err := q.Order("reservations.start_time DESC").Order("reservations.id DESC").Find(&out).Error; err != nil {
		return nil, translateError(err)
	}
	return out, nil
}

func (s *gormStore) ListElapsedClaims(ctx context.Context, now time.Time) ([]ElapsedClaim, error) {
	var claims []ElapsedClaim
	err := s.db.WithContext(ctx).Raw(`
		SELECT r.id AS reservation_id, r.spot_id AS spot_id, s.lot_id AS lot_id, r.end_time AS end_time
		FROM reservations r
		JOIN spots s ON s.id = r.spot_id
		WHERE s.status = ? AND r.end_time IS NOT NULL AND r.end_time < ?
		  AND NOT EXISTS (SELECT 1 FROM reservations r2 WHERE r2.spot_id = r.spot_id AND r2.id > r.id)
		ORDER BY r.id`, model.SpotOccupied, now).Scan(&claims).Error
	if err != nil {
		return nil, translateError(err)
	}
	return claims, nil
}

// --- Users ---

func (s *gormStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translateError(err)
	}
	return &u, nil
}

func (s *gormStore) UpsertUser(ctx context.Context, user *model.User) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "full_name", "email", "role", "updated_at"}),
	}).Create(user).Error
	if err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", user.ID, translateError(err))
	}
	return nil
}

func (s *gormStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, translateError(err)
	}
	return users, nil
}

// --- Push subscriptions ---

// PutSubscription creates or replaces a subscription and its watched lots.
func (s *gormStore) PutSubscription(ctx context.Context, sub *model.PushSubscription, lotIDs []int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
		}).Create(sub).Error; err != nil {
			return translateError(err)
		}

		lots := []*model.Lot{}
		if len(lotIDs) > 0 {
			if err := tx.Find(&lots, lotIDs).Error; err != nil {
				return translateError(err)
			}
		}
		if err := tx.Model(sub).Association("Lots").Replace(&lots); err != nil {
			return translateError(err)
		}
		return nil
	})
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).Preload("Lots").First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, translateError(err)
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM subscription_lot_mapping WHERE push_subscription_endpoint = ?", endpoint).Error; err != nil {
			return translateError(err)
		}
		res := tx.Delete(&model.PushSubscription{Endpoint: endpoint})
		if res.Error != nil {
			return translateError(res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *gormStore) SubscriptionsForLot(ctx context.Context, lotID int64) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN subscription_lot_mapping slm ON slm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("slm.lot_id = ?", lotID).
		Find(&subs).Error
	if err != nil {
		return nil, translateError(err)
	}
	return subs, nil
}

// translateError maps driver specific errors onto the store sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", ErrConflict, liteErr)
		}
	}
	return err
}
