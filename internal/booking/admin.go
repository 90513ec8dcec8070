package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"slotly-backend/internal/model"
	"slotly-backend/internal/store"
)

// LotInput carries the editable fields of a lot. Spots is only used on
// creation: that many available spots are created with the lot.
type LotInput struct {
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	PostalCode string  `json:"postal_code"`
	HourlyRate float64 `json:"hourly_rate"`
	Capacity   int     `json:"capacity"`
	Spots      int     `json:"spots"`
}

func (in LotInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("lot name is required")
	}
	if in.HourlyRate <= 0 {
		return invalid("hourly rate must be positive")
	}
	if in.Capacity < 0 {
		return invalid("capacity must not be negative")
	}
	if in.Spots < 0 || in.Spots > in.Capacity {
		return invalid("spots must be between 0 and capacity %d", in.Capacity)
	}
	return nil
}

// GetLot returns a lot by id.
func (s *Service) GetLot(ctx context.Context, id int64) (*model.Lot, error) {
	lot, err := s.store.GetLot(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("lot %d", id)
	}
	return lot, storeError("get lot", err)
}

// ListLots returns the lots matching query.
func (s *Service) ListLots(ctx context.Context, query string) ([]model.Lot, error) {
	lots, err := s.store.ListLots(ctx, store.LotFilter{Query: query})
	if err != nil {
		return nil, storeError("list lots", err)
	}
	return lots, nil
}

// CreateLot adds a lot and its initial spots.
func (s *Service) CreateLot(ctx context.Context, in LotInput) (*model.Lot, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	lot := &model.Lot{
		Name:       strings.TrimSpace(in.Name),
		Address:    in.Address,
		PostalCode: in.PostalCode,
		HourlyRate: in.HourlyRate,
		Capacity:   in.Capacity,
	}
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateLot(ctx, lot); err != nil {
			return err
		}
		for i := 0; i < in.Spots; i++ {
			spot := model.Spot{LotID: lot.ID, Status: model.SpotAvailable}
			if err := tx.CreateSpot(ctx, &spot); err != nil {
				return err
			}
			lot.Spots = append(lot.Spots, spot)
		}
		return nil
	})
	if err != nil {
		return nil, storeError("create lot", err)
	}
	return lot, nil
}

// UpdateLot overwrites the editable fields of a lot. Capacity may not drop
// below the number of spots the lot already has.
func (s *Service) UpdateLot(ctx context.Context, id int64, in LotInput) (*model.Lot, error) {
	in.Spots = 0
	if err := in.validate(); err != nil {
		return nil, err
	}
	var lot *model.Lot
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if lot, err = tx.GetLot(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound("lot %d", id)
			}
			return err
		}
		n, err := tx.CountSpots(ctx, id)
		if err != nil {
			return err
		}
		if int64(in.Capacity) < n {
			return invalid("capacity %d is below the %d existing spots", in.Capacity, n)
		}
		lot.Name = strings.TrimSpace(in.Name)
		lot.Address = in.Address
		lot.PostalCode = in.PostalCode
		lot.HourlyRate = in.HourlyRate
		lot.Capacity = in.Capacity
		return tx.UpdateLot(ctx, lot)
	})
	if err != nil {
		return nil, storeError("update lot", err)
	}
	return lot, nil
}

// DeleteLot removes a lot that has no occupied spots.
func (s *Service) DeleteLot(ctx context.Context, id int64) error {
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.GetLot(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound("lot %d", id)
			}
			return err
		}
		occupied := model.SpotOccupied
		spots, err := tx.ListSpots(ctx, id, &occupied)
		if err != nil {
			return err
		}
		if len(spots) > 0 {
			return fmt.Errorf("lot %d has %d occupied spots: %w", id, len(spots), ErrConflict)
		}
		return tx.DeleteLot(ctx, id)
	})
	return storeError("delete lot", err)
}

// Spots lists the spots of a lot.
func (s *Service) Spots(ctx context.Context, lotID int64) ([]model.Spot, error) {
	if _, err := s.GetLot(ctx, lotID); err != nil {
		return nil, err
	}
	spots, err := s.store.ListSpots(ctx, lotID, nil)
	if err != nil {
		return nil, storeError("list spots", err)
	}
	return spots, nil
}

// AddSpot creates an available spot in a lot that is below capacity.
func (s *Service) AddSpot(ctx context.Context, lotID int64) (*model.Spot, error) {
	spot := &model.Spot{LotID: lotID, Status: model.SpotAvailable}
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		lot, err := tx.GetLot(ctx, lotID)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("lot %d", lotID)
		}
		if err != nil {
			return err
		}
		n, err := tx.CountSpots(ctx, lotID)
		if err != nil {
			return err
		}
		if n >= int64(lot.Capacity) {
			return invalid("lot %d is at capacity %d", lotID, lot.Capacity)
		}
		return tx.CreateSpot(ctx, spot)
	})
	if err != nil {
		return nil, storeError("add spot", err)
	}
	return spot, nil
}

// SetSpotStatus forces a spot's status. A spot held by an active
// reservation cannot be marked available.
func (s *Service) SetSpotStatus(ctx context.Context, spotID int64, status model.SpotStatus) (*model.Spot, error) {
	if !status.Valid() {
		return nil, invalid("unknown spot status %q", status)
	}
	now := s.clock()
	var spot *model.Spot
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if spot, err = tx.GetSpot(ctx, spotID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound("spot %d", spotID)
			}
			return err
		}
		if spot.Status == status {
			return nil
		}
		if status == model.SpotAvailable {
			if r, err := tx.FindOpenReservationForSpot(ctx, spotID, now); err == nil {
				return fmt.Errorf("spot %d is held by reservation %d: %w", spotID, r.ID, ErrConflict)
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		ok, err := tx.ConditionalSetSpotStatus(ctx, spotID, spot.Status, status)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("spot %d changed concurrently: %w", spotID, ErrConflict)
		}
		spot.Status = status
		return nil
	})
	if err != nil {
		return nil, storeError("set spot status", err)
	}
	if status == model.SpotAvailable {
		s.publisher.Publish(Event{Type: EventReleased, LotID: spot.LotID, SpotID: spot.ID, At: now})
	}
	return spot, nil
}

// DeleteSpot removes a spot that is not occupied.
func (s *Service) DeleteSpot(ctx context.Context, spotID int64) error {
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		spot, err := tx.GetSpot(ctx, spotID)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("spot %d", spotID)
		}
		if err != nil {
			return err
		}
		if spot.Status == model.SpotOccupied {
			return fmt.Errorf("spot %d is occupied: %w", spotID, ErrConflict)
		}
		return tx.DeleteSpot(ctx, spotID)
	})
	return storeError("delete spot", err)
}
