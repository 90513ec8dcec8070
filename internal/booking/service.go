// Package booking implements spot allocation and the reservation lifecycle:
// claiming a free spot, releasing it, extending time-boxed reservations and
// freeing spots whose reservation has elapsed.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"slotly-backend/config"
	"slotly-backend/internal/model"
	"slotly-backend/internal/store"
)

// Service is the allocation engine. It is safe for concurrent use; all
// coordination happens in the store.
type Service struct {
	store       store.Store
	publisher   Publisher
	maxAttempts int
	now         func() time.Time
}

// NewService creates a booking service. pub may be nil.
func NewService(cfg config.BookingConfig, s store.Store, pub Publisher) *Service {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 2
	}
	if pub == nil {
		pub = Publishers(nil)
	}
	return &Service{
		store:       s,
		publisher:   pub,
		maxAttempts: attempts,
		now:         time.Now,
	}
}

// BookRequest asks for any free spot in a lot. A nil Start means now; a nil
// End leaves the reservation open.
type BookRequest struct {
	LotID  int64
	UserID int64
	Start  *time.Time
	End    *time.Time
}

// Book claims the first available spot of the lot and creates a reservation
// for it at the lot's current hourly rate.
func (s *Service) Book(ctx context.Context, req BookRequest) (*model.Reservation, error) {
	start := s.clock()
	if req.Start != nil {
		start = normalize(*req.Start)
	}
	var end *time.Time
	if req.End != nil {
		e := normalize(*req.End)
		if !e.After(start) {
			return nil, invalid("end time %s must be after start time %s", e.Format(time.RFC3339), start.Format(time.RFC3339))
		}
		end = &e
	}

	var created *model.Reservation
	err := s.withRetry("book", func() error {
		return storeError("book", s.store.WithTx(ctx, func(tx store.Store) error {
			lot, err := tx.GetLot(ctx, req.LotID)
			if errors.Is(err, store.ErrNotFound) {
				return notFound("lot %d", req.LotID)
			}
			if err != nil {
				return storeError("get lot", err)
			}
			if _, err := tx.GetUser(ctx, req.UserID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return notFound("user %d", req.UserID)
				}
				return storeError("get user", err)
			}

			available := model.SpotAvailable
			spots, err := tx.ListSpots(ctx, lot.ID, &available)
			if err != nil {
				return storeError("list spots", err)
			}
			for _, spot := range spots {
				claimed, err := tx.ConditionalSetSpotStatus(ctx, spot.ID, model.SpotAvailable, model.SpotOccupied)
				if err != nil {
					return storeError("claim spot", err)
				}
				if !claimed {
					// Taken by a concurrent booking since it was listed.
					continue
				}

				r := &model.Reservation{
					SpotID:      spot.ID,
					UserID:      req.UserID,
					StartTime:   start,
					EndTime:     end,
					CostPerHour: lot.HourlyRate,
				}
				if err := tx.CreateReservation(ctx, r); err != nil {
					return storeError("create reservation", err)
				}
				spot.Status = model.SpotOccupied
				spot.Lot = *lot
				r.Spot = spot
				created = r
				return nil
			}
			return fmt.Errorf("lot %d: %w", lot.ID, ErrNoCapacity)
		}))
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(Event{Type: EventBooked, LotID: created.Spot.LotID, SpotID: created.SpotID, ReservationID: created.ID, At: start})
	return created, nil
}

// ReleaseRequest closes a reservation. A nil ReservationID selects the
// caller's oldest active reservation; a nil End means now.
type ReleaseRequest struct {
	ReservationID *int64
	UserID        int64
	End           *time.Time
}

// Release ends the caller's active reservation and returns its spot to the
// pool. A reservation that is already closed or elapsed is not found.
func (s *Service) Release(ctx context.Context, req ReleaseRequest) (*model.Reservation, error) {
	now := s.clock()

	var released *model.Reservation
	err := s.withRetry("release", func() error {
		return storeError("release", s.store.WithTx(ctx, func(tx store.Store) error {
			r, err := tx.FindActiveReservation(ctx, req.UserID, req.ReservationID, now)
			if errors.Is(err, store.ErrNotFound) {
				return explainInactive(ctx, tx, req.ReservationID, req.UserID)
			}
			if err != nil {
				return storeError("find reservation", err)
			}

			end := now
			if req.End != nil {
				end = normalize(*req.End)
				if end.Before(r.StartTime) {
					return invalid("end time %s is before start time %s", end.Format(time.RFC3339), r.StartTime.Format(time.RFC3339))
				}
			} else if end.Before(r.StartTime) {
				// Released before it began: nothing is billed.
				end = r.StartTime
			}

			updated, err := tx.CloseReservation(ctx, r.ID, req.UserID, r.EndTime, end, now)
			if err != nil {
				return storeError("close reservation", err)
			}
			if !updated {
				return fmt.Errorf("reservation %d changed concurrently: %w", r.ID, ErrConflict)
			}

			// The spot goes back to the pool only if r was still its holder.
			holder, err := tx.FindOpenReservationForSpot(ctx, r.SpotID, now)
			switch {
			case err == nil:
				log.Printf("release: spot %d is held by reservation %d; leaving it occupied", r.SpotID, holder.ID)
			case errors.Is(err, store.ErrNotFound):
				freed, err := tx.ConditionalSetSpotStatus(ctx, r.SpotID, model.SpotOccupied, model.SpotAvailable)
				if err != nil {
					return storeError("free spot", err)
				}
				if !freed {
					log.Printf("release: spot %d of reservation %d was not occupied", r.SpotID, r.ID)
				}
			default:
				return storeError("find spot holder", err)
			}

			released, err = tx.GetReservation(ctx, r.ID)
			return storeError("reload reservation", err)
		}))
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(Event{Type: EventReleased, LotID: released.Spot.LotID, SpotID: released.SpotID, ReservationID: released.ID, At: *released.EndTime})
	return released, nil
}

// ExtendRequest moves the end of a time-boxed reservation later.
type ExtendRequest struct {
	ReservationID int64
	UserID        int64
	NewEnd        time.Time
}

// Extend overwrites the end time of the caller's reservation. The
// reservation must be active, must already have an end time and NewEnd
// must be after it.
func (s *Service) Extend(ctx context.Context, req ExtendRequest) (*model.Reservation, error) {
	newEnd := normalize(req.NewEnd)
	now := s.clock()

	var extended *model.Reservation
	err := s.withRetry("extend", func() error {
		return storeError("extend", s.store.WithTx(ctx, func(tx store.Store) error {
			r, err := ownedReservation(ctx, tx, req.ReservationID, req.UserID)
			if err != nil {
				return err
			}
			if r.ReleasedAt != nil {
				return invalid("reservation %d was released and cannot be extended", r.ID)
			}
			if r.EndTime == nil {
				return invalid("reservation %d is open-ended and cannot be extended", r.ID)
			}
			if r.EndTime.Before(now) {
				return invalid("reservation %d has elapsed and cannot be extended", r.ID)
			}
			if holder, err := tx.FindOpenReservationForSpot(ctx, r.SpotID, now); err == nil && holder.ID != r.ID {
				return fmt.Errorf("spot %d is held by reservation %d: %w", r.SpotID, holder.ID, ErrConflict)
			} else if err != nil && !errors.Is(err, store.ErrNotFound) {
				return storeError("find spot holder", err)
			}
			if !newEnd.After(*r.EndTime) {
				return invalid("new end time %s must be after current end time %s", newEnd.Format(time.RFC3339), r.EndTime.Format(time.RFC3339))
			}

			updated, err := tx.UpdateReservationEnd(ctx, r.ID, req.UserID, r.EndTime, newEnd)
			if err != nil {
				return storeError("extend reservation", err)
			}
			if !updated {
				return fmt.Errorf("reservation %d changed concurrently: %w", r.ID, ErrConflict)
			}
			r.EndTime = &newEnd
			extended = r
			return nil
		}))
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(Event{Type: EventExtended, LotID: extended.Spot.LotID, SpotID: extended.SpotID, ReservationID: extended.ID, At: now})
	return extended, nil
}

// Reservation returns one of the caller's reservations.
func (s *Service) Reservation(ctx context.Context, id, userID int64) (*model.Reservation, error) {
	return ownedReservation(ctx, s.store, id, userID)
}

// History lists reservations matching filter, newest first.
func (s *Service) History(ctx context.Context, filter store.ReservationFilter) ([]model.Reservation, error) {
	rs, err := s.store.ListReservations(ctx, filter)
	if err != nil {
		return nil, storeError("list reservations", err)
	}
	return rs, nil
}

// ExpireElapsed frees every occupied spot whose latest reservation ended
// before now, and returns how many spots were freed.
func (s *Service) ExpireElapsed(ctx context.Context, now time.Time) (int, error) {
	now = normalize(now)
	claims, err := s.store.ListElapsedClaims(ctx, now)
	if err != nil {
		return 0, storeError("list elapsed claims", err)
	}

	freed := 0
	for _, c := range claims {
		var ok bool
		err := s.store.WithTx(ctx, func(tx store.Store) error {
			// A newer reservation may have claimed the spot since it was listed.
			if _, err := tx.FindOpenReservationForSpot(ctx, c.SpotID, now); err == nil {
				return nil
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			ok, err = tx.ConditionalSetSpotStatus(ctx, c.SpotID, model.SpotOccupied, model.SpotAvailable)
			return err
		})
		if err != nil {
			return freed, storeError("free elapsed spot", err)
		}
		if !ok {
			continue
		}
		freed++
		s.publisher.Publish(Event{Type: EventExpired, LotID: c.LotID, SpotID: c.SpotID, ReservationID: c.ReservationID, At: now})
	}
	return freed, nil
}

// withRetry re-runs fn while it fails with ErrConflict, up to maxAttempts.
func (s *Service) withRetry(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, ErrConflict) {
			return err
		}
		log.Printf("%s: attempt %d/%d lost a race: %v", op, attempt, s.maxAttempts, err)
	}
	return err
}

func (s *Service) clock() time.Time {
	return normalize(s.now())
}

// normalize stores times in UTC at the precision PostgreSQL keeps.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func ownedReservation(ctx context.Context, st store.Store, id, userID int64) (*model.Reservation, error) {
	r, err := st.GetReservation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("reservation %d", id)
	}
	if err != nil {
		return nil, storeError("get reservation", err)
	}
	if r.UserID != userID {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrForbidden)
	}
	return r, nil
}

// explainInactive picks the error kind for a release that found nothing to
// release.
func explainInactive(ctx context.Context, tx store.Store, reservationID *int64, userID int64) error {
	if reservationID == nil {
		return notFound("no active reservation for user %d", userID)
	}
	if _, err := ownedReservation(ctx, tx, *reservationID, userID); err != nil {
		return err
	}
	return notFound("reservation %d is not active", *reservationID)
}
