// Package report runs aggregate read queries with sqlx over the same
// connection pool gorm uses.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"slotly-backend/internal/analytics"
	"slotly-backend/internal/model"
)

// Reader is the reporting read path.
type Reader struct {
	db *sqlx.DB
}

// NewReader wraps an open database handle. driverName selects the bind
// variable style ("postgres" or "sqlite3").
func NewReader(db *sql.DB, driverName string) *Reader {
	return &Reader{db: sqlx.NewDb(db, driverName)}
}

type spotCountRow struct {
	LotID     int64 `db:"lot_id"`
	Available int64 `db:"available"`
	Occupied  int64 `db:"occupied"`
}

const spotCountsQuery = `
	SELECT lot_id,
	       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS available,
	       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS occupied
	FROM spots`

// SpotCounts returns the number of available and occupied spots of every
// lot that has spots.
func (r *Reader) SpotCounts(ctx context.Context) (map[int64]analytics.SpotCounts, error) {
	var rows []spotCountRow
	q := r.db.Rebind(spotCountsQuery + " GROUP BY lot_id")
	if err := r.db.SelectContext(ctx, &rows, q, model.SpotAvailable, model.SpotOccupied); err != nil {
		return nil, fmt.Errorf("failed to count spots: %w", err)
	}

	out := make(map[int64]analytics.SpotCounts, len(rows))
	for _, row := range rows {
		out[row.LotID] = analytics.SpotCounts{Available: row.Available, Occupied: row.Occupied}
	}
	return out, nil
}

// LotSpotCounts returns the spot counts of a single lot. A lot without
// spots yields zero counts.
func (r *Reader) LotSpotCounts(ctx context.Context, lotID int64) (analytics.SpotCounts, error) {
	var row spotCountRow
	q := r.db.Rebind(spotCountsQuery + " WHERE lot_id = ? GROUP BY lot_id")
	err := r.db.GetContext(ctx, &row, q, model.SpotAvailable, model.SpotOccupied, lotID)
	if errors.Is(err, sql.ErrNoRows) {
		return analytics.SpotCounts{}, nil
	}
	if err != nil {
		return analytics.SpotCounts{}, fmt.Errorf("failed to count spots of lot %d: %w", lotID, err)
	}
	return analytics.SpotCounts{Available: row.Available, Occupied: row.Occupied}, nil
}
