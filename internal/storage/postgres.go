package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-hail/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// DB exposes the handle for migrations at startup.
func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) ListDrivers(ctx context.Context) ([]*models.RawDriver, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, email, phone, license_number,
		       vehicle_plate, vehicle_model, vehicle_year,
		       is_verified, is_online, rating, total_trips,
		       current_location, created_at, updated_at
		FROM drivers
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RawDriver
	for rows.Next() {
		var (
			d        models.RawDriver
			name     sql.NullString
			email    sql.NullString
			phone    sql.NullString
			license  sql.NullString
			plate    sql.NullString
			model    sql.NullString
			year     sql.NullInt64
			verified sql.NullBool
			online   sql.NullBool
			rating   sql.NullFloat64
			trips    sql.NullInt64
			location []byte
		)
		if err := rows.Scan(&d.ID, &name, &email, &phone, &license,
			&plate, &model, &year, &verified, &online, &rating, &trips,
			&location, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Name = strOrNil(name)
		d.Email = strOrNil(email)
		d.Phone = strOrNil(phone)
		d.LicenseNumber = strOrNil(license)
		d.VehiclePlate = strOrNil(plate)
		d.VehicleModel = strOrNil(model)
		if year.Valid {
			y := int(year.Int64)
			d.VehicleYear = &y
		}
		if verified.Valid {
			d.Verified = &verified.Bool
		}
		if online.Valid {
			d.Online = &online.Bool
		}
		if rating.Valid {
			d.Rating = &rating.Float64
		}
		if trips.Valid {
			t := int(trips.Int64)
			d.TotalTrips = &t
		}
		if len(location) > 0 {
			d.Location = json.RawMessage(location)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateLocation(ctx context.Context, driverID string, lon, lat float64) error {
	loc, _ := json.Marshal(models.NewGeoPoint(lon, lat))
	res, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET current_location=$2, updated_at=now() WHERE id=$1`,
		driverID, loc)
	if err != nil {
		return err
	}
	return oneRowOr(res, ErrNotFound)
}

func (p *PostgresStore) UpdateOnline(ctx context.Context, driverID string, online bool) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET is_online=$2, updated_at=now() WHERE id=$1`,
		driverID, online)
	if err != nil {
		return err
	}
	return oneRowOr(res, ErrNotFound)
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	pickup, _ := json.Marshal(r.PickupCoords)
	dest, _ := json.Marshal(r.DestinationCoords)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides(id, passenger_id, passenger_name,
			pickup_address, pickup_coordinates,
			destination_address, destination_coordinates,
			status, estimated_fare, estimated_duration, requested_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.PassengerID, r.PassengerName,
		r.PickupAddress, pickup,
		r.DestinationAddress, dest,
		string(r.Status), r.EstimatedFare, r.EstimatedDuration, r.RequestedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, passenger_id, passenger_name, driver_id, driver_name,
		       pickup_address, pickup_coordinates,
		       destination_address, destination_coordinates,
		       status, estimated_fare, actual_fare, estimated_duration,
		       payment_intent_id, requested_at, accepted_at, completed_at,
		       cancelled_at, cancellation_reason
		FROM rides WHERE id=$1`, id)
	r, err := scanRide(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) ClaimRide(ctx context.Context, rideID, driverID, driverName string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides
		SET driver_id=$2, driver_name=$3, status=$4, accepted_at=$5
		WHERE id=$1 AND status=$6`,
		rideID, driverID, driverName, string(models.StatusAccepted), at,
		string(models.StatusPending))
	if err != nil {
		return err
	}
	// zero rows means another driver already won (or the ride is gone);
	// either way it is not claimable
	return oneRowOr(res, ErrRideUnavailable)
}

func (p *PostgresStore) TransitionStatus(ctx context.Context, rideID string, to models.RideStatus, from []models.RideStatus, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides
		SET status=$2,
		    completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END
		WHERE id=$1 AND status = ANY($4)`,
		rideID, string(to), at, pq.Array(statusStrings(from)))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// distinguish a missing ride from an illegal predecessor state
	var current string
	err = p.db.QueryRowContext(ctx, `SELECT status FROM rides WHERE id=$1`, rideID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

func (p *PostgresStore) CancelRide(ctx context.Context, rideID, reason string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides
		SET status=$2, cancelled_at=$3, cancellation_reason=$4
		WHERE id=$1 AND status = ANY($5)`,
		rideID, string(models.StatusCancelled), at, reason,
		pq.Array([]string{string(models.StatusPending), string(models.StatusAccepted)}))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var current string
	err = p.db.QueryRowContext(ctx, `SELECT status FROM rides WHERE id=$1`, rideID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> cancelled", ErrInvalidTransition, current)
}

func (p *PostgresStore) SetActualFare(ctx context.Context, rideID string, fare float64) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET actual_fare=$2 WHERE id=$1`, rideID, fare)
	if err != nil {
		return err
	}
	return oneRowOr(res, ErrNotFound)
}

func (p *PostgresStore) SetPaymentIntent(ctx context.Context, rideID, paymentIntentID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET payment_intent_id=$2 WHERE id=$1`, rideID, paymentIntentID)
	if err != nil {
		return err
	}
	return oneRowOr(res, ErrNotFound)
}

func (p *PostgresStore) ListPendingRides(ctx context.Context, limit int) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, passenger_id, passenger_name, driver_id, driver_name,
		       pickup_address, pickup_coordinates,
		       destination_address, destination_coordinates,
		       status, estimated_fare, actual_fare, estimated_duration,
		       payment_intent_id, requested_at, accepted_at, completed_at,
		       cancelled_at, cancellation_reason
		FROM rides WHERE status=$1
		ORDER BY requested_at ASC LIMIT $2`,
		string(models.StatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRides(rows)
}

func (p *PostgresStore) ListRideHistory(ctx context.Context, userID, userType string, limit int) ([]*models.Ride, error) {
	column := "passenger_id"
	if userType == "driver" {
		column = "driver_id"
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, passenger_id, passenger_name, driver_id, driver_name,
		       pickup_address, pickup_coordinates,
		       destination_address, destination_coordinates,
		       status, estimated_fare, actual_fare, estimated_duration,
		       payment_intent_id, requested_at, accepted_at, completed_at,
		       cancelled_at, cancellation_reason
		FROM rides WHERE `+column+`=$1
		ORDER BY requested_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRides(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var (
		r         models.Ride
		driverID  sql.NullString
		driverNm  sql.NullString
		pickup    []byte
		dest      []byte
		status    string
		actual    sql.NullFloat64
		intent    sql.NullString
		accepted  sql.NullTime
		completed sql.NullTime
		cancelled sql.NullTime
		reason    sql.NullString
	)
	err := row.Scan(&r.ID, &r.PassengerID, &r.PassengerName, &driverID, &driverNm,
		&r.PickupAddress, &pickup, &r.DestinationAddress, &dest,
		&status, &r.EstimatedFare, &actual, &r.EstimatedDuration,
		&intent, &r.RequestedAt, &accepted, &completed, &cancelled, &reason)
	if err != nil {
		return nil, err
	}
	r.Status = models.RideStatus(status)
	r.DriverID = strOrNil(driverID)
	r.DriverName = strOrNil(driverNm)
	_ = json.Unmarshal(pickup, &r.PickupCoords)
	_ = json.Unmarshal(dest, &r.DestinationCoords)
	if actual.Valid {
		r.ActualFare = &actual.Float64
	}
	r.PaymentIntentID = strOrNil(intent)
	r.AcceptedAt = timeOrNil(accepted)
	r.CompletedAt = timeOrNil(completed)
	r.CancelledAt = timeOrNil(cancelled)
	r.CancellationReason = strOrNil(reason)
	return &r, nil
}

func scanRides(rows *sql.Rows) ([]*models.Ride, error) {
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func statusStrings(in []models.RideStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func strOrNil(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func timeOrNil(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}

func oneRowOr(res sql.Result, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel
	}
	return nil
}
