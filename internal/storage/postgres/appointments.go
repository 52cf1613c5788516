package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/store"
)

// AppointmentStore persists services and their appointments.
type AppointmentStore struct{}

// NewAppointmentStore creates an AppointmentStore.
func NewAppointmentStore() *AppointmentStore {
	return &AppointmentStore{}
}

// Set upserts the appointment and its service. Both writes are gated on
// the company owning the existing rows.
func (s *AppointmentStore) Set(
	ctx context.Context,
	q database.Querier,
	companyID, appointmentID int64,
	p store.AppointmentPayload,
) (store.Action, error) {
	extra, err := json.Marshal(nonNilAttrs(p.ExtraAttributes))
	if err != nil {
		return "", fmt.Errorf("encode service attributes: %w", err)
	}
	attendees := p.AttendeesCurrentIDs
	if attendees == nil {
		attendees = []int64{}
	}
	var action store.Action
	err = database.InTx(ctx, q, func(tx pgx.Tx) error {
		var serviceID int64
		err := tx.QueryRow(ctx, `
INSERT INTO services (id, company, name, colour, extra_attributes)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	colour = EXCLUDED.colour,
	extra_attributes = EXCLUDED.extra_attributes
WHERE services.company = EXCLUDED.company
RETURNING id`, p.ServiceID, companyID, p.ServiceName, p.Colour, extra).Scan(&serviceID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrOwnershipConflict.WithDetails("you do not have permission to update this service")
		}
		if err != nil {
			return fmt.Errorf("upsert service: %w", err)
		}

		var inserted bool
		err = tx.QueryRow(ctx, `
INSERT INTO appointments (
	id, service, topic, attendees_max, attendees_count, attendees_current_ids,
	start, finish, price, location, last_updated
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
ON CONFLICT (id) DO UPDATE SET
	service = EXCLUDED.service,
	topic = EXCLUDED.topic,
	attendees_max = EXCLUDED.attendees_max,
	attendees_count = EXCLUDED.attendees_count,
	attendees_current_ids = EXCLUDED.attendees_current_ids,
	start = EXCLUDED.start,
	finish = EXCLUDED.finish,
	price = EXCLUDED.price,
	location = EXCLUDED.location,
	last_updated = now()
WHERE EXISTS (SELECT 1 FROM services sv WHERE sv.id = appointments.service AND sv.company = $11)
RETURNING (xmax = 0) AS inserted`,
			appointmentID, serviceID, p.Topic, p.AttendeesMax, p.AttendeesCount, attendees,
			p.Start, p.Finish, p.Price, p.Location, companyID,
		).Scan(&inserted)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrOwnershipConflict.WithDetails("you do not have permission to update this appointment")
		}
		if err != nil {
			return fmt.Errorf("upsert appointment: %w", err)
		}
		action = store.ActionUpdated
		if inserted {
			action = store.ActionCreated
		}
		return nil
	})
	if err != nil {
		return "", err //nolint:wrapcheck // classified errors pass through unchanged
	}
	return action, nil
}

// Delete removes an appointment and, when it was the last one, its service.
func (s *AppointmentStore) Delete(ctx context.Context, q database.Querier, companyID, appointmentID int64) error {
	return database.InTx(ctx, q, func(tx pgx.Tx) error {
		var serviceID int64
		err := tx.QueryRow(ctx, `
DELETE FROM appointments a
USING services sv
WHERE a.service = sv.id AND sv.company = $1 AND a.id = $2
RETURNING a.service`, companyID, appointmentID).Scan(&serviceID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound.WithDetails(fmt.Sprintf("appointment with id %d not found", appointmentID))
		}
		if err != nil {
			return fmt.Errorf("delete appointment: %w", err)
		}
		_, err = tx.Exec(ctx, `
DELETE FROM services sv
WHERE sv.id = $1 AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.service = $1)`, serviceID)
		if err != nil {
			return fmt.Errorf("delete orphaned service: %w", err)
		}
		return nil
	})
}

// ListAppointments returns a page of upcoming appointments and the total count.
func (s *AppointmentStore) ListAppointments(
	ctx context.Context,
	q database.Querier,
	companyID int64,
	f store.AppointmentFilter,
) ([]store.Appointment, int64, error) {
	var a argList
	where := []string{"sv.company = " + a.add(companyID)}
	if f.ServiceID != nil {
		where = append(where, "sv.id = "+a.add(*f.ServiceID))
	}
	if !f.From.IsZero() {
		where = append(where, "a.start >= "+a.add(f.From))
	}
	page, size := pageBounds(f.Page, f.PageSize)
	query := fmt.Sprintf(`
SELECT a.id, sv.id, sv.name, a.topic, a.attendees_max, a.attendees_count, a.attendees_current_ids,
	a.start, a.finish, a.price, a.location, count(*) OVER ()
FROM appointments a
JOIN services sv ON sv.id = a.service
WHERE %s
ORDER BY a.start, a.id
LIMIT %s OFFSET %s`, strings.Join(where, " AND "), a.add(size), a.add((page-1)*size))

	rows, err := q.Query(ctx, query, a.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var (
		out   []store.Appointment
		total int64
	)
	for rows.Next() {
		var ap store.Appointment
		if err := rows.Scan(
			&ap.ID, &ap.ServiceID, &ap.ServiceName, &ap.Topic, &ap.AttendeesMax, &ap.AttendeesCount,
			&ap.AttendeesCurrentIDs, &ap.Start, &ap.Finish, &ap.Price, &ap.Location, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, ap)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate appointments: %w", err)
	}
	return out, total, nil
}

// ListServices returns the company's services.
func (s *AppointmentStore) ListServices(ctx context.Context, q database.Querier, companyID int64) ([]store.Service, error) {
	rows, err := q.Query(ctx,
		`SELECT id, name, colour, extra_attributes FROM services WHERE company = $1 ORDER BY name, id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()
	var out []store.Service
	for rows.Next() {
		var (
			sv    store.Service
			extra []byte
		)
		if err := rows.Scan(&sv.ID, &sv.Name, &sv.Colour, &extra); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &sv.ExtraAttributes); err != nil {
				return nil, fmt.Errorf("decode service attributes: %w", err)
			}
		}
		sv.CompanyID = companyID
		out = append(out, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return out, nil
}
