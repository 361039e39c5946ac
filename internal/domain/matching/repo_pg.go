package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/carematch/internal/platform/db"
)

type practiceRepoPG struct{ pool *pgxpool.Pool }

func NewPracticeRepoPG(pool *pgxpool.Pool) PracticeRepository { return &practiceRepoPG{pool: pool} }

type caregiverKey struct {
	role Role
	id   string
}

func (r *practiceRepoPG) Get(ctx context.Context, practiceID string) (*Practice, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT id FROM practice WHERE id = $1`, practiceID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPracticeNotFound, practiceID)
	}
	if err != nil {
		return nil, err
	}

	p := NewPractice(id)
	caregivers, order, err := r.loadCaregivers(ctx, r.pool, practiceID)
	if err != nil {
		return nil, err
	}
	if err := r.loadFamilies(ctx, r.pool, practiceID, caregivers); err != nil {
		return nil, err
	}
	if err := r.loadCompleted(ctx, r.pool, practiceID, caregivers); err != nil {
		return nil, err
	}
	if err := r.loadTimeslots(ctx, r.pool, practiceID, caregivers); err != nil {
		return nil, err
	}
	for _, k := range order {
		if err := p.AddCaregiver(caregivers[k]); err != nil {
			return nil, err
		}
	}
	if err := r.loadRegistrations(ctx, r.pool, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *practiceRepoPG) loadCaregivers(ctx context.Context, q db.Querier, practiceID string) (map[caregiverKey]*Caregiver, []caregiverKey, error) {
	rows, err := q.Query(ctx, `
		SELECT role, id, contact_mode, COALESCE(specialty, '')
		FROM caregiver WHERE practice_id = $1 ORDER BY position, id`, practiceID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	byKey := make(map[caregiverKey]*Caregiver)
	var order []caregiverKey
	for rows.Next() {
		var role, id, mode, specialty string
		if err := rows.Scan(&role, &id, &mode, &specialty); err != nil {
			return nil, nil, err
		}
		c := NewCaregiver(id, Role(role))
		c.ContactMode = ContactMode(mode)
		c.Specialty = specialty
		k := caregiverKey{Role(role), id}
		byKey[k] = c
		order = append(order, k)
	}
	return byKey, order, rows.Err()
}

func (r *practiceRepoPG) loadFamilies(ctx context.Context, q db.Querier, practiceID string, cgs map[caregiverKey]*Caregiver) error {
	rows, err := q.Query(ctx, `SELECT role, caregiver_id, family_id FROM caregiver_family WHERE practice_id = $1`, practiceID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var role, cid, fid string
		if err := rows.Scan(&role, &cid, &fid); err != nil {
			return err
		}
		if c, ok := cgs[caregiverKey{Role(role), cid}]; ok {
			c.Families.Add(fid)
		}
	}
	return rows.Err()
}

func (r *practiceRepoPG) loadCompleted(ctx context.Context, q db.Querier, practiceID string, cgs map[caregiverKey]*Caregiver) error {
	rows, err := q.Query(ctx, `
		SELECT role, caregiver_id, patient_id FROM completed_appointment
		WHERE practice_id = $1 ORDER BY completed_at, id`, practiceID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var role, cid, pid string
		if err := rows.Scan(&role, &cid, &pid); err != nil {
			return err
		}
		if c, ok := cgs[caregiverKey{Role(role), cid}]; ok {
			c.CompletedAppointments = append(c.CompletedAppointments, CompletedAppointment{PatientID: pid})
		}
	}
	return rows.Err()
}

func (r *practiceRepoPG) loadTimeslots(ctx context.Context, q db.Querier, practiceID string, cgs map[caregiverKey]*Caregiver) error {
	rows, err := q.Query(ctx, `
		SELECT role, caregiver_id, id, slot_time, free FROM timeslot
		WHERE practice_id = $1 ORDER BY role, caregiver_id, slot_time, id`, practiceID)
	if err != nil {
		return err
	}
	defer rows.Close()

	slots := make(map[caregiverKey][]Timeslot)
	for rows.Next() {
		var role, cid string
		var s Timeslot
		if err := rows.Scan(&role, &cid, &s.ID, &s.Time, &s.Free); err != nil {
			return err
		}
		k := caregiverKey{Role(role), cid}
		slots[k] = append(slots[k], s)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for k, ss := range slots {
		if c, ok := cgs[k]; ok {
			c.Timetable = NewTimetable(ss)
		}
	}
	return nil
}

func (r *practiceRepoPG) loadRegistrations(ctx context.Context, q db.Querier, p *Practice) error {
	rows, err := q.Query(ctx, `SELECT patient_id, doctor_id, nurse_id FROM registration WHERE practice_id = $1`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var pid string
		var g PrimaryCareGroup
		if err := rows.Scan(&pid, &g.DoctorID, &g.NurseID); err != nil {
			return err
		}
		p.Bind(pid, g)
	}
	return rows.Err()
}

// Save replaces the practice's caregivers, families, history and timeslots.
// Registrations and bookings already stored are kept.
func (r *practiceRepoPG) Save(ctx context.Context, p *Practice) error {
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO practice (id) VALUES ($1)
			ON CONFLICT (id) DO UPDATE SET updated_at = NOW()`, p.ID); err != nil {
			return fmt.Errorf("upsert practice: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM caregiver WHERE practice_id = $1`, p.ID); err != nil {
			return fmt.Errorf("clear caregivers: %w", err)
		}

		batch := &pgx.Batch{}
		for _, role := range []Role{RoleDoctor, RoleNurse} {
			for pos, c := range p.Caregivers(role) {
				mode := c.ContactMode
				if mode.Open() {
					mode = ContactEither
				}
				var specialty *string
				if c.Specialty != "" {
					specialty = &c.Specialty
				}
				batch.Queue(`
					INSERT INTO caregiver (practice_id, role, id, contact_mode, specialty, position)
					VALUES ($1,$2,$3,$4,$5,$6)`, p.ID, role, c.ID, mode, specialty, pos)
				for _, fid := range c.Families.Sorted() {
					batch.Queue(`
						INSERT INTO caregiver_family (practice_id, role, caregiver_id, family_id)
						VALUES ($1,$2,$3,$4)`, p.ID, role, c.ID, fid)
				}
				for i, a := range c.CompletedAppointments {
					// keep history order stable on reload
					at := time.Unix(int64(i), 0).UTC()
					batch.Queue(`
						INSERT INTO completed_appointment (id, practice_id, role, caregiver_id, patient_id, completed_at)
						VALUES ($1,$2,$3,$4,$5,$6)`, uuid.New(), p.ID, role, c.ID, a.PatientID, at)
				}
				for _, s := range c.Timetable.Slots() {
					batch.Queue(`
						INSERT INTO timeslot (id, practice_id, role, caregiver_id, slot_time, free)
						VALUES ($1,$2,$3,$4,$5,$6)`, s.ID, p.ID, role, c.ID, s.Time, s.Free)
				}
			}
		}
		for _, pid := range p.PatientIDs() {
			if g, ok := p.Binding(pid); ok {
				batch.Queue(`
					INSERT INTO registration (practice_id, patient_id, doctor_id, nurse_id)
					VALUES ($1,$2,$3,$4) ON CONFLICT (practice_id, patient_id) DO NOTHING`,
					p.ID, pid, g.DoctorID, g.NurseID)
			}
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("write practice %s: %w", p.ID, err)
		}
		return nil
	})
}

func (r *practiceRepoPG) Apply(ctx context.Context, c Change) error {
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if c.Binding != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO registration (practice_id, patient_id, doctor_id, nurse_id)
				VALUES ($1,$2,$3,$4) ON CONFLICT (practice_id, patient_id) DO NOTHING`,
				c.PracticeID, c.PatientID, c.Binding.DoctorID, c.Binding.NurseID); err != nil {
				return fmt.Errorf("insert registration: %w", err)
			}
		}
		if c.Booking == nil {
			return nil
		}

		b := c.Booking
		tag, err := tx.Exec(ctx, `
			UPDATE timeslot SET free = FALSE
			WHERE id = $1 AND practice_id = $2 AND free = TRUE`, b.SlotID, b.PracticeID)
		if err != nil {
			return fmt.Errorf("book timeslot: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrSlotConflict, b.SlotID)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO booking (id, practice_id, patient_id, caregiver_id, role, timeslot_id, slot_time, rank, cascaded, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			b.ID, b.PracticeID, b.PatientID, b.CaregiverID, b.Role, b.SlotID, b.Time, b.Rank, b.Cascaded, b.CreatedAt); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		return nil
	})
}

func (r *practiceRepoPG) ListBookings(ctx context.Context, practiceID string, limit, offset int) ([]*Booking, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM booking WHERE practice_id = $1`, practiceID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, practice_id, patient_id, caregiver_id, role, timeslot_id, slot_time, rank, cascaded, created_at
		FROM booking WHERE practice_id = $1
		ORDER BY slot_time, id LIMIT $2 OFFSET $3`, practiceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Booking
	for rows.Next() {
		var b Booking
		var role string
		if err := rows.Scan(&b.ID, &b.PracticeID, &b.PatientID, &b.CaregiverID, &role,
			&b.SlotID, &b.Time, &b.Rank, &b.Cascaded, &b.CreatedAt); err != nil {
			return nil, 0, err
		}
		b.Role = Role(role)
		items = append(items, &b)
	}
	return items, total, rows.Err()
}
