package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by single-row lookups that match no rows.
var ErrNotFound = errors.New("not found")

// Lead is a contact record that may be linked to at most one outbound call.
type Lead struct {
	ID              int64
	Name            *string
	Email           *string
	Phone           *string
	Company         *string
	Source          *string
	Status          string
	Priority        string
	Notes           *string
	Metadata        []byte // raw jsonb
	CallSID         *string
	LastContactedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GetLead fetches a lead by id.
func (db *DB) GetLead(ctx context.Context, id int64) (*Lead, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, name, email, phone, company, source, status, priority, notes,
		       metadata, call_sid, last_contacted_at, created_at, updated_at
		FROM leads WHERE id = $1`, id)
	l, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// LeadsForRefill returns up to limit leads eligible for a refill batch:
// status='new' and no call_sid yet, ordered oldest-first.
func (db *DB) LeadsForRefill(ctx context.Context, limit int) ([]*Lead, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, email, phone, company, source, status, priority, notes,
		       metadata, call_sid, last_contacted_at, created_at, updated_at
		FROM leads
		WHERE status = 'new' AND call_sid IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []*Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// FindLeadByPhone returns leads with the given phone number, most recently
// created first. Used by linkLead to resolve a CallEvent's to_number to a lead.
func (db *DB) FindLeadByPhone(ctx context.Context, phone string) ([]*Lead, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, email, phone, company, source, status, priority, notes,
		       metadata, call_sid, last_contacted_at, created_at, updated_at
		FROM leads
		WHERE phone = $1
		ORDER BY created_at DESC`, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []*Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// MarkContacted sets call_sid, status=contacted, and last_contacted_at=now
// for a lead, used right after a place-call job successfully initiates a call.
func (db *DB) MarkContacted(ctx context.Context, leadID int64, callSID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE leads
		SET call_sid = $2, status = 'contacted', last_contacted_at = now(), updated_at = now()
		WHERE id = $1`, leadID, callSID)
	return err
}

// SetLeadCallSIDOnce sets call_sid for the given lead only if it is currently
// null, enforcing the "set exactly once" linkage invariant at the SQL layer.
// Returns true if the update applied.
func (db *DB) SetLeadCallSIDOnce(ctx context.Context, leadID int64, callSID string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE leads SET call_sid = $2, updated_at = now()
		WHERE id = $1 AND call_sid IS NULL`, leadID, callSID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanLead(row pgx.Row) (*Lead, error) {
	l := &Lead{}
	err := row.Scan(&l.ID, &l.Name, &l.Email, &l.Phone, &l.Company, &l.Source,
		&l.Status, &l.Priority, &l.Notes, &l.Metadata, &l.CallSID,
		&l.LastContactedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}
