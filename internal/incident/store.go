package incident

import (
	"context"
	"time"
)

// Store is the persistence interface for incidents. Implementations own the
// createdAt/updatedAt timestamps: Insert sets both, Update strictly advances
// updatedAt. Returned records are copies.
type Store interface {
	// Insert persists a new record. Returns ErrDuplicateID on id collision.
	Insert(ctx context.Context, inc *Incident) (*Incident, error)

	// Get returns ok=false when no record has the given id.
	Get(ctx context.Context, id string) (*Incident, bool, error)

	// Update writes only the fields set in p, leaving the rest as stored,
	// so concurrent writers touching different fields do not undo each
	// other. A non-nil empty Summary clears it. Returns ErrNotFound if
	// the record does not exist.
	Update(ctx context.Context, id string, p Patch) (*Incident, error)

	// ListByOwner returns every record owned by ownerID, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*Incident, error)
}

// NextUpdatedAt returns the updatedAt for a save at now: now truncated to
// microseconds, or prev+1µs when the clock has not moved past prev.
func NextUpdatedAt(now, prev time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Microsecond)
}

// Apply copies the fields set in p onto inc. A non-nil empty Summary
// clears it.
func (p Patch) Apply(inc *Incident) {
	if p.Category != nil {
		inc.Category = *p.Category
	}
	if p.Description != nil {
		inc.Description = *p.Description
	}
	if p.Summary != nil {
		if *p.Summary == "" {
			inc.Summary = nil
		} else {
			s := *p.Summary
			inc.Summary = &s
		}
	}
}
