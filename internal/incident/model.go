package incident

import "time"

// Incident is a single logged medical event.
type Incident struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Summary     *string   `json:"summary"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy, safe to hand across store boundaries.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	cp := *i
	if i.Summary != nil {
		s := *i.Summary
		cp.Summary = &s
	}
	return &cp
}

// NewIncident carries the caller-settable fields of a create request.
// The owner always comes from the verified identity.
type NewIncident struct {
	ID          string
	Category    string
	Description string
	Summary     *string
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Category    *string
	Description *string
	Summary     *string
}

// Empty reports whether the patch carries no fields.
func (p Patch) Empty() bool {
	return p.Category == nil && p.Description == nil && p.Summary == nil
}
