package temporal

import "time"

// Columns is embedded by every mutable entity to carry its bitemporal
// bookkeeping: the business time its current field values became true and
// the processing time they were recorded.
type Columns struct {
	ValidFrom  time.Time `db:"valid_from" json:"valid_from"`
	StoredFrom time.Time `db:"stored_from" json:"stored_from"`
}

// GetValidFrom implements Entity.
func (c *Columns) GetValidFrom() time.Time { return c.ValidFrom }

// SetValidFrom implements Entity.
func (c *Columns) SetValidFrom(t time.Time) { c.ValidFrom = t }

// SetStoredFrom implements Entity.
func (c *Columns) SetStoredFrom(t time.Time) { c.StoredFrom = t }

// Window is embedded by audit rows: the span during which the snapshotted
// values were true, in both business and processing time.
type Window struct {
	ValidFrom   time.Time `db:"valid_from" json:"valid_from"`
	StoredFrom  time.Time `db:"stored_from" json:"stored_from"`
	ValidUntil  time.Time `db:"valid_until" json:"valid_until"`
	StoredUntil time.Time `db:"stored_until" json:"stored_until"`
}

// CloseWindow builds the audit window for an entity superseded at the given
// times.
func CloseWindow(c Columns, validUntil, storedUntil time.Time) Window {
	return Window{
		ValidFrom:   c.ValidFrom,
		StoredFrom:  c.StoredFrom,
		ValidUntil:  validUntil,
		StoredUntil: storedUntil,
	}
}
