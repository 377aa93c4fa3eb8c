// Package temporal implements the bitemporal reconciliation primitive used by
// every controller in the pipeline. A Row wraps one persisted entity together
// with the incoming fact's business time (validFrom) and processing time
// (storedFrom), applies conditional field assignments, and on save decides
// between no-op, first insert, and supersede-with-audit. Reapplying an
// unchanged message therefore performs no writes at all.
package temporal

import (
	"context"
	"time"
)

// Entity is implemented by every mutable row that carries bitemporal columns.
// The type parameter is the concrete entity pointer type itself, so that
// CopyEntity can return a usable pre-mutation snapshot.
type Entity[E any] interface {
	GetValidFrom() time.Time
	SetValidFrom(time.Time)
	SetStoredFrom(time.Time)
	CopyEntity() E
}

// SnapshotFunc converts a pre-mutation entity into its audit row, stamping
// the window during which the superseded values were true.
type SnapshotFunc[E any, A any] func(entity E, validUntil, storedUntil time.Time) A

// Row tracks one entity through the reconciliation of one message.
type Row[E Entity[E], A any] struct {
	entity   E
	original E
	snapshot SnapshotFunc[E, A]

	validFrom  time.Time
	storedFrom time.Time
	created    bool
	updated    bool
}

// NewRow wraps an entity for reconciliation against a fact that became true
// at validFrom and was read by the pipeline at storedFrom. created marks an
// entity built for this message rather than loaded from the store; created
// entities get their temporal columns stamped immediately.
func NewRow[E Entity[E], A any](entity E, snapshot SnapshotFunc[E, A], validFrom, storedFrom time.Time, created bool) *Row[E, A] {
	if created {
		entity.SetValidFrom(validFrom)
		entity.SetStoredFrom(storedFrom)
	}
	return &Row[E, A]{
		entity:     entity,
		original:   entity.CopyEntity(),
		snapshot:   snapshot,
		validFrom:  validFrom,
		storedFrom: storedFrom,
		created:    created,
	}
}

// Entity returns the wrapped entity for reads and for building setters.
func (r *Row[E, A]) Entity() E { return r.entity }

// Created reports whether the entity was built for this message.
func (r *Row[E, A]) Created() bool { return r.created }

// Updated reports whether any assignment changed a field.
func (r *Row[E, A]) Updated() bool { return r.updated }

// ValidFrom returns the incoming fact's business time.
func (r *Row[E, A]) ValidFrom() time.Time { return r.validFrom }

// StoredFrom returns the incoming fact's processing time.
func (r *Row[E, A]) StoredFrom() time.Time { return r.storedFrom }

// MarkUpdated forces the row to be treated as changed. Used by controllers
// that mutate the entity outside the Assign helpers.
func (r *Row[E, A]) MarkUpdated() { r.touch() }

func (r *Row[E, A]) touch() {
	r.updated = true
	r.entity.SetValidFrom(r.validFrom)
	r.entity.SetStoredFrom(r.storedFrom)
}

// Save commits the row: a created entity is inserted, an updated entity is
// persisted after its pre-mutation state is written to the audit store, and
// an untouched entity causes no I/O. The audit snapshot's validity window is
// closed at the incoming fact's times.
func (r *Row[E, A]) Save(
	ctx context.Context,
	insert func(context.Context, E) error,
	update func(context.Context, E) error,
	audit func(context.Context, A) error,
) error {
	switch {
	case r.created:
		return insert(ctx, r.entity)
	case r.updated:
		if err := audit(ctx, r.snapshot(r.original, r.validFrom, r.storedFrom)); err != nil {
			return err
		}
		return update(ctx, r.entity)
	default:
		return nil
	}
}

// AssignIfDifferent overwrites the field whenever the new value differs,
// regardless of temporal ordering. Used for "last processed message wins"
// fields only.
func AssignIfDifferent[E Entity[E], A any, V comparable](r *Row[E, A], newValue, currentValue V, set func(V)) bool {
	if newValue == currentValue {
		return false
	}
	r.touch()
	set(newValue)
	return true
}

// AssignPtrIfDifferent is AssignIfDifferent for nullable fields, comparing by
// value rather than pointer identity.
func AssignPtrIfDifferent[E Entity[E], A any, V comparable](r *Row[E, A], newValue, currentValue *V, set func(*V)) bool {
	if ptrEqual(newValue, currentValue) {
		return false
	}
	r.touch()
	set(newValue)
	return true
}

// AssignTimeIfDifferent is AssignIfDifferent for nullable timestamps, using
// time.Equal semantics.
func AssignTimeIfDifferent[E Entity[E], A any](r *Row[E, A], newValue, currentValue *time.Time, set func(*time.Time)) bool {
	if timePtrEqual(newValue, currentValue) {
		return false
	}
	r.touch()
	set(newValue)
	return true
}

// AssignIfCurrentlyNullOrNewerAndDifferent is the default policy for temporal
// fields: fill the field when it is currently null, otherwise only let a
// message that is not older than the entity's current validFrom change it.
// An older message can never regress a value that is already set.
func AssignIfCurrentlyNullOrNewerAndDifferent[E Entity[E], A any, V comparable](
	r *Row[E, A], newValue V, currentValue *V, set func(*V), incomingValidFrom, entityValidFrom time.Time,
) bool {
	if currentValue == nil {
		r.touch()
		set(&newValue)
		return true
	}
	if incomingValidFrom.Before(entityValidFrom) {
		return false
	}
	if *currentValue == newValue {
		return false
	}
	r.touch()
	set(&newValue)
	return true
}

// AssignTimeIfNullOrNewer is AssignIfCurrentlyNullOrNewerAndDifferent for
// nullable timestamps.
func AssignTimeIfNullOrNewer[E Entity[E], A any](
	r *Row[E, A], newValue time.Time, currentValue *time.Time, set func(*time.Time), incomingValidFrom, entityValidFrom time.Time,
) bool {
	if currentValue == nil {
		r.touch()
		set(&newValue)
		return true
	}
	if incomingValidFrom.Before(entityValidFrom) {
		return false
	}
	if currentValue.Equal(newValue) {
		return false
	}
	r.touch()
	set(&newValue)
	return true
}

// AssignValue propagates a ternary message field: unknown leaves the entity
// alone, delete nulls the field, and a concrete value is assigned when
// different.
func AssignValue[E Entity[E], A any, V comparable](r *Row[E, A], val Value[V], currentValue *V, set func(*V)) bool {
	switch {
	case val.IsUnknown():
		return false
	case val.IsDelete():
		return AssignPtrIfDifferent(r, nil, currentValue, set)
	default:
		v := val.Get()
		return AssignPtrIfDifferent(r, &v, currentValue, set)
	}
}

// AssignTimeValue is AssignValue for nullable timestamps.
func AssignTimeValue[E Entity[E], A any](r *Row[E, A], val Value[time.Time], currentValue *time.Time, set func(*time.Time)) bool {
	switch {
	case val.IsUnknown():
		return false
	case val.IsDelete():
		return AssignTimeIfDifferent(r, nil, currentValue, set)
	default:
		v := val.Get()
		return AssignTimeIfDifferent(r, &v, currentValue, set)
	}
}

// RemoveIfExists nulls the field if it is set, moving the entity's validFrom
// to the cancellation time so the audit window reflects when the value
// stopped being true.
func RemoveIfExists[E Entity[E], A any, V comparable](r *Row[E, A], currentValue *V, set func(*V), cancelledAt time.Time) bool {
	removed := AssignPtrIfDifferent(r, nil, currentValue, set)
	if removed && !cancelledAt.IsZero() {
		r.entity.SetValidFrom(cancelledAt)
	}
	return removed
}

// RemoveTimeIfExists is RemoveIfExists for nullable timestamps.
func RemoveTimeIfExists[E Entity[E], A any](r *Row[E, A], currentValue *time.Time, set func(*time.Time), cancelledAt time.Time) bool {
	removed := AssignTimeIfDifferent(r, nil, currentValue, set)
	if removed && !cancelledAt.IsZero() {
		r.entity.SetValidFrom(cancelledAt)
	}
	return removed
}

func ptrEqual[V comparable](a, b *V) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
