package temporal

// ValueStatus describes what an inbound message says about a single field.
type ValueStatus int

const (
	// StatusUnknown means the message carries no information about the field.
	StatusUnknown ValueStatus = iota
	// StatusSave means the message carries a concrete value for the field.
	StatusSave
	// StatusDelete means the message explicitly erases the field.
	StatusDelete
)

// Value is a ternary wrapper for a field arriving on a message: the source
// may know the value, know nothing about it, or explicitly erase it. The
// three cases flow through the same assignment logic so that "unknown" never
// clobbers existing data and "delete" audits the removal like any other
// change.
type Value[T any] struct {
	value  T
	status ValueStatus
}

// From wraps a known value.
func From[T any](v T) Value[T] {
	return Value[T]{value: v, status: StatusSave}
}

// Unknown returns a Value carrying no information.
func Unknown[T any]() Value[T] {
	return Value[T]{status: StatusUnknown}
}

// Deleted returns a Value that explicitly erases the field.
func Deleted[T any]() Value[T] {
	return Value[T]{status: StatusDelete}
}

// FromPtr wraps a nullable value: nil maps to unknown.
func FromPtr[T any](v *T) Value[T] {
	if v == nil {
		return Unknown[T]()
	}
	return From(*v)
}

// ValueFromHL7 builds a string Value using HL7 field conventions: an empty
// field is unknown, the literal `""` is an explicit delete.
func ValueFromHL7(s string) Value[string] {
	switch s {
	case "":
		return Unknown[string]()
	case `""`:
		return Deleted[string]()
	default:
		return From(s)
	}
}

// IsUnknown reports whether the message says nothing about the field.
func (v Value[T]) IsUnknown() bool { return v.status == StatusUnknown }

// IsSave reports whether the message carries a concrete value.
func (v Value[T]) IsSave() bool { return v.status == StatusSave }

// IsDelete reports whether the message explicitly erases the field.
func (v Value[T]) IsDelete() bool { return v.status == StatusDelete }

// Get returns the wrapped value. Only meaningful when IsSave is true.
func (v Value[T]) Get() T { return v.value }

// GetOr returns the wrapped value, or fallback when it is not a save.
func (v Value[T]) GetOr(fallback T) T {
	if v.status != StatusSave {
		return fallback
	}
	return v.value
}
