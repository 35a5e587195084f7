package shared

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID is the identifier type used by every aggregate.
type ID struct {
	value uuid.UUID
}

// NewID creates a new random ID.
func NewID() ID {
	return ID{value: uuid.New()}
}

// IDFromString parses a canonical UUID string.
func IDFromString(s string) (ID, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return ID{}, fmt.Errorf("%w: invalid id format", ErrValidation)
	}
	return ID{value: parsed}, nil
}

// MustIDFromString parses an ID and panics on error. Test and seed code only.
func MustIDFromString(s string) ID {
	id, err := IDFromString(s)
	if err != nil {
		panic(err)
	}
	return id
}

// OptionalIDFromString parses s into an ID pointer. An empty string yields nil.
func OptionalIDFromString(s string) (*ID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	id, err := IDFromString(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// IDFromUUID wraps a uuid.UUID.
func IDFromUUID(u uuid.UUID) ID {
	return ID{value: u}
}

// String returns the canonical string form.
func (id ID) String() string {
	return id.value.String()
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id.value == uuid.Nil
}

// Equals compares two IDs.
func (id ID) Equals(other ID) bool {
	return id.value == other.value
}

// Ptr returns a pointer to a copy of the ID.
func (id ID) Ptr() *ID {
	return &id
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	return id.value.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		id.value = uuid.Nil
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		id.value = parsed
	case []byte:
		parsed, err := uuid.ParseBytes(v)
		if err != nil {
			return err
		}
		id.value = parsed
	default:
		return fmt.Errorf("cannot scan type %T into ID", src)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid id format")
	}
	parsed, err := uuid.Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	id.value = parsed
	return nil
}

// PtrEquals compares two optional IDs. Two nil pointers are equal.
func PtrEquals(a, b *ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equals(*b)
}
