package simplegrid

import (
	"errors"
	"fmt"
	"strings"
)

// Schema is the attachment slot table of one entity type. It is built once
// when the type is registered and is read-only afterwards.
type Schema struct {
	entityType string
	slots      []string
	index      map[string]struct{}
}

// NewSchema declares the attachment slots of entityType. Duplicate slot names
// are collapsed; declaration order is kept.
func NewSchema(entityType string, slots ...string) (*Schema, error) {
	if strings.TrimSpace(entityType) == "" {
		return nil, errors.New("entity type is required")
	}
	s := &Schema{
		entityType: entityType,
		index:      make(map[string]struct{}, len(slots)),
	}
	for _, slot := range slots {
		if strings.TrimSpace(slot) == "" {
			return nil, fmt.Errorf("empty slot name on %s", entityType)
		}
		if strings.Contains(slot, "/") {
			return nil, fmt.Errorf("slot name %q on %s must not contain '/'", slot, entityType)
		}
		if _, ok := s.index[slot]; ok {
			continue
		}
		s.index[slot] = struct{}{}
		s.slots = append(s.slots, slot)
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Intended for package-level
// declarations.
func MustSchema(entityType string, slots ...string) *Schema {
	s, err := NewSchema(entityType, slots...)
	if err != nil {
		panic(err)
	}
	return s
}

// EntityType returns the entity type the schema was declared for.
func (s *Schema) EntityType() string {
	return s.entityType
}

// HasSlot reports whether name is a declared slot.
func (s *Schema) HasSlot(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Slots returns the declared slot names in declaration order.
func (s *Schema) Slots() []string {
	out := make([]string, len(s.slots))
	copy(out, s.slots)
	return out
}
