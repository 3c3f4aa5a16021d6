// Package model defines the entities of spec.md §3: Workflow, its Actions
// and Triggers, Executions and their Logs, Integrations and their Events,
// and the Commenter Admission rows.
package model

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID is an opaque 128-bit identifier, rendered as a sortable KSUID string.
type ID string

func (id ID) String() string { return string(id) }
func (id ID) IsZero() bool   { return id == "" }

// NewID generates a fresh ID.
func NewID() (ID, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return ID(id.String()), nil
}

// MustNewID panics on generation failure; used at call sites where entropy
// failure is unrecoverable anyway (e.g. process startup).
func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

// ParseID validates s is a well-formed KSUID and returns it as an ID.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", fmt.Errorf("empty id")
	}
	if _, err := ksuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid id format: %w", err)
	}
	return ID(s), nil
}
