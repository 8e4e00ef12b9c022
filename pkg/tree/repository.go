package tree

import "github.com/dshills/promoflow/pkg/domain/types"

// Repository looks up tree definitions by id.
type Repository interface {
	// Save persists a definition, replacing any stored under the same id.
	Save(def *Definition) error

	// Load retrieves a definition by id.
	Load(id types.TreeID) (*Definition, error)

	// Delete removes a definition.
	Delete(id types.TreeID) error

	// List returns all stored definitions.
	List() ([]*Definition, error)
}
