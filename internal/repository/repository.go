// Package repository defines the persistence contract the coordination
// core depends on. The core never assumes durability: an in-memory
// implementation ships here, durable backends implement the same
// contract outside the core. Durable implementations are also
// responsible for persisting the message queue's nonce table across
// restarts.
package repository

// Predicate filters stored entities.
type Predicate func(entity interface{}) bool

// Repository is the narrow persistence contract of the core.
//
// Thread Safety: implementations MUST be safe for concurrent use.
type Repository interface {
	// Save stores or replaces the entity under its id.
	Save(id string, entity interface{}) error

	// FindByID returns the entity and whether it exists.
	FindByID(id string) (interface{}, bool)

	// FindBy returns all entities matching the predicate, in unspecified
	// order.
	FindBy(pred Predicate) []interface{}

	// BatchDelete removes the given ids, returning how many existed.
	BatchDelete(ids []string) int

	// CountBy counts entities matching the predicate.
	CountBy(pred Predicate) int64
}
