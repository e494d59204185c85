package app

// Operation tracks a CLI command that may mutate the update store.
// Operations are created in memory with ID=0. Only store-mutating commands
// persist them to the run-history database (giving them an auto-increment ID).
type Operation struct {
	ID         int64
	Name       string
	Parameters string
	Status     string // "success", "warning" or "error"
}

// NewOperation creates a new in-memory operation record.
func NewOperation(name, parameters string) *Operation {
	return &Operation{
		Name:       name,
		Parameters: parameters,
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to the history database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}
