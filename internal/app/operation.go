package app

// Operation tracks a CLI command that may change pins or the session.
// Operations are created in memory with ID=0. Only mutating commands
// persist them, which gives them an ID from the local store.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to the local store.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed when err is non-nil and returns err.
func (op *Operation) Fail(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}
