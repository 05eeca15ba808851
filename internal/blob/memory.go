package blob

import (
	memorystore "vivarium/internal/infra/blob/memory"
)

// NewMemory returns an in-memory blob.Store.
func NewMemory() Store { return memorystore.New() }
