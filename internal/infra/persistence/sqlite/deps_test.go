package sqlite

import (
	"testing"

	"vivarium/testutil"
)

func TestImportsStayWithinPersistence(t *testing.T) {
	allowed := testutil.ModuleImportExcept(
		"vivarium/pkg/domain",
		"vivarium/internal/infra/persistence/memory",
		"vivarium/internal/infra/persistence/sqlstate",
	)
	testutil.AssertNoDirectImports(t, ".", allowed, "sqlite store builds on the shared memory and sql state layers only")
}
