package derive

import (
	"testing"

	"annotprop/testutil"
)

func TestNoAdapterDependencies(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, ".", testutil.AdapterImportForbidden, "derive works on domain interfaces only")
}
