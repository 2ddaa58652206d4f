package reconcile

import (
	"testing"

	"annotprop/testutil"
)

func TestNoAdapterDependencies(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, ".", testutil.AdapterImportForbidden, "reconcile works on domain interfaces only")
}
