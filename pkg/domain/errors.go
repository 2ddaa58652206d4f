package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by adapters when a referenced record does not exist.
var ErrNotFound = errors.New("not found")

// InvariantError reports a broken assumption about the reference data, such as
// an allele-level base annotation whose subject is not a variant. It is always fatal.
type InvariantError struct {
	SubjectID int
	Reason    string
}

func (e InvariantError) Error() string {
	return fmt.Sprintf("LOGIC ERROR: RGD:%d %s", e.SubjectID, e.Reason)
}
