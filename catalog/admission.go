package catalog

import (
	"context"
	"errors"
	"fmt"
)

// CheckAdmission enforces the copy-partition preconditions
// original_source's init_cp_state applies before a task is ever built: src
// and dst must differ, dst must not already hold a copy of part, and src
// must actually hold one. Callers must build no task and issue no SQL when
// this returns a *PreconditionError.
func CheckAdmission(ctx context.Context, store Store, part string, src, dst NodeID) error {
	if src == dst {
		return &PreconditionError{Reason: fmt.Sprintf("src and dst are both node %d", src)}
	}

	if _, err := store.Partition(ctx, part, dst); err == nil {
		return &PreconditionError{Reason: fmt.Sprintf("%s already exists on node %d", part, dst)}
	} else if !isNotFound(err) {
		return err
	}

	if _, err := store.Partition(ctx, part, src); err != nil {
		if isNotFound(err) {
			return &PreconditionError{Reason: fmt.Sprintf("%s does not exist on node %d", part, src)}
		}
		return err
	}

	return nil
}

func isNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
