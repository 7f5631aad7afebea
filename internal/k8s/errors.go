package k8s

import (
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// The cluster API surfaces status codes in several shapes depending on the
// call site. Everything funnels through these helpers so component logic
// only ever sees the normalized taxonomy: not-found (benign for deletion and
// a valid health observation), already-exists/conflict (benign for creation),
// and everything else (hard error).

// IsNotFound reports whether the error means the resource does not exist.
func IsNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}

// IsAlreadyExists reports whether the error means the resource was already
// created. Treated as success by every idempotent create.
func IsAlreadyExists(err error) bool {
	return apierrors.IsAlreadyExists(err)
}

// IsConflict reports whether the error is a write conflict (stale
// resourceVersion).
func IsConflict(err error) bool {
	return apierrors.IsConflict(err)
}

// IgnoreNotFound maps not-found to nil so idempotent teardown reads cleanly.
func IgnoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}

// IgnoreAlreadyExists maps already-exists to nil for idempotent creates.
func IgnoreAlreadyExists(err error) error {
	if IsAlreadyExists(err) {
		return nil
	}
	return err
}
