package domain

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what a batch load does when one item fails
type FailurePolicy string

const (
	// IsolatePerItem records the failure on the item and lets the batch continue
	IsolatePerItem FailurePolicy = "isolate-per-item"

	// AbortOnFirstError cancels the remaining items and fails the batch
	AbortOnFirstError FailurePolicy = "abort-on-first-error"
)

// ParseFailurePolicy creates a FailurePolicy with validation
func ParseFailurePolicy(value string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case IsolatePerItem:
		return IsolatePerItem, nil
	case AbortOnFirstError:
		return AbortOnFirstError, nil
	default:
		return "", fmt.Errorf("invalid failure policy: %q (expected %s or %s)", value, IsolatePerItem, AbortOnFirstError)
	}
}

// String returns the string representation of FailurePolicy
func (p FailurePolicy) String() string {
	return string(p)
}
