package util

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrCommandFailed,
		ErrOutputMalformed,
		ErrKindMismatch,
		ErrInvalidSentinelRoute,
		ErrInventoryUnavailable,
	}

	for i, err1 := range sentinels {
		for j, err2 := range sentinels {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("sentinel errors should be distinct: %v == %v", err1, err2)
			}
		}
	}
}
