// Package retry runs operations that may fail transiently a fixed number of times.
package retry

// DefaultAttempts is the attempt budget used for disk and storage operations.
const DefaultAttempts = 5

// Do calls fn until it succeeds or attempts are exhausted.
// The error of the last attempt is returned unchanged.
//
// There is no delay between attempts.
func Do(attempts int, fn func() error) error {
	_, err := DoValue(attempts, func() (struct{}, error) {
		return struct{}{}, fn()
	})

	return err
}

// DoValue is like Do, but returns the value produced by the first successful attempt.
func DoValue[T any](attempts int, fn func() (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	var (
		value T
		err   error
	)

	for i := 0; i < attempts; i++ {
		value, err = fn()
		if err == nil {
			return value, nil
		}
	}

	return value, err
}
