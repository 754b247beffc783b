package util

// GetPtr returns a pointer to v, convenient for literal values in tests.
func GetPtr[T any](v T) *T {
	return &v
}
