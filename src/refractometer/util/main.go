package util

// PointerTo returns a pointer to a copy of val, for optional fields of
// protocol messages that are set from locals or constants.
func PointerTo[T any](val T) *T {
	return &val
}
