package extract

// SoftResult is the outcome of a best-effort stage. Value is always usable; Err records why the
// stage degraded to its fallback value.
type SoftResult[T any] struct {
	Value T
	Err   error
}

// Degraded reports whether the stage fell back.
func (r SoftResult[T]) Degraded() bool {
	return r.Err != nil
}

func soft[T any](v T, err error) SoftResult[T] {
	return SoftResult[T]{Value: v, Err: err}
}
