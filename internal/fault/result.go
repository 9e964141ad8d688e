package fault

// Result carries either a value or a classified error.
type Result[T any] struct {
	Value T
	Err   *Error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps a failure. A nil err is recorded as an internal error.
func Fail[T any](err error) Result[T] {
	fe := From(err)
	if fe == nil {
		fe = New(KindInternal, "unknown failure")
	}
	return Result[T]{Err: fe}
}

// IsOk reports whether the result holds a value.
func (r Result[T]) IsOk() bool {
	return r.Err == nil
}

// Unwrap returns the value and the error as a plain error interface.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		return r.Value, r.Err
	}
	return r.Value, nil
}

// Map applies fn to the value of a successful result.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.Err != nil {
		return Result[U]{Err: r.Err}
	}
	return Ok(fn(r.Value))
}
