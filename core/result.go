package core

// Result holds exactly one of a success value or a *NetworkError.
// A Result is immutable once constructed.
type Result[T any] struct {
	value T
	err   *NetworkError
}

// Success wraps v in a successful Result.
func Success[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Failure wraps err in a failed Result. A nil err is classified as Unknown
// so that a failed Result never carries an unclassified error.
func Failure[T any](err *NetworkError) Result[T] {
	if err == nil {
		err = newError(KindUnknown, 0, "unknown error", nil)
	}
	return Result[T]{err: err}
}

// IsSuccess reports whether the result holds a value.
func (r Result[T]) IsSuccess() bool {
	return r.err == nil
}

// Value returns the success value, or the zero value of T on failure.
func (r Result[T]) Value() T {
	return r.value
}

// Err returns the failure, or nil on success.
func (r Result[T]) Err() *NetworkError {
	return r.err
}

// Get returns the result in Go's (value, error) form.
func (r Result[T]) Get() (T, error) {
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return r.value, nil
}

// MapResult applies fn to a successful value. Failures pass through unchanged.
func MapResult[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if r.err != nil {
		return Failure[U](r.err)
	}
	return fn(r.value)
}

// DecodeJSON decodes a successful response body into T.
// Decode failures become Serialization errors.
func DecodeJSON[T any](r Result[*Response]) Result[T] {
	return MapResult(r, func(resp *Response) Result[T] {
		var v T
		if err := resp.JSON(&v); err != nil {
			return Failure[T](NewSerializationError(err))
		}
		return Success(v)
	})
}
