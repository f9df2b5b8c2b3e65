// Package options implements the functional options used by millipede constructors.
//
// A constructor accepts ...Option[*T] and applies them in order to a freshly
// defaulted *T before validating the result:
//
//	w, err := blobfile.Create(path, blobfile.WithCompression(format.CompressionZstd))
package options

// Option configures a value of type T. Options may fail, in which case the
// constructor that applies them returns the error.
type Option[T any] interface {
	apply(T) error
}

type funcOption[T any] struct {
	fn func(T) error
}

func (o funcOption[T]) apply(target T) error {
	return o.fn(target)
}

// New creates an option from a function that may fail.
func New[T any](fn func(T) error) Option[T] {
	return funcOption[T]{fn: fn}
}

// NoError creates an option from a function that cannot fail.
func NoError[T any](fn func(T)) Option[T] {
	return funcOption[T]{fn: func(target T) error {
		fn(target)
		return nil
	}}
}

// Apply applies opts to target in order and stops at the first error.
// Nil options are skipped.
func Apply[T any](target T, opts ...Option[T]) error {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(target); err != nil {
			return err
		}
	}

	return nil
}
