package try

// something have method `Fatal`.
//
// For example in standard libraries: *testing.T, log.Logger
type Fataler interface {
	Fatal(...any)
}

// Wrapper of a pair of (T, error) .
//
// When error is nil, such Either is "ok", and T value is valid.
// Otherwise it is "no good", and T value is not valid.
type Either[T any] interface {
	// If the Either has value, return (value, nil).
	// Otherwise, return (zero-value, error).
	Get() (T, error)

	// When Either is "ok", it just returns the T value.
	//
	// Otherwise, it calls ftl.Fatal(err).
	// If ftl has "Helper()" method (like *testing.T), that is called before `Fatal`.
	OrFatal(ftl Fataler) T

	// Value when ok, or d.
	OrDefault(d T) T
}

func To[T any](ok T, ng error) Either[T] {
	if ng == nil {
		return tryOk[T]{ok}
	}
	return tryNg[T]{ng}
}

// Convert value if the either has value.
func Map[T any, R any](try Either[T], mapper func(T) R) Either[R] {
	val, err := try.Get()
	if err != nil {
		return tryNg[R]{err}
	}
	return tryOk[R]{mapper(val)}
}

type tryOk[T any] struct {
	value T
}

func (ok tryOk[T]) Get() (T, error) {
	return ok.value, nil
}

func (ok tryOk[T]) OrDefault(T) T {
	return ok.value
}

func (ok tryOk[T]) OrFatal(Fataler) T {
	return ok.value
}

type tryNg[T any] struct {
	err error
}

func (ng tryNg[T]) Get() (T, error) {
	return *new(T), ng.err
}

func (ng tryNg[T]) OrDefault(d T) T {
	return d
}

func (ng tryNg[T]) OrFatal(ftl Fataler) T {
	if hlp, ok := ftl.(interface{ Helper() }); ok {
		hlp.Helper()
	}
	ftl.Fatal(ng.err)
	return *new(T)
}
