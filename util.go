package rpc

// Must panics if e is non-nil, otherwise returns t. It exists to make
// constructing package-level singletons (an Application, an Encoding) a
// one-liner at program startup, where a constructor error means the
// program is misconfigured and cannot proceed.
func Must[T any](t T, e error) T {
	if e != nil {
		panic(e)
	}
	return t
}
