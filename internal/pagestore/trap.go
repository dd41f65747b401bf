package pagestore

// trapSignal is the panic value used to abort the current call when a region
// cannot grow. Only Recover understands it.
type trapSignal struct {
	err error
}

// Recover must be deferred directly by every externally observable
// operation that can reach the page store:
//
//	func (s *Service) Enroll(...) (err error) {
//		defer pagestore.Recover(&err)
//		...
//	}
//
// A trap raised during the call becomes the call's error; any other panic is
// re-raised untouched.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	t, ok := r.(trapSignal)
	if !ok {
		panic(r)
	}
	*errp = t.err
}
