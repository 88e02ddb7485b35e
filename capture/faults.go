package capture

import (
	"errors"
	"sync"
)

// ErrSourceLost reports a source that stopped delivering after it was
// acquired, such as an unplugged camera or a revoked screen share.
var ErrSourceLost = errors.New("capture source lost")

// Faulter is implemented by sources that can fail after acquisition.
// Faults delivers at most one error and is never closed.
type Faulter interface {
	Faults() <-chan error
}

// Faults returns the fault channel of src, or nil when src cannot fault.
func Faults(src Source) <-chan error {
	if f, ok := src.(Faulter); ok {
		return f.Faults()
	}
	return nil
}

// faultSignal keeps the first fault a source reports.
type faultSignal struct {
	once sync.Once
	ch   chan error
}

func newFaultSignal() *faultSignal {
	return &faultSignal{ch: make(chan error, 1)}
}

func (f *faultSignal) report(err error) {
	f.once.Do(func() { f.ch <- err })
}

func (f *faultSignal) Faults() <-chan error { return f.ch }
