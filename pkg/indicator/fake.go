package indicator

import "sync"

// Fake records LED states for tests.
type Fake struct {
	// SetErr, if set, is returned by Set.
	SetErr error

	mu     sync.Mutex
	states []bool
	closed bool
}

// Set records the state.
func (f *Fake) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetErr != nil {
		return f.SetErr
	}
	f.states = append(f.states, on)
	return nil
}

// Close marks the LED as closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// On reports the last state set.
func (f *Fake) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states) > 0 && f.states[len(f.states)-1]
}

// States returns every state set, in order.
func (f *Fake) States() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.states...)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
