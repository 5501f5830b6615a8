package directory

import "sync/atomic"

// handle binds an OutputChannel to its name within one Directory.
type handle struct {
	detached atomic.Bool
}

// attach registers a new handle for name and detaches the previous one.
func (d *Directory) attach(name string) *handle {
	h := &handle{}

	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()

	if old, ok := d.handles[name]; ok {
		old.detached.Store(true)
	}
	d.handles[name] = h
	return h
}

// detach invalidates the handle registered for name, if any.
func (d *Directory) detach(name string) {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()

	if h, ok := d.handles[name]; ok {
		h.detached.Store(true)
		delete(d.handles, name)
	}
}

// release forgets h without invalidating it. A newer handle registered for
// the same name is left alone.
func (d *Directory) release(name string, h *handle) {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()

	if d.handles[name] == h {
		delete(d.handles, name)
	}
}

func (d *Directory) detachAll() {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()

	for name, h := range d.handles {
		h.detached.Store(true)
		delete(d.handles, name)
	}
}
