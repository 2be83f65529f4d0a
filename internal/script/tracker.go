package script

// tracker maps script ids to their live run. It has no lock of its own;
// every call happens under Service.mu.
type tracker struct {
	runs map[string]*Handle
}

func newTracker() *tracker {
	return &tracker{runs: make(map[string]*Handle)}
}

func (t *tracker) begin(id string, h *Handle) error {
	if _, ok := t.runs[id]; ok {
		return ErrAlreadyRunning
	}
	t.runs[id] = h
	return nil
}

// complete unregisters h. A newer handle registered under the same id is
// left alone.
func (t *tracker) complete(id string, h *Handle) bool {
	if cur, ok := t.runs[id]; ok && cur == h {
		delete(t.runs, id)
		return true
	}
	return false
}

func (t *tracker) get(id string) (*Handle, bool) {
	h, ok := t.runs[id]
	return h, ok
}

func (t *tracker) isRunning(id string) bool {
	_, ok := t.runs[id]
	return ok
}

// drain empties the tracker and returns what it held.
func (t *tracker) drain() map[string]*Handle {
	out := t.runs
	t.runs = make(map[string]*Handle)
	return out
}

func (t *tracker) len() int { return len(t.runs) }
