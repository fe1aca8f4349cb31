package cache

// lossWindow detects thrashing: blocks released from the cache and then asked for
// again soon after.
//
// Releases (TTL expiry or threshold eviction) leave a ghost, their size class, in a
// ring of the last N releases.
// Each cache miss consumes a matching ghost if there is one, and the outcome
// (lost or not) goes into a rolling window of the last N misses.
type lossWindow struct {
	ghosts []int // ring of evicted classes; -1 marks an empty or consumed slot
	gpos   int

	outcomes []bool // ring of miss outcomes; true = the miss hit a ghost
	opos     int
	filled   int
	losses   int
}

func newLossWindow(size int) *lossWindow {
	if size <= 0 {
		return nil
	}
	w := &lossWindow{
		ghosts:   make([]int, size),
		outcomes: make([]bool, size),
	}
	for i := range w.ghosts {
		w.ghosts[i] = -1
	}
	return w
}

// recordEviction remembers that a block of class sc left the cache.
func (w *lossWindow) recordEviction(sc int) {
	w.ghosts[w.gpos] = sc
	w.gpos = (w.gpos + 1) % len(w.ghosts)
}

// observeMiss records a miss for class sc and reports whether it was a loss.
func (w *lossWindow) observeMiss(sc int) bool {
	lost := false
	for i, g := range w.ghosts {
		if g == sc {
			w.ghosts[i] = -1
			lost = true
			break
		}
	}

	if w.filled == len(w.outcomes) {
		if w.outcomes[w.opos] {
			w.losses--
		}
	} else {
		w.filled++
	}
	w.outcomes[w.opos] = lost
	if lost {
		w.losses++
	}
	w.opos = (w.opos + 1) % len(w.outcomes)
	return lost
}

// ratio is the fraction of observed misses that were losses.
func (w *lossWindow) ratio() float64 {
	if w.filled == 0 {
		return 0
	}
	return float64(w.losses) / float64(w.filled)
}

// ready reports whether enough misses were observed to act on ratio.
func (w *lossWindow) ready() bool {
	return w.filled >= (len(w.outcomes)+1)/2
}

// reset forgets observed outcomes, keeping ghosts.
func (w *lossWindow) reset() {
	clear(w.outcomes)
	w.opos, w.filled, w.losses = 0, 0, 0
}
