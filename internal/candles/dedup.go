package candles

// txRing remembers the most recent capacity tx hashes. Once full, the
// oldest hash is forgotten first.
type txRing struct {
	hashes []string
	next   int
	set    map[string]struct{}
}

func newTxRing(capacity int) *txRing {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &txRing{
		hashes: make([]string, 0, capacity),
		set:    make(map[string]struct{}, capacity),
	}
}

func (r *txRing) Seen(hash string) bool {
	_, ok := r.set[hash]
	return ok
}

func (r *txRing) Add(hash string) {
	if r.Seen(hash) {
		return
	}
	if len(r.hashes) < cap(r.hashes) {
		r.hashes = append(r.hashes, hash)
	} else {
		delete(r.set, r.hashes[r.next])
		r.hashes[r.next] = hash
		r.next = (r.next + 1) % len(r.hashes)
	}
	r.set[hash] = struct{}{}
}

func (r *txRing) Len() int { return len(r.hashes) }
