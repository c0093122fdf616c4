package eventlog

import "sort"

// ring is a fixed-size circular byte buffer holding whole encoded records.
// Storing a record evicts as many of the oldest records as needed to make
// room. The live records span the capacity bytes before writePos.
type ring struct {
	data     []byte
	writePos int
	used     int

	// entries are the live records, oldest first.
	entries []span
}

type span struct {
	id   EventID
	pos  int
	size int
}

func newRing(capacity int) *ring {
	return &ring{data: make([]byte, capacity)}
}

func (r *ring) capacity() int { return len(r.data) }

// put stores b under id and returns the number of evicted records.
// b must not be larger than the ring.
func (r *ring) put(id EventID, b []byte) int {
	evicted := 0
	for r.used+len(b) > len(r.data) {
		r.used -= r.entries[0].size
		r.entries = r.entries[1:]
		evicted++
	}

	pos := r.writePos
	for off := 0; off < len(b); {
		n := copy(r.data[r.writePos:], b[off:])
		r.writePos = (r.writePos + n) % len(r.data)
		off += n
	}
	r.entries = append(r.entries, span{id: id, pos: pos, size: len(b)})
	r.used += len(b)
	return evicted
}

// read returns a copy of the i-th live record.
func (r *ring) read(i int) []byte {
	s := r.entries[i]
	out := make([]byte, s.size)
	pos := s.pos
	for off := 0; off < s.size; {
		n := copy(out[off:], r.data[pos:])
		pos = (pos + n) % len(r.data)
		off += n
	}
	return out
}

// search returns the index of the oldest record with an id >= id.
func (r *ring) search(id EventID) int {
	return sort.Search(len(r.entries), func(i int) bool { return r.entries[i].id >= id })
}

func (r *ring) first() (EventID, bool) {
	if len(r.entries) == 0 {
		return 0, false
	}
	return r.entries[0].id, true
}

func (r *ring) len() int { return len(r.entries) }

func (r *ring) reset() {
	r.entries = nil
	r.used = 0
	r.writePos = 0
}
