// Package session holds the fixed-capacity session table shared by the TOE
// (keyed by socket pair) and the NAL TCP agency (keyed by a packed triple),
// and the agency stage that owns a table instance.
package session

import (
	"github.com/rs/zerolog"

	"toe-nts/pkg/metrics"
)

// InsertResult is the outcome of Table.Insert.
type InsertResult int

const (
	Stored InsertResult = iota
	Duplicate
	Full
)

func (r InsertResult) String() string {
	switch r {
	case Stored:
		return "stored"
	case Duplicate:
		return "duplicate"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// Row is a snapshot of one table row.
type Row[K comparable] struct {
	Index         int
	Key           K
	ID            ID
	Used          bool
	Privileged    bool
	PendingDelete bool
}

type row[K comparable] struct {
	key           K
	id            ID
	used          bool
	privileged    bool
	pendingDelete bool
}

// live reports whether the row takes part in lookups.
func (r *row[K]) live() bool { return r.used && !r.pendingDelete }

// Table maps keys to session ids through a linear scan of its rows. Every
// scan returns the lowest matching row index. A Table has no locking: it
// must be owned by a single stage.
type Table[K comparable] struct {
	name string
	rows []row[K]
	log  zerolog.Logger
}

func NewTable[K comparable](name string, capacity int, log zerolog.Logger) *Table[K] {
	if capacity < 1 {
		capacity = 1
	}
	return &Table[K]{
		name: name,
		rows: make([]row[K], capacity),
		log:  log.With().Str("table", name).Logger(),
	}
}

func (t *Table[K]) Name() string { return t.name }

func (t *Table[K]) Capacity() int { return len(t.rows) }

// Lookup returns the id of the live row holding key.
func (t *Table[K]) Lookup(key K) (ID, bool) {
	for i := range t.rows {
		r := &t.rows[i]
		if r.live() && r.key == key {
			return r.id, true
		}
	}
	t.log.Debug().Interface("key", key).Msg("unknown key requested")
	return 0, false
}

// ReverseLookup returns the key of the live row holding id.
func (t *Table[K]) ReverseLookup(id ID) (K, bool) {
	for i := range t.rows {
		r := &t.rows[i]
		if r.live() && r.id == id {
			return r.key, true
		}
	}
	t.log.Debug().Uint16("session", uint16(id)).Msg("unknown session requested")
	var zero K
	return zero, false
}

// Insert stores key -> id in the first unused row. A key or id that is
// already live is left untouched and reported as Duplicate. Full means the
// table is smaller than the transport's session ceiling; it is logged and
// never retried.
func (t *Table[K]) Insert(key K, id ID) InsertResult {
	res := t.insert(key, id)
	metrics.RecordSessionInsert(t.name, res.String())
	return res
}

func (t *Table[K]) insert(key K, id ID) InsertResult {
	for i := range t.rows {
		r := &t.rows[i]
		if r.live() && (r.key == key || r.id == id) {
			t.log.Debug().Uint16("session", uint16(id)).Int("row", i).Msg("session already known, skipping")
			return Duplicate
		}
	}
	for i := range t.rows {
		r := &t.rows[i]
		if !r.used {
			*r = row[K]{key: key, id: id, used: true}
			t.log.Trace().Uint16("session", uint16(id)).Int("row", i).Msg("stored session")
			return Stored
		}
	}
	t.log.Error().Uint16("session", uint16(id)).Int("capacity", len(t.rows)).
		Msg("no free row left in session table")
	return Full
}

// Delete frees the row holding id, preferring a live row over one pending
// deletion. Deleting an unknown id is a no-op; the result reports whether a
// row was freed.
func (t *Table[K]) Delete(id ID) bool {
	i := t.find(id, true)
	if i < 0 {
		i = t.find(id, false)
	}
	if i < 0 {
		return false
	}
	t.rows[i] = row[K]{}
	t.log.Trace().Uint16("session", uint16(id)).Int("row", i).Msg("deleted session")
	return true
}

// MarkPrivileged protects the row holding id from batch reaps. A row already
// flagged for reaping is taken back and becomes live again, unless its key
// was inserted anew in the meantime.
func (t *Table[K]) MarkPrivileged(id ID) bool {
	i := t.find(id, true)
	if i < 0 {
		i = t.find(id, false)
		if i >= 0 && t.liveKey(t.rows[i].key) {
			t.log.Debug().Uint16("session", uint16(id)).Int("row", i).Msg("key live in another row, leaving row to the reaper")
			return false
		}
	}
	if i < 0 {
		return false
	}
	t.rows[i].privileged = true
	t.rows[i].pendingDelete = false
	return true
}

func (t *Table[K]) liveKey(key K) bool {
	for i := range t.rows {
		if t.rows[i].live() && t.rows[i].key == key {
			return true
		}
	}
	return false
}

func (t *Table[K]) find(id ID, live bool) int {
	for i := range t.rows {
		r := &t.rows[i]
		if !r.used || r.id != id {
			continue
		}
		if r.live() == live {
			return i
		}
	}
	return -1
}

// MarkUnprivilegedForDeletion flags every used, unprivileged row for reaping
// and returns how many rows were flagged.
func (t *Table[K]) MarkUnprivilegedForDeletion() int {
	n := 0
	for i := range t.rows {
		r := &t.rows[i]
		if r.used && !r.privileged {
			r.pendingDelete = true
			n++
		}
	}
	t.log.Debug().Int("marked", n).Msg("unprivileged sessions marked for deletion")
	return n
}

// ReapNext frees the lowest row flagged for deletion and returns its id.
func (t *Table[K]) ReapNext() (ID, bool) {
	for i := range t.rows {
		r := &t.rows[i]
		if r.pendingDelete {
			r.used = false
			r.pendingDelete = false
			t.log.Debug().Uint16("session", uint16(r.id)).Int("row", i).Msg("closing session")
			metrics.RecordSessionReaped(t.name)
			return r.id, true
		}
	}
	return 0, false
}

// Used returns the number of used rows, pending ones included.
func (t *Table[K]) Used() int {
	n := 0
	for i := range t.rows {
		if t.rows[i].used {
			n++
		}
	}
	return n
}

// Rows returns a snapshot of the used rows in index order.
func (t *Table[K]) Rows() []Row[K] {
	out := make([]Row[K], 0, len(t.rows))
	for i := range t.rows {
		r := &t.rows[i]
		if !r.used {
			continue
		}
		out = append(out, Row[K]{
			Index:         i,
			Key:           r.key,
			ID:            r.id,
			Used:          r.used,
			Privileged:    r.privileged,
			PendingDelete: r.pendingDelete,
		})
	}
	return out
}

// Reset wipes every row.
func (t *Table[K]) Reset() {
	clear(t.rows)
}
