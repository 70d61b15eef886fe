package state

import (
	"SaleLedger/internal/event"
	fpmath "SaleLedger/internal/math"
	"sort"

	"github.com/holiman/uint256"
)

// RecordManager owns every participant record.
// Records are created on first grant and never deleted.
type RecordManager struct {
	records map[event.Identity]*ParticipantRecord
}

func NewRecordManager() *RecordManager {
	return &RecordManager{
		records: make(map[event.Identity]*ParticipantRecord),
	}
}

func (m *RecordManager) Get(id event.Identity) (*ParticipantRecord, bool) {
	r, ok := m.records[id]
	return r, ok
}

// GetOrCreate returns the existing record or an empty, unregistered one
// along with a commit func which registers it. The caller commits only once
// the grant has been applied to the ledger.
func (m *RecordManager) GetOrCreate(id event.Identity) (*ParticipantRecord, func()) {
	if r, ok := m.records[id]; ok {
		return r, func() {}
	}
	r := NewParticipantRecord(id)
	return r, func() { m.records[id] = r }
}

// All returns every record sorted by identity
func (m *RecordManager) All() []*ParticipantRecord {
	out := make([]*ParticipantRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity < out[j].Identity
	})
	return out
}

func (m *RecordManager) Len() int {
	return len(m.records)
}

// TotalPending sums PendingForClaim across all records
func (m *RecordManager) TotalPending() *uint256.Int {
	total := new(uint256.Int)
	for _, r := range m.records {
		total = fpmath.MustAdd(total, &r.PendingForClaim)
	}
	return total
}

// Restore installs a record read from a snapshot
func (m *RecordManager) Restore(r ParticipantRecord) {
	rec := r
	m.records[r.Identity] = &rec
}
