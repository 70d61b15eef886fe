package persistence

import (
	"SaleLedger/internal/core"
	"SaleLedger/internal/event"
	"SaleLedger/internal/ledger"
	"SaleLedger/internal/state"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// snapshotFormatVersion v1: JSON-encoded SnapshotData, amounts as decimal strings
const snapshotFormatVersion = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized form of core.SnapshotState.
type SnapshotData struct {
	Sequence        int64             `json:"sequence"`
	StateHash       []byte            `json:"state_hash"`
	LastTimestampUs int64             `json:"last_timestamp_us"`
	Balances        []BalanceSnap     `json:"balances"`
	Inflow          map[string]string `json:"inflow"`  // asset name -> base units
	Outflow         map[string]string `json:"outflow"` // asset name -> base units
	Committed       string            `json:"committed"`
	Records         []RecordSnap      `json:"records"`
	IdempotencyKeys []string          `json:"idempotency_keys"` // recent keys for LRU warming
	CreatedAt       time.Time         `json:"created_at"`
}

// BalanceSnap is one internal account balance.
type BalanceSnap struct {
	Scope   uint8  `json:"scope"`
	Holder  string `json:"holder,omitempty"`
	SubType uint8  `json:"sub_type"`
	AssetID uint16 `json:"asset_id"`
	Amount  string `json:"amount"`
}

// RecordSnap is a serializable participant record.
type RecordSnap struct {
	Identity          string `json:"identity"`
	TotalAllocated    string `json:"total_allocated"`
	LiquidBalance     string `json:"liquid_balance"`
	PendingForClaim   string `json:"pending_for_claim"`
	LockedAtVestStart string `json:"locked_at_vest_start"`
	VestStartUs       int64  `json:"vest_start_us"`
	LastClaimAtUs     int64  `json:"last_claim_at_us"` // 0 = never claimed this cycle
	NumUnlocks        uint32 `json:"num_unlocks"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// EncodeSnapshot converts the core's in-memory snapshot into its stored form.
// Slices are sorted so equal states encode to equal bytes.
func EncodeSnapshot(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	data := &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		LastTimestampUs: microsOrZero(s.LastTimestamp),
		Inflow:          make(map[string]string, len(s.Inflow)),
		Outflow:         make(map[string]string, len(s.Outflow)),
		Committed:       s.Committed.Dec(),
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt.UTC(),
	}

	for key, bal := range s.Balances {
		data.Balances = append(data.Balances, BalanceSnap{
			Scope:   uint8(key.Scope),
			Holder:  key.Holder.String(),
			SubType: uint8(key.SubType),
			AssetID: uint16(key.AssetID),
			Amount:  bal.Dec(),
		})
	}
	sort.Slice(data.Balances, func(i, j int) bool {
		a, b := data.Balances[i], data.Balances[j]
		if a.AssetID != b.AssetID {
			return a.AssetID < b.AssetID
		}
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if a.SubType != b.SubType {
			return a.SubType < b.SubType
		}
		return a.Holder < b.Holder
	})

	for id, v := range s.Inflow {
		name, _ := ledger.GetAssetName(id)
		data.Inflow[name] = v.Dec()
	}
	for id, v := range s.Outflow {
		name, _ := ledger.GetAssetName(id)
		data.Outflow[name] = v.Dec()
	}

	for _, r := range s.Records {
		data.Records = append(data.Records, RecordSnap{
			Identity:          r.Identity.String(),
			TotalAllocated:    r.TotalAllocated.Dec(),
			LiquidBalance:     r.LiquidBalance.Dec(),
			PendingForClaim:   r.PendingForClaim.Dec(),
			LockedAtVestStart: r.LockedAtVestStart.Dec(),
			VestStartUs:       microsOrZero(r.VestStart),
			LastClaimAtUs:     microsOrZero(r.LastClaimAt),
			NumUnlocks:        r.NumUnlocks,
		})
	}
	return data
}

// Decode converts a stored snapshot back into core state.
func (d *SnapshotData) Decode() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("state hash is %d bytes", len(d.StateHash))
	}

	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		LastTimestamp:   timeOrZero(d.LastTimestampUs),
		Balances:        make(map[ledger.AccountKey]uint256.Int, len(d.Balances)),
		Inflow:          make(map[ledger.AssetID]uint256.Int, len(d.Inflow)),
		Outflow:         make(map[ledger.AssetID]uint256.Int, len(d.Outflow)),
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)

	var err error
	parse := func(field, v string, dst *uint256.Int) {
		if err != nil {
			return
		}
		var n *uint256.Int
		if n, err = uint256.FromDecimal(v); err != nil {
			err = fmt.Errorf("%s %q: %w", field, v, err)
			return
		}
		dst.Set(n)
	}

	parse("committed", d.Committed, &s.Committed)

	for _, b := range d.Balances {
		key := ledger.AccountKey{
			Scope:   ledger.AccountScope(b.Scope),
			Holder:  event.Identity(b.Holder),
			SubType: ledger.AccountSubType(b.SubType),
			AssetID: ledger.AssetID(b.AssetID),
		}
		var v uint256.Int
		parse("balance "+key.AccountPath(), b.Amount, &v)
		s.Balances[key] = v
	}

	boundary := func(src map[string]string, dst map[ledger.AssetID]uint256.Int, field string) {
		for name, amount := range src {
			id, ok := ledger.GetAssetID(name)
			if !ok {
				if err == nil {
					err = fmt.Errorf("%s: unknown asset %q", field, name)
				}
				return
			}
			var v uint256.Int
			parse(field+" "+name, amount, &v)
			dst[id] = v
		}
	}
	boundary(d.Inflow, s.Inflow, "inflow")
	boundary(d.Outflow, s.Outflow, "outflow")

	for _, r := range d.Records {
		rec := state.ParticipantRecord{
			Identity:    event.Identity(r.Identity),
			VestStart:   timeOrZero(r.VestStartUs),
			LastClaimAt: timeOrZero(r.LastClaimAtUs),
			NumUnlocks:  r.NumUnlocks,
		}
		parse("total_allocated", r.TotalAllocated, &rec.TotalAllocated)
		parse("liquid_balance", r.LiquidBalance, &rec.LiquidBalance)
		parse("pending_for_claim", r.PendingForClaim, &rec.PendingForClaim)
		parse("locked_at_vest_start", r.LockedAtVestStart, &rec.LockedAtVestStart)
		s.Records = append(s.Records, rec)
	}

	if err != nil {
		return nil, fmt.Errorf("decode snapshot %d: %w", d.Sequence, err)
	}
	return s, nil
}

// SaveSnapshot persists a snapshot unverified. It returns the encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), snap.Sequence, string(data), snap.StateHash, snapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot. It returns
// nil, nil on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, snapshotFormatVersion)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified once its state hash has been
// checked against the event log.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// StateHashAt returns the logged state hash for sequence.
func (sm *SnapshotManager) StateHashAt(ctx context.Context, sequence int64) ([]byte, error) {
	var hash []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM event_log.events WHERE sequence = $1
	`, sequence).Scan(&hash)
	if err != nil {
		return nil, fmt.Errorf("state hash at %d: %w", sequence, err)
	}
	return hash, nil
}

// LoadEventsFrom loads up to limit events starting at fromSequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, caller, payload,
		       state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Caller, &e.Payload,
			&e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest logged sequence, or -1 when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

func microsOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func timeOrZero(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}
