// Package redis keeps pending authorizations in Redis so several gate
// processes can share one correlation registry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/identity"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

const (
	defaultPrefix = "gatekeeper:pending"
	maxTxRetries  = 8
)

// errConflict aborts a WATCH transaction whose entry changed underneath it.
var errConflict = errors.New("pending entry changed concurrently")

// record is the stored form of an entry. Unlike store.PendingEntry it
// keeps the ID number and the registration sequence.
type record struct {
	ID              string              `json:"id"`
	SessionID       string              `json:"session_id"`
	NormalizedPhone string              `json:"phone"`
	Unit            string              `json:"unit"`
	VisitorName     string              `json:"visitor_name,omitempty"`
	IDNumber        string              `json:"id_number,omitempty"`
	Plate           string              `json:"plate,omitempty"`
	Status          store.PendingStatus `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
	RespondedAt     *time.Time          `json:"responded_at,omitempty"`
	CustomMessage   string              `json:"custom_message,omitempty"`
	Escalated       bool                `json:"escalated,omitempty"`
	Seq             int64               `json:"seq"`
}

func (r record) entry() store.PendingEntry {
	return store.PendingEntry{
		ID:              r.ID,
		SessionID:       r.SessionID,
		NormalizedPhone: r.NormalizedPhone,
		Unit:            r.Unit,
		VisitorName:     r.VisitorName,
		IDNumber:        r.IDNumber,
		Plate:           r.Plate,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		RespondedAt:     r.RespondedAt,
		CustomMessage:   r.CustomMessage,
		Escalated:       r.Escalated,
	}
}

// PendingStore implements store.PendingStore on Redis.
//
// Keys, under prefix:
//
//	entry:{id}      JSON record
//	session:{sid}   entry id owned by the session (SETNX)
//	created         sorted set of entry ids scored by created_at (µs)
//	unit:{unit}     set of entry ids for a unit
//	seq             registration counter
//
// Every mutation of an entry runs in a WATCH/MULTI transaction on its key.
type PendingStore struct {
	rdb    goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewPendingStore wraps rdb. An empty prefix uses "gatekeeper:pending";
// now defaults to time.Now.
func NewPendingStore(rdb goredis.UniversalClient, prefix string, now func() time.Time) *PendingStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &PendingStore{rdb: rdb, prefix: strings.TrimSuffix(prefix, ":"), now: now}
}

func (s *PendingStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *PendingStore) entryKey(id string) string    { return s.key("entry", id) }
func (s *PendingStore) sessionKey(sid string) string { return s.key("session", sid) }
func (s *PendingStore) unitKey(unit string) string   { return s.key("unit", unit) }
func (s *PendingStore) createdKey() string           { return s.key("created") }
func (s *PendingStore) seqKey() string               { return s.key("seq") }

func score(t time.Time) float64 { return float64(t.UTC().UnixMicro()) }

// below is the exclusive ZRANGEBYSCORE bound for entries created before t.
func below(t time.Time) string { return "(" + strconv.FormatInt(t.UTC().UnixMicro(), 10) }

func (s *PendingStore) Register(ctx context.Context, reg store.PendingRegistration) (string, error) {
	sessionID := strings.TrimSpace(reg.SessionID)
	if sessionID == "" {
		return "", store.ErrMissingSession
	}
	created := reg.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	id := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, s.sessionKey(sessionID), id, 0).Result()
	if err != nil {
		return "", fmt.Errorf("Register claim session: %w", err)
	}
	if !ok {
		return "", store.ErrDuplicateSession
	}

	seq, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		_ = s.rdb.Del(ctx, s.sessionKey(sessionID)).Err()
		return "", fmt.Errorf("Register sequence: %w", err)
	}

	rec := record{
		ID:              id,
		SessionID:       sessionID,
		NormalizedPhone: identity.NormalizePhone(reg.Phone),
		Unit:            identity.NormalizeUnit(reg.Unit),
		VisitorName:     strings.TrimSpace(reg.VisitorName),
		IDNumber:        strings.TrimSpace(reg.IDNumber),
		Plate:           identity.NormalizePlate(reg.Plate),
		Status:          store.StatusPending,
		CreatedAt:       created.UTC(),
		Seq:             seq,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		_ = s.rdb.Del(ctx, s.sessionKey(sessionID)).Err()
		return "", fmt.Errorf("Register encode: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(id), data, 0)
		pipe.ZAdd(ctx, s.createdKey(), goredis.Z{Score: score(rec.CreatedAt), Member: id})
		if rec.Unit != "" {
			pipe.SAdd(ctx, s.unitKey(rec.Unit), id)
		}
		return nil
	})
	if err != nil {
		_ = s.rdb.Del(ctx, s.sessionKey(sessionID)).Err()
		return "", fmt.Errorf("Register write: %w", err)
	}
	return id, nil
}

// load fetches the records for ids, skipping any deleted in between.
func (s *PendingStore) load(ctx context.Context, ids []string) ([]record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	out := make([]record, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// collect returns the entries accepted by keep, newest first with ties
// broken by registration order.
func collect(recs []record, keep func(record) bool) []store.PendingEntry {
	kept := make([]record, 0, len(recs))
	for _, r := range recs {
		if keep(r) {
			kept = append(kept, r)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if !kept[i].CreatedAt.Equal(kept[j].CreatedAt) {
			return kept[i].CreatedAt.After(kept[j].CreatedAt)
		}
		return kept[i].Seq > kept[j].Seq
	})
	out := make([]store.PendingEntry, len(kept))
	for i, r := range kept {
		out[i] = r.entry()
	}
	return out
}

func (s *PendingStore) all(ctx context.Context) ([]record, error) {
	ids, err := s.rdb.ZRange(ctx, s.createdKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return s.load(ctx, ids)
}

func (s *PendingStore) FindByPhone(ctx context.Context, raw string) (store.PendingEntry, bool, error) {
	if identity.NormalizePhone(raw) == "" {
		return store.PendingEntry{}, false, nil
	}
	recs, err := s.all(ctx)
	if err != nil {
		return store.PendingEntry{}, false, err
	}
	found := collect(recs, func(r record) bool {
		return r.Status == store.StatusPending && identity.PhonesMatch(r.NormalizedPhone, raw)
	})
	if len(found) == 0 {
		return store.PendingEntry{}, false, nil
	}
	return found[0], true, nil
}

func (s *PendingStore) FindByUnit(ctx context.Context, raw string) (store.PendingEntry, bool, error) {
	found, err := s.ListByUnit(ctx, raw)
	if err != nil || len(found) == 0 {
		return store.PendingEntry{}, false, err
	}
	return found[0], true, nil
}

func (s *PendingStore) ListByUnit(ctx context.Context, raw string) ([]store.PendingEntry, error) {
	unit := identity.NormalizeUnit(raw)
	if unit == "" {
		return nil, nil
	}
	ids, err := s.rdb.SMembers(ctx, s.unitKey(unit)).Result()
	if err != nil {
		return nil, fmt.Errorf("ListByUnit: %w", err)
	}
	recs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return collect(recs, func(r record) bool {
		return r.Status == store.StatusPending && r.Unit == unit
	}), nil
}

// mutate applies fn to the entry under WATCH. fn reports whether it
// changed the record; returning false leaves the entry as is.
func (s *PendingStore) mutate(ctx context.Context, entryID string, fn func(*record) bool) (bool, error) {
	key := s.entryKey(entryID)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		changed := false
		err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, goredis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			var rec record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			if !fn(&rec) {
				return nil
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			if err == nil {
				changed = true
			}
			return err
		}, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return changed, nil
	}
	return false, errConflict
}

func (s *PendingStore) UpdateStatus(ctx context.Context, entryID string, status store.PendingStatus, message string) (bool, error) {
	return s.mutate(ctx, entryID, func(r *record) bool {
		if r.Status != store.StatusPending {
			return false
		}
		t := s.now().UTC()
		r.Status = status
		r.RespondedAt = &t
		r.CustomMessage = message
		return true
	})
}

func (s *PendingStore) Reopen(ctx context.Context, entryID string) (bool, error) {
	return s.mutate(ctx, entryID, func(r *record) bool {
		if r.Status == store.StatusPending {
			return false
		}
		r.Status = store.StatusPending
		r.RespondedAt = nil
		r.CustomMessage = ""
		return true
	})
}

func (s *PendingStore) MarkEscalated(ctx context.Context, entryID string) (bool, error) {
	return s.mutate(ctx, entryID, func(r *record) bool {
		if r.Status != store.StatusPending || r.Escalated {
			return false
		}
		r.Escalated = true
		return true
	})
}

func (s *PendingStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]store.PendingEntry, error) {
	ids, err := s.idsBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	recs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return collect(recs, func(r record) bool { return r.Status == store.StatusPending }), nil
}

func (s *PendingStore) idsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.createdKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: below(cutoff),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range by created_at: %w", err)
	}
	return ids, nil
}

// remove deletes the entry and its index memberships when keep accepts
// the current record. It returns the removed record.
func (s *PendingStore) remove(ctx context.Context, entryID string, keep func(record) bool) (record, bool, error) {
	key := s.entryKey(entryID)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var removed record
		ok := false
		err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, goredis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			var rec record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			if keep != nil && !keep(rec) {
				return nil
			}
			owner, err := tx.Get(ctx, s.sessionKey(rec.SessionID)).Result()
			if err != nil && !errors.Is(err, goredis.Nil) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, s.createdKey(), entryID)
				if rec.Unit != "" {
					pipe.SRem(ctx, s.unitKey(rec.Unit), entryID)
				}
				if owner == entryID {
					pipe.Del(ctx, s.sessionKey(rec.SessionID))
				}
				return nil
			})
			if err == nil {
				removed, ok = rec, true
			}
			return err
		}, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return record{}, false, err
		}
		return removed, ok, nil
	}
	return record{}, false, errConflict
}

func (s *PendingStore) Delete(ctx context.Context, entryID string) error {
	_, _, err := s.remove(ctx, entryID, nil)
	return err
}

func (s *PendingStore) DeleteBySession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	id, err := s.rdb.Get(ctx, s.sessionKey(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("DeleteBySession: %w", err)
	}
	if _, ok, err := s.remove(ctx, id, nil); err != nil || ok {
		return err
	}
	// Claim without an entry: registration failed halfway.
	return s.rdb.Del(ctx, s.sessionKey(sessionID)).Err()
}

func (s *PendingStore) ClearUnitDecisions(ctx context.Context, raw string) (int, error) {
	unit := identity.NormalizeUnit(raw)
	if unit == "" {
		return 0, nil
	}
	ids, err := s.rdb.SMembers(ctx, s.unitKey(unit)).Result()
	if err != nil {
		return 0, fmt.Errorf("ClearUnitDecisions: %w", err)
	}
	cleared := 0
	for _, id := range ids {
		_, ok, err := s.remove(ctx, id, func(r record) bool { return r.Status != store.StatusPending })
		if err != nil {
			return cleared, err
		}
		if ok {
			cleared++
		}
	}
	return cleared, nil
}

func (s *PendingStore) Sweep(ctx context.Context, cutoff time.Time) ([]store.PendingEntry, error) {
	ids, err := s.idsBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	var swept []store.PendingEntry
	for _, id := range ids {
		rec, ok, err := s.remove(ctx, id, func(r record) bool { return r.CreatedAt.Before(cutoff) })
		if err != nil {
			return swept, err
		}
		if !ok {
			continue
		}
		if rec.Status == store.StatusPending {
			rec.Status = store.StatusExpired
		}
		swept = append(swept, rec.entry())
	}
	return swept, nil
}

func (s *PendingStore) List(ctx context.Context) ([]store.PendingEntry, error) {
	recs, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return collect(recs, func(record) bool { return true }), nil
}
