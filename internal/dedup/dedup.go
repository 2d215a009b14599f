// Package dedup provides single-use fingerprint checks per (kind, id) within
// a TTL window, built directly on the cache's GetAndUpdate so at most one
// caller ever observes a fingerprint as new.
package dedup

import (
	"log/slog"
	"sync/atomic"
	"time"

	"go-wanderer/pkg/cache"
)

// Result of a fingerprint check.
type Result int

const (
	New Result = iota
	Duplicate
)

func (r Result) String() string {
	if r == New {
		return "new"
	}
	return "duplicate"
}

// Entity kinds used as fingerprint namespaces.
const (
	KindSystem    = "system"
	KindCharacter = "character"
	KindRally     = "rally"
	KindKill      = "kill"
)

// Kill outcome statuses recorded against a fingerprint.
const (
	StatusNotified = "notified"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

// KillStatus is the recorded outcome for a processed killmail.
type KillStatus struct {
	Status string
	Reason string
}

// Service implements the deduplicator over the shared cache.
type Service struct {
	cache *cache.Cache
	ttl   time.Duration

	total      atomic.Int64
	duplicates atomic.Int64
}

// StatsSnapshot feeds the telemetry collector.
type StatsSnapshot struct {
	Total      int64   `json:"total"`
	Duplicates int64   `json:"duplicates"`
	Rate       float64 `json:"rate"`
}

// NewService creates a deduplicator with the given fingerprint TTL
// (24 h in production).
func NewService(store *cache.Cache, ttl time.Duration) *Service {
	return &Service{cache: store, ttl: ttl}
}

// Check records the first observation of (kind, id) and returns New; every
// later observation within the TTL returns Duplicate. Strictly: only an
// absent entry is new; any present value, whatever its shape, is a
// duplicate.
func (s *Service) Check(kind string, id int64) Result {
	s.total.Add(1)
	key := cache.DedupKey(kind, id)

	res := s.cache.GetAndUpdate(key, func(current any, present bool) (cache.UpdateResult, any) {
		if present {
			return cache.UpdateResult{}, Duplicate
		}
		return cache.UpdateResult{Value: true, TTL: s.ttl, Store: true}, New
	})

	result := res.(Result)
	if result == Duplicate {
		s.duplicates.Add(1)
		slog.Debug("Duplicate fingerprint", "kind", kind, "id", id)
	}
	return result
}

// MarkKillStatus overwrites the kill fingerprint with its outcome so later
// checks can report why the killmail was or was not notified. The entry keeps
// the dedup TTL.
func (s *Service) MarkKillStatus(id int64, status, reason string) {
	s.cache.Set(cache.DedupKey(KindKill, id), KillStatus{Status: status, Reason: reason}, s.ttl)
}

// CheckKillWithStatus behaves like Check for the kill kind but also returns
// the recorded outcome when the fingerprint carries one.
func (s *Service) CheckKillWithStatus(id int64) (Result, *KillStatus) {
	s.total.Add(1)
	key := cache.DedupKey(KindKill, id)

	type resultWithStatus struct {
		result Result
		status *KillStatus
	}

	res := s.cache.GetAndUpdate(key, func(current any, present bool) (cache.UpdateResult, any) {
		if !present {
			return cache.UpdateResult{Value: true, TTL: s.ttl, Store: true}, resultWithStatus{result: New}
		}
		out := resultWithStatus{result: Duplicate}
		if st, ok := current.(KillStatus); ok {
			out.status = &st
		}
		return cache.UpdateResult{}, out
	})

	rs := res.(resultWithStatus)
	if rs.result == Duplicate {
		s.duplicates.Add(1)
	}
	return rs.result, rs.status
}

// Stats returns the running dedup counters and rate (percent).
func (s *Service) Stats() StatsSnapshot {
	total := s.total.Load()
	dups := s.duplicates.Load()
	rate := 0.0
	if total > 0 {
		rate = float64(dups) / float64(total) * 100
	}
	return StatsSnapshot{Total: total, Duplicates: dups, Rate: rate}
}
