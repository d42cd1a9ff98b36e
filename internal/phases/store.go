package phases

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seraface/seraface/internal/storage"
)

const phaseCollection = "phase_data"

// Store persists phase payloads per session. Keys are "<session>/<phaseN>";
// records expire lazily after the retention window and a sweep reclaims the
// rows.
type Store struct {
	store *storage.Store
	ttl   time.Duration
}

func NewStore(store *storage.Store) *Store {
	return &Store{store: store, ttl: 90 * 24 * time.Hour}
}

// NewSessionID mints an identifier for a new workflow session.
func NewSessionID() string {
	return uuid.NewString()
}

func phaseKey(sessionID string, p Phase) string {
	return sessionID + "/" + p.Name()
}

// record wraps a phase payload with its session metadata.
type record struct {
	SessionID string    `json:"session_id"`
	Phase     string    `json:"phase"`
	Data      any       `json:"data"`
	SavedAt   time.Time `json:"saved_at"`
}

// loadedRecord mirrors record with the payload left raw for the caller to
// decode into its phase type.
type loadedRecord struct {
	SessionID string          `json:"session_id"`
	Phase     string          `json:"phase"`
	Data      json.RawMessage `json:"data"`
	SavedAt   time.Time       `json:"saved_at"`
}

// SavePhase writes the payload for one phase of a session. Re-running a phase
// replaces the previous payload and refreshes its expiry.
func (s *Store) SavePhase(sessionID string, p Phase, data any) error {
	if sessionID == "" {
		return fmt.Errorf("saving %s: empty session id", p.Name())
	}
	rec := record{
		SessionID: sessionID,
		Phase:     p.Name(),
		Data:      data,
		SavedAt:   time.Now().UTC(),
	}
	if err := s.store.Put(phaseCollection, phaseKey(sessionID, p), rec, s.ttl); err != nil {
		return fmt.Errorf("saving %s for session %s: %w", p.Name(), sessionID, err)
	}
	return nil
}

// LoadPhase decodes a stored phase payload into dest. Returns
// storage.ErrNotFound when the phase was never saved or has expired.
func (s *Store) LoadPhase(sessionID string, p Phase, dest any) error {
	var rec loadedRecord
	if err := s.store.Get(phaseCollection, phaseKey(sessionID, p), &rec); err != nil {
		return err
	}
	if err := json.Unmarshal(rec.Data, dest); err != nil {
		return fmt.Errorf("decoding %s for session %s: %w", p.Name(), sessionID, err)
	}
	return nil
}

// HasPhase reports whether a live payload exists for the phase.
func (s *Store) HasPhase(sessionID string, p Phase) (bool, error) {
	var rec loadedRecord
	err := s.store.Get(phaseCollection, phaseKey(sessionID, p), &rec)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// SessionExists reports whether any live phase data exists for the session.
func (s *Store) SessionExists(sessionID string) (bool, error) {
	for _, p := range AllPhases {
		ok, err := s.HasPhase(sessionID, p)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// SessionStatus summarizes which phases a session has completed. NextPhase
// names the earliest phase still missing, empty once the workflow is done.
type SessionStatus struct {
	SessionID string          `json:"session_id"`
	Phases    map[string]bool `json:"phases"`
	Completed bool            `json:"completed"`
	Progress  float64         `json:"progress"`
	NextPhase string          `json:"next_phase,omitempty"`
}

// Status reports per-phase completion for a session. A session with no live
// data yields zero progress rather than an error.
func (s *Store) Status(sessionID string) (SessionStatus, error) {
	status := SessionStatus{
		SessionID: sessionID,
		Phases:    make(map[string]bool, len(AllPhases)),
	}
	done := 0
	for _, p := range AllPhases {
		ok, err := s.HasPhase(sessionID, p)
		if err != nil {
			return SessionStatus{}, err
		}
		status.Phases[p.Name()] = ok
		if ok {
			done++
		} else if status.NextPhase == "" {
			status.NextPhase = p.Name()
		}
	}
	status.Completed = done == len(AllPhases)
	status.Progress = float64(done) / float64(len(AllPhases)) * 100
	return status, nil
}

// DeleteResult reports what a session deletion removed.
type DeleteResult struct {
	DeletedPhases []string `json:"deleted_phases"`
	TotalDeleted  int      `json:"total_deleted"`
}

// DeleteSession removes all phase data for a session.
func (s *Store) DeleteSession(sessionID string) (DeleteResult, error) {
	var res DeleteResult
	for _, p := range AllPhases {
		removed, err := s.store.Delete(phaseCollection, phaseKey(sessionID, p))
		if err != nil {
			return DeleteResult{}, fmt.Errorf("deleting %s for session %s: %w", p.Name(), sessionID, err)
		}
		if removed {
			res.DeletedPhases = append(res.DeletedPhases, p.Name())
			res.TotalDeleted++
		}
	}
	return res, nil
}

// SweepExpired deletes phase records past their retention window and reports
// how many each phase lost.
func (s *Store) SweepExpired() (map[string]int, error) {
	keys, err := s.store.DeleteExpired(phaseCollection)
	if err != nil {
		return nil, fmt.Errorf("sweeping phase data: %w", err)
	}
	counts := make(map[string]int, len(AllPhases))
	for _, p := range AllPhases {
		counts[p.Name()] = 0
	}
	for _, key := range keys {
		if _, phase, ok := strings.Cut(key, "/"); ok {
			counts[phase]++
		}
	}
	return counts, nil
}

// ListSessions returns the distinct session ids with live phase data, sorted.
func (s *Store) ListSessions() ([]string, error) {
	keys, err := s.store.ScanKeys(phaseCollection, nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var sessions []string
	for _, key := range keys {
		id, _, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions, nil
}
