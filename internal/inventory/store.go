// Package inventory maintains the three denomination-keyed quantity tables —
// banknotes, coins-in-tubes, coins-in-cashbox — with write-through,
// crash-safe persistence.
package inventory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/itbees/mdbctl/internal/logger"
	"go.uber.org/zap"
)

// Snapshot is a deep, point-in-time copy of the three tables.
type Snapshot struct {
	Banknotes       map[int]int `json:"banknotes"`
	Coins           map[int]int `json:"coins"`
	CoinsInCashbox  map[int]int `json:"coins_in_cashbox"`
	LastUpdatedUTC  time.Time   `json:"last_updated_utc"`
}

// Store guards the three tables under one mutex and writes a durable copy
// through to disk on every mutation.
type Store struct {
	mu sync.Mutex

	banknotes      map[int]int
	coins          map[int]int
	coinsInCashbox map[int]int
	lastUpdated    time.Time

	path string
	log  *zap.Logger
}

// New returns a Store persisting to path. Load should be called once at
// startup before the store is used.
func New(path string) *Store {
	return &Store{
		banknotes:      make(map[int]int),
		coins:          make(map[int]int),
		coinsInCashbox: make(map[int]int),
		path:           path,
		log:            logger.GetModuleLogger("inventory"),
	}
}

// Load reads the persisted snapshot from disk. A missing or corrupt file
// starts the store empty and logs the failure; the process must not refuse
// to start over a bad inventory file.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("inventory load failed, starting empty", zap.Error(err))
		}
		return
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("inventory file corrupt, starting empty", zap.Error(err))
		return
	}

	s.banknotes = snap.Banknotes
	s.coins = snap.Coins
	s.coinsInCashbox = snap.CoinsInCashbox
	s.lastUpdated = snap.LastUpdatedUTC
	if s.banknotes == nil {
		s.banknotes = make(map[int]int)
	}
	if s.coins == nil {
		s.coins = make(map[int]int)
	}
	if s.coinsInCashbox == nil {
		s.coinsInCashbox = make(map[int]int)
	}
}

// RegisterBanknoteAccepted increments the banknote count for denom.
func (s *Store) RegisterBanknoteAccepted(denom int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banknotes[denom]++
	s.flushLocked()
}

// RegisterCoinAccepted increments the tube count for denom.
func (s *Store) RegisterCoinAccepted(denom int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coins[denom]++
	s.flushLocked()
}

// RegisterCoinToCashboxAccepted increments the cashbox count for denom.
func (s *Store) RegisterCoinToCashboxAccepted(denom int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coinsInCashbox[denom]++
	s.flushLocked()
}

// RegisterCoinDispensed decrements the tube count for denom, never below
// zero. When the count reaches zero the entry is removed.
func (s *Store) RegisterCoinDispensed(denom int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coins[denom] > 0 {
		s.coins[denom]--
		if s.coins[denom] == 0 {
			delete(s.coins, denom)
		}
	}
	s.flushLocked()
}

// ResetBanknotes clears the banknote table.
func (s *Store) ResetBanknotes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banknotes = make(map[int]int)
	s.flushLocked()
}

// ResetCoins clears the coins-in-tubes table.
func (s *Store) ResetCoins() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coins = make(map[int]int)
	s.flushLocked()
}

// ResetCoinsInCashbox clears the coins-in-cashbox table.
func (s *Store) ResetCoinsInCashbox() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coinsInCashbox = make(map[int]int)
	s.flushLocked()
}

// TubeCounts returns a copy of the live coins-in-tubes table, for the
// ChangePlanner and tube-status reporting.
func (s *Store) TubeCounts() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.coins)
}

// Snapshot returns a deep copy of all three tables.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Banknotes:      cloneMap(s.banknotes),
		Coins:          cloneMap(s.coins),
		CoinsInCashbox: cloneMap(s.coinsInCashbox),
		LastUpdatedUTC: s.lastUpdated,
	}
}

// Flush ensures durability of prior writes. Every mutation already writes
// through, so this rewrites the same snapshot once more; it serves callers
// that want an explicit sync point and an error they can check.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) flushLocked() {
	s.lastUpdated = time.Now().UTC()
	if err := s.persistLocked(); err != nil {
		s.log.Error("inventory persist failed", zap.Error(err))
	}
}

// persistLocked writes the current tables to a temp file in the same
// directory, then atomically renames it over the target path.
func (s *Store) persistLocked() error {
	snap := Snapshot{
		Banknotes:      s.banknotes,
		Coins:          s.coins,
		CoinsInCashbox: s.coinsInCashbox,
		LastUpdatedUTC: s.lastUpdated,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".inventory-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, s.path)
}

func cloneMap(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
