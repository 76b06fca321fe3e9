package store

import (
	"database/sql"
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `CREATE TABLE IF NOT EXISTS flags (
	key TEXT PRIMARY KEY,
	value INTEGER NOT NULL,
	value_crc INTEGER NOT NULL,
	backup INTEGER NOT NULL,
	backup_crc INTEGER NOT NULL
)`

// FlagStore keeps small integer flags with a primary and a backup copy, each
// guarded by a CRC32.
type FlagStore struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
}

// OpenFlagStore opens (or creates) the flag database. Use ":memory:" for a
// volatile store.
func OpenFlagStore(path string, logger *zap.Logger) (*FlagStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlagStore{db: db, logger: logger}, nil
}

func (s *FlagStore) Close() error {
	return s.db.Close()
}

func checksum(key string, value int) uint32 {
	return crc32.ChecksumIEEE([]byte(key + "=" + strconv.Itoa(value)))
}

// LoadFlag returns the stored value. A corrupted primary is restored from the
// backup; when both copies are bad the default is written back.
func (s *FlagStore) LoadFlag(key string, defaultValue int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value, backup int
	var valueCRC, backupCRC int64
	err := s.db.QueryRow(`SELECT value, value_crc, backup, backup_crc FROM flags WHERE key = ?`, key).
		Scan(&value, &valueCRC, &backup, &backupCRC)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultValue
	}
	if err != nil {
		s.logger.Warn("store: could not read flag", zap.String("key", key), zap.Error(err))
		return defaultValue
	}

	primaryOk := uint32(valueCRC) == checksum(key, value)
	backupOk := uint32(backupCRC) == checksum(key, backup)
	switch {
	case primaryOk:
		if !backupOk || backup != value {
			s.logger.Warn("store: backup copy repaired", zap.String("key", key))
			s.repair(key, value)
		}
		return value
	case backupOk:
		s.logger.Warn("store: primary copy corrupted, restored from backup", zap.String("key", key))
		s.repair(key, backup)
		return backup
	default:
		s.logger.Error("store: both copies corrupted, using default", zap.String("key", key), zap.Int("default", defaultValue))
		s.repair(key, defaultValue)
		return defaultValue
	}
}

func (s *FlagStore) SaveFlag(key string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(key, value)
}

// save writes the backup copy first, then the primary.
func (s *FlagStore) repair(key string, value int) {
	if err := s.save(key, value); err != nil {
		s.logger.Warn("store: could not repair flag", zap.String("key", key), zap.Error(err))
	}
}

func (s *FlagStore) save(key string, value int) error {
	crc := int64(checksum(key, value))
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO flags (key, value, value_crc, backup, backup_crc) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET backup = excluded.backup, backup_crc = excluded.backup_crc`,
		key, value, crc, value, crc)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("write backup flag %s: %w", key, err)
	}
	_, err = tx.Exec(`UPDATE flags SET value = ?, value_crc = ? WHERE key = ?`, value, crc, key)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("write flag %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *FlagStore) EraseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM flags`); err != nil {
		return fmt.Errorf("erase flags: %w", err)
	}
	s.logger.Info("store: all flags erased")
	return nil
}
