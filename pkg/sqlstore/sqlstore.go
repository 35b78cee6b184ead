// Package sqlstore implements the store interfaces from package store on
// top of a single SQLite database, generalizing the teacher's
// pkg/storage/database.go (WAL mode, PRAGMA setup, fmt.Errorf("...: %v", err)
// wrapping) from its fixed message/contact/conversation schema onto the
// session-cipher persistence tables this core needs. Session records are
// opaque to the SQL layer: they are gob-encoded blobs, since wire
// serialization of the ratchet state is explicitly out of scope for the
// core itself. Identity keys and prekeys are stored as raw key bytes.
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zentalk/ratchetcore/pkg/addr"
	"github.com/zentalk/ratchetcore/pkg/rcerr"
	"github.com/zentalk/ratchetcore/pkg/session"
	"github.com/zentalk/ratchetcore/pkg/store"
)

// Store is a SQLite-backed implementation of every store interface the
// session cipher orchestrator needs, all sharing one *sql.DB the way
// MessageDB owns a single connection for messages, contacts, and
// conversations alike.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path, enables WAL
// mode, and initializes the schema. localRegistrationID seeds the single
// local-identity row get_local_registration_id reads back.
func Open(path string, localRegistrationID uint32) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open database: %v", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: enable WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: enable foreign keys: %v", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.ensureLocalRegistrationID(localRegistrationID); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		address TEXT PRIMARY KEY,
		record BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS identities (
		address TEXT PRIMARY KEY,
		identity_key BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS local_identity (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		registration_id INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prekeys (
		id INTEGER PRIMARY KEY,
		public_key BLOB NOT NULL,
		private_key BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS signed_prekeys (
		id INTEGER PRIMARY KEY,
		public_key BLOB NOT NULL,
		private_key BLOB NOT NULL,
		signature BLOB NOT NULL,
		timestamp INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("sqlstore: create schema: %v", err)
	}
	return nil
}

func (s *Store) ensureLocalRegistrationID(id uint32) error {
	_, err := s.db.Exec(
		`INSERT INTO local_identity (id, registration_id) VALUES (1, ?)
		 ON CONFLICT(id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: seed local registration id: %v", err)
	}
	return nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("sqlstore: encode: %v", err)
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("sqlstore: decode: %v", err)
	}
	return nil
}

// LoadSession implements store.SessionStore.
func (s *Store) LoadSession(_ context.Context, address addr.ProtocolAddress) (*session.SessionRecord, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT record FROM sessions WHERE address = ?`, address.String()).Scan(&blob)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("sqlstore: load session: %v", err)
	}

	var record session.SessionRecord
	if err := decodeGob(blob, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// StoreSession implements store.SessionStore.
func (s *Store) StoreSession(_ context.Context, address addr.ProtocolAddress, record *session.SessionRecord) error {
	blob, err := encodeGob(record)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (address, record) VALUES (?, ?)
		 ON CONFLICT(address) DO UPDATE SET record = excluded.record`,
		address.String(), blob)
	if err != nil {
		return fmt.Errorf("sqlstore: store session: %v", err)
	}
	return nil
}

// IsTrustedIdentity implements store.IdentityKeyStore with trust-on-first-use
// semantics: an address with no recorded identity key trusts whatever it is
// first shown, and any later key for that address must match.
func (s *Store) IsTrustedIdentity(_ context.Context, address addr.ProtocolAddress, identityKey [32]byte, _ store.Direction) (bool, error) {
	var known []byte
	err := s.db.QueryRow(`SELECT identity_key FROM identities WHERE address = ?`, address.String()).Scan(&known)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("sqlstore: load identity: %v", err)
	}
	return bytes.Equal(known, identityKey[:]), nil
}

// SaveIdentity implements store.IdentityKeyStore.
func (s *Store) SaveIdentity(_ context.Context, address addr.ProtocolAddress, identityKey [32]byte) (bool, error) {
	var known []byte
	err := s.db.QueryRow(`SELECT identity_key FROM identities WHERE address = ?`, address.String()).Scan(&known)
	replaced := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("sqlstore: load identity: %v", err)
	default:
		replaced = !bytes.Equal(known, identityKey[:])
	}

	_, err = s.db.Exec(
		`INSERT INTO identities (address, identity_key) VALUES (?, ?)
		 ON CONFLICT(address) DO UPDATE SET identity_key = excluded.identity_key`,
		address.String(), identityKey[:])
	if err != nil {
		return false, fmt.Errorf("sqlstore: save identity: %v", err)
	}
	return replaced, nil
}

// GetLocalRegistrationID implements store.IdentityKeyStore.
func (s *Store) GetLocalRegistrationID(_ context.Context) (uint32, error) {
	var id uint32
	err := s.db.QueryRow(`SELECT registration_id FROM local_identity WHERE id = 1`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: load local registration id: %v", err)
	}
	return id, nil
}

// LoadPreKey implements store.PreKeyStore.
func (s *Store) LoadPreKey(_ context.Context, id store.PreKeyID) (*store.PreKeyRecord, error) {
	var pub, priv []byte
	err := s.db.QueryRow(`SELECT public_key, private_key FROM prekeys WHERE id = ?`, id).Scan(&pub, &priv)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, rcerr.ErrSessionNotFound
	case err != nil:
		return nil, fmt.Errorf("sqlstore: load prekey: %v", err)
	}

	rec := &store.PreKeyRecord{ID: id}
	copy(rec.PublicKey[:], pub)
	copy(rec.PrivateKey[:], priv)
	return rec, nil
}

// StorePreKey implements store.PreKeyStore.
func (s *Store) StorePreKey(_ context.Context, id store.PreKeyID, record *store.PreKeyRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO prekeys (id, public_key, private_key) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET public_key = excluded.public_key, private_key = excluded.private_key`,
		id, record.PublicKey[:], record.PrivateKey[:])
	if err != nil {
		return fmt.Errorf("sqlstore: store prekey: %v", err)
	}
	return nil
}

// RemovePreKey implements store.PreKeyStore.
func (s *Store) RemovePreKey(_ context.Context, id store.PreKeyID) error {
	if _, err := s.db.Exec(`DELETE FROM prekeys WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlstore: remove prekey: %v", err)
	}
	return nil
}

// ContainsPreKey implements store.PreKeyStore.
func (s *Store) ContainsPreKey(_ context.Context, id store.PreKeyID) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM prekeys WHERE id = ?`, id).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("sqlstore: check prekey: %v", err)
	}
	return true, nil
}

// LoadSignedPreKey implements store.SignedPreKeyStore.
func (s *Store) LoadSignedPreKey(_ context.Context, id uint32) (*store.SignedPreKeyRecord, error) {
	var pub, priv, sig []byte
	var timestamp uint64
	err := s.db.QueryRow(
		`SELECT public_key, private_key, signature, timestamp FROM signed_prekeys WHERE id = ?`, id,
	).Scan(&pub, &priv, &sig, &timestamp)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, rcerr.ErrSessionNotFound
	case err != nil:
		return nil, fmt.Errorf("sqlstore: load signed prekey: %v", err)
	}

	rec := &store.SignedPreKeyRecord{ID: id, Timestamp: timestamp}
	copy(rec.PublicKey[:], pub)
	copy(rec.PrivateKey[:], priv)
	copy(rec.Signature[:], sig)
	return rec, nil
}

// StoreSignedPreKey implements store.SignedPreKeyStore.
func (s *Store) StoreSignedPreKey(_ context.Context, id uint32, record *store.SignedPreKeyRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO signed_prekeys (id, public_key, private_key, signature, timestamp) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   public_key = excluded.public_key,
		   private_key = excluded.private_key,
		   signature = excluded.signature,
		   timestamp = excluded.timestamp`,
		id, record.PublicKey[:], record.PrivateKey[:], record.Signature[:], record.Timestamp)
	if err != nil {
		return fmt.Errorf("sqlstore: store signed prekey: %v", err)
	}
	return nil
}

// ContainsSignedPreKey implements store.SignedPreKeyStore.
func (s *Store) ContainsSignedPreKey(_ context.Context, id uint32) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM signed_prekeys WHERE id = ?`, id).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("sqlstore: check signed prekey: %v", err)
	}
	return true, nil
}
