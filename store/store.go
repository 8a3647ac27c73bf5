// SpacePanda - privacy-first peer-to-peer encrypted group messaging
// Copyright (C) 2025 spacepanda-project
//
// This file is part of SpacePanda.
//
// SpacePanda is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SpacePanda is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SpacePanda. If not, see <https://www.gnu.org/licenses/>.

// Package store persists a channel's CRDT state as an AEAD-encrypted,
// append-only commit log plus periodic snapshots, behind a pluggable
// Backend (in-memory, flat-file, or Postgres via store/pgstore).
package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"

	pandacrypto "github.com/spacepanda/core/crypto"
	"github.com/spacepanda/core/crdt"
	"github.com/spacepanda/core/internal/metrics"
)

const currentSchemaVersion uint8 = 1

// Argon2id parameters for the per-store key, matching crypto/keystore's
// floor values.
const (
	argonTime    uint32 = 2
	argonMemory  uint32 = 19 * 1024
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// Errors returned by Store operations.
var (
	ErrInvalidSignature = errors.New("store: operation failed signature verification, not applied")
	ErrNoSnapshot       = errors.New("store: no snapshot available")
)

// State is the CRDT-backed state a Store persists. A caller's channel
// state (built from crdt.ORSet/ORMap/LWWRegister) implements this to
// let Store snapshot and restore it opaquely, without Store needing to
// know its concrete shape.
type State interface {
	crdt.CRDT
	MarshalState() ([]byte, error)
	UnmarshalState([]byte) error
}

// ApplyFunc interprets an opaque operation against state. It must
// follow the same verify-before-mutate contract as the crdt package's
// own Add/Remove/Set/Put: return ErrInvalidSignature (or wrap it)
// without having mutated state when meta fails authentication.
type ApplyFunc func(state State, op []byte, meta crdt.OperationMetadata) error

// Entry is one commit-log record. VC and SchemaVersion are kept in
// the clear alongside the encrypted op payload so iterate_after can
// filter without a decrypt pass; Ciphertext only holds op bytes plus the
// signature metadata needed to reapply it during replay.
type Entry struct {
	SeqNo         uint64
	SchemaVersion uint8
	VC            crdt.VectorClock
	Nonce         []byte
	Ciphertext    []byte
}

// Snapshot is the encrypted, point-in-time serialization of a State.
type Snapshot struct {
	SeqNo         uint64
	SchemaVersion uint8
	VC            crdt.VectorClock
	Nonce         []byte
	Ciphertext    []byte
}

// Backend is the durable storage a Store writes through. Implementations
// must make WriteSnapshot atomic with respect to concurrent readers:
// LatestSnapshot must never observe a partially written snapshot.
type Backend interface {
	AppendEntry(entry Entry) error
	EntriesAfter(seqNo uint64) ([]Entry, error)
	WriteSnapshot(snap Snapshot) error
	LatestSnapshot() (Snapshot, bool, error)
	TruncateBefore(seqNo uint64) error
}

// encodedOp is what an entry's ciphertext decrypts to: the raw op
// bytes the caller's ApplyFunc knows how to interpret, alongside the
// metadata needed to both reapply it during replay and re-verify its
// signature.
type encodedOp struct {
	op   []byte
	meta crdt.OperationMetadata
}

// Store ties a State, an ApplyFunc, and a Backend together with the
// per-store AEAD key.
type Store struct {
	mu      sync.Mutex
	state   State
	apply   ApplyFunc
	backend Backend
	aead    cipher.AEAD
	seq     uint64

	corruptEntries   int
	corruptSnapshots int
}

// New creates a Store. ownerIdentity and passphrase together derive
// the per-store encryption key via Argon2id, the same construction
// crypto/keystore uses for key-at-rest: ownerIdentity fixes the salt,
// passphrase supplies the secret.
func New(state State, apply ApplyFunc, backend Backend, ownerIdentity, passphrase []byte) (*Store, error) {
	aead, err := newAEAD(ownerIdentity, passphrase)
	if err != nil {
		return nil, err
	}
	return &Store{state: state, apply: apply, backend: backend, aead: aead}, nil
}

func newAEAD(ownerIdentity, passphrase []byte) (cipher.AEAD, error) {
	salt := sha256.Sum256(ownerIdentity)
	key := argon2.IDKey(passphrase, salt[:], argonTime, argonMemory, argonThreads, argonKeyLen)
	defer pandacrypto.ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("store: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("store: new gcm: %w", err)
	}
	return aead, nil
}

// Load reads the latest valid snapshot (if any) and replays every
// commit-log entry after it. Corrupt snapshot/entry records are
// skipped with a counter increment, never silently accepted as valid
// state.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frontier := uint64(0)
	snap, ok, err := s.backend.LatestSnapshot()
	if err != nil {
		return fmt.Errorf("store: read latest snapshot: %w", err)
	}
	if ok {
		plaintext, openErr := s.aead.Open(nil, snap.Nonce, snap.Ciphertext, nil)
		if openErr != nil {
			s.corruptSnapshots++
			metrics.StoreCorruptSnapshots.Inc()
		} else if err := s.state.UnmarshalState(plaintext); err != nil {
			s.corruptSnapshots++
			metrics.StoreCorruptSnapshots.Inc()
		} else {
			frontier = snap.SeqNo
		}
	}

	entries, err := s.backend.EntriesAfter(frontier)
	if err != nil {
		return fmt.Errorf("store: read entries: %w", err)
	}
	for _, entry := range entries {
		plaintext, openErr := s.aead.Open(nil, entry.Nonce, entry.Ciphertext, nil)
		if openErr != nil {
			s.corruptEntries++
			metrics.StoreCorruptEntries.Inc()
			continue
		}
		decoded, decodeErr := decodeOp(plaintext)
		if decodeErr != nil {
			s.corruptEntries++
			metrics.StoreCorruptEntries.Inc()
			continue
		}
		if err := s.apply(s.state, decoded.op, decoded.meta); err != nil {
			// A replayed entry that no longer verifies (e.g. a
			// revoked author key) is skipped, not fatal: the log is
			// an append-only record of what was attempted, not a
			// guarantee every entry still authenticates today.
			s.corruptEntries++
			metrics.StoreCorruptEntries.Inc()
			continue
		}
		if entry.SeqNo > s.seq {
			s.seq = entry.SeqNo
		}
	}
	return nil
}

// Apply runs op through the store's ApplyFunc; on success it is
// appended to the commit log. An invalid signature fails the
// operation and never reaches the log or mutates state.
func (s *Store) Apply(op []byte, meta crdt.OperationMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.apply(s.state, op, meta); err != nil {
		return err
	}

	s.seq++
	plaintext, err := encodeOp(encodedOp{op: op, meta: meta})
	if err != nil {
		return fmt.Errorf("store: encode op: %w", err)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("store: generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nil, nonce, plaintext, nil)

	entry := Entry{
		SeqNo:         s.seq,
		SchemaVersion: currentSchemaVersion,
		VC:            s.state.Clock(),
		Nonce:         nonce,
		Ciphertext:    ciphertext,
	}
	if err := s.backend.AppendEntry(entry); err != nil {
		return fmt.Errorf("store: append entry: %w", err)
	}
	metrics.StoreCommitLogAppends.Inc()
	return nil
}

// Merge folds delta into the store's state via the CRDT trait Merge.
// It does not itself append a commit-log entry: delta's own origin
// store already logged the operations that produced it, so logging
// here too would duplicate them across replicas' logs without adding
// any new causal information.
func (s *Store) Merge(delta crdt.CRDT) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Merge(delta)
}

// Snapshot serializes the current state, encrypts it, atomically
// swaps the backend's latest snapshot, and truncates every commit-log
// entry causally dominated by the new snapshot's frontier.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := s.state.MarshalState()
	if err != nil {
		return fmt.Errorf("store: marshal state: %w", err)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("store: generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nil, nonce, plaintext, nil)

	snap := Snapshot{
		SeqNo:         s.seq,
		SchemaVersion: currentSchemaVersion,
		VC:            s.state.Clock(),
		Nonce:         nonce,
		Ciphertext:    ciphertext,
	}
	if err := s.backend.WriteSnapshot(snap); err != nil {
		return fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := s.backend.TruncateBefore(s.seq); err != nil {
		return fmt.Errorf("store: truncate commit log: %w", err)
	}
	metrics.StoreSnapshotsTaken.Inc()
	return nil
}

// IterateAfter returns every applied operation not yet causally
// observed by vc, i.e. every entry whose recorded vector clock vc
// neither dominates nor equals.
func (s *Store) IterateAfter(vc crdt.VectorClock) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.backend.EntriesAfter(0)
	if err != nil {
		return nil, fmt.Errorf("store: read entries: %w", err)
	}
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if !vc.Dominates(entry.VC) && !vc.Equal(entry.VC) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// CorruptCounts reports how many snapshot/entry records Load has
// skipped for failing to decrypt or decode.
func (s *Store) CorruptCounts() (entries, snapshots int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corruptEntries, s.corruptSnapshots
}
