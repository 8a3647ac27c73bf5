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

package mls

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	pandacrypto "github.com/spacepanda/core/crypto"
	"github.com/spacepanda/core/crypto/keys"
	"github.com/spacepanda/core/internal/metrics"
)

// memberEntry is one roster slot in a group's ratchet tree export.
type memberEntry struct {
	LeafIndex  uint32
	Identity   string
	SigningPub ed25519.PublicKey
	InitPub    []byte
	Removed    bool
}

// groupState is the durable, provider-stored record of a group the
// local member belongs to.
type groupState struct {
	GroupID       []byte
	CipherSuite   CipherSuite
	Epoch         uint64
	Members       []memberEntry
	EpochSecret   []byte
	SelfLeafIndex uint32
}

// GroupHandle is a live, mutable reference to one group, bound to the
// identity and provider it was created or joined with.
type GroupHandle struct {
	mu       sync.Mutex
	provider Provider
	identity pandacrypto.KeyPair
	state    groupState
}

func epochLabel(groupID []byte) string {
	return hex.EncodeToString(groupID)
}

// CreateGroup starts a brand-new single-member group at epoch 0, owned
// by identity.
func CreateGroup(groupID []byte, identityName string, identity pandacrypto.KeyPair, suite CipherSuite, provider Provider) (*GroupHandle, error) {
	if suite != SuiteX25519ChaCha20 {
		return nil, ErrUnsupportedSuite
	}
	signingPub, ok := identity.PublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, wrapErr("create_group", fmt.Errorf("identity key is not Ed25519"))
	}

	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, wrapErr("create_group", err)
	}

	state := groupState{
		GroupID:     append([]byte{}, groupID...),
		CipherSuite: suite,
		Epoch:       0,
		Members: []memberEntry{
			{LeafIndex: 0, Identity: identityName, SigningPub: signingPub},
		},
		EpochSecret:   secret,
		SelfLeafIndex: 0,
	}
	if err := provider.StoreGroupState(groupID, state); err != nil {
		return nil, wrapErr("create_group", err)
	}
	metrics.MLSEpoch.WithLabelValues(epochLabel(groupID)).Set(0)

	return &GroupHandle{provider: provider, identity: identity, state: state}, nil
}

// commitSignable is the JSON-serializable portion of a commit a sender
// signs; Signature itself is excluded so a commit's canonical bytes
// never include the very signature they're verified against.
type commitSignable struct {
	Kind               string
	GroupID            []byte
	Epoch              uint64
	AddedKeyPackages   []KeyPackage
	RemovedLeafIndices []uint32
	SenderSigningPub   ed25519.PublicKey
}

type commitWire struct {
	commitSignable
	Signature []byte
}

func (c commitSignable) canonicalBytes() []byte {
	b, _ := json.Marshal(c)
	return b
}

func signCommit(identity pandacrypto.KeyPair, signable commitSignable) (commitWire, error) {
	sig, err := identity.Sign(signable.canonicalBytes())
	if err != nil {
		return commitWire{}, err
	}
	return commitWire{commitSignable: signable, Signature: sig}, nil
}

func verifyCommit(cw commitWire) error {
	if !ed25519.Verify(cw.SenderSigningPub, cw.commitSignable.canonicalBytes(), cw.Signature) {
		return ErrBadSignature
	}
	return nil
}

// advanceEpochSecret derives the next epoch's secret from the current
// one and the commit that caused the transition, via HKDF-SHA256. Any
// member who does not observe the commit (e.g. a just-removed member)
// cannot derive this secret, which is what gives removal forward
// secrecy: every message sealed under the new epoch is unreadable to
// them.
func advanceEpochSecret(oldSecret, commitBytes []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, oldSecret, commitBytes, []byte("SpacePanda-MLS-epoch-advance"))
	next := make([]byte, 32)
	if _, err := io.ReadFull(h, next); err != nil {
		return nil, err
	}
	return next, nil
}

// AddMembers adds keyPackages to group's roster, advances the epoch,
// and immediately merges the resulting commit into the local state —
// per spec.md #4.10 constraint 3, the caller never sees a "pending"
// commit that hasn't been applied yet.
func (g *GroupHandle) AddMembers(keyPackages []KeyPackage) (commit, welcome, ratchetTree []byte, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, kp := range keyPackages {
		if err := kp.verify(); err != nil {
			metrics.MLSCommitRejected.WithLabelValues("bad_signature").Inc()
			return nil, nil, nil, wrapErr("add_members", err)
		}
	}

	signingPub, _ := g.identity.PublicKey().(ed25519.PublicKey)
	signable := commitSignable{
		Kind:             "add",
		GroupID:          g.state.GroupID,
		Epoch:            g.state.Epoch + 1,
		AddedKeyPackages: keyPackages,
		SenderSigningPub: signingPub,
	}
	cw, err := signCommit(g.identity, signable)
	if err != nil {
		return nil, nil, nil, wrapErr("add_members", err)
	}
	commitBytes, err := json.Marshal(cw)
	if err != nil {
		return nil, nil, nil, wrapErr("add_members", err)
	}

	nextSecret, err := advanceEpochSecret(g.state.EpochSecret, commitBytes)
	if err != nil {
		return nil, nil, nil, wrapErr("add_members", err)
	}

	start := time.Now()
	newMembers := append([]memberEntry{}, g.state.Members...)
	nextLeaf := uint32(len(newMembers))
	for _, kp := range keyPackages {
		newMembers = append(newMembers, memberEntry{
			LeafIndex:  nextLeaf,
			Identity:   kp.Identity,
			SigningPub: kp.SigningPub,
			InitPub:    kp.InitPub,
		})
		nextLeaf++
	}

	g.state.Members = newMembers
	g.state.Epoch = signable.Epoch
	g.state.EpochSecret = nextSecret
	if err := g.provider.StoreGroupState(g.state.GroupID, g.state); err != nil {
		return nil, nil, nil, wrapErr("add_members", err)
	}
	metrics.MLSCommitDuration.Observe(time.Since(start).Seconds())
	metrics.MLSCommitsApplied.WithLabelValues("add").Inc()
	metrics.MLSEpoch.WithLabelValues(epochLabel(g.state.GroupID)).Set(float64(g.state.Epoch))

	welcomeBytes, err := sealWelcome(keyPackages, g.state)
	if err != nil {
		return nil, nil, nil, wrapErr("add_members", err)
	}
	tree, err := json.Marshal(g.state.Members)
	if err != nil {
		return nil, nil, nil, wrapErr("add_members", err)
	}
	return commitBytes, welcomeBytes, tree, nil
}

// RemoveMembers removes the roster entries at leafIndices, advances
// the epoch, and merges the commit locally.
func (g *GroupHandle) RemoveMembers(leafIndices []uint32) (commit []byte, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	removeSet := make(map[uint32]bool, len(leafIndices))
	for _, idx := range leafIndices {
		removeSet[idx] = true
	}

	signingPub, _ := g.identity.PublicKey().(ed25519.PublicKey)
	signable := commitSignable{
		Kind:               "remove",
		GroupID:            g.state.GroupID,
		Epoch:              g.state.Epoch + 1,
		RemovedLeafIndices: leafIndices,
		SenderSigningPub:   signingPub,
	}
	cw, err := signCommit(g.identity, signable)
	if err != nil {
		return nil, wrapErr("remove_members", err)
	}
	commitBytes, err := json.Marshal(cw)
	if err != nil {
		return nil, wrapErr("remove_members", err)
	}

	nextSecret, err := advanceEpochSecret(g.state.EpochSecret, commitBytes)
	if err != nil {
		return nil, wrapErr("remove_members", err)
	}

	start := time.Now()
	newMembers := append([]memberEntry{}, g.state.Members...)
	for i, m := range newMembers {
		if removeSet[m.LeafIndex] {
			newMembers[i].Removed = true
		}
	}

	g.state.Members = newMembers
	g.state.Epoch = signable.Epoch
	g.state.EpochSecret = nextSecret
	if err := g.provider.StoreGroupState(g.state.GroupID, g.state); err != nil {
		return nil, wrapErr("remove_members", err)
	}
	metrics.MLSCommitDuration.Observe(time.Since(start).Seconds())
	metrics.MLSCommitsApplied.WithLabelValues("remove").Inc()
	metrics.MLSEpoch.WithLabelValues(epochLabel(g.state.GroupID)).Set(float64(g.state.Epoch))

	return commitBytes, nil
}

// ApplyCommit applies a commit received from another member (e.g. via
// channel.process_commit) to local state, verifying the sender is a
// current member and the commit targets the next epoch.
func (g *GroupHandle) ApplyCommit(commitBytes []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var cw commitWire
	if err := json.Unmarshal(commitBytes, &cw); err != nil {
		return wrapErr("process_commit", err)
	}
	if cw.Epoch != g.state.Epoch+1 {
		metrics.MLSCommitRejected.WithLabelValues("stale_epoch").Inc()
		return ErrStaleEpoch
	}
	if !g.memberIsCurrent(cw.SenderSigningPub) {
		metrics.MLSCommitRejected.WithLabelValues("unknown_sender").Inc()
		return ErrUnknownSender
	}
	if err := verifyCommit(cw); err != nil {
		metrics.MLSCommitRejected.WithLabelValues("bad_signature").Inc()
		return err
	}

	start := time.Now()
	newMembers := append([]memberEntry{}, g.state.Members...)
	switch cw.Kind {
	case "add":
		nextLeaf := uint32(len(newMembers))
		for _, kp := range cw.AddedKeyPackages {
			newMembers = append(newMembers, memberEntry{
				LeafIndex:  nextLeaf,
				Identity:   kp.Identity,
				SigningPub: kp.SigningPub,
				InitPub:    kp.InitPub,
			})
			nextLeaf++
		}
	case "remove":
		removeSet := make(map[uint32]bool, len(cw.RemovedLeafIndices))
		for _, idx := range cw.RemovedLeafIndices {
			removeSet[idx] = true
		}
		for i, m := range newMembers {
			if removeSet[m.LeafIndex] {
				newMembers[i].Removed = true
			}
		}
	default:
		return wrapErr("process_commit", fmt.Errorf("unknown commit kind %q", cw.Kind))
	}

	nextSecret, err := advanceEpochSecret(g.state.EpochSecret, commitBytes)
	if err != nil {
		return wrapErr("process_commit", err)
	}

	g.state.Members = newMembers
	g.state.Epoch = cw.Epoch
	g.state.EpochSecret = nextSecret
	if err := g.provider.StoreGroupState(g.state.GroupID, g.state); err != nil {
		return wrapErr("process_commit", err)
	}
	metrics.MLSCommitDuration.Observe(time.Since(start).Seconds())
	metrics.MLSCommitsApplied.WithLabelValues(cw.Kind).Inc()
	metrics.MLSEpoch.WithLabelValues(epochLabel(g.state.GroupID)).Set(float64(g.state.Epoch))
	return nil
}

func (g *GroupHandle) memberIsCurrent(signingPub ed25519.PublicKey) bool {
	for _, m := range g.state.Members {
		if m.Removed {
			continue
		}
		if string(m.SigningPub) == string(signingPub) {
			return true
		}
	}
	return false
}

// applicationEnvelope wraps sealed application ciphertext with the
// epoch it was sealed under, so process_message can select the right
// derived key and reject ciphertext from a stale epoch outright.
type applicationEnvelope struct {
	Epoch      uint64
	Nonce      []byte
	Ciphertext []byte
}

func deriveAppKey(epochSecret []byte, epoch uint64) ([]byte, error) {
	context := make([]byte, 8)
	for i := 0; i < 8; i++ {
		context[i] = byte(epoch >> (56 - 8*i))
	}
	h := hkdf.New(sha256.New, epochSecret, context, []byte("SpacePanda-MLS-application-key"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return key, nil
}

// SealMessage encrypts plaintext under the group's current epoch key.
func (g *GroupHandle) SealMessage(plaintext []byte) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key, err := deriveAppKey(g.state.EpochSecret, g.state.Epoch)
	if err != nil {
		return nil, wrapErr("seal_message", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, wrapErr("seal_message", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, wrapErr("seal_message", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	env := applicationEnvelope{Epoch: g.state.Epoch, Nonce: nonce, Ciphertext: ciphertext}
	return json.Marshal(env)
}

// ProcessMessage decrypts wireBlob produced by SealMessage. Ciphertext
// sealed under any epoch other than the group's current one is
// rejected: this package does not keep trailing-epoch keys around, so
// a late-arriving message from just before a membership change is
// dropped rather than silently accepted under a secret a removed
// member might still hold.
func (g *GroupHandle) ProcessMessage(wireBlob []byte) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var env applicationEnvelope
	if err := json.Unmarshal(wireBlob, &env); err != nil {
		return nil, wrapErr("process_message", err)
	}
	if env.Epoch != g.state.Epoch {
		metrics.MLSCommitRejected.WithLabelValues("stale_epoch").Inc()
		return nil, ErrStaleEpoch
	}
	key, err := deriveAppKey(g.state.EpochSecret, g.state.Epoch)
	if err != nil {
		return nil, wrapErr("process_message", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, wrapErr("process_message", err)
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, wrapErr("process_message", err)
	}
	return plaintext, nil
}

// welcomeEntry carries one new member's sealed group secrets, HPKE
// encrypted to the init key their key package advertised.
type welcomeEntry struct {
	RecipientInitPub []byte
	Sealed           []byte
}

type welcomePayload struct {
	GroupID     []byte
	Epoch       uint64
	EpochSecret []byte
}

type welcomeWire struct {
	Entries []welcomeEntry
}

func sealWelcome(keyPackages []KeyPackage, state groupState) ([]byte, error) {
	payload, err := json.Marshal(welcomePayload{GroupID: state.GroupID, Epoch: state.Epoch, EpochSecret: state.EpochSecret})
	if err != nil {
		return nil, err
	}

	entries := make([]welcomeEntry, 0, len(keyPackages))
	for _, kp := range keyPackages {
		peerPub, err := ecdh.X25519().NewPublicKey(kp.InitPub)
		if err != nil {
			return nil, fmt.Errorf("welcome: invalid recipient init key: %w", err)
		}
		sealed, _, err := keys.HPKESealAndExportToX25519Peer(peerPub, payload, []byte("SpacePanda-MLS-Welcome"), nil, 0)
		if err != nil {
			return nil, fmt.Errorf("welcome: seal: %w", err)
		}
		entries = append(entries, welcomeEntry{RecipientInitPub: kp.InitPub, Sealed: sealed})
	}
	return json.Marshal(welcomeWire{Entries: entries})
}

// JoinFromWelcome accepts a Welcome sealed to one of provider's stored
// key package bundles, plus the ratchet tree exported alongside it,
// and returns a GroupHandle for the new member. A provider that never
// generated the matching key package (a distinct instance from the
// one GenerateKeyPackage was called against) finds no matching bundle
// here and returns ErrNoMatchingKeyPackage.
func JoinFromWelcome(welcome, ratchetTree []byte, identity pandacrypto.KeyPair, provider Provider) (*GroupHandle, error) {
	var ww welcomeWire
	if err := json.Unmarshal(welcome, &ww); err != nil {
		return nil, wrapErr("join_from_welcome", err)
	}

	var bundle KeyPackageBundle
	var sealed []byte
	found := false
	for _, entry := range ww.Entries {
		b, err := provider.KeyPackageBundle(newKeyPackageRef(entry.RecipientInitPub))
		if err == nil {
			bundle, sealed, found = b, entry.Sealed, true
			break
		}
	}
	if !found {
		return nil, ErrNoMatchingKeyPackage
	}

	initPriv, err := ecdh.X25519().NewPrivateKey(bundle.InitPriv)
	if err != nil {
		return nil, wrapErr("join_from_welcome", err)
	}
	plaintext, _, err := keys.HPKEOpenAndExportWithX25519Priv(initPriv, sealed, []byte("SpacePanda-MLS-Welcome"), nil, 0)
	if err != nil {
		return nil, wrapErr("join_from_welcome", err)
	}
	var payload welcomePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, wrapErr("join_from_welcome", err)
	}

	if len(ratchetTree) == 0 {
		return nil, ErrMissingRatchetTree
	}
	var members []memberEntry
	if err := json.Unmarshal(ratchetTree, &members); err != nil {
		return nil, wrapErr("join_from_welcome", err)
	}

	signingPub, _ := identity.PublicKey().(ed25519.PublicKey)
	selfLeaf := uint32(0)
	selfFound := false
	for _, m := range members {
		if string(m.SigningPub) == string(signingPub) {
			selfLeaf = m.LeafIndex
			selfFound = true
			break
		}
	}
	if !selfFound {
		return nil, wrapErr("join_from_welcome", fmt.Errorf("local identity not present in supplied ratchet tree"))
	}

	state := groupState{
		GroupID:       payload.GroupID,
		CipherSuite:   SuiteX25519ChaCha20,
		Epoch:         payload.Epoch,
		Members:       members,
		EpochSecret:   payload.EpochSecret,
		SelfLeafIndex: selfLeaf,
	}
	if err := provider.StoreGroupState(state.GroupID, state); err != nil {
		return nil, wrapErr("join_from_welcome", err)
	}
	metrics.MLSEpoch.WithLabelValues(epochLabel(state.GroupID)).Set(float64(state.Epoch))

	return &GroupHandle{provider: provider, identity: identity, state: state}, nil
}

// ExportSecret derives a label- and context-bound secret from the
// group's current epoch secret, the same construction sealedsender
// uses atop its own result to get the sealed-sender key.
func (g *GroupHandle) ExportSecret(label string, context []byte, length int) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := hkdf.New(sha256.New, g.state.EpochSecret, context, []byte(label))
	out := make([]byte, length)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, wrapErr("export_secret", err)
	}
	return out, nil
}

// CurrentEpoch returns the group's current epoch number.
func (g *GroupHandle) CurrentEpoch() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Epoch
}

// ExportRatchetTree serializes the current member roster so a sender
// can deliver it alongside a Welcome per spec.md #4.10 constraint 2.
func (g *GroupHandle) ExportRatchetTree() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return json.Marshal(g.state.Members)
}

// GroupID returns the group's MLS-level 32-byte group id.
func (g *GroupHandle) GroupID() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]byte{}, g.state.GroupID...)
}

// SelfLeafIndex returns the local member's leaf index in the roster.
func (g *GroupHandle) SelfLeafIndex() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.SelfLeafIndex
}

// LeafIndexForIdentity finds the current (non-removed) leaf index of
// identityName, used by the channel manager to translate a target
// identity into the leaf index remove_members needs.
func (g *GroupHandle) LeafIndexForIdentity(identityName string) (uint32, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.state.Members {
		if m.Removed {
			continue
		}
		if m.Identity == identityName {
			return m.LeafIndex, true
		}
	}
	return 0, false
}
