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

package channel

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spacepanda/core/config"
	"github.com/spacepanda/core/crdt"
	pandacrypto "github.com/spacepanda/core/crypto"
	"github.com/spacepanda/core/internal/metrics"
	"github.com/spacepanda/core/mls"
	"github.com/spacepanda/core/sealedsender"
	"github.com/spacepanda/core/store"
)

const sealedSenderExportLabel = "SpacePanda-Channel-SealedSender"

// Transport is the Network Layer (C12) boundary the Channel Manager
// hands finished wire material to. It never sees plaintext: envelopes
// are already MLS-sealed and sender-hidden, commits are already
// signed.
type Transport interface {
	Broadcast(channelID ChannelID, envelope []byte) error
	BroadcastCommit(channelID ChannelID, commit []byte) error
}

// channelRuntime is the live state one locally-tracked channel holds:
// its MLS group, its CRDT state and the Store persisting it, plus a
// local-only operation counter used as this node's vector clock
// contribution.
type channelRuntime struct {
	group  *mls.GroupHandle
	state  *channelState
	store  *store.Store
	nodeID string

	seqMu sync.Mutex
	seq   uint64
}

func (rt *channelRuntime) nextMeta() crdt.OperationMetadata {
	rt.seqMu.Lock()
	rt.seq++
	seq := rt.seq
	rt.seqMu.Unlock()
	return crdt.OperationMetadata{
		OpID:      uuid.New().String(),
		NodeID:    rt.nodeID,
		Timestamp: time.Now().UnixNano(),
		VC:        crdt.VectorClock{rt.nodeID: seq},
	}
}

func (rt *channelRuntime) applyOp(co channelOp, meta crdt.OperationMetadata) error {
	opBytes, err := json.Marshal(co)
	if err != nil {
		return err
	}
	return rt.store.Apply(opBytes, meta)
}

func (rt *channelRuntime) setMetadata(key, value string, meta crdt.OperationMetadata) error {
	return rt.applyOp(channelOp{Kind: opSetMetadata, Key: key, Value: value, AddID: meta.OpID}, meta)
}

func (rt *channelRuntime) setRole(identity string, role Role, meta crdt.OperationMetadata) error {
	return rt.applyOp(channelOp{Kind: opSetRole, Key: identity, Value: role.String(), TS: meta.Timestamp, Node: meta.NodeID}, meta)
}

func (rt *channelRuntime) markSeen(messageID string, meta crdt.OperationMetadata) error {
	return rt.applyOp(channelOp{Kind: opMarkSeen, Key: messageID, AddID: meta.OpID}, meta)
}

// Manager is the Channel Manager for one local identity: it owns the
// single mls.Provider shared across every channel that identity
// participates in (mls's provider-sharing constraint requires exactly
// this — generate_key_package and the later add_members/join_channel
// call must share one provider instance) and dispatches every
// exported operation to the matching channelRuntime.
type Manager struct {
	identityName string
	identity     pandacrypto.KeyPair
	nodeID       string
	provider     mls.Provider
	passphrase   []byte
	newBackend   func(ChannelID) (store.Backend, error)
	transport    Transport

	paddingBuckets []int
	jitterWindow   time.Duration
	jitter         func(time.Duration) time.Duration

	mu       sync.Mutex
	channels map[ChannelID]*channelRuntime
}

// NewManager creates a Manager for one local identity. newBackend
// constructs a fresh store.Backend for a channel id the first time
// that channel is created or joined locally (e.g. a flatfile backend
// rooted at a per-channel data directory, or store/pgstore.New
// against a per-channel schema). cfg supplies the sealed-sender
// padding buckets and delivery jitter window; a nil cfg falls back to
// sealedsender's own defaults and a 30 second jitter window.
func NewManager(identityName string, identity pandacrypto.KeyPair, nodeID string, passphrase []byte, newBackend func(ChannelID) (store.Backend, error), transport Transport, cfg *config.ChannelConfig) *Manager {
	buckets := sealedsender.DefaultBuckets
	window := 30 * time.Second
	if cfg != nil {
		if len(cfg.PaddingBuckets) > 0 {
			buckets = cfg.PaddingBuckets
		}
		if cfg.JitterWindow > 0 {
			window = cfg.JitterWindow
		}
	}
	return &Manager{
		identityName:   identityName,
		identity:       identity,
		nodeID:         nodeID,
		provider:       mls.NewInMemoryProvider(),
		passphrase:     append([]byte{}, passphrase...),
		newBackend:     newBackend,
		transport:      transport,
		paddingBuckets: buckets,
		jitterWindow:   window,
		jitter:         randomJitter,
		channels:       make(map[ChannelID]*channelRuntime),
	}
}

// randomJitter returns a value uniformly distributed in [-window, window].
func randomJitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(2*window)+1))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64()) - window
}

func (m *Manager) runtime(channelID ChannelID) (*channelRuntime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.channels[channelID]
	if !ok {
		return nil, ErrUnknownChannel
	}
	return rt, nil
}

func (m *Manager) newRuntime(channelID ChannelID, group *mls.GroupHandle) (*channelRuntime, error) {
	backend, err := m.newBackend(channelID)
	if err != nil {
		return nil, &StoreError{Op: "new_backend", Err: err}
	}
	state := newChannelState(channelID.String())
	st, err := store.New(state, applyChannelOp, backend, []byte(m.identityName), m.passphrase)
	if err != nil {
		return nil, &StoreError{Op: "new_store", Err: err}
	}
	return &channelRuntime{group: group, state: state, store: st, nodeID: m.nodeID}, nil
}

func (m *Manager) requireRole(rt *channelRuntime, min Role) error {
	role, ok := rt.state.roleOf(m.identityName)
	if !ok || role < min {
		return ErrPermissionDenied
	}
	return nil
}

func wrapMLS(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *mls.MlsError
	if errors.As(err, &me) {
		return err
	}
	return &mls.MlsError{Op: op, Err: err}
}

func envelopeID(envBytes []byte) string {
	sum := sha256.Sum256(envBytes)
	return hex.EncodeToString(sum[:])
}

// GenerateKeyPackage publishes a fresh one-time key package for this
// identity under the Manager's shared provider, so a later
// create_invite call against any of this identity's channels (or
// another identity's create_invite naming this one) can find it.
func (m *Manager) GenerateKeyPackage() (mls.KeyPackage, error) {
	return mls.GenerateKeyPackage(m.identityName, m.identity, m.provider)
}

// CreateChannel creates a brand-new channel: a fresh single-member MLS
// group owned by this identity, Admin role for the creator, and
// sealed channel metadata (name, visibility).
func (m *Manager) CreateChannel(name string, visibility Visibility) (ChannelID, error) {
	channelID := NewChannelID()
	groupID := GroupIDFor(channelID)

	group, err := mls.CreateGroup(groupID, m.identityName, m.identity, mls.SuiteX25519ChaCha20, m.provider)
	if err != nil {
		return ChannelID{}, err
	}
	rt, err := m.newRuntime(channelID, group)
	if err != nil {
		return ChannelID{}, err
	}

	if err := rt.setMetadata("name", name, rt.nextMeta()); err != nil {
		return ChannelID{}, &StoreError{Op: "create_channel", Err: err}
	}
	if err := rt.setMetadata("visibility", visibility.String(), rt.nextMeta()); err != nil {
		return ChannelID{}, &StoreError{Op: "create_channel", Err: err}
	}
	if err := rt.setRole(m.identityName, RoleAdmin, rt.nextMeta()); err != nil {
		return ChannelID{}, &StoreError{Op: "create_channel", Err: err}
	}

	m.mu.Lock()
	m.channels[channelID] = rt
	m.mu.Unlock()
	return channelID, nil
}

// CreateInvite adds keyPackage's owner to channelID's MLS group and
// returns the Welcome/ratchet-tree bundle they need to join_channel.
// Only an Admin may invite.
func (m *Manager) CreateInvite(channelID ChannelID, keyPackage mls.KeyPackage) (InviteToken, error) {
	rt, err := m.runtime(channelID)
	if err != nil {
		return InviteToken{}, err
	}
	if err := m.requireRole(rt, RoleAdmin); err != nil {
		return InviteToken{}, err
	}

	_, welcome, tree, err := rt.group.AddMembers([]mls.KeyPackage{keyPackage})
	if err != nil {
		return InviteToken{}, wrapMLS("create_invite", err)
	}
	if err := rt.setRole(keyPackage.Identity, RoleMember, rt.nextMeta()); err != nil {
		return InviteToken{}, &StoreError{Op: "create_invite", Err: err}
	}

	return InviteToken{ChannelID: channelID, Welcome: welcome, RatchetTree: tree}, nil
}

// JoinChannel accepts an invite: it joins the MLS group from the
// Welcome and ratchet tree, then initializes a fresh local channel
// runtime recording this identity's own Member role.
func (m *Manager) JoinChannel(token InviteToken) (ChannelID, error) {
	group, err := mls.JoinFromWelcome(token.Welcome, token.RatchetTree, m.identity, m.provider)
	if err != nil {
		return ChannelID{}, err
	}
	rt, err := m.newRuntime(token.ChannelID, group)
	if err != nil {
		return ChannelID{}, err
	}
	if err := rt.setRole(m.identityName, RoleMember, rt.nextMeta()); err != nil {
		return ChannelID{}, &StoreError{Op: "join_channel", Err: err}
	}

	m.mu.Lock()
	m.channels[token.ChannelID] = rt
	m.mu.Unlock()
	return token.ChannelID, nil
}

// SendMessage pads plaintext, seals it under the channel's current MLS
// epoch, hides the sender behind a sealed-sender blob bound to that
// epoch, records the resulting envelope id locally to dedupe a later
// retransmit, and — after a random jitter delay — hands the envelope
// to the Network Layer. The envelope itself is returned immediately;
// only delivery is delayed.
func (m *Manager) SendMessage(channelID ChannelID, plaintext []byte) ([]byte, error) {
	rt, err := m.runtime(channelID)
	if err != nil {
		return nil, err
	}
	if err := m.requireRole(rt, RoleMember); err != nil {
		return nil, err
	}

	padded, err := sealedsender.Pad(plaintext, m.paddingBuckets)
	if err != nil {
		return nil, wrapMLS("send_message", err)
	}
	ciphertext, err := rt.group.SealMessage(padded)
	if err != nil {
		return nil, wrapMLS("send_message", err)
	}

	epoch := rt.group.CurrentEpoch()
	exporter, err := rt.group.ExportSecret(sealedSenderExportLabel, GroupIDFor(channelID), 32)
	if err != nil {
		return nil, wrapMLS("send_message", err)
	}
	key, err := sealedsender.DeriveKey(exporter)
	if err != nil {
		return nil, wrapMLS("send_message", err)
	}
	sealed, err := sealedsender.Seal(key, epoch, []byte(m.identityName))
	if err != nil {
		metrics.SealedSenderOperations.WithLabelValues("seal", "failure").Inc()
		return nil, wrapMLS("send_message", err)
	}
	metrics.SealedSenderOperations.WithLabelValues("seal", "success").Inc()

	envBytes, err := json.Marshal(Envelope{Epoch: epoch, SealedSender: sealed, Ciphertext: ciphertext})
	if err != nil {
		return nil, wrapMLS("send_message", err)
	}

	if err := rt.markSeen(envelopeID(envBytes), rt.nextMeta()); err != nil {
		return nil, &StoreError{Op: "send_message", Err: err}
	}

	if m.transport != nil {
		delay := m.jitter(m.jitterWindow)
		envCopy := append([]byte{}, envBytes...)
		time.AfterFunc(delay, func() {
			_ = m.transport.Broadcast(channelID, envCopy)
		})
	}

	return envBytes, nil
}

// ReceiveEnvelope unseals the sender (for local accounting; the
// plaintext never reveals who sent it to anything outside this
// function), processes the MLS ciphertext, strips padding, and
// records the envelope id to dedupe a future retransmit of the same
// message. A previously-seen envelope returns (nil, nil): best-effort
// delivery has no ordering guarantee, so a duplicate is expected, not
// an error.
func (m *Manager) ReceiveEnvelope(channelID ChannelID, envBytes []byte) ([]byte, error) {
	rt, err := m.runtime(channelID)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(envBytes, &env); err != nil {
		return nil, ErrInvalidOperation
	}

	messageID := envelopeID(envBytes)
	if rt.state.seen.Contains(messageID) {
		return nil, nil
	}

	if env.Epoch != rt.group.CurrentEpoch() {
		metrics.SealedSenderOperations.WithLabelValues("unseal", "failure").Inc()
		return nil, mls.ErrStaleEpoch
	}
	exporter, err := rt.group.ExportSecret(sealedSenderExportLabel, GroupIDFor(channelID), 32)
	if err != nil {
		return nil, wrapMLS("receive_envelope", err)
	}
	key, err := sealedsender.DeriveKey(exporter)
	if err != nil {
		return nil, wrapMLS("receive_envelope", err)
	}
	if _, err := sealedsender.Unseal(key, env.Epoch, env.SealedSender); err != nil {
		metrics.SealedSenderOperations.WithLabelValues("unseal", "failure").Inc()
		return nil, err
	}
	metrics.SealedSenderOperations.WithLabelValues("unseal", "success").Inc()

	padded, err := rt.group.ProcessMessage(env.Ciphertext)
	if err != nil {
		return nil, wrapMLS("receive_envelope", err)
	}
	plaintext, err := sealedsender.Unpad(padded)
	if err != nil {
		return nil, wrapMLS("receive_envelope", err)
	}

	if err := rt.markSeen(messageID, rt.nextMeta()); err != nil {
		return nil, &StoreError{Op: "receive_envelope", Err: err}
	}
	return plaintext, nil
}

// RemoveMember removes targetIdentity's leaf from channelID's MLS
// group and broadcasts the resulting commit. Only an Admin may remove.
func (m *Manager) RemoveMember(channelID ChannelID, targetIdentity string) error {
	rt, err := m.runtime(channelID)
	if err != nil {
		return err
	}
	if err := m.requireRole(rt, RoleAdmin); err != nil {
		return err
	}
	leaf, ok := rt.group.LeafIndexForIdentity(targetIdentity)
	if !ok {
		return mls.ErrNotAMember
	}
	commit, err := rt.group.RemoveMembers([]uint32{leaf})
	if err != nil {
		return wrapMLS("remove_member", err)
	}
	if m.transport != nil {
		if err := m.transport.BroadcastCommit(channelID, commit); err != nil {
			return &StoreError{Op: "remove_member", Err: err}
		}
	}
	return nil
}

func (m *Manager) setMemberRole(channelID ChannelID, targetIdentity string, newRole Role) error {
	rt, err := m.runtime(channelID)
	if err != nil {
		return err
	}
	if err := m.requireRole(rt, RoleAdmin); err != nil {
		return err
	}
	if newRole != RoleAdmin {
		if current, ok := rt.state.roleOf(targetIdentity); ok && current == RoleAdmin && rt.state.adminCount() <= 1 {
			return ErrLastAdmin
		}
	}
	if err := rt.setRole(targetIdentity, newRole, rt.nextMeta()); err != nil {
		return &StoreError{Op: "set_member_role", Err: err}
	}
	return nil
}

// PromoteMember grants targetIdentity the Admin role. Only an Admin
// may promote.
func (m *Manager) PromoteMember(channelID ChannelID, targetIdentity string) error {
	return m.setMemberRole(channelID, targetIdentity, RoleAdmin)
}

// DemoteMember lowers targetIdentity to the Member role. Only an Admin
// may demote, and the last remaining Admin cannot demote themselves
// (or be demoted), since that would leave the channel with no one able
// to manage membership.
func (m *Manager) DemoteMember(channelID ChannelID, targetIdentity string) error {
	return m.setMemberRole(channelID, targetIdentity, RoleMember)
}

// ListMembers returns every member identity tracked in channelID mapped
// to its current role.
func (m *Manager) ListMembers(channelID ChannelID) (map[string]Role, error) {
	rt, err := m.runtime(channelID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Role, len(rt.state.roles))
	for identity, reg := range rt.state.roles {
		if str, ok := reg.Value().(string); ok {
			out[identity] = roleFromString(str)
		}
	}
	return out, nil
}

// MemberRole returns targetIdentity's current role in channelID.
// mls.ErrNotAMember is returned if targetIdentity has no recorded role.
func (m *Manager) MemberRole(channelID ChannelID, targetIdentity string) (Role, error) {
	rt, err := m.runtime(channelID)
	if err != nil {
		return RoleReadOnly, err
	}
	role, ok := rt.state.roleOf(targetIdentity)
	if !ok {
		return RoleReadOnly, mls.ErrNotAMember
	}
	return role, nil
}

// Snapshot persists channelID's current CRDT state (metadata, roles,
// seen-set) to its Store and truncates the commit log entries the
// snapshot now causally dominates.
func (m *Manager) Snapshot(channelID ChannelID) error {
	rt, err := m.runtime(channelID)
	if err != nil {
		return err
	}
	if err := rt.store.Snapshot(); err != nil {
		return &StoreError{Op: "snapshot", Err: err}
	}
	return nil
}

// RestoreChannel reloads channelID's CRDT state from its Store's latest
// snapshot plus any commit-log entries after it, replacing the
// in-memory state built so far. It does not touch the channel's MLS
// group: that ratchet state lives only in the Manager's provider for
// the lifetime of the process, per mls's own persistence boundary.
func (m *Manager) RestoreChannel(channelID ChannelID) error {
	rt, err := m.runtime(channelID)
	if err != nil {
		return err
	}
	if err := rt.store.Load(); err != nil {
		return &StoreError{Op: "restore_channel", Err: err}
	}
	return nil
}

// Stats reports how many of channelID's commit-log entries and
// snapshots have failed to decrypt or decode since the channel runtime
// was created (e.g. during the last RestoreChannel call).
func (m *Manager) Stats(channelID ChannelID) (entries, snapshots int, err error) {
	rt, runtimeErr := m.runtime(channelID)
	if runtimeErr != nil {
		return 0, 0, runtimeErr
	}
	entries, snapshots = rt.store.CorruptCounts()
	return entries, snapshots, nil
}

// ProcessCommit applies a commit received from another member (e.g.
// one broadcast over the Network Layer by another Admin's
// remove_member) to the local MLS group. CreateInvite does not
// broadcast its add commit, so members present before an invite do
// not receive that epoch change through this path.
func (m *Manager) ProcessCommit(channelID ChannelID, commit []byte) error {
	rt, err := m.runtime(channelID)
	if err != nil {
		return err
	}
	if err := rt.group.ApplyCommit(commit); err != nil {
		return wrapMLS("process_commit", err)
	}
	return nil
}
