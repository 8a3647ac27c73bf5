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

// Channel operations: thin wrappers over channel.Manager, each
// refusing to run before an identity is unlocked. All of the actual
// membership, messaging, and role logic lives in channel.Manager; this
// file only adds the ErrLocked guard spec.md #6's external surface
// implies (every channel operation requires an active identity).
package app

import (
	"github.com/spacepanda/core/channel"
	"github.com/spacepanda/core/mls"
)

func (a *App) requireManager() (*channel.Manager, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.manager == nil {
		return nil, ErrLocked
	}
	return a.manager, nil
}

// GenerateKeyPackage publishes a fresh one-time key package for the
// unlocked identity.
func (a *App) GenerateKeyPackage() (mls.KeyPackage, error) {
	m, err := a.requireManager()
	if err != nil {
		return mls.KeyPackage{}, err
	}
	return m.GenerateKeyPackage()
}

// CreateChannel creates a brand-new channel owned by the unlocked
// identity.
func (a *App) CreateChannel(name string, visibility channel.Visibility) (channel.ChannelID, error) {
	m, err := a.requireManager()
	if err != nil {
		return channel.ChannelID{}, err
	}
	return m.CreateChannel(name, visibility)
}

// CreateInvite invites keyPackage's owner into channelID.
func (a *App) CreateInvite(channelID channel.ChannelID, keyPackage mls.KeyPackage) (channel.InviteToken, error) {
	m, err := a.requireManager()
	if err != nil {
		return channel.InviteToken{}, err
	}
	return m.CreateInvite(channelID, keyPackage)
}

// JoinChannel accepts an invite token.
func (a *App) JoinChannel(token channel.InviteToken) (channel.ChannelID, error) {
	m, err := a.requireManager()
	if err != nil {
		return channel.ChannelID{}, err
	}
	return m.JoinChannel(token)
}

// ListMembers returns channelID's current member roster and roles.
func (a *App) ListMembers(channelID channel.ChannelID) (map[string]channel.Role, error) {
	m, err := a.requireManager()
	if err != nil {
		return nil, err
	}
	return m.ListMembers(channelID)
}

// MemberRole returns targetIdentity's current role in channelID.
func (a *App) MemberRole(channelID channel.ChannelID, targetIdentity string) (channel.Role, error) {
	m, err := a.requireManager()
	if err != nil {
		return channel.RoleReadOnly, err
	}
	return m.MemberRole(channelID, targetIdentity)
}

// SendMessage seals and (after jitter) broadcasts plaintext to channelID.
func (a *App) SendMessage(channelID channel.ChannelID, plaintext []byte) ([]byte, error) {
	m, err := a.requireManager()
	if err != nil {
		return nil, err
	}
	return m.SendMessage(channelID, plaintext)
}

// ReceiveEnvelope processes a wire envelope already addressed to
// channelID, returning its plaintext.
func (a *App) ReceiveEnvelope(channelID channel.ChannelID, envelope []byte) ([]byte, error) {
	m, err := a.requireManager()
	if err != nil {
		return nil, err
	}
	return m.ReceiveEnvelope(channelID, envelope)
}

// RemoveMember removes targetIdentity from channelID.
func (a *App) RemoveMember(channelID channel.ChannelID, targetIdentity string) error {
	m, err := a.requireManager()
	if err != nil {
		return err
	}
	return m.RemoveMember(channelID, targetIdentity)
}

// PromoteMember grants targetIdentity the Admin role in channelID.
func (a *App) PromoteMember(channelID channel.ChannelID, targetIdentity string) error {
	m, err := a.requireManager()
	if err != nil {
		return err
	}
	return m.PromoteMember(channelID, targetIdentity)
}

// DemoteMember lowers targetIdentity to the Member role in channelID.
func (a *App) DemoteMember(channelID channel.ChannelID, targetIdentity string) error {
	m, err := a.requireManager()
	if err != nil {
		return err
	}
	return m.DemoteMember(channelID, targetIdentity)
}
