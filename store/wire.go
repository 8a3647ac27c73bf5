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

package store

import (
	"encoding/json"

	"github.com/spacepanda/core/crdt"
)

// wireMetadata is the JSON mirror of crdt.OperationMetadata, giving each
// field an explicit snake_case name for the encoding/json the rest of
// this repo's config and key-format packages already rely on.
type wireMetadata struct {
	OpID      string           `json:"op_id"`
	ChannelID string           `json:"channel_id"`
	AuthorPub []byte           `json:"author_pub"`
	Signature []byte           `json:"signature"`
	Timestamp int64            `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	VC        crdt.VectorClock `json:"vc"`
}

type wireEntry struct {
	Op   []byte       `json:"op"`
	Meta wireMetadata `json:"meta"`
}

func encodeOp(e encodedOp) ([]byte, error) {
	return json.Marshal(wireEntry{
		Op: e.op,
		Meta: wireMetadata{
			OpID:      e.meta.OpID,
			ChannelID: e.meta.ChannelID,
			AuthorPub: []byte(e.meta.AuthorPub),
			Signature: e.meta.Signature,
			Timestamp: e.meta.Timestamp,
			NodeID:    e.meta.NodeID,
			VC:        e.meta.VC,
		},
	})
}

func decodeOp(data []byte) (encodedOp, error) {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return encodedOp{}, err
	}
	return encodedOp{
		op: w.Op,
		meta: crdt.OperationMetadata{
			OpID:      w.Meta.OpID,
			ChannelID: w.Meta.ChannelID,
			AuthorPub: w.Meta.AuthorPub,
			Signature: w.Meta.Signature,
			Timestamp: w.Meta.Timestamp,
			NodeID:    w.Meta.NodeID,
			VC:        w.Meta.VC,
		},
	}, nil
}
