// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mtrr

import "context"

// Source produces MTRR snapshots.
type Source interface {
	// Snapshot reads the current MTRR configuration. Every call reflects
	// the configuration at the time of the call.
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// ProfileSource is a Source backed by a fixed Profile.
type ProfileSource struct {
	Profile Profile
}

// Snapshot implements Source.Snapshot.
func (p *ProfileSource) Snapshot(context.Context) (*Snapshot, error) {
	return p.Profile.Snapshot()
}

// ReaderSource is a Source backed by an MSRReader.
type ReaderSource struct {
	Reader       MSRReader
	PhysAddrBits uint
}

// Snapshot implements Source.Snapshot.
func (r *ReaderSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	return Read(ctx, r.Reader, r.PhysAddrBits)
}
