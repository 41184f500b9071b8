// Package migration defines the surface a device exposes to the
// pause/snapshot/live-migration framework: named opaque snapshot sections
// plus the pause/snapshot/transport capability set.
package migration

import "errors"

var (
	// ErrSectionNotFound is returned by Restore implementations when the
	// snapshot does not carry the section the device expects.
	ErrSectionNotFound = errors.New("migration: snapshot section not found")

	// ErrSnapshotDecode is returned when a section is present but its
	// payload cannot be decoded.
	ErrSnapshotDecode = errors.New("migration: snapshot section decode failed")
)

// SnapshotDataSection is one named opaque payload inside a Snapshot. The
// payload bytes are the durable migration contract of the device that
// produced them.
type SnapshotDataSection struct {
	ID       string
	Snapshot []byte
}

// Snapshot is a named collection of data sections produced by one device.
type Snapshot struct {
	ID           string
	SnapshotData map[string]SnapshotDataSection
}

func New(id string) *Snapshot {
	return &Snapshot{
		ID:           id,
		SnapshotData: make(map[string]SnapshotDataSection),
	}
}

func (s *Snapshot) AddDataSection(section SnapshotDataSection) {
	s.SnapshotData[section.ID] = section
}

// DataSection returns the payload of the named section.
func (s *Snapshot) DataSection(id string) ([]byte, bool) {
	section, ok := s.SnapshotData[id]
	if !ok {
		return nil, false
	}
	return section.Snapshot, true
}

// Pausable is implemented by components that take part in VM pause/resume.
type Pausable interface {
	Pause() error
	Resume() error
}

// Snapshottable captures and reinstates a component's state. The caller
// guarantees the VM is paused for the whole of either call.
type Snapshottable interface {
	Pausable

	ID() string
	Snapshot() (*Snapshot, error)
	Restore(*Snapshot) error
}

// Transportable ships a component's snapshot to a migration destination.
// Components with no transport work of their own implement it as a no-op.
type Transportable interface {
	Send(snapshot *Snapshot, destination string) error
}

// Migratable is the full capability set the migration framework drives.
type Migratable interface {
	Snapshottable
	Transportable
}
