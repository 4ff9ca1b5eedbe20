package entity

import "time"

// SystemUserID stamps writes that no person initiated, e.g. replicated updates.
const SystemUserID = "system"

// Actor identifies who performs a store write. It is passed explicitly to every
// operation that stamps metadata.
type Actor struct {
	UserID string
}

var SystemActor = Actor{UserID: SystemUserID}

func (a Actor) IsZero() bool {
	return a.UserID == ""
}

// Meta is the bookkeeping every entity carries, owned or replicated.
type Meta struct {
	PublicID            string
	Version             int64
	CreatedAt           time.Time
	CreatedByUserID     string
	LastUpdatedAt       *time.Time
	LastUpdatedByUserID *string
}

// Policy decides how metadata is stamped on writes.
//
// StampUpdate mutates m into its post-write form and returns the version the
// store must currently hold for the write to succeed.
type Policy interface {
	StampCreate(m *Meta, actor Actor, now time.Time)
	StampUpdate(m *Meta, actor Actor, now time.Time) int64
}

// Owned stamps entities whose authoritative state lives in this service.
type Owned struct{}

func (Owned) StampCreate(m *Meta, actor Actor, now time.Time) {
	m.Version = 0
	m.CreatedAt = now
	m.CreatedByUserID = actor.UserID
	m.LastUpdatedAt = nil
	m.LastUpdatedByUserID = nil
}

func (Owned) StampUpdate(m *Meta, actor Actor, now time.Time) int64 {
	expected := m.Version
	m.Version++
	at := now
	by := actor.UserID
	m.LastUpdatedAt = &at
	m.LastUpdatedByUserID = &by
	return expected
}

// Replica leaves metadata exactly as mirrored from the owning service's event.
type Replica struct{}

func (Replica) StampCreate(*Meta, Actor, time.Time) {}

func (Replica) StampUpdate(m *Meta, _ Actor, _ time.Time) int64 {
	return m.Version - 1
}
