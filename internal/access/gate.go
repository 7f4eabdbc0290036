// Package access decides whether an actor may read or write a room.
package access

import (
	"slices"

	"github.com/rx3lixir/mapchat/internal/syncerr"
)

// Room is the part of a room the gate looks at. Members is nil when the
// stored member list is absent or malformed.
type Room struct {
	ID       string
	IsPublic bool
	ReadOnly bool
	Members  []string
	Admins   []string
}

// Gate is a pure predicate over rooms. The zero value is strict: a private
// room without a member list admits nobody.
type Gate struct {
	// AllowMissingMembers treats a private room whose member list is
	// absent as open to everyone.
	AllowMissingMembers bool
}

// Check returns nil when actorID may read the room (and write to it when
// requireWrite is set), an AccessDenied error for non-members of private
// rooms, or a ReadOnly error for non-admin writes to read-only rooms.
func (g Gate) Check(room Room, actorID string, requireWrite bool) error {
	const op = "access.Check"

	if !room.IsPublic && !g.IsMember(room, actorID) {
		return syncerr.AccessDenied(op, "not a member of room "+room.ID)
	}
	if requireWrite && room.ReadOnly && !IsAdmin(room, actorID) {
		return syncerr.ReadOnly(op, "room "+room.ID+" is read-only")
	}
	return nil
}

// IsMember reports membership, applying the missing-members policy
func (g Gate) IsMember(room Room, actorID string) bool {
	if room.Members == nil {
		return g.AllowMissingMembers
	}
	return slices.Contains(room.Members, actorID)
}

func IsAdmin(room Room, actorID string) bool {
	return slices.Contains(room.Admins, actorID)
}
