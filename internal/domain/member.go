package domain

// MemberID is the opaque per-connection identity assigned at accept time.
type MemberID string

// Member represents one connection's attachment to a world.
// No transport or lifecycle logic here.
type Member struct {
	ID    MemberID
	World WorldID
	User  *User
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
// The world is fixed for the member's lifetime.
func NewMember(id MemberID, world WorldID, user *User) *Member {
	return &Member{ID: id, World: world, User: user}
}
