package core

import "github.com/dkeye/WorldRelay/internal/domain"

// MemberSession binds domain.Member and its transport endpoint.
// This is what a world session stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
	// Username is the current display label; it may change after join.
	Username() string
	Rename(name string) error
}
