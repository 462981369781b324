package core

import (
	"sync"

	"github.com/dkeye/WorldRelay/internal/domain"
)

// memberSession implements MemberSession by pairing meta + transport.
// meta is never mutated after construction; the label lives here instead.
type memberSession struct {
	meta *domain.Member
	conn SignalConnection

	mu       sync.RWMutex
	username string
}

func NewMemberSession(meta *domain.Member, conn SignalConnection) MemberSession {
	ms := &memberSession{meta: meta, conn: conn}
	if meta.User != nil {
		ms.username = meta.User.Username
	}
	return ms
}

func (m *memberSession) Meta() *domain.Member     { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.conn }

func (m *memberSession) Username() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.username
}

func (m *memberSession) Rename(name string) error {
	u := domain.User{}
	if err := u.SetUsername(name); err != nil {
		return err
	}
	m.mu.Lock()
	m.username = u.Username
	m.mu.Unlock()
	return nil
}
