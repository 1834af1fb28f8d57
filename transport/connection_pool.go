package transport

import (
	"sync"
)

// ConnectionPool indexes live UDP connections by remote address string.
type ConnectionPool struct {
	sync.RWMutex
	m map[string]Connection
}

func NewConnectionPool() ConnectionPool {
	return ConnectionPool{
		m: make(map[string]Connection),
	}
}

func (p *ConnectionPool) Add(a string, c Connection) {
	p.Lock()
	p.m[a] = c
	p.Unlock()
}

func (p *ConnectionPool) Get(a string) (c Connection) {
	p.RLock()
	c = p.m[a]
	p.RUnlock()
	return c
}

func (p *ConnectionPool) Del(a string) {
	p.Lock()
	delete(p.m, a)
	p.Unlock()
}

// CloseAndDelete closes c and removes it from the pool under addr. Used
// when a connected client socket's read loop exits.
func (p *ConnectionPool) CloseAndDelete(c Connection, addr string) {
	p.Lock()
	delete(p.m, addr)
	p.Unlock()
	_ = c.Close()
}

// Clear closes every pooled connection. Called on transport shutdown.
func (p *ConnectionPool) Clear() {
	p.Lock()
	defer p.Unlock()
	for addr, c := range p.m {
		_ = c.Close()
		delete(p.m, addr)
	}
}
