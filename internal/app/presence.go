package app

import "sync"

// presence tracks which players of a session are connected. A player is present
// from join until its last realtime connection drops.
type presence struct {
	mu       sync.Mutex
	sessions map[string]map[string]int // session -> player -> open connections
}

func newPresence() *presence {
	return &presence{sessions: make(map[string]map[string]int)}
}

// join marks the player present before any connection is opened.
func (p *presence) join(sessionID, playerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	players := p.playersLocked(sessionID)
	if _, ok := players[playerID]; !ok {
		players[playerID] = 0
	}
}

// connect reports whether the player was absent before this connection.
func (p *presence) connect(sessionID, playerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	players := p.playersLocked(sessionID)
	n, ok := players[playerID]
	players[playerID] = n + 1
	return !ok
}

// disconnect reports whether the player's last connection just dropped.
func (p *presence) disconnect(sessionID, playerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	players, ok := p.sessions[sessionID]
	if !ok {
		return false
	}
	n, ok := players[playerID]
	if !ok {
		return false
	}
	if n > 1 {
		players[playerID] = n - 1
		return false
	}
	delete(players, playerID)
	return true
}

// leave reports whether the player was present.
func (p *presence) leave(sessionID, playerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	players, ok := p.sessions[sessionID]
	if !ok {
		return false
	}
	if _, ok := players[playerID]; !ok {
		return false
	}
	delete(players, playerID)
	return true
}

func (p *presence) count(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions[sessionID])
}

func (p *presence) isPresent(sessionID, playerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[sessionID][playerID]
	return ok
}

func (p *presence) drop(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
}

func (p *presence) playersLocked(sessionID string) map[string]int {
	players, ok := p.sessions[sessionID]
	if !ok {
		players = make(map[string]int)
		p.sessions[sessionID] = players
	}
	return players
}
