package service

// SetCompare swaps the bcrypt comparison so tests can count calls.
func (g *WebdelGate) SetCompare(fn func(hash, password []byte) error) {
	g.compare = fn
}
