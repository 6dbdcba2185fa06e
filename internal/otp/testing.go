package otp

// PlaintextCode is a test helper exposing the live code for a challenge. It
// returns the empty string once the challenge is consumed or discarded.
func PlaintextCode(g *Gate, challengeID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.plaintext[challengeID]
}
