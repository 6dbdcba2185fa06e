package ledger

import "context"

// SeedBalance is a test helper that seeds the balance for a customer when using the in-memory ledger.
func SeedBalance(l Ledger, customerID string, amount int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		_ = mem.EnsureCustomer(context.Background(), customerID)
		acct, _ := mem.account(customerID)
		acct.mu.Lock()
		defer acct.mu.Unlock()
		acct.balance = amount
	}
}
