package shopkeeper

import "time"

// Shopkeeper is the recording user that owns a ledger of customers.
type Shopkeeper struct {
	ID           string
	Phone        string
	Name         string
	PINHash      []byte
	TokenVersion int
	CreatedAt    time.Time
}

// Credentials request structure.
type Credentials struct {
	Phone string
	PIN   string
	Name  string
}
