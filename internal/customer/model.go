package customer

import "time"

// Customer is a counterparty in a shopkeeper's ledger, not a system
// account-holder. It is exclusively owned by the shopkeeper that recorded it.
type Customer struct {
	ID          string
	OwnerID     string
	DisplayName string
	Mobile      string
	SecondaryID string
	// Balance is the signed sum, in paise, of all committed transactions for
	// this customer. Positive means the customer owes the shopkeeper.
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
