package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bahi-khata/bahi_khata/internal/transactions"
)

// RegisterTransactionRoutes wires the transaction flow. The commit endpoint
// sits behind the idempotent-response middleware when Redis is available.
func RegisterTransactionRoutes(r fiber.Router, h *transactions.Handler, otpLimiter fiber.Handler, idem fiber.Handler) {
	r.Post("/transactions", h.Begin)
	r.Post("/transactions/:id/otp/issue", otpLimiter, h.IssueOtp)
	r.Post("/transactions/:id/otp/verify", h.VerifyOtp)
	if idem != nil {
		r.Post("/transactions/:id/commit", idem, h.Commit)
	} else {
		r.Post("/transactions/:id/commit", h.Commit)
	}
}
