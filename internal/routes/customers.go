package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/bahi-khata/bahi_khata/internal/customer"
	"github.com/bahi-khata/bahi_khata/internal/ledger"
	"github.com/bahi-khata/bahi_khata/internal/otp"
	"github.com/bahi-khata/bahi_khata/internal/transactions"
	"github.com/bahi-khata/bahi_khata/internal/verification"
)

// RegisterCustomerRoutes wires identity resolution and customer read endpoints.
func RegisterCustomerRoutes(r fiber.Router, orch *transactions.Orchestrator, resolver *verification.Resolver, customers customer.Repository, books ledger.Ledger, otpLimiter fiber.Handler) {
	r.Post("/customers/resolve", otpLimiter, func(c *fiber.Ctx) error {
		var req struct {
			Mobile      string `json:"mobile"`
			SecondaryID string `json:"secondary_id"`
			Name        string `json:"name"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		ownerID, _ := c.Locals("shopkeeper_id").(string)

		outcome, err := orch.ResolveIdentity(c.UserContext(), ownerID, req.Mobile, req.SecondaryID, req.Name)
		if err != nil {
			return transactions.RespondFailure(c, err)
		}

		resp := fiber.Map{"outcome": outcome.Kind}
		switch outcome.Kind {
		case verification.OutcomeExisting:
			resp["customer_id"] = outcome.CustomerID
		case verification.OutcomeNeedsOtp:
			resp["challenge_id"] = outcome.ChallengeID
			resp["mode"] = outcome.Mode
		}
		return c.Status(http.StatusOK).JSON(resp)
	})

	r.Post("/customers/verify-otp", func(c *fiber.Ctx) error {
		var req struct {
			ChallengeID string `json:"challenge_id"`
			Code        string `json:"code"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		created, remaining, err := resolver.VerifyOtp(c.UserContext(), req.ChallengeID, req.Code)
		if err != nil {
			switch {
			case errors.Is(err, otp.ErrWrongCode):
				return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
					"error": "wrong code", "attempts_remaining": remaining,
				})
			case errors.Is(err, otp.ErrChallengeExpired), errors.Is(err, verification.ErrChallengeExpired):
				return fiber.NewError(http.StatusGone, "challenge expired, resolve again")
			case errors.Is(err, otp.ErrAttemptsExhausted):
				return fiber.NewError(http.StatusGone, "attempts exhausted, resolve again")
			case errors.Is(err, otp.ErrChallengeNotFound), errors.Is(err, verification.ErrChallengeNotFound):
				return fiber.NewError(http.StatusNotFound, "challenge not found")
			case errors.Is(err, verification.ErrVerificationFailed):
				return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
			default:
				return fiber.NewError(http.StatusInternalServerError, err.Error())
			}
		}
		return c.Status(http.StatusCreated).JSON(fiber.Map{
			"customer_id":  created.ID,
			"display_name": created.DisplayName,
			"mobile":       created.Mobile,
			"balance":      created.Balance,
		})
	})

	r.Post("/customers/resend-otp", otpLimiter, func(c *fiber.Ctx) error {
		var req struct {
			ChallengeID string `json:"challenge_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if err := resolver.ResendOtp(c.UserContext(), req.ChallengeID); err != nil {
			switch {
			case errors.Is(err, verification.ErrChallengeNotFound), errors.Is(err, otp.ErrChallengeNotFound):
				return fiber.NewError(http.StatusNotFound, "challenge not found")
			case errors.Is(err, verification.ErrChallengeExpired), errors.Is(err, otp.ErrChallengeExpired):
				return fiber.NewError(http.StatusGone, "challenge expired, resolve again")
			case errors.Is(err, otp.ErrDeliveryFailed):
				return fiber.NewError(http.StatusBadGateway, "delivery failed, try again")
			default:
				return fiber.NewError(http.StatusInternalServerError, err.Error())
			}
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"status": "sent"})
	})

	r.Get("/customers", func(c *fiber.Ctx) error {
		ownerID, _ := c.Locals("shopkeeper_id").(string)
		list, err := customers.List(c.UserContext(), ownerID)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		out := make([]fiber.Map, 0, len(list))
		for _, record := range list {
			balance, err := books.Balance(c.UserContext(), record.ID)
			if err != nil && !errors.Is(err, ledger.ErrCustomerNotFound) {
				return fiber.NewError(http.StatusInternalServerError, err.Error())
			}
			out = append(out, fiber.Map{
				"customer_id":  record.ID,
				"display_name": record.DisplayName,
				"mobile":       record.Mobile,
				"balance":      balance,
			})
		}
		return c.JSON(fiber.Map{"customers": out})
	})

	r.Get("/customers/:id/balance", func(c *fiber.Ctx) error {
		record, err := ownedCustomer(c, customers)
		if err != nil {
			return err
		}
		balance, err := books.Balance(c.UserContext(), record.ID)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"customer_id": record.ID, "balance": balance})
	})

	r.Get("/customers/:id/statement", func(c *fiber.Ctx) error {
		record, err := ownedCustomer(c, customers)
		if err != nil {
			return err
		}
		history, err := books.Statement(c.UserContext(), record.ID)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		entries := make([]fiber.Map, 0, len(history))
		for _, tx := range history {
			entries = append(entries, fiber.Map{
				"transaction_id": tx.ID,
				"kind":           tx.Kind,
				"amount":         tx.Amount,
				"description":    tx.Description,
				"evidence_ref":   tx.EvidenceRef,
				"occurred_at":    tx.OccurredAt,
				"recorded_at":    tx.RecordedAt,
			})
		}
		return c.JSON(fiber.Map{"customer_id": record.ID, "transactions": entries})
	})
}

func ownedCustomer(c *fiber.Ctx, customers customer.Repository) (customer.Customer, error) {
	ownerID, _ := c.Locals("shopkeeper_id").(string)
	record, err := customers.Get(c.UserContext(), c.Params("id"))
	if err != nil || record.OwnerID != ownerID {
		return customer.Customer{}, fiber.NewError(http.StatusNotFound, "customer not found")
	}
	return record, nil
}
