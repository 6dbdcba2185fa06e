package transactions

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/bahi-khata/bahi_khata/internal/ledger"
)

// Handler exposes the transaction flow endpoints.
type Handler struct {
	svc *Orchestrator
}

// NewHandler constructs a transaction handler.
func NewHandler(svc *Orchestrator) *Handler {
	return &Handler{svc: svc}
}

type beginRequest struct {
	CustomerID  string `json:"customer_id"`
	Kind        string `json:"kind"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	EvidenceRef string `json:"evidence_ref"`
	OccurredAt  string `json:"occurred_at"`
}

// Begin registers a transaction intent.
func (h *Handler) Begin(c *fiber.Ctx) error {
	var req beginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ownerID, _ := c.Locals("shopkeeper_id").(string)

	var occurredAt time.Time
	if req.OccurredAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "occurred_at must be RFC3339")
		}
		occurredAt = parsed
	}

	intent, err := h.svc.Begin(c.UserContext(), BeginInput{
		OwnerID:     ownerID,
		CustomerID:  req.CustomerID,
		Kind:        ledger.Kind(req.Kind),
		Amount:      req.Amount,
		Description: req.Description,
		EvidenceRef: req.EvidenceRef,
		OccurredAt:  occurredAt,
	})
	if err != nil {
		return RespondFailure(c, err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"intent_id":    intent.ID,
		"state":        intent.State,
		"kind":         intent.Kind,
		"amount":       intent.Amount,
		"requires_otp": intent.Kind == ledger.KindDebit,
	})
}

// IssueOtp dispatches the passcode guarding a debit intent.
func (h *Handler) IssueOtp(c *fiber.Ctx) error {
	ownerID, _ := c.Locals("shopkeeper_id").(string)
	challengeID, err := h.svc.IssueOtp(c.UserContext(), ownerID, c.Params("id"))
	if err != nil {
		return RespondFailure(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"challenge_id": challengeID})
}

type verifyRequest struct {
	Code string `json:"code"`
}

// VerifyOtp submits the passcode for a debit intent.
func (h *Handler) VerifyOtp(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ownerID, _ := c.Locals("shopkeeper_id").(string)
	if err := h.svc.VerifyOtp(c.UserContext(), ownerID, c.Params("id"), req.Code); err != nil {
		return RespondFailure(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"state": StateAuthorized})
}

// Commit posts an authorized intent through the balance engine. The
// idempotency key comes from the caller, making retries safe.
func (h *Handler) Commit(c *fiber.Ctx) error {
	ownerID, _ := c.Locals("shopkeeper_id").(string)
	idemKey := c.Get("Idempotency-Key")

	res, err := h.svc.Commit(c.UserContext(), ownerID, c.Params("id"), idemKey)
	if err != nil {
		return RespondFailure(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction_id": res.TransactionID,
		"balance":        res.Balance,
		"committed_at":   res.CommittedAt,
	})
}

// RespondFailure maps an orchestrator Failure to an HTTP response carrying
// the failure kind, the state machine state, and an actionable reason.
func RespondFailure(c *fiber.Ctx, err error) error {
	var failure *Failure
	if !errors.As(err, &failure) {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(failureStatus(failure.Kind)).JSON(fiber.Map{
		"error": fiber.Map{
			"kind":   failure.Kind,
			"state":  failure.State,
			"reason": failure.Reason,
		},
	})
}

func failureStatus(kind FailureKind) int {
	switch kind {
	case FailInvalidInput:
		return http.StatusBadRequest
	case FailNotFound:
		return http.StatusNotFound
	case FailWrongCode:
		return http.StatusUnauthorized
	case FailExpired, FailExhausted:
		return http.StatusGone
	case FailDeliveryError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
