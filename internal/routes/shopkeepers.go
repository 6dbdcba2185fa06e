package routes

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/bahi-khata/bahi_khata/internal/auth"
	"github.com/bahi-khata/bahi_khata/internal/shopkeeper"
)

// RegisterShopkeeperRoutes wires shopkeeper onboarding.
func RegisterShopkeeperRoutes(r fiber.Router, keepers *shopkeeper.Service, logger *slog.Logger) {
	r.Post("/shopkeepers/register", func(c *fiber.Ctx) error {
		var req struct {
			Phone string `json:"phone"`
			PIN   string `json:"pin"`
			Name  string `json:"name"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		keeper, err := keepers.Register(c.UserContext(), shopkeeper.Credentials{Phone: req.Phone, PIN: req.PIN, Name: req.Name})
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if logger != nil {
			logger.Info("shopkeeper registered",
				slog.String("shopkeeper_id", keeper.ID),
				slog.String("phone", keeper.Phone),
			)
		}
		return c.Status(http.StatusCreated).JSON(fiber.Map{
			"shopkeeper_id": keeper.ID,
			"phone":         keeper.Phone,
			"name":          keeper.Name,
		})
	})
}

// RegisterAuthRoutes wires login/refresh/logout endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler) {
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/logout", h.Logout)
}
