package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfse-gateway/internal/application/dto"
)

// HeaderBusinessID cabecera con la empresa emisora. La autenticación ocurre antes, en el gateway.
const HeaderBusinessID = "X-Business-ID"

// LocalBusinessID key de c.Locals para la empresa.
const LocalBusinessID = "business_id"

// BusinessMiddleware exige la cabecera X-Business-ID y la deja en c.Locals.
func BusinessMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		businessID := strings.TrimSpace(c.Get(HeaderBusinessID))
		if businessID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "MISSING_BUSINESS", Message: HeaderBusinessID + " requerido"})
		}
		c.Locals(LocalBusinessID, businessID)
		return c.Next()
	}
}

// GetBusinessID devuelve la empresa del contexto (después de BusinessMiddleware).
func GetBusinessID(c *fiber.Ctx) string {
	v := c.Locals(LocalBusinessID)
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
