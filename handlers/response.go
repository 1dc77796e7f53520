// handlers/response.go
package handlers

import (
	"errors"
	"log"
	"reflect"
	"strings"

	"otakumori-rewards/middleware"
	"otakumori-rewards/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func ok(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{"ok": true, "data": data})
}

// respondError maps core errors onto the envelope. Anything unrecognised is
// logged and reported as internal.
func respondError(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return middleware.Abort(c, fiber.StatusBadRequest, "validation", describeValidation(verrs))
	case errors.Is(err, services.ErrValidation):
		return middleware.Abort(c, fiber.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, services.ErrNotFound):
		return middleware.Abort(c, fiber.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, services.ErrInsufficientPetals):
		return middleware.Abort(c, fiber.StatusConflict, "insufficient_petals", err.Error())
	case errors.Is(err, services.ErrDuplicateRequest):
		return middleware.Abort(c, fiber.StatusConflict, "duplicate_request", err.Error())
	case errors.Is(err, services.ErrConflict):
		return middleware.Abort(c, fiber.StatusConflict, "conflict", err.Error())
	}

	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return middleware.Abort(c, fe.Code, "validation", fe.Message)
	}

	log.Printf("❌ [HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
	return middleware.Abort(c, fiber.StatusInternalServerError, "internal", "internal server error")
}

func describeValidation(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "min", "gte":
			parts = append(parts, field+" must be at least "+fe.Param())
		case "max", "lte":
			parts = append(parts, field+" must be at most "+fe.Param())
		case "oneof":
			parts = append(parts, field+" must be one of: "+fe.Param())
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

// parseBody decodes and validates a JSON body. An empty body leaves dst as is.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dst); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
	}
	return validate.Struct(dst)
}
