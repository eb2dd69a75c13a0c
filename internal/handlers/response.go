package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/common"
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/middleware"
)

type Meta struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

// Response is the envelope of every JSON answer.
type Response struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    any      `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Details []string `json:"details,omitempty"`
	Meta    *Meta    `json:"meta,omitempty"`
}

var validate = validator.New()

func ok(c *fiber.Ctx, code int, message string, data any) error {
	return c.Status(code).JSON(Response{Success: true, Message: message, Data: data})
}

func okWithMeta(c *fiber.Ctx, message string, data any, meta *Meta) error {
	return c.JSON(Response{Success: true, Message: message, Data: data, Meta: meta})
}

type validationError struct {
	details []string
}

func (e *validationError) Error() string { return "validation failed" }

// ErrorHandler renders any error returned by a handler or middleware as the
// response envelope. Service errors map through the common taxonomy.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	var ve *validationError
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(Response{
			Message: "Validation failed",
			Error:   "ValidationFailed",
			Details: ve.details,
		})
	case errors.As(err, &fe):
		return c.Status(fe.Code).JSON(Response{Message: fe.Message, Error: codeFor(fe.Code)})
	}

	status := common.HTTPStatus(err)
	msg := err.Error()
	if status >= fiber.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{"method": c.Method(), "path": c.Path()}).Error("request failed")
		msg = "internal error"
	}
	return c.Status(status).JSON(Response{Message: msg, Error: common.Code(err)})
}

func codeFor(status int) string {
	switch status {
	case fiber.StatusUnauthorized:
		return "Unauthorized"
	case fiber.StatusForbidden:
		return "Forbidden"
	case fiber.StatusNotFound:
		return "NotFound"
	case fiber.StatusTooManyRequests:
		return "RateLimited"
	case fiber.StatusBadRequest:
		return "BadRequest"
	default:
		return "Internal"
	}
}

// bind parses the JSON body into req and runs its validate tags.
func bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request")
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &validationError{details: formatValidation(verrs)}
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func formatValidation(verrs validator.ValidationErrors) []string {
	out := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out = append(out, fmt.Sprintf("%s is required", field))
		case "min", "gte":
			out = append(out, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "max", "lte":
			out = append(out, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		case "oneof":
			out = append(out, fmt.Sprintf("%s must be one of [%s]", field, e.Param()))
		default:
			out = append(out, fmt.Sprintf("%s is invalid (%s)", field, e.Tag()))
		}
	}
	return out
}

func currentUser(c *fiber.Ctx) (uuid.UUID, error) {
	uid, found := middleware.UserID(c)
	if !found {
		return uuid.Nil, fiber.ErrUnauthorized
	}
	return uid, nil
}

func paramID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid "+name)
	}
	return id, nil
}

func queryInt(c *fiber.Ctx, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
