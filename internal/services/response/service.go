package response

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tutorline/replybank/internal/models"
)

// Service maps service-layer results and errors onto HTTP responses.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// ErrorResponse is the standard API error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Success sends a 200 OK response with the provided data.
func (s *Service) Success(c *fiber.Ctx, data any) error {
	return c.JSON(data)
}

// Created sends a 201 Created response with the provided data.
func (s *Service) Created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

// Error sends an error response with explicit status, type and code.
func (s *Service) Error(c *fiber.Ctx, status int, message, errorType, code string) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType,
			Code:    code,
		},
	})
}

// FromError sends the response an application error maps to. Unknown error
// values become opaque 500s.
func (s *Service) FromError(c *fiber.Ctx, err error) error {
	appErr := models.AsAppError(err)
	return s.Error(c, appErr.StatusCode(), appErr.Message, string(appErr.Type), appErr.Code)
}
