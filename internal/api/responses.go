package api

import (
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/tutorline/replybank/internal/services/orchestrator"
	"github.com/tutorline/replybank/internal/services/request"
	"github.com/tutorline/replybank/internal/services/response"
)

// ResponsesHandler exposes the generation pipeline and the review flow.
type ResponsesHandler struct {
	orchestrator *orchestrator.Orchestrator
	requestSvc   *request.Service
	responseSvc  *response.Service
}

func NewResponsesHandler(orch *orchestrator.Orchestrator) *ResponsesHandler {
	return &ResponsesHandler{
		orchestrator: orch,
		requestSvc:   request.NewService(),
		responseSvc:  response.NewService(),
	}
}

// Generate drafts an answer for a message. Skips and lock contention map to
// distinct statuses so callers can branch on them.
func (h *ResponsesHandler) Generate(c *fiber.Ctx) error {
	requestID := h.requestSvc.GetRequestID(c)

	messageID, err := c.ParamsInt("messageId")
	if err != nil || messageID <= 0 {
		return h.responseSvc.Error(c, fiber.StatusBadRequest, "invalid message id", "validation", "invalid_message_id")
	}

	fiberlog.Infof("[%s] Generating response for message %d", requestID, messageID)

	record, genErr := h.orchestrator.GenerateResponse(c.UserContext(), uint(messageID))
	if genErr != nil {
		fiberlog.Warnf("[%s] Generation failed for message %d: %v", requestID, messageID, genErr)
		return h.responseSvc.FromError(c, genErr)
	}

	return h.responseSvc.Success(c, record)
}

// Approve marks a draft as sent verbatim.
func (h *ResponsesHandler) Approve(c *fiber.Ctx) error {
	requestID := h.requestSvc.GetRequestID(c)

	responseID, err := c.ParamsInt("responseId")
	if err != nil || responseID <= 0 {
		return h.responseSvc.Error(c, fiber.StatusBadRequest, "invalid response id", "validation", "invalid_response_id")
	}

	fiberlog.Infof("[%s] Approving response %d", requestID, responseID)

	record, appErr := h.orchestrator.ApproveAndSend(c.UserContext(), uint(responseID))
	if appErr != nil {
		return h.responseSvc.FromError(c, appErr)
	}
	return h.responseSvc.Success(c, record)
}

type editRequest struct {
	Answer string `json:"answer"`
}

// Edit marks a draft as sent with advisor edits applied.
func (h *ResponsesHandler) Edit(c *fiber.Ctx) error {
	requestID := h.requestSvc.GetRequestID(c)

	responseID, err := c.ParamsInt("responseId")
	if err != nil || responseID <= 0 {
		return h.responseSvc.Error(c, fiber.StatusBadRequest, "invalid response id", "validation", "invalid_response_id")
	}

	var body editRequest
	if err := c.BodyParser(&body); err != nil {
		return h.responseSvc.Error(c, fiber.StatusBadRequest, "invalid request body", "validation", "invalid_body")
	}

	fiberlog.Infof("[%s] Editing and sending response %d", requestID, responseID)

	record, editErr := h.orchestrator.EditAndSend(c.UserContext(), uint(responseID), body.Answer)
	if editErr != nil {
		return h.responseSvc.FromError(c, editErr)
	}
	return h.responseSvc.Success(c, record)
}

// Pending lists drafts awaiting review, optionally filtered by advisor.
func (h *ResponsesHandler) Pending(c *fiber.Ctx) error {
	if advisorID := c.QueryInt("advisorId"); advisorID > 0 {
		records, err := h.orchestrator.PendingForAdvisor(c.UserContext(), uint(advisorID))
		if err != nil {
			return h.responseSvc.FromError(c, err)
		}
		return h.responseSvc.Success(c, records)
	}

	records, err := h.orchestrator.AllPending(c.UserContext())
	if err != nil {
		return h.responseSvc.FromError(c, err)
	}
	return h.responseSvc.Success(c, records)
}

// Sweep triggers one batch pass over unanswered messages.
func (h *ResponsesHandler) Sweep(c *fiber.Ctx) error {
	requestID := h.requestSvc.GetRequestID(c)
	fiberlog.Infof("[%s] Manual sweep triggered", requestID)

	result, err := h.orchestrator.ProcessPendingMessages(c.UserContext())
	if err != nil {
		return h.responseSvc.FromError(c, err)
	}
	return h.responseSvc.Success(c, result)
}
