package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/narvanalabs/keyrelay/internal/api/errors"
	"github.com/narvanalabs/keyrelay/internal/mailer"
)

// MaxRecipients bounds the recipient list of a single send.
const MaxRecipients = 50

// EmailHandler relays email for authenticated callers.
type EmailHandler struct {
	sender mailer.Sender
	logger *slog.Logger
}

// NewEmailHandler creates a new email handler.
func NewEmailHandler(sender mailer.Sender, logger *slog.Logger) *EmailHandler {
	return &EmailHandler{
		sender: sender,
		logger: logger,
	}
}

// SendEmailRequest is the body of POST /v1/email.
type SendEmailRequest struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SendEmailV2Request is the body of POST /v2/email.
type SendEmailV2Request struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Send handles the single-recipient endpoint.
func (h *EmailHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	if blank(req.Email) || blank(req.Subject) || blank(req.Body) {
		WriteBadRequest(w, r, "email, subject and body must not be empty")
		return
	}

	h.deliver(w, r, mailer.Message{To: []string{req.Email}, Subject: req.Subject, Body: req.Body})
}

// SendV2 handles the multi-recipient endpoint.
func (h *EmailHandler) SendV2(w http.ResponseWriter, r *http.Request) {
	var req SendEmailV2Request
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	if blank(req.Subject) || blank(req.Body) {
		WriteBadRequest(w, r, "subject and body must not be empty")
		return
	}
	if len(req.To) == 0 {
		WriteBadRequest(w, r, "at least one recipient is required")
		return
	}
	if len(req.To) > MaxRecipients {
		WriteBadRequest(w, r, fmt.Sprintf("at most %d recipients are allowed", MaxRecipients))
		return
	}

	h.deliver(w, r, mailer.Message{To: req.To, Subject: req.Subject, Body: req.Body})
}

func (h *EmailHandler) deliver(w http.ResponseWriter, r *http.Request, msg mailer.Message) {
	for _, addr := range msg.To {
		if !mailer.ValidAddress(addr) {
			WriteBadRequest(w, r, fmt.Sprintf("the email %q is invalid", addr))
			return
		}
	}

	if err := h.sender.Send(r.Context(), msg); err != nil {
		h.logger.Error("failed to send email", "recipients", len(msg.To), "error", err)
		WriteError(w, r, apierrors.NewRelayError("failed to relay message"))
		return
	}

	WriteOK(w, r, "email sent successfully")
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
