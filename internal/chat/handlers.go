package chat

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Alexander-D-Karpov/huddle/internal/audit"
	"github.com/Alexander-D-Karpov/huddle/internal/auth/interceptor"
	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/pagination"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
	"github.com/Alexander-D-Karpov/huddle/internal/middleware"
	"github.com/Alexander-D-Karpov/huddle/internal/ratelimit"
)

type Handler struct {
	service *Service
	audit   *audit.Logger
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
	}
}

// SetAudit records sends and deletes to al. A nil logger disables auditing.
func (h *Handler) SetAudit(al *audit.Logger) {
	h.audit = al
}

type DeleteMessageResponse struct {
	ID int64 `json:"id,string"`
}

// ListMessages serves GET /messages?cursor=&limit= with the page in ascending id order.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := pagination.ParseRequest(q.Get("cursor"), q.Get("limit"), h.service.Limits())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	page, err := h.service.List(r.Context(), req)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if page == nil {
		page = []*messaging.Message{}
	}

	middleware.WriteJSON(w, http.StatusOK, messaging.Reverse(page))
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req messaging.SendRequest
	if err := middleware.DecodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	msg, err := h.service.Send(r.Context(), req)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	h.audit.LogMessageSent(r.Context(), interceptor.GetSubject(r.Context()), ratelimit.ClientIP(r), msg.ID, msg.ReplyTo != nil)
	middleware.WriteJSON(w, http.StatusCreated, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		middleware.WriteError(w, r, errors.Validation("invalid message id"))
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	h.audit.LogMessageDeleted(r.Context(), interceptor.GetSubject(r.Context()), ratelimit.ClientIP(r), id)
	middleware.WriteJSON(w, http.StatusOK, DeleteMessageResponse{ID: id})
}
