// internal/handler/campaign_handler.go
package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-backend/internal/controller"
	"github.com/unclebandit/outreach-backend/internal/service"
)

const maxWebhookBytes = 1 << 20

// CampaignHandler serves campaign views and the transport webhook.
type CampaignHandler struct {
	Service  *service.CampaignService
	Webhooks *service.WebhookService
	Logger   zerolog.Logger
}

// Mount registers the view and webhook routes on r.
func (h *CampaignHandler) Mount(r chi.Router) {
	r.Get("/campaigns/{id}", h.GetCampaignHandlerWithStats)
	r.Get("/campaigns/{id}/emails", h.ListEmailsHandler)
	r.Get("/campaigns/{id}/events", h.ListEventsHandler)
	r.Post("/webhooks/email", h.WebhookHandler)
}

func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		controller.WriteError(w, r, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, details)
}

// ListEmailsHandler returns the queue rows of a campaign, optionally filtered by status.
func (h *CampaignHandler) ListEmailsHandler(w http.ResponseWriter, r *http.Request) {
	rows, pagination, err := h.Service.ListEmails(r.Context(),
		chi.URLParam(r, "id"),
		r.URL.Query().Get("status"),
		controller.QueryInt(r, "page", 1),
		controller.QueryInt(r, "page_size", 20),
	)
	if err != nil {
		controller.WriteError(w, r, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       rows,
		"pagination": pagination,
	})
}

func (h *CampaignHandler) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	events, pagination, err := h.Service.ListEvents(r.Context(),
		chi.URLParam(r, "id"),
		controller.QueryInt(r, "page", 1),
		controller.QueryInt(r, "page_size", 20),
	)
	if err != nil {
		controller.WriteError(w, r, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       events,
		"pagination": pagination,
	})
}

// WebhookHandler always answers 200 so the transport does not retry.
func (h *CampaignHandler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.Logger.Warn().Err(err).Msg("reading webhook body failed")
		controller.WriteJSON(w, http.StatusOK, service.IngestResult{Outcomes: map[string]int{service.OutcomeError: 1}})
		return
	}
	result := h.Webhooks.Ingest(r.Context(), body)
	controller.WriteJSON(w, http.StatusOK, result)
}
