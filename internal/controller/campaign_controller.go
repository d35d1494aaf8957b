// internal/controller/campaign_controller.go
package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/outreach-backend/internal/errors"
	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/service"
)

// CampaignController serves the campaign lifecycle operations.
type CampaignController struct {
	CampaignService *service.CampaignService
}

// Mount registers the lifecycle routes on r.
func (c *CampaignController) Mount(r chi.Router) {
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Put("/campaigns/{id}", c.UpdateCampaign)
	r.Patch("/campaigns/{id}/status", c.UpdateStatus)
	r.Delete("/campaigns/{id}", c.DeleteCampaign)
	r.Post("/campaigns/{id}/send", c.SendCampaign)
	r.Post("/campaigns/{id}/process", c.ProcessNextBatch)
	r.Post("/campaigns/{id}/pause", c.PauseCampaign)
	r.Post("/campaigns/{id}/resume", c.ResumeCampaign)
	r.Post("/campaigns/{id}/cancel", c.CancelCampaign)
	r.Get("/campaigns/{id}/preview", c.PreviewCampaign)
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CampaignInput
	if err := decodeBody(r, &body, false); err != nil {
		WriteError(w, r, err)
		return
	}

	result, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		// created but the immediate start failed: report both
		if result != nil && result.Campaign != nil && result.Campaign.ID != "" {
			WriteJSON(w, StatusFor(err), map[string]interface{}{"error": err.Error(), "campaign": result.Campaign})
			return
		}
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, result)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page := QueryInt(r, "page", 1)
	pageSize := QueryInt(r, "page_size", 20)
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CampaignInput
	if err := decodeBody(r, &body, false); err != nil {
		WriteError(w, r, err)
		return
	}
	campaign, err := c.CampaignService.UpdateCampaign(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body, false); err != nil {
		WriteError(w, r, err)
		return
	}
	if body.Status == "" {
		WriteError(w, r, appErrors.NewValidation("status", "is required"))
		return
	}
	campaign, err := c.CampaignService.UpdateStatus(r.Context(), chi.URLParam(r, "id"), model.CampaignStatus(body.Status))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := c.CampaignService.DeleteCampaign(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendCampaign starts a draft or scheduled campaign.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	result, err := c.CampaignService.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// ProcessNextBatch takes batch_size from the query string or a JSON body.
func (c *CampaignController) ProcessNextBatch(w http.ResponseWriter, r *http.Request) {
	body := struct {
		BatchSize int `json:"batch_size"`
	}{BatchSize: QueryInt(r, "batch_size", 0)}
	if err := decodeBody(r, &body, true); err != nil {
		WriteError(w, r, err)
		return
	}
	if body.BatchSize < 0 {
		WriteError(w, r, appErrors.NewValidation("batch_size", "must not be negative"))
		return
	}

	result, err := c.CampaignService.ProcessNextBatch(r.Context(), chi.URLParam(r, "id"), body.BatchSize)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	result, err := c.CampaignService.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) PreviewCampaign(w http.ResponseWriter, r *http.Request) {
	emails, err := c.CampaignService.Preview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":  emails,
		"count": len(emails),
	})
}
