package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ashureev/marketing-hub/internal/domain"
	"github.com/ashureev/marketing-hub/internal/router"
	"github.com/go-chi/chi/v5"
)

// RegisterCatalog registers the persona catalog and classifier routes.
func RegisterCatalog(r chi.Router) {
	r.Get("/api/personas", ListPersonas)
	r.Post("/api/router/classify", Classify)
}

// ListPersonas returns the persona catalog in declaration order.
func ListPersonas(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"personas": domain.Personas()})
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Persona domain.PersonaID         `json:"persona"`
	Scores  []router.PersonaScore    `json:"scores"`
	Command *domain.DashboardCommand `json:"command,omitempty"`
}

// Classify reports how a chat input would be routed without sending it.
func Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	resp := classifyResponse{
		Persona: router.ClassifyPersona(req.Text),
		Scores:  router.ScorePersonas(req.Text),
	}
	if cmd, ok := router.DetectCommand(req.Text); ok {
		resp.Command = cmd
	}
	JSON(w, http.StatusOK, resp)
}
