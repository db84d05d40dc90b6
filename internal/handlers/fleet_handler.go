package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aditus/internal/broker"
)

// FleetHandler exposes the worker catalog
type FleetHandler struct {
	broker *broker.Broker
	logger arbor.ILogger
}

// NewFleetHandler creates a new fleet handler
func NewFleetHandler(b *broker.Broker, logger arbor.ILogger) *FleetHandler {
	return &FleetHandler{broker: b, logger: logger}
}

// FleetStatusHandler returns fresh worker observations grouped by category
// GET /api/fleet
func (h *FleetHandler) FleetStatusHandler(w http.ResponseWriter, r *http.Request) {
	catalog := h.broker.Catalog()
	observations := catalog.Observations()

	perCategory := make(map[string]int)
	for category, count := range catalog.ActiveWorkersPerCategory() {
		perCategory[category.String()] = count
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workers":      observations,
		"per_category": perCategory,
		"total":        len(observations),
	})
}
