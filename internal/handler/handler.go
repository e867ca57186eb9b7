package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/growplant/growplant/internal/config"
	"github.com/growplant/growplant/internal/logger"
	"github.com/growplant/growplant/internal/service"
)

// Pinger is what the health endpoint needs from the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	account service.AccountService
	db      Pinger
	cfg     *config.Config
}

func New(account service.AccountService, db Pinger, cfg *config.Config) *Handler {
	return &Handler{account, db, cfg}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("failed to encode response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
