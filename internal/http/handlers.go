package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Craverse/craveverse/internal/auth"
	"github.com/Craverse/craveverse/internal/economy"
	"github.com/Craverse/craveverse/internal/models"

	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type purchaseRequest struct {
	ItemID   string `json:"item_id"`
	Quantity *int   `json:"quantity"`
}

type activatePauseRequest struct {
	InventoryID string `json:"inventory_id"`
	Days        int    `json:"days"`
}

type levelRequest struct {
	LevelID string `json:"level_id"`
}

type themeRequest struct {
	ThemeID string `json:"theme_id"`
}

type purchaseResponse struct {
	Success bool `json:"success"`
	economy.PurchaseResult
}

type pauseResponse struct {
	Pause *economy.PauseWindow `json:"pause"`
}

type themeResponse struct {
	Success         bool             `json:"success"`
	ThemeID         string           `json:"theme_id"`
	Personalization models.ThemeData `json:"personalization"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.Catalog.Items(r.Context())
	if err != nil {
		a.logger().WithError(err).Error("list shop items")
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handlePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req purchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ItemID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "item_id required")
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	res, err := a.Engine.Purchase(r.Context(), userID, req.ItemID, qty)
	if err != nil {
		a.fail(w, r, err, logrus.Fields{"item_id": req.ItemID})
		return
	}
	writeJSON(w, http.StatusOK, purchaseResponse{Success: true, PurchaseResult: res})
}

func (a *API) handlePurchaseHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := a.Engine.GetPurchaseHistory(r.Context(), userID, limit)
	if err != nil {
		a.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": records})
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	items, err := a.Engine.GetInventory(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": items})
}

func (a *API) handleActivatePause(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req activatePauseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.InventoryID == "" || req.Days < 1 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "inventory_id and positive days required")
		return
	}
	win, err := a.Engine.ActivatePause(r.Context(), userID, req.InventoryID, req.Days)
	if err != nil {
		a.fail(w, r, err, logrus.Fields{"inventory_id": req.InventoryID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pause_period": win})
}

func (a *API) handleActivePause(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	win, err := a.Engine.GetActivePause(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, pauseResponse{Pause: win})
}

func (a *API) handleUseLevelSkip(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req levelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.LevelID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "level_id required")
		return
	}
	res, err := a.Engine.UseLevelSkip(r.Context(), userID, req.LevelID)
	if err != nil {
		a.fail(w, r, err, logrus.Fields{"level_id": req.LevelID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

func (a *API) handleListThemes(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	themes, err := a.Engine.ListThemes(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"themes": themes})
}

func (a *API) handleApplyTheme(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req themeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ThemeID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "theme_id required")
		return
	}
	data, err := a.Engine.ApplyTheme(r.Context(), userID, req.ThemeID)
	if err != nil {
		a.fail(w, r, err, logrus.Fields{"theme_id": req.ThemeID})
		return
	}
	writeJSON(w, http.StatusOK, themeResponse{Success: true, ThemeID: req.ThemeID, Personalization: data})
}

func (a *API) handleCompleteLevel(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req levelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.LevelID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "level_id required")
		return
	}
	res, err := a.Engine.CompleteLevel(r.Context(), userID, req.LevelID)
	if err != nil {
		a.fail(w, r, err, logrus.Fields{"level_id": req.LevelID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	settings, err := a.Engine.ActiveTheme(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *API) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user")
		return "", false
	}
	return userID, true
}

// fail logs infrastructure failures and writes the mapped envelope. Business
// rule outcomes are logged at debug only.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, fields logrus.Fields) {
	userID, _ := auth.UserIDFromContext(r.Context())
	entry := a.logger().WithFields(fields).WithFields(logrus.Fields{
		"user_id": userID,
		"path":    r.URL.Path,
		"code":    economy.Code(err),
	}).WithError(err)
	switch economy.Code(err) {
	case "INTERNAL_ERROR":
		entry.Error("request failed")
	case "BUSY", "UNAVAILABLE":
		entry.Warn("request failed")
	default:
		entry.Debug("request rejected")
	}
	writeEconomyError(w, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid payload")
		return false
	}
	return true
}
