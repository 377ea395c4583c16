package api

import (
	"log/slog"
	"net/http"
)

// CheckPing evaluates whether the student should be pinged now.
// Precondition outcomes are returned as 200 with the reason in the body.
func (h *Handler) CheckPing(w http.ResponseWriter, r *http.Request) {
	userID, activityID, err := pairIDs(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.pings.CheckForPing(r.Context(), userID, activityID)
	if err != nil {
		slog.Error("Ping check failed", "error", err, "user_id", userID, "activity_id", activityID)
		Error(w, http.StatusInternalServerError, "failed to check ping")
		return
	}

	JSON(w, http.StatusOK, res)
}

// AcknowledgePing records that the student confirmed a ping.
func (h *Handler) AcknowledgePing(w http.ResponseWriter, r *http.Request) {
	userID, activityID, err := pairIDs(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	batch, err := pathBatchIndex(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.pings.AcknowledgePing(r.Context(), userID, activityID, batch); err != nil {
		slog.Error("Ping acknowledge failed", "error", err, "user_id", userID, "activity_id", activityID, "batch_index", batch)
		Error(w, http.StatusInternalServerError, "failed to acknowledge ping")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PingAcknowledged reports whether a batch's ping has been acknowledged.
func (h *Handler) PingAcknowledged(w http.ResponseWriter, r *http.Request) {
	userID, activityID, err := pairIDs(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	batch, err := pathBatchIndex(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := h.pings.HasAcknowledgedPing(r.Context(), userID, activityID, batch)
	if err != nil {
		slog.Error("Ping acknowledgement lookup failed", "error", err, "user_id", userID, "activity_id", activityID)
		Error(w, http.StatusInternalServerError, "failed to read ping")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"pingBatchIndex": batch,
		"acknowledged":   ok,
	})
}

// ListPings returns the pings raised during an activity.
func (h *Handler) ListPings(w http.ResponseWriter, r *http.Request) {
	activityID, err := pathID(r, "activityID")
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	pendingOnly := r.URL.Query().Get("pending") == "true"

	pings, err := h.pings.ListPings(r.Context(), activityID, pendingOnly)
	if err != nil {
		slog.Error("List pings failed", "error", err, "activity_id", activityID)
		Error(w, http.StatusInternalServerError, "failed to list pings")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"activityId": activityID,
		"pings":      pings,
	})
}
