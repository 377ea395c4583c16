package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/visemo/visemo/internal/domain"
)

// StartSession records when a student opened the activity.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, activityID, err := pairIDs(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	started, err := h.repo.StartSession(r.Context(), userID, activityID, time.Now())
	if err != nil {
		slog.Error("Failed to start session", "error", err, "user_id", userID, "activity_id", activityID)
		Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	if started {
		slog.Info("Activity session started", "user_id", userID, "activity_id", activityID)
	}

	JSON(w, http.StatusOK, map[string]bool{"sessionStarted": started})
}

type recordEmotionRequest struct {
	Emotion string `json:"emotion"`
}

// RecordEmotion appends one classified camera sample.
func (h *Handler) RecordEmotion(w http.ResponseWriter, r *http.Request) {
	userID, activityID, err := pairIDs(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var req recordEmotionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	obs, err := domain.NewObservation(userID, activityID, req.Emotion, time.Now())
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.repo.AppendObservation(r.Context(), obs); err != nil {
		slog.Error("Failed to record emotion", "error", err, "user_id", userID, "activity_id", activityID)
		Error(w, http.StatusInternalServerError, "failed to record emotion")
		return
	}

	JSON(w, http.StatusCreated, obs)
}

type recordCountsRequest struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// RecordEmotionCounts appends one pre-aggregated detection batch.
func (h *Handler) RecordEmotionCounts(w http.ResponseWriter, r *http.Request) {
	userID, activityID, err := pairIDs(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var req recordCountsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Positive < 0 || req.Negative < 0 || req.Neutral < 0 {
		Error(w, http.StatusBadRequest, "emotion counts must be >= 0")
		return
	}

	counts := &domain.EmotionCounts{
		UserID:     userID,
		ActivityID: activityID,
		Positive:   req.Positive,
		Negative:   req.Negative,
		Neutral:    req.Neutral,
		RecordedAt: time.Now(),
	}
	if _, err := h.repo.AppendEmotionCounts(r.Context(), counts); err != nil {
		slog.Error("Failed to record emotion counts", "error", err, "user_id", userID, "activity_id", activityID)
		Error(w, http.StatusInternalServerError, "failed to record emotion counts")
		return
	}

	JSON(w, http.StatusCreated, counts)
}

// UserEmotionSummary returns a student's valence totals for an activity.
func (h *Handler) UserEmotionSummary(w http.ResponseWriter, r *http.Request) {
	userID, activityID, err := pairIDs(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := h.repo.AggregateUserEmotions(r.Context(), userID, activityID)
	if err != nil {
		slog.Error("Failed to aggregate user emotions", "error", err, "user_id", userID, "activity_id", activityID)
		Error(w, http.StatusInternalServerError, "failed to aggregate emotions")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"userId":     userID,
		"activityId": activityID,
		"emotions":   sum,
	})
}

// ActivityEmotionSummary returns valence totals across all students.
func (h *Handler) ActivityEmotionSummary(w http.ResponseWriter, r *http.Request) {
	activityID, err := pathID(r, "activityID")
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := h.repo.AggregateActivityEmotions(r.Context(), activityID)
	if err != nil {
		slog.Error("Failed to aggregate activity emotions", "error", err, "activity_id", activityID)
		Error(w, http.StatusInternalServerError, "failed to aggregate emotions")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"activityId":            activityID,
		"totalPositiveEmotions": sum.Positive,
		"totalNegativeEmotions": sum.Negative,
		"totalNeutralEmotions":  sum.Neutral,
	})
}
