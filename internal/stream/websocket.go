// Package stream provides the WebSocket feed students' browsers use to push
// emotion samples and receive ping decisions on the same connection.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/visemo/visemo/internal/domain"
	"github.com/visemo/visemo/internal/ping"
	"github.com/visemo/visemo/internal/store"
)

const writeTimeout = 5 * time.Second

// Message types exchanged over the socket.
const (
	TypeEmotion   = "emotion"
	TypeCounts    = "counts"
	TypeCheck     = "check"
	TypePing      = "ping"
	TypePong      = "pong"
	TypePingCheck = "ping_check"
	TypeError     = "error"
)

// ClientMessage is sent by the browser.
type ClientMessage struct {
	Type     string `json:"type"`
	Emotion  string `json:"emotion,omitempty"`
	Positive int    `json:"positive,omitempty"`
	Negative int    `json:"negative,omitempty"`
	Neutral  int    `json:"neutral,omitempty"`
}

// ServerMessage is sent back to the browser.
type ServerMessage struct {
	Type   string            `json:"type"`
	Result *ping.CheckResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Handler serves /ws/emotions.
type Handler struct {
	emotions       store.EmotionStore
	pings          *ping.Service
	originPatterns []string
}

// NewHandler creates a stream handler. allowedOrigins are full origins
// (scheme://host) or "*".
func NewHandler(emotions store.EmotionStore, pings *ping.Service, allowedOrigins []string) *Handler {
	return &Handler{
		emotions:       emotions,
		pings:          pings,
		originPatterns: originPatterns(allowedOrigins),
	}
}

func originPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			patterns = append(patterns, o)
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err1 := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	activityID, err2 := strconv.ParseInt(r.URL.Query().Get("activityId"), 10, 64)
	if err1 != nil || err2 != nil || userID <= 0 || activityID <= 0 {
		http.Error(w, `{"error":"userId and activityId are required"}`, http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	connID := uuid.NewString()
	log := slog.With("conn_id", connID, "user_id", userID, "activity_id", activityID)
	log.Info("Emotion stream connected")

	h.readLoop(r.Context(), conn, log, userID, activityID)
	log.Info("Emotion stream ended")
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, log *slog.Logger, userID, activityID int64) {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				log.Debug("WebSocket closed by client")
			} else {
				log.Warn("WebSocket read error", "error", err)
			}
			return
		}

		reply := h.handle(ctx, log, userID, activityID, msg)
		if err := h.write(ctx, conn, reply); err != nil {
			log.Debug("WebSocket write error", "error", err)
			return
		}
	}
}

func (h *Handler) handle(ctx context.Context, log *slog.Logger, userID, activityID int64, msg ClientMessage) ServerMessage {
	switch msg.Type {
	case TypePing:
		return ServerMessage{Type: TypePong}

	case TypeEmotion:
		obs, err := domain.NewObservation(userID, activityID, msg.Emotion, time.Now())
		if err != nil {
			return ServerMessage{Type: TypeError, Error: err.Error()}
		}
		if _, err := h.emotions.AppendObservation(ctx, obs); err != nil {
			log.Error("Failed to record emotion", "error", err)
			return ServerMessage{Type: TypeError, Error: "failed to record emotion"}
		}

	case TypeCounts:
		if msg.Positive < 0 || msg.Negative < 0 || msg.Neutral < 0 {
			return ServerMessage{Type: TypeError, Error: "emotion counts must be >= 0"}
		}
		counts := &domain.EmotionCounts{
			UserID:     userID,
			ActivityID: activityID,
			Positive:   msg.Positive,
			Negative:   msg.Negative,
			Neutral:    msg.Neutral,
			RecordedAt: time.Now(),
		}
		if _, err := h.emotions.AppendEmotionCounts(ctx, counts); err != nil {
			log.Error("Failed to record emotion counts", "error", err)
			return ServerMessage{Type: TypeError, Error: "failed to record emotion counts"}
		}

	case TypeCheck:

	default:
		return ServerMessage{Type: TypeError, Error: "unknown message type " + strconv.Quote(msg.Type)}
	}

	res, err := h.pings.CheckForPing(ctx, userID, activityID)
	if err != nil {
		log.Error("Ping check failed", "error", err)
		return ServerMessage{Type: TypeError, Error: "failed to check ping"}
	}
	return ServerMessage{Type: TypePingCheck, Result: &res}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
