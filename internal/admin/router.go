package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/engine"
	"github.com/roach88/lasso/internal/store"
)

// MaxMatchLimit caps /v1/matches page size.
const MaxMatchLimit = 500

// Reader is the read side of the profile store.
type Reader interface {
	Ping() error
	Get(ctx context.Context, id chat.UserID) (chat.User, error)
	ListMatches(ctx context.Context, f store.MatchFilter) ([]chat.Match, error)
	CountByStatus(ctx context.Context) (map[chat.MatchStatus]int, error)
	CountMatches(ctx context.Context) (map[chat.MatchState]int, error)
}

// QueueLen reports the match queue length.
type QueueLen interface {
	Len(ctx context.Context) (int, error)
}

// Config holds the router's collaborators. Queue and Stats are optional.
type Config struct {
	Store Reader
	Queue QueueLen
	Stats func() engine.Stats
}

type handler struct {
	cfg Config
}

// NewRouter builds the read-only admin API.
func NewRouter(cfg Config) *gin.Engine {
	h := &handler{cfg: cfg}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/healthz", h.health)

	v1 := r.Group("/v1")
	{
		v1.GET("/users/:id", h.getUser)
		v1.GET("/matches", h.listMatches)
		v1.GET("/stats", h.stats)
	}
	return r
}

func (h *handler) health(c *gin.Context) {
	if err := h.cfg.Store.Ping(); err != nil {
		respondError(c, http.StatusServiceUnavailable, "store_unavailable", err)
		return
	}
	c.String(http.StatusOK, "ok")
}

func (h *handler) getUser(c *gin.Context) {
	id, err := chat.ParseUserID(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	u, err := h.cfg.Store.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, chat.ErrUserNotFound):
		respondError(c, http.StatusNotFound, "user_not_found", err)
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	c.JSON(http.StatusOK, NewUserView(u))
}

func (h *handler) listMatches(c *gin.Context) {
	var f store.MatchFilter
	switch s := c.Query("status"); s {
	case "":
	case string(chat.MatchActive), string(chat.MatchEnded):
		f.State = chat.MatchState(s)
	default:
		respondError(c, http.StatusBadRequest, "invalid_status", errors.New("status must be active or ended"))
		return
	}

	f.Limit = 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "invalid_limit", errors.New("limit must be a positive integer"))
			return
		}
		f.Limit = min(n, MaxMatchLimit)
	}

	if s := c.Query("user"); s != "" {
		id, err := chat.ParseUserID(s)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_user_id", err)
			return
		}
		f.UserID = id
	}

	matches, err := h.cfg.Store.ListMatches(c.Request.Context(), f)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	views := make([]MatchView, len(matches))
	for i, m := range matches {
		views[i] = NewMatchView(m)
	}
	c.JSON(http.StatusOK, gin.H{"matches": views})
}

func (h *handler) stats(c *gin.Context) {
	ctx := c.Request.Context()

	users, err := h.cfg.Store.CountByStatus(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	matches, err := h.cfg.Store.CountMatches(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}

	out := statsView{
		Users:   make(map[string]int, len(users)),
		Matches: make(map[string]int, len(matches)),
	}
	for status, n := range users {
		out.Users[string(status)] = n
	}
	for state, n := range matches {
		out.Matches[string(state)] = n
	}
	if h.cfg.Queue != nil {
		n, err := h.cfg.Queue.Len(ctx)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "queue_error", err)
			return
		}
		out.QueueLength = n
	}
	if h.cfg.Stats != nil {
		s := h.cfg.Stats()
		out.Events = &s
	}
	c.JSON(http.StatusOK, out)
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, errorEnvelope{Error: apiError{Message: msg, Code: code}})
}

type statsView struct {
	Users       map[string]int `json:"users"`
	Matches     map[string]int `json:"matches"`
	QueueLength int            `json:"queue_length"`
	Events      *engine.Stats  `json:"events,omitempty"`
}
