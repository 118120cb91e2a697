package bot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ivyreader/internal/models"
	"ivyreader/internal/reading"
	"ivyreader/internal/stats"
	"ivyreader/internal/storage"
	"ivyreader/web"
)

// initDataMaxAge bounds how old a Mini App login may be
const initDataMaxAge = 24 * time.Hour

type contextKey string

const userIDKey contextKey = "user_id"

// HTTPServer handles HTTP requests for the Mini App, the webhook and health checks
type HTTPServer struct {
	bot         *Bot
	router      *chi.Mux
	webhookMode bool // If false (polling mode), skip authentication for easier local dev
	now         func() time.Time
}

// NewHTTPServer creates a new HTTP server for the Mini App
func NewHTTPServer(bot *Bot, webhookMode bool) *HTTPServer {
	hs := &HTTPServer{
		bot:         bot,
		router:      chi.NewRouter(),
		webhookMode: webhookMode,
		now:         time.Now,
	}
	hs.setupMiddleware()
	hs.setupRoutes()
	return hs
}

// Handler returns the router serving every route
func (hs *HTTPServer) Handler() http.Handler {
	return hs.router
}

// setupMiddleware configures HTTP middleware
func (hs *HTTPServer) setupMiddleware() {
	hs.router.Use(middleware.RequestID)
	hs.router.Use(middleware.RealIP)
	hs.router.Use(hs.requestLogger)
	hs.router.Use(middleware.Recoverer)
}

// setupRoutes configures the application routes
func (hs *HTTPServer) setupRoutes() {
	hs.router.Get("/", hs.handleRoot)
	hs.router.Get("/health", hs.handleHealth)
	hs.router.Post("/telegram-webhook", hs.handleWebhook)

	// Static file serving for Mini App
	hs.router.Get("/web-app", hs.handleIndex)

	// API endpoints
	hs.router.Route("/api", func(r chi.Router) {
		r.Use(hs.authMiddleware)

		r.Get("/books", hs.handleListBooks)
		r.Post("/books", hs.handleCreateBook)
		r.Patch("/books/{id}", hs.handleUpdateBookStatus)
		r.Delete("/books/{id}", hs.handleDeleteBook)
		r.Get("/books/next", hs.handleNextBook)

		r.Get("/sessions", hs.handleListSessions)
		r.Post("/sessions", hs.handleCreateSession)

		r.Get("/stats", hs.handleGetStats)
		r.Post("/stats/recalculate", hs.handleRecalculate)
		r.Put("/stats/goal", hs.handleSetGoal)
	})
}

// requestLogger logs each request with zap
func (hs *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		hs.bot.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (hs *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	mode := "polling"
	if hs.webhookMode {
		mode = "webhook"
	}
	fmt.Fprintf(w, "IvyReader is running (mode: %s)", mode)
}

func (hs *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// handleWebhook accepts updates pushed by Telegram
func (hs *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		hs.bot.logger.Warn("Failed to decode webhook update", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Process update in background to respond quickly to Telegram
	go hs.bot.HandleWebhookUpdate(update)

	w.WriteHeader(http.StatusOK)
}

// handleIndex serves the Mini App HTML from embedded filesystem
func (hs *HTTPServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	content, err := web.Content.ReadFile("index.html")
	if err != nil {
		hs.bot.logger.Error("Failed to read embedded index.html", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(content)
}

// validateTelegramInitData validates the Telegram Mini App initData
func (hs *HTTPServer) validateTelegramInitData(initData string) (int64, error) {
	if initData == "" {
		return 0, fmt.Errorf("missing initData")
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, fmt.Errorf("invalid initData format: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return 0, fmt.Errorf("missing hash in initData")
	}
	values.Del("hash")

	// Create data-check-string
	var keys []string
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var dataCheckString strings.Builder
	for i, k := range keys {
		if i > 0 {
			dataCheckString.WriteByte('\n')
		}
		dataCheckString.WriteString(k)
		dataCheckString.WriteByte('=')
		dataCheckString.WriteString(values.Get(k))
	}

	calculatedHash := signInitData(hs.bot.token, dataCheckString.String())
	if !hmac.Equal([]byte(calculatedHash), []byte(hash)) {
		return 0, fmt.Errorf("invalid hash")
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("missing or invalid auth_date")
	}
	if hs.now().Sub(time.Unix(authDate, 0)) > initDataMaxAge {
		return 0, fmt.Errorf("initData is too old")
	}

	userStr := values.Get("user")
	if userStr == "" {
		return 0, fmt.Errorf("missing user data")
	}

	var userData struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(userStr), &userData); err != nil {
		return 0, fmt.Errorf("invalid user data: %w", err)
	}

	if !hs.bot.allowedUsers[userData.ID] {
		return 0, fmt.Errorf("user not allowed")
	}

	return userData.ID, nil
}

// signInitData computes the hex HMAC Telegram attaches to Mini App initData
func signInitData(token, dataCheckString string) string {
	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(token))

	h := hmac.New(sha256.New, secretKey.Sum(nil))
	h.Write([]byte(dataCheckString))
	return hex.EncodeToString(h.Sum(nil))
}

// authMiddleware validates Telegram Mini App authentication and stores the
// acting user in the request context. In polling mode authentication is
// skipped and the first allowed user acts.
func (hs *HTTPServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !hs.webhookMode {
			hs.bot.logger.Debug("Skipping authentication (polling mode)",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, hs.bot.devUserID)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "tma ") {
			hs.bot.logger.Warn("Missing or invalid authorization header")
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		userID, err := hs.validateTelegramInitData(strings.TrimPrefix(authHeader, "tma "))
		if err != nil {
			hs.bot.logger.Warn("Failed to validate initData",
				zap.Error(err),
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		hs.bot.logger.Debug("Authenticated request",
			zap.Int64("user_id", userID),
			zap.String("path", r.URL.Path),
		)

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userIDFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps tracker errors to HTTP statuses
func (hs *HTTPServer) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, reading.ErrInvalidSession),
		errors.Is(err, reading.ErrInvalidBook),
		errors.Is(err, reading.ErrInvalidGoal):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, reading.ErrBookNotFound):
		writeError(w, http.StatusNotFound, "Book not found")
	case errors.Is(err, stats.ErrStorageUnavailable), errors.Is(err, storage.ErrUnavailable):
		hs.bot.logger.Error("Storage unavailable", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable, please retry")
	default:
		hs.bot.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// handleListBooks returns the user's shelf
func (hs *HTTPServer) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := hs.bot.tracker.ListBooks(r.Context(), userIDFrom(r))
	if err != nil {
		hs.writeServiceError(w, "list books", err)
		return
	}
	if books == nil {
		books = []models.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

// CreateBookRequest represents the request body for adding a book
type CreateBookRequest struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	TotalPages int    `json:"total_pages"`
}

func (hs *HTTPServer) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		hs.bot.logger.Warn("Failed to decode request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	book, err := hs.bot.tracker.AddBook(r.Context(), userIDFrom(r), req.Title, req.Author, req.TotalPages)
	if err != nil {
		hs.writeServiceError(w, "add book", err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

// UpdateBookRequest represents the request body for moving a book between shelves
type UpdateBookRequest struct {
	Status models.BookStatus `json:"status"`
}

func (hs *HTTPServer) handleUpdateBookStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	book, err := hs.bot.tracker.SetBookStatus(r.Context(), userIDFrom(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		hs.writeServiceError(w, "update book", err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (hs *HTTPServer) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := hs.bot.tracker.DeleteBook(r.Context(), userIDFrom(r), chi.URLParam(r, "id")); err != nil {
		hs.writeServiceError(w, "delete book", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (hs *HTTPServer) handleNextBook(w http.ResponseWriter, r *http.Request) {
	next, err := hs.bot.tracker.NextBook(r.Context(), userIDFrom(r))
	if err != nil {
		hs.writeServiceError(w, "next book", err)
		return
	}
	if next == nil {
		writeError(w, http.StatusNotFound, "Nothing to read next")
		return
	}
	writeJSON(w, http.StatusOK, next)
}

// handleListSessions returns the most recent sessions, ?limit=N (default 10)
func (hs *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	sessions, err := hs.bot.tracker.LastSessions(r.Context(), userIDFrom(r), limit)
	if err != nil {
		hs.writeServiceError(w, "list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []models.ReadingSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// CreateSessionResponse carries the stored session and the refreshed stats
type CreateSessionResponse struct {
	Session models.ReadingSession `json:"session"`
	Stats   models.UserStats      `json:"stats"`
}

func (hs *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req reading.LogSessionInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		hs.bot.logger.Warn("Failed to decode request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.UserID = userIDFrom(r)

	session, updated, err := hs.bot.tracker.LogSession(r.Context(), req)
	if err != nil {
		if session != nil {
			hs.bot.logger.Warn("Session stored without stats refresh",
				zap.String("session_id", session.ID),
				zap.Error(err),
			)
		}
		hs.writeServiceError(w, "log session", err)
		return
	}

	hs.bot.logger.Info("Session logged via Mini App",
		zap.Int64("user_id", req.UserID),
		zap.String("book_id", req.BookID),
		zap.Int("pages", session.PagesRead()),
	)

	writeJSON(w, http.StatusCreated, CreateSessionResponse{Session: *session, Stats: *updated})
}

func (hs *HTTPServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	report, err := hs.bot.tracker.Stats(r.Context(), userIDFrom(r))
	if err != nil {
		hs.writeServiceError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (hs *HTTPServer) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	updated, err := hs.bot.tracker.Recalculate(r.Context(), userIDFrom(r))
	if err != nil {
		hs.writeServiceError(w, "recalculate", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// SetGoalRequest represents the request body for changing the daily goal
type SetGoalRequest struct {
	Minutes int `json:"minutes"`
}

func (hs *HTTPServer) handleSetGoal(w http.ResponseWriter, r *http.Request) {
	var req SetGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID := userIDFrom(r)
	if err := hs.bot.tracker.SetDailyGoal(r.Context(), userID, req.Minutes); err != nil {
		hs.writeServiceError(w, "set goal", err)
		return
	}

	report, err := hs.bot.tracker.Stats(r.Context(), userID)
	if err != nil {
		hs.writeServiceError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
