package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// SecretHeader содержит secret_token вебхука в запросах Telegram.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookSecretMiddleware отклоняет запросы без верного secret_token. Пустой секрет отключает проверку.
func WebhookSecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(secret)) != 1 {
				WriteError(w, http.StatusUnauthorized, errors.New("неверный secret_token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UpdateHandler обрабатывает апдейт Bot API.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd tgbotapi.Update)
}

// UpdateHandlerFunc адаптирует функцию к UpdateHandler.
type UpdateHandlerFunc func(ctx context.Context, upd tgbotapi.Update)

// HandleUpdate реализует UpdateHandler.
func (f UpdateHandlerFunc) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	f(ctx, upd)
}

// WebhookHandler декодирует апдейт и передаёт его обработчику.
func WebhookHandler(h UpdateHandler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			log.Warn().Err(err).Str("request_id", RequestID(r)).Msg("webhook: некорректный апдейт")
			WriteError(w, http.StatusBadRequest, err)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	}
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
}
