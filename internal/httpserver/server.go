package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"challenge-bot/internal/ledger"
	"challenge-bot/internal/lib/sl"
	"challenge-bot/internal/yookassa"
)

// PaymentProcessor reconciles a payment the gateway told us about.
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, gatewayID string) error
}

type Config struct {
	Address       string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	WebhookSecret string // "" -> signature is not checked
}

const maxWebhookBody = 1 << 20

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func NewRouter(log *slog.Logger, payments PaymentProcessor, gatherer prometheus.Gatherer, secret string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, statusResponse{Status: "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Post("/webhooks/yookassa", (&webhook{log: log, payments: payments, secret: secret}).ServeHTTP)
	return r
}

func New(cfg Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

type webhook struct {
	log      *slog.Logger
	payments PaymentProcessor
	secret   string
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ServeHTTP treats the payload only as a hint: the payment is re-read from
// the gateway before anything is granted.
func (h *webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "httpserver.webhook"
	log := h.log.With(slog.String("op", op), slog.String("request_id", middleware.GetReqID(r.Context())))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		h.reply(w, r, http.StatusBadRequest, "bad body")
		return
	}

	if h.secret != "" {
		sig := r.Header.Get("X-Api-Signature")
		if sig == "" || !verifySignature(h.secret, body, sig) {
			log.Warn("invalid or missing webhook signature")
			h.reply(w, r, http.StatusUnauthorized, "bad signature")
			return
		}
	}

	var payload yookassa.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Object.ID == "" {
		log.Warn("bad webhook payload")
		h.reply(w, r, http.StatusBadRequest, "bad payload")
		return
	}
	log = log.With(slog.String("event", payload.Event), slog.String("gateway_id", payload.Object.ID))

	err = h.payments.ProcessPayment(r.Context(), payload.Object.ID)
	switch {
	case errors.Is(err, ledger.ErrPaymentNotFound):
		// not ours; a non-2xx answer would only make the gateway retry
		log.Info("webhook for unknown payment")
		h.reply(w, r, http.StatusOK, "")
	case errors.Is(err, ledger.ErrGatewayUnavailable):
		log.Warn("gateway unavailable while processing webhook", sl.Err(err))
		h.reply(w, r, http.StatusServiceUnavailable, "gateway unavailable")
	case err != nil:
		log.Error("failed to process webhook", sl.Err(err))
		h.reply(w, r, http.StatusInternalServerError, "internal error")
	default:
		log.Info("webhook processed")
		h.reply(w, r, http.StatusOK, "")
	}
}

func (h *webhook) reply(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	if msg == "" {
		render.JSON(w, r, statusResponse{Status: "ok"})
		return
	}
	render.JSON(w, r, statusResponse{Status: "error", Error: msg})
}
