package api

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"fortune-wheel/internal/auth"
	"fortune-wheel/internal/cache"
	"fortune-wheel/internal/draw"
	"fortune-wheel/internal/logger"
	"fortune-wheel/internal/mint"
	"fortune-wheel/internal/models"
	"fortune-wheel/internal/numberpool"
	"fortune-wheel/internal/payment"
	"fortune-wheel/internal/reservation"
	"fortune-wheel/internal/store"
	"fortune-wheel/internal/utils"
)

const poolStatusCacheKey = "pool-status"

type Handler struct {
	Reservations *reservation.Service
	Payments     *payment.Service
	Mint         *mint.Service
	Draw         *draw.Engine
	Pool         *numberpool.Pool
	DB           *store.DB
	Cache        *cache.Cache
	Logger       *logger.Logger
	AdminKeys    []string
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	r.Use(RateLimit(h.Cache, 60, time.Minute))

	r.Route("/api", func(r chi.Router) {
		r.Get("/pool/status", h.PoolStatus)
		r.Get("/raffle/latest", h.LatestRaffle)
		r.Post("/solana-pay/request", h.CreatePaymentRequest)
		r.Get("/solana-pay/status", h.PaymentStatus)

		r.Group(func(r chi.Router) {
			r.Use(auth.WalletMiddleware())
			r.Post("/tickets/mint", h.MintTicket)
			r.Get("/tickets/user", h.UserTickets)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.AdminMiddleware(h.AdminKeys))
			r.Post("/raffle/trigger", h.TriggerRaffle)
			r.Post("/admin/initialize-tickets", h.InitializeTickets)
		})
	})

	return r
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("API", fmt.Sprintf("encode response: %v", err))
	}
}

// writeError maps domain errors to stable responses. Internal causes are
// logged, never leaked.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var message string

	switch {
	case errors.Is(err, numberpool.ErrOutOfInventory):
		status, message = http.StatusConflict, "No available tickets for this tier"
	case errors.Is(err, numberpool.ErrNotReserved):
		status, message = http.StatusConflict, "Ticket number is no longer reserved"
	case errors.Is(err, payment.ErrRequestNotFound):
		status, message = http.StatusNotFound, "Payment request not found"
	case errors.Is(err, mint.ErrPaymentNotVerified):
		status, message = http.StatusBadRequest, "Payment verification failed"
	case errors.Is(err, mint.ErrTicketNumberMissing):
		status, message = http.StatusBadRequest, "Ticket number not found"
	case errors.Is(err, draw.ErrNoActiveRound):
		status, message = http.StatusNotFound, "No active raffle found"
	case errors.Is(err, draw.ErrNoTickets):
		status, message = http.StatusNotFound, "No tickets found for this round"
	case errors.Is(err, draw.ErrDrawCompleted):
		status, message = http.StatusBadRequest, "Raffle already completed"
	default:
		status, message = http.StatusInternalServerError, "Internal server error"
		h.Logger.Error("API", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
	}

	h.writeJSON(w, status, utils.ErrorResponse(message, message))
}

// ---------------- PURCHASE FLOW ----------------

type paymentRequestBody struct {
	Tier          string `json:"tier"`
	WalletAddress string `json:"walletAddress"`
}

func (h *Handler) CreatePaymentRequest(w http.ResponseWriter, r *http.Request) {
	var body paymentRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Tier == "" || body.WalletAddress == "" {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Missing required parameters", "tier and walletAddress are required"))
		return
	}
	tier, err := models.ParseTier(body.Tier)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid tier", err.Error()))
		return
	}

	res, err := h.Reservations.Reserve(r.Context(), tier)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req, transfer, err := h.Payments.CreateBinding(r.Context(), res.Number, tier, body.WalletAddress)
	if err != nil {
		// The reservation would otherwise dangle until the sweep.
		if relErr := h.Reservations.Release(r.Context(), res.Number); relErr != nil {
			h.Logger.Error("API", fmt.Sprintf("release %s after binding failure: %v", res.Number, relErr))
		}
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment request created", map[string]interface{}{
		"reference":    req.Reference,
		"amount":       req.Amount,
		"url":          transfer.URL,
		"qrCode":       base64.StdEncoding.EncodeToString(transfer.QRCode),
		"ticketNumber": req.TicketNumber,
		"tier":         req.Tier,
		"expiresAt":    req.ExpiresAt,
	}))
}

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Missing reference parameter", "reference is required"))
		return
	}

	status, err := h.Payments.CheckStatus(r.Context(), reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Payment status", status))
}

type mintBody struct {
	Tier             string `json:"tier"`
	PaymentReference string `json:"paymentReference"`
}

func (h *Handler) MintTicket(w http.ResponseWriter, r *http.Request) {
	wallet := auth.Wallet(r.Context())

	var body mintBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Tier == "" || body.PaymentReference == "" {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Missing required parameters", "tier and paymentReference are required"))
		return
	}
	tier, err := models.ParseTier(body.Tier)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid tier", err.Error()))
		return
	}

	ticket, err := h.Mint.Mint(r.Context(), wallet, tier, body.PaymentReference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Ticket minted", ticket))
}

func (h *Handler) UserTickets(w http.ResponseWriter, r *http.Request) {
	wallet := auth.Wallet(r.Context())
	tickets, err := h.DB.TicketsByOwner(r.Context(), wallet)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("User tickets", tickets))
}

// ---------------- RAFFLE ----------------

func (h *Handler) TriggerRaffle(w http.ResponseWriter, r *http.Request) {
	roundID := models.CurrentRoundID(time.Now())
	result, err := h.Draw.Run(r.Context(), roundID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Raffle completed", result))
}

func (h *Handler) LatestRaffle(w http.ResponseWriter, r *http.Request) {
	raffle, err := h.DB.LatestCompletedRaffle(r.Context())
	if errors.Is(err, sql.ErrNoRows) {
		h.writeJSON(w, http.StatusNotFound, utils.ErrorResponse("No completed raffle yet", "no completed raffle yet"))
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Latest raffle", raffle))
}

func (h *Handler) InitializeTickets(w http.ResponseWriter, r *http.Request) {
	if err := h.Pool.Bootstrap(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Ticket numbers initialized", nil))
}

// ---------------- POOL STATUS ----------------

type winnerView struct {
	Date     string `json:"date"`
	Winner   string `json:"winner"`
	Prize    string `json:"prize"`
	Tier     string `json:"tier"`
	VRFProof string `json:"vrfProof,omitempty"`
}

type poolStatusView struct {
	PrizePool     float64        `json:"prizePool"`
	BasePool      string         `json:"basePool"`
	BoostAmount   string         `json:"boostAmount"`
	NextDraw      time.Time      `json:"nextDraw"`
	RecentWinners []winnerView   `json:"recentWinners"`
	TicketCounts  map[string]int `json:"ticketCounts"`
}

func (h *Handler) PoolStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if cached := h.Cache.GetSnapshot(ctx, poolStatusCacheKey); cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}

	view, err := h.buildPoolStatus(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	payload, err := json.Marshal(view)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// One-minute snapshot; rebuilding from the store is always safe.
	h.Cache.SetSnapshot(ctx, poolStatusCacheKey, payload, 60*time.Second)

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func (h *Handler) buildPoolStatus(ctx context.Context) (*poolStatusView, error) {
	now := time.Now()
	roundID := models.CurrentRoundID(now)

	prizePool := 0.0
	if raffle, err := h.DB.GetRaffle(ctx, roundID); err == nil {
		prizePool = raffle.PrizePool
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	counts, err := h.DB.TierCountsByRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	ticketCounts := map[string]int{
		"BASIC":   counts[models.TierBasic],
		"PREMIUM": counts[models.TierPremium],
		"VIP":     counts[models.TierVIP],
		"total":   counts[models.TierBasic] + counts[models.TierPremium] + counts[models.TierVIP],
	}

	// Split the pool into its base and boost-derived shares.
	basePool := prizePool / (1 + models.TierPremium.Boost()*float64(counts[models.TierPremium]) + models.TierVIP.Boost()*float64(counts[models.TierVIP]))
	boostAmount := prizePool - basePool

	winners, err := h.DB.RecentWinners(ctx, 5)
	if err != nil {
		return nil, err
	}
	recentWinners := make([]winnerView, 0, len(winners))
	for _, raffle := range winners {
		recentWinners = append(recentWinners, winnerView{
			Date:     raffle.CompletedAt.UTC().Format("2006-01-02"),
			Winner:   utils.ShortAddress(raffle.Winner),
			Prize:    fmt.Sprintf("%.2f SOL", raffle.PrizePool),
			Tier:     string(raffle.WinnerTier),
			VRFProof: raffle.RandomnessProof,
		})
	}

	endOfDay := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 23, 59, 59, 0, time.UTC)

	return &poolStatusView{
		PrizePool:     prizePool,
		BasePool:      fmt.Sprintf("%.2f", basePool),
		BoostAmount:   fmt.Sprintf("%.2f", boostAmount),
		NextDraw:      endOfDay,
		RecentWinners: recentWinners,
		TicketCounts:  ticketCounts,
	}, nil
}
