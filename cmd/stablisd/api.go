package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stablis/stablis-contracts/core"
	"github.com/stablis/stablis-contracts/core/types"
	"github.com/stablis/stablis-contracts/crypto"
	"github.com/stablis/stablis-contracts/native/positions"
	"github.com/stablis/stablis-contracts/native/stability"
)

// api exposes the ledger over HTTP. The engines are single-writer; the
// mutex serializes every mutating request.
type api struct {
	mu     sync.Mutex
	ledger *core.Ledger
	logger *slog.Logger
}

func newAPI(ledger *core.Ledger, logger *slog.Logger) *api {
	return &api{ledger: ledger, logger: logger}
}

func (a *api) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/collateral/fund", a.handleFund)
		r.Post("/positions/open", a.handleOpen)
		r.Post("/positions/adjust", a.handleAdjust)
		r.Post("/positions/close", a.handleClose)
		r.Get("/positions/{asset}/{owner}", a.handleGetPosition)
		r.Get("/system/{asset}", a.handleSystem)
		r.Post("/liquidations", a.handleLiquidate)
		r.Post("/redemptions", a.handleRedeem)
		r.Post("/pool/provide", a.handleProvide)
		r.Post("/pool/withdraw", a.handleWithdraw)
		r.Post("/pool/gain-to-position", a.handleGainToPosition)
		r.Post("/surplus/claim", a.handleClaimSurplus)
		r.Post("/oracle/price", a.handleSetPrice)
		r.Get("/events", a.handleEvents)
	})
	return r
}

type fundRequest struct {
	Asset  string `json:"asset"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

func (a *api) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if !a.decode(w, r, &req) {
		return
	}
	owner, amount, ok := a.ownerAmount(w, req.Owner, req.Amount)
	if !ok {
		return
	}
	a.mu.Lock()
	err := a.ledger.Operations.FundCollateral(req.Asset, owner, amount)
	a.mu.Unlock()
	a.respond(w, err, map[string]string{"status": "funded"})
}

type openRequest struct {
	Asset      string `json:"asset"`
	Owner      string `json:"owner"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
	PrevHint   string `json:"prevHint,omitempty"`
	NextHint   string `json:"nextHint,omitempty"`
}

func (a *api) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !a.decode(w, r, &req) {
		return
	}
	owner, coll, ok := a.ownerAmount(w, req.Owner, req.Collateral)
	if !ok {
		return
	}
	debt, ok := a.amount(w, req.Debt)
	if !ok {
		return
	}
	prev, next, ok := a.hints(w, req.PrevHint, req.NextHint)
	if !ok {
		return
	}
	a.mu.Lock()
	err := a.ledger.Operations.OpenPosition(req.Asset, owner, coll, debt, prev, next)
	a.mu.Unlock()
	a.respond(w, err, map[string]string{"status": "opened"})
}

type adjustRequest struct {
	Asset            string `json:"asset"`
	Owner            string `json:"owner"`
	CollateralChange string `json:"collateralChange,omitempty"`
	DebtChange       string `json:"debtChange,omitempty"`
	PrevHint         string `json:"prevHint,omitempty"`
	NextHint         string `json:"nextHint,omitempty"`
}

func (a *api) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !a.decode(w, r, &req) {
		return
	}
	owner, ok := a.address(w, req.Owner)
	if !ok {
		return
	}
	collChange, ok := a.signedAmount(w, req.CollateralChange)
	if !ok {
		return
	}
	debtChange, ok := a.signedAmount(w, req.DebtChange)
	if !ok {
		return
	}
	prev, next, ok := a.hints(w, req.PrevHint, req.NextHint)
	if !ok {
		return
	}
	a.mu.Lock()
	err := a.ledger.Operations.AdjustPosition(req.Asset, owner, collChange, debtChange, prev, next)
	a.mu.Unlock()
	a.respond(w, err, map[string]string{"status": "adjusted"})
}

type closeRequest struct {
	Asset string `json:"asset"`
	Owner string `json:"owner"`
}

func (a *api) handleClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if !a.decode(w, r, &req) {
		return
	}
	owner, ok := a.address(w, req.Owner)
	if !ok {
		return
	}
	a.mu.Lock()
	err := a.ledger.Operations.ClosePosition(req.Asset, owner)
	a.mu.Unlock()
	a.respond(w, err, map[string]string{"status": "closed"})
}

type positionResponse struct {
	Asset          string `json:"asset"`
	Owner          string `json:"owner"`
	Debt           string `json:"debt"`
	Collateral     string `json:"collateral"`
	PendingDebt    string `json:"pendingDebt"`
	PendingColl    string `json:"pendingCollateral"`
	Status         string `json:"status"`
	CollateralGain string `json:"poolCollateralGain"`
}

func (a *api) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	owner, ok := a.address(w, chi.URLParam(r, "owner"))
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	position, err := a.ledger.Positions.GetPosition(asset, owner)
	if err != nil {
		a.respond(w, err, nil)
		return
	}
	if position == nil {
		http.Error(w, "position not found", http.StatusNotFound)
		return
	}
	debt, coll, pendingDebt, pendingColl, err := a.ledger.Positions.EntireDebtAndColl(asset, owner)
	if err != nil {
		a.respond(w, err, nil)
		return
	}
	gain, err := a.ledger.Pool.CollateralGain(owner, asset)
	if err != nil {
		a.respond(w, err, nil)
		return
	}
	a.writeJSON(w, positionResponse{
		Asset:          asset,
		Owner:          owner.String(),
		Debt:           debt.String(),
		Collateral:     coll.String(),
		PendingDebt:    pendingDebt.String(),
		PendingColl:    pendingColl.String(),
		Status:         position.Status.String(),
		CollateralGain: gain.String(),
	})
}

type systemResponse struct {
	Asset        string `json:"asset"`
	Debt         string `json:"debt"`
	Collateral   string `json:"collateral"`
	TCR          string `json:"tcr"`
	BaseRate     string `json:"baseRate"`
	PoolDeposits string `json:"poolDeposits"`
	Positions    uint64 `json:"positions"`
}

func (a *api) handleSystem(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	a.mu.Lock()
	defer a.mu.Unlock()

	debt, coll, err := a.ledger.Positions.SystemDebtAndColl(asset)
	if err != nil {
		a.respond(w, err, nil)
		return
	}
	price, err := a.ledger.Oracle.FetchPrice(asset)
	if err != nil {
		a.respond(w, err, nil)
		return
	}
	tcr, err := a.ledger.Positions.TCR(asset, price)
	if err != nil {
		a.respond(w, err, nil)
		return
	}
	rate, err := a.ledger.Positions.BaseRate(asset)
	if err != nil {
		a.respond(w, err, nil)
		return
	}
	deposits, err := a.ledger.Pool.TotalDeposits()
	if err != nil {
		a.respond(w, err, nil)
		return
	}
	count, err := a.ledger.Positions.PositionCount(asset)
	if err != nil {
		a.respond(w, err, nil)
		return
	}
	a.writeJSON(w, systemResponse{
		Asset:        asset,
		Debt:         debt.String(),
		Collateral:   coll.String(),
		TCR:          tcr.String(),
		BaseRate:     rate.String(),
		PoolDeposits: deposits.String(),
		Positions:    count,
	})
}

type liquidateRequest struct {
	Asset  string   `json:"asset"`
	Caller string   `json:"caller"`
	Owners []string `json:"owners"`
}

func (a *api) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !a.decode(w, r, &req) {
		return
	}
	caller, ok := a.address(w, req.Caller)
	if !ok {
		return
	}
	owners := make([]crypto.Address, 0, len(req.Owners))
	for _, raw := range req.Owners {
		owner, ok := a.address(w, raw)
		if !ok {
			return
		}
		owners = append(owners, owner)
	}
	a.mu.Lock()
	err := a.ledger.Operations.BatchLiquidate(caller, req.Asset, owners)
	a.mu.Unlock()
	a.respond(w, err, map[string]string{"status": "liquidated"})
}

type redeemRequest struct {
	Asset              string `json:"asset"`
	Caller             string `json:"caller"`
	Amount             string `json:"amount"`
	MaxFee             string `json:"maxFee"`
	FirstHint          string `json:"firstHint,omitempty"`
	PartialPrevHint    string `json:"partialPrevHint,omitempty"`
	PartialNextHint    string `json:"partialNextHint,omitempty"`
	PartialTargetRatio string `json:"partialTargetRatio,omitempty"`
	MaxIterations      int    `json:"maxIterations,omitempty"`
}

type redeemResponse struct {
	Attempted string `json:"attempted"`
	Redeemed  string `json:"redeemed"`
	CollDrawn string `json:"collateralDrawn"`
	Fee       string `json:"fee"`
}

func (a *api) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !a.decode(w, r, &req) {
		return
	}
	caller, amount, ok := a.ownerAmount(w, req.Caller, req.Amount)
	if !ok {
		return
	}
	maxFee, ok := a.amount(w, req.MaxFee)
	if !ok {
		return
	}
	hints := positions.RedemptionHints{}
	var hintsOK bool
	if hints.FirstHint, hintsOK = a.optionalAddress(w, req.FirstHint); !hintsOK {
		return
	}
	if hints.PartialPrevHint, hintsOK = a.optionalAddress(w, req.PartialPrevHint); !hintsOK {
		return
	}
	if hints.PartialNextHint, hintsOK = a.optionalAddress(w, req.PartialNextHint); !hintsOK {
		return
	}
	if req.PartialTargetRatio != "" {
		target, ok := a.amount(w, req.PartialTargetRatio)
		if !ok {
			return
		}
		hints.PartialTargetRatio = target
	}

	a.mu.Lock()
	result, err := a.ledger.Operations.Redeem(caller, req.Asset, amount, maxFee, hints, req.MaxIterations)
	a.mu.Unlock()
	if err != nil {
		a.respond(w, err, nil)
		return
	}
	a.writeJSON(w, redeemResponse{
		Attempted: result.Attempted.String(),
		Redeemed:  result.Redeemed.String(),
		CollDrawn: result.CollDrawn.String(),
		Fee:       result.Fee.String(),
	})
}

type poolRequest struct {
	Depositor string `json:"depositor"`
	Amount    string `json:"amount,omitempty"`
}

func (a *api) handleProvide(w http.ResponseWriter, r *http.Request) {
	var req poolRequest
	if !a.decode(w, r, &req) {
		return
	}
	depositor, amount, ok := a.ownerAmount(w, req.Depositor, req.Amount)
	if !ok {
		return
	}
	a.mu.Lock()
	err := a.ledger.Operations.ProvideToPool(depositor, amount)
	a.mu.Unlock()
	a.respond(w, err, map[string]string{"status": "provided"})
}

func (a *api) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req poolRequest
	if !a.decode(w, r, &req) {
		return
	}
	depositor, ok := a.address(w, req.Depositor)
	if !ok {
		return
	}
	var amount *big.Int
	if req.Amount != "" {
		parsed, ok := a.amount(w, req.Amount)
		if !ok {
			return
		}
		amount = parsed
	}
	a.mu.Lock()
	withdrawn, err := a.ledger.Operations.WithdrawFromPool(depositor, amount)
	a.mu.Unlock()
	if err != nil {
		a.respond(w, err, nil)
		return
	}
	a.writeJSON(w, map[string]string{"withdrawn": withdrawn.String()})
}

type gainToPositionRequest struct {
	Depositor string `json:"depositor"`
	Asset     string `json:"asset"`
	PrevHint  string `json:"prevHint,omitempty"`
	NextHint  string `json:"nextHint,omitempty"`
}

func (a *api) handleGainToPosition(w http.ResponseWriter, r *http.Request) {
	var req gainToPositionRequest
	if !a.decode(w, r, &req) {
		return
	}
	depositor, ok := a.address(w, req.Depositor)
	if !ok {
		return
	}
	prev, next, ok := a.hints(w, req.PrevHint, req.NextHint)
	if !ok {
		return
	}
	a.mu.Lock()
	err := a.ledger.Operations.WithdrawGainToPosition(depositor, req.Asset, prev, next)
	a.mu.Unlock()
	a.respond(w, err, map[string]string{"status": "routed"})
}

func (a *api) handleClaimSurplus(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if !a.decode(w, r, &req) {
		return
	}
	owner, ok := a.address(w, req.Owner)
	if !ok {
		return
	}
	a.mu.Lock()
	claimed, err := a.ledger.Operations.ClaimSurplus(req.Asset, owner)
	a.mu.Unlock()
	if err != nil {
		a.respond(w, err, nil)
		return
	}
	a.writeJSON(w, map[string]string{"claimed": claimed.String()})
}

type priceRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

func (a *api) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !a.decode(w, r, &req) {
		return
	}
	price, ok := a.amount(w, req.Price)
	if !ok {
		return
	}
	a.mu.Lock()
	err := a.ledger.Oracle.SetPrice(req.Asset, price)
	a.mu.Unlock()
	a.respond(w, err, map[string]string{"status": "updated"})
}

// handleEvents returns the most recent ledger events, newest last.
func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", raw), http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	a.mu.Lock()
	recorded := a.ledger.Events.Events
	if len(recorded) > limit {
		recorded = recorded[len(recorded)-limit:]
	}
	recorded = append([]*types.Event(nil), recorded...)
	a.mu.Unlock()
	a.writeJSON(w, recorded)
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func (a *api) address(w http.ResponseWriter, raw string) (crypto.Address, bool) {
	addr, err := crypto.Parse(raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid address %q: %v", raw, err), http.StatusBadRequest)
		return crypto.Address{}, false
	}
	return addr, true
}

func (a *api) optionalAddress(w http.ResponseWriter, raw string) (crypto.Address, bool) {
	if raw == "" {
		return crypto.Address{}, true
	}
	return a.address(w, raw)
}

func (a *api) hints(w http.ResponseWriter, prevRaw, nextRaw string) (crypto.Address, crypto.Address, bool) {
	prev, ok := a.optionalAddress(w, prevRaw)
	if !ok {
		return crypto.Address{}, crypto.Address{}, false
	}
	next, ok := a.optionalAddress(w, nextRaw)
	if !ok {
		return crypto.Address{}, crypto.Address{}, false
	}
	return prev, next, true
}

func (a *api) amount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	parsed, ok := new(big.Int).SetString(raw, 10)
	if !ok || parsed.Sign() < 0 {
		http.Error(w, fmt.Sprintf("invalid amount %q", raw), http.StatusBadRequest)
		return nil, false
	}
	return parsed, true
}

func (a *api) signedAmount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	if raw == "" {
		return nil, true
	}
	parsed, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		http.Error(w, fmt.Sprintf("invalid amount %q", raw), http.StatusBadRequest)
		return nil, false
	}
	return parsed, true
}

func (a *api) ownerAmount(w http.ResponseWriter, rawAddr, rawAmount string) (crypto.Address, *big.Int, bool) {
	addr, ok := a.address(w, rawAddr)
	if !ok {
		return crypto.Address{}, nil, false
	}
	amount, ok := a.amount(w, rawAmount)
	if !ok {
		return crypto.Address{}, nil, false
	}
	return addr, amount, true
}

func (a *api) respond(w http.ResponseWriter, err error, body any) {
	if err != nil {
		a.logger.Warn("request rejected", "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	a.writeJSON(w, body)
}

func (a *api) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error("encode response", "error", err)
	}
}

// statusFor maps ledger rejections to client errors so operators can tell
// bad requests from node faults.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrBelowMCR),
		errors.Is(err, core.ErrBelowMinNetDebt),
		errors.Is(err, positions.ErrMaxFeeOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrInsufficientFunds),
		errors.Is(err, positions.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, core.ErrNoPrice),
		errors.Is(err, core.ErrNoSurplus),
		errors.Is(err, positions.ErrPositionNotActive),
		errors.Is(err, stability.ErrNoDeposit),
		errors.Is(err, stability.ErrNoPosition),
		errors.Is(err, stability.ErrNoCollateralGain):
		return http.StatusNotFound
	case errors.Is(err, positions.ErrPositionActive),
		errors.Is(err, positions.ErrNothingToLiquidate),
		errors.Is(err, positions.ErrNothingRedeemed),
		errors.Is(err, positions.ErrTCRBelowMCR),
		errors.Is(err, positions.ErrBelowBootstrapPeriod),
		errors.Is(err, stability.ErrUnderCollateralized):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
