package server

import (
	"errors"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/x402x/facilitator/internal/accountpool"
	"github.com/x402x/facilitator/internal/evmchain"
	"github.com/x402x/facilitator/internal/feeclaim"
	"github.com/x402x/facilitator/internal/orchestrator"
)

// handleVerify handles POST /verify, dispatching between the v1 and v2
// paths by paymentPayload.x402Version (§6).
func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	network := req.PaymentRequirements.Network
	scheme := req.PaymentRequirements.Scheme

	if req.PaymentPayload.X402Version == 1 {
		payload, reqv1, err := req.toV1()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "details": err.Error()})
			return
		}
		result, err := s.facilitator.VerifyV1(c.Request.Context(), payload, reqv1)
		if err != nil {
			s.respondOrchestratorError(c, network, scheme, false, err)
			return
		}
		s.metrics.RecordVerify(network, scheme, result.IsValid)
		c.JSON(http.StatusOK, v1ResultToDTO(result))
		return
	}

	payload, reqv2, err := req.toV2()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "details": err.Error()})
		return
	}
	result, err := s.facilitator.VerifyV2(c.Request.Context(), payload, reqv2)
	if err != nil {
		s.respondOrchestratorError(c, network, scheme, false, err)
		return
	}
	s.metrics.RecordVerify(network, scheme, result.IsValid)
	c.JSON(http.StatusOK, v2ResultToDTO(result))
}

// handleSettle handles POST /settle. A deterministic settlement failure is
// still HTTP 200 with success:false (§6); only duplicate-payer and
// queue-overload conditions, and genuinely unexpected faults, are HTTP
// errors (§7).
func (s *Server) handleSettle(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	network := req.PaymentRequirements.Network
	scheme := req.PaymentRequirements.Scheme
	start := time.Now()

	if req.PaymentPayload.X402Version == 1 {
		payload, reqv1, err := req.toV1()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "details": err.Error()})
			return
		}
		resp, err := s.facilitator.SettleV1(c.Request.Context(), payload, reqv1)
		if err != nil {
			s.respondSettleError(c, network, scheme, err)
			return
		}
		s.metrics.RecordSettle(network, scheme, resp.Success, resp.ErrorReason)
		s.metrics.ObserveSettleDuration(network, time.Since(start))
		c.JSON(http.StatusOK, v1SettleToDTO(resp))
		return
	}

	payload, reqv2, err := req.toV2()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "details": err.Error()})
		return
	}
	resp, err := s.facilitator.SettleV2(c.Request.Context(), payload, reqv2)
	if err != nil {
		s.respondSettleError(c, network, scheme, err)
		return
	}
	s.metrics.RecordSettle(network, scheme, resp.Success, resp.ErrorReason)
	s.metrics.ObserveSettleDuration(network, time.Since(start))
	s.metrics.ObserveSettlementCost(network, resp.GasUsed, resp.ProfitUSD)
	c.JSON(http.StatusOK, v2SettleToDTO(resp))
}

// respondOrchestratorError maps a verify-path orchestrator error (hook
// abort, disabled version) to an HTTP response.
func (s *Server) respondOrchestratorError(c *gin.Context, network, scheme string, success bool, err error) {
	s.metrics.RecordVerify(network, scheme, success)

	var aborted *orchestrator.AbortedError
	if errors.As(err, &aborted) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "verification unavailable", "reason": aborted.Reason})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed", "details": err.Error()})
}

// respondSettleError maps a settle-path error to §7's taxonomy: 429 for a
// duplicate concurrent payer, 503 for a saturated account pool or an
// aborted hook, 500 for anything else unexpected.
func (s *Server) respondSettleError(c *gin.Context, network, scheme string, err error) {
	s.metrics.RecordSettle(network, scheme, false, "http_error")

	var dup *accountpool.DuplicatePayerError
	if errors.As(err, &dup) {
		c.Header("Retry-After", "10")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "duplicate concurrent payment", "payer": dup.Payer.Hex()})
		return
	}

	var overload *accountpool.QueueOverloadError
	if errors.As(err, &overload) {
		c.Header("Retry-After", "60")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account pool overloaded", "network": overload.Network})
		return
	}

	var aborted *orchestrator.AbortedError
	if errors.As(err, &aborted) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settlement unavailable", "reason": aborted.Reason})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement failed", "details": err.Error()})
}

// handleSupported handles GET /supported.
func (s *Server) handleSupported(c *gin.Context) {
	kinds := s.facilitator.GetSupported()
	out := make([]gin.H, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, gin.H{"x402Version": k.X402Version, "scheme": k.Scheme, "network": k.Network})
	}
	c.JSON(http.StatusOK, gin.H{"kinds": out})
}

// calculateFeeValiditySeconds bounds how long a /calculate-fee quote should
// be trusted; gas prices move, so quotes are short-lived (§6).
const calculateFeeValiditySeconds = 60

// handleCalculateFee handles GET /calculate-fee: the minimum facilitator
// fee (in the settlement token's base units) that makes the proposed
// settlement break even, including hook overhead (§6). The simulation
// strategy's estimate carries the safety multiplier; the code strategy's
// static formula applies none. Nothing is submitted on-chain.
func (s *Server) handleCalculateFee(c *gin.Context) {
	networkID := c.Query("network")
	cfg, err := s.networks.Resolve(networkID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported network", "details": err.Error()})
		return
	}

	hookAddr := common.HexToAddress(c.Query("hook"))
	hookData, err := parseBytes(c.Query("hookData"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hookData", "details": err.Error()})
		return
	}
	amount, err := parseAmount(c.DefaultQuery("amount", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount", "details": err.Error()})
		return
	}

	router := cfg.SettlementRouterAddress
	if q := c.Query("router"); q != "" {
		router = common.HexToAddress(q)
	}

	signer, err := s.chainReader(cfg.CAIP2)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "no chain reader available for this network", "details": err.Error()})
		return
	}

	params := evmchain.SettlementParams{
		ChainID:        cfg.ChainID,
		Router:         router,
		Asset:          cfg.DefaultAsset.Address,
		Value:          new(big.Int).Set(amount),
		ValidAfter:     big.NewInt(0),
		ValidBefore:    big.NewInt(0),
		FacilitatorFee: big.NewInt(0),
		Hook:           hookAddr,
		HookData:       hookData,
	}

	result := s.gasEstimator.Estimate(c.Request.Context(), signer, cfg.CAIP2, router, hookAddr, hookData, amount, params)
	if !result.IsValid {
		c.JSON(http.StatusBadRequest, gin.H{"isValid": false, "errorReason": result.ErrorReason, "strategyUsed": string(result.StrategyUsed)})
		return
	}

	gasPrice, err := s.gasPrices.Get(c.Request.Context(), cfg.CAIP2)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "gas price unavailable", "details": err.Error()})
		return
	}
	tokenPriceUSD, err := s.tokenPrices.Get(c.Request.Context(), cfg.Metadata.NativeToken)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "token price unavailable", "details": err.Error()})
		return
	}

	gasCostWei := new(big.Int).Mul(new(big.Int).SetUint64(result.GasLimit), gasPrice)
	gasCostNative, _ := new(big.Float).Quo(new(big.Float).SetInt(gasCostWei), big.NewFloat(1e18)).Float64()
	gasCostUSD := gasCostNative * tokenPriceUSD

	feeUSD := gasCostUSD
	if feeUSD < s.cfg.MinFacilitatorFeeUSD {
		feeUSD = s.cfg.MinFacilitatorFeeUSD
	}
	// USDC is quoted 1:1 with USD, so base units are just decimal scaling.
	// The epsilon keeps float64 noise from bumping an exact value up a unit.
	scaled := feeUSD*math.Pow10(int(cfg.DefaultAsset.Decimals)) - 1e-9
	feeUnits := new(big.Int)
	big.NewFloat(math.Ceil(scaled)).Int(feeUnits)

	c.JSON(http.StatusOK, gin.H{
		"network":           cfg.CAIP2,
		"asset":             cfg.DefaultAsset.Address.Hex(),
		"hook":              hookAddr.Hex(),
		"gasLimit":          strconv.FormatUint(result.GasLimit, 10),
		"strategyUsed":      string(result.StrategyUsed),
		"estimatedCostUsd":  gasCostUSD,
		"recommendedFeeUsd": feeUSD,
		"recommendedFee":    feeUnits.String(),
		"validitySeconds":   calculateFeeValiditySeconds,
	})
}

// handlePendingFees handles GET /pending-fees: the discovery half of the
// fee-claim subsystem (§4.10 steps 1-2), restricted by an optional
// `network` query parameter.
func (s *Server) handlePendingFees(c *gin.Context) {
	filter := feeclaim.Filter{}
	if n := c.Query("network"); n != "" {
		if _, err := s.networks.Resolve(n); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported network", "details": err.Error()})
			return
		}
		filter.Networks = []string{n}
	}

	fees := s.feeClaimer.PendingFees(c.Request.Context(), filter)
	out := make([]gin.H, 0, len(fees))
	for _, f := range fees {
		out = append(out, gin.H{
			"network":     f.Network,
			"router":      f.Router.Hex(),
			"token":       f.Token.Hex(),
			"facilitator": f.Facilitator.Hex(),
			"amount":      f.Amount.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"pendingFees": out})
}

// claimFeesRequest is POST /claim-fees' optional JSON body (§6). An absent
// or empty body sweeps every configured network and token.
type claimFeesRequest struct {
	Networks []string `json:"networks"`
	Tokens   []string `json:"tokens"`
}

// handleClaimFees handles POST /claim-fees, per §4.10 step 4.
func (s *Server) handleClaimFees(c *gin.Context) {
	var req claimFeesRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	resp := s.feeClaimer.Claim(c.Request.Context(), feeclaim.Filter{Networks: req.Networks, Tokens: req.Tokens})

	for _, g := range resp.Groups {
		s.metrics.RecordClaim(g.Network, string(g.Status))
	}

	out := make([]gin.H, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		out = append(out, feeGroupToDTO(g))
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      resp.Success,
		"claims":       out,
		"totalClaimed": resp.TotalClaimed.String(),
	})
}

// handleVerifyInfo and handleSettleInfo answer the self-describing GETs §6
// lists alongside the POST endpoints, so a browser hitting the facilitator
// sees usage instead of a 404.
func (s *Server) handleVerifyInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"endpoint":    "/verify",
		"description": "POST a {paymentPayload, paymentRequirements} pair to validate a payment intent without settling it",
		"body":        gin.H{"paymentPayload": "PaymentPayload", "paymentRequirements": "PaymentRequirements"},
	})
}

func (s *Server) handleSettleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"endpoint":    "/settle",
		"description": "POST a verified {paymentPayload, paymentRequirements} pair to execute settlement on-chain",
		"body":        gin.H{"paymentPayload": "PaymentPayload", "paymentRequirements": "PaymentRequirements"},
	})
}

func feeGroupToDTO(g feeclaim.GroupResult) gin.H {
	fees := make([]gin.H, 0, len(g.Fees))
	for _, f := range g.Fees {
		fees = append(fees, gin.H{"token": f.Token.Hex(), "amount": f.Amount.String()})
	}
	entry := gin.H{
		"network":     g.Network,
		"facilitator": g.Facilitator.Hex(),
		"status":      string(g.Status),
		"fees":        fees,
	}
	if g.TotalClaimed != nil {
		entry["totalClaimed"] = g.TotalClaimed.String()
	}
	if g.Transaction != "" {
		entry["transaction"] = g.Transaction
	}
	if g.Error != "" {
		entry["error"] = g.Error
	}
	return entry
}
