// Package server exposes the facilitator's HTTP surface (§6): verify,
// settle, supported-kinds discovery, fee calculation, and fee claiming, on
// top of the orchestrator/feeclaim packages.
package server

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402x/facilitator/internal/legacyv1"
	"github.com/x402x/facilitator/internal/settlement"
	"github.com/x402x/facilitator/internal/verify"
)

// authorizationDTO is the wire shape of an EIP-3009 authorization, shared
// by both x402Version payloads.
type authorizationDTO struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// settlementExtraDTO is v2's `accepted.extra` bag (§3's SettlementExtra).
type settlementExtraDTO struct {
	SettlementRouter string `json:"settlementRouter"`
	Salt             string `json:"salt"`
	FinalPayTo       string `json:"finalPayTo"`
	FacilitatorFee   string `json:"facilitatorFee"`
	Hook             string `json:"hook,omitempty"`
	HookData         string `json:"hookData,omitempty"`
	AssetName        string `json:"assetName,omitempty"`
	AssetVersion     string `json:"assetVersion,omitempty"`
}

// paymentPayloadDTO is the request body's `paymentPayload`.
type paymentPayloadDTO struct {
	X402Version   int               `json:"x402Version"`
	Scheme        string            `json:"scheme"`
	Network       string            `json:"network"`
	Signature     string            `json:"signature"`
	Authorization authorizationDTO  `json:"authorization"`
}

// paymentRequirementsDTO is the request body's `paymentRequirements`.
type paymentRequirementsDTO struct {
	Scheme            string              `json:"scheme"`
	Network           string              `json:"network"`
	Asset             string              `json:"asset"`
	PayTo             string              `json:"payTo"`
	MaxAmountRequired string              `json:"maxAmountRequired"`
	MaxTimeoutSeconds int64               `json:"maxTimeoutSeconds"`
	Resource          string              `json:"resource,omitempty"`
	Extra             *settlementExtraDTO `json:"extra,omitempty"`
}

// verifyRequest is POST /verify and POST /settle's shared request body.
type verifyRequest struct {
	PaymentPayload      paymentPayloadDTO      `json:"paymentPayload" binding:"required"`
	PaymentRequirements paymentRequirementsDTO `json:"paymentRequirements" binding:"required"`
}

func parseHexAddress(s string) common.Address {
	return common.HexToAddress(s)
}

// parseAmount parses a token-amount string. The wire format is decimal;
// a 0x prefix selects hex explicitly.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex integer %q", s)
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func parseBytes32(s string) ([32]byte, error) {
	var out [32]byte
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func parseBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func hexAddr(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func hexBytes32(b [32]byte) string {
	return "0x" + hex.EncodeToString(b[:])
}

func hexBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(b)
}

// toV2 converts the wire DTOs into the verify package's v2 domain types.
func (req verifyRequest) toV2() (verify.PaymentPayload, verify.PaymentRequirements, error) {
	auth, err := req.PaymentPayload.Authorization.toDomain()
	if err != nil {
		return verify.PaymentPayload{}, verify.PaymentRequirements{}, err
	}
	sig, err := parseBytes(req.PaymentPayload.Signature)
	if err != nil {
		return verify.PaymentPayload{}, verify.PaymentRequirements{}, fmt.Errorf("invalid signature: %w", err)
	}
	payload := verify.PaymentPayload{
		Scheme:        req.PaymentPayload.Scheme,
		Network:       req.PaymentPayload.Network,
		X402Version:   req.PaymentPayload.X402Version,
		Signature:     sig,
		Authorization: auth,
	}

	maxAmount, err := parseAmount(req.PaymentRequirements.MaxAmountRequired)
	if err != nil {
		return verify.PaymentPayload{}, verify.PaymentRequirements{}, fmt.Errorf("invalid maxAmountRequired: %w", err)
	}
	extra, err := req.PaymentRequirements.Extra.toDomain()
	if err != nil {
		return verify.PaymentPayload{}, verify.PaymentRequirements{}, err
	}
	requirements := verify.PaymentRequirements{
		Scheme:            req.PaymentRequirements.Scheme,
		Network:           req.PaymentRequirements.Network,
		Asset:             parseHexAddress(req.PaymentRequirements.Asset),
		PayTo:             parseHexAddress(req.PaymentRequirements.PayTo),
		MaxAmountRequired: maxAmount,
		MaxTimeoutSeconds: req.PaymentRequirements.MaxTimeoutSeconds,
		Resource:          req.PaymentRequirements.Resource,
		Extra:             extra,
	}
	return payload, requirements, nil
}

// toV1 converts the wire DTOs into the legacyv1 domain types.
func (req verifyRequest) toV1() (legacyv1.PaymentPayload, legacyv1.PaymentRequirements, error) {
	auth, err := req.PaymentPayload.Authorization.toDomainV1()
	if err != nil {
		return legacyv1.PaymentPayload{}, legacyv1.PaymentRequirements{}, err
	}
	sig, err := parseBytes(req.PaymentPayload.Signature)
	if err != nil {
		return legacyv1.PaymentPayload{}, legacyv1.PaymentRequirements{}, fmt.Errorf("invalid signature: %w", err)
	}
	payload := legacyv1.PaymentPayload{
		Scheme:        req.PaymentPayload.Scheme,
		Network:       req.PaymentPayload.Network,
		Signature:     sig,
		Authorization: auth,
	}

	maxAmount, err := parseAmount(req.PaymentRequirements.MaxAmountRequired)
	if err != nil {
		return legacyv1.PaymentPayload{}, legacyv1.PaymentRequirements{}, fmt.Errorf("invalid maxAmountRequired: %w", err)
	}
	requirements := legacyv1.PaymentRequirements{
		Scheme:            req.PaymentRequirements.Scheme,
		Network:           req.PaymentRequirements.Network,
		Asset:             parseHexAddress(req.PaymentRequirements.Asset),
		PayTo:             parseHexAddress(req.PaymentRequirements.PayTo),
		MaxAmountRequired: maxAmount,
		MaxTimeoutSeconds: req.PaymentRequirements.MaxTimeoutSeconds,
	}
	return payload, requirements, nil
}

func (a authorizationDTO) toDomain() (verify.Authorization, error) {
	value, err := parseAmount(a.Value)
	if err != nil {
		return verify.Authorization{}, fmt.Errorf("invalid authorization.value: %w", err)
	}
	validAfter, err := parseAmount(a.ValidAfter)
	if err != nil {
		return verify.Authorization{}, fmt.Errorf("invalid authorization.validAfter: %w", err)
	}
	validBefore, err := parseAmount(a.ValidBefore)
	if err != nil {
		return verify.Authorization{}, fmt.Errorf("invalid authorization.validBefore: %w", err)
	}
	nonce, err := parseBytes32(a.Nonce)
	if err != nil {
		return verify.Authorization{}, fmt.Errorf("invalid authorization.nonce: %w", err)
	}
	return verify.Authorization{
		From:        parseHexAddress(a.From),
		To:          parseHexAddress(a.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}, nil
}

func (a authorizationDTO) toDomainV1() (legacyv1.Authorization, error) {
	value, err := parseAmount(a.Value)
	if err != nil {
		return legacyv1.Authorization{}, fmt.Errorf("invalid authorization.value: %w", err)
	}
	validAfter, err := parseAmount(a.ValidAfter)
	if err != nil {
		return legacyv1.Authorization{}, fmt.Errorf("invalid authorization.validAfter: %w", err)
	}
	validBefore, err := parseAmount(a.ValidBefore)
	if err != nil {
		return legacyv1.Authorization{}, fmt.Errorf("invalid authorization.validBefore: %w", err)
	}
	nonce, err := parseBytes32(a.Nonce)
	if err != nil {
		return legacyv1.Authorization{}, fmt.Errorf("invalid authorization.nonce: %w", err)
	}
	return legacyv1.Authorization{
		From:        parseHexAddress(a.From),
		To:          parseHexAddress(a.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}, nil
}

func (e *settlementExtraDTO) toDomain() (verify.SettlementExtra, error) {
	if e == nil {
		return verify.SettlementExtra{}, nil
	}
	salt, err := parseBytes32(e.Salt)
	if err != nil {
		return verify.SettlementExtra{}, fmt.Errorf("invalid extra.salt: %w", err)
	}
	fee, err := parseAmount(e.FacilitatorFee)
	if err != nil {
		return verify.SettlementExtra{}, fmt.Errorf("invalid extra.facilitatorFee: %w", err)
	}
	hookData, err := parseBytes(e.HookData)
	if err != nil {
		return verify.SettlementExtra{}, fmt.Errorf("invalid extra.hookData: %w", err)
	}
	return verify.SettlementExtra{
		SettlementRouter: parseHexAddress(e.SettlementRouter),
		Salt:             salt,
		FinalPayTo:       parseHexAddress(e.FinalPayTo),
		FacilitatorFee:   fee,
		Hook:             parseHexAddress(e.Hook),
		HookData:         hookData,
		AssetName:        e.AssetName,
		AssetVersion:     e.AssetVersion,
	}, nil
}

// verifyResponseDTO is §4.8's {isValid, invalidReason?, payer} wire shape.
type verifyResponseDTO struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

func v2ResultToDTO(r verify.Result) verifyResponseDTO {
	return verifyResponseDTO{IsValid: r.IsValid, InvalidReason: string(r.InvalidReason), Payer: hexAddr(r.Payer)}
}

func v1ResultToDTO(r legacyv1.Result) verifyResponseDTO {
	return verifyResponseDTO{IsValid: r.IsValid, InvalidReason: string(r.InvalidReason), Payer: hexAddr(r.Payer)}
}

// settleResponseDTO is §4.9's settlement response wire shape, returned with
// HTTP 200 regardless of success (§6's deliberate deviation from a 422 on
// business failure).
type settleResponseDTO struct {
	Success     bool    `json:"success"`
	Transaction string  `json:"transaction,omitempty"`
	Network     string  `json:"network"`
	Payer       string  `json:"payer,omitempty"`
	ErrorReason string  `json:"errorReason,omitempty"`
	GasUsed     uint64  `json:"gasUsed,omitempty"`
	GasCostUSD  float64 `json:"gasCostUsd,omitempty"`
	FeeUSD      float64 `json:"feeUsd,omitempty"`
	ProfitUSD   float64 `json:"profitUsd,omitempty"`
}

func v2SettleToDTO(r settlement.Response) settleResponseDTO {
	return settleResponseDTO{
		Success: r.Success, Transaction: r.Transaction, Network: r.Network, Payer: hexAddr(r.Payer),
		ErrorReason: r.ErrorReason, GasUsed: r.GasUsed, GasCostUSD: r.GasCostUSD, FeeUSD: r.FeeUSD, ProfitUSD: r.ProfitUSD,
	}
}

func v1SettleToDTO(r legacyv1.SettleResponse) settleResponseDTO {
	return settleResponseDTO{Success: r.Success, Transaction: r.Transaction, Network: r.Network, Payer: hexAddr(r.Payer), ErrorReason: r.ErrorReason}
}
