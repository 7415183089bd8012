package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"musemarket/core"
	"musemarket/crypto"
	"musemarket/native/market"
	"musemarket/observability"
)

const (
	codeMarketInvalidParams = -32031
	codeMarketNotFound      = -32032
	codeMarketForbidden     = -32033
	codeMarketConflict      = -32034
	codeMarketInternal      = -32035
)

type marketInitializeParams struct {
	Owner     string `json:"owner"`
	Asset     string `json:"asset"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type marketListParams struct {
	Owner     string `json:"owner"`
	Asset     string `json:"asset"`
	Vault     string `json:"vault"`
	Price     string `json:"price"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type marketBuyParams struct {
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	Asset       string `json:"asset"`
	Vault       string `json:"vault"`
	Destination string `json:"destination"`
	Nonce       uint64 `json:"nonce"`
	Signature   string `json:"signature"`
}

type marketGetListingParams struct {
	Owner string `json:"owner"`
	Asset string `json:"asset"`
}

type marketGetBalanceParams struct {
	Address string `json:"address"`
}

type lockRecordResult struct {
	LockAddress  string `json:"lockAddress"`
	Owner        string `json:"owner"`
	Asset        string `json:"asset"`
	Price        string `json:"price"`
	Listed       bool   `json:"listed"`
	Bump         uint8  `json:"bump"`
	VaultAddress string `json:"vaultAddress"`
	VaultBump    uint8  `json:"vaultBump"`
}

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

func formatLockRecord(record *market.LockRecord) (*lockRecordResult, error) {
	lockAddr, err := market.LockAddress(record.Owner, record.Asset)
	if err != nil {
		return nil, err
	}
	return &lockRecordResult{
		LockAddress:  crypto.NewAddress(crypto.MusePrefix, lockAddr[:]).String(),
		Owner:        crypto.NewAddress(crypto.MusePrefix, record.Owner[:]).String(),
		Asset:        crypto.NewAddress(crypto.MusePrefix, record.Asset[:]).String(),
		Price:        record.Price.String(),
		Listed:       record.Listed(),
		Bump:         record.Bump,
		VaultAddress: crypto.NewAddress(crypto.MusePrefix, record.VaultAddress[:]).String(),
		VaultBump:    record.VaultBump,
	}, nil
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single params object, got %d", len(req.Params))
	}
	dec := json.NewDecoder(strings.NewReader(string(req.Params[0])))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func parseIdentity(field, value string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return out, fmt.Errorf("%s: %w", field, err)
	}
	if addr.Prefix() != crypto.MusePrefix {
		return out, fmt.Errorf("%s: unexpected prefix %q", field, addr.Prefix())
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func parseSignature(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature: expected 65 bytes, got %d", len(sig))
	}
	return sig, nil
}

func parsePrice(value string) (*big.Int, error) {
	price, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("price: not a decimal integer: %q", value)
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("price: must be positive")
	}
	return price, nil
}

// mapMarketError translates a domain error into the module's error code space.
func mapMarketError(err error) (int, string) {
	switch {
	case errors.Is(err, market.ErrListingNotFound):
		return codeMarketNotFound, "listing not found"
	case errors.Is(err, market.ErrUnauthorized) || errors.Is(err, market.ErrInvalidSeller):
		return codeMarketForbidden, err.Error()
	case errors.Is(err, market.ErrAlreadyInitialized),
		errors.Is(err, market.ErrNotListed),
		errors.Is(err, market.ErrVaultMismatch),
		errors.Is(err, market.ErrAssetNotHeld),
		errors.Is(err, market.ErrInsufficientFunds),
		errors.Is(err, market.ErrDerivationMismatch),
		errors.Is(err, core.ErrInvalidNonce):
		return codeMarketConflict, err.Error()
	case errors.Is(err, market.ErrInvalidPrice), errors.Is(err, core.ErrInvalidSignature):
		return codeMarketInvalidParams, err.Error()
	default:
		return codeMarketInternal, "internal error"
	}
}

func (s *Server) observe(method string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		code, _ := mapMarketError(err)
		observability.Market().ObserveError(method, strconv.Itoa(code))
	}
	observability.Market().ObserveRequest(method, outcome, time.Since(start))
}

func (s *Server) writeMarketError(w http.ResponseWriter, id interface{}, err error) {
	code, message := mapMarketError(err)
	status := http.StatusBadRequest
	switch code {
	case codeMarketNotFound:
		status = http.StatusNotFound
	case codeMarketForbidden:
		status = http.StatusForbidden
	case codeMarketConflict:
		status = http.StatusConflict
	case codeMarketInternal:
		status = http.StatusInternalServerError
		s.logger.Error("market operation failed", "error", err)
	}
	writeError(w, status, id, code, message, nil)
}

func (s *Server) handleMarketInitialize(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	var params marketInitializeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseIdentity("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseIdentity("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	sig, err := parseSignature(params.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.node.MarketInitialize(owner, asset, params.Nonce, sig)
	s.observe("market_initialize", start, err)
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return
	}
	result, err := formatLockRecord(record)
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleMarketList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	var params marketListParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseIdentity("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseIdentity("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	vault, err := parseIdentity("vault", params.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	price, err := parsePrice(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	sig, err := parseSignature(params.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.node.MarketList(owner, asset, vault, price, params.Nonce, sig)
	s.observe("market_list", start, err)
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return
	}
	result, err := formatLockRecord(record)
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleMarketBuy(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	var params marketBuyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	buyer, err := parseIdentity("buyer", params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	seller, err := parseIdentity("seller", params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseIdentity("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	vault, err := parseIdentity("vault", params.Vault)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	destination := buyer
	if strings.TrimSpace(params.Destination) != "" {
		destination, err = parseIdentity("destination", params.Destination)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
			return
		}
	}
	sig, err := parseSignature(params.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.node.MarketBuy(buyer, seller, asset, vault, destination, params.Nonce, sig)
	s.observe("market_buy", start, err)
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return
	}
	result, err := formatLockRecord(record)
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleMarketGetListing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	var params marketGetListingParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseIdentity("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseIdentity("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.node.MarketGet(owner, asset)
	s.observe("market_getListing", start, err)
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return
	}
	result, err := formatLockRecord(record)
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleMarketGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	start := time.Now()
	var params marketGetBalanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseIdentity("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, err.Error(), nil)
		return
	}
	account, err := s.node.GetAccount(addr)
	s.observe("market_getBalance", start, err)
	if err != nil {
		s.writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceResult{
		Address: params.Address,
		Balance: account.Balance.String(),
		Nonce:   account.Nonce,
	})
}
