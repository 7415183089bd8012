package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"musemarket/core"
	"musemarket/core/types"
	"musemarket/crypto"
	"musemarket/gateway/middleware"
	"musemarket/native/market"
)

type handlers struct {
	node   *core.Node
	logger *slog.Logger
}

type initializeRequest struct {
	Owner     string `json:"owner"`
	Asset     string `json:"asset"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type listRequest struct {
	Vault     string `json:"vault"`
	Price     string `json:"price"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type buyRequest struct {
	Buyer       string `json:"buyer"`
	Vault       string `json:"vault"`
	Destination string `json:"destination"`
	Nonce       uint64 `json:"nonce"`
	Signature   string `json:"signature"`
}

type listingResponse struct {
	LockAddress  string `json:"lockAddress"`
	Owner        string `json:"owner"`
	Asset        string `json:"asset"`
	Price        string `json:"price"`
	Listed       bool   `json:"listed"`
	VaultAddress string `json:"vaultAddress"`
}

type accountResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type holderResponse struct {
	Asset  string `json:"asset"`
	Holder string `json:"holder"`
}

type eventResponse struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func bech32String(addr [20]byte) string {
	return crypto.NewAddress(crypto.MusePrefix, addr[:]).String()
}

func listingFromRecord(record *market.LockRecord) (*listingResponse, error) {
	lockAddr, err := market.LockAddress(record.Owner, record.Asset)
	if err != nil {
		return nil, err
	}
	return &listingResponse{
		LockAddress:  bech32String(lockAddr),
		Owner:        bech32String(record.Owner),
		Asset:        bech32String(record.Asset),
		Price:        record.Price.String(),
		Listed:       record.Listed(),
		VaultAddress: bech32String(record.VaultAddress),
	}, nil
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.writeJSON(w, status, errorResponse{
		Error:     message,
		RequestID: middleware.RequestIDFromContext(r.Context()),
	})
}

// writeDomainError maps engine and node errors onto REST statuses.
func (h *handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, market.ErrListingNotFound):
		h.writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrUnauthorized), errors.Is(err, market.ErrInvalidSeller):
		h.writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, market.ErrAlreadyInitialized),
		errors.Is(err, market.ErrNotListed),
		errors.Is(err, market.ErrVaultMismatch),
		errors.Is(err, market.ErrAssetNotHeld),
		errors.Is(err, market.ErrInsufficientFunds),
		errors.Is(err, market.ErrDerivationMismatch),
		errors.Is(err, core.ErrInvalidNonce):
		h.writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, market.ErrInvalidPrice), errors.Is(err, core.ErrInvalidSignature):
		h.writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("gateway request failed", "error", err,
			"request_id", middleware.RequestIDFromContext(r.Context()))
		h.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func pathIdentity(r *http.Request, param string) ([20]byte, error) {
	return identity(param, chi.URLParam(r, param))
}

func identity(field, value string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return out, fmt.Errorf("%s: %w", field, err)
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func signature(value string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature: expected 65 bytes, got %d", len(sig))
	}
	return sig, nil
}

func (h *handlers) initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := identity("owner", req.Owner)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := identity("asset", req.Asset)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := signature(req.Signature)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	record, err := h.node.MarketInitialize(owner, asset, req.Nonce, sig)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	listing, err := listingFromRecord(record)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, listing)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	owner, err := pathIdentity(r, "owner")
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := pathIdentity(r, "asset")
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req listRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	vault, err := identity("vault", req.Vault)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(req.Price), 10)
	if !ok || price.Sign() <= 0 {
		h.writeError(w, r, http.StatusBadRequest, "price: must be a positive decimal integer")
		return
	}
	sig, err := signature(req.Signature)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	record, err := h.node.MarketList(owner, asset, vault, price, req.Nonce, sig)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	listing, err := listingFromRecord(record)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listing)
}

func (h *handlers) buy(w http.ResponseWriter, r *http.Request) {
	seller, err := pathIdentity(r, "owner")
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := pathIdentity(r, "asset")
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	buyer, err := identity("buyer", req.Buyer)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	vault, err := identity("vault", req.Vault)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	destination := buyer
	if strings.TrimSpace(req.Destination) != "" {
		destination, err = identity("destination", req.Destination)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	sig, err := signature(req.Signature)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	record, err := h.node.MarketBuy(buyer, seller, asset, vault, destination, req.Nonce, sig)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	listing, err := listingFromRecord(record)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listing)
}

func (h *handlers) getListing(w http.ResponseWriter, r *http.Request) {
	owner, err := pathIdentity(r, "owner")
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := pathIdentity(r, "asset")
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	record, err := h.node.MarketGet(owner, asset)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	listing, err := listingFromRecord(record)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listing)
}

func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := pathIdentity(r, "address")
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	account, err := h.node.GetAccount(addr)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, accountResponse{
		Address: bech32String(addr),
		Balance: account.Balance.String(),
		Nonce:   account.Nonce,
	})
}

func (h *handlers) getAssetHolder(w http.ResponseWriter, r *http.Request) {
	asset, err := pathIdentity(r, "asset")
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	holder, found, err := h.node.AssetHolderOf(asset)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !found {
		h.writeError(w, r, http.StatusNotFound, "asset has no recorded holder")
		return
	}
	h.writeJSON(w, http.StatusOK, holderResponse{
		Asset:  bech32String(asset),
		Holder: bech32String(holder),
	})
}

func (h *handlers) getEvents(w http.ResponseWriter, r *http.Request) {
	recent := h.node.Events()
	out := make([]eventResponse, 0, len(recent))
	for _, evt := range recent {
		entry := eventResponse{Type: evt.EventType()}
		if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
			entry.Attributes = carrier.Event().Attributes
		}
		out = append(out, entry)
	}
	h.writeJSON(w, http.StatusOK, out)
}
