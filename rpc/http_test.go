package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"musemarket/core"
	"musemarket/crypto"
	"musemarket/storage"
)

type rpcActor struct {
	key  *crypto.PrivateKey
	addr [20]byte
}

func newRPCActor(t *testing.T) *rpcActor {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	var addr [20]byte
	copy(addr[:], key.PubKey().Address().Bytes())
	return &rpcActor{key: key, addr: addr}
}

func (a *rpcActor) bech32() string {
	return crypto.NewAddress(crypto.MusePrefix, a.addr[:]).String()
}

func bech32Of(addr [20]byte) string {
	return crypto.NewAddress(crypto.MusePrefix, addr[:]).String()
}

func newTestServer(t *testing.T) (*Server, *core.Node) {
	t.Helper()
	node := core.NewNode(storage.NewMemDB())
	return NewServer(node, slog.Default()), node
}

func postRPC(t *testing.T, server *Server, method string, params interface{}) *RPCResponse {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
		"params":  []json.RawMessage{raw},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.handle(rec, req)
	var resp RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp
}

func signHex(t *testing.T, key *crypto.PrivateKey, digest []byte) string {
	t.Helper()
	sig, err := key.SignDigest(digest)
	require.NoError(t, err)
	return hex.EncodeToString(sig)
}

func resultInto(t *testing.T, resp *RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestServerMarketFlow(t *testing.T) {
	server, node := newTestServer(t)
	seller := newRPCActor(t)
	buyer := newRPCActor(t)
	asset := newRPCActor(t).addr

	require.NoError(t, node.MintAsset(asset, seller.addr))
	require.NoError(t, node.Mint(buyer.addr, big.NewInt(1_000)))

	initResp := postRPC(t, server, "market_initialize", marketInitializeParams{
		Owner:     seller.bech32(),
		Asset:     bech32Of(asset),
		Nonce:     0,
		Signature: signHex(t, seller.key, core.InitializeDigest(seller.addr, asset, 0)),
	})
	var record lockRecordResult
	resultInto(t, initResp, &record)
	require.Equal(t, "0", record.Price)
	require.False(t, record.Listed)

	vaultAddr, err := crypto.DecodeAddress(record.VaultAddress)
	require.NoError(t, err)
	var vault [20]byte
	copy(vault[:], vaultAddr.Bytes())

	price := big.NewInt(250)
	listResp := postRPC(t, server, "market_list", marketListParams{
		Owner:     seller.bech32(),
		Asset:     bech32Of(asset),
		Vault:     record.VaultAddress,
		Price:     price.String(),
		Nonce:     1,
		Signature: signHex(t, seller.key, core.ListDigest(seller.addr, asset, vault, price, 1)),
	})
	resultInto(t, listResp, &record)
	require.Equal(t, "250", record.Price)
	require.True(t, record.Listed)

	buyResp := postRPC(t, server, "market_buy", marketBuyParams{
		Buyer:     buyer.bech32(),
		Seller:    seller.bech32(),
		Asset:     bech32Of(asset),
		Vault:     record.VaultAddress,
		Nonce:     0,
		Signature: signHex(t, buyer.key, core.BuyDigest(buyer.addr, seller.addr, asset, vault, buyer.addr, 0)),
	})
	resultInto(t, buyResp, &record)
	require.Equal(t, "0", record.Price)
	require.False(t, record.Listed)

	holder, found, err := node.AssetHolderOf(asset)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, buyer.addr, holder)

	var balance balanceResult
	resultInto(t, postRPC(t, server, "market_getBalance", marketGetBalanceParams{Address: seller.bech32()}), &balance)
	require.Equal(t, "250", balance.Balance)
}

func TestServerRejectsMalformedParams(t *testing.T) {
	server, _ := newTestServer(t)
	actor := newRPCActor(t)

	cases := []struct {
		name   string
		params marketInitializeParams
	}{
		{"bad owner", marketInitializeParams{Owner: "not-bech32", Asset: actor.bech32(), Signature: "00"}},
		{"bad asset", marketInitializeParams{Owner: actor.bech32(), Asset: "nope", Signature: "00"}},
		{"short signature", marketInitializeParams{Owner: actor.bech32(), Asset: actor.bech32(), Signature: "deadbeef"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postRPC(t, server, "market_initialize", tc.params)
			require.NotNil(t, resp.Error)
			require.Equal(t, codeMarketInvalidParams, resp.Error.Code)
		})
	}
}

func TestServerMapsDomainErrors(t *testing.T) {
	server, node := newTestServer(t)
	seller := newRPCActor(t)
	asset := newRPCActor(t).addr
	require.NoError(t, node.MintAsset(asset, seller.addr))

	params := marketInitializeParams{
		Owner:     seller.bech32(),
		Asset:     bech32Of(asset),
		Nonce:     0,
		Signature: signHex(t, seller.key, core.InitializeDigest(seller.addr, asset, 0)),
	}
	resp := postRPC(t, server, "market_initialize", params)
	require.Nil(t, resp.Error)

	// Same nonce again: replay is a conflict.
	replay := postRPC(t, server, "market_initialize", params)
	require.NotNil(t, replay.Error)
	require.Equal(t, codeMarketConflict, replay.Error.Code)

	// Fresh nonce with a valid signature over the same pair: already initialized.
	params.Nonce = 1
	params.Signature = signHex(t, seller.key, core.InitializeDigest(seller.addr, asset, 1))
	dup := postRPC(t, server, "market_initialize", params)
	require.NotNil(t, dup.Error)
	require.Equal(t, codeMarketConflict, dup.Error.Code)

	missing := postRPC(t, server, "market_getListing", marketGetListingParams{
		Owner: newRPCActor(t).bech32(),
		Asset: bech32Of(asset),
	})
	require.NotNil(t, missing.Error)
	require.Equal(t, codeMarketNotFound, missing.Error.Code)
}

func TestServerRejectsForeignSigner(t *testing.T) {
	server, node := newTestServer(t)
	seller := newRPCActor(t)
	intruder := newRPCActor(t)
	asset := newRPCActor(t).addr
	require.NoError(t, node.MintAsset(asset, seller.addr))

	resp := postRPC(t, server, "market_initialize", marketInitializeParams{
		Owner:     seller.bech32(),
		Asset:     bech32Of(asset),
		Nonce:     0,
		Signature: signHex(t, intruder.key, core.InitializeDigest(seller.addr, asset, 0)),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketForbidden, resp.Error.Code)
}

func TestServerRequiresBearerToken(t *testing.T) {
	server, _ := newTestServer(t)
	server.authToken = "sekrit"
	actor := newRPCActor(t)

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      7,
		"method":  "market_initialize",
		"params": []interface{}{marketInitializeParams{
			Owner: actor.bech32(), Asset: actor.bech32(), Signature: "00",
		}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.handle(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	server.handle(rec, req)
	// Authenticated but unsigned: fails validation, not auth.
	require.NotEqual(t, http.StatusUnauthorized, rec.Code)
}

func TestServerRateLimitsMutations(t *testing.T) {
	server, _ := newTestServer(t)
	actor := newRPCActor(t)
	params := marketGetListingParams{Owner: actor.bech32(), Asset: actor.bech32()}

	var last *RPCResponse
	for i := 0; i < maxTxPerWindow+1; i++ {
		raw, err := json.Marshal(marketInitializeParams{
			Owner: actor.bech32(), Asset: actor.bech32(), Signature: "00",
		})
		require.NoError(t, err)
		body, err := json.Marshal(map[string]interface{}{
			"jsonrpc": jsonRPCVersion,
			"id":      i,
			"method":  "market_initialize",
			"params":  []json.RawMessage{raw},
		})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		req.RemoteAddr = "10.0.0.9:4455"
		rec := httptest.NewRecorder()
		server.handle(rec, req)
		last = &RPCResponse{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), last))
	}
	require.NotNil(t, last.Error)
	require.Contains(t, fmt.Sprint(last.Error.Message), "rate limit")

	// Queries are not rate limited.
	resp := postRPC(t, server, "market_getListing", params)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketNotFound, resp.Error.Code)
}

func TestServerUnknownMethod(t *testing.T) {
	server, _ := newTestServer(t)
	resp := postRPC(t, server, "market_burn", struct{}{})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}
