package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/custodia-tech/walletd/domain"
	"github.com/custodia-tech/walletd/lib/store"
	"github.com/custodia-tech/walletd/tx"
)

// Default page size for list endpoints when the client does not specify one.
const defaultLimit = 10

const healthTimeout = 2 * time.Second

// Response defines the data structure returned to the client making the http
// request.
type Response struct {
	Body  interface{} `json:"body,omitempty"`
	Error string      `json:"error,omitempty"`
}

// pagedBody wraps one page of items with its pagination metadata.
type pagedBody struct {
	Items      interface{}       `json:"items"`
	Pagination domain.Pagination `json:"pagination"`
}

// statusFor maps the domain error taxonomy to transport codes: validation and
// integrity errors are client errors, missing resources are not-found,
// persistence failures are service-unavailable and everything else is
// internal.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err) || domain.IsIntegrity(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsPersistence(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respond replies to the client and logs the request outcome. On error the
// body is dropped and the status derived from the error kind.
func (s *Server) respond(rw http.ResponseWriter, r *http.Request, status int, body interface{}, err error) {
	var res Response

	if err != nil {
		status = statusFor(err)
		res.Error = err.Error()
	} else {
		res.Body = body
	}

	s.log.Info().Str("remote", r.RemoteAddr).Str("uri", r.RequestURI).Int("status", status).
		Err(err).Msg("httpreq")

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(&res)
}

// parsePage reads page/limit query parameters with defaults; bound checks are
// left to the services.
func parsePage(r *http.Request) (int, int, error) {
	page, limit := 1, defaultLimit

	if v := r.FormValue("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, domain.InvalidPagination("page must be an integer")
		}

		page = n
	}

	if v := r.FormValue("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, domain.InvalidPagination("limit must be an integer")
		}

		limit = n
	}

	return page, limit, nil
}

// homeHandler just replies a welcome message to the client.
func (s *Server) homeHandler(rw http.ResponseWriter, r *http.Request) {
	s.respond(rw, r, http.StatusOK, "Hello, this is your custodial wallet service!", nil)
}

// networksHandler replies the configured networks and the active one.
func (s *Server) networksHandler(rw http.ResponseWriter, r *http.Request) {
	body := struct {
		Networks []string `json:"networks"`
		Current  string   `json:"current"`
	}{Networks: s.reg.Networks(), Current: s.reg.CurrentNetwork()}

	s.respond(rw, r, http.StatusOK, body, nil)
}

// assetView is the client-facing shape of one configured asset on the active
// network.
type assetView struct {
	Symbol   string `json:"symbol"`
	Native   bool   `json:"native"`
	Contract string `json:"contract,omitempty"`
}

// assetsHandler replies the configured assets with their contract address on
// the active network.
func (s *Server) assetsHandler(rw http.ResponseWriter, r *http.Request) {
	views := []assetView{}

	for _, sym := range s.reg.Symbols() {
		a, _ := s.reg.Get(sym)
		v := assetView{Symbol: a.Symbol, Native: a.Native}

		if !a.Native {
			v.Contract = a.Contracts[s.reg.CurrentNetwork()]
		}

		views = append(views, v)
	}

	s.respond(rw, r, http.StatusOK, views, nil)
}

// createWalletsHandler provisions a batch of wallets. The batch either fully
// succeeds or fails as a whole.
func (s *Server) createWalletsHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		ws  []store.Wallet
	)

	defer func() { s.respond(rw, r, http.StatusCreated, ws, err) }()

	req := struct {
		Count int `json:"count"`
	}{Count: 1}

	if r.Body != nil && r.ContentLength > 0 {
		if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
			err = &domain.ValidationError{Code: "malformed_request", Message: "request body must be valid JSON"}

			return
		}
	}

	ws, err = s.wallets.Provision(r.Context(), req.Count)
}

// listWalletsHandler replies one page of active wallets.
func (s *Server) listWalletsHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err  error
		body pagedBody
	)

	defer func() { s.respond(rw, r, http.StatusOK, body, err) }()

	page, limit, err := parsePage(r)
	if err != nil {
		return
	}

	ws, p, err := s.wallets.List(r.Context(), page, limit)
	if err != nil {
		return
	}

	body = pagedBody{Items: ws, Pagination: p}
}

// getWalletHandler replies the wallet for the address in the uri.
func (s *Server) getWalletHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		w   *store.Wallet
	)

	defer func() { s.respond(rw, r, http.StatusOK, w, err) }()

	w, err = s.wallets.ByAddress(r.Context(), mux.Vars(r)["address"])
}

// deleteWalletHandler deactivates the wallet for the address in the uri and
// replies the resulting record.
func (s *Server) deleteWalletHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		w   *store.Wallet
	)

	defer func() { s.respond(rw, r, http.StatusOK, w, err) }()

	w, err = s.wallets.Remove(r.Context(), mux.Vars(r)["address"])
}

// walletBalanceHandler replies the on-chain balance of the wallet for the
// asset in the query (the native asset when omitted).
func (s *Server) walletBalanceHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err  error
		body struct {
			Address string          `json:"address"`
			Asset   string          `json:"asset"`
			Balance decimal.Decimal `json:"balance"`
		}
	)

	defer func() { s.respond(rw, r, http.StatusOK, body, err) }()

	address := mux.Vars(r)["address"]

	asset := r.FormValue("asset")
	if asset == "" {
		asset = s.reg.NativeSymbol()
	}

	bal, err := s.wallets.Balance(r.Context(), address, asset)
	if err != nil {
		return
	}

	body.Address = address
	body.Asset = asset
	body.Balance = bal
}

// createTxHandler creates an outbound transfer on the active network and
// replies the PENDING ledger record.
func (s *Server) createTxHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		t   *store.Transaction
	)

	defer func() { s.respond(rw, r, http.StatusCreated, t, err) }()

	var in tx.CreateInput
	if err = json.NewDecoder(r.Body).Decode(&in); err != nil {
		err = &domain.ValidationError{Code: "malformed_request", Message: "request body must be valid JSON"}

		return
	}

	t, err = s.engine.Create(r.Context(), in)
}

// listTxHandler replies one page of ledger transactions.
func (s *Server) listTxHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err  error
		body pagedBody
	)

	defer func() { s.respond(rw, r, http.StatusOK, body, err) }()

	page, limit, err := parsePage(r)
	if err != nil {
		return
	}

	ts, p, err := s.engine.List(r.Context(), page, limit)
	if err != nil {
		return
	}

	body = pagedBody{Items: ts, Pagination: p}
}

// txByIDHandler replies the ledger transaction for the id in the uri.
func (s *Server) txByIDHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		t   *store.Transaction
	)

	defer func() { s.respond(rw, r, http.StatusOK, t, err) }()

	id, parseErr := uuid.Parse(mux.Vars(r)["id"])
	if parseErr != nil {
		err = &domain.ValidationError{Code: "malformed_id", Message: "transaction id must be a uuid"}

		return
	}

	t, err = s.engine.ByID(r.Context(), id)
}

// txByHashHandler replies the ledger transaction for the chain hash in the
// uri.
func (s *Server) txByHashHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		t   *store.Transaction
	)

	defer func() { s.respond(rw, r, http.StatusOK, t, err) }()

	t, err = s.engine.ByHash(r.Context(), mux.Vars(r)["hash"])
}

// txByWalletHandler replies one page of ledger transactions touching the
// wallet in the uri.
func (s *Server) txByWalletHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err  error
		body pagedBody
	)

	defer func() { s.respond(rw, r, http.StatusOK, body, err) }()

	page, limit, err := parsePage(r)
	if err != nil {
		return
	}

	ts, p, err := s.engine.ListByWallet(r.Context(), mux.Vars(r)["address"], page, limit)
	if err != nil {
		return
	}

	body = pagedBody{Items: ts, Pagination: p}
}

// validateTxHandler verifies the inbound transaction hash in the query
// against chain state.
func (s *Server) validateTxHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		v   *tx.Validation
	)

	defer func() { s.respond(rw, r, http.StatusOK, v, err) }()

	v, err = s.engine.Verify(r.Context(), r.FormValue("tx_hash"))
}

// healthHandler replies storage liveness and connection pool stats.
func (s *Server) healthHandler(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	body := struct {
		Status string          `json:"status"`
		Pool   store.PoolStats `json:"pool"`
	}{Status: "ok", Pool: s.db.Stats()}

	if err := s.db.Ping(ctx); err != nil {
		s.respond(rw, r, 0, nil, domain.PersistenceError("pinging database", err))

		return
	}

	s.respond(rw, r, http.StatusOK, body, nil)
}
