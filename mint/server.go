package mint

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/walnutd/walnut/cashu"
	"github.com/walnutd/walnut/cashu/nuts/nut01"
	"github.com/walnutd/walnut/cashu/nuts/nut02"
	"github.com/walnutd/walnut/cashu/nuts/nut03"
	"github.com/walnutd/walnut/cashu/nuts/nut04"
	"github.com/walnutd/walnut/cashu/nuts/nut05"
	"github.com/walnutd/walnut/cashu/nuts/nut07"
	"github.com/walnutd/walnut/cashu/nuts/nut09"
	"github.com/walnutd/walnut/mint/storage"
)

type MintServer struct {
	httpServer *http.Server
	mint       *Mint
}

func SetupMintServer(config Config) (*MintServer, error) {
	mint, err := LoadMint(config)
	if err != nil {
		return nil, err
	}

	mintServer := &MintServer{mint: mint}
	mintServer.setupHttpServer(config.Port)
	return mintServer, nil
}

func (ms *MintServer) Start() error {
	ms.mint.logger.Info("mint server listening on: " + ms.httpServer.Addr)
	return ms.httpServer.ListenAndServe()
}

func (ms *MintServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if err := ms.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return ms.mint.Shutdown()
}

func (ms *MintServer) setupHttpServer(port string) {
	r := mux.NewRouter()

	r.HandleFunc("/v1/keys", ms.getActiveKeys).Methods(http.MethodGet)
	r.HandleFunc("/v1/keys/{id}", ms.getKeysetById).Methods(http.MethodGet)
	r.HandleFunc("/v1/keysets", ms.getKeysetsList).Methods(http.MethodGet)
	r.HandleFunc("/v1/swap", ms.swapRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/mint/quote/bolt11", ms.mintQuoteRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/mint/quote/bolt11/{quote_id}", ms.mintQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/mint/bolt11", ms.mintTokensRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/quote/bolt11", ms.meltQuoteRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/quote/bolt11/{quote_id}", ms.meltQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/melt/bolt11", ms.meltTokensRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/checkstate", ms.checkProofsState).Methods(http.MethodPost)
	r.HandleFunc("/v1/restore", ms.restoreSignatures).Methods(http.MethodPost)
	r.HandleFunc("/v1/info", ms.mintInfo).Methods(http.MethodGet)

	if port == "" {
		port = "3338"
	}
	ms.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
}

func (ms *MintServer) writeResponse(rw http.ResponseWriter, response any) {
	jsonRes, err := json.Marshal(response)
	if err != nil {
		ms.writeErr(rw, cashu.StandardErr)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.Write(jsonRes)
}

// writeErr writes a protocol error response. Internal errors are
// logged but never leaked to the client.
func (ms *MintServer) writeErr(rw http.ResponseWriter, err error) {
	var cashuErr cashu.Error
	var cashuErrPtr *cashu.Error
	switch {
	case errors.As(err, &cashuErr):
	case errors.As(err, &cashuErrPtr):
		cashuErr = *cashuErrPtr
	default:
		ms.mint.logger.Error(err.Error())
		cashuErr = cashu.StandardErr
	}

	// db and lightning errors stay internal
	if cashuErr.Code == cashu.DBErrCode || cashuErr.Code == cashu.LightningBackendErrCode {
		ms.mint.logger.Error(cashuErr.Detail)
		cashuErr = cashu.StandardErr
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusBadRequest)
	errRes, _ := json.Marshal(cashuErr)
	rw.Write(errRes)
}

func decodeJsonReqBody(req *http.Request, dst any) error {
	if req.Body == nil {
		return cashu.EmptyBodyErr
	}
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		return cashu.BuildCashuError("invalid request body", cashu.StandardErrCode)
	}
	return nil
}

func (ms *MintServer) getActiveKeys(rw http.ResponseWriter, req *http.Request) {
	activeKeyset := ms.mint.GetActiveKeyset()

	keyset := nut01.Keyset{
		Id:   activeKeyset.Id,
		Unit: activeKeyset.Unit,
		Keys: activeKeyset.PublicKeys(),
	}
	ms.writeResponse(rw, nut01.GetKeysResponse{Keysets: []nut01.Keyset{keyset}})
}

func (ms *MintServer) getKeysetById(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	id := vars["id"]

	keysets := ms.mint.GetKeysets()
	keyset, ok := keysets[id]
	if !ok {
		ms.writeErr(rw, cashu.UnknownKeysetErr)
		return
	}

	response := nut01.GetKeysResponse{
		Keysets: []nut01.Keyset{{
			Id:   keyset.Id,
			Unit: keyset.Unit,
			Keys: keyset.PublicKeys(),
		}},
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) getKeysetsList(rw http.ResponseWriter, req *http.Request) {
	keysets := ms.mint.GetKeysets()

	list := make([]nut02.Keyset, 0, len(keysets))
	for _, keyset := range keysets {
		list = append(list, nut02.Keyset{
			Id:          keyset.Id,
			Unit:        keyset.Unit,
			Active:      keyset.Active,
			InputFeePpk: keyset.InputFeePpk,
		})
	}
	ms.writeResponse(rw, nut02.GetKeysetsResponse{Keysets: list})
}

func (ms *MintServer) swapRequest(rw http.ResponseWriter, req *http.Request) {
	var swapRequest nut03.PostSwapRequest
	if err := decodeJsonReqBody(req, &swapRequest); err != nil {
		ms.writeErr(rw, err)
		return
	}

	signatures, err := ms.mint.Swap(swapRequest.Inputs, swapRequest.Outputs)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}

	ms.writeResponse(rw, nut03.PostSwapResponse{Signatures: signatures})
}

func (ms *MintServer) mintQuoteRequest(rw http.ResponseWriter, req *http.Request) {
	var mintQuoteRequest nut04.PostMintQuoteBolt11Request
	if err := decodeJsonReqBody(req, &mintQuoteRequest); err != nil {
		ms.writeErr(rw, err)
		return
	}

	quote, err := ms.mint.RequestMintQuote(mintQuoteRequest)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}

	ms.writeResponse(rw, mintQuoteToResponse(quote))
}

func (ms *MintServer) mintQuoteState(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	quote, err := ms.mint.GetMintQuoteState(vars["quote_id"])
	if err != nil {
		ms.writeErr(rw, err)
		return
	}

	ms.writeResponse(rw, mintQuoteToResponse(quote))
}

func (ms *MintServer) mintTokensRequest(rw http.ResponseWriter, req *http.Request) {
	var mintTokensRequest nut04.PostMintBolt11Request
	if err := decodeJsonReqBody(req, &mintTokensRequest); err != nil {
		ms.writeErr(rw, err)
		return
	}

	signatures, err := ms.mint.MintTokens(mintTokensRequest)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}

	ms.writeResponse(rw, nut04.PostMintBolt11Response{Signatures: signatures})
}

func (ms *MintServer) meltQuoteRequest(rw http.ResponseWriter, req *http.Request) {
	var meltQuoteRequest nut05.PostMeltQuoteBolt11Request
	if err := decodeJsonReqBody(req, &meltQuoteRequest); err != nil {
		ms.writeErr(rw, err)
		return
	}

	quote, err := ms.mint.RequestMeltQuote(meltQuoteRequest)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}

	ms.writeResponse(rw, meltQuoteToResponse(quote, nil))
}

func (ms *MintServer) meltQuoteState(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	quote, err := ms.mint.GetMeltQuoteState(req.Context(), vars["quote_id"])
	if err != nil {
		ms.writeErr(rw, err)
		return
	}

	ms.writeResponse(rw, meltQuoteToResponse(quote, nil))
}

func (ms *MintServer) meltTokensRequest(rw http.ResponseWriter, req *http.Request) {
	var meltTokensRequest nut05.PostMeltBolt11Request
	if err := decodeJsonReqBody(req, &meltTokensRequest); err != nil {
		ms.writeErr(rw, err)
		return
	}

	quote, change, err := ms.mint.MeltTokens(req.Context(), meltTokensRequest)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}

	ms.writeResponse(rw, meltQuoteToResponse(quote, change))
}

func (ms *MintServer) checkProofsState(rw http.ResponseWriter, req *http.Request) {
	var checkStateRequest nut07.PostCheckStateRequest
	if err := decodeJsonReqBody(req, &checkStateRequest); err != nil {
		ms.writeErr(rw, err)
		return
	}

	states, err := ms.mint.ProofsStateCheck(checkStateRequest.Ys)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}

	ms.writeResponse(rw, nut07.PostCheckStateResponse{States: states})
}

func (ms *MintServer) restoreSignatures(rw http.ResponseWriter, req *http.Request) {
	var restoreRequest nut09.PostRestoreRequest
	if err := decodeJsonReqBody(req, &restoreRequest); err != nil {
		ms.writeErr(rw, err)
		return
	}

	outputs, signatures, err := ms.mint.RestoreSignatures(restoreRequest.Outputs)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}

	ms.writeResponse(rw, nut09.PostRestoreResponse{Outputs: outputs, Signatures: signatures})
}

func (ms *MintServer) mintInfo(rw http.ResponseWriter, req *http.Request) {
	mintInfo, err := ms.mint.RetrieveMintInfo()
	if err != nil {
		ms.writeErr(rw, err)
		return
	}

	ms.writeResponse(rw, mintInfo)
}

func mintQuoteToResponse(quote storage.MintQuote) *nut04.PostMintQuoteBolt11Response {
	response := &nut04.PostMintQuoteBolt11Response{
		Quote:   quote.Id,
		Request: quote.PaymentRequest,
		State:   quote.State,
		Expiry:  quote.Expiry,
	}
	if quote.Pubkey != nil {
		response.Pubkey = hex.EncodeToString(quote.Pubkey.SerializeCompressed())
	}
	return response
}

func meltQuoteToResponse(quote storage.MeltQuote, change cashu.BlindedSignatures) *nut05.PostMeltQuoteBolt11Response {
	return &nut05.PostMeltQuoteBolt11Response{
		Quote:      quote.Id,
		Amount:     quote.Amount,
		FeeReserve: quote.FeeReserve,
		State:      quote.State,
		Expiry:     quote.Expiry,
		Preimage:   quote.Preimage,
		Change:     change,
	}
}
