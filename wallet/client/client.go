// Package client talks to a mint over its HTTP endpoints.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/walnutd/walnut/cashu"
	"github.com/walnutd/walnut/cashu/nuts/nut01"
	"github.com/walnutd/walnut/cashu/nuts/nut02"
	"github.com/walnutd/walnut/cashu/nuts/nut03"
	"github.com/walnutd/walnut/cashu/nuts/nut04"
	"github.com/walnutd/walnut/cashu/nuts/nut05"
	"github.com/walnutd/walnut/cashu/nuts/nut06"
	"github.com/walnutd/walnut/cashu/nuts/nut07"
	"github.com/walnutd/walnut/cashu/nuts/nut09"
)

func GetMintInfo(mintURL string) (*nut06.MintInfo, error) {
	return get[nut06.MintInfo](mintURL + "/v1/info")
}

func GetActiveKeysets(mintURL string) (*nut01.GetKeysResponse, error) {
	return get[nut01.GetKeysResponse](mintURL + "/v1/keys")
}

func GetKeysetById(mintURL, id string) (*nut01.GetKeysResponse, error) {
	return get[nut01.GetKeysResponse](mintURL + "/v1/keys/" + id)
}

func GetAllKeysets(mintURL string) (*nut02.GetKeysetsResponse, error) {
	return get[nut02.GetKeysetsResponse](mintURL + "/v1/keysets")
}

func PostMintQuoteBolt11(mintURL string, mintQuoteRequest nut04.PostMintQuoteBolt11Request) (
	*nut04.PostMintQuoteBolt11Response, error) {
	return post[nut04.PostMintQuoteBolt11Response](mintURL+"/v1/mint/quote/bolt11", mintQuoteRequest)
}

func GetMintQuoteState(mintURL, quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	return get[nut04.PostMintQuoteBolt11Response](mintURL + "/v1/mint/quote/bolt11/" + quoteId)
}

func PostMintBolt11(mintURL string, mintRequest nut04.PostMintBolt11Request) (
	*nut04.PostMintBolt11Response, error) {
	return post[nut04.PostMintBolt11Response](mintURL+"/v1/mint/bolt11", mintRequest)
}

func PostSwap(mintURL string, swapRequest nut03.PostSwapRequest) (*nut03.PostSwapResponse, error) {
	return post[nut03.PostSwapResponse](mintURL+"/v1/swap", swapRequest)
}

func PostMeltQuoteBolt11(mintURL string, meltQuoteRequest nut05.PostMeltQuoteBolt11Request) (
	*nut05.PostMeltQuoteBolt11Response, error) {
	return post[nut05.PostMeltQuoteBolt11Response](mintURL+"/v1/melt/quote/bolt11", meltQuoteRequest)
}

func GetMeltQuoteState(mintURL, quoteId string) (*nut05.PostMeltQuoteBolt11Response, error) {
	return get[nut05.PostMeltQuoteBolt11Response](mintURL + "/v1/melt/quote/bolt11/" + quoteId)
}

func PostMeltBolt11(mintURL string, meltRequest nut05.PostMeltBolt11Request) (
	*nut05.PostMeltQuoteBolt11Response, error) {
	return post[nut05.PostMeltQuoteBolt11Response](mintURL+"/v1/melt/bolt11", meltRequest)
}

func PostCheckProofState(mintURL string, stateRequest nut07.PostCheckStateRequest) (
	*nut07.PostCheckStateResponse, error) {
	return post[nut07.PostCheckStateResponse](mintURL+"/v1/checkstate", stateRequest)
}

func PostRestore(mintURL string, restoreRequest nut09.PostRestoreRequest) (
	*nut09.PostRestoreResponse, error) {
	return post[nut09.PostRestoreResponse](mintURL+"/v1/restore", restoreRequest)
}

func get[T any](url string) (*T, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return parse[T](resp)
}

func post[T any](url string, request any) (*T, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return parse[T](resp)
}

// parse decodes the mint response, turning protocol error bodies
// back into cashu.Error values.
func parse[T any](response *http.Response) (*T, error) {
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}

	if response.StatusCode == http.StatusBadRequest {
		var errResponse cashu.Error
		if err := json.Unmarshal(body, &errResponse); err != nil {
			return nil, fmt.Errorf("could not decode error response from mint: %v", err)
		}
		return nil, errResponse
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s", body)
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}
	return &result, nil
}
