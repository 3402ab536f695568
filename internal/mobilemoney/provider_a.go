package mobilemoney

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)) on provider-A callbacks.
const SignatureHeader = "X-Signature"

// ProviderAGateway issues USSD push codes; the payer dials the code and
// receives an OTP to confirm.
type ProviderAGateway struct {
	c      *client
	secret []byte
}

func NewProviderA(o Options) *ProviderAGateway {
	return &ProviderAGateway{c: newClient(o), secret: []byte(o.Secret)}
}

func (g *ProviderAGateway) Name() string { return ProviderA }

type aCollectReq struct {
	Amount    int64  `json:"amount"`
	MSISDN    string `json:"msisdn"`
	Reference string `json:"reference"`
}

type aCollectResp struct {
	TransactionID string `json:"transaction_id"`
	USSDCode      string `json:"ussd_code"`
}

func (g *ProviderAGateway) IssueCode(ctx context.Context, req IssueRequest) (Issued, error) {
	var out aCollectResp
	err := g.c.withRetry(ctx, func(ctx context.Context) error {
		return g.c.postJSON(ctx, "/v1/collections", aCollectReq{
			Amount:    req.Amount,
			MSISDN:    strings.TrimPrefix(req.Phone, "+"),
			Reference: req.Reference,
		}, &out)
	})
	if err != nil {
		return Issued{}, err
	}
	if out.TransactionID == "" {
		return Issued{}, fmt.Errorf("%w: empty transaction id", ErrGatewayUnavailable)
	}
	return Issued{ProviderRef: out.TransactionID, DisplayCode: out.USSDCode}, nil
}

type aConfirmResp struct {
	Status string `json:"status"`
}

func (g *ProviderAGateway) ConfirmCode(ctx context.Context, providerRef, code string) (bool, error) {
	var out aConfirmResp
	path := "/v1/collections/" + url.PathEscape(providerRef) + "/confirm"
	if err := g.c.postJSON(ctx, path, map[string]string{"otp": code}, &out); err != nil {
		return false, err
	}
	settled, ok := aFinal(out.Status)
	if !settled {
		return false, fmt.Errorf("%w: collection %s still %s", ErrGatewayTimeout, providerRef, out.Status)
	}
	return ok, nil
}

// aFinal reports whether status is settled and, if so, whether it is a
// success. PENDING and anything unrecognised is not settled.
func aFinal(status string) (settled, success bool) {
	switch strings.ToUpper(status) {
	case "SUCCESSFUL":
		return true, true
	case "FAILED", "REJECTED", "DECLINED", "CANCELLED", "EXPIRED", "INVALID_OTP":
		return true, false
	}
	return false, false
}

type aCallback struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

func (g *ProviderAGateway) ParseCallback(h http.Header, body []byte) (Callback, error) {
	got, err := hex.DecodeString(h.Get(SignatureHeader))
	if err != nil || !hmac.Equal(got, Sign(g.secret, body)) {
		return Callback{}, ErrBadSignature
	}
	var cb aCallback
	if err := json.Unmarshal(body, &cb); err != nil || cb.TransactionID == "" {
		return Callback{}, ErrMalformedCallback
	}
	settled, ok := aFinal(cb.Status)
	return Callback{ProviderRef: cb.TransactionID, Success: ok, Pending: !settled}, nil
}

// Sign computes the provider-A callback signature.
func Sign(secret, body []byte) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write(body)
	return m.Sum(nil)
}
