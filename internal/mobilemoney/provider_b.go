package mobilemoney

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const CallbackTokenHeader = "X-Callback-Token"

// ProviderBGateway returns a merchant payment code the payer enters in the
// provider's menu; the payer then submits the confirmation it gets back.
type ProviderBGateway struct {
	c     *client
	token string
}

func NewProviderB(o Options) *ProviderBGateway {
	return &ProviderBGateway{c: newClient(o), token: o.CallbackToken}
}

func (g *ProviderBGateway) Name() string { return ProviderB }

type bPaymentReq struct {
	Amount     int64  `json:"amount"`
	Phone      string `json:"phone"`
	ExternalID string `json:"external_id"`
}

type bPaymentResp struct {
	Reference   string `json:"reference"`
	PaymentCode string `json:"payment_code"`
}

func (g *ProviderBGateway) IssueCode(ctx context.Context, req IssueRequest) (Issued, error) {
	var out bPaymentResp
	err := g.c.withRetry(ctx, func(ctx context.Context) error {
		return g.c.postJSON(ctx, "/payments", bPaymentReq{Amount: req.Amount, Phone: req.Phone, ExternalID: req.Reference}, &out)
	})
	if err != nil {
		return Issued{}, err
	}
	if out.Reference == "" {
		return Issued{}, fmt.Errorf("%w: empty reference", ErrGatewayUnavailable)
	}
	return Issued{ProviderRef: out.Reference, DisplayCode: "#150*50*" + out.PaymentCode + "#"}, nil
}

type bVerifyResp struct {
	Success bool `json:"success"`
}

func (g *ProviderBGateway) ConfirmCode(ctx context.Context, providerRef, code string) (bool, error) {
	var out bVerifyResp
	if err := g.c.postJSON(ctx, "/payments/"+url.PathEscape(providerRef)+"/verify", map[string]string{"code": code}, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

type bCallback struct {
	Reference string `json:"reference"`
	Success   bool   `json:"success"`
}

func (g *ProviderBGateway) ParseCallback(h http.Header, body []byte) (Callback, error) {
	if g.token == "" || subtle.ConstantTimeCompare([]byte(h.Get(CallbackTokenHeader)), []byte(g.token)) != 1 {
		return Callback{}, ErrBadSignature
	}
	var cb bCallback
	if err := json.Unmarshal(body, &cb); err != nil || cb.Reference == "" {
		return Callback{}, ErrMalformedCallback
	}
	return Callback{ProviderRef: cb.Reference, Success: cb.Success}, nil
}
