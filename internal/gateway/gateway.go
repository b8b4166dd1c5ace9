package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/GlebRadaev/vpnshop/internal/config"
	"github.com/GlebRadaev/vpnshop/pkg/clients"
)

var ErrGateway = errors.New("deposit gateway error")

type Status string

const (
	StatusPending Status = "Pending"
	StatusSuccess Status = "Success"
	StatusExpired Status = "Expired"
)

type Deposit struct {
	Code     string
	Amount   int64
	QRLink   string
	QRString string
	Guide    string
	Raw      string
}

type DepositStatus struct {
	Status Status
	Amount int64
	Raw    string
}

type amount int64

// UnmarshalJSON accepts both numbers and numeric strings.
func (a *amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*a = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", s, err)
	}
	*a = amount(f)
	return nil
}

type createResponse struct {
	Status bool   `json:"status"`
	Msg    string `json:"msg"`
	Data   struct {
		Code     string `json:"kode_deposit"`
		Received amount `json:"saldo_diterima"`
		QRLink   string `json:"link_qr"`
		QRString string `json:"qr_string"`
		Guide    string `json:"panduan_pembayaran"`
	} `json:"data"`
}

type statusResponse struct {
	Status bool   `json:"status"`
	Msg    string `json:"msg"`
	Data   struct {
		Status   Status `json:"status"`
		Received amount `json:"saldo_diterima"`
	} `json:"data"`
}

type Client struct {
	url    string
	apiKey string
	client clients.HTTPClientI
}

func New(cfg *config.Config, client clients.HTTPClientI) *Client {
	return &Client{
		url:    cfg.GatewayAddress,
		apiKey: cfg.GatewayAPIKey,
		client: client,
	}
}

func (c *Client) call(ctx context.Context, params url.Values, out any) (string, error) {
	params.Set("api_key", c.apiKey)
	statusCode, body, err := c.client.PostForm(ctx, c.url, params)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrGateway, params.Get("action"), err)
	}
	if statusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s: unexpected status code %d", ErrGateway, params.Get("action"), statusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return "", fmt.Errorf("%w: %s: failed to parse response body: %w", ErrGateway, params.Get("action"), err)
	}
	zap.L().Debug("Gateway call", zap.String("action", params.Get("action")), zap.ByteString("response", body))
	return string(body), nil
}

// CreateDeposit asks the gateway for a new QR deposit of n.
// Amount in the result is what the gateway will credit, falling back to n.
func (c *Client) CreateDeposit(ctx context.Context, n int64, ref string) (*Deposit, error) {
	params := url.Values{
		"action": {"get-deposit"},
		"jumlah": {strconv.FormatInt(n, 10)},
	}
	if ref != "" {
		params.Set("ref_id", ref)
	}

	var resp createResponse
	raw, err := c.call(ctx, params, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Status || resp.Data.Code == "" {
		msg := resp.Msg
		if msg == "" {
			msg = "deposit request rejected"
		}
		return nil, fmt.Errorf("%w: %s", ErrGateway, msg)
	}

	dep := &Deposit{
		Code:     resp.Data.Code,
		Amount:   int64(resp.Data.Received),
		QRLink:   resp.Data.QRLink,
		QRString: resp.Data.QRString,
		Guide:    resp.Data.Guide,
		Raw:      raw,
	}
	if dep.Amount <= 0 {
		dep.Amount = n
	}
	return dep, nil
}

func (c *Client) Status(ctx context.Context, code string) (*DepositStatus, error) {
	params := url.Values{
		"action":       {"status-deposit"},
		"kode_deposit": {code},
	}

	var resp statusResponse
	raw, err := c.call(ctx, params, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Status {
		msg := resp.Msg
		if msg == "" {
			msg = "status request rejected"
		}
		return nil, fmt.Errorf("%w: %s", ErrGateway, msg)
	}

	st := resp.Data.Status
	if st == "" {
		st = StatusPending
	}
	return &DepositStatus{Status: st, Amount: int64(resp.Data.Received), Raw: raw}, nil
}

// FetchQR downloads the QR image behind link.
func (c *Client) FetchQR(ctx context.Context, link string) ([]byte, error) {
	statusCode, body, err := c.client.Get(ctx, link, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch qr: %w", ErrGateway, err)
	}
	if statusCode != http.StatusOK || len(body) == 0 {
		return nil, fmt.Errorf("%w: fetch qr: unexpected status code %d", ErrGateway, statusCode)
	}
	return body, nil
}
