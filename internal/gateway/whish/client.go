// Package whish adapts the Whish collect API to the gateway interface.
package whish

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"investpay/internal/gateway"
	"investpay/pkg/domain"
	"investpay/pkg/errors"
	"investpay/pkg/logger"
)

const Name = "whish"

type Config struct {
	BaseURL        string
	Channel        string
	Secret         string
	WebsiteURL     string
	CallbackSecret string
	CallbackURL    string
	RedirectURL    string
	Timeout        time.Duration
	RatePerSec     int
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     logger.Logger
}

// request is the standard request body of the collect API.
type request struct {
	Amount             json.Number `json:"amount,omitempty"`
	Currency           string      `json:"currency,omitempty"`
	Invoice            string      `json:"invoice,omitempty"`
	ExternalID         int64       `json:"externalId,omitempty"`
	SuccessCallbackURL string      `json:"successCallbackUrl,omitempty"`
	FailureCallbackURL string      `json:"failureCallbackUrl,omitempty"`
	SuccessRedirectURL string      `json:"successRedirectUrl,omitempty"`
	FailureRedirectURL string      `json:"failureRedirectUrl,omitempty"`
}

func New(cfg Config, log logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Channel == "" || cfg.Secret == "" || cfg.WebsiteURL == "" {
		log.Warn("Whish credentials not fully configured", map[string]interface{}{
			"channel_set":     cfg.Channel != "",
			"secret_set":      cfg.Secret != "",
			"website_url_set": cfg.WebsiteURL != "",
		})
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, max(cfg.RatePerSec, 1)),
		logger:     log,
	}
}

func (c *Client) Name() string { return Name }

// ExternalID derives the numeric id Whish requires from an order id. It stays
// below 2^53 so providers decoding JSON numbers as doubles echo it unchanged.
func ExternalID(orderID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(orderID[:8]) >> 11)
}

func (c *Client) CreatePayment(ctx context.Context, order *domain.PaymentOrder) (*gateway.Checkout, error) {
	externalID := ExternalID(order.ID)
	exp := gateway.CurrencyExponent(order.Currency)
	callback := strings.TrimRight(c.cfg.CallbackURL, "/") + "/" + Name
	redirect := c.cfg.RedirectURL + "?orderId=" + order.ID.String()

	data, err := c.do(ctx, "payment/whish", request{
		Amount:             json.Number(gateway.ToMajor(order.Amount, order.Currency).StringFixed(exp)),
		Currency:           order.Currency,
		Invoice:            "Deposit " + order.ID.String(),
		ExternalID:         externalID,
		SuccessCallbackURL: callback,
		FailureCallbackURL: callback,
		SuccessRedirectURL: redirect + "&result=success",
		FailureRedirectURL: redirect + "&result=failure",
	})
	if err != nil {
		return nil, err
	}

	collectURL := data.Get("collectUrl").String()
	if collectURL == "" {
		return nil, errors.Wrap(errors.ErrGatewayRejected, "whish response missing collectUrl")
	}
	return &gateway.Checkout{
		Handle:      strconv.FormatInt(externalID, 10),
		RedirectURL: collectURL,
	}, nil
}

func (c *Client) QueryStatus(ctx context.Context, order *domain.PaymentOrder) (domain.Outcome, error) {
	data, err := c.do(ctx, "payment/collect/status", request{
		Currency:   order.Currency,
		ExternalID: ExternalID(order.ID),
	})
	if err != nil {
		return "", err
	}
	outcome, ok := gateway.ParseOutcome(data.Get("collectStatus").String())
	if !ok {
		return domain.OutcomePending, nil
	}
	return outcome, nil
}

// VerifyCallback authenticates a Whish notification of the form
// {"orderId": "...", "externalId": 123, "collectStatus": "success", "amount": "50.00", "currency": "USD"}.
func (c *Client) VerifyCallback(payload []byte, headers http.Header) (*gateway.Callback, error) {
	if err := gateway.VerifySignature([]byte(c.cfg.CallbackSecret), payload, headers.Get(gateway.SignatureHeader)); err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(payload) {
		return nil, errors.ErrMalformedCallback
	}
	fields := gjson.GetManyBytes(payload, "orderId", "externalId", "collectStatus", "amount", "currency")

	orderID, err := uuid.Parse(fields[0].String())
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformedCallback, "orderId")
	}
	outcome, ok := gateway.ParseOutcome(fields[2].String())
	if !ok {
		return nil, errors.Wrap(errors.ErrMalformedCallback, "collectStatus")
	}
	currency := strings.ToUpper(fields[4].String())
	major, err := decimal.NewFromString(fields[3].String())
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformedCallback, "amount")
	}
	amount, err := gateway.ToMinor(major, currency)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformedCallback, err.Error())
	}

	return &gateway.Callback{
		OrderID:  orderID,
		Handle:   fields[1].String(),
		Outcome:  outcome,
		Amount:   amount,
		Currency: currency,
	}, nil
}

// do posts payload to endpoint and returns the "data" object of a successful
// response. Transport failures, 5xx and 429 map to ErrGatewayUnavailable;
// explicit refusals map to ErrGatewayRejected.
func (c *Client) do(ctx context.Context, endpoint string, payload interface{}) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, errors.Wrap(errors.ErrGatewayUnavailable, err.Error())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("channel", c.cfg.Channel)
	req.Header.Set("secret", c.cfg.Secret)
	req.Header.Set("websiteurl", c.cfg.WebsiteURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, errors.Wrap(errors.ErrGatewayUnavailable, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, errors.Wrap(errors.ErrGatewayUnavailable, "failed to read response")
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return gjson.Result{}, errors.Wrap(errors.ErrGatewayUnavailable, fmt.Sprintf("whish returned %d", resp.StatusCode))
	}
	if !gjson.ValidBytes(respBody) {
		return gjson.Result{}, errors.Wrap(errors.ErrGatewayUnavailable, "whish returned a non-JSON body")
	}

	parsed := gjson.ParseBytes(respBody)
	if resp.StatusCode >= http.StatusBadRequest || !parsed.Get("status").Bool() {
		code := parsed.Get("code").String()
		if code == "" {
			code = "unknown"
		}
		msg := "whish API error: " + code
		if dialog := parsed.Get("dialog.message").String(); dialog != "" {
			msg += " - " + dialog
		}
		c.logger.Warn("Whish request rejected", map[string]interface{}{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"code":     code,
		})
		return gjson.Result{}, errors.Wrap(errors.ErrGatewayRejected, msg)
	}
	return parsed.Get("data"), nil
}
