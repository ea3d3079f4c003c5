// Package vnpay adapts the VNPay redirect gateway: signed payment initiation and callback verification.
package vnpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
)

const DefaultExpiry = 15 * time.Minute

var minorUnits = decimal.NewFromInt(100)

type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Version    string
	Command    string
	OrderType  string
	Locale     string
	CurrCode   string
	Expiry     time.Duration
	// SkipSignature disables callback verification. Configuration refuses it in production.
	SkipSignature bool
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = "2.1.0"
	}
	if c.Command == "" {
		c.Command = "pay"
	}
	if c.OrderType == "" {
		c.OrderType = "other"
	}
	if c.Locale == "" {
		c.Locale = "vn"
	}
	if c.CurrCode == "" {
		c.CurrCode = "VND"
	}
	if c.Expiry <= 0 {
		c.Expiry = DefaultExpiry
	}
	return c
}

type Gateway struct {
	cfg Config
	now func() time.Time
}

var _ payment.Gateway = (*Gateway)(nil)

func New(cfg Config) (*Gateway, error) {
	cfg = cfg.withDefaults()
	if cfg.TmnCode == "" || cfg.HashSecret == "" {
		return nil, errors.New("vnpay: merchant code and hash secret are required")
	}
	if _, err := url.ParseRequestURI(cfg.PayURL); err != nil {
		return nil, fmt.Errorf("vnpay: pay url: %w", err)
	}
	return &Gateway{cfg: cfg, now: time.Now}, nil
}

// Sign computes the hex HMAC-SHA512 of data.
func Sign(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// ToMinorUnits converts a major-unit amount; fractions of a minor unit cannot be encoded.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Mul(minorUnits)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s has sub-minor-unit precision", amount)
	}
	return minor.IntPart(), nil
}

func (g *Gateway) Initiate(_ context.Context, req payment.InitiateRequest) (*payment.Initiation, error) {
	amount, err := ToMinorUnits(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("vnpay: %w: %w", payment.ErrEncoding, err)
	}

	created := req.CreatedAt
	if created.IsZero() {
		created = g.now()
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = g.cfg.ReturnURL
	}
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	pr := PaymentRequest{
		Version:    g.cfg.Version,
		Command:    g.cfg.Command,
		TmnCode:    g.cfg.TmnCode,
		Amount:     amount,
		CurrCode:   g.cfg.CurrCode,
		TxnRef:     req.Reference,
		OrderInfo:  req.OrderInfo,
		OrderType:  g.cfg.OrderType,
		Locale:     g.cfg.Locale,
		ReturnURL:  returnURL,
		IPAddr:     ip,
		CreateDate: created,
		ExpireDate: created.Add(g.cfg.Expiry),
	}
	if err := pr.validate(); err != nil {
		return nil, fmt.Errorf("vnpay: %w: %w", payment.ErrEncoding, err)
	}

	c := Canonicalize(pr.Params())
	paymentURL := g.cfg.PayURL + "?" + c.Query + "&" + ParamSecureHash + "=" + Sign(g.cfg.HashSecret, c.HashData)

	return &payment.Initiation{
		PaymentURL: paymentURL,
		Reference:  pr.TxnRef,
		ExpiresAt:  pr.ExpireDate,
	}, nil
}

// VerifyCallback checks the signature over every field except the signature fields themselves and
// decodes the callback.
func (g *Gateway) VerifyCallback(params map[string]string) (*payment.Callback, error) {
	signed := make(map[string]string, len(params))
	for k, v := range params {
		if k == ParamSecureHash || k == ParamSecureHashType {
			continue
		}
		signed[k] = v
	}

	cb := &payment.Callback{
		Reference:         params[ParamTxnRef],
		TransactionNo:     params[ParamTransactionNo],
		ResponseCode:      params[ParamResponseCode],
		TransactionStatus: params[ParamTransactionStatus],
		BankCode:          params[ParamBankCode],
	}

	if g.cfg.SkipSignature {
		cb.SignatureSkipped = true
	} else {
		expected := Sign(g.cfg.HashSecret, Canonicalize(signed).HashData)
		got := strings.ToLower(params[ParamSecureHash])
		if got == "" || !hmac.Equal([]byte(expected), []byte(got)) {
			return nil, payment.ErrInvalidSignature
		}
	}

	raw := params[ParamAmount]
	minor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || minor < 0 {
		return nil, fmt.Errorf("vnpay: amount %q: %w", raw, payment.ErrAmountMismatch)
	}
	cb.Amount = decimal.New(minor, 0).Div(minorUnits)
	return cb, nil
}
