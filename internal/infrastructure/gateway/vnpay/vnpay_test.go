package vnpay

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
)

const testSecret = "SECRETKEY"

func newTestGateway(t *testing.T, skip bool) *Gateway {
	t.Helper()
	g, err := New(Config{
		TmnCode:       "TMN01",
		HashSecret:    testSecret,
		PayURL:        "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:     "https://shop.example.com/payments/vnpay/return",
		SkipSignature: skip,
	})
	require.NoError(t, err)
	return g
}

func TestCanonicalizeSortsAndDropsEmpty(t *testing.T) {
	c := Canonicalize(map[string]string{
		"vnp_TxnRef":    "abc",
		"vnp_Amount":    "1000000",
		"vnp_BankCode":  "",
		"vnp_OrderInfo": "Thanh toan don hang",
	})
	assert.Equal(t, "vnp_Amount=1000000&vnp_OrderInfo=Thanh+toan+don+hang&vnp_TxnRef=abc", c.HashData)
	assert.Equal(t, c.HashData, c.Query)
}

func TestCanonicalizeEncodesReservedCharacters(t *testing.T) {
	c := Canonicalize(map[string]string{"vnp_ReturnUrl": "https://x.test/r?a=1&b=2"})
	assert.Equal(t, "vnp_ReturnUrl=https%3A%2F%2Fx.test%2Fr%3Fa%3D1%26b%3D2", c.HashData)
}

func TestSignIsHexHMACSHA512(t *testing.T) {
	sig := Sign("key", "data")
	assert.Len(t, sig, 128)
	assert.Equal(t, sig, Sign("key", "data"))
	assert.NotEqual(t, sig, Sign("other", "data"))
}

func TestInitiateBuildsSignedURL(t *testing.T) {
	g := newTestGateway(t, false)
	created := time.Date(2024, 3, 1, 3, 4, 5, 0, time.UTC)

	started, err := g.Initiate(context.Background(), payment.InitiateRequest{
		OrderID:   "o-1",
		Reference: "ref123",
		Amount:    decimal.RequireFromString("150000"),
		OrderInfo: "Thanh toan don hang ref123",
		ClientIP:  "10.0.0.1",
		CreatedAt: created,
	})
	require.NoError(t, err)
	assert.Equal(t, "ref123", started.Reference)
	assert.Equal(t, 15*time.Minute, started.ExpiresAt.Sub(created))

	u, err := url.Parse(started.PaymentURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "15000000", q.Get(ParamAmount))
	assert.Equal(t, "VND", q.Get(ParamCurrCode))
	assert.Equal(t, "2.1.0", q.Get(ParamVersion))
	assert.Equal(t, "20240301100405", q.Get(ParamCreateDate))
	assert.Equal(t, "20240301101905", q.Get(ParamExpireDate))
	assert.Equal(t, "10.0.0.1", q.Get(ParamIPAddr))

	// the signature is the last parameter and covers the rest of the query verbatim
	idx := strings.LastIndex(u.RawQuery, "&"+ParamSecureHash+"=")
	require.Positive(t, idx)
	assert.Equal(t, Sign(testSecret, u.RawQuery[:idx]), q.Get(ParamSecureHash))
}

func TestInitiateFailsClosedOnEncodingErrors(t *testing.T) {
	g := newTestGateway(t, false)
	cases := map[string]payment.InitiateRequest{
		"fractional minor unit": {Reference: "r", Amount: decimal.RequireFromString("1.005")},
		"zero amount":           {Reference: "r", Amount: decimal.Zero},
		"relative return url":   {Reference: "r", Amount: decimal.NewFromInt(10), ReturnURL: "/return"},
		"non ascii info":        {Reference: "r", Amount: decimal.NewFromInt(10), OrderInfo: "Thanh toán"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := g.Initiate(context.Background(), req)
			assert.ErrorIs(t, err, payment.ErrEncoding)
		})
	}
}

func signedCallback(params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	out[ParamSecureHash] = Sign(testSecret, Canonicalize(params).HashData)
	out[ParamSecureHashType] = "HmacSHA512"
	return out
}

func callbackParams() map[string]string {
	return map[string]string{
		ParamTmnCode:           "TMN01",
		ParamAmount:            "15000000",
		ParamTxnRef:            "ref123",
		ParamOrderInfo:         "Thanh toan don hang ref123",
		ParamResponseCode:      "00",
		ParamTransactionNo:     "14226112",
		ParamTransactionStatus: "00",
		ParamBankCode:          "NCB",
		ParamPayDate:           "20240301101000",
	}
}

func TestVerifyCallbackAcceptsGenuinePayload(t *testing.T) {
	g := newTestGateway(t, false)

	cb, err := g.VerifyCallback(signedCallback(callbackParams()))
	require.NoError(t, err)
	assert.Equal(t, "ref123", cb.Reference)
	assert.Equal(t, "14226112", cb.TransactionNo)
	assert.True(t, cb.Amount.Equal(decimal.NewFromInt(150000)))
	assert.True(t, cb.Succeeded())
	assert.False(t, cb.SignatureSkipped)
}

func TestVerifyCallbackRejectsTamperedPayload(t *testing.T) {
	g := newTestGateway(t, false)

	params := signedCallback(callbackParams())
	params[ParamAmount] = "100"
	_, err := g.VerifyCallback(params)
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)

	params = callbackParams()
	_, err = g.VerifyCallback(params)
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
}

func TestVerifyCallbackSkipFlag(t *testing.T) {
	g := newTestGateway(t, true)

	params := callbackParams()
	params[ParamSecureHash] = "bogus"
	cb, err := g.VerifyCallback(params)
	require.NoError(t, err)
	assert.True(t, cb.SignatureSkipped)
}

func TestFailedCallbackIsNotSuccess(t *testing.T) {
	g := newTestGateway(t, false)
	params := callbackParams()
	params[ParamResponseCode] = "24"
	params[ParamTransactionStatus] = "02"

	cb, err := g.VerifyCallback(signedCallback(params))
	require.NoError(t, err)
	assert.False(t, cb.Succeeded())
}
