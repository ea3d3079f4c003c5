package vnpay

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Parameter names on the wire.
const (
	ParamVersion           = "vnp_Version"
	ParamCommand           = "vnp_Command"
	ParamTmnCode           = "vnp_TmnCode"
	ParamAmount            = "vnp_Amount"
	ParamCurrCode          = "vnp_CurrCode"
	ParamBankCode          = "vnp_BankCode"
	ParamTxnRef            = "vnp_TxnRef"
	ParamOrderInfo         = "vnp_OrderInfo"
	ParamOrderType         = "vnp_OrderType"
	ParamLocale            = "vnp_Locale"
	ParamReturnURL         = "vnp_ReturnUrl"
	ParamIPAddr            = "vnp_IpAddr"
	ParamCreateDate        = "vnp_CreateDate"
	ParamExpireDate        = "vnp_ExpireDate"
	ParamSecureHash        = "vnp_SecureHash"
	ParamSecureHashType    = "vnp_SecureHashType"
	ParamResponseCode      = "vnp_ResponseCode"
	ParamTransactionNo     = "vnp_TransactionNo"
	ParamTransactionStatus = "vnp_TransactionStatus"
	ParamPayDate           = "vnp_PayDate"
)

const timestampLayout = "20060102150405"

// gatewayZone is the fixed GMT+7 offset the gateway expects timestamps in.
var gatewayZone = time.FixedZone("GMT+7", 7*60*60)

func formatTimestamp(t time.Time) string { return t.In(gatewayZone).Format(timestampLayout) }

// PaymentRequest is the full outbound parameter set. Params is its only serializer, so the signed
// string and the redirect query are always built from the same fields.
type PaymentRequest struct {
	Version    string
	Command    string
	TmnCode    string
	Amount     int64 // minor units
	CurrCode   string
	BankCode   string
	TxnRef     string
	OrderInfo  string
	OrderType  string
	Locale     string
	ReturnURL  string
	IPAddr     string
	CreateDate time.Time
	ExpireDate time.Time
}

func (r PaymentRequest) Params() map[string]string {
	return map[string]string{
		ParamVersion:    r.Version,
		ParamCommand:    r.Command,
		ParamTmnCode:    r.TmnCode,
		ParamAmount:     strconv.FormatInt(r.Amount, 10),
		ParamCurrCode:   r.CurrCode,
		ParamBankCode:   r.BankCode,
		ParamTxnRef:     r.TxnRef,
		ParamOrderInfo:  r.OrderInfo,
		ParamOrderType:  r.OrderType,
		ParamLocale:     r.Locale,
		ParamReturnURL:  r.ReturnURL,
		ParamIPAddr:     r.IPAddr,
		ParamCreateDate: formatTimestamp(r.CreateDate),
		ParamExpireDate: formatTimestamp(r.ExpireDate),
	}
}

// Canonical is the deterministic form of a parameter set: names sorted ascending,
// empty values dropped, values form-encoded.
type Canonical struct {
	// HashData is the string that gets signed: name=encoded(value) joined by '&'.
	HashData string
	// Query is the redirect query: encoded(name)=encoded(value) joined by '&'.
	Query string
}

func Canonicalize(params map[string]string) Canonical {
	names := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	var hash, query strings.Builder
	for i, name := range names {
		if i > 0 {
			hash.WriteByte('&')
			query.WriteByte('&')
		}
		value := url.QueryEscape(params[name])
		hash.WriteString(name)
		hash.WriteByte('=')
		hash.WriteString(value)
		query.WriteString(url.QueryEscape(name))
		query.WriteByte('=')
		query.WriteString(value)
	}
	return Canonical{HashData: hash.String(), Query: query.String()}
}

// validate rejects parameter sets the gateway cannot accept.
func (r PaymentRequest) validate() error {
	if r.Amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", r.Amount)
	}
	if r.TxnRef == "" {
		return fmt.Errorf("transaction reference is required")
	}
	u, err := url.Parse(r.ReturnURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("return url %q is not absolute", r.ReturnURL)
	}
	for name, v := range r.Params() {
		for _, c := range v {
			if c < 0x20 || c > 0x7e {
				return fmt.Errorf("%s contains a non-ASCII character", name)
			}
		}
	}
	return nil
}
