// File: internal/infra/adapters/payment/betterpay_gateway.go
package payment

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/security"
)

var _ adapter.PaymentGateway = (*BetterPayGateway)(nil)

const (
	endpointPayment = "/rest/payment"
	endpointMandate = "/rest/create_mandate_reference"
)

// Vendor transaction status codes.
// https://testdashboard.betterpayment.de/docs/#transaction-statuses
const (
	vendorStatusStarted    = 1
	vendorStatusPending    = 2
	vendorStatusSuccess    = 3
	vendorStatusError      = 4
	vendorStatusCanceled   = 5
	vendorStatusDeclined   = 6
	vendorStatusRefunded   = 7
	vendorStatusChargeback = 13
)

// sensitiveRequestParams are instrument details that may travel to the
// provider but must be masked before anything is written to our own storage.
var sensitiveRequestParams = []string{
	"card_brand",
	"card_last_four",
	"card_expiry_year",
	"card_expiry_month",
	"bic",
	"iban",
	"account_holder",
}

// billingParams maps the billing fields every payment request must carry.
var billingParams = []string{"first_name", "last_name", "email", "address", "city", "postal_code", "country"}

// mandateParams are additionally required for a fresh direct-debit mandate.
var mandateParams = []string{"iban", "bic", "account_holder"}

// BetterPayGateway talks to the BetterPayment REST API. All requests are
// form-encoded and signed with a sha1 checksum over the sorted parameters
// plus the outgoing key; inbound traffic is verified against the incoming
// key the same way. Every provider round trip is appended to the
// transaction log with instrument data masked.
type BetterPayGateway struct {
	cfg config.BetterPayConfig

	postbackURL string
	successURL  string
	errorURL    string

	txlog  repository.TransactionLogRepository
	cipher *security.EncryptionService
	client *http.Client
	log    *zerolog.Logger
}

// NewBetterPayGateway wires the provider client. cipher may be nil, in which
// case mandate tokens are stored as the provider returned them.
func NewBetterPayGateway(cfg config.BetterPayConfig, web config.WebConfig, txlog repository.TransactionLogRepository, cipher *security.EncryptionService, logger *zerolog.Logger) (*BetterPayGateway, error) {
	if cfg.APIDomain == "" || cfg.APIKey == "" || cfg.IncomingKey == "" || cfg.OutgoingKey == "" {
		return nil, fmt.Errorf("betterpay gateway: incomplete credentials: %w", domain.ErrInvalidArgument)
	}
	base := strings.TrimSuffix(web.BaseURL, "/")
	return &BetterPayGateway{
		cfg:         cfg,
		postbackURL: base + "/postback",
		successURL:  base + web.SuccessPath,
		errorURL:    base + web.ErrorPath,
		txlog:       txlog,
		cipher:      cipher,
		client:      &http.Client{Timeout: 15 * time.Second},
		log:         logger,
	}, nil
}

func (g *BetterPayGateway) Name() string { return "betterpayment" }

// Checksum signs a parameter set with the given shared key: sha1 over the
// url-encoded parameters in sorted key order, the key appended. A present
// "checksum" parameter is excluded, absent values count as empty strings.
func Checksum(params map[string]string, key string) string {
	values := url.Values{}
	for k, v := range params {
		if k == "checksum" {
			continue
		}
		values.Set(k, v)
	}
	sum := sha1.Sum([]byte(values.Encode() + key))
	return hex.EncodeToString(sum[:])
}

func (g *BetterPayGateway) sign(params map[string]string) map[string]string {
	params["checksum"] = Checksum(params, g.cfg.OutgoingKey)
	return params
}

// VerifyNotification checks an inbound postback's checksum against the
// incoming key.
func (g *BetterPayGateway) VerifyNotification(params map[string]string) error {
	want := Checksum(params, g.cfg.IncomingKey)
	got, ok := params["checksum"]
	if !ok || got != want {
		g.log.Warn().Str("expected", want).Str("received", got).Msg("postback checksum mismatch")
		return domain.ErrBadSignature
	}
	return nil
}

// ParseNotification maps a verified postback to the provider-agnostic form.
func (g *BetterPayGateway) ParseNotification(params map[string]string) (*adapter.Notification, error) {
	var missing []string
	for _, p := range []string{"transaction_id", "order_id", "status_code"} {
		if params[p] == "" {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.MissingParamsError{Params: missing}
	}
	code, err := strconv.Atoi(params["status_code"])
	if err != nil {
		return nil, fmt.Errorf("betterpay: bad status_code %q: %w", params["status_code"], domain.ErrInvalidArgument)
	}

	n := &adapter.Notification{
		VendorTransactionID: params["transaction_id"],
		OrderID:             params["order_id"],
		VendorStatusCode:    code,
		Data:                maskParams(params),
	}
	switch code {
	case vendorStatusStarted, vendorStatusPending:
		n.Status = adapter.NotificationStatusPending
	case vendorStatusSuccess:
		n.Status = adapter.NotificationStatusSucceeded
	case vendorStatusCanceled:
		n.Status = adapter.NotificationStatusCanceled
	case vendorStatusError, vendorStatusDeclined:
		n.Status = adapter.NotificationStatusFailed
	case vendorStatusRefunded, vendorStatusChargeback:
		n.Status = adapter.NotificationStatusRefunded
	default:
		n.Status = adapter.NotificationStatusUnknown
	}
	return n, nil
}

// ValidateRedirect authenticates a success/error browser redirect. The
// provider appends order_id, transaction_id and a checksum over them, keyed
// with the incoming key.
func (g *BetterPayGateway) ValidateRedirect(params map[string]string, kind adapter.RedirectKind) (string, error) {
	if err := g.VerifyNotification(params); err != nil {
		return "", err
	}
	orderID := params["order_id"]
	if orderID == "" {
		return "", &domain.MissingParamsError{Params: []string{"order_id"}}
	}
	return orderID, nil
}

func (g *BetterPayGateway) InitiatePayment(ctx context.Context, req adapter.InitiateRequest) (*model.Payment, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	orderID := uuid.NewString()

	var mandateTxID, mandateToken string
	if req.Method == model.PaymentMethodDirectDebit {
		var err error
		mandateTxID, mandateToken, err = g.createMandate(ctx, orderID)
		if err != nil {
			return nil, err
		}
	}

	data := g.paymentForm(req.Method, orderID, req.AmountCents, req.Billing)
	data["customer_id"] = req.UserID
	if req.Method == model.PaymentMethodDirectDebit {
		data["iban"] = req.IBAN
		data["bic"] = req.BIC
		data["account_holder"] = req.AccountHolder
		data["original_transaction_id"] = mandateTxID
	}
	if model.RedirectingMethods[req.Method] {
		data["success_url"] = g.successURL
		data["error_url"] = g.errorURL
	}

	result, err := g.post(ctx, endpointPayment, data, req.UserID, orderID)
	if err != nil {
		return nil, err
	}

	p, err := model.NewPayment(uuid.NewString(), req.UserID, orderID, req.Method, req.AmountCents, req.Billing)
	if err != nil {
		return nil, err
	}
	p.VendorTransactionID = result.TransactionID
	p.DebitPeriod = req.DebitPeriod
	p.IsPostponed = req.Postpone
	p.Backend = g.Name()
	p.ExtraData["status"] = result.Status
	p.ExtraData["status_code"] = result.StatusCode
	if result.RedirectURL != "" {
		p.ExtraData["redirect_url"] = result.RedirectURL
	}
	if req.Method == model.PaymentMethodDirectDebit {
		if g.cipher != nil {
			sealed, err := g.cipher.Encrypt(mandateToken)
			if err != nil {
				return nil, fmt.Errorf("seal mandate token: %w", err)
			}
			mandateToken = sealed
		}
		p.ExtraData["sepa_mandate_token"] = mandateToken
		p.ExtraData["iban"] = obfuscateIBAN(req.IBAN)
		p.ExtraData["account_holder"] = req.AccountHolder
	}
	g.log.Info().Str("order_id", orderID).Str("method", string(req.Method)).
		Msg("initial payment accepted by provider")
	return p, nil
}

func (g *BetterPayGateway) MakeRecurringPayment(ctx context.Context, ref *model.Payment, sub *model.Subscription, lastPayment *model.Payment) (*model.Payment, error) {
	if sub == nil || sub.State != model.SubscriptionStateActive {
		return nil, fmt.Errorf("recurring charge refused, subscription not active: %w", domain.ErrInvalidArgument)
	}
	if lastPayment != nil && !lastPayment.Status.Finalized() {
		return nil, domain.ErrPaymentPending
	}
	if ref == nil || ref.VendorTransactionID == "" {
		return nil, fmt.Errorf("recurring charge refused, no reference transaction: %w", domain.ErrInvalidArgument)
	}

	orderID := uuid.NewString()
	// The subscription's current amount is charged, not the reference
	// payment's: the user may have changed it since.
	data := g.paymentForm(ref.Method, orderID, sub.AmountCents, ref.Billing)
	data["customer_id"] = ref.UserID
	data["original_transaction_id"] = ref.VendorTransactionID

	result, err := g.post(ctx, endpointPayment, data, ref.UserID, orderID)
	if err != nil {
		return nil, err
	}

	p, err := model.NewPayment(uuid.NewString(), ref.UserID, orderID, ref.Method, sub.AmountCents, ref.Billing)
	if err != nil {
		return nil, err
	}
	p.VendorTransactionID = result.TransactionID
	p.DebitPeriod = sub.DebitPeriod
	p.IsReferencePayment = false
	p.SubscriptionID = &sub.ID
	p.Backend = g.Name()
	p.ExtraData["status"] = result.Status
	p.ExtraData["status_code"] = result.StatusCode
	g.log.Info().Str("order_id", orderID).Str("subscription_id", sub.ID).
		Msg("recurring payment accepted by provider")
	return p, nil
}

// paymentForm builds the common signed-request body for /rest/payment.
func (g *BetterPayGateway) paymentForm(method model.PaymentMethod, orderID string, amountCents int64, b model.BillingDetails) map[string]string {
	return map[string]string{
		"api_key":      g.cfg.APIKey,
		"payment_type": string(method),
		"order_id":     orderID,
		"recurring":    "1",
		"postback_url": g.postbackURL,
		"amount":       formatAmount(amountCents),
		"first_name":   b.FirstName,
		"last_name":    b.LastName,
		"email":        b.Email,
		"address":      b.Address,
		"city":         b.City,
		"postal_code":  b.PostalCode,
		"country":      b.Country,
	}
}

// createMandate performs the out-of-band SEPA mandate step. The returned
// transaction id seeds the actual payment request; the token is shown to the
// user as the mandate reference.
func (g *BetterPayGateway) createMandate(ctx context.Context, orderID string) (txID, token string, err error) {
	data := map[string]string{
		"api_key":      g.cfg.APIKey,
		"payment_type": string(model.PaymentMethodDirectDebit),
		"order_id":     orderID,
	}
	result, err := g.post(ctx, endpointMandate, data, "", orderID)
	if err != nil {
		return "", "", err
	}
	if result.TransactionID == "" || result.Token == "" {
		g.log.Error().Str("order_id", orderID).Msg("mandate response missing transaction id or token")
		return "", "", fmt.Errorf("betterpay: incomplete mandate response: %w", domain.ErrGatewayUnavailable)
	}
	return result.TransactionID, result.Token, nil
}

type providerResult struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
	StatusCode    int    `json:"status_code"`
	Status        string `json:"status"`
	Token         string `json:"token"`
	ClientAction  string `json:"client_action"`
	ActionData    struct {
		URL string `json:"url"`
	} `json:"action_data"`

	RedirectURL string `json:"-"`
}

// post signs and sends one form-encoded request and appends the redacted
// round trip to the transaction log whether or not the provider liked it.
func (g *BetterPayGateway) post(ctx context.Context, endpoint string, data map[string]string, userID, orderID string) (*providerResult, error) {
	postURL := strings.TrimSuffix(g.cfg.APIDomain, "/") + endpoint
	data = g.sign(data)

	form := url.Values{}
	for k, v := range data {
		form.Set(k, v)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.log.Error().Err(err).Str("url", postURL).Msg("provider unreachable")
		return nil, domain.ErrGatewayUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		g.log.Error().Int("status", resp.StatusCode).Str("url", postURL).Msg("provider returned non-200")
		return nil, domain.ErrGatewayUnavailable
	}

	var result providerResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("betterpay: decoding response: %w", err)
	}
	if result.ClientAction == "redirect" {
		result.RedirectURL = result.ActionData.URL
	}

	g.appendLog(ctx, postURL, data, &result, userID, orderID)

	if result.ErrorCode != 0 {
		g.log.Warn().Int("error_code", result.ErrorCode).Str("order_id", orderID).
			Str("url", postURL).Msg("provider rejected request")
		return nil, &domain.GatewayError{Code: result.ErrorCode, Message: result.ErrorMessage}
	}
	return &result, nil
}

func (g *BetterPayGateway) appendLog(ctx context.Context, postURL string, data map[string]string, result *providerResult, userID, orderID string) {
	if g.txlog == nil {
		return
	}
	logData := maskParams(data)
	logData["result_error_code"] = result.ErrorCode
	logData["result_status_code"] = result.StatusCode
	logData["result_transaction_id"] = result.TransactionID
	if userID != "" {
		logData["user_id"] = userID
	}
	logData["order_id"] = orderID
	entry := &model.TransactionLog{
		ID:        uuid.NewString(),
		Type:      model.TransactionLogRequest,
		URL:       postURL,
		Data:      logData,
		CreatedAt: time.Now(),
	}
	if err := g.txlog.Append(ctx, repository.NoTX, entry); err != nil {
		g.log.Error().Err(err).Msg("could not append provider request to transaction log")
	}
}

func validateRequest(req adapter.InitiateRequest) error {
	fields := map[string]string{
		"first_name":  req.Billing.FirstName,
		"last_name":   req.Billing.LastName,
		"email":       req.Billing.Email,
		"address":     req.Billing.Address,
		"city":        req.Billing.City,
		"postal_code": req.Billing.PostalCode,
		"country":     req.Billing.Country,
	}
	if req.Method == model.PaymentMethodDirectDebit {
		fields["iban"] = req.IBAN
		fields["bic"] = req.BIC
		fields["account_holder"] = req.AccountHolder
	}
	var required []string
	required = append(required, billingParams...)
	if req.Method == model.PaymentMethodDirectDebit {
		required = append(required, mandateParams...)
	}
	var missing []string
	for _, name := range required {
		if fields[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &domain.MissingParamsError{Params: missing}
	}
	return nil
}

// maskParams replaces instrument data with a placeholder so the transaction
// log never contains it in cleartext.
func maskParams(params map[string]string) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, k := range sensitiveRequestParams {
		if _, ok := out[k]; ok {
			out[k] = "***"
		}
	}
	return out
}

// formatAmount renders cents as a decimal euro amount, e.g. 1050 -> "10.50".
func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// obfuscateIBAN keeps the first two and last four characters visible.
func obfuscateIBAN(iban string) string {
	iban = strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
	if len(iban) <= 6 {
		return strings.Repeat("*", len(iban))
	}
	return iban[:2] + strings.Repeat("*", len(iban)-6) + iban[len(iban)-4:]
}
