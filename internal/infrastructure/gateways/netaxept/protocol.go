// Package netaxept talks to the Nets "netaxept" hosted-terminal backend.
//
// The flow is register -> send the customer to the hosted terminal ->
// callback -> query -> process. To avoid overcustomization this package makes
// a few choices on behalf of the caller: AutoAuth is turned on, the terminal
// is displayed as a single page, and we always redirect after the terminal.
package netaxept

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/payflow/internal/domain/money"
	"github.com/Zhima-Mochi/payflow/internal/gateway"
)

const Name = "netaxept"

// Config is the connection configuration for one netaxept merchant.
type Config struct {
	MerchantID       string
	Secret           string
	BaseURL          string
	AfterTerminalURL string
}

// ConfigFromGateway extracts the protocol config from the registry-level
// gateway configuration.
func ConfigFromGateway(cfg gateway.Config) Config {
	return Config{
		MerchantID:       cfg.ConnectionParams["merchant_id"],
		Secret:           cfg.ConnectionParams["secret"],
		BaseURL:          cfg.ConnectionParams["base_url"],
		AfterTerminalURL: cfg.ConnectionParams["after_terminal_url"],
	}
}

// Operation is a netaxept process operation code.
type Operation string

const (
	OperationAuth    Operation = "AUTH"
	OperationVerify  Operation = "VERIFY"
	OperationSale    Operation = "SALE"
	OperationCapture Operation = "CAPTURE"
	OperationCredit  Operation = "CREDIT"
	OperationAnnul   Operation = "ANNUL"
)

func protocolError(message string, raw map[string]any) *gateway.ProtocolError {
	return &gateway.ProtocolError{Gateway: Name, Message: message, RawResponse: raw}
}

// Client performs the low-level netaxept calls. It owns its network timeout;
// a hung backend surfaces as a protocol error rather than a stuck payment.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

type RegisterRequest struct {
	Amount      money.Money
	OrderNumber string
	// Language is an iso639-1 code for the hosted terminal display.
	Language      string
	Description   string
	CustomerEmail string
}

type RegisterResponse struct {
	TransactionID string
	RawResponse   map[string]any
}

// Register creates the payment gateway-side before any terminal interaction,
// producing the netaxept transaction id all later calls reference.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	params := url.Values{}
	params.Set("merchantId", c.cfg.MerchantID)
	params.Set("token", c.cfg.Secret)
	params.Set("orderNumber", req.OrderNumber)
	params.Set("amount", fmt.Sprintf("%d", MinorUnits(req.Amount.Amount)))
	params.Set("currencyCode", req.Amount.Currency)
	params.Set("autoAuth", "true")
	params.Set("terminalSinglePage", "true")
	params.Set("redirectUrl", c.cfg.AfterTerminalURL)
	if req.Description != "" {
		params.Set("description", req.Description)
	}
	if lang := terminalLanguage(req.Language); lang != "" {
		params.Set("language", lang)
	}
	if req.CustomerEmail != "" {
		params.Set("customerEmail", req.CustomerEmail)
	}

	raw, body, err := c.post(ctx, "Netaxept/Register.aspx", params)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		TransactionID string `xml:"TransactionId"`
	}
	if err := c.parse(body, "RegisterResponse", &parsed, raw); err != nil {
		return nil, err
	}
	return &RegisterResponse{TransactionID: parsed.TransactionID, RawResponse: raw}, nil
}

type ProcessResponse struct {
	ResponseCode string
	RawResponse  map[string]any
}

// Process runs capture/credit/annul against a previously registered
// transaction. Amount only applies to capture and credit.
func (c *Client) Process(ctx context.Context, transactionID string, op Operation, amount decimal.Decimal) (*ProcessResponse, error) {
	params := url.Values{}
	params.Set("merchantId", c.cfg.MerchantID)
	params.Set("token", c.cfg.Secret)
	params.Set("operation", string(op))
	params.Set("transactionId", transactionID)
	params.Set("transactionAmount", fmt.Sprintf("%d", MinorUnits(amount)))

	raw, body, err := c.post(ctx, "Netaxept/Process.aspx", params)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		ResponseCode string `xml:"ResponseCode"`
	}
	if err := c.parse(body, "ProcessResponse", &parsed, raw); err != nil {
		return nil, err
	}
	return &ProcessResponse{ResponseCode: parsed.ResponseCode, RawResponse: raw}, nil
}

// QueryResponse models just what we need of the very rich query payload; the
// complete response is captured in RawResponse.
type QueryResponse struct {
	Annulled        bool
	Authorized      bool
	AuthorizationID string
	RawResponse     map[string]any
}

// Query fetches the authoritative gateway-side state of a transaction. The
// terminal callback is authenticated against this, never trusted alone.
func (c *Client) Query(ctx context.Context, transactionID string) (*QueryResponse, error) {
	params := url.Values{}
	params.Set("merchantId", c.cfg.MerchantID)
	params.Set("token", c.cfg.Secret)
	params.Set("transactionId", transactionID)

	raw, body, err := c.post(ctx, "Netaxept/Query.aspx", params)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Summary struct {
			Annulled        string `xml:"Annulled"`
			Authorized      string `xml:"Authorized"`
			AuthorizationID string `xml:"AuthorizationId"`
		} `xml:"Summary"`
	}
	if err := c.parse(body, "PaymentInfo", &parsed, raw); err != nil {
		return nil, err
	}
	return &QueryResponse{
		Annulled:        parsed.Summary.Annulled == "true",
		Authorized:      parsed.Summary.Authorized == "true",
		AuthorizationID: parsed.Summary.AuthorizationID,
		RawResponse:     raw,
	}, nil
}

// TerminalURL is where the customer completes the payment for a registered
// transaction.
func (c *Client) TerminalURL(transactionID string) string {
	qs := url.Values{}
	qs.Set("merchantId", c.cfg.MerchantID)
	qs.Set("transactionId", transactionID)
	return fmt.Sprintf("%s?%s", c.endpoint("Terminal/default.aspx"), qs.Encode())
}

func (c *Client) post(ctx context.Context, path string, params url.Values) (map[string]any, []byte, error) {
	endpoint := c.endpoint(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, protocolError(err.Error(), map[string]any{"url": endpoint})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, protocolError(err.Error(), map[string]any{"url": endpoint, "status_code": resp.StatusCode})
	}

	raw := map[string]any{
		"status_code": resp.StatusCode,
		"url":         endpoint,
		"text":        string(body),
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, protocolError(resp.Status, raw)
	}
	return raw, body, nil
}

// parse unmarshals a well-formed success payload into out, and converts a
// well-formed error payload into a ProtocolError carrying the backend's
// message.
func (c *Client) parse(body []byte, want string, out any, raw map[string]any) error {
	switch root := rootElement(body); root {
	case want:
		if err := xml.Unmarshal(body, out); err != nil {
			return protocolError(fmt.Sprintf("malformed %s payload: %v", want, err), raw)
		}
		return nil
	case "Exception":
		var exc struct {
			Message string `xml:"Error>Message"`
		}
		if err := xml.Unmarshal(body, &exc); err != nil || exc.Message == "" {
			return protocolError("unparseable exception payload", raw)
		}
		return protocolError(exc.Message, raw)
	default:
		return protocolError(fmt.Sprintf("unexpected payload root %q", root), raw)
	}
}

func rootElement(body []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local
		}
	}
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + path
}

// MinorUnits converts a decimal amount to netaxept's integer representation
// by multiplying by 100 and rounding. This is lossy for currencies with 0 or
// 3 minor-unit digits (JPY, BHD, ...); netaxept's API only documents the
// 2-decimal case.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

var terminalLanguages = []string{
	"no_NO", "sv_SE", "da_DK", "fi_FI", "en_GB", "de_DE", "fr_FR", "ru_RU",
	"pl_PL", "nl_NL", "es_ES", "it_IT", "pt_PT", "et_EE", "lv_LV", "lt_LT",
}

// terminalLanguage maps an iso639-1 code to the closest terminal language, or
// empty when unsupported.
func terminalLanguage(iso string) string {
	for _, l := range terminalLanguages {
		if strings.HasPrefix(l, iso) && iso != "" {
			return l
		}
	}
	return ""
}
