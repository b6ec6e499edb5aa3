// Package paybox implements the Paybox Direct (PPPS) server-to-server
// protocol. Requests are form-encoded, responses are querystring-encoded, and
// the transport-level failure codes are retried with bounded exponential
// backoff before the call is given up.
package paybox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/payflow/internal/gateway"
)

const Name = "paybox"

// protocolVersion is the PPPS revision the request layout follows.
const protocolVersion = "00104"

// activityInternet tells the acquirer the card entry happened online.
const activityInternet = "024"

// Config is the connection configuration for one Paybox Direct account.
type Config struct {
	// Site is the 7-digit merchant number.
	Site string
	// Rank is the 2-digit RANG number.
	Rank string
	// Key is the merchant back-office password (CLE).
	Key     string
	BaseURL string
}

func ConfigFromGateway(cfg gateway.Config) Config {
	return Config{
		Site:    cfg.ConnectionParams["site"],
		Rank:    cfg.ConnectionParams["rank"],
		Key:     cfg.ConnectionParams["key"],
		BaseURL: cfg.ConnectionParams["base_url"],
	}
}

type opType string

const (
	opAuthorize   opType = "00001"
	opCapture     opType = "00002"
	opAuthCapture opType = "00003"
	opCredit      opType = "00004"
	opCancel      opType = "00005"
	opRefund      opType = "00014"
)

const codeSuccess = "00000"

// retryCodes are transport-level failures worth another attempt: connection
// failed, connection timeout, internal connection timeout.
var retryCodes = map[string]bool{
	"00001": true,
	"00097": true,
	"00098": true,
}

var responseMessages = map[string]string{
	"00001": "connection failed",
	"00002": "error due to incoherence",
	"00003": "internal paybox error",
	"00004": "card number invalid",
	"00006": "site or rank invalid",
	"00008": "card expiration date invalid",
	"00009": "requested operation invalid",
	"00010": "unrecognized currency",
	"00011": "incorrect amount",
	"00015": "error accessing previously referenced data",
	"00018": "transaction was not found",
	"00021": "card not authorized",
	"00097": "connection timeout",
	"00098": "internal connection timeout",
	"00099": "incoherence between query and reply",
}

// responseMessage resolves a CODEREPONSE to a human-readable message. Codes
// in the 001xx range are acquirer rejections.
func responseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	if strings.HasPrefix(code, "001") {
		return "payment rejected by the acquirer"
	}
	return "unknown response code " + code
}

// protocolError reports a malformed or transport-level failure, after
// retries are exhausted.
func protocolError(message string, raw map[string]any) *gateway.ProtocolError {
	return &gateway.ProtocolError{Gateway: Name, Message: message, RawResponse: raw}
}

// Client performs PPPS calls. NUMQUESTION must be unique per request within a
// day; it is derived from the clock once and incremented per call.
type Client struct {
	cfg        Config
	http       *http.Client
	maxRetries int
	backoff    time.Duration
	sleep      func(context.Context, time.Duration) error
	seq        atomic.Uint64
}

func NewClient(cfg Config) *Client {
	c := &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: 15 * time.Second},
		maxRetries: 3,
		backoff:    250 * time.Millisecond,
		sleep:      contextSleep,
	}
	c.seq.Store(uint64(time.Now().Unix() % 1_000_000_000))
	return c
}

// contextSleep waits for d unless the context is cancelled first.
func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Call posts one PPPS operation and returns the decoded response fields.
// Transport-level failure codes are retried with exponential backoff up to
// maxRetries; any other response, success or rejection, is returned to the
// caller as-is.
func (c *Client) Call(ctx context.Context, op opType, fields url.Values) (map[string]string, error) {
	form := url.Values{}
	form.Set("VERSION", protocolVersion)
	form.Set("TYPE", string(op))
	form.Set("SITE", c.cfg.Site)
	form.Set("RANG", c.cfg.Rank)
	form.Set("CLE", c.cfg.Key)
	form.Set("ACTIVITE", activityInternet)
	form.Set("DATEQ", time.Now().UTC().Format("02012006150405"))
	for k, vs := range fields {
		for _, v := range vs {
			form.Set(k, v)
		}
	}

	for attempt := 0; ; attempt++ {
		form.Set("NUMQUESTION", fmt.Sprintf("%d", c.seq.Add(1)))

		values, err := c.post(ctx, form)
		if err != nil {
			return nil, err
		}
		code := values["CODEREPONSE"]
		if code == "" {
			return nil, protocolError("response carries no CODEREPONSE", rawMap(values))
		}
		if retryCodes[code] && attempt < c.maxRetries {
			if err := c.sleep(ctx, c.backoff<<attempt); err != nil {
				return nil, err
			}
			continue
		}
		return values, nil
	}
}

func (c *Client) post(ctx context.Context, form url.Values) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, protocolError(err.Error(), map[string]any{"url": c.cfg.BaseURL})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocolError(err.Error(), map[string]any{"url": c.cfg.BaseURL, "status_code": resp.StatusCode})
	}
	if resp.StatusCode != http.StatusOK {
		return nil, protocolError(resp.Status, map[string]any{
			"url":         c.cfg.BaseURL,
			"status_code": resp.StatusCode,
			"text":        string(body),
		})
	}

	parsed, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, protocolError("unparseable response body", map[string]any{
			"url":         c.cfg.BaseURL,
			"status_code": resp.StatusCode,
			"text":        string(body),
		})
	}
	values := make(map[string]string, len(parsed))
	for k := range parsed {
		values[k] = parsed.Get(k)
	}
	return values, nil
}

func rawMap(values map[string]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// minorUnits converts an amount to PPPS cents. Like the rest of the protocol
// layer this assumes a 2-decimal currency.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// currencyCodes maps the supported ISO 4217 alphabetic codes to the numeric
// codes DEVISE expects.
var currencyCodes = map[string]string{
	"EUR": "978",
	"USD": "840",
	"GBP": "826",
	"CHF": "756",
	"SEK": "752",
	"NOK": "578",
	"DKK": "208",
}

func currencyCode(alpha string) string {
	if code, ok := currencyCodes[alpha]; ok {
		return code
	}
	return "978"
}
