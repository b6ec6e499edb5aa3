package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	apppayment "github.com/Zhima-Mochi/payflow/internal/application/payment"
	"github.com/Zhima-Mochi/payflow/internal/domain/money"
	dompay "github.com/Zhima-Mochi/payflow/internal/domain/payment"
	"github.com/Zhima-Mochi/payflow/internal/infrastructure/gateways/netaxept"
)

// Handler exposes the payment lifecycle as a small JSON API. It is a thin
// translation layer: all rules live in the application service.
type Handler struct {
	payments *apppayment.Service
	netaxept *netaxept.Actions
}

// NewHandler builds the transport. actions may be nil when the netaxept
// gateway is not configured; its routes then answer 404.
func NewHandler(payments *apppayment.Service, actions *netaxept.Actions) *Handler {
	return &Handler{payments: payments, netaxept: actions}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /payments", h.handleCreate)
	mux.HandleFunc("GET /payments/{id}", h.handleGet)
	mux.HandleFunc("POST /payments/{id}/authorize", h.handleAuthorize)
	mux.HandleFunc("POST /payments/{id}/process", h.handleProcess)
	mux.HandleFunc("POST /payments/{id}/capture", h.handleCapture)
	mux.HandleFunc("POST /payments/{id}/void", h.handleVoid)
	mux.HandleFunc("POST /payments/{id}/refund", h.handleRefund)
	mux.HandleFunc("GET /gateways/{name}/client-token", h.handleClientToken)

	mux.HandleFunc("POST /payments/{id}/netaxept/register", h.handleNetaxeptRegister)
	mux.HandleFunc("GET /netaxept/callback", h.handleNetaxeptCallback)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

type createPaymentRequest struct {
	Gateway       string `json:"gateway"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
}

type paymentResponse struct {
	ID             string `json:"id"`
	Gateway        string `json:"gateway"`
	ChargeStatus   string `json:"charge_status"`
	IsActive       bool   `json:"is_active"`
	Total          string `json:"total"`
	CapturedAmount string `json:"captured_amount"`
	Transactions   int    `json:"transactions"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	total, err := money.FromString(req.Amount, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := h.payments.CreatePayment(r.Context(), req.Gateway, total, req.CustomerEmail)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentResponse(p))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.GetPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

type tokenRequest struct {
	Token string `json:"token"`
}

type amountRequest struct {
	// Amount is optional; the service falls back to the outstanding or
	// captured amount.
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type transactionResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Kind      string `json:"kind"`
	IsSuccess bool   `json:"is_success"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	txn, err := h.payments.Authorize(r.Context(), r.PathValue("id"), req.Token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	txn, err := h.payments.ProcessPayment(r.Context(), r.PathValue("id"), req.Token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	amount, err := optionalAmount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	txn, err := h.payments.Capture(r.Context(), r.PathValue("id"), amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	txn, err := h.payments.Void(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	amount, err := optionalAmount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	txn, err := h.payments.Refund(r.Context(), r.PathValue("id"), amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (h *Handler) handleClientToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.payments.ClientToken(r.Context(), r.PathValue("name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"client_token": token})
}

func (h *Handler) handleNetaxeptRegister(w http.ResponseWriter, r *http.Request) {
	if h.netaxept == nil {
		writeError(w, http.StatusNotFound, errors.New("netaxept gateway is not configured"))
		return
	}
	terminalURL, err := h.netaxept.RegisterPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"terminal_url": terminalURL})
}

func (h *Handler) handleNetaxeptCallback(w http.ResponseWriter, r *http.Request) {
	if h.netaxept == nil {
		writeError(w, http.StatusNotFound, errors.New("netaxept gateway is not configured"))
		return
	}
	transactionID := r.URL.Query().Get("transactionId")
	if transactionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("transactionId is required"))
		return
	}
	txn, err := h.netaxept.ConfirmAuth(r.Context(), transactionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func optionalAmount(r *http.Request) (*money.Money, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return nil, nil
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	if req.Amount == "" {
		return nil, nil
	}
	m, err := money.FromString(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func toPaymentResponse(p *dompay.Payment) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		Gateway:        p.Gateway,
		ChargeStatus:   string(p.ChargeStatus),
		IsActive:       p.IsActive,
		Total:          p.Total.Amount.String(),
		CapturedAmount: p.CapturedAmount.Amount.String(),
		Transactions:   len(p.Transactions),
	}
}

func toTransactionResponse(t *dompay.Transaction) transactionResponse {
	return transactionResponse{
		ID:        t.ID,
		PaymentID: t.PaymentID,
		Kind:      string(t.Kind),
		IsSuccess: t.IsSuccess,
		Token:     t.Token,
		Amount:    t.Amount.Amount.String(),
		Currency:  t.Amount.Currency,
		Error:     t.Error,
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var perr *dompay.Error
	switch {
	case errors.Is(err, dompay.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &perr):
		switch perr.Code {
		case dompay.CodePrecondition:
			writeError(w, http.StatusConflict, err)
		case dompay.CodeConfiguration:
			writeError(w, http.StatusInternalServerError, err)
		default:
			writeError(w, http.StatusBadGateway, err)
		}
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
