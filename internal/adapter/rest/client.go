// Package rest is the client of the charging backend's REST façade.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/observability/telemetry"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
)

const maxBodySize = 1 << 20

type Config struct {
	BaseURL string
	Timeout time.Duration

	BreakerMaxRequests      uint32
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration
	BreakerFailureThreshold float64
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	tokens  ports.TokenSource
	tracer  trace.Tracer
	log     *zap.Logger
}

func NewClient(cfg Config, tokens ports.TokenSource, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = 3
	}
	if cfg.BreakerInterval <= 0 {
		cfg.BreakerInterval = time.Minute
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 0.6
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sigec-backend",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		tokens:  tokens,
		tracer:  otel.Tracer("github.com/seu-repo/sigec-ve-client/internal/adapter/rest"),
		log:     log,
	}
}

type response struct {
	status int
	body   []byte
}

// do sends one request. Transport errors and 5xx answers count as circuit
// breaker failures, except a 503 that reports the device as not connected.
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, "backend."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	)

	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
	}

	requestID := uuid.NewString()
	start := time.Now()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", requestID)
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if method == http.MethodPost {
			req.Header.Set("Idempotency-Key", requestID)
		}
		if c.tokens != nil {
			token, err := c.tokens.Token(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to get backend token: %w", err)
			}
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, err
		}

		r := &response{status: resp.StatusCode, body: body}
		if resp.StatusCode >= 500 && !notConnected(resp.StatusCode, decodeAPIError(body)) {
			return r, &Error{Op: op, Status: resp.StatusCode, Kind: domain.ErrTransient, Msg: decodeAPIError(body).text()}
		}
		return r, nil
	})

	status := 0
	if r, ok := result.(*response); ok && r != nil {
		status = r.status
	}
	telemetry.BackendLatency.WithLabelValues(op, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("http.status_code", status))

	if err != nil {
		err = c.wrapTransportError(op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn("Backend request failed",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Int("status", status),
			zap.Error(err),
		)
		return err
	}

	r := result.(*response)
	if r.status < 200 || r.status >= 300 {
		body := decodeAPIError(r.body)
		err := &Error{Op: op, Status: r.status, Kind: classify(r.status, body), Msg: body.text()}
		span.SetStatus(codes.Error, err.Error())
		c.log.Info("Backend refused request",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Int("status", r.status),
			zap.String("reason", body.text()),
		)
		return err
	}

	if out != nil && len(r.body) > 0 {
		if err := json.Unmarshal(r.body, out); err != nil {
			return &Error{Op: op, Status: r.status, Kind: domain.ErrTransient, Msg: "malformed response", Err: err}
		}
	}

	c.log.Debug("Backend request completed",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status", r.status),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (c *Client) wrapTransportError(op string, err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Op: op, Kind: domain.ErrTransient, Msg: "circuit open", Err: err}
	}
	return &Error{Op: op, Kind: domain.ErrTransient, Err: err}
}

func decodeAPIError(body []byte) apiError {
	var e apiError
	if len(body) > 0 {
		_ = json.Unmarshal(body, &e)
	}
	return e
}

// commandResult is the body answered by remote-start, remote-stop and reset.
type commandResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *Client) command(ctx context.Context, op, path string, in interface{}) error {
	var res commandResult
	if err := c.do(ctx, op, http.MethodPost, path, in, &res); err != nil {
		return err
	}
	if strings.EqualFold(res.Status, "Rejected") {
		return &Error{Op: op, Status: http.StatusOK, Kind: domain.ErrDeviceRejected, Msg: res.Message}
	}
	return nil
}

func chargerPath(id string, suffix string) string {
	return "/chargers/" + url.PathEscape(id) + suffix
}

func (c *Client) GetChargePoint(ctx context.Context, id string) (*domain.ChargePoint, error) {
	var cp domain.ChargePoint
	if err := c.do(ctx, "get_charge_point", http.MethodGet, chargerPath(id, ""), nil, &cp); err != nil {
		return nil, err
	}
	if cp.ID == "" {
		cp.ID = id
	}
	return &cp, nil
}

func (c *Client) RemoteStart(ctx context.Context, chargePointID string, connectorID int, idTag string) error {
	return c.command(ctx, "remote_start", chargerPath(chargePointID, "/remote-start"), map[string]interface{}{
		"connector_id": connectorID,
		"id_tag":       idTag,
	})
}

func (c *Client) RemoteStop(ctx context.Context, chargePointID string, txID domain.TransactionID, reason string) error {
	body := map[string]interface{}{"transaction_id": txID}
	if reason != "" {
		body["reason"] = reason
	}
	return c.command(ctx, "remote_stop", chargerPath(chargePointID, "/remote-stop"), body)
}

func (c *Client) Reset(ctx context.Context, chargePointID string, resetType domain.ResetType) error {
	return c.command(ctx, "reset", chargerPath(chargePointID, "/reset"), map[string]interface{}{
		"type": resetType,
	})
}

func (c *Client) GetTransaction(ctx context.Context, id domain.TransactionID) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := c.do(ctx, "get_transaction", http.MethodGet, "/transactions/"+id.String(), nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *Client) GetMeterValues(ctx context.Context, id domain.TransactionID) ([]domain.MeterSample, error) {
	var samples []domain.MeterSample
	if err := c.do(ctx, "get_meter_values", http.MethodGet, "/transactions/"+id.String()+"/meter-values", nil, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (c *Client) GetBalance(ctx context.Context) (*domain.WalletBalance, error) {
	var b domain.WalletBalance
	if err := c.do(ctx, "get_balance", http.MethodGet, "/wallet", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) ListLedgerEntries(ctx context.Context, linkedTx domain.TransactionID) ([]domain.WalletLedgerEntry, error) {
	q := url.Values{}
	q.Set("linked_transaction_id", linkedTx.String())

	var entries []domain.WalletLedgerEntry
	if err := c.do(ctx, "list_ledger", http.MethodGet, "/wallet/transactions?"+q.Encode(), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) CreateRecharge(ctx context.Context, amount decimal.Decimal) (*domain.RechargeOrder, error) {
	var order domain.RechargeOrder
	in := map[string]interface{}{"amount": amount}
	if err := c.do(ctx, "create_recharge", http.MethodPost, "/wallet/create-recharge", in, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// VerifyPayment maps an explicit 4xx refusal or an unverified answer to
// ErrSignatureRejected. Transport failures stay ErrTransient.
func (c *Client) VerifyPayment(ctx context.Context, payload domain.CheckoutPayload) (*domain.PaymentVerification, error) {
	var v domain.PaymentVerification
	err := c.do(ctx, "verify_payment", http.MethodPost, "/wallet/verify-payment", payload, &v)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 &&
			apiErr.Status != http.StatusTooManyRequests && apiErr.Status != http.StatusUnauthorized {
			apiErr.Kind = domain.ErrSignatureRejected
		}
		return nil, err
	}
	if !v.Verified {
		return &v, &Error{Op: "verify_payment", Status: http.StatusOK, Kind: domain.ErrSignatureRejected, Msg: v.Message}
	}
	return &v, nil
}

func (c *Client) GetPaymentStatus(ctx context.Context, orderID string) (*domain.PaymentStatus, error) {
	var s domain.PaymentStatus
	if err := c.do(ctx, "payment_status", http.MethodGet, "/wallet/payment-status/"+url.PathEscape(orderID), nil, &s); err != nil {
		return nil, err
	}
	if s.OrderID == "" {
		s.OrderID = orderID
	}
	return &s, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/health", nil, nil)
}

var _ ports.BackendAPI = (*Client)(nil)
