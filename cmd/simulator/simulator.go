package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

// SimulatorConfig holds simulator configuration
type SimulatorConfig struct {
	ChargePointIDs []string
	Token          string
	ApplyDelay     time.Duration
	MeterInterval  time.Duration
	PowerKW        float64
	PricePerKWh    decimal.Decimal
	Balance        decimal.Decimal
	Currency       string
	GatewaySecret  string
}

// Simulator plays the charging backend: chargers that accept commands and
// apply them later, transactions with a growing meter stream, and a prepaid
// wallet with a fake payment gateway.
type Simulator struct {
	config *SimulatorConfig
	log    *zap.Logger
	app    *fiber.App

	mu           sync.Mutex
	chargers     map[string]*domain.ChargePoint
	transactions map[domain.TransactionID]*simTransaction
	nextTx       domain.TransactionID
	balance      decimal.Decimal
	ledger       []domain.WalletLedgerEntry
	orders       map[string]*simOrder

	timers []*time.Timer
	stop   chan struct{}
	wg     sync.WaitGroup
}

type simTransaction struct {
	tx      domain.Transaction
	samples []domain.MeterSample
}

type simOrder struct {
	amount decimal.Decimal
	state  domain.PaymentState
}

type commandResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func NewSimulator(config *SimulatorConfig, log *zap.Logger) *Simulator {
	s := &Simulator{
		config:       config,
		log:          log,
		chargers:     make(map[string]*domain.ChargePoint),
		transactions: make(map[domain.TransactionID]*simTransaction),
		nextTx:       1000,
		balance:      config.Balance,
		orders:       make(map[string]*simOrder),
		stop:         make(chan struct{}),
	}
	for _, id := range config.ChargePointIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		s.chargers[id] = &domain.ChargePoint{
			ID:        id,
			Status:    domain.ChargePointStatusPreparing,
			Connected: true,
			Vendor:    "SIGEC",
			Model:     "SimulatorV2",
		}
	}

	s.app = fiber.New(fiber.Config{DisableStartupMessage: true})
	s.routes()

	if config.MeterInterval > 0 {
		s.wg.Add(1)
		go s.meterLoop()
	}
	return s
}

func (s *Simulator) App() *fiber.App {
	return s.app
}

func (s *Simulator) Close() {
	close(s.stop)
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Simulator) routes() {
	api := s.app.Group("/api", s.authenticate)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api.Get("/chargers/:id", s.getCharger)
	api.Post("/chargers/:id/remote-start", s.remoteStart)
	api.Post("/chargers/:id/remote-stop", s.remoteStop)
	api.Post("/chargers/:id/reset", s.reset)

	api.Get("/transactions/:id", s.getTransaction)
	api.Get("/transactions/:id/meter-values", s.getMeterValues)

	api.Get("/wallet", s.getWallet)
	api.Get("/wallet/transactions", s.listLedger)
	api.Post("/wallet/create-recharge", s.createRecharge)
	api.Post("/wallet/verify-payment", s.verifyPayment)
	api.Get("/wallet/payment-status/:orderId", s.paymentStatus)

	// Simulation controls
	sim := s.app.Group("/sim")
	sim.Put("/chargers/:id", s.setCharger)
	sim.Post("/gateway/:orderId/pay", s.gatewayPay)
	sim.Post("/gateway/:orderId/fail", s.gatewayFail)
}

func (s *Simulator) authenticate(c *fiber.Ctx) error {
	if s.config.Token == "" {
		return c.Next()
	}
	if c.Get(fiber.HeaderAuthorization) != "Bearer "+s.config.Token {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}
	return c.Next()
}

func notFound(c *fiber.Ctx, what string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": what + " not found"})
}

// after runs fn once the apply delay has elapsed.
func (s *Simulator) after(fn func()) {
	t := time.AfterFunc(s.config.ApplyDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		fn()
	})
	s.timers = append(s.timers, t)
}

func (s *Simulator) getCharger(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.chargers[c.Params("id")]
	if !ok {
		return notFound(c, "charge point")
	}
	return c.JSON(cp)
}

func (s *Simulator) setCharger(c *fiber.Ctx) error {
	var req struct {
		Status    *domain.ChargePointStatus `json:"status"`
		Connected *bool                     `json:"connected"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.chargers[c.Params("id")]
	if !ok {
		cp = &domain.ChargePoint{ID: c.Params("id"), Status: domain.ChargePointStatusAvailable}
		s.chargers[cp.ID] = cp
	}
	if req.Status != nil {
		cp.Status = *req.Status
	}
	if req.Connected != nil {
		cp.Connected = *req.Connected
	}
	s.log.Info("Charge point updated", zap.String("charge_point_id", cp.ID), zap.String("status", string(cp.Status)), zap.Bool("connected", cp.Connected))
	return c.JSON(cp)
}

// commandTarget returns the charger of a command or writes the refusal.
func (s *Simulator) commandTarget(c *fiber.Ctx) (*domain.ChargePoint, error) {
	cp, ok := s.chargers[c.Params("id")]
	if !ok {
		return nil, notFound(c, "charge point")
	}
	if !cp.Connected {
		return nil, c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "charge point not connected"})
	}
	return cp, nil
}

func (s *Simulator) remoteStart(c *fiber.Ctx) error {
	var req struct {
		ConnectorID int    `json:"connector_id"`
		IdTag       string `json:"id_tag"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.commandTarget(c)
	if cp == nil {
		return err
	}
	if cp.Status != domain.ChargePointStatusPreparing || cp.CurrentTransaction.Valid() {
		return c.JSON(commandResult{Status: "Rejected", Message: "charge point is " + string(cp.Status)})
	}

	s.after(func() {
		if cp.CurrentTransaction.Valid() || !cp.Connected {
			return
		}
		s.nextTx++
		id := s.nextTx
		s.transactions[id] = &simTransaction{tx: domain.Transaction{
			ID:            id,
			ChargePointID: cp.ID,
			ConnectorID:   req.ConnectorID,
			IdTag:         req.IdTag,
			Status:        domain.TransactionStatusRunning,
			StartTime:     time.Now().UTC(),
		}}
		cp.Status = domain.ChargePointStatusCharging
		cp.CurrentTransaction = id
		s.log.Info("Transaction started", zap.String("charge_point_id", cp.ID), zap.Int64("transaction_id", int64(id)))
	})
	return c.JSON(commandResult{Status: "Accepted"})
}

func (s *Simulator) remoteStop(c *fiber.Ctx) error {
	var req struct {
		TransactionID domain.TransactionID `json:"transaction_id"`
		Reason        string               `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.commandTarget(c)
	if cp == nil {
		return err
	}
	if !cp.CurrentTransaction.Valid() || cp.CurrentTransaction != req.TransactionID {
		return c.JSON(commandResult{Status: "Rejected", Message: "no such running transaction"})
	}

	reason := req.Reason
	if reason == "" {
		reason = "Remote"
	}
	s.after(func() {
		s.finish(cp, req.TransactionID, reason)
	})
	return c.JSON(commandResult{Status: "Accepted"})
}

func (s *Simulator) reset(c *fiber.Ctx) error {
	var req struct {
		Type domain.ResetType `json:"type"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.commandTarget(c)
	if cp == nil {
		return err
	}

	s.after(func() {
		if cp.CurrentTransaction.Valid() {
			s.finish(cp, cp.CurrentTransaction, string(req.Type)+"Reset")
		}
		cp.Status = domain.ChargePointStatusAvailable
		s.log.Info("Charge point reset", zap.String("charge_point_id", cp.ID), zap.String("type", string(req.Type)))
	})
	return c.JSON(commandResult{Status: "Accepted"})
}

// finish completes a running transaction and debits its energy from the
// wallet. Callers hold s.mu.
func (s *Simulator) finish(cp *domain.ChargePoint, id domain.TransactionID, reason string) {
	st, ok := s.transactions[id]
	if !ok || st.tx.Status != domain.TransactionStatusRunning {
		return
	}

	now := time.Now().UTC()
	energy := 0.0
	if n := len(st.samples); n > 0 {
		energy = st.samples[n-1].EnergyKWh
	}
	st.tx.Status = domain.TransactionStatusCompleted
	st.tx.EndTime = &now
	st.tx.EnergyKWh = &energy
	st.tx.StopReason = reason

	cp.Status = domain.ChargePointStatusFinishing
	cp.CurrentTransaction = 0
	cp.RecentTransaction = id

	cost := decimal.NewFromFloat(energy).Mul(s.config.PricePerKWh).Round(2)
	if cost.IsPositive() {
		s.balance = s.balance.Sub(cost)
		s.ledger = append(s.ledger, domain.WalletLedgerEntry{
			ID:                  uuid.NewString(),
			Amount:              cost.Neg(),
			Kind:                domain.LedgerEntryChargeDeduct,
			Description:         "Charging session " + id.String(),
			CreatedAt:           now,
			LinkedTransactionID: id,
		})
	}
	s.log.Info("Transaction completed",
		zap.Int64("transaction_id", int64(id)),
		zap.Float64("energy_kwh", energy),
		zap.String("cost", cost.String()),
	)
}

func (s *Simulator) meterLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.MeterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.sampleMeters(now.UTC())
		}
	}
}

func (s *Simulator) sampleMeters(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := s.config.PowerKW * s.config.MeterInterval.Hours()
	for _, st := range s.transactions {
		if st.tx.Status != domain.TransactionStatusRunning {
			continue
		}
		energy := step
		if n := len(st.samples); n > 0 {
			energy += st.samples[n-1].EnergyKWh
		}
		power := s.config.PowerKW
		st.samples = append(st.samples, domain.MeterSample{Timestamp: now, EnergyKWh: energy, PowerKW: &power})
	}
}

func (s *Simulator) transaction(c *fiber.Ctx) (*simTransaction, error) {
	id, err := domain.ParseTransactionID(c.Params("id"))
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	st, ok := s.transactions[id]
	if !ok {
		return nil, notFound(c, "transaction")
	}
	return st, nil
}

func (s *Simulator) getTransaction(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.transaction(c)
	if st == nil {
		return err
	}
	return c.JSON(st.tx)
}

func (s *Simulator) getMeterValues(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.transaction(c)
	if st == nil {
		return err
	}
	samples := make([]domain.MeterSample, len(st.samples))
	copy(samples, st.samples)
	return c.JSON(samples)
}

func (s *Simulator) getWallet(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.JSON(domain.WalletBalance{Balance: s.balance, Currency: s.config.Currency, FetchedAt: time.Now().UTC()})
}

func (s *Simulator) listLedger(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	linked := c.Query("linked_transaction_id")
	entries := make([]domain.WalletLedgerEntry, 0, len(s.ledger))
	for _, e := range s.ledger {
		if linked != "" && e.LinkedTransactionID.String() != linked {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return c.JSON(entries)
}

func (s *Simulator) createRecharge(c *fiber.Ctx) error {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil || !req.Amount.IsPositive() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount must be positive"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orderID := "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	s.orders[orderID] = &simOrder{amount: req.Amount, state: domain.PaymentStatePending}

	s.log.Info("Recharge order created", zap.String("order_id", orderID), zap.String("amount", req.Amount.String()))
	return c.Status(fiber.StatusCreated).JSON(domain.RechargeOrder{
		OrderID:             orderID,
		Amount:              req.Amount,
		Currency:            s.config.Currency,
		GatewayKey:          "sim_key",
		WalletLedgerEntryID: uuid.NewString(),
	})
}

// sign is the gateway signature of a successful payment.
func (s *Simulator) sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(s.config.GatewaySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// credit settles a paid order once. Callers hold s.mu.
func (s *Simulator) credit(orderID string, o *simOrder) {
	if o.state == domain.PaymentStatePaid {
		return
	}
	o.state = domain.PaymentStatePaid
	s.balance = s.balance.Add(o.amount)
	s.ledger = append(s.ledger, domain.WalletLedgerEntry{
		ID:          uuid.NewString(),
		Amount:      o.amount,
		Kind:        domain.LedgerEntryTopUp,
		Description: "Top-up " + orderID,
		CreatedAt:   time.Now().UTC(),
	})
}

func (s *Simulator) verifyPayment(c *fiber.Ctx) error {
	var payload domain.CheckoutPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[payload.OrderID]
	if !ok {
		return notFound(c, "order")
	}
	expected := s.sign(payload.OrderID, payload.PaymentID)
	if !hmac.Equal([]byte(expected), []byte(payload.Signature)) {
		s.log.Warn("Payment signature rejected", zap.String("order_id", payload.OrderID))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid signature"})
	}

	s.credit(payload.OrderID, o)
	return c.JSON(domain.PaymentVerification{Verified: true, Balance: s.balance, Currency: s.config.Currency})
}

func (s *Simulator) paymentStatus(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	orderID := c.Params("orderId")
	o, ok := s.orders[orderID]
	if !ok {
		return notFound(c, "order")
	}
	return c.JSON(domain.PaymentStatus{OrderID: orderID, State: o.state})
}

// gatewayPay plays the gateway UI: the order is paid and the signed success
// payload is returned for the client to verify.
func (s *Simulator) gatewayPay(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	orderID := c.Params("orderId")
	o, ok := s.orders[orderID]
	if !ok {
		return notFound(c, "order")
	}
	paymentID := "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	s.credit(orderID, o)
	return c.JSON(domain.CheckoutPayload{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: s.sign(orderID, paymentID),
	})
}

func (s *Simulator) gatewayFail(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[c.Params("orderId")]
	if !ok {
		return notFound(c, "order")
	}
	if o.state == domain.PaymentStatePending {
		o.state = domain.PaymentStateFailed
	}
	return c.SendStatus(fiber.StatusNoContent)
}
