package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/adapter/queue"
	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/observability/telemetry"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
	"github.com/seu-repo/sigec-ve-client/internal/service/poller"
)

// Service settles terminal transactions against the wallet ledger.
type Service struct {
	wallet       ports.WalletAPI
	charger      ports.ChargerAPI
	archive      ports.SettlementArchive
	mq           queue.MessageQueue
	clock        clockwork.Clock
	pollInterval time.Duration
	log          *zap.Logger
}

func NewService(
	wallet ports.WalletAPI,
	charger ports.ChargerAPI,
	archive ports.SettlementArchive,
	mq queue.MessageQueue,
	clock clockwork.Clock,
	pollInterval time.Duration,
	log *zap.Logger,
) *Service {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &Service{
		wallet:       wallet,
		charger:      charger,
		archive:      archive,
		mq:           mq,
		clock:        clock,
		pollInterval: pollInterval,
		log:          log,
	}
}

// Settle fetches the ledger entries of a terminal transaction and builds its
// settlement. When the ledger cannot be fetched the archived settlement, if
// any, is returned with Source set to archive.
func (s *Service) Settle(ctx context.Context, tx *domain.Transaction) (*domain.Settlement, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: no transaction to settle", domain.ErrPreconditionFailed)
	}
	if !tx.IsTerminal() {
		return nil, fmt.Errorf("%w: transaction %s is %s", domain.ErrPreconditionFailed, tx.ID, tx.Status)
	}

	entries, err := s.wallet.ListLedgerEntries(ctx, tx.ID)
	if err != nil {
		if archived := s.fromArchive(ctx, tx.ID); archived != nil {
			s.log.Warn("Ledger unavailable, serving archived settlement",
				zap.Stringer("transaction_id", tx.ID),
				zap.Error(err),
			)
			return archived, nil
		}
		return nil, fmt.Errorf("failed to fetch ledger entries: %w", err)
	}

	settlement := Reconcile(tx, entries)
	telemetry.BillingReconciliations.WithLabelValues(string(settlement.State), string(settlement.Source)).Inc()

	if s.archive != nil {
		if err := s.archive.Save(ctx, &settlement); err != nil {
			s.log.Warn("Failed to archive settlement", zap.Stringer("transaction_id", tx.ID), zap.Error(err))
		}
	}

	if err := queue.PublishJSON(s.mq, domain.SubjectBillingSettled, domain.BillingSettledEvent{
		Settlement: settlement,
		At:         s.clock.Now(),
	}); err != nil {
		s.log.Warn("Failed to publish settlement event", zap.Error(err))
	}

	s.log.Info("Transaction settled",
		zap.Stringer("transaction_id", tx.ID),
		zap.String("state", string(settlement.State)),
		zap.String("total_billed", settlement.TotalBilled.String()),
		zap.String("total_credited", settlement.TotalCredited.String()),
	)
	return &settlement, nil
}

func (s *Service) fromArchive(ctx context.Context, id domain.TransactionID) *domain.Settlement {
	if s.archive == nil {
		return nil
	}
	archived, err := s.archive.Find(ctx, id)
	if err != nil || archived == nil {
		return nil
	}
	archived.Source = domain.SettlementSourceArchive
	telemetry.BillingReconciliations.WithLabelValues(string(archived.State), string(archived.Source)).Inc()
	return archived
}

// Subscribe delivers the settlement of txID once the transaction is terminal.
// It polls the transaction until then and retries settlement on failure. The
// channel is closed after delivery or when ctx is done.
func (s *Service) Subscribe(ctx context.Context, txID domain.TransactionID) <-chan domain.Settlement {
	out := make(chan domain.Settlement, 1)

	go func() {
		defer close(out)

		terminal := make(chan *domain.Transaction, 1)
		p := poller.New(poller.Config[*domain.Transaction]{
			Resource: "billing_transaction",
			Fetch: func(ctx context.Context) (*domain.Transaction, error) {
				return s.charger.GetTransaction(ctx, txID)
			},
			Policy: func() (time.Duration, bool) { return s.pollInterval, true },
			OnUpdate: func(tx *domain.Transaction) {
				if tx.IsTerminal() {
					select {
					case terminal <- tx:
					default:
					}
				}
			},
		}, s.clock, s.log)

		pollCtx, stopPolling := context.WithCancel(ctx)
		defer stopPolling()

		p.Refresh(pollCtx)
		go p.Run(pollCtx)

		var tx *domain.Transaction
		select {
		case <-ctx.Done():
			return
		case tx = <-terminal:
			stopPolling()
		}

		for {
			settlement, err := s.Settle(ctx, tx)
			if err == nil {
				out <- *settlement
				return
			}
			s.log.Warn("Settlement failed, retrying", zap.Stringer("transaction_id", txID), zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(s.pollInterval):
			}
		}
	}()

	return out
}
