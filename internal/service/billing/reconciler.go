package billing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

// Reconcile joins a terminal transaction with the ledger entries linked to it.
// Entries linked to other transactions are ignored. Debits are summed by
// absolute value into TotalBilled; credits are listed and summed apart. The
// result only depends on the set of entries, not on their order.
func Reconcile(tx *domain.Transaction, entries []domain.WalletLedgerEntry) domain.Settlement {
	linked := make([]domain.WalletLedgerEntry, 0, len(entries))
	for _, e := range entries {
		if e.LinkedTransactionID == tx.ID {
			linked = append(linked, e)
		}
	}
	sort.SliceStable(linked, func(i, j int) bool {
		if !linked[i].CreatedAt.Equal(linked[j].CreatedAt) {
			return linked[i].CreatedAt.Before(linked[j].CreatedAt)
		}
		return linked[i].ID < linked[j].ID
	})

	s := domain.Settlement{
		TransactionID: tx.ID,
		State:         domain.SettlementNoBillingRequired,
		TotalBilled:   decimal.Zero,
		TotalCredited: decimal.Zero,
		Debits:        []domain.WalletLedgerEntry{},
		Credits:       []domain.WalletLedgerEntry{},
		Entries:       linked,
		EnergyKWh:     tx.EnergyKWh,
		Source:        domain.SettlementSourceLive,
	}
	if len(linked) == 0 {
		return s
	}

	s.State = domain.SettlementBilled
	for _, e := range linked {
		switch {
		case e.IsDebit():
			s.Debits = append(s.Debits, e)
			s.TotalBilled = s.TotalBilled.Add(e.Amount.Abs())
		case e.IsCredit():
			s.Credits = append(s.Credits, e)
			s.TotalCredited = s.TotalCredited.Add(e.Amount)
		}
	}
	return s
}
