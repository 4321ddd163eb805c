package ledger

import "github.com/settleline/recon/internal/transaction"

// Chart of accounts. Cash is held per PSP connection; everything else is a
// shared account code.
const (
	AccountAccountsReceivable = "1100_ACCOUNTS_RECEIVABLE"
	AccountReservesRolling    = "1300_RESERVES_ROLLING"
	AccountPlayerBalances     = "2000_PLAYER_BALANCES"
	AccountFxGains            = "4100_FX_GAINS"
	AccountPSPFees            = "5200_PSP_FEES"
	AccountChargebackLosses   = "5300_CHARGEBACK_LOSSES"
	AccountFxLosses           = "5400_FX_LOSSES"
)

// CashAccount returns the cash account code for a PSP connection.
func CashAccount(pspConnectionID string) string {
	return "1001_CASH_" + pspConnectionID
}

// amountKind selects which transaction amount a recipe leg posts.
type amountKind int

const (
	amountGross amountKind = iota
	amountFee
)

// legSpec is one template leg of a posting recipe. cash in the account
// fields is substituted with the transaction's connection cash account.
type legSpec struct {
	debit  string
	credit string
	amount amountKind
}

const cash = "@CASH"

// recipes maps event types to their posting legs. Fee legs with a zero fee
// are dropped at build time. Event types without a recipe cannot be posted
// and fail with ErrNoRecipe; that is a configuration escalation, not a bug.
var recipes = map[transaction.EventType][]legSpec{
	transaction.EventDeposit: {
		{debit: cash, credit: AccountPlayerBalances, amount: amountGross},
		{debit: AccountPSPFees, credit: cash, amount: amountFee},
	},
	transaction.EventWithdrawal: {
		{debit: AccountPlayerBalances, credit: cash, amount: amountGross},
		{debit: AccountPSPFees, credit: cash, amount: amountFee},
	},
	transaction.EventRefund: {
		{debit: AccountPlayerBalances, credit: cash, amount: amountGross},
		{debit: AccountPSPFees, credit: cash, amount: amountFee},
	},
	transaction.EventChargeback: {
		{debit: AccountPlayerBalances, credit: cash, amount: amountGross},
		{debit: AccountChargebackLosses, credit: cash, amount: amountFee},
	},
	transaction.EventChargebackReversal: {
		{debit: cash, credit: AccountPlayerBalances, amount: amountGross},
	},
	transaction.EventFee: {
		{debit: AccountPSPFees, credit: cash, amount: amountGross},
	},
	transaction.EventRollingReserve: {
		{debit: AccountReservesRolling, credit: cash, amount: amountGross},
	},
}

// buildLegs instantiates the recipe for a transaction. Returns ErrNoRecipe
// for event types outside the table.
func buildLegs(txn *transaction.NormalizedTransaction) ([]legSpec, error) {
	specs, ok := recipes[txn.EventType]
	if !ok {
		return nil, ErrNoRecipe
	}
	out := make([]legSpec, 0, len(specs))
	for _, s := range specs {
		if s.amount == amountFee && txn.PSPFee == 0 {
			continue
		}
		if s.debit == cash {
			s.debit = CashAccount(txn.PSPConnectionID)
		}
		if s.credit == cash {
			s.credit = CashAccount(txn.PSPConnectionID)
		}
		out = append(out, s)
	}
	return out, nil
}

func legAmount(txn *transaction.NormalizedTransaction, kind amountKind) int64 {
	if kind == amountFee {
		return txn.PSPFee
	}
	return txn.AmountValue
}
