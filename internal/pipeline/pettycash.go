package pipeline

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PettyCashDecision is the audit-friendly outcome of the petty cash test.
type PettyCashDecision struct {
	IsPettyCash bool
	Threshold   decimal.Decimal
	Amount      decimal.Decimal
	Reason      string
}

// ClassifyPettyCash decides whether an invoice amount is exempt from
// project matching. Callers must read the threshold at call time; it is
// operator-tunable and must not be cached across invoices.
func ClassifyPettyCash(amount, threshold decimal.Decimal) PettyCashDecision {
	decision := PettyCashDecision{
		IsPettyCash: amount.LessThanOrEqual(threshold),
		Threshold:   threshold,
		Amount:      amount,
	}

	if decision.IsPettyCash {
		decision.Reason = fmt.Sprintf("amount %s is within petty cash threshold %s, skipping project matching",
			amount.String(), threshold.String())
	} else {
		decision.Reason = fmt.Sprintf("amount %s exceeds petty cash threshold %s, running project matching",
			amount.String(), threshold.String())
	}
	return decision
}
