package pipeline

import (
	"context"

	"github.com/jdmontoya/invoiceflow/internal/model"
)

// Matcher runs the matching engine over an extracted invoice and applies
// the auto-assignment decision.
type Matcher interface {
	Run(ctx context.Context, invoice model.Invoice) (model.MatchDecision, error)
}
