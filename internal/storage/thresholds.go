package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/jdmontoya/invoiceflow/internal/common"
)

// Settings keys consumed by the pipeline. Values are decimal strings.
const (
	SettingPettyCashThreshold = "petty_cash_threshold"
	SettingAutoMatchThreshold = "auto_match_threshold"
)

// DefaultAutoMatchThreshold applies when the operator has never set one.
const DefaultAutoMatchThreshold = 85.0

// PettyCashThreshold reads the operator-tunable petty cash cutoff. The
// value is read fresh on every call; there is no petty cash handling
// when it was never configured (zero threshold).
func (s *SQLiteStorage) PettyCashThreshold(ctx context.Context) (decimal.Decimal, error) {
	value, err := s.GetSetting(ctx, SettingPettyCashThreshold)
	if errors.Is(err, common.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	threshold, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", common.ErrInvalidConfig, SettingPettyCashThreshold, value)
	}
	return threshold, nil
}

// AutoMatchThreshold reads the minimum score for automatic project
// assignment, defaulting to 85.
func (s *SQLiteStorage) AutoMatchThreshold(ctx context.Context) (float64, error) {
	value, err := s.GetSetting(ctx, SettingAutoMatchThreshold)
	if errors.Is(err, common.ErrNotFound) {
		return DefaultAutoMatchThreshold, nil
	}
	if err != nil {
		return 0, err
	}

	threshold, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", common.ErrInvalidConfig, SettingAutoMatchThreshold, value)
	}
	return threshold, nil
}
