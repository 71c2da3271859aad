package crm

import (
	"context"
	"fmt"

	"github.com/warp/leave-engine/leave"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OptionRepository reads the option groups the engine maps onto its enums.
type OptionRepository struct {
	db *gorm.DB
}

func NewOptionRepository(db *gorm.DB) *OptionRepository {
	return &OptionRepository{db: db}
}

// Values returns the active options of the engine's groups.
func (r *OptionRepository) Values(ctx context.Context) ([]leave.OptionValue, error) {
	var rows []OptionValue
	err := r.db.WithContext(ctx).
		Where("option_group IN ? AND is_active = ?", []string{
			leave.GroupBalanceChangeType,
			leave.GroupRequestStatus,
			leave.GroupRequestDayType,
		}, true).
		Order("option_group, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	values := make([]leave.OptionValue, 0, len(rows))
	for _, m := range rows {
		values = append(values, leave.OptionValue{Group: m.Group, Name: m.Name, Value: m.Value})
	}
	return values, nil
}

// Seed inserts values, leaving existing (group, name) rows untouched.
func (r *OptionRepository) Seed(ctx context.Context, values []leave.OptionValue) error {
	if len(values) == 0 {
		return nil
	}
	rows := make([]OptionValue, 0, len(values))
	for _, v := range values {
		rows = append(rows, OptionValue{Group: v.Group, Name: v.Name, Value: v.Value, IsActive: true})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// Registry validates the stored options and builds the enum mapping.
func (r *OptionRepository) Registry(ctx context.Context) (*leave.OptionRegistry, error) {
	values, err := r.Values(ctx)
	if err != nil {
		return nil, fmt.Errorf("load option values: %w", err)
	}
	return leave.NewOptionRegistry(values)
}
