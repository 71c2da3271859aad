package crm

import (
	"context"
	"errors"

	"github.com/warp/leave-engine/leave"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	_ leave.ContractProvider = (*ContractRepository)(nil)
	_ leave.JobLeaveProvider = (*ContractRepository)(nil)
)

// ContractRepository reads job contracts, their dates and the leave
// configured on them.
type ContractRepository struct {
	db *gorm.DB
}

func NewContractRepository(db *gorm.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// Create inserts the contract with its details in one transaction.
func (r *ContractRepository) Create(ctx context.Context, c *leave.Contract, details leave.ContractDetails) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := JobContract{ID: c.ID, ContactID: c.ContactID}
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		c.ID = m.ID

		d := JobContractDetails{ContractID: m.ID, StartDate: details.StartDate.String()}
		if !details.EndDate.IsZero() {
			d.EndDate = details.EndDate.String()
		}
		return tx.Create(&d).Error
	})
}

// SaveJobLeave creates or replaces the leave for the contract and type.
func (r *ContractRepository) SaveJobLeave(ctx context.Context, jl leave.JobLeave) error {
	m := JobLeave{
		ContractID:        jl.ContractID,
		AbsenceTypeID:     jl.AbsenceTypeID,
		LeaveAmount:       jl.LeaveAmount,
		AddPublicHolidays: jl.IncludePublicHolidays,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract_id"}, {Name: "absence_type_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"leave_amount", "add_public_holidays"}),
	}).Create(&m).Error
}

func (r *ContractRepository) ContractDetails(ctx context.Context, contractID int64) (*leave.ContractDetails, error) {
	var m JobContractDetails
	err := r.db.WithContext(ctx).Where("contract_id = ?", contractID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d, err := m.toDomain()
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *ContractRepository) JobLeave(ctx context.Context, contractID, absenceTypeID int64) (*leave.JobLeave, error) {
	var m JobLeave
	err := r.db.WithContext(ctx).
		Where("contract_id = ? AND absence_type_id = ?", contractID, absenceTypeID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	jl := m.toDomain()
	return &jl, nil
}

// InPeriod returns contracts whose dates overlap the period.
func (r *ContractRepository) InPeriod(ctx context.Context, p leave.AbsencePeriod) ([]leave.Contract, error) {
	var rows []JobContract
	err := r.db.WithContext(ctx).
		Joins("JOIN job_contract_details ON job_contract_details.contract_id = job_contracts.id").
		Where("job_contract_details.start_date <= ?", p.EndDate.String()).
		Where("job_contract_details.end_date IS NULL OR job_contract_details.end_date = '' OR job_contract_details.end_date >= ?", p.StartDate.String()).
		Order("job_contracts.id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	contracts := make([]leave.Contract, 0, len(rows))
	for _, m := range rows {
		contracts = append(contracts, leave.Contract{ID: m.ID, ContactID: m.ContactID})
	}
	return contracts, nil
}
