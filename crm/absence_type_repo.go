package crm

import (
	"context"
	"errors"

	"github.com/warp/leave-engine/leave"
	"gorm.io/gorm"
)

type AbsenceTypeRepository struct {
	db *gorm.DB
}

func NewAbsenceTypeRepository(db *gorm.DB) *AbsenceTypeRepository {
	return &AbsenceTypeRepository{db: db}
}

func (r *AbsenceTypeRepository) Create(ctx context.Context, t *leave.AbsenceType) error {
	m := absenceTypeModel(*t)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	t.ID = m.ID
	return nil
}

func (r *AbsenceTypeRepository) Get(ctx context.Context, id int64) (*leave.AbsenceType, error) {
	var m AbsenceType
	err := r.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := m.toDomain()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Active lists the active absence types ordered by weight.
func (r *AbsenceTypeRepository) Active(ctx context.Context) ([]leave.AbsenceType, error) {
	var rows []AbsenceType
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("weight, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	types := make([]leave.AbsenceType, 0, len(rows))
	for _, m := range rows {
		t, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}
