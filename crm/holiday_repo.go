package crm

import (
	"context"

	"github.com/warp/leave-engine/leave"
	"gorm.io/gorm"
)

var _ leave.HolidayProvider = (*HolidayRepository)(nil)

// HolidayRepository reads active public holidays.
type HolidayRepository struct {
	db *gorm.DB
}

func NewHolidayRepository(db *gorm.DB) *HolidayRepository {
	return &HolidayRepository{db: db}
}

func (r *HolidayRepository) Create(ctx context.Context, h *leave.PublicHoliday) error {
	m := PublicHoliday{Title: h.Title, Date: h.Date.String(), IsActive: true}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	h.ID = m.ID
	return nil
}

// BulkCreate inserts holidays as active rows.
func (r *HolidayRepository) BulkCreate(ctx context.Context, holidays []leave.PublicHoliday) error {
	if len(holidays) == 0 {
		return nil
	}
	rows := make([]PublicHoliday, 0, len(holidays))
	for _, h := range holidays {
		rows = append(rows, PublicHoliday{Title: h.Title, Date: h.Date.String(), IsActive: true})
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// Deactivate keeps the row but stops it counting as a holiday.
func (r *HolidayRepository) Deactivate(ctx context.Context, date leave.Date) error {
	return r.db.WithContext(ctx).
		Model(&PublicHoliday{}).
		Where("date = ?", date.String()).
		Update("is_active", false).Error
}

func (r *HolidayRepository) CountInRange(ctx context.Context, start, end leave.Date) (int, error) {
	var count int64
	err := r.inRange(ctx, start, end).Model(&PublicHoliday{}).Count(&count).Error
	return int(count), err
}

func (r *HolidayRepository) ListInRange(ctx context.Context, start, end leave.Date) ([]leave.PublicHoliday, error) {
	var rows []PublicHoliday
	if err := r.inRange(ctx, start, end).Order("date").Find(&rows).Error; err != nil {
		return nil, err
	}
	holidays := make([]leave.PublicHoliday, 0, len(rows))
	for _, m := range rows {
		h, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		holidays = append(holidays, h)
	}
	return holidays, nil
}

func (r *HolidayRepository) inRange(ctx context.Context, start, end leave.Date) *gorm.DB {
	return r.db.WithContext(ctx).
		Where("date >= ? AND date <= ? AND is_active = ?", start.String(), end.String(), true)
}
