package crm

import (
	"context"
	"errors"

	"github.com/warp/leave-engine/leave"
	"gorm.io/gorm"
)

var _ leave.PeriodProvider = (*PeriodRepository)(nil)

// PeriodRepository reads absence periods and counts their working days.
type PeriodRepository struct {
	db       *gorm.DB
	holidays *HolidayRepository
}

func NewPeriodRepository(db *gorm.DB, holidays *HolidayRepository) *PeriodRepository {
	return &PeriodRepository{db: db, holidays: holidays}
}

func (r *PeriodRepository) Create(ctx context.Context, p *leave.AbsencePeriod) error {
	m := periodModel(*p)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	p.ID = m.ID
	return nil
}

func (r *PeriodRepository) Period(ctx context.Context, id int64) (*leave.AbsencePeriod, error) {
	var m AbsencePeriod
	err := r.db.WithContext(ctx).First(&m, id).Error
	return periodOrNil(m, err)
}

func (r *PeriodRepository) PreviousPeriod(ctx context.Context, p leave.AbsencePeriod) (*leave.AbsencePeriod, error) {
	var m AbsencePeriod
	err := r.db.WithContext(ctx).
		Where("weight < ?", p.Weight).
		Order("weight DESC").
		First(&m).Error
	return periodOrNil(m, err)
}

// CurrentPeriod returns the period containing on, or nil.
func (r *PeriodRepository) CurrentPeriod(ctx context.Context, on leave.Date) (*leave.AbsencePeriod, error) {
	var m AbsencePeriod
	err := r.db.WithContext(ctx).
		Where("start_date <= ? AND end_date >= ?", on.String(), on.String()).
		Order("weight DESC").
		First(&m).Error
	return periodOrNil(m, err)
}

func (r *PeriodRepository) List(ctx context.Context) ([]leave.AbsencePeriod, error) {
	var rows []AbsencePeriod
	if err := r.db.WithContext(ctx).Order("weight").Find(&rows).Error; err != nil {
		return nil, err
	}
	periods := make([]leave.AbsencePeriod, 0, len(rows))
	for _, m := range rows {
		p, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, nil
}

func (r *PeriodRepository) WorkingDays(ctx context.Context, p leave.AbsencePeriod) (int, error) {
	return r.workingDaysBetween(ctx, p.StartDate, p.EndDate)
}

func (r *PeriodRepository) WorkingDaysToWork(ctx context.Context, p leave.AbsencePeriod, start, end leave.Date) (int, error) {
	start, end = p.Clip(start, end)
	if start.After(end) {
		return 0, nil
	}
	return r.workingDaysBetween(ctx, start, end)
}

// workingDaysBetween counts weekdays in [start, end] that are not active
// public holidays.
func (r *PeriodRepository) workingDaysBetween(ctx context.Context, start, end leave.Date) (int, error) {
	holidays, err := r.holidays.ListInRange(ctx, start, end)
	if err != nil {
		return 0, err
	}
	off := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		off[h.Date.String()] = true
	}

	days := 0
	for d := start; !d.After(end); d = d.AddDays(1) {
		if d.IsWeekend() || off[d.String()] {
			continue
		}
		days++
	}
	return days, nil
}

func periodOrNil(m AbsencePeriod, err error) (*leave.AbsencePeriod, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p, err := m.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}
