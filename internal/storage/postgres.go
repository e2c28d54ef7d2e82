package storage

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medremind/internal/reminder"
	logx "medremind/pkg/logx"
)

type reminderRow struct {
	ID            uint      `gorm:"primaryKey"`
	SubjectID     string    `gorm:"column:subject_id;not null;uniqueIndex:idx_reminders_key,priority:1"`
	MedicationKey string    `gorm:"column:medication_key;not null;uniqueIndex:idx_reminders_key,priority:2"`
	Address       string    `gorm:"column:delivery_address;not null;index"`
	Medication    string    `gorm:"column:medication_label;not null"`
	Time          string    `gorm:"column:time;not null"`
	Timezone      string    `gorm:"column:timezone;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

func (reminderRow) TableName() string { return "reminders" }

func (r reminderRow) reminder() reminder.Reminder {
	return reminder.Reminder{
		SubjectID:  r.SubjectID,
		Address:    r.Address,
		Medication: r.Medication,
		Time:       r.Time,
		Timezone:   r.Timezone,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

type gormStore struct {
	db  *gorm.DB
	log logx.Logger
	op  time.Duration
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	return openGorm(ctx, postgres.Open(dsn), cfg, log)
}

// openGorm is shared by every gorm dialector.
func openGorm(ctx context.Context, dialector gorm.Dialector, cfg Config, log logx.Logger) (Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(log)})
	if err != nil {
		return nil, unavailable("open "+dialector.Name(), err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, unavailable("open "+dialector.Name(), err)
	}

	cctx, cancel := opCtx(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(cctx); err != nil {
		_ = sqlDB.Close()
		return nil, unavailable("ping "+dialector.Name(), err)
	}
	if err := db.WithContext(cctx).AutoMigrate(&reminderRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "migrate reminders")
	}
	log.Info("store opened", logx.String("dialect", dialector.Name()))
	return &gormStore{db: db, log: log, op: cfg.OpTimeout}, nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *gormStore) Ping(ctx context.Context) error {
	ctx, cancel := opCtx(ctx, s.op)
	defer cancel()
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	return unavailable("ping", sqlDB.PingContext(ctx))
}

func (s *gormStore) Upsert(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	ctx, cancel := opCtx(ctx, s.op)
	defer cancel()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	key := reminder.MedicationKey(r.Medication)
	row := reminderRow{
		SubjectID:     r.SubjectID,
		MedicationKey: key,
		Address:       r.Address,
		Medication:    r.Medication,
		Time:          r.Time,
		Timezone:      r.Timezone,
		CreatedAt:     r.CreatedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_id"}, {Name: "medication_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"delivery_address", "medication_label", "time", "timezone"}),
	}).Create(&row).Error
	if err != nil {
		return reminder.Reminder{}, unavailable("upsert", err)
	}

	var stored reminderRow
	if err := s.db.WithContext(ctx).Where("subject_id = ? AND medication_key = ?", r.SubjectID, key).First(&stored).Error; err != nil {
		return reminder.Reminder{}, unavailable("upsert", err)
	}
	return stored.reminder(), nil
}

func (s *gormStore) ListAll(ctx context.Context) ([]reminder.Reminder, error) {
	return s.find(ctx, "list", s.db)
}

func (s *gormStore) ListByAddress(ctx context.Context, address string) ([]reminder.Reminder, error) {
	return s.find(ctx, "list by address", s.db.Where("delivery_address = ?", reminder.NormalizeAddress(address)))
}

func (s *gormStore) find(ctx context.Context, op string, q *gorm.DB) ([]reminder.Reminder, error) {
	ctx, cancel := opCtx(ctx, s.op)
	defer cancel()
	var rows []reminderRow
	if err := q.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, unavailable(op, err)
	}
	out := make([]reminder.Reminder, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.reminder())
	}
	return out, nil
}

func (s *gormStore) Delete(ctx context.Context, subjectID, medication string) (bool, error) {
	ctx, cancel := opCtx(ctx, s.op)
	defer cancel()
	res := s.db.WithContext(ctx).
		Where("subject_id = ? AND medication_key = ?", subjectID, reminder.MedicationKey(medication)).
		Delete(&reminderRow{})
	if res.Error != nil {
		return false, unavailable("delete", res.Error)
	}
	return res.RowsAffected > 0, nil
}
