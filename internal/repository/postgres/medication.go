package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/medication-api/internal/model"
	apperrors "github.com/jwalitptl/medication-api/pkg/errors"
)

type medicationRepository struct {
	db sqlx.ExtContext
}

// medicationRow is the flat table layout of model.Medication.
type medicationRow struct {
	ID              uuid.UUID      `db:"id"`
	UserID          uuid.UUID      `db:"user_id"`
	Name            string         `db:"name"`
	DosageAmount    float64        `db:"dosage_amount"`
	DosageUnit      string         `db:"dosage_unit"`
	DosageForm      string         `db:"dosage_form"`
	Frequency       string         `db:"frequency"`
	Times           pq.StringArray `db:"times"`
	DaysOfWeek      pq.Int64Array  `db:"days_of_week"`
	MealRelation    string         `db:"meal_relation"`
	StartDate       time.Time      `db:"start_date"`
	EndDate         *time.Time     `db:"end_date"`
	CurrentQuantity float64        `db:"current_quantity"`
	RefillThreshold float64        `db:"refill_threshold"`
	AutoRefill      bool           `db:"auto_refill"`
	Instructions    string         `db:"instructions"`
	IsActive        bool           `db:"is_active"`
	IsCritical      bool           `db:"is_critical"`
	Version         int64          `db:"version"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

const medicationColumns = `id, user_id, name, dosage_amount, dosage_unit, dosage_form,
	frequency, times, days_of_week, meal_relation, start_date, end_date,
	current_quantity, refill_threshold, auto_refill, instructions,
	is_active, is_critical, version, created_at, updated_at`

func toMedicationRow(m *model.Medication) medicationRow {
	days := make(pq.Int64Array, len(m.Schedule.DaysOfWeek))
	for i, d := range m.Schedule.DaysOfWeek {
		days[i] = int64(d)
	}
	meal := string(m.Schedule.MealRelation)
	if meal == "" {
		meal = string(model.MealRelationNone)
	}

	return medicationRow{
		ID:              m.ID,
		UserID:          m.UserID,
		Name:            m.Name,
		DosageAmount:    m.Dosage.Amount,
		DosageUnit:      m.Dosage.Unit,
		DosageForm:      m.Dosage.Form,
		Frequency:       string(m.Schedule.Frequency),
		Times:           pq.StringArray(append([]string{}, m.Schedule.Times...)),
		DaysOfWeek:      days,
		MealRelation:    meal,
		StartDate:       m.Schedule.StartDate,
		EndDate:         m.Schedule.EndDate,
		CurrentQuantity: m.Inventory.CurrentQuantity,
		RefillThreshold: m.Inventory.RefillThreshold,
		AutoRefill:      m.Inventory.AutoRefill,
		Instructions:    m.Instructions,
		IsActive:        m.IsActive,
		IsCritical:      m.IsCritical,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func (r medicationRow) toModel() *model.Medication {
	days := make([]int, len(r.DaysOfWeek))
	for i, d := range r.DaysOfWeek {
		days[i] = int(d)
	}

	return &model.Medication{
		ID:     r.ID,
		UserID: r.UserID,
		Name:   r.Name,
		Dosage: model.Dosage{
			Amount: r.DosageAmount,
			Unit:   r.DosageUnit,
			Form:   r.DosageForm,
		},
		Schedule: model.Schedule{
			Frequency:    model.Frequency(r.Frequency),
			Times:        []string(r.Times),
			DaysOfWeek:   days,
			MealRelation: model.MealRelation(r.MealRelation),
			StartDate:    r.StartDate,
			EndDate:      r.EndDate,
		},
		Inventory: model.Inventory{
			CurrentQuantity: r.CurrentQuantity,
			RefillThreshold: r.RefillThreshold,
			AutoRefill:      r.AutoRefill,
		},
		Instructions: r.Instructions,
		IsActive:     r.IsActive,
		IsCritical:   r.IsCritical,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (r *medicationRepository) Create(ctx context.Context, med *model.Medication) error {
	if med == nil {
		return fmt.Errorf("medication cannot be nil")
	}
	if med.ID == uuid.Nil {
		med.ID = uuid.New()
	}
	now := time.Now()
	med.CreatedAt = now
	med.UpdatedAt = now
	med.Version = 1

	query := `
		INSERT INTO medications (` + medicationColumns + `)
		VALUES (
			:id, :user_id, :name, :dosage_amount, :dosage_unit, :dosage_form,
			:frequency, :times, :days_of_week, :meal_relation, :start_date, :end_date,
			:current_quantity, :refill_threshold, :auto_refill, :instructions,
			:is_active, :is_critical, :version, :created_at, :updated_at
		)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, toMedicationRow(med)); err != nil {
		return fmt.Errorf("failed to create medication: %w", err)
	}
	return nil
}

func (r *medicationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Medication, error) {
	var row medicationRow
	query := `SELECT ` + medicationColumns + ` FROM medications WHERE id = $1`

	err := sqlx.GetContext(ctx, r.db, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get medication: %w", err)
	}
	return row.toModel(), nil
}

func (r *medicationRepository) Update(ctx context.Context, med *model.Medication) error {
	row := toMedicationRow(med)
	row.UpdatedAt = time.Now()

	query := `
		UPDATE medications SET
			name = :name,
			dosage_amount = :dosage_amount,
			dosage_unit = :dosage_unit,
			dosage_form = :dosage_form,
			frequency = :frequency,
			times = :times,
			days_of_week = :days_of_week,
			meal_relation = :meal_relation,
			start_date = :start_date,
			end_date = :end_date,
			refill_threshold = :refill_threshold,
			auto_refill = :auto_refill,
			instructions = :instructions,
			is_active = :is_active,
			is_critical = :is_critical,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version
		RETURNING current_quantity
	`
	rows, err := sqlx.NamedQueryContext(ctx, r.db, query, row)
	if err != nil {
		return fmt.Errorf("failed to update medication: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to update medication: %w", err)
		}
		return r.staleOrMissing(ctx, med.ID)
	}
	if err := rows.Scan(&med.Inventory.CurrentQuantity); err != nil {
		return fmt.Errorf("failed to update medication: %w", err)
	}

	med.UpdatedAt = row.UpdatedAt
	med.Version++
	return nil
}

func (r *medicationRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE medications
		SET is_active = FALSE, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate medication: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.ErrRecordNotFound
	}
	return nil
}

func (r *medicationRepository) ListActive(ctx context.Context) ([]*model.Medication, error) {
	query := `SELECT ` + medicationColumns + ` FROM medications WHERE is_active ORDER BY created_at`
	return r.list(ctx, query)
}

func (r *medicationRepository) ListByUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*model.Medication, error) {
	query := `
		SELECT ` + medicationColumns + `
		FROM medications
		WHERE user_id = $1 AND (is_active OR NOT $2)
		ORDER BY created_at
	`
	return r.list(ctx, query, userID, activeOnly)
}

func (r *medicationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*model.Medication, error) {
	var rows []medicationRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list medications: %w", err)
	}

	meds := make([]*model.Medication, 0, len(rows))
	for _, row := range rows {
		meds = append(meds, row.toModel())
	}
	return meds, nil
}

func (r *medicationRepository) UpdateInventory(ctx context.Context, id uuid.UUID, quantity float64, version int64) error {
	query := `
		UPDATE medications
		SET current_quantity = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`
	result, err := r.db.ExecContext(ctx, query, quantity, id, version)
	if err != nil {
		return fmt.Errorf("failed to update inventory: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 1 {
		return nil
	}
	return r.staleOrMissing(ctx, id)
}

// staleOrMissing explains a version-checked write that matched no row.
func (r *medicationRepository) staleOrMissing(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := sqlx.GetContext(ctx, r.db, &exists, `SELECT EXISTS (SELECT 1 FROM medications WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("failed to check medication: %w", err)
	}
	if !exists {
		return apperrors.ErrRecordNotFound
	}
	return apperrors.ErrConflict
}
