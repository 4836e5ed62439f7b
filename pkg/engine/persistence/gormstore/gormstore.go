// Package gormstore is a reference Persistence adapter backed by
// gorm.io/gorm, grounded on the teacher's ExecutionRepository (row-locked
// transactional updates, a separate append-only transition table keyed by
// (execution_id, state_name, started_at)).
package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/RobinCK/flowmesh/pkg/engine"
)

// executionRow is the mutable "main" row; data/outputs/suspension are
// stored as JSON columns since their shape is caller-defined.
type executionRow struct {
	ID             string `gorm:"primaryKey"`
	WorkflowName   string `gorm:"index"`
	GroupID        string `gorm:"index"`
	CurrentState   string `gorm:"index"`
	Status         string `gorm:"index"`
	DataJSON       string
	OutputsJSON    string
	SuspensionJSON string
	ThrottlePast   bool
	StartedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
	TotalAttempts  int
}

func (executionRow) TableName() string { return "flowmesh_executions" }

// transitionRow is an append-only history entry. The (ExecutionID,
// StateName, StartedAt) unique index is the idempotency key §6 requires so
// a retried Save can never duplicate a transition.
type transitionRow struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ExecutionID string `gorm:"uniqueIndex:idx_transition_identity"`
	StateName   string `gorm:"uniqueIndex:idx_transition_identity"`
	From        string
	To          string
	StartedAt   time.Time `gorm:"uniqueIndex:idx_transition_identity"`
	CompletedAt *time.Time
	DurationNs  int64
	Status      string
	Error       string
}

func (transitionRow) TableName() string { return "flowmesh_transitions" }

// Store is a GORM-backed Persistence adapter. AutoMigrate the two row types
// before use.
type Store struct {
	db *gorm.DB
}

// New wraps db. Call db.AutoMigrate(&executionRow{}, &transitionRow{})
// (exposed via Migrate) once at startup.
func New(db *gorm.DB) *Store { return &Store{db: db} }

// Migrate creates/updates the backing tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&executionRow{}, &transitionRow{})
}

func (s *Store) Save(ctx context.Context, e *engine.Execution) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("gormstore: save execution %s: %w", e.ID, err)
		}
		for _, t := range e.History {
			tr := toTransitionRow(e.ID, t)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "execution_id"}, {Name: "state_name"}, {Name: "started_at"}},
				DoNothing: true,
			}).Create(&tr).Error; err != nil {
				return fmt.Errorf("gormstore: append transition for %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) Load(ctx context.Context, id string) (*engine.Execution, error) {
	var row executionRow
	if err := s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, engine.ErrNotFound
		}
		return nil, fmt.Errorf("gormstore: load %s: %w", id, err)
	}
	var transitions []transitionRow
	if err := s.db.WithContext(ctx).
		Where("execution_id = ?", id).
		Order("started_at asc").
		Find(&transitions).Error; err != nil {
		return nil, fmt.Errorf("gormstore: load history for %s: %w", id, err)
	}
	return fromRow(row, transitions)
}

func (s *Store) Update(ctx context.Context, id string, patch func(*engine.Execution)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row executionRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&row).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return engine.ErrNotFound
			}
			return err
		}
		var transitions []transitionRow
		if err := tx.Where("execution_id = ?", id).Order("started_at asc").Find(&transitions).Error; err != nil {
			return err
		}
		e, err := fromRow(row, transitions)
		if err != nil {
			return err
		}
		patch(e)
		updated, err := toRow(e)
		if err != nil {
			return err
		}
		return tx.Save(&updated).Error
	})
}

func (s *Store) Find(ctx context.Context, filter engine.Filter) ([]*engine.Execution, error) {
	q := s.db.WithContext(ctx).Model(&executionRow{})
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.GroupID != "" {
		q = q.Where("group_id = ?", filter.GroupID)
	}
	if filter.WorkflowName != "" {
		q = q.Where("workflow_name = ?", filter.WorkflowName)
	}
	if filter.CurrentState != "" {
		q = q.Where("current_state = ?", filter.CurrentState)
	}
	var rows []executionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gormstore: find: %w", err)
	}
	out := make([]*engine.Execution, 0, len(rows))
	for _, row := range rows {
		var transitions []transitionRow
		if err := s.db.WithContext(ctx).Where("execution_id = ?", row.ID).Order("started_at asc").Find(&transitions).Error; err != nil {
			return nil, err
		}
		e, err := fromRow(row, transitions)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func toRow(e *engine.Execution) (executionRow, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return executionRow{}, fmt.Errorf("gormstore: marshal data: %w", err)
	}
	outputs, err := json.Marshal(e.Outputs)
	if err != nil {
		return executionRow{}, fmt.Errorf("gormstore: marshal outputs: %w", err)
	}
	var suspension string
	if e.Suspension != nil {
		b, err := json.Marshal(e.Suspension)
		if err != nil {
			return executionRow{}, fmt.Errorf("gormstore: marshal suspension: %w", err)
		}
		suspension = string(b)
	}
	return executionRow{
		ID:             e.ID,
		WorkflowName:   e.WorkflowName,
		GroupID:        e.GroupID(),
		CurrentState:   e.CurrentState,
		Status:         string(e.Status),
		DataJSON:       string(data),
		OutputsJSON:    string(outputs),
		SuspensionJSON: suspension,
		ThrottlePast:   e.ThrottlePast,
		StartedAt:      e.Metadata.StartedAt,
		UpdatedAt:      e.Metadata.UpdatedAt,
		CompletedAt:    e.Metadata.CompletedAt,
		TotalAttempts:  e.Metadata.TotalAttempts,
	}, nil
}

func toTransitionRow(executionID string, t engine.StateTransition) transitionRow {
	tr := transitionRow{
		ExecutionID: executionID,
		StateName:   t.From,
		From:        t.From,
		To:          t.To,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Status:      string(t.Status),
		Error:       t.Error,
	}
	if t.Duration != nil {
		tr.DurationNs = int64(*t.Duration)
	}
	return tr
}

func fromRow(row executionRow, transitions []transitionRow) (*engine.Execution, error) {
	var data, outputs map[string]interface{}
	if row.DataJSON != "" {
		if err := json.Unmarshal([]byte(row.DataJSON), &data); err != nil {
			return nil, fmt.Errorf("gormstore: unmarshal data: %w", err)
		}
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	if row.OutputsJSON != "" {
		if err := json.Unmarshal([]byte(row.OutputsJSON), &outputs); err != nil {
			return nil, fmt.Errorf("gormstore: unmarshal outputs: %w", err)
		}
	}
	if outputs == nil {
		outputs = map[string]interface{}{}
	}
	var suspension *engine.Suspension
	if row.SuspensionJSON != "" {
		suspension = &engine.Suspension{}
		if err := json.Unmarshal([]byte(row.SuspensionJSON), suspension); err != nil {
			return nil, fmt.Errorf("gormstore: unmarshal suspension: %w", err)
		}
	}

	history := make([]engine.StateTransition, 0, len(transitions))
	for _, tr := range transitions {
		st := engine.StateTransition{
			From: tr.From, To: tr.To, StartedAt: tr.StartedAt,
			CompletedAt: tr.CompletedAt, Status: engine.TransitionStatus(tr.Status), Error: tr.Error,
		}
		if tr.DurationNs > 0 {
			d := time.Duration(tr.DurationNs)
			st.Duration = &d
		}
		history = append(history, st)
	}

	e := &engine.Execution{
		ID:           row.ID,
		WorkflowName: row.WorkflowName,
		CurrentState: row.CurrentState,
		Status:       engine.Status(row.Status),
		Data:         data,
		Outputs:      outputs,
		History:      history,
		Suspension:   suspension,
		ThrottlePast: row.ThrottlePast,
		Metadata: engine.Metadata{
			StartedAt:     row.StartedAt,
			UpdatedAt:     row.UpdatedAt,
			CompletedAt:   row.CompletedAt,
			TotalAttempts: row.TotalAttempts,
		},
	}
	e.SetGroupIDOnce(row.GroupID)
	return e, nil
}
