package db

import (
	"fmt"

	"github.com/atvirokodosprendimai/restitch/internal/deploy"
	"gorm.io/gorm"
)

// Store persists deployment attempts and serves the history queries.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an initialized database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SaveAttempt records a finished attempt and all of its probe results.
func (s *Store) SaveAttempt(attempt *deploy.Attempt) error {
	record := DeploymentRecord{
		AttemptID:     attempt.ID,
		ServiceName:   attempt.Target.ServiceName,
		ContainerName: attempt.Target.ContainerName,
		Image:         attempt.Target.Image.String(),
		Outcome:       string(attempt.Outcome),
		Reason:        string(attempt.Reason),
		Detail:        attempt.Detail,
		ContainerRef:  attempt.ContainerID,
		StartedAt:     attempt.StartedAt,
		FinishedAt:    attempt.FinishedAt,
		LogTail:       attempt.LogTail,
	}
	for _, p := range attempt.HealthChecks {
		record.Probes = append(record.Probes, ProbeRecord{
			CheckedAt: p.CheckedAt,
			Success:   p.Success,
			Detail:    p.Detail,
		})
	}

	if err := s.db.Create(&record).Error; err != nil {
		return fmt.Errorf("could not save deployment record: %w", err)
	}
	return nil
}

// RecentDeployments returns the newest limit records, probes included.
func (s *Store) RecentDeployments(limit int) ([]DeploymentRecord, error) {
	var records []DeploymentRecord
	err := s.db.Preload("Probes").Order("started_at desc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("could not query deployment records: %w", err)
	}
	return records, nil
}

// FindDeployment returns a single record by its attempt ID.
func (s *Store) FindDeployment(attemptID string) (*DeploymentRecord, error) {
	var record DeploymentRecord
	err := s.db.Preload("Probes").First(&record, "attempt_id = ?", attemptID).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveStatusEvent records a deploy status message received over NATS.
func (s *Store) SaveStatusEvent(event *StatusEvent) error {
	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("could not save status event: %w", err)
	}
	return nil
}
