package db

import (
	"time"

	"gorm.io/gorm"
)

// DeploymentRecord is the persisted form of a finished deployment attempt.
type DeploymentRecord struct {
	gorm.Model
	AttemptID     string `gorm:"uniqueIndex"`
	ServiceName   string
	ContainerName string
	Image         string
	Outcome       string
	Reason        string
	Detail        string
	ContainerRef  string
	StartedAt     time.Time
	FinishedAt    time.Time
	LogTail       string
	Probes        []ProbeRecord `gorm:"foreignKey:DeploymentRecordID"`
}

// ProbeRecord is one health check issued during an attempt.
type ProbeRecord struct {
	gorm.Model
	DeploymentRecordID uint
	CheckedAt          time.Time
	Success            bool
	Detail             string
}

// StatusEvent is a deploy status message received over NATS from a remote
// deploy run.
type StatusEvent struct {
	gorm.Model
	AttemptID   string
	ServiceName string
	Image       string
	Outcome     string
	Reason      string
	Detail      string
	ReportedAt  time.Time
}
