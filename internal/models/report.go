package models

import (
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ReportStatus tracks operator handling of a report.
type ReportStatus string

const (
	ReportNew      ReportStatus = "new"
	ReportReviewed ReportStatus = "reviewed"
)

// Report is a participant's complaint about a former chat partner.
type Report struct {
	gorm.Model

	ReporterID int64 `gorm:"not null;index"`
	TargetID   int64 `gorm:"not null;index"`
	// Screenshots holds the Telegram file ids of the attached evidence.
	Screenshots pq.StringArray `gorm:"type:text[]"`
	Status      ReportStatus   `gorm:"type:text;not null;default:new"`
}
