package repository

import (
	"time"

	"gorm.io/datatypes"
)

// ResultRecord is the persisted form of a ProvisioningResult.
type ResultRecord struct {
	ProvisioningID string         `gorm:"primaryKey;type:varchar(32)"`
	BlobKey        string         `gorm:"type:varchar(128);not null;uniqueIndex"`
	PurchaseID     string         `gorm:"type:varchar(255);index"`
	Status         string         `gorm:"type:varchar(32);not null;index"`
	Error          string         `gorm:"type:text"`
	Document       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
}

func (ResultRecord) TableName() string { return "provisioning_results" }
