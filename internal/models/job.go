package models

import (
	"time"
)

// JobStatus enumerates job lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusIntakeSubmitted   JobStatus = "intake_submitted"
	StatusScopeGenerated    JobStatus = "scope_generated"
	StatusQuotePending      JobStatus = "quote_pending"
	StatusQuoteApproved     JobStatus = "quote_approved"
	StatusQuoteRejected     JobStatus = "quote_rejected"
	StatusJobCreated        JobStatus = "job_created"
	StatusInstallerAssigned JobStatus = "installer_assigned"
	StatusScheduled         JobStatus = "scheduled"
	StatusInProgress        JobStatus = "in_progress"
	StatusCompleted         JobStatus = "completed"
	StatusCancelled         JobStatus = "cancelled"
)

// MaterialSelection is one entry of a job's ordered materials list.
type MaterialSelection struct {
	ProductID      string `json:"product_id"`
	SupplierID     string `json:"supplier_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Job represents a home-improvement job persisted in Postgres.
// A non-nil DeletedAt excludes the job from all active-state queries.
type Job struct {
	ID          string              `json:"id"`
	Tenant      string              `json:"tenant"`
	Status      JobStatus           `json:"status"`
	InstallerID *string             `json:"installer_id,omitempty"`
	Materials   []MaterialSelection `json:"materials"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	DeletedAt   *time.Time          `json:"deleted_at,omitempty"`
}
