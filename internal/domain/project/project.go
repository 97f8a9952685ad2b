// Package project defines the canonical, tool-agnostic project entity.
package project

import (
	"time"

	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
)

// Project is the internally-owned project row. It is created by direct
// internal mutation or by a pull that sees a previously-unknown external
// project, and is never hard-deleted by conflict handling.
type Project struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Status      unified.ProjectStatus  `json:"status"`
	StartDate   *time.Time             `json:"start_date,omitempty"`
	EndDate     *time.Time             `json:"end_date,omitempty"`
	Owner       string                 `json:"owner,omitempty"`
	Version     int                    `json:"version"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a canonical project.
type CreateRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Status      unified.ProjectStatus `json:"status"`
	StartDate   *time.Time            `json:"start_date,omitempty"`
	EndDate     *time.Time            `json:"end_date,omitempty"`
	Owner       string                `json:"owner,omitempty"`
}

// Fingerprint returns the content fingerprint over the project's mutable
// fields, comparable with fingerprints of unified snapshots.
func (p *Project) Fingerprint() string {
	return unified.ProjectFingerprint(p.Name, p.Description)
}

// ApplyUnified overwrites the project's mutable fields from a unified
// snapshot, as happens when a pull detects a remote change.
func (p *Project) ApplyUnified(u *unified.Project) {
	p.Name = u.Name
	p.Description = u.Description
	if u.Status != "" {
		p.Status = u.Status
	}
	if u.StartDate != nil {
		p.StartDate = u.StartDate
	}
	if u.EndDate != nil {
		p.EndDate = u.EndDate
	}
	if u.Owner != "" {
		p.Owner = u.Owner
	}
}

// ToUnified renders the canonical project as a unified DTO for pushing.
func (p *Project) ToUnified() *unified.Project {
	return &unified.Project{
		Name:        p.Name,
		Description: p.Description,
		Status:      p.Status,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		Owner:       p.Owner,
	}
}

// FromUnified builds a CreateRequest from a pulled unified project.
func FromUnified(u *unified.Project) CreateRequest {
	status := u.Status
	if status == "" {
		status = unified.ProjectActive
	}
	return CreateRequest{
		Name:        u.Name,
		Description: u.Description,
		Status:      status,
		StartDate:   u.StartDate,
		EndDate:     u.EndDate,
		Owner:       u.Owner,
	}
}
