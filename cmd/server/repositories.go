package main

import (
	"github.com/vexscan/api/internal/infra/postgres"
)

// Repositories holds all repository instances.
type Repositories struct {
	Access       *postgres.AccessRepository
	Finding      *postgres.FindingRepository
	StatusChange *postgres.StatusChangeRepository
	Comment      *postgres.CommentRepository
	Evidence     *postgres.EvidenceRepository
}

// NewRepositories creates all repositories on db.
func NewRepositories(db *postgres.DB) *Repositories {
	history := postgres.NewStatusChangeRepository(db)
	return &Repositories{
		Access:       postgres.NewAccessRepository(db),
		Finding:      postgres.NewFindingRepository(db, history),
		StatusChange: history,
		Comment:      postgres.NewCommentRepository(db),
		Evidence:     postgres.NewEvidenceRepository(db),
	}
}
