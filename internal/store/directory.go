package store

import (
	"context"

	"github.com/mark3748/intranet-portal/internal/lifecycle"
)

// AdminIDs lists users holding the admin role.
func (s *Store) AdminIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `select u.id::text from users u
        join user_roles ur on ur.user_id = u.id join roles r on r.id = ur.role_id
        where r.name = 'admin' order by u.id`)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func (s *Store) sectorRole(ctx context.Context, sectorID, role string) ([]string, error) {
	rows, err := s.db.Query(ctx, `select u.id::text from users u
        join user_roles ur on ur.user_id = u.id join roles r on r.id = ur.role_id
        where r.name = $2 and u.sector_id = $1 order by u.id`, sectorID, role)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

// SectorCoordinators lists the coordinators of a sector.
func (s *Store) SectorCoordinators(ctx context.Context, sectorID string) ([]string, error) {
	return s.sectorRole(ctx, sectorID, "coordinator")
}

// SectorAdmins lists the admins belonging to a sector.
func (s *Store) SectorAdmins(ctx context.Context, sectorID string) ([]string, error) {
	return s.sectorRole(ctx, sectorID, "admin")
}

func (s *Store) SectorIDByName(ctx context.Context, name string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `select id::text from sectors where lower(name) = lower($1)`, name).Scan(&id)
	return id, mapErr(err)
}

var _ lifecycle.Directory = (*Store)(nil)
