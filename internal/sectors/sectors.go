package sectors

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Sector struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Member is a user of a sector with the roles relevant to approvals.
type Member struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
}

func List(ctx context.Context, db DB) ([]Sector, error) {
	rows, err := db.Query(ctx, `select id::text, name from sectors order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Sector{}
	for rows.Next() {
		var s Sector
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func Members(ctx context.Context, db DB, sectorID string) ([]Member, error) {
	rows, err := db.Query(ctx, `select u.id::text, coalesce(u.display_name, ''), coalesce(u.email, ''),
            coalesce(array_agg(r.name order by r.name) filter (where r.name is not null), '{}')
        from users u
        left join user_roles ur on ur.user_id = u.id
        left join roles r on r.id = ur.role_id
        where u.sector_id = $1
        group by u.id order by 2`, sectorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.DisplayName, &m.Email, &m.Roles); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
