package users

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	apppkg "github.com/mark3748/intranet-portal/cmd/api/app"
	authpkg "github.com/mark3748/intranet-portal/cmd/api/auth"
	"github.com/mark3748/intranet-portal/internal/audit"
	"github.com/mark3748/intranet-portal/internal/lifecycle"
)

// User is the directory view of a user.
type User struct {
	ID          string   `json:"id"`
	ExternalID  string   `json:"external_id,omitempty"`
	Username    string   `json:"username,omitempty"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	SectorID    string   `json:"sector_id,omitempty"`
	Roles       []string `json:"roles"`
}

const userSelect = `
select u.id::text, coalesce(u.external_id,''), coalesce(u.username,''), coalesce(u.email,''), coalesce(u.display_name,''),
       coalesce(u.sector_id::text,''),
       coalesce(array_agg(r.name order by r.name) filter (where r.name is not null), '{}')
from users u
left join user_roles ur on ur.user_id=u.id
left join roles r on r.id=ur.role_id`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Username, &u.Email, &u.DisplayName, &u.SectorID, &u.Roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, lifecycle.ErrNotFound
	}
	return u, err
}

// GetProfile returns the current user's row.
func GetProfile(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		au, ok := authpkg.Current(c)
		if !ok {
			apppkg.AbortError(c, http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
			return
		}
		u, err := scanUser(a.DB.QueryRow(c.Request.Context(), userSelect+` where u.id=$1 group by u.id`, au.ID))
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

// UpdateProfile updates email/display_name for local auth only.
func UpdateProfile(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.AuthMode != "local" {
			apppkg.AbortError(c, http.StatusConflict, "conflict", "profile managed by identity provider", nil)
			return
		}
		au, ok := authpkg.Current(c)
		if !ok {
			apppkg.AbortError(c, http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
			return
		}
		var in struct {
			Email       *string `json:"email" binding:"omitempty,email"`
			DisplayName *string `json:"display_name" binding:"omitempty,min=1,max=120"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.BindError(c, err)
			return
		}
		if in.Email == nil && in.DisplayName == nil {
			apppkg.AbortError(c, http.StatusBadRequest, "validation", "no fields", nil)
			return
		}
		const q = `update users set email=coalesce($1, email), display_name=coalesce($2, display_name) where id=$3`
		if _, err := a.DB.Exec(c.Request.Context(), q, in.Email, in.DisplayName, au.ID); err != nil {
			apppkg.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// ChangePassword changes password for local auth users.
func ChangePassword(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.AuthMode != "local" {
			apppkg.AbortError(c, http.StatusConflict, "conflict", "password managed by identity provider", nil)
			return
		}
		au, ok := authpkg.Current(c)
		if !ok {
			apppkg.AbortError(c, http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
			return
		}
		var in struct {
			OldPassword string `json:"old_password" binding:"required"`
			NewPassword string `json:"new_password" binding:"required,min=8,max=72"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.BindError(c, err)
			return
		}
		ctx := c.Request.Context()
		var hash string
		if err := a.DB.QueryRow(ctx, `select coalesce(password_hash,'') from users where id=$1`, au.ID).Scan(&hash); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				err = lifecycle.ErrNotFound
			}
			apppkg.Fail(c, err)
			return
		}
		if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.OldPassword)) != nil {
			apppkg.AbortError(c, http.StatusUnauthorized, "unauthorized", "invalid old password", nil)
			return
		}
		ph, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		if _, err := a.DB.Exec(ctx, `update users set password_hash=$1 where id=$2`, string(ph), au.ID); err != nil {
			apppkg.Fail(c, err)
			return
		}
		ri := audit.FromContext(ctx)
		audit.Log(ctx, a.Audit, audit.Entry{ActorID: au.ID, EntityType: "user", EntityID: au.ID, Action: "password_change", IP: ri.IP, UA: ri.UA})
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// List returns users with their roles. Optional q filters by
// email/username/display_name, sector_id by sector. Limited to 100.
func List(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		where := []string{}
		args := []any{}
		if q := strings.TrimSpace(c.Query("q")); q != "" {
			args = append(args, "%"+strings.ToLower(q)+"%")
			where = append(where, "(lower(u.email) like $1 or lower(u.username) like $1 or lower(u.display_name) like $1)")
		}
		if s := strings.TrimSpace(c.Query("sector_id")); s != "" {
			args = append(args, s)
			where = append(where, fmt.Sprintf("u.sector_id = $%d", len(args)))
		}
		sql := userSelect
		if len(where) > 0 {
			sql += " where " + strings.Join(where, " and ")
		}
		sql += " group by u.id order by u.display_name nulls last, u.email nulls last limit 100"
		rows, err := a.DB.Query(c.Request.Context(), sql, args...)
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		defer rows.Close()
		out := []User{}
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				apppkg.Fail(c, err)
				return
			}
			out = append(out, u)
		}
		c.JSON(http.StatusOK, out)
	}
}

// Get returns a single user by id.
func Get(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := scanUser(a.DB.QueryRow(c.Request.Context(), userSelect+` where u.id=$1 group by u.id`, c.Param("id")))
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

type createReq struct {
	Username    string `json:"username" binding:"required,min=3,max=60"`
	Email       string `json:"email" binding:"omitempty,email"`
	DisplayName string `json:"display_name" binding:"max=120"`
	Password    string `json:"password" binding:"required,min=8,max=72"`
	SectorID    string `json:"sector_id" binding:"omitempty,uuid"`
}

// CreateLocal creates a local user, or updates the profile of an existing
// username.
func CreateLocal(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in createReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.BindError(c, err)
			return
		}
		ph, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		const q = `
insert into users (external_id, username, email, display_name, password_hash, sector_id)
values ($1, $2, nullif($3,''), nullif($4,''), $5, nullif($6,'')::uuid)
on conflict (username) do update set email=excluded.email, display_name=excluded.display_name, sector_id=excluded.sector_id
returning id::text`
		ctx := c.Request.Context()
		var id string
		if err := a.DB.QueryRow(ctx, q, "local:"+in.Username, in.Username, in.Email, in.DisplayName, string(ph), in.SectorID).Scan(&id); err != nil {
			apppkg.Fail(c, err)
			return
		}
		au, _ := authpkg.Current(c)
		ri := audit.FromContext(ctx)
		audit.Log(ctx, a.Audit, audit.Entry{ActorID: au.ID, EntityType: "user", EntityID: id, Action: "create",
			Diff: map[string]any{"username": in.Username, "sector_id": in.SectorID}, IP: ri.IP, UA: ri.UA})
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

// SetRoles replaces the stored roles of a user. Unknown role names are rejected.
func SetRoles(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Roles []string `json:"roles" binding:"max=10,dive,oneof=admin coordinator agent"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.BindError(c, err)
			return
		}
		ctx, id := c.Request.Context(), c.Param("id")
		tx, err := a.DB.Begin(ctx)
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		defer func() { _ = tx.Rollback(ctx) }()
		if _, err := tx.Exec(ctx, `delete from user_roles where user_id=$1`, id); err != nil {
			apppkg.Fail(c, err)
			return
		}
		if len(in.Roles) > 0 {
			if _, err := tx.Exec(ctx, `insert into user_roles (user_id, role_id) select $1, id from roles where name = any($2)`, id, in.Roles); err != nil {
				apppkg.Fail(c, err)
				return
			}
		}
		if err := tx.Commit(ctx); err != nil {
			apppkg.Fail(c, err)
			return
		}
		au, _ := authpkg.Current(c)
		ri := audit.FromContext(ctx)
		audit.Log(ctx, a.Audit, audit.Entry{ActorID: au.ID, EntityType: "user", EntityID: id, Action: "roles",
			Diff: map[string]any{"roles": in.Roles}, IP: ri.IP, UA: ri.UA})
		c.JSON(http.StatusOK, gin.H{"roles": in.Roles})
	}
}

// ListRoles returns all role names.
func ListRoles(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := a.DB.Query(c.Request.Context(), `select name from roles order by name`)
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		defer rows.Close()
		out := []string{}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				apppkg.Fail(c, err)
				return
			}
			out = append(out, name)
		}
		c.JSON(http.StatusOK, out)
	}
}
