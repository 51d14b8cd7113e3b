package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	app "github.com/mark3748/intranet-portal/cmd/api/app"
	"github.com/mark3748/intranet-portal/internal/lifecycle"
	"github.com/mark3748/intranet-portal/internal/ratelimit"
)

// CookieName holds the local-mode session token.
const CookieName = "auth"

// RoleAdmin grants helpdesk administration.
const RoleAdmin = "admin"

// AuthUser represents the authenticated user.
type AuthUser struct {
	ID          string   `json:"id"`
	ExternalID  string   `json:"external_id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	SectorID    string   `json:"sector_id,omitempty"`
	Roles       []string `json:"roles"`
}

func (u AuthUser) GetRoles() []string { return u.Roles }

func (u AuthUser) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u AuthUser) IsAdmin() bool { return u.HasRole(RoleAdmin) }

// Actor is the lifecycle view of the user.
func (u AuthUser) Actor() lifecycle.Actor {
	return lifecycle.Actor{ID: u.ID, SectorID: u.SectorID, IsAdmin: u.IsAdmin()}
}

// Current returns the user set by Middleware.
func Current(c *gin.Context) (AuthUser, bool) {
	v, ok := c.Get("user")
	if !ok {
		return AuthUser{}, false
	}
	u, ok := v.(AuthUser)
	return u, ok
}

// MustActor returns the current user as a lifecycle actor, aborting with 401
// when the request is unauthenticated.
func MustActor(c *gin.Context) (lifecycle.Actor, bool) {
	u, ok := Current(c)
	if !ok || u.ID == "" {
		app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
		return lifecycle.Actor{}, false
	}
	return u.Actor(), true
}

// Middleware authenticates the request: the local session cookie in local
// mode, an OIDC bearer token otherwise. Tests may bypass it entirely.
func Middleware(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.TestBypassAuth {
			c.Set("user", AuthUser{
				ID:          "test-user",
				ExternalID:  "test",
				Email:       "test@example.com",
				DisplayName: "Test User",
				Roles:       []string{"agent"},
			})
			c.Next()
			return
		}
		if a.Cfg.AuthMode == "local" {
			localSession(a, c)
			return
		}
		if a.Keyf == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "jwks not configured"})
			return
		}
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(tokenStr, a.Keyf, parserOptions(a.Cfg)...)
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		u := AuthUser{
			ExternalID:  getStringClaim(claims, "sub"),
			Email:       getStringClaim(claims, "email"),
			DisplayName: getStringClaim(claims, "name"),
		}
		if u.DisplayName == "" {
			u.DisplayName = getStringClaim(claims, "preferred_username")
		}
		u.Roles = groupClaim(claims, a.Cfg.OIDCGroupClaim)
		if a.DB == nil {
			u.ID = u.ExternalID
			c.Set("user", u)
			c.Next()
			return
		}
		ctx := c.Request.Context()
		if err := upsertExternal(ctx, a.DB, &u); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("sub", u.ExternalID).Msg("user upsert")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user lookup"})
			return
		}
		c.Set("user", u)
		c.Next()
	}
}

func parserOptions(cfg app.Config) []jwt.ParserOption {
	var opts []jwt.ParserOption
	if cfg.OIDCIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.OIDCIssuer))
	}
	if cfg.OIDCAudience != "" {
		opts = append(opts, jwt.WithAudience(cfg.OIDCAudience))
	}
	if cfg.JWTClockSkewSeconds > 0 {
		opts = append(opts, jwt.WithLeeway(time.Duration(cfg.JWTClockSkewSeconds)*time.Second))
	}
	return opts
}

func groupClaim(claims jwt.MapClaims, name string) []string {
	var roles []string
	switch g := claims[name].(type) {
	case []interface{}:
		for _, v := range g {
			if s, ok := v.(string); ok {
				roles = append(roles, s)
			}
		}
	case []string:
		roles = append(roles, g...)
	case string:
		roles = append(roles, g)
	}
	return roles
}

func localSession(a *app.App, c *gin.Context) {
	tokenStr, err := c.Cookie(CookieName)
	if err != nil || tokenStr == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth cookie"})
		return
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(a.Cfg.AuthLocalSecret), nil
	})
	if err != nil || !token.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
		return
	}
	ctx := c.Request.Context()
	u, err := loadUser(ctx, a.DB, "id = $1", getStringClaim(claims, "sub"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}
	c.Set("user", u)
	c.Next()
}

const userColumns = `id::text, coalesce(external_id,''), coalesce(email,''), coalesce(display_name,''), coalesce(sector_id::text,'')`

func loadUser(ctx context.Context, db app.DB, where string, arg any) (AuthUser, error) {
	var u AuthUser
	if db == nil {
		return u, pgx.ErrNoRows
	}
	err := db.QueryRow(ctx, "select "+userColumns+" from users where "+where, arg).
		Scan(&u.ID, &u.ExternalID, &u.Email, &u.DisplayName, &u.SectorID)
	if err != nil {
		return u, err
	}
	u.Roles, err = loadRoles(ctx, db, u.ID)
	return u, err
}

func loadRoles(ctx context.Context, db app.DB, userID string) ([]string, error) {
	rows, err := db.Query(ctx, "select r.name from user_roles ur join roles r on ur.role_id=r.id where ur.user_id=$1 order by r.name", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// upsertExternal resolves an OIDC subject to a portal user, creating it on
// first sight. Roles from the token's group claim are kept alongside the
// roles granted in the portal.
func upsertExternal(ctx context.Context, db app.DB, u *AuthUser) error {
	claimRoles := u.Roles
	stored, err := loadUser(ctx, db, "external_id = $1", u.ExternalID)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := db.QueryRow(ctx, "insert into users (external_id, email, display_name) values ($1, $2, $3) returning id::text",
			u.ExternalID, u.Email, u.DisplayName).Scan(&u.ID); err != nil {
			return err
		}
		return nil
	}
	if err != nil {
		return err
	}
	*u = stored
	for _, r := range claimRoles {
		if !u.HasRole(r) {
			u.Roles = append(u.Roles, r)
		}
	}
	return nil
}

func getStringClaim(c jwt.MapClaims, key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Me returns the authenticated user.
func Me(c *gin.Context) {
	u, ok := c.Get("user")
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, u)
}

// RequireRole ensures the user has one of the required roles. Admins pass every check.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		uVal, ok := c.Get("user")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		user, ok := uVal.(AuthUser)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}
		if user.IsAdmin() {
			c.Next()
			return
		}
		for _, want := range roles {
			if user.HasRole(want) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login verifies a local password and issues the session cookie. Attempts are
// limited per username and client IP; a successful login clears the bucket.
func Login(a *app.App, lim *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.AuthMode != "local" {
			app.AbortError(c, http.StatusBadRequest, "login_disabled", "login disabled", nil)
			return
		}
		var in loginReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		ctx := c.Request.Context()
		key := strings.ToLower(in.Username) + "|" + c.ClientIP()
		if lim != nil {
			ok, err := lim.Allow(ctx, key)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("login rate limit")
			}
			if !ok {
				app.AbortError(c, http.StatusTooManyRequests, "rate_limited", "too many login attempts", nil)
				return
			}
		}
		var id, hash string
		err := a.DB.QueryRow(ctx, "select id::text, coalesce(password_hash,'') from users where lower(username)=lower($1)", in.Username).Scan(&id, &hash)
		if err != nil || id == "" || hash == "" {
			app.AbortError(c, http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.Password)) != nil {
			app.AbortError(c, http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
			return
		}
		if lim != nil {
			_ = lim.Reset(ctx, key)
		}
		s, err := IssueToken(a.Cfg.AuthLocalSecret, id, time.Now())
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "token", "token", nil)
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(CookieName, s, 86400, "/", "", a.Cfg.Env != "dev", true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// IssueToken signs a 24h local session token for userID.
func IssueToken(secret, userID string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID,
		"iat":  now.Unix(),
		"exp":  now.Add(24 * time.Hour).Unix(),
		"mode": "local",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func Logout() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(CookieName, "", -1, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// SeedLocalAdmin creates the dev "admin" user with the admin role when missing.
func SeedLocalAdmin(ctx context.Context, db app.DB, password string) error {
	var exists bool
	if err := db.QueryRow(ctx, "select exists(select 1 from users where lower(username)='admin')").Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	var uid string
	if err := db.QueryRow(ctx, `insert into users (username, email, display_name, password_hash, sector_id)
        values ('admin', 'admin@example.com', 'Admin', $1, (select id from sectors where lower(name)='ti'))
        returning id::text`, string(hash)).Scan(&uid); err != nil {
		return err
	}
	if _, err := db.Exec(ctx, `insert into user_roles (user_id, role_id)
        select $1, r.id from roles r where r.name='admin' on conflict do nothing`, uid); err != nil {
		return err
	}
	log.Info().Str("username", "admin").Msg("seeded local admin user (dev)")
	return nil
}
