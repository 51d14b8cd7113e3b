package attachments

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog/log"

	app "github.com/mark3748/intranet-portal/cmd/api/app"
	authpkg "github.com/mark3748/intranet-portal/cmd/api/auth"
	metrics "github.com/mark3748/intranet-portal/cmd/api/metrics"
	"github.com/mark3748/intranet-portal/internal/audit"
	"github.com/mark3748/intranet-portal/internal/lifecycle"
	"github.com/mark3748/intranet-portal/internal/s3"
)

// MaxBytes caps a single upload.
const MaxBytes = 25 << 20

// Attachment is a file stored against a ticket.
type Attachment struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	UploaderID string    `json:"uploader_id"`
	Filename   string    `json:"filename"`
	Bytes      int64     `json:"bytes"`
	Mime       string    `json:"mime,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Presigner issues download URLs for objects in the bucket.
type Presigner interface {
	PresignGet(ctx context.Context, objectKey, filename string) (string, error)
}

// List returns the ticket's attachments.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		ctx, id := c.Request.Context(), c.Param("id")
		if _, err := a.Svc.GetTicket(ctx, id, actor); err != nil {
			app.Fail(c, err)
			return
		}
		const q = `select id::text, uploader_id::text, filename, bytes, coalesce(mime,''), created_at from attachments where ticket_id=$1 order by created_at asc`
		rows, err := a.DB.Query(ctx, q, id)
		if err != nil {
			app.Fail(c, err)
			return
		}
		defer rows.Close()
		out := []Attachment{}
		for rows.Next() {
			at := Attachment{TicketID: id}
			if err := rows.Scan(&at.ID, &at.UploaderID, &at.Filename, &at.Bytes, &at.Mime, &at.CreatedAt); err != nil {
				app.Fail(c, err)
				return
			}
			out = append(out, at)
		}
		c.JSON(http.StatusOK, out)
	}
}

// Upload stores a multipart "file" field. Requesters may only upload while
// the ticket waits on them.
func Upload(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		ctx, ticketID := c.Request.Context(), c.Param("id")
		if err := a.Svc.CanAttach(ctx, ticketID, actor); err != nil {
			app.Fail(c, err)
			return
		}
		if a.M == nil {
			app.AbortError(c, http.StatusServiceUnavailable, "storage_unavailable", "attachment storage is not configured", nil)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBytes+1<<20)
		f, header, err := c.Request.FormFile("file")
		if err != nil {
			app.AbortError(c, http.StatusBadRequest, "validation", "file required", map[string]string{"file": "required"})
			return
		}
		defer f.Close()
		if header.Size > MaxBytes {
			app.AbortError(c, http.StatusRequestEntityTooLarge, "too_large", "attachment exceeds the size limit", nil)
			return
		}
		name := sanitizeFilename(header.Filename)
		if name == "" {
			name = "file"
		}
		ct := header.Header.Get("Content-Type")
		if ct == "" {
			ct = mime.TypeByExtension(filepath.Ext(name))
		}
		at := Attachment{ID: uuid.NewString(), TicketID: ticketID, UploaderID: actor.ID, Filename: name, Bytes: header.Size, Mime: ct}
		key := s3.ObjectKey(ticketID, at.ID)
		if _, err := a.M.PutObject(ctx, a.Cfg.MinIOBucket, key, f, header.Size, minio.PutObjectOptions{ContentType: ct}); err != nil {
			app.Fail(c, err)
			return
		}
		const q = `insert into attachments (id, ticket_id, uploader_id, object_key, filename, bytes, mime) values ($1, $2, $3, $4, $5, $6, nullif($7,'')) returning created_at`
		if err := a.DB.QueryRow(ctx, q, at.ID, ticketID, actor.ID, key, at.Filename, at.Bytes, at.Mime).Scan(&at.CreatedAt); err != nil {
			if rerr := a.M.RemoveObject(ctx, a.Cfg.MinIOBucket, key, minio.RemoveObjectOptions{}); rerr != nil {
				log.Ctx(ctx).Warn().Err(rerr).Str("object_key", key).Msg("remove orphaned object")
			}
			app.Fail(c, err)
			return
		}
		metrics.AttachmentsUploadedTotal.Inc()
		ri := audit.FromContext(ctx)
		audit.Log(ctx, a.Audit, audit.Entry{ActorID: actor.ID, EntityType: "ticket", EntityID: ticketID, Action: "attachment_add",
			Diff: map[string]any{"attachment_id": at.ID, "filename": at.Filename, "bytes": at.Bytes}, IP: ri.IP, UA: ri.UA})
		c.JSON(http.StatusCreated, at)
	}
}

type stored struct {
	key, filename, mime, uploader string
}

func lookup(ctx context.Context, db app.DB, ticketID, attID string) (stored, error) {
	var s stored
	const q = `select object_key, filename, coalesce(mime,''), uploader_id::text from attachments where id=$1 and ticket_id=$2`
	err := db.QueryRow(ctx, q, attID, ticketID).Scan(&s.key, &s.filename, &s.mime, &s.uploader)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, lifecycle.ErrNotFound
	}
	return s, err
}

// Download serves the file from the filesystem store or redirects to a
// presigned URL. ps may be nil when only the filesystem store is used.
func Download(a *app.App, ps Presigner) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		ctx, ticketID := c.Request.Context(), c.Param("id")
		if _, err := a.Svc.GetTicket(ctx, ticketID, actor); err != nil {
			app.Fail(c, err)
			return
		}
		s, err := lookup(ctx, a.DB, ticketID, c.Param("attID"))
		if err != nil {
			app.Fail(c, err)
			return
		}
		if fs, ok := a.M.(*app.FsObjectStore); ok {
			path, err := fs.Path(a.Cfg.MinIOBucket, s.key)
			if err != nil {
				app.AbortError(c, http.StatusBadRequest, "bad_request", "invalid path", nil)
				return
			}
			if s.mime != "" {
				c.Header("Content-Type", s.mime)
			}
			c.FileAttachment(path, s.filename)
			return
		}
		if ps == nil {
			app.AbortError(c, http.StatusNotImplemented, "not_implemented", "download not available", nil)
			return
		}
		u, err := ps.PresignGet(ctx, s.key, s.filename)
		if err != nil {
			app.Fail(c, err)
			return
		}
		c.Redirect(http.StatusFound, u)
	}
}

// Delete removes an attachment. Only its uploader or an admin may do so.
func Delete(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := authpkg.MustActor(c)
		if !ok {
			return
		}
		ctx, ticketID, attID := c.Request.Context(), c.Param("id"), c.Param("attID")
		if _, err := a.Svc.GetTicket(ctx, ticketID, actor); err != nil {
			app.Fail(c, err)
			return
		}
		s, err := lookup(ctx, a.DB, ticketID, attID)
		if err != nil {
			app.Fail(c, err)
			return
		}
		if !actor.IsAdmin && s.uploader != actor.ID {
			app.Fail(c, lifecycle.ErrForbidden)
			return
		}
		if _, err := a.DB.Exec(ctx, `delete from attachments where id=$1 and ticket_id=$2`, attID, ticketID); err != nil {
			app.Fail(c, err)
			return
		}
		if a.M != nil {
			if err := a.M.RemoveObject(ctx, a.Cfg.MinIOBucket, s.key, minio.RemoveObjectOptions{}); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("object_key", s.key).Msg("remove attachment object")
			}
		}
		ri := audit.FromContext(ctx)
		audit.Log(ctx, a.Audit, audit.Entry{ActorID: actor.ID, EntityType: "ticket", EntityID: ticketID, Action: "attachment_delete",
			Diff: map[string]any{"attachment_id": attID}, IP: ri.IP, UA: ri.UA})
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// sanitizeFilename drops path components and restricts the name to a
// conservative character set.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(strings.TrimSpace(b.String()), ".")
}
