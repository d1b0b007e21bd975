package recon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/config"
	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AttachmentTarget names one (entity kind, column) pair whose values may
// hold remote attachment URLs.
type AttachmentTarget struct {
	Kind    models.EntityKind
	Field   string
	IsArray bool
}

// DefaultAttachmentTargets covers every attachment column the remote
// source populates with links back into its own storage.
var DefaultAttachmentTargets = []AttachmentTarget{
	{Kind: models.KindInvoice, Field: "attachment_url"},
	{Kind: models.KindPayment, Field: "receipt_url"},
	{Kind: models.KindRegistration, Field: "certificate_url"},
	{Kind: models.KindRegistration, Field: "document_urls", IsArray: true},
}

// remoteStorageHosts are SaaS storage domains that always count as
// needing migration, even when a serving prefix happens to overlap.
var remoteStorageHosts = []string{
	"fieldbookusercontent.com",
	"s3.amazonaws.com",
	"files.stripe.com",
}

type FileMigrationResult struct {
	Scanned    int   `json:"scanned"`
	Migrated   int   `json:"migrated"`
	Failed     int   `json:"failed"`
	TotalBytes int64 `json:"totalBytes"`
	// MissingLocal counts already-local references whose stored object
	// could not be found under either percent-encoding spelling.
	MissingLocal int `json:"missingLocal"`
}

type FileMigrator struct {
	db         *gorm.DB
	logger     *logrus.Logger
	httpClient *http.Client
	now        func() time.Time
}

func NewFileMigrator(db *gorm.DB) *FileMigrator {
	timeout := time.Duration(utils.IntFromEnv("FILE_MIGRATION_TIMEOUT_SECONDS", 30)) * time.Second
	return &FileMigrator{
		db:         db,
		logger:     config.GetLogger(),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// NeedsMigration reports whether a stored attachment value points outside
// our own storage. Values already under a local serving prefix, relative
// paths and bare object keys are left alone.
func NeedsMigration(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := strings.ToLower(parsed.Host)
	for _, remote := range remoteStorageHosts {
		if host == remote || strings.HasSuffix(host, "."+remote) {
			return true
		}
	}
	for _, prefix := range utils.LocalServingPrefixes() {
		if strings.HasPrefix(raw, prefix+"/") {
			return false
		}
	}
	return true
}

// SanitizeBaseName keeps ASCII alphanumerics, space, dot, dash and
// underscore as-is and percent-encodes every other byte. The result is
// filesystem-safe on every OS and round-trippable, so a later lookup can
// probe both the encoded and decoded spelling of a name.
func SanitizeBaseName(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == ' ', c == '.', c == '-', c == '_':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// buildFileName derives the deterministic target name
// {localId}_{sanitizedBase}_{unixTs}{ext}. The id+timestamp pair keeps two
// distinct originals for the same record from colliding.
func buildFileName(localId int, rawURL string, ts time.Time) string {
	base := path.Base(rawURL)
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		base = path.Base(parsed.Path)
		if decoded, err := url.PathUnescape(base); err == nil {
			base = decoded
		}
	}
	ext := path.Ext(base)
	base = strings.TrimSuffix(base, ext)
	if base == "" || base == "." || base == "/" {
		base = "file"
	}
	return fmt.Sprintf("%d_%s_%d%s", localId, SanitizeBaseName(base), ts.Unix(), strings.ToLower(ext))
}

func objectKeyFor(target AttachmentTarget, fileName string) string {
	return fmt.Sprintf("recon/%s/%s/%s", target.Kind, target.Field, fileName)
}

// Run scans every configured attachment target and migrates remote URLs
// into durable storage, rewriting each field with the new serving URL.
// One bad file never aborts the batch.
func (m *FileMigrator) Run(ctx context.Context, dryRun bool) (FileMigrationResult, error) {
	result := FileMigrationResult{}
	for _, target := range DefaultAttachmentTargets {
		if err := m.runTarget(ctx, target, dryRun, &result); err != nil {
			return result, err
		}
	}
	models.LogActivity(ctx, m.db, "info", fmt.Sprintf(
		"file migration finished: scanned=%d migrated=%d failed=%d bytes=%d dryRun=%v",
		result.Scanned, result.Migrated, result.Failed, result.TotalBytes, dryRun))
	return result, nil
}

type attachmentRow struct {
	ID  int
	Raw string
}

func (m *FileMigrator) runTarget(ctx context.Context, target AttachmentTarget, dryRun bool, result *FileMigrationResult) error {
	var rows []attachmentRow
	err := m.db.WithContext(ctx).
		Table(target.Kind.Table()).
		Select("id, "+target.Field+" AS raw").
		Where(target.Field+" LIKE ?", "http%").
		Where("is_deleted = false").
		Order("id").
		Find(&rows).Error
	if err != nil && target.IsArray {
		// JSON columns don't LIKE-match; fall back to scanning everything
		// non-null for the array case.
		err = m.db.WithContext(ctx).
			Table(target.Kind.Table()).
			Select("id, "+target.Field+" AS raw").
			Where(target.Field + " IS NOT NULL").
			Where("is_deleted = false").
			Order("id").
			Find(&rows).Error
	}
	if err != nil {
		return err
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if target.IsArray {
			m.migrateArrayField(ctx, target, row, dryRun, result)
		} else {
			m.migrateScalarField(ctx, target, row, dryRun, result)
		}
	}
	return nil
}

func (m *FileMigrator) migrateScalarField(ctx context.Context, target AttachmentTarget, row attachmentRow, dryRun bool, result *FileMigrationResult) {
	if !NeedsMigration(row.Raw) {
		m.verifyLocalReference(target, row.ID, row.Raw, result)
		return
	}
	result.Scanned++
	if dryRun {
		return
	}
	newURL, size, err := m.migrateOne(ctx, target, row.ID, row.Raw)
	if err != nil {
		result.Failed++
		config.LogError(m.logger, "recon", "migrateScalarField", "download failed",
			map[string]interface{}{"table": target.Kind.Table(), "id": row.ID, "url": row.Raw}, err)
		return
	}
	err = m.db.WithContext(ctx).Table(target.Kind.Table()).
		Where("id = ?", row.ID).
		Update(target.Field, newURL).Error
	if err != nil {
		result.Failed++
		config.LogError(m.logger, "recon", "migrateScalarField", "rewrite failed",
			map[string]interface{}{"table": target.Kind.Table(), "id": row.ID}, err)
		return
	}
	result.Migrated++
	result.TotalBytes += size
}

// migrateArrayField processes the array element-by-element, preserving
// positions; already-local entries are copied through untouched.
func (m *FileMigrator) migrateArrayField(ctx context.Context, target AttachmentTarget, row attachmentRow, dryRun bool, result *FileMigrationResult) {
	var values models.StringList
	if err := json.Unmarshal([]byte(row.Raw), &values); err != nil || len(values) == 0 {
		return
	}

	changed := false
	updated := make(models.StringList, len(values))
	for i, value := range values {
		updated[i] = value
		if !NeedsMigration(value) {
			m.verifyLocalReference(target, row.ID, value, result)
			continue
		}
		result.Scanned++
		if dryRun {
			continue
		}
		newURL, size, err := m.migrateOne(ctx, target, row.ID, value)
		if err != nil {
			// The element keeps its old URL; a later run retries it.
			result.Failed++
			config.LogError(m.logger, "recon", "migrateArrayField", "download failed",
				map[string]interface{}{"table": target.Kind.Table(), "id": row.ID, "index": i, "url": value}, err)
			continue
		}
		updated[i] = newURL
		result.Migrated++
		result.TotalBytes += size
		changed = true
	}

	if !changed {
		return
	}
	err := m.db.WithContext(ctx).Table(target.Kind.Table()).
		Where("id = ?", row.ID).
		Update(target.Field, updated).Error
	if err != nil {
		config.LogError(m.logger, "recon", "migrateArrayField", "rewrite failed",
			map[string]interface{}{"table": target.Kind.Table(), "id": row.ID}, err)
	}
}

// verifyLocalReference audits an already-local attachment value: the
// referenced object must exist on disk. URL segments and stored names can
// disagree in percent-encoding, so both spellings are probed before the
// reference is reported missing. GCS references are left to bucket
// lifecycle tooling.
func (m *FileMigrator) verifyLocalReference(target AttachmentTarget, rowId int, value string, result *FileMigrationResult) {
	if utils.GetStorageProvider() != utils.StorageProviderLocal {
		return
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		return
	}
	key := utils.ExtractObjectKeyFromURL(value)
	if key == "" {
		return
	}
	if utils.LocalObjectExists(key) {
		return
	}
	if decoded, err := url.PathUnescape(key); err == nil && decoded != key && utils.LocalObjectExists(decoded) {
		return
	}
	result.MissingLocal++
	m.logger.WithFields(logrus.Fields{
		"table": target.Kind.Table(),
		"id":    rowId,
		"url":   value,
	}).Warn("local attachment reference has no stored object")
}

// migrateOne downloads a single remote blob and stores it under the
// configured provider, returning the new serving URL and the byte count.
func (m *FileMigrator) migrateOne(ctx context.Context, target AttachmentTarget, localId int, rawURL string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return "", 0, err
	}

	fileName := buildFileName(localId, rawURL, m.now())
	objectKey := objectKeyFor(target, fileName)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	if err := m.store(ctx, objectKey, data, contentType); err != nil {
		return "", 0, err
	}
	if strings.HasPrefix(contentType, "image/") {
		m.storeThumbnail(ctx, target, fileName, data)
	}

	return utils.BuildObjectAccessURL(objectKey), int64(len(data)), nil
}

func (m *FileMigrator) store(ctx context.Context, objectKey string, data []byte, contentType string) error {
	if utils.GetStorageProvider() == utils.StorageProviderLocal {
		return utils.SaveLocalObject(objectKey, data)
	}
	return utils.UploadBytesToGCS(ctx, objectKey, data, contentType)
}

// storeThumbnail is best effort; a blob that the image decoder rejects is
// simply skipped.
func (m *FileMigrator) storeThumbnail(ctx context.Context, target AttachmentTarget, fileName string, data []byte) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return
	}
	thumb := imaging.Resize(img, 320, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return
	}
	thumbName := strings.TrimSuffix(fileName, path.Ext(fileName)) + "_thumb.jpg"
	key := objectKeyFor(target, thumbName)
	if err := m.store(ctx, key, buf.Bytes(), "image/jpeg"); err != nil {
		config.LogError(m.logger, "recon", "storeThumbnail", "thumbnail upload failed",
			map[string]interface{}{"objectKey": key}, err)
	}
}
