package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const complaintColumns = `id, tracking_number, citizen_ref, language, description, audio_ref, image_refs,
	lat, lon, geohash, classification, priority, priority_override, routing, status, status_history,
	assigned_department, hotspot_id, submitted_at, processed_at, assigned_at, resolved_at, version`

const hotspotColumns = `id, category, center_lat, center_lon, center_geohash, radius_m, member_ids,
	complaint_count, previous_count, window_start, window_end, trend, status, activated_at,
	notified_at, resolved_at, updated_at`

const uniqueViolation = "23505"

// Postgres is a Store backed by a pgx pool. JSON-shaped fields live in JSONB columns.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.SugaredLogger
}

// NewPostgres creates a new Postgres store
func NewPostgres(db *pgxpool.Pool, logger *zap.SugaredLogger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

func (s *Postgres) Name() string { return "postgres" }

func (s *Postgres) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Postgres) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	query := `INSERT INTO complaints (` + complaintColumns + `, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, 1, $23)`

	_, err := s.db.Exec(ctx, query,
		c.ID, c.TrackingNumber, c.CitizenRef, c.Language, c.Description, c.AudioRef, nonNil(c.ImageRefs),
		c.Location.Lat, c.Location.Lon, c.Location.Geohash,
		c.Classification, c.Priority, c.PriorityOverride, c.Routing,
		string(c.Status), c.StatusHistory, c.AssignedDepartment, c.HotspotID,
		c.SubmittedAt, c.ProcessedAt, c.AssignedAt, c.ResolvedAt,
		categoryOf(c),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "complaints_tracking_number_key" {
			return models.ErrDuplicateTrackingNumber
		}
		return fmt.Errorf("%w: insert complaint: %v", models.ErrPersistenceFailure, err)
	}
	c.Version = 1
	return nil
}

func (s *Postgres) GetComplaint(ctx context.Context, id string) (*models.Complaint, error) {
	row := s.db.QueryRow(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id = $1`, id)
	return scanComplaint(row)
}

func (s *Postgres) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Complaint, error) {
	row := s.db.QueryRow(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE tracking_number = $1`, trackingNumber)
	return scanComplaint(row)
}

func (s *Postgres) UpdateComplaint(ctx context.Context, c *models.Complaint) error {
	query := `
		UPDATE complaints SET
			language = $3, classification = $4, category = $5, priority = $6, priority_override = $7,
			routing = $8, status = $9, status_history = $10, assigned_department = $11,
			processed_at = $12, assigned_at = $13, resolved_at = $14, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version, hotspot_id
	`
	err := s.db.QueryRow(ctx, query,
		c.ID, c.Version, c.Language, c.Classification, categoryOf(c), c.Priority, c.PriorityOverride,
		c.Routing, string(c.Status), c.StatusHistory, c.AssignedDepartment,
		c.ProcessedAt, c.AssignedAt, c.ResolvedAt,
	).Scan(&c.Version, &c.HotspotID)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM complaints WHERE id = $1)`, c.ID).Scan(&exists); qerr != nil {
			return fmt.Errorf("%w: %v", models.ErrPersistenceFailure, qerr)
		}
		if !exists {
			return models.ErrNotFound
		}
		return models.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("%w: update complaint: %v", models.ErrPersistenceFailure, err)
	}
	return nil
}

func (s *Postgres) ListByDepartment(ctx context.Context, department string, f models.ComplaintFilter) ([]*models.Complaint, error) {
	query := `SELECT ` + complaintColumns + ` FROM complaints
		WHERE assigned_department = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR category = $3)
		ORDER BY COALESCE((priority_override->>'value')::int, priority) DESC, submitted_at, id
		LIMIT $4`
	rows, err := s.db.Query(ctx, query, department, string(f.Status), string(f.Category), limitOrDefault(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("%w: list by department: %v", models.ErrPersistenceFailure, err)
	}
	return collectComplaints(rows)
}

func (s *Postgres) ListByGeoPrefix(ctx context.Context, prefix string, category models.Category) ([]*models.Complaint, error) {
	query := `SELECT ` + complaintColumns + ` FROM complaints
		WHERE geohash LIKE $1 || '%' AND category = $2
		ORDER BY submitted_at, id`
	rows, err := s.db.Query(ctx, query, prefix, string(category))
	if err != nil {
		return nil, fmt.Errorf("%w: list by geohash: %v", models.ErrPersistenceFailure, err)
	}
	return collectComplaints(rows)
}

func (s *Postgres) ComplaintsSince(ctx context.Context, since time.Time) ([]*models.Complaint, error) {
	query := `SELECT ` + complaintColumns + ` FROM complaints
		WHERE submitted_at >= $1 AND classification IS NOT NULL
		ORDER BY submitted_at, id`
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("%w: complaints since: %v", models.ErrPersistenceFailure, err)
	}
	return collectComplaints(rows)
}

func (s *Postgres) SetHotspotRef(ctx context.Context, complaintID, hotspotID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE complaints SET hotspot_id = $2 WHERE id = $1`, complaintID, hotspotID)
	if err != nil {
		return fmt.Errorf("%w: set hotspot ref: %v", models.ErrPersistenceFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SaveHotspots upserts the batch in one transaction
func (s *Postgres) SaveHotspots(ctx context.Context, hotspots []*models.Hotspot) error {
	query := `
		INSERT INTO hotspots (` + hotspotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			center_lat = EXCLUDED.center_lat, center_lon = EXCLUDED.center_lon,
			center_geohash = EXCLUDED.center_geohash, radius_m = EXCLUDED.radius_m,
			member_ids = EXCLUDED.member_ids, complaint_count = EXCLUDED.complaint_count,
			previous_count = EXCLUDED.previous_count, window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end, trend = EXCLUDED.trend, status = EXCLUDED.status,
			notified_at = EXCLUDED.notified_at, resolved_at = EXCLUDED.resolved_at,
			updated_at = EXCLUDED.updated_at
	`
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, h := range hotspots {
			batch.Queue(query,
				h.ID, string(h.Category), h.Center.Lat, h.Center.Lon, h.Center.Geohash, h.RadiusMeters,
				nonNil(h.MemberIDs), h.ComplaintCount, h.PreviousCount, h.WindowStart, h.WindowEnd,
				string(h.Trend), string(h.Status), h.ActivatedAt, h.NotifiedAt, h.ResolvedAt, h.UpdatedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("%w: save hotspots: %v", models.ErrPersistenceFailure, err)
		}
		return nil
	})
}

func (s *Postgres) GetHotspot(ctx context.Context, id string) (*models.Hotspot, error) {
	row := s.db.QueryRow(ctx, `SELECT `+hotspotColumns+` FROM hotspots WHERE id = $1`, id)
	h, err := scanHotspot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get hotspot: %v", models.ErrPersistenceFailure, err)
	}
	return h, nil
}

func (s *Postgres) ListHotspots(ctx context.Context, f models.HotspotFilter) ([]*models.Hotspot, error) {
	query := `SELECT ` + hotspotColumns + ` FROM hotspots
		WHERE ($1 = '' OR category = $1) AND ($2 = '' OR status = $2)
		ORDER BY complaint_count DESC, id`
	rows, err := s.db.Query(ctx, query, string(f.Category), string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("%w: list hotspots: %v", models.ErrPersistenceFailure, err)
	}
	defer rows.Close()

	var out []*models.Hotspot
	for rows.Next() {
		h, err := scanHotspot(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan hotspot: %v", models.ErrPersistenceFailure, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Postgres) PutDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO dead_letters (id, complaint_id, collaborator, error, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		dl.ID, dl.ComplaintID, dl.Collaborator, dl.Error, dl.Attempts, dl.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert dead letter: %v", models.ErrPersistenceFailure, err)
	}
	return nil
}

func (s *Postgres) ListDeadLetters(ctx context.Context, limit int) ([]*models.DeadLetter, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, complaint_id, collaborator, error, attempts, created_at
		 FROM dead_letters ORDER BY created_at DESC LIMIT $1`, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: list dead letters: %v", models.ErrPersistenceFailure, err)
	}
	defer rows.Close()

	var out []*models.DeadLetter
	for rows.Next() {
		var dl models.DeadLetter
		if err := rows.Scan(&dl.ID, &dl.ComplaintID, &dl.Collaborator, &dl.Error, &dl.Attempts, &dl.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan dead letter: %v", models.ErrPersistenceFailure, err)
		}
		out = append(out, &dl)
	}
	return out, rows.Err()
}

func scanComplaint(row pgx.Row) (*models.Complaint, error) {
	var (
		c      models.Complaint
		status string
	)
	err := row.Scan(
		&c.ID, &c.TrackingNumber, &c.CitizenRef, &c.Language, &c.Description, &c.AudioRef, &c.ImageRefs,
		&c.Location.Lat, &c.Location.Lon, &c.Location.Geohash,
		&c.Classification, &c.Priority, &c.PriorityOverride, &c.Routing,
		&status, &c.StatusHistory, &c.AssignedDepartment, &c.HotspotID,
		&c.SubmittedAt, &c.ProcessedAt, &c.AssignedAt, &c.ResolvedAt, &c.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan complaint: %v", models.ErrPersistenceFailure, err)
	}
	c.Status = models.Status(status)
	return &c, nil
}

func collectComplaints(rows pgx.Rows) ([]*models.Complaint, error) {
	defer rows.Close()
	var out []*models.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}
	return out, nil
}

func scanHotspot(row pgx.Row) (*models.Hotspot, error) {
	var (
		h                       models.Hotspot
		category, trend, status string
	)
	err := row.Scan(
		&h.ID, &category, &h.Center.Lat, &h.Center.Lon, &h.Center.Geohash, &h.RadiusMeters,
		&h.MemberIDs, &h.ComplaintCount, &h.PreviousCount, &h.WindowStart, &h.WindowEnd,
		&trend, &status, &h.ActivatedAt, &h.NotifiedAt, &h.ResolvedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	h.Category = models.Category(category)
	h.Trend = models.Trend(trend)
	h.Status = models.HotspotStatus(status)
	return &h, nil
}

func categoryOf(c *models.Complaint) *string {
	if c.Classification == nil {
		return nil
	}
	s := string(c.Classification.Category)
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
