package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	json "github.com/goccy/go-json"
	"github.com/lib/pq"

	"ConcertTracker/internal/domain"
	"ConcertTracker/internal/ports"
)

// PostgresStore persists entities, source records, tours, and conflicts
// in Postgres. Commit applies a full change set in one transaction.
type PostgresStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var (
	_ ports.EntityRepository = (*PostgresStore)(nil)
	_ ports.RecordRepository = (*PostgresStore)(nil)
	_ ports.TourRepository   = (*PostgresStore)(nil)
)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tracked_entities (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			native_name TEXT NOT NULL DEFAULT '',
			handle TEXT NOT NULL DEFAULT '',
			official_handles TEXT[] NOT NULL DEFAULT '{}',
			aliases TEXT[] NOT NULL DEFAULT '{}',
			home_country TEXT NOT NULL DEFAULT '',
			notice_url TEXT NOT NULL DEFAULT '',
			favorite BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS source_records (
			id BIGSERIAL PRIMARY KEY,
			entity_id BIGINT NOT NULL REFERENCES tracked_entities(id),
			external_id TEXT NOT NULL,
			text TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			author_handle TEXT NOT NULL DEFAULT '',
			author_name TEXT NOT NULL DEFAULT '',
			posted_at TIMESTAMPTZ NOT NULL,
			official BOOLEAN NOT NULL DEFAULT FALSE,
			relevant BOOLEAN NOT NULL DEFAULT FALSE,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			retweets INT NOT NULL DEFAULT 0,
			likes INT NOT NULL DEFAULT 0,
			summary JSONB,
			tour_id BIGINT,
			tour_date_ids BIGINT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (entity_id, external_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tours (
			id BIGSERIAL PRIMARY KEY,
			entity_id BIGINT NOT NULL REFERENCES tracked_entities(id),
			name TEXT NOT NULL,
			year INT NOT NULL,
			status TEXT NOT NULL,
			has_unresolved_dates BOOLEAN NOT NULL DEFAULT FALSE,
			regions TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS tour_dates (
			id BIGSERIAL PRIMARY KEY,
			tour_id BIGINT NOT NULL REFERENCES tours(id),
			city TEXT NOT NULL,
			country TEXT NOT NULL DEFAULT '',
			region TEXT NOT NULL DEFAULT '',
			venue TEXT NOT NULL DEFAULT '',
			date TIMESTAMPTZ,
			end_date TIMESTAMPTZ,
			kickoff BOOLEAN NOT NULL DEFAULT FALSE,
			encore BOOLEAN NOT NULL DEFAULT FALSE,
			finale BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS conflicts (
			id BIGSERIAL PRIMARY KEY,
			tour_id BIGINT NOT NULL,
			tour_date_id BIGINT NOT NULL,
			field TEXT NOT NULL,
			existing TEXT NOT NULL,
			proposed TEXT NOT NULL,
			source_record_id BIGINT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &domain.StorageError{Op: "ensure schema", Err: err}
		}
	}
	return nil
}

// SeedEntities upserts configured entities by name and returns the stored rows.
func (s *PostgresStore) SeedEntities(ctx context.Context, entities []domain.TrackedEntity) error {
	query := `INSERT INTO tracked_entities
	          (name, native_name, handle, official_handles, aliases, home_country, notice_url, favorite)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (name) DO UPDATE
	          SET native_name = EXCLUDED.native_name,
	              handle = EXCLUDED.handle,
	              official_handles = EXCLUDED.official_handles,
	              aliases = EXCLUDED.aliases,
	              home_country = EXCLUDED.home_country,
	              notice_url = EXCLUDED.notice_url`

	for _, e := range entities {
		_, err := s.db.ExecContext(ctx, query,
			e.Name,
			e.NativeName,
			e.Handle,
			pq.StringArray(e.OfficialHandles),
			pq.StringArray(e.Aliases),
			e.HomeCountry,
			e.NoticeURL,
			e.Favorite,
		)
		if err != nil {
			return &domain.StorageError{Op: fmt.Sprintf("seed entity %s", e.Name), Err: err}
		}
	}
	return nil
}

const entityColumns = "id, name, native_name, handle, official_handles, aliases, home_country, notice_url, favorite"

// ListTracked returns all tracked entities ordered by id.
func (s *PostgresStore) ListTracked(ctx context.Context) ([]domain.TrackedEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM tracked_entities ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &domain.StorageError{Op: "list tracked", Err: err}
	}
	defer rows.Close()

	var entities []domain.TrackedEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan entity", Err: err}
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "iterate entities", Err: err}
	}
	return entities, nil
}

// GetByID returns one tracked entity.
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (domain.TrackedEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM tracked_entities WHERE id = $1`

	row := s.db.QueryRowContext(ctx, query, id)
	e, err := scanEntity(row)
	if err != nil {
		return domain.TrackedEntity{}, &domain.StorageError{Op: "get entity", Err: err}
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (domain.TrackedEntity, error) {
	var e domain.TrackedEntity
	var handles, aliases pq.StringArray
	err := row.Scan(&e.ID, &e.Name, &e.NativeName, &e.Handle, &handles, &aliases, &e.HomeCountry, &e.NoticeURL, &e.Favorite)
	if err != nil {
		return domain.TrackedEntity{}, err
	}
	e.OfficialHandles = []string(handles)
	e.Aliases = []string(aliases)
	return e, nil
}

// InsertNew stores posts not seen before and returns the inserted rows.
// Duplicates (same entity and external id) are skipped silently.
func (s *PostgresStore) InsertNew(ctx context.Context, records []domain.SourceRecord) ([]domain.SourceRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	query := `INSERT INTO source_records
	          (entity_id, external_id, text, url, author_handle, author_name, posted_at, official, relevant, retweets, likes)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	          ON CONFLICT (entity_id, external_id) DO NOTHING
	          RETURNING id, created_at`

	var inserted []domain.SourceRecord
	for _, rec := range records {
		row := s.db.QueryRowContext(ctx, query,
			rec.EntityID,
			rec.ExternalID,
			rec.Text,
			rec.URL,
			rec.AuthorHandle,
			rec.AuthorName,
			rec.PostedAt,
			rec.Official,
			rec.Relevant,
			rec.Retweets,
			rec.Likes,
		)
		err := row.Scan(&rec.ID, &rec.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, &domain.StorageError{Op: "insert record", Err: err}
		}
		inserted = append(inserted, rec)
	}
	return inserted, nil
}

// LatestExternalID returns the external id of the newest stored post for
// the entity, or an empty string when none exist.
func (s *PostgresStore) LatestExternalID(ctx context.Context, entityID int64) (string, error) {
	query := `SELECT external_id FROM source_records
	          WHERE entity_id = $1 ORDER BY posted_at DESC, id DESC LIMIT 1`

	var externalID string
	err := s.db.QueryRowContext(ctx, query, entityID).Scan(&externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", &domain.StorageError{Op: "latest external id", Err: err}
	}
	return externalID, nil
}

const recordColumns = "id, entity_id, external_id, text, url, author_handle, author_name, posted_at, official, relevant, processed, retweets, likes, summary, tour_id, tour_date_ids, created_at"

// ListUnprocessed returns pending records oldest-first.
func (s *PostgresStore) ListUnprocessed(ctx context.Context, entityID int64) ([]domain.SourceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM source_records
	          WHERE entity_id = $1 AND NOT processed
	          ORDER BY posted_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, &domain.StorageError{Op: "list unprocessed", Err: err}
	}
	defer rows.Close()

	return collectRecords(rows)
}

// List returns records matching the filter, newest-first, plus the total
// count before limit and offset.
func (s *PostgresStore) List(ctx context.Context, filter ports.RecordFilter) ([]domain.SourceRecord, int, error) {
	conds := sq.And{}
	if filter.EntityID != 0 {
		conds = append(conds, sq.Eq{"entity_id": filter.EntityID})
	}
	if filter.Processed != nil {
		conds = append(conds, sq.Eq{"processed": *filter.Processed})
	}
	if filter.OfficialOnly {
		conds = append(conds, sq.Eq{"official": true})
	}

	countQuery := s.builder.Select("COUNT(*)").From("source_records")
	listQuery := s.builder.Select(recordColumns).From("source_records")
	if len(conds) > 0 {
		countQuery = countQuery.Where(conds)
		listQuery = listQuery.Where(conds)
	}

	sqlText, args, err := countQuery.ToSql()
	if err != nil {
		return nil, 0, &domain.StorageError{Op: "build count query", Err: err}
	}
	var total int
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&total); err != nil {
		return nil, 0, &domain.StorageError{Op: "count records", Err: err}
	}

	listQuery = listQuery.OrderBy("posted_at DESC", "id DESC")
	if filter.Limit > 0 {
		listQuery = listQuery.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		listQuery = listQuery.Offset(uint64(filter.Offset))
	}

	sqlText, args, err = listQuery.ToSql()
	if err != nil {
		return nil, 0, &domain.StorageError{Op: "build list query", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, 0, &domain.StorageError{Op: "list records", Err: err}
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func collectRecords(rows *sql.Rows) ([]domain.SourceRecord, error) {
	var records []domain.SourceRecord
	for rows.Next() {
		var rec domain.SourceRecord
		var summary []byte
		var tourID sql.NullInt64
		var dateIDs pq.Int64Array
		err := rows.Scan(
			&rec.ID, &rec.EntityID, &rec.ExternalID, &rec.Text, &rec.URL,
			&rec.AuthorHandle, &rec.AuthorName, &rec.PostedAt,
			&rec.Official, &rec.Relevant, &rec.Processed,
			&rec.Retweets, &rec.Likes,
			&summary, &tourID, &dateIDs, &rec.CreatedAt,
		)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan record", Err: err}
		}
		if len(summary) > 0 {
			var parsed domain.ParseSummary
			if err := json.Unmarshal(summary, &parsed); err != nil {
				return nil, &domain.StorageError{Op: "decode summary", Err: err}
			}
			rec.Summary = &parsed
		}
		if tourID.Valid {
			id := tourID.Int64
			rec.TourID = &id
		}
		rec.TourDateIDs = []int64(dateIDs)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "iterate records", Err: err}
	}
	return records, nil
}

// FindTours returns the entity's tours for the given year ordered by id.
func (s *PostgresStore) FindTours(ctx context.Context, entityID int64, year int) ([]domain.Tour, error) {
	query := `SELECT id, entity_id, name, year, status, has_unresolved_dates, regions, created_at, updated_at
	          FROM tours WHERE entity_id = $1 AND year = $2 ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, entityID, year)
	if err != nil {
		return nil, &domain.StorageError{Op: "find tours", Err: err}
	}
	defer rows.Close()

	var tours []domain.Tour
	for rows.Next() {
		var t domain.Tour
		var regions pq.StringArray
		err := rows.Scan(&t.ID, &t.EntityID, &t.Name, &t.Year, &t.Status, &t.HasUnresolvedDates, &regions, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan tour", Err: err}
		}
		t.Regions = []string(regions)
		tours = append(tours, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "iterate tours", Err: err}
	}
	return tours, nil
}

// ListDates returns a tour's stops ordered by id.
func (s *PostgresStore) ListDates(ctx context.Context, tourID int64) ([]domain.TourDate, error) {
	query := `SELECT id, tour_id, city, country, region, venue, date, end_date, kickoff, encore, finale
	          FROM tour_dates WHERE tour_id = $1 ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, tourID)
	if err != nil {
		return nil, &domain.StorageError{Op: "list dates", Err: err}
	}
	defer rows.Close()

	var dates []domain.TourDate
	for rows.Next() {
		var d domain.TourDate
		var date, endDate sql.NullTime
		err := rows.Scan(&d.ID, &d.TourID, &d.City, &d.Country, &d.Region, &d.Venue, &date, &endDate, &d.Kickoff, &d.Encore, &d.Finale)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan date", Err: err}
		}
		if date.Valid {
			v := date.Time
			d.Date = &v
		}
		if endDate.Valid {
			v := endDate.Time
			d.EndDate = &v
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "iterate dates", Err: err}
	}
	return dates, nil
}

// Commit applies the change set in one transaction: tour upsert, date
// inserts and updates, conflicts, and the record's processed marker with
// its audit references.
func (s *PostgresStore) Commit(ctx context.Context, change *domain.ChangeSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "begin commit", Err: err}
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if change.Tour != nil {
		if err := commitTour(ctx, tx, change.Tour, now); err != nil {
			return err
		}
	}

	var dateIDs []int64
	for _, d := range change.NewDates {
		if change.Tour != nil {
			d.TourID = change.Tour.ID
		}
		query := `INSERT INTO tour_dates (tour_id, city, country, region, venue, date, end_date, kickoff, encore, finale)
		          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
		err := tx.QueryRowContext(ctx, query,
			d.TourID, d.City, d.Country, d.Region, d.Venue,
			nullTime(d.Date), nullTime(d.EndDate),
			d.Kickoff, d.Encore, d.Finale,
		).Scan(&d.ID)
		if err != nil {
			return &domain.StorageError{Op: "insert date", Err: err}
		}
		dateIDs = append(dateIDs, d.ID)
	}

	for _, d := range change.UpdatedDates {
		query := `UPDATE tour_dates
		          SET city = $2, country = $3, region = $4, venue = $5,
		              date = $6, end_date = $7, kickoff = $8, encore = $9, finale = $10
		          WHERE id = $1`
		_, err := tx.ExecContext(ctx, query,
			d.ID, d.City, d.Country, d.Region, d.Venue,
			nullTime(d.Date), nullTime(d.EndDate),
			d.Kickoff, d.Encore, d.Finale,
		)
		if err != nil {
			return &domain.StorageError{Op: "update date", Err: err}
		}
		dateIDs = append(dateIDs, d.ID)
	}

	for _, c := range change.Conflicts {
		tourID := c.TourID
		if tourID == 0 && change.Tour != nil {
			tourID = change.Tour.ID
		}
		query := `INSERT INTO conflicts (tour_id, tour_date_id, field, existing, proposed, source_record_id, recorded_at)
		          VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err := tx.ExecContext(ctx, query, tourID, c.TourDateID, c.Field, c.Existing, c.Proposed, c.SourceRecordID, now)
		if err != nil {
			return &domain.StorageError{Op: "insert conflict", Err: err}
		}
	}

	if change.Record != nil {
		var summary []byte
		if change.Record.Summary != nil {
			summary, err = json.Marshal(change.Record.Summary)
			if err != nil {
				return &domain.StorageError{Op: "encode summary", Err: err}
			}
		}
		var tourID sql.NullInt64
		if change.Tour != nil {
			tourID = sql.NullInt64{Int64: change.Tour.ID, Valid: true}
			id := change.Tour.ID
			change.Record.TourID = &id
		}
		change.Record.TourDateIDs = dateIDs

		query := `UPDATE source_records
		          SET processed = $2, summary = $3, tour_id = $4, tour_date_ids = $5
		          WHERE id = $1`
		_, err := tx.ExecContext(ctx, query,
			change.Record.ID, change.Record.Processed, summary, tourID, pq.Int64Array(dateIDs))
		if err != nil {
			return &domain.StorageError{Op: "commit record", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: "commit", Err: err}
	}
	return nil
}

func commitTour(ctx context.Context, tx *sql.Tx, tour *domain.Tour, now time.Time) error {
	if tour.ID == 0 {
		query := `INSERT INTO tours (entity_id, name, year, status, has_unresolved_dates, regions, created_at, updated_at)
		          VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`
		err := tx.QueryRowContext(ctx, query,
			tour.EntityID, tour.Name, tour.Year, tour.Status,
			tour.HasUnresolvedDates, pq.StringArray(tour.Regions), now,
		).Scan(&tour.ID)
		if err != nil {
			return &domain.StorageError{Op: "insert tour", Err: err}
		}
		tour.CreatedAt = now
		tour.UpdatedAt = now
		return nil
	}

	query := `UPDATE tours
	          SET name = $2, status = $3, has_unresolved_dates = $4, regions = $5, updated_at = $6
	          WHERE id = $1`
	_, err := tx.ExecContext(ctx, query,
		tour.ID, tour.Name, tour.Status, tour.HasUnresolvedDates, pq.StringArray(tour.Regions), now)
	if err != nil {
		return &domain.StorageError{Op: "update tour", Err: err}
	}
	tour.UpdatedAt = now
	return nil
}

// CountOpenConflicts reports how many conflicts await operator review.
func (s *PostgresStore) CountOpenConflicts(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts`).Scan(&count)
	if err != nil {
		return 0, &domain.StorageError{Op: "count conflicts", Err: err}
	}
	return count, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
