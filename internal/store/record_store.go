package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devrev/gamecatalog/internal/model"
)

// Statement names. They are persisted in recovery log entries, so they are
// part of the on-disk format.
const (
	StmtInsertRecord       = "insert_record"
	StmtUpsertRecord       = "upsert_record"
	StmtUpdateRecord       = "update_record"
	StmtDeleteRecord       = "delete_record"
	StmtSelectRecord       = "select_record"
	StmtSelectRecordLocked = "select_record_locked"
	StmtCountRecord        = "count_record"
	StmtSelectPage         = "select_page"
)

var recordColumns = []string{
	"info_id", "name", "release_date", "price", "discount_dlc_count",
	"about", "achievements", "notes", "developers", "publishers",
	"categories", "genres", "tags",
}

const schemaDDL = `CREATE TABLE IF NOT EXISTS app_info (
	info_id BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	release_date DATE,
	price DECIMAL(10,2),
	discount_dlc_count INT,
	about TEXT,
	achievements INT,
	notes TEXT,
	developers TEXT,
	publishers TEXT,
	categories TEXT,
	genres TEXT,
	tags TEXT
)`

// RecordStore runs the app_info statements against a node connection
type RecordStore struct{}

// NewRecordStore creates a new record store
func NewRecordStore() *RecordStore {
	return &RecordStore{}
}

// Statement returns the SQL of a named statement in the connection's dialect
func (s *RecordStore) Statement(d Dialect, name string) (string, error) {
	cols := strings.Join(recordColumns, ", ")
	insert := fmt.Sprintf("INSERT INTO app_info (%s) VALUES (%s)",
		cols, strings.TrimSuffix(strings.Repeat("?, ", len(recordColumns)), ", "))

	switch name {
	case StmtInsertRecord:
		return insert, nil
	case StmtUpsertRecord:
		return d.Upsert(insert, recordColumns), nil
	case StmtUpdateRecord:
		sets := make([]string, 0, len(recordColumns)-1)
		for _, col := range recordColumns[1:] {
			sets = append(sets, col+" = ?")
		}
		return fmt.Sprintf("UPDATE app_info SET %s WHERE info_id = ?", strings.Join(sets, ", ")), nil
	case StmtDeleteRecord:
		return "DELETE FROM app_info WHERE info_id = ?", nil
	case StmtSelectRecord:
		return fmt.Sprintf("SELECT %s FROM app_info WHERE info_id = ?", cols), nil
	case StmtSelectRecordLocked:
		return fmt.Sprintf("SELECT %s FROM app_info WHERE info_id = ?%s", cols, d.ShareLock), nil
	case StmtCountRecord:
		return "SELECT COUNT(*) FROM app_info WHERE info_id = ?", nil
	case StmtSelectPage:
		return fmt.Sprintf("SELECT %s FROM app_info ORDER BY info_id LIMIT ? OFFSET ?", cols), nil
	default:
		return "", fmt.Errorf("unknown statement %q", name)
	}
}

// EnsureSchema creates the app_info table if it does not exist
func (s *RecordStore) EnsureSchema(ctx context.Context, conn Conn) error {
	if _, err := conn.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create app_info on %s: %w", conn.Node().Role, err)
	}
	return nil
}

// Insert writes a new record; it fails if the identifier already exists on the node
func (s *RecordStore) Insert(ctx context.Context, conn Conn, rec *model.Record) error {
	return s.execRecord(ctx, conn, StmtInsertRecord, rec, recordArgs(rec)...)
}

// Upsert inserts the record or overwrites the existing row with the same identifier
func (s *RecordStore) Upsert(ctx context.Context, conn Conn, rec *model.Record) error {
	return s.execRecord(ctx, conn, StmtUpsertRecord, rec, recordArgs(rec)...)
}

// Update overwrites an existing row in place. It returns ErrNotFound when the
// node does not hold the record.
func (s *RecordStore) Update(ctx context.Context, conn Conn, rec *model.Record) error {
	query, err := s.Statement(conn.Dialect(), StmtUpdateRecord)
	if err != nil {
		return err
	}
	args := recordArgs(rec)
	args = append(args[1:], rec.InfoID)

	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %d on %s: %w", StmtUpdateRecord, rec.InfoID, conn.Node().Role, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	// MySQL reports changed rows, so an update to identical values is 0 as well
	count, err := s.Count(ctx, conn, rec.InfoID)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%s %d on %s: %w", StmtUpdateRecord, rec.InfoID, conn.Node().Role, ErrNotFound)
	}
	return nil
}

// Delete removes the record. Deleting an absent record is not an error.
func (s *RecordStore) Delete(ctx context.Context, conn Conn, infoID int64) error {
	query, err := s.Statement(conn.Dialect(), StmtDeleteRecord)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, query, infoID); err != nil {
		return fmt.Errorf("%s %d on %s: %w", StmtDeleteRecord, infoID, conn.Node().Role, err)
	}
	return nil
}

// Apply executes a named write statement with JSON encoded parameters, as
// stored in a recovery log entry
func (s *RecordStore) Apply(ctx context.Context, conn Conn, statement string, params json.RawMessage) error {
	switch statement {
	case StmtDeleteRecord:
		var p model.IdentifierParams
		if err := json.Unmarshal(params, &p); err != nil {
			return fmt.Errorf("failed to decode %s params: %w", statement, err)
		}
		return s.Delete(ctx, conn, p.InfoID)
	case StmtInsertRecord, StmtUpsertRecord, StmtUpdateRecord:
		var rec model.Record
		if err := json.Unmarshal(params, &rec); err != nil {
			return fmt.Errorf("failed to decode %s params: %w", statement, err)
		}
		switch statement {
		case StmtInsertRecord:
			return s.Insert(ctx, conn, &rec)
		case StmtUpdateRecord:
			return s.Update(ctx, conn, &rec)
		default:
			return s.Upsert(ctx, conn, &rec)
		}
	default:
		return fmt.Errorf("statement %q is not a write", statement)
	}
}

// Get reads one record, optionally under a shared row lock. Returns ErrNotFound
// if the node does not hold it.
func (s *RecordStore) Get(ctx context.Context, conn Conn, infoID int64, locked bool) (*model.Record, error) {
	name := StmtSelectRecord
	if locked {
		name = StmtSelectRecordLocked
	}
	query, err := s.Statement(conn.Dialect(), name)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query, infoID)
	if err != nil {
		return nil, fmt.Errorf("%s %d on %s: %w", name, infoID, conn.Node().Role, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%s %d on %s: %w", name, infoID, conn.Node().Role, err)
		}
		return nil, ErrNotFound
	}

	rec, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	return rec, rows.Err()
}

// Count returns how many rows the node holds for the identifier
func (s *RecordStore) Count(ctx context.Context, conn Conn, infoID int64) (int, error) {
	query, err := s.Statement(conn.Dialect(), StmtCountRecord)
	if err != nil {
		return 0, err
	}

	rows, err := conn.QueryContext(ctx, query, infoID)
	if err != nil {
		return 0, fmt.Errorf("%s %d on %s: %w", StmtCountRecord, infoID, conn.Node().Role, err)
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to scan count: %w", err)
		}
	}
	return count, rows.Err()
}

// Page returns up to limit records ordered by identifier
func (s *RecordStore) Page(ctx context.Context, conn Conn, offset, limit int) ([]*model.Record, error) {
	query, err := s.Statement(conn.Dialect(), StmtSelectPage)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", StmtSelectPage, conn.Node().Role, err)
	}
	defer rows.Close()

	records := make([]*model.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *RecordStore) execRecord(ctx context.Context, conn Conn, name string, rec *model.Record, args ...interface{}) error {
	query, err := s.Statement(conn.Dialect(), name)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s %d on %s: %w", name, rec.InfoID, conn.Node().Role, err)
	}
	return nil
}

func recordArgs(rec *model.Record) []interface{} {
	return []interface{}{
		rec.InfoID,
		rec.Name,
		rec.ReleaseDate,
		rec.Price,
		rec.DiscountDLCCount,
		rec.About,
		rec.Achievements,
		rec.Notes,
		rec.Developers,
		rec.Publishers,
		rec.Categories,
		rec.Genres,
		rec.Tags,
	}
}

func scanRecord(rows *sql.Rows) (*model.Record, error) {
	var (
		rec                                 model.Record
		price                               sql.NullFloat64
		dlc, achievements                   sql.NullInt64
		about, notes, developers, publisher sql.NullString
		categories, genres, tags            sql.NullString
	)
	if err := rows.Scan(
		&rec.InfoID,
		&rec.Name,
		&rec.ReleaseDate,
		&price,
		&dlc,
		&about,
		&achievements,
		&notes,
		&developers,
		&publisher,
		&categories,
		&genres,
		&tags,
	); err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.Price = price.Float64
	rec.DiscountDLCCount = int(dlc.Int64)
	rec.Achievements = int(achievements.Int64)
	rec.About = about.String
	rec.Notes = notes.String
	rec.Developers = developers.String
	rec.Publishers = publisher.String
	rec.Categories = categories.String
	rec.Genres = genres.String
	rec.Tags = tags.String
	return &rec, nil
}
