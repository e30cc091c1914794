package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Filter controls which audit entries to return.
type Filter struct {
	Action     string // optional: filter by action kind
	EntityType string // optional: filter by entity type (user, session, device_token, ...)
	EntityID   string // optional: filter by specific entity ID
	ActorID    string // optional: filter by acting user
	CompanyID  string // optional: tenant scoping; set by the handler for company-bound callers
	Severity   string // optional: filter by severity
	Limit      int    // default 50, max 200
	Offset     int    // pagination offset
}

// ListResult contains the paginated audit entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for audit trail persistence.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	MaxSeq(ctx context.Context) (int64, error)
}

// SQLiteRepository stores audit entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new audit entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}

	beforeJSON, err := marshalSnapshot(entry.Before)
	if err != nil {
		return fmt.Errorf("marshalling audit before snapshot: %w", err)
	}
	afterJSON, err := marshalSnapshot(entry.After)
	if err != nil {
		return fmt.Errorf("marshalling audit after snapshot: %w", err)
	}
	metadataJSON, err := marshalSnapshot(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling audit metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, seq, action, entity_type, entity_id,
		    actor_id, actor_email, actor_role, company_id, store_id,
		    description, before_json, after_json, metadata, severity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Seq, string(entry.Action), entry.EntityType, entry.EntityID,
		entry.Actor.ID, entry.Actor.Email, entry.Actor.Role,
		nullableString(entry.CompanyID), nullableString(entry.StoreID),
		entry.Description, beforeJSON, afterJSON, metadataJSON,
		string(entry.Severity), entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	return nil
}

// MaxSeq returns the highest persisted sequence number, or zero when
// the trail is empty. The recorder resumes its counter from this value
// so restarts keep the ordering monotonic.
func (r *SQLiteRepository) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM audit_log").Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("reading max audit seq: %w", err)
	}
	return seq, nil
}

// marshalSnapshot serialises a snapshot map, or nil for an absent one.
func marshalSnapshot(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil //nolint:nilnil // nil is the stored value for an absent snapshot
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns audit entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit,gocyclo // dynamic query builder: WHERE clause assembly from filter fields
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for audit queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.CompanyID != "" {
		conditions = append(conditions, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, filter.Severity)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_log %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	// Get paginated results. seq is assigned monotonically at enqueue,
	// so it orders correctly where created_at ties.
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, seq, action, entity_type, entity_id, actor_id, actor_email, actor_role,
		    company_id, store_id, description, before_json, after_json, metadata, severity, created_at
		 FROM audit_log %s ORDER BY seq DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// scanEntry reads one audit row.
func scanEntry(rows *sql.Rows) (*Entry, error) {
	var entry Entry
	var action, severity string
	var companyID, storeID, beforeJSON, afterJSON, metadataJSON sql.NullString
	var createdAt string

	if err := rows.Scan(&entry.ID, &entry.Seq, &action, &entry.EntityType, &entry.EntityID,
		&entry.Actor.ID, &entry.Actor.Email, &entry.Actor.Role,
		&companyID, &storeID, &entry.Description,
		&beforeJSON, &afterJSON, &metadataJSON, &severity, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning audit entry: %w", err)
	}

	entry.Action = Action(action)
	entry.Severity = Severity(severity)
	if companyID.Valid {
		entry.CompanyID = companyID.String
	}
	if storeID.Valid {
		entry.StoreID = storeID.String
	}
	entry.Before = unmarshalSnapshot(beforeJSON)
	entry.After = unmarshalSnapshot(afterJSON)
	entry.Metadata = unmarshalSnapshot(metadataJSON)

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing audit entry timestamp %q: %w", createdAt, err)
	}
	entry.CreatedAt = t

	return &entry, nil
}

// unmarshalSnapshot deserialises a snapshot column; malformed or absent
// JSON yields nil rather than an error, since the trail is read-only
// diagnostic data.
func unmarshalSnapshot(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]any
	if json.Unmarshal([]byte(s.String), &m) != nil {
		return nil
	}
	return m
}
