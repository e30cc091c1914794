package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for tenant persistence operations.
type Repository interface {
	CreateCompany(ctx context.Context, company *Company) error
	GetCompany(ctx context.Context, id string) (*Company, error)
	ListCompanies(ctx context.Context) ([]Company, error)
	UpdateCompany(ctx context.Context, company *Company) error

	CreateStore(ctx context.Context, store *Store) error
	GetStore(ctx context.Context, id string) (*Store, error)
	ListStores(ctx context.Context, companyID string) ([]Store, error)
	UpdateStore(ctx context.Context, store *Store) error
	DeleteStore(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed tenant repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateCompany inserts a new company. The ID is generated if empty.
func (r *SQLiteRepository) CreateCompany(ctx context.Context, company *Company) error {
	if company.ID == "" {
		company.ID = "cmp-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	company.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	company.UpdatedAt = company.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO companies (id, name, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		company.ID, company.Name, boolToInt(company.IsActive), now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting company %s: %w", company.ID, err)
	}
	return nil
}

// GetCompany returns a single company by ID.
func (r *SQLiteRepository) GetCompany(ctx context.Context, id string) (*Company, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, is_active, created_at, updated_at FROM companies WHERE id = ?", id)
	return scanCompany(row)
}

// ListCompanies returns all companies ordered by name.
func (r *SQLiteRepository) ListCompanies(ctx context.Context) ([]Company, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, is_active, created_at, updated_at FROM companies ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing companies: %w", err)
	}
	defer rows.Close()

	companies := []Company{}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating companies: %w", err)
	}
	return companies, nil
}

// UpdateCompany modifies a company's name and active flag.
func (r *SQLiteRepository) UpdateCompany(ctx context.Context, company *Company) error {
	now := time.Now().UTC().Format(time.RFC3339)
	company.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	result, err := r.db.ExecContext(ctx,
		`UPDATE companies SET name = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		company.Name, boolToInt(company.IsActive), now, company.ID,
	)
	if err != nil {
		return fmt.Errorf("updating company %s: %w", company.ID, err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrCompanyNotFound
	}
	return nil
}

// CreateStore inserts a new store under its company. The ID is
// generated if empty. The company must exist.
func (r *SQLiteRepository) CreateStore(ctx context.Context, store *Store) error {
	if store.ID == "" {
		store.ID = "str-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	store.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	store.UpdatedAt = store.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO stores (id, company_id, name, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		store.ID, store.CompanyID, store.Name, boolToInt(store.IsActive), now, now,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrCompanyNotFound
		}
		return fmt.Errorf("inserting store %s: %w", store.ID, err)
	}
	return nil
}

// GetStore returns a single store by ID.
func (r *SQLiteRepository) GetStore(ctx context.Context, id string) (*Store, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, company_id, name, is_active, created_at, updated_at FROM stores WHERE id = ?", id)
	return scanStore(row)
}

// ListStores returns stores ordered by name. A non-empty companyID
// restricts the result to that company's stores.
func (r *SQLiteRepository) ListStores(ctx context.Context, companyID string) ([]Store, error) {
	query := "SELECT id, company_id, name, is_active, created_at, updated_at FROM stores"
	var args []any
	if companyID != "" {
		query += " WHERE company_id = ?"
		args = append(args, companyID)
	}
	query += " ORDER BY name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing stores: %w", err)
	}
	defer rows.Close()

	stores := []Store{}
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		stores = append(stores, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stores: %w", err)
	}
	return stores, nil
}

// UpdateStore modifies a store's name and active flag. The company
// binding is immutable: moving a store between companies would silently
// rescope its staff and its audit history.
func (r *SQLiteRepository) UpdateStore(ctx context.Context, store *Store) error {
	now := time.Now().UTC().Format(time.RFC3339)
	store.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	result, err := r.db.ExecContext(ctx,
		`UPDATE stores SET name = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		store.Name, boolToInt(store.IsActive), now, store.ID,
	)
	if err != nil {
		return fmt.Errorf("updating store %s: %w", store.ID, err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrStoreNotFound
	}
	return nil
}

// DeleteStore removes a store by ID. Staff pinned to the store fall
// back to company scope (users.store_id is ON DELETE SET NULL).
func (r *SQLiteRepository) DeleteStore(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM stores WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting store %s: %w", id, err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrStoreNotFound
	}
	return nil
}

// scanCompany scans a company from a Row or Rows cursor.
func scanCompany(s scanner) (*Company, error) {
	var c Company
	var isActive int
	var createdAt, updatedAt string

	err := s.Scan(&c.ID, &c.Name, &isActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCompanyNotFound
		}
		return nil, fmt.Errorf("scanning company: %w", err)
	}

	c.IsActive = isActive != 0
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &c, nil
}

// scanStore scans a store from a Row or Rows cursor.
func scanStore(s scanner) (*Store, error) {
	var st Store
	var isActive int
	var createdAt, updatedAt string

	err := s.Scan(&st.ID, &st.CompanyID, &st.Name, &isActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStoreNotFound
		}
		return nil, fmt.Errorf("scanning store: %w", err)
	}

	st.IsActive = isActive != 0
	st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &st, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// Helper functions.

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isForeignKeyViolation checks if a SQLite error is a FK constraint failure.
func isForeignKeyViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "FOREIGN KEY constraint failed") ||
		strings.Contains(err.Error(), "foreign key constraint"))
}
