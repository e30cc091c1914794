package tenant

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a temp-file SQLite database with the tenancy tables.
// A file-backed database keeps every pooled connection on the same data,
// and the DSN turns foreign keys on to match production.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tenant_test.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE companies (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE stores (
			id         TEXT PRIMARY KEY,
			company_id TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE users (
			id       TEXT PRIMARY KEY,
			store_id TEXT REFERENCES stores(id) ON DELETE SET NULL
		) STRICT;
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestCreateAndGetCompany(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	company := &Company{Name: "Acme Retail", IsActive: true}
	if err := repo.CreateCompany(ctx, company); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	if !strings.HasPrefix(company.ID, "cmp-") {
		t.Errorf("company ID: got %q, want cmp- prefix", company.ID)
	}
	if company.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped on create")
	}

	got, err := repo.GetCompany(ctx, company.ID)
	if err != nil {
		t.Fatalf("GetCompany: %v", err)
	}
	if got.Name != "Acme Retail" {
		t.Errorf("company name: got %q, want %q", got.Name, "Acme Retail")
	}
	if !got.IsActive {
		t.Error("company should be active")
	}
}

func TestGetCompanyNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	_, err := repo.GetCompany(context.Background(), "cmp-nope")
	if err != ErrCompanyNotFound {
		t.Errorf("expected ErrCompanyNotFound, got %v", err)
	}
}

func TestListCompaniesOrderedByName(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for _, name := range []string{"Zeta Stores", "Acme Retail", "Midway Goods"} {
		if err := repo.CreateCompany(ctx, &Company{Name: name, IsActive: true}); err != nil {
			t.Fatalf("CreateCompany %q: %v", name, err)
		}
	}

	companies, err := repo.ListCompanies(ctx)
	if err != nil {
		t.Fatalf("ListCompanies: %v", err)
	}
	if len(companies) != 3 {
		t.Fatalf("expected 3 companies, got %d", len(companies))
	}
	if companies[0].Name != "Acme Retail" || companies[2].Name != "Zeta Stores" {
		t.Errorf("companies not sorted by name: %q, %q, %q",
			companies[0].Name, companies[1].Name, companies[2].Name)
	}
}

func TestUpdateCompany(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	company := &Company{Name: "Acme Retail", IsActive: true}
	if err := repo.CreateCompany(ctx, company); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}

	company.Name = "Acme Holdings"
	company.IsActive = false
	if err := repo.UpdateCompany(ctx, company); err != nil {
		t.Fatalf("UpdateCompany: %v", err)
	}

	got, err := repo.GetCompany(ctx, company.ID)
	if err != nil {
		t.Fatalf("GetCompany after update: %v", err)
	}
	if got.Name != "Acme Holdings" {
		t.Errorf("updated name: got %q, want %q", got.Name, "Acme Holdings")
	}
	if got.IsActive {
		t.Error("company should be deactivated")
	}

	err = repo.UpdateCompany(ctx, &Company{ID: "cmp-nope", Name: "Ghost"})
	if err != ErrCompanyNotFound {
		t.Errorf("expected ErrCompanyNotFound for unknown ID, got %v", err)
	}
}

func TestCreateStoreUnknownCompany(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	store := &Store{CompanyID: "cmp-nope", Name: "Orphan Store", IsActive: true}
	err := repo.CreateStore(context.Background(), store)
	if err != ErrCompanyNotFound {
		t.Errorf("expected ErrCompanyNotFound, got %v", err)
	}
}

func TestListStoresByCompany(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	acme := &Company{Name: "Acme Retail", IsActive: true}
	zeta := &Company{Name: "Zeta Stores", IsActive: true}
	for _, c := range []*Company{acme, zeta} {
		if err := repo.CreateCompany(ctx, c); err != nil {
			t.Fatalf("CreateCompany: %v", err)
		}
	}

	stores := []*Store{
		{CompanyID: acme.ID, Name: "Acme Downtown", IsActive: true},
		{CompanyID: acme.ID, Name: "Acme Airport", IsActive: true},
		{CompanyID: zeta.ID, Name: "Zeta Central", IsActive: true},
	}
	for _, s := range stores {
		if err := repo.CreateStore(ctx, s); err != nil {
			t.Fatalf("CreateStore %q: %v", s.Name, err)
		}
		if !strings.HasPrefix(s.ID, "str-") {
			t.Errorf("store ID: got %q, want str- prefix", s.ID)
		}
	}

	all, err := repo.ListStores(ctx, "")
	if err != nil {
		t.Fatalf("ListStores all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 stores, got %d", len(all))
	}

	acmeStores, err := repo.ListStores(ctx, acme.ID)
	if err != nil {
		t.Fatalf("ListStores by company: %v", err)
	}
	if len(acmeStores) != 2 {
		t.Fatalf("expected 2 acme stores, got %d", len(acmeStores))
	}
	// Sorted by name.
	if acmeStores[0].Name != "Acme Airport" {
		t.Errorf("first store: got %q, want %q", acmeStores[0].Name, "Acme Airport")
	}

	none, err := repo.ListStores(ctx, "cmp-nope")
	if err != nil {
		t.Fatalf("ListStores unknown company: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected 0 stores for unknown company, got %d", len(none))
	}
}

func TestUpdateStore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	company := &Company{Name: "Acme Retail", IsActive: true}
	if err := repo.CreateCompany(ctx, company); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	store := &Store{CompanyID: company.ID, Name: "Acme Downtown", IsActive: true}
	if err := repo.CreateStore(ctx, store); err != nil {
		t.Fatalf("CreateStore: %v", err)
	}

	store.Name = "Acme Riverside"
	store.IsActive = false
	if err := repo.UpdateStore(ctx, store); err != nil {
		t.Fatalf("UpdateStore: %v", err)
	}

	got, err := repo.GetStore(ctx, store.ID)
	if err != nil {
		t.Fatalf("GetStore after update: %v", err)
	}
	if got.Name != "Acme Riverside" || got.IsActive {
		t.Errorf("update not applied: name=%q active=%v", got.Name, got.IsActive)
	}
	if got.CompanyID != company.ID {
		t.Errorf("company binding changed: got %q, want %q", got.CompanyID, company.ID)
	}

	err = repo.UpdateStore(ctx, &Store{ID: "str-nope", Name: "Ghost"})
	if err != ErrStoreNotFound {
		t.Errorf("expected ErrStoreNotFound for unknown ID, got %v", err)
	}
}

func TestDeleteStoreUnpinsStaff(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	company := &Company{Name: "Acme Retail", IsActive: true}
	if err := repo.CreateCompany(ctx, company); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	store := &Store{CompanyID: company.ID, Name: "Acme Downtown", IsActive: true}
	if err := repo.CreateStore(ctx, store); err != nil {
		t.Fatalf("CreateStore: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO users (id, store_id) VALUES ('usr-test', ?)`, store.ID); err != nil {
		t.Fatalf("insert user: %v", err)
	}

	if err := repo.DeleteStore(ctx, store.ID); err != nil {
		t.Fatalf("DeleteStore: %v", err)
	}
	if _, err := repo.GetStore(ctx, store.ID); err != ErrStoreNotFound {
		t.Errorf("expected ErrStoreNotFound after delete, got %v", err)
	}
	if err := repo.DeleteStore(ctx, store.ID); err != ErrStoreNotFound {
		t.Errorf("expected ErrStoreNotFound on double delete, got %v", err)
	}

	// Staff pinned to the store fall back to company scope.
	var storeID sql.NullString
	if err := db.QueryRow(`SELECT store_id FROM users WHERE id = 'usr-test'`).Scan(&storeID); err != nil {
		t.Fatalf("query user: %v", err)
	}
	if storeID.Valid {
		t.Errorf("user store_id should be NULL after store delete, got %q", storeID.String)
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("Acme Retail"); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}
	if err := ValidateName("   "); err == nil {
		t.Error("blank name should be rejected")
	}
	if err := ValidateName(strings.Repeat("x", maxNameLength+1)); err == nil {
		t.Error("overlong name should be rejected")
	}
}
