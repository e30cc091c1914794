package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/storekeep/storekeep-core/internal/audit"
	"github.com/storekeep/storekeep-core/internal/auth"
)

func TestUsers_SuperAdminCRUD(t *testing.T) {
	env := newTestEnv(t)
	company := seedCompany(t, env, "Crud Ltd")
	seedUser(t, env, "root@example.com", auth.RoleSuperAdmin, "", "")
	token := loginAs(t, env, "root@example.com")

	create := doRequest(t, env, http.MethodPost, "/api/v1/users", token, map[string]any{
		"email":      "Manager@Crud.example",
		"password":   testPassword,
		"role":       "company_admin",
		"company_id": company.ID,
	})
	if create.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", create.Code, create.Body.String())
	}
	var created auth.User
	decodeBody(t, create, &created)
	if !strings.HasPrefix(created.ID, "usr-") {
		t.Errorf("user id = %q, want usr- prefix", created.ID)
	}
	if created.Email != "manager@crud.example" {
		t.Errorf("email = %q, want lowercased", created.Email)
	}
	if created.CompanyID != company.ID || !created.IsActive {
		t.Errorf("created user scope = %+v", created)
	}
	if strings.Contains(strings.ToLower(create.Body.String()), "password") {
		t.Fatal("create response leaked password material")
	}

	dup := doRequest(t, env, http.MethodPost, "/api/v1/users", token, map[string]any{
		"email":      "manager@crud.example",
		"password":   testPassword,
		"role":       "company_admin",
		"company_id": company.ID,
	})
	if dup.Code != http.StatusConflict {
		t.Fatalf("duplicate email status = %d, want 409", dup.Code)
	}

	list := doRequest(t, env, http.MethodGet, "/api/v1/users", token, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d", list.Code)
	}
	var listing struct {
		Users []auth.User `json:"users"`
		Count int         `json:"count"`
	}
	decodeBody(t, list, &listing)
	if listing.Count != 2 {
		t.Fatalf("count = %d, want 2", listing.Count)
	}

	get := doRequest(t, env, http.MethodGet, "/api/v1/users/"+created.ID, token, nil)
	if get.Code != http.StatusOK {
		t.Fatalf("get status = %d", get.Code)
	}

	patch := doRequest(t, env, http.MethodPatch, "/api/v1/users/"+created.ID, token, map[string]any{
		"email": "renamed@crud.example",
	})
	if patch.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", patch.Code, patch.Body.String())
	}
	var patched auth.User
	decodeBody(t, patch, &patched)
	if patched.Email != "renamed@crud.example" {
		t.Errorf("patched email = %q", patched.Email)
	}

	del := doRequest(t, env, http.MethodDelete, "/api/v1/users/"+created.ID, token, nil)
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", del.Code)
	}
	gone := doRequest(t, env, http.MethodGet, "/api/v1/users/"+created.ID, token, nil)
	if gone.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", gone.Code)
	}

	env.flushAudit()
	if entries := auditByAction(t, env, audit.ActionUserCreated); len(entries) != 1 {
		t.Errorf("user_created entries = %d, want 1", len(entries))
	} else {
		for key := range entries[0].After {
			if strings.Contains(key, "password") {
				t.Errorf("audit snapshot carries %q", key)
			}
		}
	}
	if entries := auditByAction(t, env, audit.ActionUserDeleted); len(entries) != 1 {
		t.Errorf("user_deleted entries = %d, want 1", len(entries))
	}
}

func TestUsers_DeactivationLocksOut(t *testing.T) {
	env := newTestEnv(t)
	company := seedCompany(t, env, "Lockout Ltd")
	seedUser(t, env, "root@example.com", auth.RoleSuperAdmin, "", "")
	target := seedUser(t, env, "victim@lockout.example", auth.RoleManager, company.ID, "")

	adminToken := loginAs(t, env, "root@example.com")
	targetToken := loginAs(t, env, "victim@lockout.example")

	me := doRequest(t, env, http.MethodGet, "/api/v1/auth/me", targetToken, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("me before deactivation = %d", me.Code)
	}

	patch := doRequest(t, env, http.MethodPatch, "/api/v1/users/"+target.ID, adminToken, map[string]any{
		"is_active": false,
	})
	if patch.Code != http.StatusOK {
		t.Fatalf("deactivation status = %d, body %s", patch.Code, patch.Body.String())
	}

	// Sessions are revoked with the flag, not just future logins.
	me = doRequest(t, env, http.MethodGet, "/api/v1/auth/me", targetToken, nil)
	if me.Code != http.StatusUnauthorized {
		t.Fatalf("me after deactivation = %d, want 401", me.Code)
	}

	login := doRequest(t, env, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":    "victim@lockout.example",
		"password": testPassword,
	})
	if login.Code != http.StatusUnauthorized {
		t.Fatalf("login while inactive = %d, want 401", login.Code)
	}
	if code := errorCode(t, login); code != ErrCodeInvalidCredentials {
		t.Errorf("login while inactive error = %q", code)
	}
}

func TestUsers_CompanyAdminScope(t *testing.T) {
	env := newTestEnv(t)
	companyA := seedCompany(t, env, "Alpha Ltd")
	companyB := seedCompany(t, env, "Beta Ltd")
	seedUser(t, env, "admin@alpha.example", auth.RoleCompanyAdmin, companyA.ID, "")
	outsider := seedUser(t, env, "staff@beta.example", auth.RoleManager, companyB.ID, "")
	token := loginAs(t, env, "admin@alpha.example")

	t.Run("create inside own company", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodPost, "/api/v1/users", token, map[string]any{
			"email":      "new@alpha.example",
			"password":   testPassword,
			"role":       "manager",
			"company_id": companyA.ID,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("create in foreign company is refused", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodPost, "/api/v1/users", token, map[string]any{
			"email":      "intruder@beta.example",
			"password":   testPassword,
			"role":       "manager",
			"company_id": companyB.ID,
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("cannot mint super admins", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodPost, "/api/v1/users", token, map[string]any{
			"email":    "sneaky@alpha.example",
			"password": testPassword,
			"role":     "super_admin",
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("listing is pinned to own company", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodGet, "/api/v1/users", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var listing struct {
			Users []auth.User `json:"users"`
		}
		decodeBody(t, rec, &listing)
		for _, u := range listing.Users {
			if u.CompanyID != companyA.ID {
				t.Errorf("listing leaked user %s from company %q", u.Email, u.CompanyID)
			}
		}
	})

	t.Run("foreign company filter is refused", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodGet, "/api/v1/users?company_id="+companyB.ID, token, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("foreign user is invisible", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodGet, "/api/v1/users/"+outsider.ID, token, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})
}

func TestUsers_SelfModificationGuard(t *testing.T) {
	env := newTestEnv(t)
	company := seedCompany(t, env, "Self Ltd")
	admin := seedUser(t, env, "admin@self.example", auth.RoleCompanyAdmin, company.ID, "")
	token := loginAs(t, env, "admin@self.example")

	t.Run("own role", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodPatch, "/api/v1/users/"+admin.ID, token, map[string]any{
			"role": "manager",
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("own deactivation", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodPatch, "/api/v1/users/"+admin.ID, token, map[string]any{
			"is_active": false,
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("own deletion", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodDelete, "/api/v1/users/"+admin.ID, token, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})
}

func TestUsers_RoleGate(t *testing.T) {
	env := newTestEnv(t)
	company := seedCompany(t, env, "Gate Ltd")
	seedUser(t, env, "manager@gate.example", auth.RoleManager, company.ID, "")
	token := loginAs(t, env, "manager@gate.example")

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/users"},
		{http.MethodPost, "/api/v1/users"},
		{http.MethodGet, "/api/v1/companies"},
		{http.MethodGet, "/api/v1/audit"},
	} {
		rec := doRequest(t, env, tc.method, tc.path, token, nil)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s as manager = %d, want 403", tc.method, tc.path, rec.Code)
		}
	}
}

func TestUsers_Validation(t *testing.T) {
	env := newTestEnv(t)
	company := seedCompany(t, env, "Valid Ltd")
	seedUser(t, env, "root@example.com", auth.RoleSuperAdmin, "", "")
	token := loginAs(t, env, "root@example.com")

	for name, body := range map[string]map[string]any{
		"missing email":    {"password": testPassword},
		"missing password": {"email": "a@example.com"},
		"malformed email":  {"email": "not-an-email", "password": testPassword},
		"short password":   {"email": "a@example.com", "password": "short"},
		"unknown role":     {"email": "a@example.com", "password": testPassword, "role": "wizard"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := doRequest(t, env, http.MethodPost, "/api/v1/users", token, body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}

	t.Run("super admin with tenant scope", func(t *testing.T) {
		rec := doRequest(t, env, http.MethodPost, "/api/v1/users", token, map[string]any{
			"email":      "scoped@example.com",
			"password":   testPassword,
			"role":       "super_admin",
			"company_id": company.ID,
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if code := errorCode(t, rec); code != ErrCodeValidation {
			t.Errorf("error code = %q", code)
		}
	})
}
