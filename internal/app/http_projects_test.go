package app

import (
	"net/http"
	"testing"

	"slate/api/internal/store"
)

func TestProjectNotFoundVsForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("usr_owner", "Asha", "asha@example.com")
	env.addUser("usr_outsider", "Bram", "bram@example.com")
	env.addTeam("team_1", "Night Market", "usr_owner")
	env.addProject("proj_1", "Lantern", "team_1")

	// A project that does not exist is 404 for everyone.
	rec := env.do(t, http.MethodGet, "/api/projects/proj_missing", env.bearer(t, "usr_owner"), nil)
	wantCode(t, rec, http.StatusNotFound, "NOT_FOUND")

	// One that exists but is out of reach is 403, never 404.
	rec = env.do(t, http.MethodGet, "/api/projects/proj_1", env.bearer(t, "usr_outsider"), nil)
	wantCode(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = env.do(t, http.MethodGet, "/api/projects/proj_1", env.bearer(t, "usr_owner"), nil)
	wantStatus(t, rec, http.StatusOK)
}

func TestCreateAndListProjects(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("usr_owner", "Asha", "asha@example.com")
	env.addUser("usr_member", "Bram", "bram@example.com")
	env.addTeam("team_1", "Night Market", "usr_owner")
	env.addMember("team_1", "usr_member", "member")

	// Any team member may create projects.
	rec := env.do(t, http.MethodPost, "/api/projects", env.bearer(t, "usr_member"), map[string]any{
		"teamId": "team_1",
		"name":   "Lantern",
	})
	wantStatus(t, rec, http.StatusCreated)
	created := decodeJSON(t, rec)
	if created["name"] != "Lantern" || created["teamId"] != "team_1" {
		t.Fatalf("unexpected create payload: %v", created)
	}

	rec = env.do(t, http.MethodGet, "/api/projects?teamId=team_1", env.bearer(t, "usr_owner"), nil)
	wantStatus(t, rec, http.StatusOK)
	listed := decodeJSON(t, rec)
	projects, _ := listed["projects"].([]any)
	if len(projects) != 1 {
		t.Fatalf("listed %d projects, want 1", len(projects))
	}

	// Non-members cannot list a team's projects.
	env.addUser("usr_outsider", "Cleo", "cleo@example.com")
	rec = env.do(t, http.MethodGet, "/api/projects?teamId=team_1", env.bearer(t, "usr_outsider"), nil)
	wantCode(t, rec, http.StatusForbidden, "FORBIDDEN")

	// Without teamId the list spans every team the caller belongs to.
	rec = env.do(t, http.MethodGet, "/api/projects", env.bearer(t, "usr_member"), nil)
	wantStatus(t, rec, http.StatusOK)
	listed = decodeJSON(t, rec)
	projects, _ = listed["projects"].([]any)
	if len(projects) != 1 {
		t.Fatalf("cross-team list returned %d projects, want 1", len(projects))
	}
}

func TestDeleteProjectOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("usr_owner", "Asha", "asha@example.com")
	env.addUser("usr_member", "Bram", "bram@example.com")
	env.addTeam("team_1", "Night Market", "usr_owner")
	env.addMember("team_1", "usr_member", "member")
	env.addProject("proj_1", "Lantern", "team_1")

	rec := env.do(t, http.MethodDelete, "/api/projects/proj_1", env.bearer(t, "usr_member"), nil)
	wantCode(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = env.do(t, http.MethodDelete, "/api/projects/proj_1", env.bearer(t, "usr_owner"), nil)
	wantStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/api/projects/proj_1", env.bearer(t, "usr_owner"), nil)
	wantCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestTreatmentFieldUpdates(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("usr_owner", "Asha", "asha@example.com")
	env.addTeam("team_1", "Night Market", "usr_owner")
	env.addProject("proj_1", "Lantern", "team_1")
	bearer := env.bearer(t, "usr_owner")

	rec := env.do(t, http.MethodPut, "/api/projects/proj_1/treatment", bearer, map[string]string{
		"tagline": "A city that only wakes at night",
	})
	wantStatus(t, rec, http.StatusOK)

	// Later updates touch only the submitted fields.
	rec = env.do(t, http.MethodPut, "/api/projects/proj_1/treatment", bearer, map[string]string{
		"synopsis": "Vendors, ghosts and a missing lantern.",
	})
	wantStatus(t, rec, http.StatusOK)
	saved := decodeJSON(t, rec)
	if saved["tagline"] != "A city that only wakes at night" {
		t.Fatalf("tagline lost on partial update: %v", saved)
	}

	rec = env.do(t, http.MethodGet, "/api/projects/proj_1/treatment", bearer, nil)
	wantStatus(t, rec, http.StatusOK)
	loaded := decodeJSON(t, rec)
	if loaded["synopsis"] != "Vendors, ghosts and a missing lantern." {
		t.Fatalf("unexpected treatment: %v", loaded)
	}

	// Unknown fields are rejected and named in the details.
	rec = env.do(t, http.MethodPut, "/api/projects/proj_1/treatment", bearer, map[string]string{
		"logline": "nope",
	})
	payload := wantCode(t, rec, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	details, _ := payload["details"].([]any)
	if len(details) != 1 || details[0] != "logline" {
		t.Fatalf("details = %v, want [logline]", details)
	}
}

func TestBusinessDetailsFieldUpdates(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("usr_owner", "Asha", "asha@example.com")
	env.addTeam("team_1", "Night Market", "usr_owner")
	env.addProject("proj_1", "Lantern", "team_1")
	bearer := env.bearer(t, "usr_owner")

	rec := env.do(t, http.MethodPut, "/api/projects/proj_1/business", bearer, map[string]string{
		"targetAudience": "Urban fantasy readers",
		"userNeed":       "A low-stakes nightly escape",
	})
	wantStatus(t, rec, http.StatusOK)
	saved := decodeJSON(t, rec)
	if saved["targetAudience"] != "Urban fantasy readers" {
		t.Fatalf("unexpected business payload: %v", saved)
	}

	rec = env.do(t, http.MethodPut, "/api/projects/proj_1/business", bearer, map[string]string{
		"revenue": "lots",
	})
	wantCode(t, rec, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestProjectStatus(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("usr_owner", "Asha", "asha@example.com")
	env.addTeam("team_1", "Night Market", "usr_owner")
	env.addProject("proj_1", "Lantern", "team_1")
	bearer := env.bearer(t, "usr_owner")

	rec := env.do(t, http.MethodGet, "/api/projects/proj_1/status", bearer, nil)
	wantStatus(t, rec, http.StatusOK)
	status := decodeJSON(t, rec)
	treatment, _ := status["treatment"].(map[string]any)
	if treatment["isStarted"] != false {
		t.Fatalf("fresh project reports treatment started: %v", status)
	}

	env.do(t, http.MethodPut, "/api/projects/proj_1/treatment", bearer, map[string]string{"tagline": "x"})
	env.do(t, http.MethodPost, "/api/projects/proj_1/specs/design", bearer, nil)
	env.do(t, http.MethodPost, "/api/projects/proj_1/plot-points", bearer, map[string]any{"description": "Opening scene"})

	rec = env.do(t, http.MethodGet, "/api/projects/proj_1/status", bearer, nil)
	wantStatus(t, rec, http.StatusOK)
	status = decodeJSON(t, rec)
	treatment, _ = status["treatment"].(map[string]any)
	design, _ := status["design"].(map[string]any)
	plotPoints, _ := status["plotPoints"].(map[string]any)
	if treatment["hasTagline"] != true || design["isStarted"] != true {
		t.Fatalf("unexpected status: %v", status)
	}
	if plotPoints["count"] != float64(1) || plotPoints["isStarted"] != true {
		t.Fatalf("plot points status = %v", plotPoints)
	}
}

func TestMarkSpecSectionValidation(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("usr_owner", "Asha", "asha@example.com")
	env.addTeam("team_1", "Night Market", "usr_owner")
	env.addProject("proj_1", "Lantern", "team_1")

	rec := env.do(t, http.MethodPost, "/api/projects/proj_1/specs/marketing", env.bearer(t, "usr_owner"), nil)
	wantCode(t, rec, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestOrderedItemsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("usr_owner", "Asha", "asha@example.com")
	env.addTeam("team_1", "Night Market", "usr_owner")
	env.addProject("proj_1", "Lantern", "team_1")
	bearer := env.bearer(t, "usr_owner")

	rec := env.do(t, http.MethodPost, "/api/projects/proj_1/user-scenarios", bearer, map[string]any{"description": "First visit"})
	wantStatus(t, rec, http.StatusCreated)
	first := decodeJSON(t, rec)
	firstID, _ := first["id"].(string)

	rec = env.do(t, http.MethodPost, "/api/projects/proj_1/user-scenarios", bearer, map[string]any{"description": "Return customer"})
	wantStatus(t, rec, http.StatusCreated)
	second := decodeJSON(t, rec)
	secondID, _ := second["id"].(string)

	// Blank descriptions are rejected.
	rec = env.do(t, http.MethodPost, "/api/projects/proj_1/user-scenarios", bearer, map[string]any{"description": "  "})
	wantCode(t, rec, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rec = env.do(t, http.MethodPost, "/api/projects/proj_1/user-scenarios/reorder", bearer, map[string]any{
		"ids": []string{secondID, firstID},
	})
	wantStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/api/projects/proj_1/user-scenarios", bearer, nil)
	wantStatus(t, rec, http.StatusOK)
	listed := decodeJSON(t, rec)
	items, _ := listed["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("listed %d items, want 2", len(items))
	}
	head, _ := items[0].(map[string]any)
	if head["id"] != secondID {
		t.Fatalf("reorder not applied, first item is %v", head)
	}

	rec = env.do(t, http.MethodPut, "/api/projects/proj_1/user-scenarios/"+firstID, bearer, map[string]any{"description": "First-time visitor"})
	wantStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodPut, "/api/projects/proj_1/user-scenarios/itm_missing", bearer, map[string]any{"description": "x"})
	wantCode(t, rec, http.StatusNotFound, "NOT_FOUND")

	rec = env.do(t, http.MethodDelete, "/api/projects/proj_1/user-scenarios/"+firstID, bearer, nil)
	wantStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodDelete, "/api/projects/proj_1/user-scenarios/"+firstID, bearer, nil)
	wantCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestOrderedKindsAreScoped(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("usr_owner", "Asha", "asha@example.com")
	env.addTeam("team_1", "Night Market", "usr_owner")
	env.addProject("proj_1", "Lantern", "team_1")
	bearer := env.bearer(t, "usr_owner")

	rec := env.do(t, http.MethodPost, "/api/projects/proj_1/plot-points", bearer, map[string]any{"description": "Inciting incident"})
	wantStatus(t, rec, http.StatusCreated)

	// Plot points never leak into the scenario list.
	rec = env.do(t, http.MethodGet, "/api/projects/proj_1/user-scenarios", bearer, nil)
	wantStatus(t, rec, http.StatusOK)
	listed := decodeJSON(t, rec)
	if items, _ := listed["items"].([]any); len(items) != 0 {
		t.Fatalf("scenario list holds %d items, want 0", len(items))
	}

	// Unknown kinds fall through to 404.
	rec = env.do(t, http.MethodGet, "/api/projects/proj_1/milestones", bearer, nil)
	wantCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestFeedbackLog(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("usr_owner", "Asha", "asha@example.com")
	env.addTeam("team_1", "Night Market", "usr_owner")
	env.addProject("proj_1", "Lantern", "team_1")
	bearer := env.bearer(t, "usr_owner")

	rec := env.do(t, http.MethodPost, "/api/projects/proj_1/feedback", bearer, map[string]any{
		"sharedItem": "Chapter one draft",
		"platform":   "newsletter",
		"feedback":   "Readers want more of the tea vendor.",
	})
	wantStatus(t, rec, http.StatusCreated)
	created := decodeJSON(t, rec)
	feedbackID, _ := created["id"].(string)
	if feedbackID == "" {
		t.Fatal("feedback create returned no id")
	}

	rec = env.do(t, http.MethodPost, "/api/projects/proj_1/feedback", bearer, map[string]any{"sharedItem": "  "})
	wantCode(t, rec, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rec = env.do(t, http.MethodGet, "/api/projects/proj_1/feedback", bearer, nil)
	wantStatus(t, rec, http.StatusOK)
	listed := decodeJSON(t, rec)
	entries, _ := listed["feedback"].([]any)
	if len(entries) != 1 {
		t.Fatalf("listed %d entries, want 1", len(entries))
	}

	rec = env.do(t, http.MethodDelete, "/api/projects/proj_1/feedback/fbk_missing", bearer, nil)
	wantCode(t, rec, http.StatusNotFound, "NOT_FOUND")

	rec = env.do(t, http.MethodDelete, "/api/projects/proj_1/feedback/"+feedbackID, bearer, nil)
	wantStatus(t, rec, http.StatusOK)
}

func TestAssetsWithoutStorage(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("usr_owner", "Asha", "asha@example.com")
	env.addTeam("team_1", "Night Market", "usr_owner")
	env.addProject("proj_1", "Lantern", "team_1")
	bearer := env.bearer(t, "usr_owner")

	// Listing works without a blob backend; the url degrades to null.
	env.store.mu.Lock()
	env.store.assets["proj_1"] = []store.Asset{{
		ID:        "ast_1",
		ProjectID: "proj_1",
		FileName:  "cover.png",
		FilePath:  "proj_1/ast_1/cover.png",
		FileType:  "image/png",
		SizeBytes: 2048,
	}}
	env.store.mu.Unlock()

	rec := env.do(t, http.MethodGet, "/api/projects/proj_1/assets", bearer, nil)
	wantStatus(t, rec, http.StatusOK)
	listed := decodeJSON(t, rec)
	items, _ := listed["assets"].([]any)
	if len(items) != 1 {
		t.Fatalf("listed %d assets, want 1", len(items))
	}
	entry, _ := items[0].(map[string]any)
	if entry["url"] != nil {
		t.Fatalf("url = %v, want null without storage", entry["url"])
	}
}

func TestExportRequiresValidFormat(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("usr_owner", "Asha", "asha@example.com")
	env.addTeam("team_1", "Night Market", "usr_owner")
	env.addProject("proj_1", "Lantern", "team_1")

	rec := env.do(t, http.MethodGet, "/api/projects/proj_1/export?format=csv", env.bearer(t, "usr_owner"), nil)
	wantCode(t, rec, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}
