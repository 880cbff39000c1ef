package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/perch-irc/perch/internal/auth"
	"github.com/perch-irc/perch/internal/link"
	"github.com/perch-irc/perch/internal/plugin"
	"github.com/perch-irc/perch/internal/state"
)

// fakePlugins is an in-memory PluginManager.
type fakePlugins struct {
	infos    []plugin.Info
	unloaded []string
}

func (f *fakePlugins) List() []plugin.Info { return f.infos }

func (f *fakePlugins) Load(path string) (plugin.Handle, error) {
	h := plugin.Handle{ID: uuid.New(), Name: "loaded"}
	f.infos = append(f.infos, plugin.Info{Handle: h, Path: path})
	return h, nil
}

func (f *fakePlugins) Unload(name string) error {
	for i, info := range f.infos {
		if info.Name == name {
			f.infos = append(f.infos[:i], f.infos[i+1:]...)
			f.unloaded = append(f.unloaded, name)
			return nil
		}
	}
	return plugin.ErrUnknownPlugin
}

func (f *fakePlugins) Reload(name string) (plugin.Handle, error) {
	for i, info := range f.infos {
		if info.Name == name {
			f.infos[i].Generation++
			return f.infos[i].Handle, nil
		}
	}
	return plugin.Handle{}, plugin.ErrUnknownPlugin
}

func newTestRouter(t *testing.T, plugins *fakePlugins) (http.Handler, *auth.Service, *state.Store) {
	t.Helper()

	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	authService := auth.NewService(map[string]string{"admin": hash}, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})

	st := state.NewStore(state.Server{ID: "00A", Name: "perch.example", Description: "test node"})

	disabledLogger := zerolog.New(nil)
	router := NewRouter(Deps{
		Auth:      authService,
		Queries:   st,
		LinkState: func() link.State { return link.Synced },
		Plugins:   plugins,
	}, &disabledLogger)
	return router, authService, st
}

// login obtains a session token through the API.
func login(t *testing.T, handler http.Handler, operator, password string) string {
	t.Helper()

	body, _ := json.Marshal(LoginRequest{Operator: operator, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("login: status %d: %s", resp.Code, resp.Body.String())
	}

	var ar AuthResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &ar); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	return ar.Token
}

func TestLoginAndStatus(t *testing.T) {
	handler, _, st := newTestRouter(t, &fakePlugins{})

	if _, err := st.IntroduceServer(state.Server{ID: "1AA", Name: "alpha.example", Parent: "00A", Hops: 1}); err != nil {
		t.Fatalf("introduce server: %v", err)
	}
	if _, err := st.IntroduceUser(state.User{ID: "1AAAAAA", Nick: "alice", Server: "1AA", TS: 100}); err != nil {
		t.Fatalf("introduce user: %v", err)
	}

	token := login(t, handler, "admin", "hunter2")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status: %d: %s", resp.Code, resp.Body.String())
	}
	var sr StatusResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &sr); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if sr.Server != "perch.example" || sr.SID != "00A" {
		t.Errorf("identity = %s/%s", sr.Server, sr.SID)
	}
	if sr.Link != "synced" {
		t.Errorf("link = %q, want synced", sr.Link)
	}
	if sr.Servers != 1 || sr.Users != 1 || sr.Channels != 0 {
		t.Errorf("counters = %d/%d/%d", sr.Servers, sr.Users, sr.Channels)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	handler, _, _ := newTestRouter(t, &fakePlugins{})

	body := bytes.NewBufferString(`{"operator":"admin","password":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/login", body)
	req.Header.Set("Content-Type", "application/json")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", resp.Code)
	}
}

func TestStatusRequiresToken(t *testing.T) {
	handler, _, _ := newTestRouter(t, &fakePlugins{})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 for garbage token, got %d", resp.Code)
	}
}

func TestPluginLifecycleEndpoints(t *testing.T) {
	plugins := &fakePlugins{infos: []plugin.Info{{
		Handle: plugin.Handle{ID: uuid.New(), Name: "greeter"},
		Path:   "/plugins/greeter",
		Status: plugin.StatusActive,
	}}}
	handler, _, _ := newTestRouter(t, plugins)
	token := login(t, handler, "admin", "hunter2")

	// List.
	req := httptest.NewRequest(http.MethodGet, "/api/plugins", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("list: %d: %s", resp.Code, resp.Body.String())
	}
	var listed []PluginResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &listed); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(listed) != 1 || listed[0].Name != "greeter" || listed[0].Status != "active" {
		t.Errorf("listed = %+v", listed)
	}

	// Reload bumps the generation.
	req = httptest.NewRequest(http.MethodPost, "/api/plugins/greeter/reload", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("reload: %d: %s", resp.Code, resp.Body.String())
	}
	if plugins.infos[0].Generation != 1 {
		t.Errorf("generation = %d, want 1", plugins.infos[0].Generation)
	}

	// Unload.
	req = httptest.NewRequest(http.MethodDelete, "/api/plugins/greeter", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("unload: %d: %s", resp.Code, resp.Body.String())
	}

	// Unload again is a 404.
	req = httptest.NewRequest(http.MethodDelete, "/api/plugins/greeter", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("second unload: %d", resp.Code)
	}
}
