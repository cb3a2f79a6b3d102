package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()

	users := &Users{}
	if err := users.Connect(filepath.Join(t.TempDir(), "users.db"), 0600, nil); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = users.Close() })

	logger := log.New(os.Stdout)
	users.SetLogger(logger)

	s, err := New(users, validator.New(), logger)
	if err != nil {
		t.Fatal(err)
	}

	password, created, err := s.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected the bootstrap user to be created on an empty store")
	}
	return s, password
}

func TestNew(t *testing.T) {
	users := &Users{}
	v := validator.New()
	logger := log.New(os.Stdout)

	tests := []struct {
		name      string
		users     *Users
		validator *validator.Validate
		logger    *log.Logger
		err       error
	}{
		{
			name:      "nil users",
			users:     nil,
			validator: v,
			logger:    logger,
			err:       ErrEmptyUsers,
		},
		{
			name:      "nil validator",
			users:     users,
			validator: nil,
			logger:    logger,
			err:       ErrEmptyValidator,
		},
		{
			name:      "nil logger",
			users:     users,
			validator: v,
			logger:    nil,
			err:       ErrEmptyLogger,
		},
		{
			name:      "all good",
			users:     users,
			validator: v,
			logger:    logger,
			err:       nil,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := New(test.users, test.validator, test.logger)
			if err != test.err {
				t.Errorf("expected %v, got %v", test.err, err)
			}
		})
	}
}

func TestBootstrapRunsOnce(t *testing.T) {
	s, _ := newTestService(t)

	_, created, err := s.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("expected no second bootstrap on a populated store")
	}
}

func signIn(t *testing.T, s *Service, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := strings.NewReader(`{"username": "` + username + `", "password": "` + password + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", body)
	w := httptest.NewRecorder()
	s.SignIn(w, req)
	return w
}

func TestSignIn(t *testing.T) {
	s, password := newTestService(t)

	w := signIn(t, s, BootstrapUsername, password)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["token"] == "" {
		t.Error("expected a token in the response")
	}
}

func TestSignInFailures(t *testing.T) {
	s, password := newTestService(t)

	tests := []struct {
		name     string
		username string
		password string
		status   int
	}{
		{
			name:     "wrong password",
			username: BootstrapUsername,
			password: "guessing",
			status:   http.StatusUnauthorized,
		},
		{
			name:     "unknown user",
			username: "somebody",
			password: password,
			status:   http.StatusUnauthorized,
		},
		{
			name:     "invalid username",
			username: "a",
			password: password,
			status:   http.StatusBadRequest,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if w := signIn(t, s, test.username, test.password); w.Code != test.status {
				t.Errorf("expected %d, got %d", test.status, w.Code)
			}
		})
	}
}

func TestSignInMethodNotAllowed(t *testing.T) {
	s, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/signin", nil)
	w := httptest.NewRecorder()
	s.SignIn(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func changePassword(t *testing.T, s *Service, username, oldPassword, newPassword string) *httptest.ResponseRecorder {
	t.Helper()
	body := strings.NewReader(`{"username": "` + username +
		`", "oldPassword": "` + oldPassword +
		`", "newPassword": "` + newPassword + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/password", body)
	w := httptest.NewRecorder()
	s.ChangePassword(w, req)
	return w
}

func TestChangePassword(t *testing.T) {
	s, password := newTestService(t)
	newPassword := "a-much-better-secret"

	if w := changePassword(t, s, BootstrapUsername, password, newPassword); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	if w := signIn(t, s, BootstrapUsername, password); w.Code != http.StatusUnauthorized {
		t.Errorf("expected the old password to stop working, got %d", w.Code)
	}
	if w := signIn(t, s, BootstrapUsername, newPassword); w.Code != http.StatusOK {
		t.Errorf("expected the new password to work, got %d", w.Code)
	}
}

func TestChangePasswordFailures(t *testing.T) {
	s, password := newTestService(t)

	tests := []struct {
		name        string
		username    string
		oldPassword string
		newPassword string
		status      int
	}{
		{
			name:        "wrong old password",
			username:    BootstrapUsername,
			oldPassword: "guessing",
			newPassword: "a-much-better-secret",
			status:      http.StatusUnauthorized,
		},
		{
			name:        "unknown user",
			username:    "somebody",
			oldPassword: password,
			newPassword: "a-much-better-secret",
			status:      http.StatusUnauthorized,
		},
		{
			name:        "new password too short",
			username:    BootstrapUsername,
			oldPassword: password,
			newPassword: "short",
			status:      http.StatusBadRequest,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := changePassword(t, s, test.username, test.oldPassword, test.newPassword)
			if w.Code != test.status {
				t.Errorf("expected %d, got %d", test.status, w.Code)
			}
		})
	}

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/password", nil)
		w := httptest.NewRecorder()
		s.ChangePassword(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", w.Code)
		}
	})
}

func deleteUser(t *testing.T, s *Service, username string) *httptest.ResponseRecorder {
	t.Helper()
	body := strings.NewReader(`{"username": "` + username + `"}`)
	req := httptest.NewRequest(http.MethodDelete, "/admin/users", body)
	w := httptest.NewRecorder()
	s.DeleteUserHandler(w, req)
	return w
}

func TestDeleteUserHandler(t *testing.T) {
	s, password := newTestService(t)

	if w := deleteUser(t, s, BootstrapUsername); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	if w := signIn(t, s, BootstrapUsername, password); w.Code != http.StatusUnauthorized {
		t.Errorf("expected sign-in to fail after deletion, got %d", w.Code)
	}

	// the user is gone now
	if w := deleteUser(t, s, BootstrapUsername); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second deletion, got %d", w.Code)
	}
}

func TestDeleteUserHandlerMethodNotAllowed(t *testing.T) {
	s, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	w := httptest.NewRecorder()
	s.DeleteUserHandler(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestWithAuth(t *testing.T) {
	s, password := newTestService(t)

	w := signIn(t, s, BootstrapUsername, password)
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}

	guarded := s.WithAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{
			name:   "valid token",
			header: "Bearer " + resp["token"],
			status: http.StatusNoContent,
		},
		{
			name:   "no header",
			header: "",
			status: http.StatusUnauthorized,
		},
		{
			name:   "not a bearer header",
			header: "Basic dXNlcjpwYXNz",
			status: http.StatusUnauthorized,
		},
		{
			name:   "garbage token",
			header: "Bearer not.a.token",
			status: http.StatusUnauthorized,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
			if test.header != "" {
				req.Header.Set("Authorization", test.header)
			}
			w := httptest.NewRecorder()
			guarded(w, req)
			if w.Code != test.status {
				t.Errorf("expected %d, got %d", test.status, w.Code)
			}
		})
	}
}
