package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	passwordLength   = 25
	signingKeyLength = 32
	tokenLifetime    = 12 * time.Hour

	// BootstrapUsername is the admin account created on the first run.
	BootstrapUsername = "admin"
)

var (
	// ErrEmptyUsers is returned when the user store is nil.
	ErrEmptyUsers = errors.New("user store cannot be nil")
	// ErrEmptyValidator is returned when the validator is nil.
	ErrEmptyValidator = errors.New("validator cannot be nil")
	// ErrEmptyLogger is returned when the logger is nil.
	ErrEmptyLogger = errors.New("logger cannot be nil")
)

// Service issues and verifies Bearer tokens for the admin endpoints.
type Service struct {
	users      *Users
	validator  *validator.Validate
	logger     *log.Logger
	signingKey []byte
}

// New creates a new Service with a random per-process signing key, so
// tokens don't outlive the server.
func New(users *Users, validator *validator.Validate, logger *log.Logger) (*Service, error) {
	if users == nil {
		return nil, ErrEmptyUsers
	}
	if validator == nil {
		return nil, ErrEmptyValidator
	}
	if logger == nil {
		return nil, ErrEmptyLogger
	}

	key := make([]byte, signingKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	return &Service{
		users:      users,
		validator:  validator,
		logger:     logger,
		signingKey: key,
	}, nil
}

// SignInUser is a structure which is parsed from a POST-request
// processed by SignIn.
type SignInUser struct {
	Username string `json:"username" validate:"required,min=4,max=20,alphanum"`
	Password string `json:"password" validate:"required"`
}

func generateRandomPassword() (password string, err error) {
	passwordBytes := make([]byte, passwordLength)
	if _, err = rand.Read(passwordBytes); err != nil {
		return
	}
	password = base64.URLEncoding.EncodeToString(passwordBytes)
	return
}

// Bootstrap ensures at least one admin account exists. On an empty store
// it creates BootstrapUsername with a fresh random password and returns
// that password so main can print it once.
func (s *Service) Bootstrap() (password string, created bool, err error) {
	empty, err := s.users.Empty()
	if err != nil || !empty {
		return "", false, err
	}

	password, err = generateRandomPassword()
	if err != nil {
		return "", false, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", false, err
	}

	if err = s.users.InsertUser(BootstrapUsername, string(hash)); err != nil {
		return "", false, err
	}
	return password, true, nil
}

// SignIn checks the credentials and replies with a signed token.
func (s *Service) SignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var user SignInUser
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := s.validator.Struct(user); err != nil {
		for _, e := range err.(validator.ValidationErrors) {
			s.logger.Error("Invalid sign-in payload", "err", e)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	hash, err := s.users.GetHash(user.Username)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(user.Password)); err != nil {
		s.logger.Warn("Wrong password", "username", user.Username)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   user.Username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenLifetime)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		s.logger.Error("Failed to sign token", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(map[string]string{"token": signed}); err != nil {
		s.logger.Error("Failed to write token", "err", err)
	}
}

// ChangePasswordUser is a structure which is parsed from a POST-request
// processed by ChangePassword.
type ChangePasswordUser struct {
	Username    string `json:"username" validate:"required,min=4,max=20,alphanum"`
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

// ChangePassword replaces the password of a user after checking the old
// one, so the bootstrap password doesn't have to stay around.
func (s *Service) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var user ChangePasswordUser
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := s.validator.Struct(user); err != nil {
		for _, e := range err.(validator.ValidationErrors) {
			s.logger.Error("Invalid change-password payload", "err", e)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	hash, err := s.users.GetHash(user.Username)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(user.OldPassword)); err != nil {
		s.logger.Warn("Wrong password", "username", user.Username)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(user.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := s.users.ChangePassword(user.Username, string(newHash)); err != nil {
		s.logger.Error("Failed to change password", "username", user.Username, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s.logger.Info("Password changed", "username", user.Username)
	w.WriteHeader(http.StatusNoContent)
}

// DeleteForm is a structure which is parsed from a DELETE-request
// processed by DeleteUserHandler.
type DeleteForm struct {
	Username string `json:"username" validate:"required,min=4,max=20,alphanum"`
}

// DeleteUserHandler handles removing a user from the credentials store.
func (s *Service) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Only DELETE requests are supported", http.StatusMethodNotAllowed)
		return
	}

	var form DeleteForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, "Couldn't parse JSON", http.StatusBadRequest)
		return
	}

	if err := s.validator.Struct(form); err != nil {
		http.Error(w, "Invalid username", http.StatusBadRequest)
		return
	}

	if err := s.users.DeleteUser(form.Username); err != nil {
		http.Error(w, "User doesn't exist", http.StatusNotFound)
		return
	}

	s.logger.Info("User deleted", "username", form.Username)
	w.WriteHeader(http.StatusNoContent)
}

// WithAuth guards a handler with a Bearer token check.
func (s *Service) WithAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return s.signingKey, nil
		})
		if err != nil || !token.Valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}
