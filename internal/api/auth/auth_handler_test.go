package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-user-identity/app/observability/metrics"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Signup(ctx context.Context, req SignupRequest) (*types.User, error) {
	args := m.Called(ctx, req)
	var u *types.User
	if args.Get(0) != nil {
		u = args.Get(0).(*types.User)
	}
	return u, args.Error(1)
}

func (m *MockAuthService) Signin(ctx context.Context, usernameOrEmail, password string) (*types.User, error) {
	args := m.Called(ctx, usernameOrEmail, password)
	var u *types.User
	if args.Get(0) != nil {
		u = args.Get(0).(*types.User)
	}
	return u, args.Error(1)
}

type fakeSessionBinder struct {
	loginCalls  int
	logoutCalls int
	loginErr    error
}

func (f *fakeSessionBinder) Login(_ http.ResponseWriter, _ *http.Request, _ *types.User) error {
	f.loginCalls++
	return f.loginErr
}

func (f *fakeSessionBinder) Logout(_ http.ResponseWriter) {
	f.logoutCalls++
}

func newTestAuthHandler(svc AuthService, sessions SessionBinder) *AuthHandler {
	metrics.InitAppMetrics()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthHandler(svc, sessions, logger)
}

func postJSON(t *testing.T, handler http.HandlerFunc, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestAuthHandler_Signup(t *testing.T) {
	validReq := SignupRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "s3cret-enough!",
	}

	t.Run("success binds a session and returns the sanitized user", func(t *testing.T) {
		mockSvc := new(MockAuthService)
		sessions := &fakeSessionBinder{}
		handler := newTestAuthHandler(mockSvc, sessions)

		created := &types.User{Username: "alice", Provider: types.LocalProvider, PasswordHash: "digest", PasswordSalt: "salt"}
		mockSvc.On("Signup", mock.Anything, validReq).Return(created, nil).Once()

		rr := postJSON(t, handler.Signup, "/api/auth/signup", validReq)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, 1, sessions.loginCalls)
		assert.NotContains(t, rr.Body.String(), "digest")

		var resp UserResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "alice", resp.User.Username)
		mockSvc.AssertExpectations(t)
	})

	t.Run("missing fields fail before the service runs", func(t *testing.T) {
		mockSvc := new(MockAuthService)
		sessions := &fakeSessionBinder{}
		handler := newTestAuthHandler(mockSvc, sessions)

		rr := postJSON(t, handler.Signup, "/api/auth/signup", SignupRequest{Username: "alice"})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Zero(t, sessions.loginCalls)
		mockSvc.AssertNotCalled(t, "Signup")
	})

	t.Run("validation errors map to 422", func(t *testing.T) {
		mockSvc := new(MockAuthService)
		sessions := &fakeSessionBinder{}
		handler := newTestAuthHandler(mockSvc, sessions)

		mockSvc.On("Signup", mock.Anything, validReq).Return(nil, types.ErrValidation).Once()

		rr := postJSON(t, handler.Signup, "/api/auth/signup", validReq)

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Zero(t, sessions.loginCalls)
	})

	t.Run("conflicts map to 409", func(t *testing.T) {
		mockSvc := new(MockAuthService)
		sessions := &fakeSessionBinder{}
		handler := newTestAuthHandler(mockSvc, sessions)

		mockSvc.On("Signup", mock.Anything, validReq).Return(nil, types.ErrConflict).Once()

		rr := postJSON(t, handler.Signup, "/api/auth/signup", validReq)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		mockSvc := new(MockAuthService)
		sessions := &fakeSessionBinder{}
		handler := newTestAuthHandler(mockSvc, sessions)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewReader([]byte("{not json")))
		rr := httptest.NewRecorder()
		handler.Signup(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockSvc.AssertNotCalled(t, "Signup")
	})
}

func TestAuthHandler_Signin(t *testing.T) {
	validReq := SigninRequest{UsernameOrEmail: "alice", Password: "s3cret-enough!"}

	t.Run("success binds a session", func(t *testing.T) {
		mockSvc := new(MockAuthService)
		sessions := &fakeSessionBinder{}
		handler := newTestAuthHandler(mockSvc, sessions)

		u := &types.User{Username: "alice", Provider: types.LocalProvider}
		mockSvc.On("Signin", mock.Anything, "alice", "s3cret-enough!").Return(u, nil).Once()

		rr := postJSON(t, handler.Signin, "/api/auth/signin", validReq)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 1, sessions.loginCalls)

		var resp UserResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "alice", resp.User.Username)
		mockSvc.AssertExpectations(t)
	})

	t.Run("bad credentials map to 401", func(t *testing.T) {
		mockSvc := new(MockAuthService)
		sessions := &fakeSessionBinder{}
		handler := newTestAuthHandler(mockSvc, sessions)

		mockSvc.On("Signin", mock.Anything, "alice", "s3cret-enough!").
			Return(nil, types.ErrUnauthenticated).Once()

		rr := postJSON(t, handler.Signin, "/api/auth/signin", validReq)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Zero(t, sessions.loginCalls)
	})

	t.Run("missing credentials fail before the service runs", func(t *testing.T) {
		mockSvc := new(MockAuthService)
		sessions := &fakeSessionBinder{}
		handler := newTestAuthHandler(mockSvc, sessions)

		rr := postJSON(t, handler.Signin, "/api/auth/signin", SigninRequest{})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockSvc.AssertNotCalled(t, "Signin")
	})
}

func TestAuthHandler_Signout(t *testing.T) {
	mockSvc := new(MockAuthService)
	sessions := &fakeSessionBinder{}
	handler := newTestAuthHandler(mockSvc, sessions)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	rr := httptest.NewRecorder()
	handler.Signout(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, sessions.logoutCalls)
}
