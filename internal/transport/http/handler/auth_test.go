package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fleetrent/authcore/internal/application/auth"
	"github.com/fleetrent/authcore/internal/domain"
	jwtinfra "github.com/fleetrent/authcore/internal/infrastructure/jwt"
	"github.com/fleetrent/authcore/internal/pkg/identity"
)

// --- mock auth service ---

type mockAuthService struct{ mock.Mock }

func (m *mockAuthService) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.SignUpResult, error) {
	args := m.Called(ctx, req)
	if r, _ := args.Get(0).(*auth.SignUpResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockAuthService) SignIn(ctx context.Context, req auth.SignInRequest) (*auth.SignInResult, error) {
	args := m.Called(ctx, req)
	if r, _ := args.Get(0).(*auth.SignInResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockAuthService) Refresh(ctx context.Context, userID, jti, refreshSecret string) (*auth.SignInResult, error) {
	args := m.Called(ctx, userID, jti, refreshSecret)
	if r, _ := args.Get(0).(*auth.SignInResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockAuthService) ConfirmEmail(ctx context.Context, userID, jti, code string) error {
	return m.Called(ctx, userID, jti, code).Error(0)
}
func (m *mockAuthService) ResendVerificationCode(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}
func (m *mockAuthService) SendResetCode(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}
func (m *mockAuthService) VerifyResetCode(ctx context.Context, userID, jti, code string) (string, error) {
	args := m.Called(ctx, userID, jti, code)
	return args.String(0), args.Error(1)
}
func (m *mockAuthService) ResetPassword(ctx context.Context, userID, jti, newPassword string) error {
	return m.Called(ctx, userID, jti, newPassword).Error(0)
}
func (m *mockAuthService) Logout(ctx context.Context, jti string) error {
	return m.Called(ctx, jti).Error(0)
}
func (m *mockAuthService) LogoutAll(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}
func (m *mockAuthService) RequestPhoneConfirmation(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}
func (m *mockAuthService) VerifyPhoneCode(ctx context.Context, userID, code string) error {
	return m.Called(ctx, userID, code).Error(0)
}

func claimsCtxRequest(method, target, body string, claims *jwtinfra.Claims) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if claims != nil {
		r = r.WithContext(identity.WithClaims(r.Context(), claims))
	}
	return r
}

// --- SignUp ---

func TestSignUp_Created(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("SignUp", mock.Anything, auth.SignUpRequest{Email: "a@b.com", Password: "password123"}).
		Return(&auth.SignUpResult{VerificationToken: "ver-jwt"}, nil)

	rr := httptest.NewRecorder()
	NewAuthHandler(svc).SignUp(rr, claimsCtxRequest(http.MethodPost, "/v1/sign-up",
		`{"email":"a@b.com","password":"password123"}`, nil))

	assert.Equal(t, http.StatusCreated, rr.Code)
	var env TokenEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Equal(t, "ver-jwt", env.Token)
}

func TestSignUp_InvalidBody(t *testing.T) {
	rr := httptest.NewRecorder()
	NewAuthHandler(&mockAuthService{}).SignUp(rr,
		claimsCtxRequest(http.MethodPost, "/v1/sign-up", "{not json", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSignUp_ValidationFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	NewAuthHandler(&mockAuthService{}).SignUp(rr,
		claimsCtxRequest(http.MethodPost, "/v1/sign-up", `{"email":"nope","password":"x"}`, nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestSignUp_Conflict(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("SignUp", mock.Anything, mock.Anything).Return(nil, auth.ErrEmailExists)

	rr := httptest.NewRecorder()
	NewAuthHandler(svc).SignUp(rr, claimsCtxRequest(http.MethodPost, "/v1/sign-up",
		`{"email":"a@b.com","password":"password123"}`, nil))

	assert.Equal(t, http.StatusConflict, rr.Code)
}

// --- SignIn ---

func TestSignIn_OK(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("SignIn", mock.Anything, auth.SignInRequest{Email: "a@b.com", Password: "password123"}).
		Return(&auth.SignInResult{
			Bearer:        "jwt",
			RefreshSecret: "secret",
			User:          &domain.User{UserID: "u1", Email: "a@b.com", Role: domain.RoleUser},
		}, nil)

	rr := httptest.NewRecorder()
	NewAuthHandler(svc).SignIn(rr, claimsCtxRequest(http.MethodPost, "/v1/sign-in",
		`{"email":"a@b.com","password":"password123"}`, nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var env AuthEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Equal(t, "jwt", env.Bearer)
	assert.Equal(t, "secret", env.RefreshToken)
	require.NotNil(t, env.User)
	assert.Equal(t, "u1", env.User.UserID)
}

func TestSignIn_Unauthorized(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("SignIn", mock.Anything, mock.Anything).Return(nil, domain.ErrUnauthorized)

	rr := httptest.NewRecorder()
	NewAuthHandler(svc).SignIn(rr, claimsCtxRequest(http.MethodPost, "/v1/sign-in",
		`{"email":"a@b.com","password":"wrong"}`, nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// --- Refresh ---

func TestRefresh_OK(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("Refresh", mock.Anything, "u1", "jti-1", "secret").
		Return(&auth.SignInResult{Bearer: "jwt2", RefreshSecret: "secret2"}, nil)

	claims := &jwtinfra.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ID: "jti-1"}}
	req := claimsCtxRequest(http.MethodPost, "/v1/sessions/refresh", "", claims)
	req.Header.Set("X-Refresh-Token", "secret")

	rr := httptest.NewRecorder()
	NewAuthHandler(svc).Refresh(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var env AuthEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Equal(t, "jwt2", env.Bearer)
}

func TestRefresh_MissingSecret(t *testing.T) {
	claims := &jwtinfra.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ID: "jti-1"}}
	rr := httptest.NewRecorder()
	NewAuthHandler(&mockAuthService{}).Refresh(rr,
		claimsCtxRequest(http.MethodPost, "/v1/sessions/refresh", "", claims))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// --- Logout ---

func TestLogout_UsesJTIFromClaims(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("Logout", mock.Anything, "jti-1").Return(nil)

	claims := &jwtinfra.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ID: "jti-1"}}
	rr := httptest.NewRecorder()
	NewAuthHandler(svc).Logout(rr, claimsCtxRequest(http.MethodPost, "/v1/sessions/logout", "", claims))

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

// --- password recovery handlers ---

func TestPasswordRecoveryRequest_ReturnsFlowToken(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("SendResetCode", mock.Anything, "a@b.com").Return("reset-jwt", nil)

	rr := httptest.NewRecorder()
	NewPasswordRecoveryHandler(svc).Request(rr,
		claimsCtxRequest(http.MethodPost, "/v1/password-recovery/request", `{"email":"a@b.com"}`, nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var env TokenEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Equal(t, "reset-jwt", env.Token)
}

func TestPasswordRecoveryValidateCode_AdvancesStage(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("VerifyResetCode", mock.Anything, "u1", "jti-r1", "123456").Return("verified-jwt", nil)

	claims := &jwtinfra.Claims{
		IsResetToken:     true,
		ResetTokenStage:  string(domain.StageAwaitingVerification),
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ID: "jti-r1"},
	}
	rr := httptest.NewRecorder()
	NewPasswordRecoveryHandler(svc).ValidateCode(rr,
		claimsCtxRequest(http.MethodPost, "/v1/password-recovery/validate-code", `{"code":"123456"}`, claims))

	assert.Equal(t, http.StatusOK, rr.Code)
	var env TokenEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Equal(t, "verified-jwt", env.Token)
}

func TestPasswordRecoveryValidateCode_BadCodeFormat(t *testing.T) {
	claims := &jwtinfra.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ID: "jti-r1"}}
	rr := httptest.NewRecorder()
	NewPasswordRecoveryHandler(&mockAuthService{}).ValidateCode(rr,
		claimsCtxRequest(http.MethodPost, "/v1/password-recovery/validate-code", `{"code":"12"}`, claims))

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestPasswordRecoveryChangePassword_InvalidCodeAnswer(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("ResetPassword", mock.Anything, "u1", "jti-r2", "newpassword1").
		Return(domain.ErrBadRequest)

	claims := &jwtinfra.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ID: "jti-r2"}}
	rr := httptest.NewRecorder()
	NewPasswordRecoveryHandler(svc).ChangePassword(rr,
		claimsCtxRequest(http.MethodPost, "/v1/password-recovery/change-password", `{"password":"newpassword1"}`, claims))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// --- email confirm ---

func TestEmailConfirmValidateCode_OK(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("ConfirmEmail", mock.Anything, "u1", "jti-v", "123456").Return(nil)

	claims := &jwtinfra.Claims{
		IsVerificationToken: true,
		RegisteredClaims:    jwt.RegisteredClaims{Subject: "u1", ID: "jti-v"},
	}
	rr := httptest.NewRecorder()
	NewEmailConfirmHandler(svc).ValidateCode(rr,
		claimsCtxRequest(http.MethodPost, "/v1/confirm-email/validate-code", `{"code":"123456"}`, claims))

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestEmailConfirmResend_AlwaysOKForValidEmail(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("ResendVerificationCode", mock.Anything, "ghost@b.com").Return(nil)

	rr := httptest.NewRecorder()
	NewEmailConfirmHandler(svc).Resend(rr,
		claimsCtxRequest(http.MethodPost, "/v1/confirm-email/resend", `{"email":"ghost@b.com"}`, nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}
