package service_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/repository"
	"github.com/mixxson/kidcode2/internal/repository/mocks"
	"github.com/mixxson/kidcode2/internal/service"
)

const testSecret = "authenticator-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims(userID uint) jwt.MapClaims {
	return jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}
}

func assertRejected(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrAuthRejected), "应为认证拒绝错误")
	var authErr *service.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, reason, authErr.Reason)
}

func TestConnectionAuthenticator_Verify_Success(t *testing.T) {
	users := new(mocks.UserRepository)
	auth, err := service.NewConnectionAuthenticator(users, testSecret)
	require.NoError(t, err)

	users.On("FindByID", mock.Anything, uint(7)).
		Return(&domain.User{ID: 7, Username: "ola", DisplayName: "Ola", Role: domain.RoleTeacher}, nil).Once()

	identity, err := auth.Verify(context.Background(), signToken(t, testSecret, validClaims(7)))

	require.NoError(t, err)
	assert.Equal(t, domain.Identity{ID: 7, DisplayName: "Ola", Role: domain.RoleTeacher}, *identity)
	users.AssertExpectations(t)
}

func TestConnectionAuthenticator_Verify_Rejections(t *testing.T) {
	expired := validClaims(7)
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	noExpiry := jwt.MapClaims{"user_id": 7}
	badSubject := jwt.MapClaims{"user_id": "seven", "exp": time.Now().Add(time.Hour).Unix()}

	cases := []struct {
		name       string
		credential string
		reason     string
	}{
		{"empty credential", "", service.ReasonNoCredential},
		{"garbage", "not-a-jwt", service.ReasonMalformedCredential},
		{"wrong signature", signToken(t, "other-secret", validClaims(7)), service.ReasonMalformedCredential},
		{"expired", signToken(t, testSecret, expired), service.ReasonMalformedCredential},
		{"missing expiry", signToken(t, testSecret, noExpiry), service.ReasonMalformedCredential},
		{"non numeric subject", signToken(t, testSecret, badSubject), service.ReasonMalformedCredential},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			users := new(mocks.UserRepository)
			auth, _ := service.NewConnectionAuthenticator(users, testSecret)

			_, err := auth.Verify(context.Background(), tc.credential)

			assertRejected(t, err, tc.reason)
			users.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
		})
	}
}

func TestConnectionAuthenticator_Verify_UnknownSubject(t *testing.T) {
	users := new(mocks.UserRepository)
	auth, _ := service.NewConnectionAuthenticator(users, testSecret)
	users.On("FindByID", mock.Anything, uint(99)).Return(nil, repository.ErrUserNotFound).Once()

	_, err := auth.Verify(context.Background(), signToken(t, testSecret, validClaims(99)))

	assertRejected(t, err, service.ReasonUnknownSubject)
}

func TestConnectionAuthenticator_Verify_DirectoryFailureIsNotRejection(t *testing.T) {
	users := new(mocks.UserRepository)
	auth, _ := service.NewConnectionAuthenticator(users, testSecret)
	users.On("FindByID", mock.Anything, uint(3)).Return(nil, errors.New("connection refused")).Once()

	_, err := auth.Verify(context.Background(), signToken(t, testSecret, validClaims(3)))

	require.Error(t, err)
	assert.False(t, errors.Is(err, service.ErrAuthRejected))
}

func TestExtractCredential(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-query", service.ExtractCredential(r), "查询参数优先")

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", service.ExtractCredential(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, service.ExtractCredential(r))

	assert.Empty(t, service.ExtractCredential(httptest.NewRequest("GET", "/ws", nil)))
}
