package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("fan-secret", 24)
	userID := uuid.New()

	token, err := svc.GenerateToken(userID, "fan@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "fan@example.com", claims.Email)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("fan-secret", 24)
	good, err := svc.GenerateToken(uuid.New(), "fan@example.com")
	require.NoError(t, err)

	expired, err := NewJWTService("fan-secret", -1).GenerateToken(uuid.New(), "fan@example.com")
	require.NoError(t, err)

	otherSecret, err := NewJWTService("another-secret", 24).GenerateToken(uuid.New(), "fan@example.com")
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: uuid.New()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "invalid.token.here"},
		{"empty", ""},
		{"expired", expired},
		{"wrong secret", otherSecret},
		{"alg none", unsigned},
		{"tampered payload", tampered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTService_RejectsMissingUser(t *testing.T) {
	svc := NewJWTService("fan-secret", 1)
	token, err := svc.GenerateToken(uuid.Nil, "fan@example.com")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
