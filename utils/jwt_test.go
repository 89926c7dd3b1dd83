package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tieubaoca/docqa-be/types"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	user := &types.User{
		ID:       "u-1",
		Username: "ana",
		FullName: "Ana Test",
		Role:     types.USER_ROLE_USER,
	}
	token, err := GenerateAccessToken(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.ID)
	assert.Equal(t, user.Username, claims.Username)
	assert.Equal(t, user.Role, claims.Role)

	got := UserFromClaims(claims)
	assert.Equal(t, user.ID, got.ID)
	assert.Empty(t, got.Password)
}

func TestValidateAccessTokenRejectsGarbage(t *testing.T) {
	_, err := ValidateAccessToken("not-a-token")
	assert.Error(t, err)

	_, err = ValidateAccessToken("")
	assert.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", SanitizeFilename("../../etc/report.pdf"))
	assert.Equal(t, "report.pdf", SanitizeFilename("c:\\temp\\report.pdf"))
	assert.Equal(t, "report.pdf", SanitizeFilename("report.pdf"))
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("a.pdf"))
	assert.True(t, IsPDF("a.PDF"))
	assert.False(t, IsPDF("a.txt"))
	assert.False(t, IsPDF("pdf"))
}
