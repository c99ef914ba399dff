package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/flightbook/internal/models"
)

func TestSessionRecord_IsAuthenticated(t *testing.T) {
	tests := []struct {
		name   string
		record *models.SessionRecord
		want   bool
	}{
		{name: "nil record", record: nil, want: false},
		{name: "empty token", record: &models.SessionRecord{Username: "jane"}, want: false},
		{name: "with token", record: &models.SessionRecord{Token: "abc"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.IsAuthenticated())
		})
	}
}

func TestSessionRecord_Roles(t *testing.T) {
	user := &models.SessionRecord{Token: "abc", Roles: []string{models.RoleUser}}
	admin := &models.SessionRecord{Token: "abc", Roles: []string{models.RoleUser, models.RoleAdmin}}

	assert.True(t, user.HasRole(models.RoleUser))
	assert.False(t, user.IsAdmin())
	assert.True(t, admin.IsAdmin())

	var none *models.SessionRecord
	assert.False(t, none.HasRole(models.RoleUser))
	assert.False(t, (&models.SessionRecord{Token: "abc"}).IsAdmin())
}

func TestSessionRecord_WireShape(t *testing.T) {
	payload := `{"token":"abc","refreshToken":"r1","type":"Bearer","id":7,
		"username":"jane","email":"jane@example.com","roles":["ROLE_USER"],
		"mfaEnabled":true,"mfaRequired":false}`

	var rec models.SessionRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &rec))

	assert.Equal(t, "abc", rec.Token)
	assert.Equal(t, "r1", rec.RefreshToken)
	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, []string{"ROLE_USER"}, rec.Roles)
	assert.True(t, rec.MFAEnabled)
	assert.False(t, rec.MFARequired)
}

func TestSessionRecord_Clone(t *testing.T) {
	orig := &models.SessionRecord{Token: "abc", Roles: []string{models.RoleUser}}
	c := orig.Clone()
	c.Roles[0] = models.RoleAdmin
	c.Token = "changed"

	assert.Equal(t, models.RoleUser, orig.Roles[0])
	assert.Equal(t, "abc", orig.Token)

	var nilRec *models.SessionRecord
	assert.Nil(t, nilRec.Clone())
}

func TestPasswordResetRequest_JSON(t *testing.T) {
	data, err := json.Marshal(models.PasswordResetRequest{
		Email:       "jane@example.com",
		Token:       "tok",
		NewPassword: "s3cret!",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"jane@example.com","token":"tok","newPassword":"s3cret!"}`, string(data))
}
