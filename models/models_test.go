package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	user := NewUser("ada", "ada@example.com", "Ada", "Lovelace", "kp_123")

	assert.Zero(t, user.ID)
	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Equal(t, "Lovelace", user.LastName)
	assert.Equal(t, "kp_123", user.KindeID)
}

func TestUser_ProfileJSON(t *testing.T) {
	user := NewUser("ada", "ada@example.com", "Ada", "Lovelace", "kp_123")

	data, err := json.Marshal(user.Profile())
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, map[string]string{
		"username":   "ada",
		"email":      "ada@example.com",
		"first_name": "Ada",
		"last_name":  "Lovelace",
	}, decoded)
}
