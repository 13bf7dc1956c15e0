package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/internal/auth/validate", r.URL.Path)

		var req struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Token == "good" {
			json.NewEncoder(w).Encode(map[string]any{"valid": true, "user_id": 42})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"valid": false})
	}))
	defer srv.Close()

	client := NewUserClient(srv.URL)

	userID, err := client.ValidateToken(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, 42, userID)

	_, err = client.ValidateToken(context.Background(), "bad")
	require.Error(t, err)
}

func TestGetUserNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewUserClient(srv.URL)
	_, err := client.GetUser(context.Background(), 7)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestBulkUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/internal/users", r.URL.Path)
		require.Equal(t, "1,2", r.URL.Query().Get("ids"))
		json.NewEncoder(w).Encode(map[string]any{"users": []UserInfo{
			{ID: 1, Username: "alice"},
			{ID: 2, Username: "bob"},
		}})
	}))
	defer srv.Close()

	client := NewUserClient(srv.URL)
	users, err := client.BulkUsers(context.Background(), []int{1, 2})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
}

func TestBulkUsersEmptyInput(t *testing.T) {
	client := NewUserClient("http://unused.invalid")
	users, err := client.BulkUsers(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}
