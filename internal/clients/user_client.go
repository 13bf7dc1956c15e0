package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// UserInfo is the display identity the user directory resolves for a
// user id. Used only to decorate responses, never to authorize.
type UserInfo struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// UserClient wraps the user-directory HTTP API.
type UserClient struct {
	baseURL string
	http    *http.Client
}

// NewUserClient constructs the wrapper.
func NewUserClient(baseURL string) *UserClient {
	return &UserClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// ValidateToken verifies the bearer token and returns the
// authenticated user id.
func (u *UserClient) ValidateToken(ctx context.Context, token string) (int, error) {
	body := strings.NewReader(`{"token":` + strconv.Quote(token) + `}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/internal/auth/validate", body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("validate token: status %d", resp.StatusCode)
	}

	var result struct {
		Valid  bool `json:"valid"`
		UserID int  `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	if !result.Valid || result.UserID == 0 {
		return 0, errors.New("invalid token")
	}
	return result.UserID, nil
}

// GetUser retrieves one user's display info.
func (u *UserClient) GetUser(ctx context.Context, userID int) (UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/internal/users/%d", u.baseURL, userID), nil)
	if err != nil {
		return UserInfo{}, err
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return UserInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return UserInfo{}, ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("get user: status %d", resp.StatusCode)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return UserInfo{}, err
	}
	if info.ID == 0 {
		return UserInfo{}, ErrUserNotFound
	}
	return info, nil
}

// BulkUsers fetches display info for multiple users in one call.
func (u *UserClient) BulkUsers(ctx context.Context, ids []int) ([]UserInfo, error) {
	if len(ids) == 0 {
		return []UserInfo{}, nil
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	query := url.Values{"ids": []string{strings.Join(parts, ",")}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		u.baseURL+"/internal/users?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bulk users: status %d", resp.StatusCode)
	}

	var result struct {
		Users []UserInfo `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Users, nil
}
