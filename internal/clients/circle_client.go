package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrGroupNotFound = errors.New("group not found")

// CircleClient wraps the circle-service HTTP API. Circles own their
// membership; this service only asks who belongs where, never caches
// the answer.
type CircleClient struct {
	baseURL string
	http    *http.Client
}

// NewCircleClient constructs the wrapper.
func NewCircleClient(baseURL string) *CircleClient {
	return &CircleClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// GroupExists reports whether the circle exists.
func (c *CircleClient) GroupExists(ctx context.Context, groupID int) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/internal/circles/%d", c.baseURL, groupID), nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("group exists: status %d", resp.StatusCode)
	}
	return true, nil
}

// IsMember reports whether the user currently belongs to the circle.
func (c *CircleClient) IsMember(ctx context.Context, userID int, groupID int) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/internal/circles/%d/members/%d", c.baseURL, groupID, userID), nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("is member: status %d", resp.StatusCode)
	}

	var result struct {
		Member bool `json:"member"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, err
	}
	return result.Member, nil
}

// MembersOf lists the current members of the circle.
func (c *CircleClient) MembersOf(ctx context.Context, groupID int) ([]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/internal/circles/%d/members", c.baseURL, groupID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrGroupNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("members of: status %d", resp.StatusCode)
	}

	var result struct {
		MemberIDs []int `json:"member_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.MemberIDs, nil
}
