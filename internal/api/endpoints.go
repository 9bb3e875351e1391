package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Typed wrappers over Do for the HopOn routes.

// Login exchanges email/password for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*Credentials, error) {
	body := map[string]string{"email": email, "password": password}
	var creds Credentials
	if err := c.Do(ctx, http.MethodPost, "/auth/login", body, &creds, Public()); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Refresh mints a new access token from a refresh token. Issued without a
// bearer header; the expired access token must not poison the rotation.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.Do(ctx, http.MethodPost, "/auth/refresh", body, &out, Public()); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// Me fetches the authenticated user's identity.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.Do(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Sports lists the supported sport categories.
func (c *Client) Sports(ctx context.Context) ([]Sport, error) {
	var out struct {
		Sports []Sport `json:"sports"`
	}
	if err := c.Do(ctx, http.MethodGet, "/sports", nil, &out, Public()); err != nil {
		return nil, err
	}
	return out.Sports, nil
}

// Events lists events matching the given filters.
func (c *Client) Events(ctx context.Context, filters EventFilters) (*EventPage, error) {
	var page EventPage
	if err := c.Do(ctx, http.MethodGet, "/events"+filters.query(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Event fetches a single event.
func (c *Client) Event(ctx context.Context, id int64) (*Event, error) {
	var out struct {
		Event Event `json:"event"`
	}
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/events/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Event, nil
}

// CreateEvent creates a new event hosted by the current user.
func (c *Client) CreateEvent(ctx context.Context, event Event) (*Event, error) {
	var out struct {
		Event Event `json:"event"`
	}
	if err := c.Do(ctx, http.MethodPost, "/events", event, &out); err != nil {
		return nil, err
	}
	return &out.Event, nil
}

// UpdateEvent updates an event the current user hosts.
func (c *Client) UpdateEvent(ctx context.Context, id int64, event Event) (*Event, error) {
	var out struct {
		Event Event `json:"event"`
	}
	if err := c.Do(ctx, http.MethodPut, fmt.Sprintf("/events/%d", id), event, &out); err != nil {
		return nil, err
	}
	return &out.Event, nil
}

// DeleteEvent removes an event the current user hosts.
func (c *Client) DeleteEvent(ctx context.Context, id int64) error {
	return c.Do(ctx, http.MethodDelete, fmt.Sprintf("/events/%d", id), nil, nil)
}

// JoinEvent adds the current user to an event's roster.
func (c *Client) JoinEvent(ctx context.Context, id int64) (*Event, error) {
	var out struct {
		Event Event `json:"event"`
	}
	if err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/events/%d/join", id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Event, nil
}

// LeaveEvent removes the current user from an event's roster.
func (c *Client) LeaveEvent(ctx context.Context, id int64) (*Event, error) {
	var out struct {
		Event Event `json:"event"`
	}
	if err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/events/%d/leave", id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Event, nil
}

// User fetches another user's profile.
func (c *Client) User(ctx context.Context, id int64) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// UpdateUser updates profile fields of the given user.
func (c *Client) UpdateUser(ctx context.Context, id int64, user User) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.Do(ctx, http.MethodPut, fmt.Sprintf("/users/%d", id), user, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// UserEvents fetches events a user hosts or participates in.
func (c *Client) UserEvents(ctx context.Context, id int64) (hosted, participating []Event, err error) {
	var out struct {
		Hosted        []Event `json:"hosted"`
		Participating []Event `json:"participating"`
	}
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/users/%d/events", id), nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Hosted, out.Participating, nil
}

// Notifications fetches one page of the current user's notifications.
func (c *Client) Notifications(ctx context.Context, page, perPage int) (*NotificationPage, error) {
	if page == 0 {
		page = 1
	}
	if perPage == 0 {
		perPage = 20
	}
	var out NotificationPage
	path := fmt.Sprintf("/notifications?page=%d&per_page=%d", page, perPage)
	if err := c.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.Do(ctx, http.MethodPut, fmt.Sprintf("/notifications/%d/read", id), nil, nil)
}

// MarkAllNotificationsRead marks every notification as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.Do(ctx, http.MethodPut, "/notifications/read-all", nil, nil)
}

// SubmitRating rates another player. eventID and comment are optional.
func (c *Client) SubmitRating(ctx context.Context, ratedUserID, eventID int64, score int, comment string) (*Rating, error) {
	body := map[string]any{"rated_user_id": ratedUserID, "rating": score}
	if eventID != 0 {
		body["event_id"] = eventID
	}
	if comment != "" {
		body["comment"] = comment
	}
	var out struct {
		Rating Rating `json:"rating"`
	}
	if err := c.Do(ctx, http.MethodPost, "/ratings", body, &out); err != nil {
		return nil, err
	}
	return &out.Rating, nil
}

// UserRatings fetches a user's ratings together with the aggregates.
func (c *Client) UserRatings(ctx context.Context, id int64) (*RatingSummary, error) {
	var out RatingSummary
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/users/%d/ratings", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Follow subscribes the current user to another player's activity.
func (c *Client) Follow(ctx context.Context, id int64) error {
	return c.Do(ctx, http.MethodPost, fmt.Sprintf("/follow/%d", id), nil, nil)
}

// Unfollow removes a follow.
func (c *Client) Unfollow(ctx context.Context, id int64) error {
	return c.Do(ctx, http.MethodPost, fmt.Sprintf("/unfollow/%d", id), nil, nil)
}

// Conversations lists the current user's message threads, newest first.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.Do(ctx, http.MethodGet, "/messages/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// SendMessage sends a direct message to another user.
func (c *Client) SendMessage(ctx context.Context, receiverID int64, content string) (*Message, error) {
	body := map[string]any{"receiver_id": receiverID, "content": content}
	var out struct {
		Data Message `json:"data"`
	}
	if err := c.Do(ctx, http.MethodPost, "/messages", body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Messages fetches the conversation with the given user.
func (c *Client) Messages(ctx context.Context, userID int64) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/messages/%d", userID), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (f EventFilters) query() string {
	params := url.Values{}
	if f.Sport != "" {
		params.Set("sport", f.Sport)
	}
	if f.SkillLevel != "" {
		params.Set("skill_level", f.SkillLevel)
	}
	if f.Latitude != 0 {
		params.Set("latitude", strconv.FormatFloat(f.Latitude, 'f', -1, 64))
	}
	if f.Longitude != 0 {
		params.Set("longitude", strconv.FormatFloat(f.Longitude, 'f', -1, 64))
	}
	if f.RadiusKM != 0 {
		params.Set("radius_km", strconv.FormatFloat(f.RadiusKM, 'f', -1, 64))
	}
	if f.DateFrom != "" {
		params.Set("date_from", f.DateFrom)
	}
	if f.DateTo != "" {
		params.Set("date_to", f.DateTo)
	}
	if f.Status != "" {
		params.Set("status", f.Status)
	}
	if f.Page != 0 {
		params.Set("page", strconv.Itoa(f.Page))
	}
	if f.PerPage != 0 {
		params.Set("per_page", strconv.Itoa(f.PerPage))
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}
