package api

// Wire types mirroring the HopOn REST API JSON.

// Sport is a supported sport category.
type Sport struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// User is a HopOn account as returned by the API. Snapshots are replaced
// wholesale on refresh, never mutated in place.
type User struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Email         string  `json:"email,omitempty"`
	AvatarURL     string  `json:"avatar_url,omitempty"`
	Bio           string  `json:"bio,omitempty"`
	Location      string  `json:"location,omitempty"`
	Latitude      float64 `json:"latitude,omitempty"`
	Longitude     float64 `json:"longitude,omitempty"`
	Sports        []Sport `json:"sports,omitempty"`
	EventsHosted  int     `json:"events_hosted"`
	EventsJoined  int     `json:"events_joined"`
	AverageRating float64 `json:"average_rating,omitempty"`
	RatingCount   int     `json:"rating_count"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// Event is a pickup game listing.
type Event struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Sport           string  `json:"sport"`
	Location        string  `json:"location"`
	Latitude        float64 `json:"latitude,omitempty"`
	Longitude       float64 `json:"longitude,omitempty"`
	MaxPlayers      int     `json:"max_players"`
	CurrentPlayers  int     `json:"current_players"`
	SpotsLeft       int     `json:"spots_left"`
	IsFull          bool    `json:"is_full"`
	SkillLevel      string  `json:"skill_level,omitempty"`
	Status          string  `json:"status"`
	EventDate       string  `json:"event_date,omitempty"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
	HostUserID      int64   `json:"host_user_id"`
	HostName        string  `json:"host_name,omitempty"`
	DistanceKM      float64 `json:"distance_km,omitempty"`
	Participants    []User  `json:"participants,omitempty"`
	CreatedAt       string  `json:"created_at,omitempty"`
}

// Notification is a push or pull notification entry.
type Notification struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

// Message is a direct message between two users.
type Message struct {
	ID         int64  `json:"id"`
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

// Rating is one player's review of another, optionally tied to an event.
type Rating struct {
	ID          int64  `json:"id"`
	RaterID     int64  `json:"rater_id"`
	RatedUserID int64  `json:"rated_user_id"`
	EventID     int64  `json:"event_id,omitempty"`
	Score       int    `json:"rating"`
	Comment     string `json:"comment,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// RatingSummary is a user's ratings with the derived aggregates.
type RatingSummary struct {
	Ratings       []Rating `json:"ratings"`
	AverageRating float64  `json:"average_rating"`
	RatingCount   int      `json:"rating_count"`
}

// Conversation summarizes one direct-message thread.
type Conversation struct {
	User        User    `json:"user"`
	LastMessage Message `json:"last_message"`
	UnreadCount int     `json:"unread_count"`
}

// EventFilters narrows an event listing. Zero values are omitted from the query.
type EventFilters struct {
	Sport      string
	SkillLevel string
	Latitude   float64
	Longitude  float64
	RadiusKM   float64
	DateFrom   string
	DateTo     string
	Status     string
	Page       int
	PerPage    int
}

// EventPage is one page of an event listing.
type EventPage struct {
	Events     []Event `json:"events"`
	Total      int     `json:"total"`
	Page       int     `json:"page"`
	PerPage    int     `json:"per_page"`
	TotalPages int     `json:"total_pages"`
}

// NotificationPage is one page of notifications.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
	Page          int            `json:"page"`
	PerPage       int            `json:"per_page"`
	TotalPages    int            `json:"total_pages"`
}

// Credentials is the token pair returned by login endpoints.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
