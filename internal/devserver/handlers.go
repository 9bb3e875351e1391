package devserver

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hopon-app/hopon-go/internal/api"
	"github.com/hopon-app/hopon-go/internal/realtime"
)

var sportsCatalog = []api.Sport{
	{ID: 1, Name: "Basketball", Icon: "🏀"},
	{ID: 2, Name: "Soccer", Icon: "⚽"},
	{ID: 3, Name: "Tennis", Icon: "🎾"},
	{ID: 4, Name: "Volleyball", Icon: "🏐"},
	{ID: 5, Name: "Pickleball", Icon: "🏓"},
	{ID: 6, Name: "Running", Icon: "🏃"},
}

// GET /sports
func (s *Server) handleSports(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sports": sportsCatalog})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return 0, false
	}
	return id, true
}

// snapshot fills the derived roster fields. Caller holds s.mu.
func (s *Server) snapshot(ev *event) api.Event {
	out := ev.Event
	out.CurrentPlayers = len(ev.participants)
	out.SpotsLeft = out.MaxPlayers - out.CurrentPlayers
	out.IsFull = out.SpotsLeft <= 0
	if host := s.users[ev.HostUserID]; host != nil {
		out.HostName = host.Name
	}
	out.Participants = make([]api.User, 0, len(ev.participants))
	for id := range ev.participants {
		if u := s.users[id]; u != nil {
			out.Participants = append(out.Participants, u.User)
		}
	}
	sort.Slice(out.Participants, func(i, j int) bool { return out.Participants[i].ID < out.Participants[j].ID })
	return out
}

// GET /events
func (s *Server) handleListEvents(c *gin.Context) {
	sport := c.Query("sport")
	status := c.Query("status")
	skill := c.Query("skill_level")
	lat, _ := strconv.ParseFloat(c.Query("latitude"), 64)
	lon, _ := strconv.ParseFloat(c.Query("longitude"), 64)
	radius, _ := strconv.ParseFloat(c.Query("radius_km"), 64)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	s.mu.Lock()
	matched := make([]api.Event, 0, len(s.events))
	for _, ev := range s.events {
		if sport != "" && ev.Sport != sport {
			continue
		}
		if status != "" && ev.Status != status {
			continue
		}
		if skill != "" && ev.SkillLevel != skill {
			continue
		}
		snap := s.snapshot(ev)
		if radius > 0 && lat != 0 && lon != 0 {
			snap.DistanceKM = haversineKM(lat, lon, ev.Latitude, ev.Longitude)
			if snap.DistanceKM > radius {
				continue
			}
		}
		matched = append(matched, snap)
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	totalPages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, api.EventPage{
		Events:     matched[start:end],
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	})
}

// POST /events
func (s *Server) handleCreateEvent(c *gin.Context) {
	var req api.Event
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Name == "" || req.Sport == "" || req.MaxPlayers < 2 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name, sport and max_players are required"})
		return
	}

	hostID := currentUserID(c)
	s.mu.Lock()
	ev := &event{Event: req, participants: map[int64]struct{}{hostID: {}}}
	ev.ID = s.allocID()
	ev.HostUserID = hostID
	ev.Status = "open"
	ev.CreatedAt = now()
	s.events[ev.ID] = ev
	snap := s.snapshot(ev)
	s.mu.Unlock()

	s.log.Info().Int64("event_id", ev.ID).Str("sport", ev.Sport).Msg("event created")
	c.JSON(http.StatusCreated, gin.H{"message": "event created", "event": snap})
}

// GET /events/:id
func (s *Server) handleGetEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	ev := s.events[id]
	var snap api.Event
	if ev != nil {
		snap = s.snapshot(ev)
	}
	s.mu.Unlock()
	if ev == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": snap})
}

// PUT /events/:id
func (s *Server) handleUpdateEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req api.Event
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s.mu.Lock()
	ev := s.events[id]
	if ev == nil {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	}
	if ev.HostUserID != currentUserID(c) {
		s.mu.Unlock()
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the host can update an event"})
		return
	}
	if req.Name != "" {
		ev.Name = req.Name
	}
	if req.Description != "" {
		ev.Description = req.Description
	}
	if req.Location != "" {
		ev.Location = req.Location
	}
	if req.MaxPlayers != 0 {
		ev.MaxPlayers = req.MaxPlayers
	}
	if req.SkillLevel != "" {
		ev.SkillLevel = req.SkillLevel
	}
	if req.Status != "" {
		ev.Status = req.Status
	}
	snap := s.snapshot(ev)
	s.mu.Unlock()

	s.hub.pushToRoom(id, realtime.KindEventUpdated, snap)
	c.JSON(http.StatusOK, gin.H{"message": "event updated", "event": snap})
}

// DELETE /events/:id
func (s *Server) handleDeleteEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	ev := s.events[id]
	if ev == nil {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	}
	if ev.HostUserID != currentUserID(c) {
		s.mu.Unlock()
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the host can delete an event"})
		return
	}
	ev.Status = "cancelled"
	snap := s.snapshot(ev)
	delete(s.events, id)
	s.mu.Unlock()

	s.hub.pushToRoom(id, realtime.KindEventUpdated, snap)
	c.JSON(http.StatusOK, gin.H{"message": "event deleted"})
}

// POST /events/:id/join
func (s *Server) handleJoinEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	userID := currentUserID(c)

	s.mu.Lock()
	ev := s.events[id]
	if ev == nil {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	}
	if _, joined := ev.participants[userID]; joined {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "already joined"})
		return
	}
	if len(ev.participants) >= ev.MaxPlayers {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "event is full"})
		return
	}
	ev.participants[userID] = struct{}{}
	joiner := s.users[userID]
	snap := s.snapshot(ev)
	var hostNote api.Notification
	if ev.HostUserID != userID && joiner != nil {
		hostNote = s.notify(ev.HostUserID, "player_joined",
			fmt.Sprintf("%s joined %s", joiner.Name, ev.Name), eventLink(ev.ID))
	}
	hostID := ev.HostUserID
	s.mu.Unlock()

	s.hub.pushToRoom(id, realtime.KindEventUpdated, snap)
	if hostNote.ID != 0 {
		s.hub.pushToUser(hostID, realtime.KindNotification, hostNote)
	}
	c.JSON(http.StatusOK, gin.H{"message": "joined event", "event": snap})
}

// POST /events/:id/leave
func (s *Server) handleLeaveEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	userID := currentUserID(c)

	s.mu.Lock()
	ev := s.events[id]
	if ev == nil {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	}
	if _, joined := ev.participants[userID]; !joined {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "not a participant"})
		return
	}
	delete(ev.participants, userID)
	leaver := s.users[userID]
	snap := s.snapshot(ev)
	var hostNote api.Notification
	if ev.HostUserID != userID && leaver != nil {
		hostNote = s.notify(ev.HostUserID, "player_left",
			fmt.Sprintf("%s left %s", leaver.Name, ev.Name), eventLink(ev.ID))
	}
	hostID := ev.HostUserID
	s.mu.Unlock()

	s.hub.pushToRoom(id, realtime.KindEventUpdated, snap)
	if hostNote.ID != 0 {
		s.hub.pushToUser(hostID, realtime.KindNotification, hostNote)
	}
	c.JSON(http.StatusOK, gin.H{"message": "left event", "event": snap})
}

// GET /users/:id
func (s *Server) handleGetUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	u := s.users[id]
	s.mu.Unlock()
	if u == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u.User})
}

// PUT /users/:id
func (s *Server) handleUpdateUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if id != currentUserID(c) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "can only update your own profile"})
		return
	}
	var req api.User
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s.mu.Lock()
	u := s.users[id]
	if u == nil {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	if req.Name != "" {
		u.Name = req.Name
	}
	if req.Bio != "" {
		u.Bio = req.Bio
	}
	if req.Location != "" {
		u.Location = req.Location
	}
	if req.AvatarURL != "" {
		u.AvatarURL = req.AvatarURL
	}
	if req.Latitude != 0 {
		u.Latitude = req.Latitude
	}
	if req.Longitude != 0 {
		u.Longitude = req.Longitude
	}
	snap := u.User
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"user": snap})
}

// GET /users/:id/events
func (s *Server) handleUserEvents(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.users[id] == nil {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	hosted := make([]api.Event, 0)
	participating := make([]api.Event, 0)
	for _, ev := range s.events {
		if ev.HostUserID == id {
			hosted = append(hosted, s.snapshot(ev))
			continue
		}
		if _, joined := ev.participants[id]; joined {
			participating = append(participating, s.snapshot(ev))
		}
	}
	s.mu.Unlock()

	sort.Slice(hosted, func(i, j int) bool { return hosted[i].ID < hosted[j].ID })
	sort.Slice(participating, func(i, j int) bool { return participating[i].ID < participating[j].ID })
	c.JSON(http.StatusOK, gin.H{"hosted": hosted, "participating": participating})
}

// GET /notifications
func (s *Server) handleNotifications(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	s.mu.Lock()
	all := s.notifications[currentUserID(c)]
	// newest first
	list := make([]api.Notification, len(all))
	for i, n := range all {
		list[len(all)-1-i] = n
	}
	s.mu.Unlock()

	total := len(list)
	totalPages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, api.NotificationPage{
		Notifications: list[start:end],
		Total:         total,
		Page:          page,
		PerPage:       perPage,
		TotalPages:    totalPages,
	})
}

// PUT /notifications/:id/read
func (s *Server) handleNotificationRead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	userID := currentUserID(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notifications[userID] {
		if n.ID == id {
			s.notifications[userID][i].Read = true
			c.JSON(http.StatusOK, gin.H{"message": "notification marked read"})
			return
		}
	}
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "notification not found"})
}

// PUT /notifications/read-all
func (s *Server) handleNotificationsReadAll(c *gin.Context) {
	userID := currentUserID(c)
	s.mu.Lock()
	for i := range s.notifications[userID] {
		s.notifications[userID][i].Read = true
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"message": "all notifications marked read"})
}

// POST /messages
func (s *Server) handleSendMessage(c *gin.Context) {
	var req struct {
		ReceiverID int64  `json:"receiver_id" binding:"required"`
		Content    string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s.mu.Lock()
	if s.users[req.ReceiverID] == nil {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "receiver not found"})
		return
	}
	msg := api.Message{
		ID:         s.allocID(),
		SenderID:   currentUserID(c),
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Status:     "sent",
		CreatedAt:  now(),
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.hub.pushToUser(req.ReceiverID, realtime.KindNewMessage, msg)
	c.JSON(http.StatusCreated, gin.H{"message": "message sent", "data": msg})
}

// GET /messages/:id — thread listing or one conversation. gin cannot register
// a static /messages/conversations route beside the :id wildcard, so the
// handler dispatches on the param instead.
func (s *Server) handleMessages(c *gin.Context) {
	if c.Param("id") == "conversations" {
		s.handleConversations(c)
		return
	}
	s.handleConversation(c)
}

func (s *Server) handleConversation(c *gin.Context) {
	otherID, ok := pathID(c)
	if !ok {
		return
	}
	userID := currentUserID(c)

	s.mu.Lock()
	var conv []api.Message
	for i := range s.messages {
		m := &s.messages[i]
		if (m.SenderID == userID && m.ReceiverID == otherID) || (m.SenderID == otherID && m.ReceiverID == userID) {
			// Fetching the thread marks messages to the reader as read.
			if m.ReceiverID == userID && m.Status == "sent" {
				m.Status = "read"
			}
			conv = append(conv, *m)
		}
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"messages": conv})
}

// haversineKM is the great-circle distance between two coordinates.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
