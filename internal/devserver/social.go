package devserver

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/hopon-app/hopon-go/internal/api"
	"github.com/hopon-app/hopon-go/internal/realtime"
)

// POST /ratings
func (s *Server) handleSubmitRating(c *gin.Context) {
	var req struct {
		RatedUserID int64  `json:"rated_user_id" binding:"required"`
		EventID     int64  `json:"event_id"`
		Rating      int    `json:"rating" binding:"required,min=1,max=5"`
		Comment     string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	raterID := currentUserID(c)
	if req.RatedUserID == raterID {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot rate yourself"})
		return
	}

	s.mu.Lock()
	rated := s.users[req.RatedUserID]
	if rated == nil {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	r := api.Rating{
		ID:          s.allocID(),
		RaterID:     raterID,
		RatedUserID: req.RatedUserID,
		EventID:     req.EventID,
		Score:       req.Rating,
		Comment:     req.Comment,
		CreatedAt:   now(),
	}
	s.ratings[req.RatedUserID] = append(s.ratings[req.RatedUserID], r)
	rated.AverageRating, rated.RatingCount = ratingAggregates(s.ratings[req.RatedUserID])
	var raterName string
	if u := s.users[raterID]; u != nil {
		raterName = u.Name
	}
	note := s.notify(req.RatedUserID, "new_rating",
		fmt.Sprintf("%s rated you %d/5", raterName, req.Rating), "")
	s.mu.Unlock()

	s.hub.pushToUser(req.RatedUserID, realtime.KindNotification, note)
	c.JSON(http.StatusCreated, gin.H{"message": "rating submitted", "rating": r})
}

func ratingAggregates(list []api.Rating) (float64, int) {
	if len(list) == 0 {
		return 0, 0
	}
	var sum int
	for _, r := range list {
		sum += r.Score
	}
	return float64(sum) / float64(len(list)), len(list)
}

// GET /users/:id/ratings
func (s *Server) handleUserRatings(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	u := s.users[id]
	list := append([]api.Rating(nil), s.ratings[id]...)
	s.mu.Unlock()
	if u == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	avg, count := ratingAggregates(list)
	c.JSON(http.StatusOK, api.RatingSummary{Ratings: list, AverageRating: avg, RatingCount: count})
}

// POST /follow/:id
func (s *Server) handleFollow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	userID := currentUserID(c)
	if id == userID {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot follow yourself"})
		return
	}

	s.mu.Lock()
	if s.users[id] == nil {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	if s.follows[userID] == nil {
		s.follows[userID] = make(map[int64]struct{})
	}
	if _, following := s.follows[userID][id]; following {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "already following"})
		return
	}
	s.follows[userID][id] = struct{}{}
	var followerName string
	if u := s.users[userID]; u != nil {
		followerName = u.Name
	}
	note := s.notify(id, "new_follower", fmt.Sprintf("%s started following you", followerName), "")
	s.mu.Unlock()

	s.hub.pushToUser(id, realtime.KindNotification, note)
	c.JSON(http.StatusOK, gin.H{"message": "followed"})
}

// POST /unfollow/:id
func (s *Server) handleUnfollow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	userID := currentUserID(c)

	s.mu.Lock()
	if _, following := s.follows[userID][id]; !following {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "not following"})
		return
	}
	delete(s.follows[userID], id)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"message": "unfollowed"})
}

// GET /messages/conversations
func (s *Server) handleConversations(c *gin.Context) {
	userID := currentUserID(c)

	s.mu.Lock()
	last := make(map[int64]api.Message)
	unread := make(map[int64]int)
	for _, m := range s.messages {
		var other int64
		switch {
		case m.SenderID == userID:
			other = m.ReceiverID
		case m.ReceiverID == userID:
			other = m.SenderID
		default:
			continue
		}
		last[other] = m
		if m.ReceiverID == userID && m.Status == "sent" {
			unread[other]++
		}
	}
	convs := make([]api.Conversation, 0, len(last))
	for other, m := range last {
		u := s.users[other]
		if u == nil {
			continue
		}
		convs = append(convs, api.Conversation{User: u.User, LastMessage: m, UnreadCount: unread[other]})
	}
	s.mu.Unlock()

	sort.Slice(convs, func(i, j int) bool { return convs[i].LastMessage.ID > convs[j].LastMessage.ID })
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}
