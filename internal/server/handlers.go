package server

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	ginmw "github.com/jassus213/go-lockout/middleware/gin"
)

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// register counts rejected registrations against the caller address.
func (s *Server) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		if ginmw.RecordFailure(c, "") {
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "username and password are required"})
		return
	}

	if err := s.users.Register(req.Username, req.Password); err != nil {
		if ginmw.RecordFailure(c, req.Username) {
			return
		}
		status := http.StatusBadRequest
		if errors.Is(err, ErrUserExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"message": err.Error()})
		return
	}

	s.logger.Infof("registered %s", req.Username)
	c.JSON(http.StatusCreated, gin.H{"username": req.Username})
}

func (s *Server) login(adminOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentials
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "username and password are required"})
			return
		}

		if err := s.users.Authenticate(req.Username, req.Password, adminOnly); err != nil {
			if ginmw.RecordFailure(c, req.Username) {
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid username or password"})
			return
		}

		ginmw.RecordSuccess(c, req.Username)
		c.JSON(http.StatusOK, gin.H{"username": req.Username, "admin": adminOnly})
	}
}

type contactRequest struct {
	Email   string `json:"email" binding:"required"`
	Message string `json:"message" binding:"required"`
}

func (s *Server) contact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil || !strings.Contains(req.Email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"message": "a valid email and a message are required"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Thanks, we will get back to you."})
}

type commentRequest struct {
	Body string `json:"body" binding:"required"`
}

func (s *Server) comment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "body is required"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": uuid.NewString(), "body": req.Body, "quota": quotaOf(c)})
}

type reviewRequest struct {
	Rating int    `json:"rating" binding:"required,min=1,max=5"`
	Body   string `json:"body"`
}

func (s *Server) review(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "rating must be between 1 and 5"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": uuid.NewString(), "rating": req.Rating, "quota": quotaOf(c)})
}

type disputeRequest struct {
	URL    string `json:"url" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// dispute files a copyright dispute and opens a ticket for it.
func (s *Server) dispute(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "url and reason are required"})
		return
	}
	t := s.tickets.open(c.GetHeader(HeaderRequestID), req.URL, s.now())
	c.JSON(http.StatusCreated, t)
}

// ticket looks a ticket up. Misses keep the lookup slot spent, so guessing ids is bounded.
func (s *Server) ticket(c *gin.Context) {
	t, ok := s.tickets.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "ticket not found"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func quotaOf(c *gin.Context) gin.H {
	q, ok := ginmw.Quota(c)
	if !ok {
		return nil
	}
	return gin.H{"limit": q.Limit, "remaining": q.Remaining}
}

type ticket struct {
	ID        string    `json:"id"`
	RequestID string    `json:"requestId,omitempty"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type ticketBook struct {
	mu      sync.RWMutex
	tickets map[string]ticket
}

func newTicketBook() *ticketBook {
	return &ticketBook{tickets: make(map[string]ticket)}
}

func (b *ticketBook) open(requestID, subject string, now time.Time) ticket {
	t := ticket{ID: uuid.NewString(), RequestID: requestID, Subject: subject, Status: "open", CreatedAt: now.UTC()}
	b.mu.Lock()
	b.tickets[t.ID] = t
	b.mu.Unlock()
	return t
}

func (b *ticketBook) get(id string) (ticket, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tickets[id]
	return t, ok
}
