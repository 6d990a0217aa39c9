// Package mockserver emulates the care backend for local development and
// tests. It issues HS256 token pairs and serves the refresh, appointments and
// assistant stream endpoints.
package mockserver

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/petal-labs/carelink/core"
)

// Token kinds carried in the "typ" claim.
const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// Issuer is the "iss" claim of every token.
const Issuer = "carelink-mock"

// Appointment is the wire form served by the appointments endpoint.
type Appointment struct {
	AppointmentID string `json:"appointment_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Doctor        string `json:"doctor"`
	Hospital      string `json:"hospital"`
	Status        string `json:"status"`
}

// DefaultAppointments is served unless WithAppointments is given.
var DefaultAppointments = []Appointment{
	{AppointmentID: "1", Date: "2025-08-12", Time: "14:30", Doctor: "Dr. Kerem Uzer", Hospital: "Acibadem Hospital", Status: "confirmed"},
	{AppointmentID: "2", Date: "2025-08-15", Time: "09:00", Doctor: "Dr. Zeynep Yorulmaz", Hospital: "Medicana", Status: "pending"},
}

// ReplyFunc produces the assistant replies for a prompt.
type ReplyFunc func(prompt string) []string

func echoReplies(prompt string) []string {
	return []string{
		"You said: " + prompt,
		"Is there anything else I can help you with?",
	}
}

// Claims are the mock server's JWT claims.
type Claims struct {
	Kind string `json:"typ"`
	jwt.RegisteredClaims
}

// Server is the mock backend.
type Server struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time

	appointments []Appointment
	replies      ReplyFunc

	engine *gin.Engine

	refreshCalls atomic.Int64
	rejectNext   atomic.Int64

	mu    sync.Mutex
	turns map[string]map[string][]string // thread -> client turn -> replies
}

// Option configures a Server.
type Option func(*Server)

// WithSigningKey sets the HS256 key. A random key is used otherwise.
func WithSigningKey(key []byte) Option {
	return func(s *Server) {
		if len(key) > 0 {
			s.key = key
		}
	}
}

// WithTTL sets the access and refresh token lifetimes.
func WithTTL(access, refresh time.Duration) Option {
	return func(s *Server) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAppointments replaces the served appointments.
func WithAppointments(a []Appointment) Option {
	return func(s *Server) {
		s.appointments = a
	}
}

// WithReplies replaces the assistant reply generator.
func WithReplies(fn ReplyFunc) Option {
	return func(s *Server) {
		if fn != nil {
			s.replies = fn
		}
	}
}

// WithClock sets the time source used to issue and verify tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a mock server.
func New(opts ...Option) *Server {
	s := &Server{
		accessTTL:    15 * time.Minute,
		refreshTTL:   24 * time.Hour,
		logger:       zap.NewNop(),
		now:          time.Now,
		appointments: DefaultAppointments,
		replies:      echoReplies,
		turns:        make(map[string]map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.key) == 0 {
		s.key = make([]byte, 32)
		if _, err := rand.Read(s.key); err != nil {
			panic(fmt.Sprintf("mockserver: generate key: %v", err))
		}
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.logRequests())
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// RefreshCalls returns how many refresh requests have been received.
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// RejectNext makes the next n access-authenticated requests fail with 401
// regardless of the token presented.
func (s *Server) RejectNext(n int) {
	s.rejectNext.Store(int64(n))
}

// Issue mints a token pair for subject.
func (s *Server) Issue(subject string) (core.TokenPair, error) {
	access, err := s.sign(subject, kindAccess, s.accessTTL)
	if err != nil {
		return core.TokenPair{}, err
	}
	refresh, err := s.sign(subject, kindRefresh, s.refreshTTL)
	if err != nil {
		return core.TokenPair{}, err
	}
	return core.TokenPair{Access: core.NewSecret(access), Refresh: core.NewSecret(refresh)}, nil
}

// Verify parses and validates a token of the given kind.
func (s *Server) Verify(token, kind string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("token kind %q, want %q", claims.Kind, kind)
	}
	return claims, nil
}

func (s *Server) sign(subject, kind string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := s.engine.Group("/api")
	{
		api.POST("/auth/refresh-token", s.authenticate(kindRefresh), s.handleRefresh)
		api.GET("/get_appointments", s.authenticate(kindAccess), s.handleAppointments)
	}
	s.engine.POST("/invoke", s.authenticate(kindAccess), s.handleInvoke)
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("mock request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// authenticate requires a bearer token of the given kind.
func (s *Server) authenticate(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if kind == kindRefresh {
			s.refreshCalls.Add(1)
		}
		if kind == kindAccess && s.consumeRejection() {
			abort(c, http.StatusUnauthorized, "token rejected")
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			abort(c, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}
		claims, err := s.Verify(token, kind)
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid "+kind+" token")
			return
		}
		c.Set("subject", claims.Subject)
		c.Next()
	}
}

func (s *Server) consumeRejection() bool {
	for {
		n := s.rejectNext.Load()
		if n <= 0 {
			return false
		}
		if s.rejectNext.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (s *Server) handleRefresh(c *gin.Context) {
	pair, err := s.Issue(c.GetString("subject"))
	if err != nil {
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  pair.Access.Expose(),
		"refreshToken": pair.Refresh.Expose(),
	})
}

func (s *Server) handleAppointments(c *gin.Context) {
	list := s.appointments
	if list == nil {
		list = []Appointment{}
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"respond": string(encoded)})
}

type invokeRequest struct {
	Input struct {
		Message string `json:"message"`
	} `json:"input"`
	ThreadID     string `json:"thread_id"`
	ClientTurnID string `json:"client_turn_id"`
}

type streamItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *Server) handleInvoke(c *gin.Context) {
	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input.Message == "" {
		abort(c, http.StatusBadRequest, "input.message is not provided")
		return
	}
	if req.ThreadID == "" {
		abort(c, http.StatusBadRequest, "thread_id is required")
		return
	}

	replies := s.turn(req.ThreadID, req.ClientTurnID, req.Input.Message)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	for _, text := range replies {
		line, err := json.Marshal(gin.H{"response": []streamItem{{Type: "text", Text: text}}})
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", line); err != nil {
			return
		}
		c.Writer.Flush()
	}
	fmt.Fprint(c.Writer, "data: [DONE]\n")
	c.Writer.Flush()
}

// turn returns the replies for a client turn, replaying earlier replies when
// the same turn is sent again.
func (s *Server) turn(threadID, turnID, prompt string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turnID == "" {
		turnID = uuid.NewString()
	}
	thread, ok := s.turns[threadID]
	if !ok {
		thread = make(map[string][]string)
		s.turns[threadID] = thread
	}
	if replies, ok := thread[turnID]; ok {
		return replies
	}
	replies := s.replies(prompt)
	thread[turnID] = replies
	return replies
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}
