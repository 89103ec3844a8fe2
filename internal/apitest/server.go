// Package apitest runs an in-memory events backend for tests: REST endpoints
// on a chi router plus a WebSocket push endpoint with per-event groups.
package apitest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type account struct {
	user     domain.User
	password string
}

// RecordedRequest is a request as seen by the server.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	Arrived time.Time
}

type Server struct {
	*httptest.Server

	Secret []byte

	mu       sync.Mutex
	events   map[string]*domain.EventDetail
	accounts map[string]*account // by email
	requests []RecordedRequest
	failures map[string]int // route prefix -> status to return

	// ListHook, when set, runs before a listing response is written; tests
	// use it to delay or reorder responses.
	ListHook func(q url.Values)

	hub *hub
}

func NewServer() *Server {
	s := &Server{
		Secret:   []byte("apitest-secret"),
		events:   map[string]*domain.EventDetail{},
		accounts: map[string]*account{},
		failures: map[string]int{},
		hub:      newHub(),
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) Close() {
	s.hub.closeAll()
	s.Server.Close()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)
	r.Use(s.injectFailures)

	r.Get("/ws", s.hub.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/register", s.register)
		r.Get("/auth/me", s.me)

		r.Post("/images/upload", s.upload)

		r.Get("/events", s.listEvents)
		r.Post("/events", s.createEvent)
		r.Get("/events/{id}", s.getEvent)
		r.Put("/events/{id}", s.updateEvent)
		r.Delete("/events/{id}", s.deleteEvent)
		r.Post("/events/{id}/join", s.joinEvent)
		r.Post("/events/{id}/leave", s.leaveEvent)
	})
	return r
}

// ---- test controls ----

// AddUser registers an account and returns the user with a fresh token.
func (s *Server) AddUser(name, email, password string) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := domain.User{ID: uuid.NewString(), Name: name, Email: email}
	s.accounts[email] = &account{user: u, password: password}
	u.Token = s.issueToken(u.ID, time.Hour)
	return u
}

// IssueToken signs a token for userID valid for ttl (negative ttl yields an expired token).
func (s *Server) IssueToken(userID string, ttl time.Duration) string {
	return s.issueToken(userID, ttl)
}

func (s *Server) issueToken(userID string, ttl time.Duration) string {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		panic(err)
	}
	return tok
}

// AddEvent stores ev (assigning an id when empty) and returns a copy.
func (s *Server) AddEvent(ev domain.EventDetail) domain.EventDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Attendees == nil {
		ev.Attendees = []domain.Attendee{}
	}
	if ev.ImagesURL == nil {
		ev.ImagesURL = []string{}
	}
	s.events[ev.ID] = ev.Clone()
	return *ev.Clone()
}

func (s *Server) Event(id string) (domain.EventDetail, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.EventDetail{}, false
	}
	return *ev.Clone(), true
}

// FailNext makes every request whose path starts with prefix answer status
// until ClearFailures is called.
func (s *Server) FailNext(prefix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[prefix] = status
}

func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]int{}
}

func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// Broadcast pushes a notification to every socket in the event's group.
func (s *Server) Broadcast(kind, eventID string, payload any) {
	s.hub.broadcast(kind, eventID, payload)
}

// GroupSize reports how many sockets have joined eventID.
func (s *Server) GroupSize(eventID string) int {
	return s.hub.groupSize(eventID)
}

// Actions returns the join/leave frames received, in order.
func (s *Server) Actions() []Action {
	return s.hub.actions()
}

// ---- middleware ----

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.Query(),
			Header:  r.Header.Clone(),
			Arrived: time.Now(),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status := 0
		for prefix, code := range s.failures {
			if strings.HasPrefix(r.URL.Path, prefix) {
				status = code
			}
		}
		s.mu.Unlock()
		if status != 0 {
			writeMessage(w, r, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---- helpers ----

type errorBody struct {
	Message string              `json:"message"`
	Errors  []domain.FieldError `json:"errors,omitempty"`
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorBody{Message: msg})
}

func writeValidation(w http.ResponseWriter, r *http.Request, fields []domain.FieldError) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, errorBody{Message: "Validation failed", Errors: fields})
}

// userFromRequest resolves the bearer token; ok is false when absent or invalid.
func (s *Server) userFromRequest(r *http.Request) (domain.User, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return domain.User{}, false
	}
	raw := strings.TrimPrefix(h, "Bearer ")
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.User{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.user.ID == claims.Subject {
			return a.user, true
		}
	}
	return domain.User{}, false
}

// ---- auth ----

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	var fields []domain.FieldError
	if strings.TrimSpace(in.Email) == "" {
		fields = append(fields, domain.FieldError{Field: "email", Message: "Email is required"})
	}
	if in.Password == "" {
		fields = append(fields, domain.FieldError{Field: "password", Message: "Password is required"})
	}
	if len(fields) > 0 {
		writeValidation(w, r, fields)
		return
	}

	s.mu.Lock()
	a, ok := s.accounts[in.Email]
	s.mu.Unlock()
	if !ok || a.password != in.Password {
		writeMessage(w, r, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	render.JSON(w, r, map[string]any{"token": s.issueToken(a.user.ID, time.Hour), "user": a.user})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	var fields []domain.FieldError
	if strings.TrimSpace(in.Name) == "" {
		fields = append(fields, domain.FieldError{Field: "name", Message: "Name is required"})
	}
	if !strings.Contains(in.Email, "@") {
		fields = append(fields, domain.FieldError{Field: "email", Message: "Invalid email"})
	}
	if len(in.Password) < 6 {
		fields = append(fields, domain.FieldError{Field: "password", Message: "Password must be at least 6 characters"})
	}
	s.mu.Lock()
	_, exists := s.accounts[in.Email]
	s.mu.Unlock()
	if exists {
		fields = append(fields, domain.FieldError{Field: "email", Message: "Email already registered"})
	}
	if len(fields) > 0 {
		writeValidation(w, r, fields)
		return
	}

	u := s.AddUser(in.Name, in.Email, in.Password)
	token := u.Token
	u.Token = ""
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]any{"token": token, "user": u})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromRequest(r)
	if !ok {
		writeMessage(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	render.JSON(w, r, u)
}

// ---- images ----

const maxUpload = 5 << 20

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+1<<16)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer f.Close()
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]string{"url": fmt.Sprintf("%s/uploads/%s-%s", s.URL, uuid.NewString()[:8], hdr.Filename)})
}

// ---- events ----

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.ListHook != nil {
		s.ListHook(q)
	}

	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	var start, end time.Time
	if v := q.Get("startDate"); v != "" {
		start, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v := q.Get("endDate"); v != "" {
		end, _ = time.Parse(time.RFC3339Nano, v)
	}
	search := strings.ToLower(q.Get("search"))
	category := strings.ToLower(q.Get("category"))

	s.mu.Lock()
	var matched []domain.EventSummary
	for _, ev := range s.events {
		if search != "" && !strings.Contains(strings.ToLower(ev.Title), search) &&
			!strings.Contains(strings.ToLower(ev.Description), search) {
			continue
		}
		if category != "" && strings.ToLower(ev.Category) != category {
			continue
		}
		if !start.IsZero() && ev.Date.Before(start) {
			continue
		}
		if !end.IsZero() && ev.Date.After(end) {
			continue
		}
		matched = append(matched, ev.Summary())
	}
	s.mu.Unlock()

	sortSummaries(matched, q.Get("sortBy"), q.Get("sortOrder") == "desc")

	total := len(matched)
	totalPages := (total + limit - 1) / limit
	from := (page - 1) * limit
	to := from + limit
	if from > total {
		from = total
	}
	if to > total {
		to = total
	}

	render.JSON(w, r, domain.ListResult{
		Events: append([]domain.EventSummary{}, matched[from:to]...),
		Pagination: domain.Pagination{
			CurrentPage: page,
			TotalPages:  totalPages,
			HasNextPage: page < totalPages,
			HasPrevPage: page > 1,
		},
	})
}

func sortSummaries(items []domain.EventSummary, by string, desc bool) {
	less := func(a, b domain.EventSummary) bool {
		switch by {
		case "title":
			return a.Title < b.Title
		case "attendeeCount":
			return a.AttendeeCount < b.AttendeeCount
		default:
			return a.Date.Before(b.Date)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.Event(chi.URLParam(r, "id"))
	if !ok {
		writeMessage(w, r, http.StatusNotFound, "Event not found")
		return
	}
	render.JSON(w, r, ev)
}

func validateInput(in domain.EventInput) []domain.FieldError {
	var fields []domain.FieldError
	if strings.TrimSpace(in.Title) == "" {
		fields = append(fields, domain.FieldError{Field: "title", Message: "Title is required"})
	}
	if strings.TrimSpace(in.Description) == "" {
		fields = append(fields, domain.FieldError{Field: "description", Message: "Description is required"})
	}
	if strings.TrimSpace(in.Location) == "" {
		fields = append(fields, domain.FieldError{Field: "location", Message: "Location is required"})
	}
	return fields
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userFromRequest(r)
	if !ok {
		writeMessage(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}
	var in domain.EventInput
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	if fields := validateInput(in); len(fields) > 0 {
		writeValidation(w, r, fields)
		return
	}
	ev := s.AddEvent(domain.EventDetail{
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
		Category:    in.Category,
		Date:        in.Date,
		ImagesURL:   in.ImagesURL,
		CoverURL:    in.CoverURL,
		CreatorID:   u.ID,
		Creator:     domain.Creator{Name: u.Name, Email: u.Email},
	})
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ev)
}

// mutate loads the event, optionally checks ownership, and applies fn under the lock.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, ownerOnly bool, fn func(u domain.User, ev *domain.EventDetail) (int, []domain.FieldError)) (*domain.EventDetail, bool) {
	u, ok := s.userFromRequest(r)
	if !ok {
		writeMessage(w, r, http.StatusUnauthorized, "Not authenticated")
		return nil, false
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	ev, ok := s.events[id]
	if !ok {
		s.mu.Unlock()
		writeMessage(w, r, http.StatusNotFound, "Event not found")
		return nil, false
	}
	if ownerOnly && ev.CreatorID != u.ID {
		s.mu.Unlock()
		writeMessage(w, r, http.StatusForbidden, "Not the event owner")
		return nil, false
	}
	status, fields := fn(u, ev)
	out := ev.Clone()
	s.mu.Unlock()

	if len(fields) > 0 {
		writeValidation(w, r, fields)
		return nil, false
	}
	if status != http.StatusOK {
		writeMessage(w, r, status, http.StatusText(status))
		return nil, false
	}
	return out, true
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request) {
	var in domain.EventInput
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	ev, ok := s.mutate(w, r, true, func(_ domain.User, ev *domain.EventDetail) (int, []domain.FieldError) {
		if fields := validateInput(in); len(fields) > 0 {
			return http.StatusBadRequest, fields
		}
		ev.Title, ev.Description, ev.Location = in.Title, in.Description, in.Location
		ev.Category, ev.Date, ev.CoverURL = in.Category, in.Date, in.CoverURL
		ev.ImagesURL = append([]string{}, in.ImagesURL...)
		return http.StatusOK, nil
	})
	if !ok {
		return
	}
	s.Broadcast("eventUpdated", ev.ID, ev)
	render.JSON(w, r, ev)
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.mutate(w, r, true, func(domain.User, *domain.EventDetail) (int, []domain.FieldError) {
		return http.StatusOK, nil
	})
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.events, ev.ID)
	s.mu.Unlock()
	s.Broadcast("eventDeleted", ev.ID, ev.ID)
	render.JSON(w, r, map[string]string{"message": "Event deleted"})
}

func (s *Server) joinEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.mutate(w, r, false, func(u domain.User, ev *domain.EventDetail) (int, []domain.FieldError) {
		if ev.IsAttending(u.ID) {
			return http.StatusBadRequest, []domain.FieldError{{Field: "attendees", Message: "Already attending"}}
		}
		ev.Attendees = append(ev.Attendees, domain.Attendee{ID: u.ID, Name: u.Name})
		return http.StatusOK, nil
	})
	if !ok {
		return
	}
	s.Broadcast("eventUpdated", ev.ID, ev)
	render.JSON(w, r, ev)
}

func (s *Server) leaveEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.mutate(w, r, false, func(u domain.User, ev *domain.EventDetail) (int, []domain.FieldError) {
		kept := ev.Attendees[:0]
		for _, a := range ev.Attendees {
			if a.ID != u.ID {
				kept = append(kept, a)
			}
		}
		ev.Attendees = kept
		return http.StatusOK, nil
	})
	if !ok {
		return
	}
	s.Broadcast("eventUpdated", ev.ID, ev)
	render.JSON(w, r, ev)
}
