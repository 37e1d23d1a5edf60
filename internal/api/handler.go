package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/contentguard/contentguard/internal/access"
	"github.com/contentguard/contentguard/internal/content"
	"github.com/contentguard/contentguard/internal/usergroup"
)

// APIResponse is the envelope every JSON endpoint answers with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Handler handles the access-control REST API.
type Handler struct {
	access *access.Handler
}

// NewHandler creates a new API handler over the access decision engine.
func NewHandler(accessHandler *access.Handler) *Handler {
	return &Handler{access: accessHandler}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	// Health check endpoints
	router.HandleFunc("/health", h.handleHealth).Methods("GET")
	router.HandleFunc("/ready", h.handleReady).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	// Group management
	api.HandleFunc("/groups", h.handleListGroups).Methods("GET")
	api.HandleFunc("/groups", h.handleCreateGroup).Methods("POST")
	api.HandleFunc("/groups/{id:[0-9]+}", h.handleGetGroup).Methods("GET")
	api.HandleFunc("/groups/{id:[0-9]+}", h.handleUpdateGroup).Methods("PUT")
	api.HandleFunc("/groups/{id:[0-9]+}", h.handleDeleteGroup).Methods("DELETE")

	// Group assignments
	api.HandleFunc("/groups/{id:[0-9]+}/objects", h.handleAddObject).Methods("POST")
	api.HandleFunc("/groups/{id:[0-9]+}/objects/{type}", h.handleGroupObjects).Methods("GET")
	api.HandleFunc("/groups/{id:[0-9]+}/objects/{type}/{objectID}", h.handleRemoveObject).Methods("DELETE")

	// Object-side lookups
	api.HandleFunc("/objects/{type}/{objectID}/groups", h.handleGroupsForObject).Methods("GET")

	// Access decisions
	api.HandleFunc("/access/check", h.handleCheckObjectAccess).Methods("POST")
	api.HandleFunc("/access/user", h.handleCheckUserAccess).Methods("POST")
	api.HandleFunc("/access/excluded/posts", h.handleExcludedPosts).Methods("POST")
	api.HandleFunc("/access/excluded/terms", h.handleExcludedTerms).Methods("POST")

	// Object type registry
	api.HandleFunc("/types", h.handleObjectTypes).Methods("GET")
}

// RequestID assigns every request an id for log correlation, honoring an
// incoming X-Request-ID header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "healthy", "service": "contentguard"}`))
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.access.UserGroups(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status": "not ready"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ready", "service": "contentguard"}`))
}

// GroupPayload is the wire form of a user group.
type GroupPayload struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ReadAccess  string   `json:"read_access"`
	WriteAccess string   `json:"write_access"`
	IPRanges    []string `json:"ip_ranges,omitempty"`
}

func groupPayload(g *usergroup.Group) GroupPayload {
	return GroupPayload{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		ReadAccess:  string(g.ReadAccess),
		WriteAccess: string(g.WriteAccess),
		IPRanges:    g.IPRanges,
	}
}

func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	var (
		groups []*usergroup.Group
		err    error
	)
	if r.URL.Query().Get("filter") == "true" {
		groups, err = h.access.FilteredUserGroups(r.Context(), subjectFromQuery(r))
	} else {
		groups, err = h.access.UserGroups(r.Context())
	}
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	payloads := make([]GroupPayload, 0, len(groups))
	for _, g := range groups {
		payloads = append(payloads, groupPayload(g))
	}
	h.writeJSON(w, payloads)
}

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var payload GroupPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.Name == "" {
		h.writeError(w, "group name is required", http.StatusBadRequest)
		return
	}

	g := usergroup.NewGroup(payload.Name, h.access.Deps())
	g.Description = payload.Description
	g.IPRanges = payload.IPRanges
	if payload.ReadAccess != "" {
		g.ReadAccess = usergroup.Policy(payload.ReadAccess)
	}
	if payload.WriteAccess != "" {
		g.WriteAccess = usergroup.Policy(payload.WriteAccess)
	}
	if !g.ReadAccess.Valid() || !g.WriteAccess.Valid() {
		h.writeError(w, `access policy must be "all" or "group"`, http.StatusBadRequest)
		return
	}

	if err := h.access.AddUserGroup(r.Context(), g); err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	logrus.WithFields(logrus.Fields{"group_id": g.ID, "group": g.Name}).Info("User group created")
	h.writeJSON(w, groupPayload(g))
}

func (h *Handler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookupGroup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, groupPayload(g))
}

func (h *Handler) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookupGroup(w, r)
	if !ok {
		return
	}

	var payload GroupPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.Name != "" {
		g.Name = payload.Name
	}
	g.Description = payload.Description
	g.IPRanges = payload.IPRanges
	if payload.ReadAccess != "" {
		g.ReadAccess = usergroup.Policy(payload.ReadAccess)
	}
	if payload.WriteAccess != "" {
		g.WriteAccess = usergroup.Policy(payload.WriteAccess)
	}
	if !g.ReadAccess.Valid() || !g.WriteAccess.Valid() {
		h.writeError(w, `access policy must be "all" or "group"`, http.StatusBadRequest)
		return
	}

	if err := g.Save(r.Context(), false); err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, groupPayload(g))
}

func (h *Handler) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, "invalid group id", http.StatusBadRequest)
		return
	}
	if err := h.access.DeleteUserGroup(r.Context(), id); err != nil {
		if errors.Is(err, access.ErrGroupNotFound) {
			h.writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]int64{"deleted": id})
}

// AssignmentPayload identifies one object in an assignment request.
type AssignmentPayload struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
}

func (h *Handler) handleAddObject(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookupGroup(w, r)
	if !ok {
		return
	}

	var payload AssignmentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.ObjectType == "" || payload.ObjectID == "" {
		h.writeError(w, "object_type and object_id are required", http.StatusBadRequest)
		return
	}

	if err := g.AddObject(r.Context(), payload.ObjectType, payload.ObjectID); err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := g.Save(r.Context(), false); err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, payload)
}

func (h *Handler) handleRemoveObject(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookupGroup(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	if err := g.RemoveObject(r.Context(), vars["type"], vars["objectID"]); err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := g.Save(r.Context(), true); err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]string{"object_type": vars["type"], "object_id": vars["objectID"]})
}

// MembershipPayload is the wire form of one resolved membership.
type MembershipPayload struct {
	ObjectID string            `json:"object_id"`
	Kind     string            `json:"kind"`
	Via      []AncestorPayload `json:"via,omitempty"`
}

// AncestorPayload is one hop of a recursive membership chain.
type AncestorPayload struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
	Name       string `json:"name,omitempty"`
}

func membershipKindName(k usergroup.MembershipKind) string {
	switch k {
	case usergroup.DirectMember:
		return "direct"
	case usergroup.RecursiveMember:
		return "recursive"
	default:
		return "none"
	}
}

func (h *Handler) handleGroupObjects(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookupGroup(w, r)
	if !ok {
		return
	}
	kind := usergroup.KindReal
	if r.URL.Query().Get("kind") == "full" {
		kind = usergroup.KindFull
	}

	memberships, err := g.ObjectsOfType(r.Context(), mux.Vars(r)["type"], kind)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	payloads := make([]MembershipPayload, 0, len(memberships))
	for objectID, m := range memberships {
		p := MembershipPayload{ObjectID: objectID, Kind: membershipKindName(m.Kind)}
		for _, a := range m.Via {
			p.Via = append(p.Via, AncestorPayload{ObjectType: a.ObjectType, ObjectID: a.ObjectID, Name: a.Name})
		}
		payloads = append(payloads, p)
	}
	sort.Slice(payloads, func(i, j int) bool { return payloads[i].ObjectID < payloads[j].ObjectID })
	h.writeJSON(w, payloads)
}

func (h *Handler) handleGroupsForObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	filter := r.URL.Query().Get("filter") == "true"

	groups, err := h.access.GroupsForObject(r.Context(), subjectFromQuery(r), vars["type"], vars["objectID"], filter)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	payloads := make([]GroupPayload, 0, len(groups))
	for _, g := range groups {
		payloads = append(payloads, groupPayload(g))
	}
	h.writeJSON(w, payloads)
}

// CheckRequest is the body of an object access check.
type CheckRequest struct {
	Subject    content.Subject `json:"subject"`
	ObjectType string          `json:"object_type"`
	ObjectID   string          `json:"object_id"`
	Intent     string          `json:"intent"`
}

func (h *Handler) handleCheckObjectAccess(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ObjectType == "" || req.ObjectID == "" {
		h.writeError(w, "object_type and object_id are required", http.StatusBadRequest)
		return
	}

	granted, err := h.access.CheckObjectAccess(r.Context(), req.Subject, req.ObjectType, req.ObjectID, access.ParseIntent(req.Intent))
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]bool{"granted": granted})
}

// UserCheckRequest is the body of a user-level capability check.
type UserCheckRequest struct {
	Subject    content.Subject `json:"subject"`
	Capability string          `json:"capability"`
}

func (h *Handler) handleCheckUserAccess(w http.ResponseWriter, r *http.Request) {
	var req UserCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.writeJSON(w, map[string]bool{"granted": h.access.CheckUserAccess(req.Subject, req.Capability)})
}

// SubjectRequest carries just the subject of an exclusion query.
type SubjectRequest struct {
	Subject content.Subject `json:"subject"`
}

func (h *Handler) handleExcludedPosts(w http.ResponseWriter, r *http.Request) {
	h.handleExcluded(w, r, h.access.ExcludedPostIDs)
}

func (h *Handler) handleExcludedTerms(w http.ResponseWriter, r *http.Request) {
	h.handleExcluded(w, r, h.access.ExcludedTermIDs)
}

func (h *Handler) handleExcluded(w http.ResponseWriter, r *http.Request, fn func(context.Context, content.Subject) ([]string, error)) {
	var req SubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ids, err := fn(r.Context(), req.Subject)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	h.writeJSON(w, ids)
}

func (h *Handler) handleObjectTypes(w http.ResponseWriter, r *http.Request) {
	registry := h.access.Registry()

	types := make([]string, 0)
	for name := range registry.AllObjectTypes() {
		types = append(types, name)
	}
	sort.Strings(types)

	postable := make([]string, 0)
	for name := range registry.PostableTypes() {
		postable = append(postable, name)
	}
	sort.Strings(postable)

	pluggable := make([]string, 0)
	for name := range registry.Pluggables() {
		pluggable = append(pluggable, name)
	}
	sort.Strings(pluggable)

	h.writeJSON(w, map[string][]string{
		"types":     types,
		"postable":  postable,
		"pluggable": pluggable,
	})
}

func (h *Handler) lookupGroup(w http.ResponseWriter, r *http.Request) (*usergroup.Group, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, "invalid group id", http.StatusBadRequest)
		return nil, false
	}
	g, err := h.access.UserGroup(r.Context(), id)
	if errors.Is(err, access.ErrGroupNotFound) {
		h.writeError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return g, true
}

// subjectFromQuery builds a Subject from the query parameters GET endpoints
// accept: subject_id, subject_roles (comma separated), subject_ip.
func subjectFromQuery(r *http.Request) content.Subject {
	q := r.URL.Query()
	subject := content.Subject{
		ID: q.Get("subject_id"),
		IP: q.Get("subject_ip"),
	}
	if roles := q.Get("subject_roles"); roles != "" {
		subject.Roles = strings.Split(roles, ",")
	}
	return subject
}

// Helper methods
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (h *Handler) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message})
	logrus.WithField("error", message).WithField("status", statusCode).Warn("API error")
}
