package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/sells-group/formguard/internal/block"
	"github.com/sells-group/formguard/internal/model"
	"github.com/sells-group/formguard/internal/store"
)

type blockRequest struct {
	VisitorID string `json:"visitorId"`
	IP        string `json:"ip"`
	Phone     string `json:"phone"`
	Reason    string `json:"reason"`
}

func (b blockRequest) target() block.Target {
	return block.Target{VisitorID: b.VisitorID, IP: b.IP, Phone: b.Phone}
}

func decodeBlockRequest(w http.ResponseWriter, r *http.Request) (blockRequest, bool) {
	var req blockRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return req, false
	}
	return req, true
}

type blockResponse struct {
	OK      bool         `json:"ok"`
	Blocked block.Target `json:"blocked"`
	Reason  string       `json:"reason,omitempty"`
	Derived []string     `json:"derived_visitor_ids"`
}

func (s *Server) handleAdminBlock(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBlockRequest(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Blocks.Block(r.Context(), req.target(), req.Reason)
	if err != nil {
		if errors.Is(err, block.ErrEmptyTarget) {
			writeError(w, http.StatusBadRequest, "visitorId, ip or phone is required")
			return
		}
		internalError(w, r, err)
		return
	}
	derived := res.Derived
	if derived == nil {
		derived = []string{}
	}
	writeJSON(w, http.StatusOK, blockResponse{OK: true, Blocked: res.Target, Reason: req.Reason, Derived: derived})
}

type unblockResponse struct {
	OK      bool `json:"ok"`
	Removed int  `json:"removed"`
}

func (s *Server) handleAdminUnblock(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBlockRequest(w, r)
	if !ok {
		return
	}
	n, err := s.deps.Blocks.Unblock(r.Context(), req.target())
	if err != nil {
		if errors.Is(err, block.ErrEmptyTarget) {
			writeError(w, http.StatusBadRequest, "visitorId, ip or phone is required")
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unblockResponse{OK: true, Removed: n})
}

type blockedListResponse struct {
	Visitors []model.BlockEntry `json:"visitors"`
	IPs      []model.BlockEntry `json:"ips"`
	Phones   []model.BlockEntry `json:"phones"`
}

func (s *Server) handleAdminBlocked(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", store.DefaultListLimit)
	if !ok {
		return
	}
	snap, err := s.deps.Blocks.Snapshot(r.Context(), limit)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, blockedListResponse{
		Visitors: snap[model.BlockVisitor],
		IPs:      snap[model.BlockIP],
		Phones:   snap[model.BlockPhone],
	})
}

type alertsResponse struct {
	Alerts    []model.AlertRecord `json:"alerts"`
	NextSince int64               `json:"next_since"`
}

func (s *Server) handleAdminAlerts(w http.ResponseWriter, r *http.Request) {
	since, ok := intParam(w, r, "since", 0)
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit", 50)
	if !ok {
		return
	}
	recs, err := s.deps.Alerts.ListAlerts(r.Context(), int64(since), limit)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.AlertRecord{}
	}
	next := int64(since)
	if len(recs) > 0 {
		next = recs[len(recs)-1].ID
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: recs, NextSince: next})
}

// intParam reads a non-negative integer query parameter.
func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}
