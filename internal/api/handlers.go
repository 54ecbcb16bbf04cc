package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/sells-group/formguard/internal/pipeline"
)

type healthResponse struct {
	OK bool      `json:"ok"`
	TS time.Time `json:"ts"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	ok := true
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(r.Context()); err != nil {
			status, ok = http.StatusServiceUnavailable, false
		}
	}
	writeJSON(w, status, healthResponse{OK: ok, TS: s.now().UTC()})
}

type captchaAnswer struct {
	ID     string `json:"captcha_id"`
	Answer string `json:"answer"`
}

type collectRequest struct {
	Site      string          `json:"site"`
	VisitorID string          `json:"visitorId"`
	Phone     string          `json:"phone"`
	Name      string          `json:"name"`
	Meta      json.RawMessage `json:"meta"`
	Captcha   *captchaAnswer  `json:"captcha"`
}

type collectResponse struct {
	*pipeline.Result
	CaptchaRequired bool `json:"captcha_required"`
	Blocked         bool `json:"blocked"`
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ev := pipeline.Event{
		Site:      req.Site,
		VisitorID: req.VisitorID,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Phone:     req.Phone,
		Name:      req.Name,
		Meta:      req.Meta,
	}
	if req.Captcha != nil {
		ev.CaptchaID = req.Captcha.ID
		ev.CaptchaAnswer = req.Captcha.Answer
	}

	res, err := s.deps.Pipeline.Submit(r.Context(), ev)
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		internalError(w, r, err)
		return
	}

	body := collectResponse{Result: res}
	status := http.StatusOK
	switch res.Outcome {
	case pipeline.OutcomeBlocked:
		status = http.StatusForbidden
		body.Blocked = true
	case pipeline.OutcomeChallengeRequired:
		status = http.StatusPreconditionRequired
		body.CaptchaRequired = true
	}
	writeJSON(w, status, body)
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rep, err := s.deps.Pipeline.QueryRisk(r.Context(), q.Get("site"), q.Get("vid"), clientIP(r))
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type blockedResponse struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"`
}

func (s *Server) handleIsBlocked(w http.ResponseWriter, r *http.Request) {
	vid := r.URL.Query().Get("vid")
	if vid == "" {
		writeError(w, http.StatusBadRequest, "vid is required")
		return
	}
	blocked, reason, err := s.deps.Pipeline.IsBlocked(r.Context(), vid, clientIP(r))
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, blockedResponse{Blocked: blocked, Reason: reason})
}

func (s *Server) handleCaptchaNew(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.deps.Pipeline.IssueChallenge(r.Context(), q.Get("site"), q.Get("vid"), clientIP(r))
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		internalError(w, r, err)
		return
	}
	if res.Blocked {
		writeJSON(w, http.StatusForbidden, blockedResponse{Blocked: true, Reason: res.BlockReason})
		return
	}
	writeJSON(w, http.StatusOK, res.Challenge)
}
