package pipeline

import (
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formguard/internal/model"
)

// ErrValidation marks a malformed event. It is rejected before any state is
// touched.
var ErrValidation = eris.New("pipeline: validation failed")

const (
	maxIDLen    = 256
	maxNameLen  = 200
	maxPhoneLen = 32
)

// Event is one incoming form submission.
type Event struct {
	Site      string `json:"site"`
	VisitorID string `json:"visitorId"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
	Phone     string `json:"phone,omitempty"`
	Name      string `json:"name,omitempty"`
	// Meta is the raw behavioral metadata object reported by the client.
	Meta []byte `json:"-"`
	// CaptchaID and CaptchaAnswer carry a solved challenge on resubmission.
	CaptchaID     string `json:"-"`
	CaptchaAnswer string `json:"-"`
}

// validated is an Event after trimming, normalization and metadata parsing.
type validated struct {
	key       model.VisitorKey
	ip        string
	userAgent string
	phone     string
	name      string
	behavior  model.Behavior
	unknown   []string
	captchaID string
	answer    string
}

func validationError(format string, args ...any) error {
	return eris.Wrapf(ErrValidation, format, args...)
}

func validateKey(site, visitorID string) (model.VisitorKey, error) {
	key := model.VisitorKey{Site: strings.TrimSpace(site), VisitorID: strings.TrimSpace(visitorID)}
	if key.Site == "" {
		return key, validationError("site is required")
	}
	if key.VisitorID == "" {
		return key, validationError("visitor id is required")
	}
	if len(key.Site) > maxIDLen || len(key.VisitorID) > maxIDLen {
		return key, validationError("site and visitor id must be at most %d bytes", maxIDLen)
	}
	return key, nil
}

func (e Event) validate() (*validated, error) {
	key, err := validateKey(e.Site, e.VisitorID)
	if err != nil {
		return nil, err
	}

	v := &validated{
		key:       key,
		ip:        strings.TrimSpace(e.IP),
		userAgent: e.UserAgent,
		phone:     model.NormalizePhone(e.Phone),
		name:      model.NormalizeName(e.Name),
		captchaID: strings.TrimSpace(e.CaptchaID),
		answer:    e.CaptchaAnswer,
	}
	if len(v.phone) > maxPhoneLen {
		return nil, validationError("phone must be at most %d characters", maxPhoneLen)
	}
	if utf8.RuneCountInString(v.name) > maxNameLen {
		return nil, validationError("name must be at most %d characters", maxNameLen)
	}

	v.behavior, v.unknown, err = model.ParseBehavior(e.Meta)
	if err != nil {
		return nil, eris.Wrap(ErrValidation, err.Error())
	}
	return v, nil
}
