package model

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// Behavior is the fixed schema of client interaction telemetry. Nil fields
// were not reported by the client.
type Behavior struct {
	DurationMS   *int64 `json:"duration_ms,omitempty"`
	PointerMoves *int64 `json:"mouse_moves,omitempty"`
	Scrolls      *int64 `json:"scrolls,omitempty"`
	KeyDowns     *int64 `json:"keydowns,omitempty"`
	PastedPhone  *bool  `json:"pasted_phone,omitempty"`
}

// Metadata keys understood by ParseBehavior.
const (
	MetaDurationMS   = "duration_ms"
	MetaPointerMoves = "mouse_moves"
	MetaScrolls      = "scrolls"
	MetaKeyDowns     = "keydowns"
	MetaPastedPhone  = "pasted_phone"
)

var knownMetaKeys = map[string]bool{
	MetaDurationMS:   true,
	MetaPointerMoves: true,
	MetaScrolls:      true,
	MetaKeyDowns:     true,
	MetaPastedPhone:  true,
}

// ParseBehavior extracts the known telemetry fields from a raw metadata JSON
// object. Values are coerced the way browsers tend to send them (numbers as
// strings, booleans as 0/1). Keys outside the schema are returned sorted so
// callers can log them; they never affect scoring.
func ParseBehavior(raw []byte) (Behavior, []string, error) {
	var b Behavior
	if len(raw) == 0 {
		return b, nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return b, nil, eris.New("model: behavior metadata is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if doc.Type == gjson.Null {
		return b, nil, nil
	}
	if !doc.IsObject() {
		return b, nil, eris.New("model: behavior metadata must be a JSON object")
	}

	var unknown []string
	doc.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if !knownMetaKeys[k] {
			unknown = append(unknown, k)
			return true
		}
		if value.Type == gjson.Null {
			return true
		}
		switch k {
		case MetaDurationMS:
			b.DurationMS = int64Ptr(value.Int())
		case MetaPointerMoves:
			b.PointerMoves = int64Ptr(value.Int())
		case MetaScrolls:
			b.Scrolls = int64Ptr(value.Int())
		case MetaKeyDowns:
			b.KeyDowns = int64Ptr(value.Int())
		case MetaPastedPhone:
			v := value.Bool()
			b.PastedPhone = &v
		}
		return true
	})
	sort.Strings(unknown)
	return b, unknown, nil
}

// Merge returns b overlaid with the non-nil fields of later.
func (b Behavior) Merge(later Behavior) Behavior {
	out := b
	if later.DurationMS != nil {
		out.DurationMS = later.DurationMS
	}
	if later.PointerMoves != nil {
		out.PointerMoves = later.PointerMoves
	}
	if later.Scrolls != nil {
		out.Scrolls = later.Scrolls
	}
	if later.KeyDowns != nil {
		out.KeyDowns = later.KeyDowns
	}
	if later.PastedPhone != nil {
		out.PastedPhone = later.PastedPhone
	}
	return out
}

// Duration returns the reported form duration in milliseconds, 0 if unset.
func (b Behavior) Duration() int64 { return deref(b.DurationMS) }

// Pointer returns the reported pointer-move count, 0 if unset.
func (b Behavior) Pointer() int64 { return deref(b.PointerMoves) }

// Scroll returns the reported scroll count, 0 if unset.
func (b Behavior) Scroll() int64 { return deref(b.Scrolls) }

// Keys returns the reported key-down count, 0 if unset.
func (b Behavior) Keys() int64 { return deref(b.KeyDowns) }

// Pasted reports whether the phone field was filled by paste.
func (b Behavior) Pasted() bool { return b.PastedPhone != nil && *b.PastedPhone }

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func int64Ptr(v int64) *int64 { return &v }
