package store

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/sells-group/formguard/internal/model"
)

func encodeReasons(reasons []string) ([]byte, error) {
	if reasons == nil {
		reasons = []string{}
	}
	b, err := json.Marshal(reasons)
	return b, eris.Wrap(err, "marshal reasons")
}

func decodeReasons(b []byte) ([]string, error) {
	out := []string{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, eris.Wrap(err, "unmarshal reasons")
	}
	return out, nil
}

func encodeBehavior(b model.Behavior) ([]byte, error) {
	out, err := json.Marshal(b)
	return out, eris.Wrap(err, "marshal behavior")
}

func decodeBehavior(raw []byte) (model.Behavior, error) {
	var b model.Behavior
	if len(raw) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return b, eris.Wrap(err, "unmarshal behavior")
	}
	return b, nil
}
