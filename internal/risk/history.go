package risk

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formguard/internal/model"
	"github.com/sells-group/formguard/internal/store"
)

// LoadHistory reads the rolling-window history for key through the narrow
// store queries. The shared-phone count is only read when phone is set.
func LoadHistory(ctx context.Context, r store.HistoryReader, key model.VisitorKey, phone string, since time.Time) (History, error) {
	var h History
	var err error

	if h.PriorCount, err = r.CountInWindow(ctx, key, since); err != nil {
		return History{}, eris.Wrap(err, "risk: load history")
	}
	if h.PriorPhones, err = r.DistinctPhones(ctx, key, since); err != nil {
		return History{}, eris.Wrap(err, "risk: load history")
	}
	if h.PriorNames, err = r.DistinctNames(ctx, key, since); err != nil {
		return History{}, eris.Wrap(err, "risk: load history")
	}
	if phone != "" {
		if h.SharedPhoneCount, err = r.CountByPhone(ctx, phone, key.VisitorID, since); err != nil {
			return History{}, eris.Wrap(err, "risk: load history")
		}
	}
	return h, nil
}
