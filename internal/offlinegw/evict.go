package offlinegw

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Sweep trims the dynamic cache to max entries, deleting the keys that
// enumerate first. Writes landing between enumeration and deletion are not
// coordinated with; the trim may then leave the cache slightly above or below
// max until the next sweep.
func Sweep(ctx context.Context, store Store, name string, max int) (int, error) {
	keys, err := store.Keys(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("enumerate %s: %w", name, err)
	}
	excess := len(keys) - max
	if excess <= 0 {
		return 0, nil
	}
	removed := 0
	for _, k := range keys[:excess] {
		ok, err := store.Delete(ctx, name, k)
		if err != nil {
			logrus.WithError(err).Warnf("[EVICT] delete %s from %s failed", k, name)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}
