package checks

import (
	"context"
	"errors"
	"time"

	"github.com/charlesng35/guildstats/internal/cache"
	"github.com/charlesng35/guildstats/internal/monitoring"
	apperrors "github.com/charlesng35/guildstats/pkg/errors"
)

// probeDocumentID is looked up on every store probe. It is never written.
const probeDocumentID = "__healthcheck__"

// Store returns a readiness probe that performs a lookup through the active document store.
// A malformed probe record still proves the backend answers.
func Store[D cache.Document](name string, store cache.Store[D], timeout time.Duration) monitoring.Check {
	component := "store:" + name
	return monitoring.NewCheck(component, func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "store not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()

		_, _, err := store.FindOne(probeCtx, probeDocumentID)
		if errors.Is(err, apperrors.ErrInvalidRecord) {
			err = nil
		}
		return monitoring.ResultFromError(component, err, time.Since(start))
	})
}
