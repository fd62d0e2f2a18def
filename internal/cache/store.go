package cache

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/charlesng35/guildstats/pkg/errors"
	"github.com/charlesng35/guildstats/pkg/metrics"
)

// Document is a persisted record addressed by a string id.
type Document interface {
	DocumentID() string
}

// Store is the document contract consumed by the counter, policy and user info services.
// A missing document is reported through the boolean, never as an error. Backend failures
// are returned as ErrStoreUnavailable; undecodable documents as ErrInvalidRecord.
type Store[D Document] interface {
	FindOne(ctx context.Context, id string) (D, bool, error)
	UpsertReplace(ctx context.Context, doc D) error
	Delete(ctx context.Context, id string) error
}

// touchable documents carry a modification time. Backends that do not maintain it
// themselves stamp it on write.
type touchable[D any] interface {
	Touched(at time.Time) D
}

func touch[D Document](doc D, at time.Time) D {
	if t, ok := any(doc).(touchable[D]); ok {
		return t.Touched(at)
	}
	return doc
}

var errMissingDocumentID = apperrors.NewBadRequest("cache: document id is required")

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrStoreUnavailable) || errors.Is(err, apperrors.ErrInvalidRecord) {
		return err
	}
	return apperrors.ErrStoreUnavailable.WithInternal(err)
}

func observe(backend, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StoreOperations.WithLabelValues(backend, operation, result).Inc()
}
