package services

import (
	"context"
	"strings"

	apperrors "github.com/charlesng35/guildstats/pkg/errors"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func requireID(kind, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperrors.NewBadRequest(kind + " id is required")
	}
	return id, nil
}
