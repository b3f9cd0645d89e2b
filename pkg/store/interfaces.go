package store

import (
	"context"

	"speakline/pkg/model"
)

// HistoryStore handles utterance history persistence.
type HistoryStore interface {
	SaveUtterance(ctx context.Context, u *model.Utterance) error
	GetUtterance(ctx context.Context, id string) (*model.Utterance, error)
	// RecentUtterances returns up to limit utterances, newest first.
	RecentUtterances(ctx context.Context, limit int) ([]*model.Utterance, error)
	CountUtterances(ctx context.Context) (int, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
