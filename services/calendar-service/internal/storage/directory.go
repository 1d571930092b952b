package storage

import (
	"context"

	"github.com/md-rashed-zaman/planner/libs/retry"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/model"
)

// Directory is the user lookup half of Store.
type Directory interface {
	MissingUsers(ctx context.Context, ids []string) ([]string, error)
	GetUser(ctx context.Context, id string) (model.User, error)
}

// CheckOwners fails with NotFound naming every unknown id. Only the store round trip is
// retried; a definite answer is never repeated.
func CheckOwners(ctx context.Context, d Directory, p retry.Policy, ids []string) error {
	missing, err := retry.Do(ctx, p, func(ctx context.Context) ([]string, error) {
		return d.MissingUsers(ctx, ids)
	})
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return model.NotFound("user", missing...)
	}
	return nil
}

// LookupUser is GetUser with transient failures retried and NotFound returned at once.
func LookupUser(ctx context.Context, d Directory, p retry.Policy, id string) (model.User, error) {
	var notFound error
	u, err := retry.Do(ctx, p, func(ctx context.Context) (model.User, error) {
		u, err := d.GetUser(ctx, id)
		if model.IsKind(err, model.KindNotFound) {
			notFound = err
			return model.User{}, nil
		}
		return u, err
	})
	if err != nil {
		return model.User{}, err
	}
	if notFound != nil {
		return model.User{}, notFound
	}
	return u, nil
}
