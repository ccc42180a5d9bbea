package quality

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/repository"

	"github.com/graph-gophers/dataloader"
)

// TargetResolver looks flag targets up in the entity store. A target that no longer
// exists resolves to nil without an error.
type TargetResolver struct {
	store repository.Store
}

// NewTargetResolver returns a resolver reading from store.
func NewTargetResolver(store repository.Store) *TargetResolver {
	return &TargetResolver{store: store}
}

func (r *TargetResolver) ShoppingCenter(ctx context.Context, ref domain.ShoppingCenterRef) (*domain.ShoppingCenter, error) {
	center, err := r.store.Centers().GetByID(ctx, ref.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &center, nil
}

func (r *TargetResolver) Tenant(ctx context.Context, ref domain.TenantRef) (*domain.Tenant, error) {
	tenant, err := r.store.Tenants().GetByID(ctx, ref.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// Resolve returns a *domain.ShoppingCenter, a *domain.Tenant or nil. Import record
// targets have no stored entity and always resolve to nil.
func (r *TargetResolver) Resolve(ctx context.Context, target domain.Target) (any, error) {
	switch t := target.(type) {
	case domain.ShoppingCenterRef:
		center, err := r.ShoppingCenter(ctx, t)
		if center == nil {
			return nil, err
		}
		return center, nil
	case domain.TenantRef:
		tenant, err := r.Tenant(ctx, t)
		if tenant == nil {
			return nil, err
		}
		return tenant, nil
	case domain.ImportRecordRef, nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported target %T", target)
}

// Describe resolves target and renders it the way listings do.
func (r *TargetResolver) Describe(ctx context.Context, target domain.Target) (string, error) {
	resolved, err := r.Resolve(ctx, target)
	if err != nil {
		return "", err
	}
	return Describe(target, resolved), nil
}

// TargetLoader batches target lookups of one request into a single query per
// entity kind.
type TargetLoader struct {
	Loader *dataloader.Loader
}

func NewTargetLoader(store repository.Store) *TargetLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		targets := make([]domain.Target, len(keys))
		var centerIDs, tenantIDs []int64
		for i, k := range keys {
			target, err := parseTargetKey(k.String())
			if err != nil {
				return failAll(len(keys), err)
			}
			targets[i] = target
			switch t := target.(type) {
			case domain.ShoppingCenterRef:
				centerIDs = append(centerIDs, t.ID)
			case domain.TenantRef:
				tenantIDs = append(tenantIDs, t.ID)
			}
		}

		centers, err := store.Centers().GetByIDs(ctx, centerIDs)
		if err != nil {
			return failAll(len(keys), err)
		}
		tenants, err := store.Tenants().GetByIDs(ctx, tenantIDs)
		if err != nil {
			return failAll(len(keys), err)
		}

		centerMap := make(map[int64]*domain.ShoppingCenter, len(centers))
		for i := range centers {
			centerMap[centers[i].ID] = &centers[i]
		}
		tenantMap := make(map[int64]*domain.Tenant, len(tenants))
		for i := range tenants {
			tenantMap[tenants[i].ID] = &tenants[i]
		}

		results := make([]*dataloader.Result, len(keys))
		for i, target := range targets {
			results[i] = &dataloader.Result{Data: nil}
			switch t := target.(type) {
			case domain.ShoppingCenterRef:
				if c, ok := centerMap[t.ID]; ok {
					results[i].Data = c
				}
			case domain.TenantRef:
				if tn, ok := tenantMap[t.ID]; ok {
					results[i].Data = tn
				}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))
	return &TargetLoader{Loader: loader}
}

// Load resolves one target; see TargetResolver.Resolve for the result types.
func (l *TargetLoader) Load(ctx context.Context, target domain.Target) (any, error) {
	return l.Loader.Load(ctx, dataloader.StringKey(targetKey(target)))()
}

// LoadAll resolves targets in one round trip per entity kind.
func (l *TargetLoader) LoadAll(ctx context.Context, targets []domain.Target) ([]any, []error) {
	keys := make(dataloader.Keys, len(targets))
	for i, t := range targets {
		keys[i] = dataloader.StringKey(targetKey(t))
	}
	return l.Loader.LoadMany(ctx, keys)()
}

func targetKey(t domain.Target) string {
	return string(t.ContentType()) + ":" + strconv.FormatInt(t.ObjectID(), 10)
}

func parseTargetKey(key string) (domain.Target, error) {
	contentType, rawID, ok := strings.Cut(key, ":")
	if !ok {
		return nil, fmt.Errorf("invalid target key %q", key)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid target key %q: %w", key, err)
	}
	return domain.ParseTarget(contentType, id)
}

func failAll(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}

// Describe renders a resolved target for listings.
func Describe(target domain.Target, resolved any) string {
	switch v := resolved.(type) {
	case *domain.ShoppingCenter:
		return fmt.Sprintf("%s #%d %s", target.ContentType(), v.ID, v.Name)
	case *domain.Tenant:
		return fmt.Sprintf("%s #%d %s", target.ContentType(), v.ID, v.Name)
	}
	if _, ok := target.(domain.ImportRecordRef); ok {
		return fmt.Sprintf("row %d", target.ObjectID())
	}
	return fmt.Sprintf("%s #%d (deleted)", target.ContentType(), target.ObjectID())
}
