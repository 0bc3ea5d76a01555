package ingest

import (
	"context"

	"github.com/OpenParlCA/OP-Backend/internal/flow"
)

// Services bundles the per-domain integration services a worker executes.
type Services struct {
	Bills       *BillService
	Politicians *PoliticianService
	Votes       *VoteService
	Committees  *CommitteeService
	Debates     *DebateService
}

// BuildRegistry assembles the ingestion flows and their deployments. The
// roster flow runs daily; the legislation flow runs hourly and is exclusive
// so a slow sync never overlaps the next tick.
func BuildRegistry(svc Services, jurisdiction, pool string, parliament, session int) (*flow.Registry, error) {
	reg := flow.NewRegistry()

	resultMap := func(r Result) map[string]any {
		return map[string]any{
			"attempted": r.Attempted,
			"succeeded": r.Succeeded,
			"failed":    r.Failed,
			"created":   r.Counts.Created,
			"updated":   r.Counts.Updated,
			"status":    string(r.Status()),
		}
	}

	roster := flow.Flow{
		Name:    "sync-roster",
		Version: "1",
		Tasks: []flow.Task{
			{
				Name: "sync-politicians",
				Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
					res, err := svc.Politicians.Sync(ctx)
					if err != nil {
						return nil, err
					}
					return resultMap(res), nil
				},
			},
		},
	}

	legislation := flow.Flow{
		Name:    "sync-legislation",
		Version: "1",
		Tasks: []flow.Task{
			{
				Name: "sync-politicians",
				Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
					res, err := svc.Politicians.Sync(ctx)
					if err != nil {
						return nil, err
					}
					return resultMap(res), nil
				},
				// The roster changes rarely; reuse a fresh result across
				// back-to-back runs.
				Cacheable: true,
			},
			{
				Name:      "sync-bills",
				DependsOn: []string{"sync-politicians"},
				Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
					res, err := svc.Bills.Sync(ctx, paramInt(params, "parliament"), paramInt(params, "session"))
					if err != nil {
						return nil, err
					}
					return resultMap(res), nil
				},
			},
			{
				Name:      "enrich-bills",
				DependsOn: []string{"sync-bills"},
				Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
					res, err := svc.Bills.Enrich(ctx, jurisdiction, paramInt(params, "parliament"), paramInt(params, "session"))
					if err != nil {
						return nil, err
					}
					return resultMap(res), nil
				},
			},
			{
				Name:      "sync-votes",
				DependsOn: []string{"sync-bills"},
				Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
					res, err := svc.Votes.Sync(ctx, paramInt(params, "parliament"), paramInt(params, "session"))
					if err != nil {
						return nil, err
					}
					return resultMap(res), nil
				},
			},
			{
				Name:      "sync-committees",
				DependsOn: []string{"sync-politicians"},
				Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
					res, err := svc.Committees.Sync(ctx, paramInt(params, "parliament"), paramInt(params, "session"))
					if err != nil {
						return nil, err
					}
					return resultMap(res), nil
				},
			},
			{
				Name:      "sync-debates",
				DependsOn: []string{"sync-politicians"},
				Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
					res, err := svc.Debates.Sync(ctx, paramInt(params, "parliament"), paramInt(params, "session"))
					if err != nil {
						return nil, err
					}
					return resultMap(res), nil
				},
			},
		},
	}

	for _, f := range []flow.Flow{roster, legislation} {
		if err := reg.AddFlow(f); err != nil {
			return nil, err
		}
	}

	defaults := map[string]any{"parliament": parliament, "session": session}
	deployments := []flow.Deployment{
		{
			Name:          "sync-legislation-hourly",
			FlowName:      "sync-legislation",
			Schedule:      "15 * * * *",
			Pool:          pool,
			DefaultParams: defaults,
			Exclusive:     true,
		},
		{
			Name:          "sync-roster-daily",
			FlowName:      "sync-roster",
			Schedule:      "30 4 * * *",
			Pool:          pool,
			DefaultParams: defaults,
		},
	}
	for _, d := range deployments {
		if err := reg.AddDeployment(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// paramInt reads an integer flow parameter; JSON round-trips render numbers
// as float64.
func paramInt(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
