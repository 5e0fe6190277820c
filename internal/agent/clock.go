package agent

import (
	"context"
	"time"

	"github.com/vijoin/tero/internal/tools"
)

type clockParams struct{}

// clockAction is available to every agent regardless of its tools.
func clockAction(now func() time.Time) tools.Action {
	return tools.NewFuncAction("clock", "Returns the current time in UTC.",
		func(ctx context.Context, _ clockParams) (*tools.Result, error) {
			return &tools.Result{Content: now().UTC().Format(time.RFC3339) + "."}, nil
		})
}
