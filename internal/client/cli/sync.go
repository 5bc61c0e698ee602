package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/plotkeeper/internal/client/orchestrator"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

func (a *App) Status(_ context.Context, _ []string) error {
	s := a.engine.Status()
	fmt.Fprintln(a.out, formatStatus(s))
	if s.LastError != "" {
		fmt.Fprintln(a.out, "last error:", s.LastError)
	}
	return nil
}

// Sync runs a sync now and waits for its result.
func (a *App) Sync(ctx context.Context, _ []string) error {
	a.printResult(a.engine.RunNow(ctx, "manual"))
	return nil
}

func (a *App) AutoSync(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("%w: autosync on|off", errUsage)
	}
	return a.engine.SetAutoSync(ctx, args[0] == "on")
}

func (a *App) Conflicts(_ context.Context, _ []string) error {
	cs := a.engine.Status().Conflicts
	if len(cs) == 0 {
		fmt.Fprintln(a.out, "No conflicts.")
		return nil
	}
	for _, c := range cs {
		fmt.Fprintln(a.out, c.String())
	}
	return nil
}

// Resolve picks the winning side of one conflict.
func (a *App) Resolve(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: resolve <type> <id> local|remote", errUsage)
	}
	t, err := models.ParseEntityType(args[0])
	if err != nil {
		return err
	}
	r, err := models.ParseResolution(args[2])
	if err != nil {
		return err
	}
	res, err := a.engine.ResolveConflict(ctx, t, args[1], r)
	if err != nil {
		return err
	}
	a.printResult(res)
	return nil
}

func (a *App) printResult(res orchestrator.SyncRunResult) {
	switch {
	case res.Success:
		fmt.Fprintf(a.out, "Synced %d projects.\n", len(res.Projects))
	case res.Kind == orchestrator.KindConflict:
		fmt.Fprintf(a.out, "%d conflicts, nothing was written:\n", len(res.Conflicts))
		for _, c := range res.Conflicts {
			fmt.Fprintln(a.out, " ", c.String())
		}
	default:
		fmt.Fprintln(a.out, "Sync failed:", res.Message)
	}
}
