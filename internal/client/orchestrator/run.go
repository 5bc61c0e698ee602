package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/plotkeeper/internal/client/baseline"
	"github.com/dmitrijs2005/plotkeeper/internal/client/localbundle"
	"github.com/dmitrijs2005/plotkeeper/internal/client/merge"
	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/cache"
	"github.com/dmitrijs2005/plotkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/plotkeeper/internal/client/session"
	"github.com/dmitrijs2005/plotkeeper/internal/common"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// sync performs one run. It never panics past its caller and always
// returns a classified result.
func (o *Orchestrator) sync(ctx context.Context, reason string) SyncRunResult {
	start := o.now()
	o.Log.Info(ctx, "sync started", "reason", reason)

	res, err := o.pipeline(ctx)
	if errors.Is(err, ErrLocalMoved) {
		o.mu.Lock()
		o.queued = true
		o.status.Queued = true
		o.mu.Unlock()
	}
	if err != nil {
		res = o.fail(ctx, err)
	}

	switch res.Kind {
	case KindNone:
		o.saveLastError(ctx, "")
	case KindConflict, KindDisconnected:
	default:
		o.saveLastError(ctx, res.Message)
	}
	o.Log.Info(ctx, "sync finished",
		"reason", reason,
		"success", res.Success,
		"kind", res.Kind,
		"conflicts", len(res.Conflicts),
		"took", time.Since(start),
	)
	return res
}

func (o *Orchestrator) pipeline(ctx context.Context) (SyncRunResult, error) {
	if o.Sessions.State() != session.StateConnected {
		return SyncRunResult{}, session.ErrNotConnected
	}
	token, err := o.Sessions.AccessToken(ctx)
	if err != nil {
		return SyncRunResult{}, err
	}
	ident, err := o.Sessions.Identity(ctx)
	if err != nil {
		return SyncRunResult{}, err
	}
	if ident == nil {
		return SyncRunResult{}, session.ErrNotConnected
	}

	var local, remote models.Bundle
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if local, err = o.Local.Build(gctx); err != nil {
			return fmt.Errorf("%w: %w", ErrLocalBuild, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if remote, err = o.Remote.FetchBundle(gctx, token, ident.UserID); err != nil {
			return fmt.Errorf("%w: %w", ErrRemoteFetch, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return SyncRunResult{}, err
	}

	baselines, err := o.Baselines.LoadAll(ctx)
	if err != nil {
		return SyncRunResult{}, fmt.Errorf("%w: %w", ErrLocalBuild, err)
	}
	queued, err := localbundle.QueuedTombstones(ctx, o.Meta)
	if err != nil {
		return SyncRunResult{}, fmt.Errorf("%w: %w", ErrLocalBuild, err)
	}

	m := merge.Merge(local, remote, baselines)
	if len(m.Conflicts) > 0 {
		o.Log.Warn(ctx, "sync stopped on conflicts", "count", len(m.Conflicts))
		return SyncRunResult{
			Message:   fmt.Sprintf("%d conflict(s) need a decision", len(m.Conflicts)),
			Kind:      KindConflict,
			Conflicts: m.Conflicts,
		}, nil
	}

	rowTargets := append([]string(nil), m.LocalChanged...)
	for pid := range queued {
		rowTargets = appendUnique(rowTargets, pid)
	}
	sort.Strings(rowTargets)

	if err := o.commitLocal(ctx, local, m.Merged, rowTargets, m.Affected()); err != nil {
		return SyncRunResult{}, err
	}

	if len(m.RemoteChanged) > 0 {
		var push models.Bundle
		for _, pid := range m.RemoteChanged {
			push.Append(m.Merged.ForProject(pid))
		}
		if err := o.Remote.UpsertBundle(ctx, token, push); err != nil {
			return SyncRunResult{}, fmt.Errorf("%w: %w", ErrRemotePush, err)
		}
	}

	o.advance(ctx, m.Merged, queued)

	touched := m.Affected()
	for pid := range queued {
		touched = appendUnique(touched, pid)
	}
	sort.Strings(touched)
	return SyncRunResult{
		Success:  true,
		Message:  fmt.Sprintf("synced, %d project(s) updated", len(touched)),
		Projects: touched,
	}, nil
}

// commitLocal stages the merged rows of rowTargets in one cache
// transaction, writes the package of every project in packageTargets while
// the transaction is still open, and commits only after all packages were
// written. Projects whose package was written but whose rows could not be
// committed are restored from that package.
func (o *Orchestrator) commitLocal(ctx context.Context, local models.Bundle, merged models.Bundle, rowTargets, packageTargets []string) error {
	if len(rowTargets) == 0 && len(packageTargets) == 0 {
		return nil
	}
	paths := map[string]string{}
	for _, p := range local.Projects {
		if p.PackagePath != "" {
			paths[p.ID] = p.PackagePath
		}
	}

	var written []string
	err := o.Cache.WithTx(ctx, func(ctx context.Context, repo cache.Repository) error {
		for _, pid := range rowTargets {
			cur, err := repo.LoadProject(ctx, pid)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrCacheCommit, err)
			}
			if !sameRows(cur, local.ForProject(pid)) {
				return fmt.Errorf("%w: %s", ErrLocalMoved, pid)
			}

			part := merged.ForProject(pid)
			if len(part.Projects) == 1 {
				part.Projects[0].PackagePath = o.packagePath(pid, paths)
			}
			if err := repo.ReplaceProject(ctx, pid, part); err != nil {
				return fmt.Errorf("%w: %w", ErrCacheCommit, err)
			}
		}
		for _, pid := range packageTargets {
			part := merged.ForProject(pid)
			if len(part.Projects) != 1 {
				continue
			}
			path := o.packagePath(pid, paths)
			if path == "" {
				o.Log.Warn(ctx, "project has no package location", "project", pid)
				continue
			}
			if err := o.Packages.WritePackage(ctx, path, part); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrPackageWrite, pid, err)
			}
			written = append(written, path)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrPackageWrite) && !errors.Is(err, ErrLocalMoved) {
		err = fmt.Errorf("%w: %w", ErrCacheCommit, err)
	}
	for _, path := range written {
		if _, rerr := o.Local.RestoreProject(ctx, path); rerr != nil {
			o.Log.Error(ctx, "restore cache from package failed", "path", path, "error", rerr)
		}
	}
	return err
}

func (o *Orchestrator) packagePath(pid string, known map[string]string) string {
	if p, ok := known[pid]; ok {
		return p
	}
	if o.packageDir == "" {
		return ""
	}
	return filepath.Join(o.packageDir, pid+common.PackageExtension)
}

// advance records convergence after a fully committed run. Failures here
// only cost a redundant comparison on the next run, so they are logged.
func (o *Orchestrator) advance(ctx context.Context, merged models.Bundle, queued map[string][]models.Tombstone) {
	now := o.now().UTC()
	stamp := []byte(now.Format(time.RFC3339Nano))

	for _, pid := range merged.ProjectIDs() {
		b := baseline.Capture(pid, merged.ForProject(pid), now)
		if err := o.Baselines.Save(ctx, b); err != nil {
			o.Log.Error(ctx, "save baseline failed", "project", pid, "error", err)
		}
		if err := o.Meta.Set(ctx, metadata.LastSyncedKey(pid), stamp); err != nil {
			o.Log.Warn(ctx, "save sync time failed", "project", pid, "error", err)
		}
	}
	for pid := range queued {
		if err := localbundle.ClearQueued(ctx, o.Meta, pid); err != nil {
			o.Log.Warn(ctx, "clear queued tombstones failed", "project", pid, "error", err)
		}
	}
	if err := o.Meta.Set(ctx, metadata.KeyLastSyncedAt, stamp); err != nil {
		o.Log.Warn(ctx, "save sync time failed", "error", err)
	}
}

// fail classifies err and applies its consequences. An auth-fatal error
// drops the session.
func (o *Orchestrator) fail(ctx context.Context, err error) SyncRunResult {
	kind := Classify(err)
	o.Log.Warn(ctx, "sync failed", "kind", kind, "error", err)

	msg := err.Error()
	switch kind {
	case KindAuth:
		if derr := o.Sessions.Disconnect(ctx); derr != nil {
			o.Log.Error(ctx, "clear session failed", "error", derr)
		}
		if serr := o.Meta.Set(ctx, metadata.KeyWasConnected, []byte("false")); serr != nil {
			o.Log.Warn(ctx, "persist connection flag failed", "error", serr)
		}
		msg = "sign-in expired, reconnect to resume sync: " + msg
	case KindPersistence:
		msg = "changes are saved locally but not backed up: " + msg
	case KindTransient:
		if !errors.Is(err, ErrLocalMoved) {
			msg = "could not reach the sync server: " + msg
		}
	}
	return SyncRunResult{Message: msg, Kind: kind}
}

// Classify maps a run error to its FailureKind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, session.ErrNotConnected):
		return KindDisconnected
	case session.IsAuthFatal(err), errors.Is(err, common.ErrorUnauthorized):
		return KindAuth
	case errors.Is(err, ErrPackageWrite), errors.Is(err, ErrCacheCommit), errors.Is(err, ErrLocalBuild):
		return KindPersistence
	default:
		return KindTransient
	}
}

// sameRows compares the cached row sets of two bundles. World documents and
// tombstones are not rows of their own and are ignored.
func sameRows(a, b models.Bundle) bool {
	a.WorldDocuments, b.WorldDocuments = nil, nil
	a.Tombstones, b.Tombstones = nil, nil
	a.Sort()
	b.Sort()
	ja, err := models.CanonicalJSON(a)
	if err != nil {
		return false
	}
	jb, err := models.CanonicalJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
