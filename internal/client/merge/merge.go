// Package merge combines a local and a remote bundle into one, using the
// per-project baselines to decide every entity.
//
// Merge is a pure function: the same three inputs always give the same
// output.
package merge

import (
	"bytes"
	"sort"

	"github.com/dmitrijs2005/plotkeeper/internal/client/baseline"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// Result is the outcome of one merge.
type Result struct {
	Merged    models.Bundle
	Conflicts []models.ConflictRecord

	// LocalChanged lists projects whose merged content differs from the
	// local bundle; their cache rows and package files must be rewritten.
	LocalChanged []string
	// RemoteChanged lists projects the remote store has not seen in their
	// merged form.
	RemoteChanged []string
}

// Affected is the sorted union of LocalChanged and RemoteChanged.
func (r Result) Affected() []string {
	seen := map[string]struct{}{}
	for _, id := range r.LocalChanged {
		seen[id] = struct{}{}
	}
	for _, id := range r.RemoteChanged {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type deadKey struct {
	typ models.EntityType
	id  string
}

// Merge reconciles local and remote. baselines is keyed by project id; a
// missing entry means the project has never converged.
func Merge(local, remote models.Bundle, baselines map[string]*baseline.Baseline) Result {
	var res Result

	tombstones := mergeTombstones(local.Tombstones, remote.Tombstones)
	dead := map[deadKey]struct{}{}
	deadProjects := map[string]struct{}{}
	for _, t := range tombstones {
		dead[deadKey{t.EntityType, t.EntityID}] = struct{}{}
		if t.EntityType == models.EntityProject {
			deadProjects[t.EntityID] = struct{}{}
		}
	}

	ids := union(local.ProjectIDs(), remote.ProjectIDs())
	for _, pid := range ids {
		l := local.ForProject(pid)
		r := remote.ForProject(pid)

		var merged models.Bundle
		for _, t := range tombstones {
			if t.ProjectID == pid {
				merged.Tombstones = append(merged.Tombstones, t)
			}
		}

		if _, gone := deadProjects[pid]; !gone {
			base := baselines[pid]
			merged.Projects = detect(pid, l.Projects, r.Projects, base, dead, &res.Conflicts)
			merged.Chapters = detect(pid, l.Chapters, r.Chapters, base, dead, &res.Conflicts)
			merged.Characters = detect(pid, l.Characters, r.Characters, base, dead, &res.Conflicts)
			merged.Terms = detect(pid, l.Terms, r.Terms, base, dead, &res.Conflicts)
			merged.WorldDocuments = detect(pid, l.WorldDocuments, r.WorldDocuments, base, dead, &res.Conflicts)
			merged.Memos = detect(pid, l.Memos, r.Memos, base, dead, &res.Conflicts)
			merged.Snapshots = unionSnapshots(l.Snapshots, r.Snapshots, dead)
		}

		merged.Sort()
		if !equal(merged, l) {
			res.LocalChanged = append(res.LocalChanged, pid)
		}
		if !equal(merged, r) {
			res.RemoteChanged = append(res.RemoteChanged, pid)
		}
		res.Merged.Append(merged)
	}

	res.Merged.Sort()
	sort.SliceStable(res.Conflicts, func(i, j int) bool {
		a, b := res.Conflicts[i], res.Conflicts[j]
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
	return res
}

func detect[T models.Entity](pid string, local, remote []T, base *baseline.Baseline, dead map[deadKey]struct{}, conflicts *[]models.ConflictRecord) []T {
	out := baseline.Detect(pid, alive(local, dead), alive(remote, dead), base)
	*conflicts = append(*conflicts, out.Conflicts...)
	return out.Resolved
}

// alive drops tombstoned entities; a tombstone always beats an update.
func alive[T models.Entity](items []T, dead map[deadKey]struct{}) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if _, ok := dead[deadKey{it.EntityType(), it.EntityID()}]; ok {
			continue
		}
		out = append(out, it)
	}
	return out
}

// mergeTombstones unions both lists by id. The later copy wins; on a tie
// the local one is kept.
func mergeTombstones(local, remote []models.Tombstone) []models.Tombstone {
	byID := make(map[string]models.Tombstone, len(local)+len(remote))
	for _, t := range local {
		if cur, ok := byID[t.ID]; !ok || t.UpdatedAt.After(cur.UpdatedAt) {
			byID[t.ID] = t
		}
	}
	for _, t := range remote {
		if cur, ok := byID[t.ID]; !ok || t.UpdatedAt.After(cur.UpdatedAt) {
			byID[t.ID] = t
		}
	}

	out := make([]models.Tombstone, 0, len(byID))
	for _, t := range byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// unionSnapshots merges immutable snapshots by id.
func unionSnapshots(local, remote []models.Snapshot, dead map[deadKey]struct{}) []models.Snapshot {
	byID := map[string]models.Snapshot{}
	for _, s := range alive(remote, dead) {
		byID[s.ID] = s
	}
	for _, s := range alive(local, dead) {
		byID[s.ID] = s
	}

	out := make([]models.Snapshot, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	models.SortEntities(out)
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func equal(a, b models.Bundle) bool {
	a.Sort()
	b.Sort()
	ea, err1 := models.CanonicalJSON(a)
	eb, err2 := models.CanonicalJSON(b)
	return err1 == nil && err2 == nil && bytes.Equal(ea, eb)
}
