package baseline

import (
	"bytes"
	"sort"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// Result is the outcome of Detect for one entity kind of one project.
type Result[T models.Entity] struct {
	// Resolved holds the winning copy of every entity that is not in
	// conflict, ordered by id.
	Resolved  []T
	Conflicts []models.ConflictRecord
}

// Detect classifies every entity present in either replica against base.
//
//   - only one replica has it: that copy is kept
//   - a forced resolution exists: the forced side is kept; a forced local
//     copy is stamped just after the remote one
//   - only one side moved past the baseline: that side wins
//   - neither moved: the local copy is kept
//   - both moved: conflict, unless both copies encode identically
//
// Entities with no baseline entry count as moved. Conflicting entities are
// left out of Resolved.
func Detect[T models.Entity](projectID string, local, remote []T, base *Baseline) Result[T] {
	l := index(projectID, local)
	r := index(projectID, remote)

	ids := make([]string, 0, len(l)+len(r))
	for id := range l {
		ids = append(ids, id)
	}
	for id := range r {
		if _, ok := l[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var res Result[T]
	for _, id := range ids {
		lv, inL := l[id]
		rv, inR := r[id]

		switch {
		case !inR:
			res.Resolved = append(res.Resolved, lv)
			continue
		case !inL:
			res.Resolved = append(res.Resolved, rv)
			continue
		}

		typ := lv.EntityType()
		if side, ok := base.ForcedSide(typ, id); ok {
			if side == models.ResolveRemote {
				res.Resolved = append(res.Resolved, rv)
			} else {
				res.Resolved = append(res.Resolved, supersede(lv, rv))
			}
			continue
		}

		bt, hasBase := base.Get(typ, id)
		localMoved := !hasBase || lv.Timestamp().After(bt)
		remoteMoved := !hasBase || rv.Timestamp().After(bt)

		switch {
		case localMoved && remoteMoved:
			if sameContent(lv, rv) {
				res.Resolved = append(res.Resolved, lv)
				continue
			}
			c := models.ConflictRecord{
				Type:            typ,
				ID:              id,
				ProjectID:       projectID,
				LocalUpdatedAt:  lv.Timestamp(),
				RemoteUpdatedAt: rv.Timestamp(),
			}
			if hasBase {
				t := bt
				c.BaselineUpdatedAt = &t
			}
			res.Conflicts = append(res.Conflicts, c)
		case remoteMoved:
			res.Resolved = append(res.Resolved, rv)
		default:
			res.Resolved = append(res.Resolved, lv)
		}
	}
	return res
}

func index[T models.Entity](projectID string, items []T) map[string]T {
	m := make(map[string]T, len(items))
	for _, it := range items {
		if it.EntityProjectID() != projectID {
			continue
		}
		m[it.EntityID()] = it
	}
	return m
}

// supersede returns keep stamped strictly after other, so the remote store
// accepts it and every replica sees it as the newer copy.
func supersede[T models.Entity](keep, other T) T {
	if keep.Timestamp().After(other.Timestamp()) {
		return keep
	}
	r, ok := any(keep).(models.Restampable)
	if !ok {
		return keep
	}
	next, ok := r.WithUpdatedAt(other.Timestamp().Add(time.Millisecond).UTC()).(T)
	if !ok {
		return keep
	}
	return next
}

// sameContent compares canonical encodings of two copies.
func sameContent[T models.Entity](a, b T) bool {
	if !a.Timestamp().Equal(b.Timestamp()) {
		return false
	}
	ea, err1 := models.CanonicalJSON(a)
	eb, err2 := models.CanonicalJSON(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}
