package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

var errNoProject = errors.New("no project selected, type 'use <id>' or 'new <title>'")

func (a *App) ListProjects(ctx context.Context, _ []string) error {
	ps, err := a.projects.ListProjects(ctx)
	if err != nil {
		return err
	}
	if len(ps) == 0 {
		fmt.Fprintln(a.out, "No projects yet.")
	}
	for _, p := range ps {
		mark := " "
		if p.ID == a.project {
			mark = "*"
		}
		fmt.Fprintf(a.out, "%s %s  %s  %s\n", mark, p.ID, p.Title, p.PackagePath)
	}
	return nil
}

func (a *App) NewProject(ctx context.Context, args []string) error {
	title := strings.Join(args, " ")
	if title == "" {
		var err error
		if title, err = getSimpleText(a.reader, "Enter title", a.out); err != nil {
			return err
		}
	}
	p, err := a.projects.CreateProject(ctx, title, "")
	if err != nil {
		return err
	}
	a.project = p.ID
	fmt.Fprintf(a.out, "Created %s at %s\n", p.ID, p.PackagePath)
	return nil
}

// Use selects the current project by id or unique id prefix.
func (a *App) Use(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: use <id>", errUsage)
	}
	ps, err := a.projects.ListProjects(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	id, err := matchID(args[0], ids)
	if err != nil {
		return err
	}
	a.project = id
	return nil
}

func (a *App) Rename(ctx context.Context, args []string) error {
	if a.project == "" {
		return errNoProject
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: rename <title>", errUsage)
	}
	_, err := a.projects.RenameProject(ctx, a.project, strings.Join(args, " "))
	return err
}

// Show prints the outline of the current project.
func (a *App) Show(ctx context.Context, _ []string) error {
	b, err := a.current(ctx)
	if err != nil {
		return err
	}
	if p, ok := b.Project(a.project); ok {
		fmt.Fprintln(a.out, p.Title)
	}
	fmt.Fprintln(a.out, "Chapters:")
	for _, c := range b.Chapters {
		trash := ""
		if c.DeletedAt != nil {
			trash = " [trash]"
		}
		fmt.Fprintf(a.out, "  %2d. %s %s (%d words)%s\n", c.Order, shortID(c.ID), c.Title, c.WordCount, trash)
	}
	for _, c := range b.Characters {
		fmt.Fprintf(a.out, "Character %s %s\n", shortID(c.ID), c.Name)
	}
	for _, t := range b.Terms {
		fmt.Fprintf(a.out, "Term %s %s: %s\n", shortID(t.ID), t.Term, t.Definition)
	}
	for _, m := range b.Memos {
		fmt.Fprintf(a.out, "Memo %s %s\n", shortID(m.ID), m.Title)
	}
	fmt.Fprintf(a.out, "%d snapshots, %d deleted entities\n", len(b.Snapshots), len(b.Tombstones))
	return nil
}

// Write creates a chapter, or replaces the text of the given one.
func (a *App) Write(ctx context.Context, args []string) error {
	b, err := a.current(ctx)
	if err != nil {
		return err
	}

	var c models.Chapter
	if len(args) > 0 {
		idx, err := findByPrefix(args[0], b.Chapters)
		if err != nil {
			return err
		}
		c = b.Chapters[idx]
	} else {
		title, err := getSimpleText(a.reader, "Enter chapter title", a.out)
		if err != nil {
			return err
		}
		c = models.Chapter{ProjectID: a.project, Title: title, Order: len(b.Chapters) + 1}
	}

	text, err := GetMultiline(a.reader, "Enter chapter text", a.out)
	if err != nil {
		return err
	}
	c.Content = text

	saved, err := a.projects.SaveChapter(ctx, c)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s (%d words)\n", shortID(saved.ID), saved.WordCount)
	return nil
}

func (a *App) Trash(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: trash <chapter-id>", errUsage)
	}
	b, err := a.current(ctx)
	if err != nil {
		return err
	}
	idx, err := findByPrefix(args[0], b.Chapters)
	if err != nil {
		return err
	}
	return a.projects.DeleteChapter(ctx, b.Chapters[idx].ID)
}

func (a *App) Snapshot(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: snapshot <chapter-id> [note]", errUsage)
	}
	b, err := a.current(ctx)
	if err != nil {
		return err
	}
	idx, err := findByPrefix(args[0], b.Chapters)
	if err != nil {
		return err
	}
	s, err := a.projects.TakeSnapshot(ctx, b.Chapters[idx].ID, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Snapshot", shortID(s.ID))
	return nil
}

func (a *App) AddCharacter(ctx context.Context, _ []string) error {
	if a.project == "" {
		return errNoProject
	}
	name, err := getSimpleText(a.reader, "Enter name", a.out)
	if err != nil {
		return err
	}
	desc, err := GetMultiline(a.reader, "Enter description", a.out)
	if err != nil {
		return err
	}
	_, err = a.projects.SaveCharacter(ctx, models.Character{ProjectID: a.project, Name: name, Description: desc})
	return err
}

func (a *App) AddTerm(ctx context.Context, _ []string) error {
	if a.project == "" {
		return errNoProject
	}
	term, err := getSimpleText(a.reader, "Enter term", a.out)
	if err != nil {
		return err
	}
	def, err := getSimpleText(a.reader, "Enter definition", a.out)
	if err != nil {
		return err
	}
	_, err = a.projects.SaveTerm(ctx, models.Term{ProjectID: a.project, Term: term, Definition: def})
	return err
}

func (a *App) AddMemo(ctx context.Context, _ []string) error {
	if a.project == "" {
		return errNoProject
	}
	title, err := getSimpleText(a.reader, "Enter memo title", a.out)
	if err != nil {
		return err
	}
	body, err := GetMultiline(a.reader, "Enter memo text", a.out)
	if err != nil {
		return err
	}
	tags, err := GetList(a.reader, "Enter tags, one per line", a.out)
	if err != nil {
		return err
	}
	_, err = a.projects.SaveMemo(ctx, models.Memo{ProjectID: a.project, Title: title, Content: body, Tags: tags})
	return err
}

// Delete removes an entity of the current project for good.
func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: delete <type> <id>", errUsage)
	}
	t, err := models.ParseEntityType(args[0])
	if err != nil {
		return err
	}
	b, err := a.current(ctx)
	if err != nil {
		return err
	}
	id, err := matchID(args[1], entityIDs(b, t))
	if err != nil {
		return err
	}
	return a.projects.DeleteEntity(ctx, a.project, t, id)
}

func (a *App) DeleteProject(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: rmproject <id>", errUsage)
	}
	ps, err := a.projects.ListProjects(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	id, err := matchID(args[0], ids)
	if err != nil {
		return err
	}
	answer, err := getSimpleText(a.reader, "Delete project "+id+" everywhere? Type yes to confirm", a.out)
	if err != nil {
		return err
	}
	if answer != "yes" {
		return nil
	}
	if err := a.projects.DeleteProject(ctx, id); err != nil {
		return err
	}
	if a.project == id {
		a.project = ""
	}
	return nil
}

func (a *App) current(ctx context.Context) (models.Bundle, error) {
	if a.project == "" {
		return models.Bundle{}, errNoProject
	}
	return a.projects.LoadProject(ctx, a.project)
}

func entityIDs(b models.Bundle, t models.EntityType) []string {
	var ids []string
	switch t {
	case models.EntityChapter:
		ids = collectIDs(b.Chapters)
	case models.EntityCharacter:
		ids = collectIDs(b.Characters)
	case models.EntityTerm:
		ids = collectIDs(b.Terms)
	case models.EntityMemo:
		ids = collectIDs(b.Memos)
	case models.EntitySnapshot:
		ids = collectIDs(b.Snapshots)
	}
	return ids
}

func collectIDs[T models.Entity](items []T) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.EntityID())
	}
	return ids
}

func findByPrefix[T models.Entity](prefix string, items []T) (int, error) {
	id, err := matchID(prefix, collectIDs(items))
	if err != nil {
		return -1, err
	}
	for i, it := range items {
		if it.EntityID() == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%s: not found", prefix)
}

// matchID resolves an id or a unique prefix of one.
func matchID(prefix string, ids []string) (string, error) {
	var found []string
	for _, id := range ids {
		if id == prefix {
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%s: not found", prefix)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%s: ambiguous, %d matches", prefix, len(found))
	}
}
