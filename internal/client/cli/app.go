package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/plotkeeper/internal/client/orchestrator"
	"github.com/dmitrijs2005/plotkeeper/internal/models"
)

// Engine is the sync surface the REPL drives.
type Engine interface {
	Status() orchestrator.SyncStatus
	Subscribe(fn func(orchestrator.SyncStatus)) func()
	Connect(ctx context.Context, authorize orchestrator.Authorize) error
	Disconnect(ctx context.Context) error
	SetAutoSync(ctx context.Context, on bool) error
	RunNow(ctx context.Context, reason string) orchestrator.SyncRunResult
	ResolveConflict(ctx context.Context, t models.EntityType, id string, r models.Resolution) (orchestrator.SyncRunResult, error)
}

type Auth interface {
	Register(ctx context.Context, username string, password []byte) error
	Authorizer(username string, password []byte) orchestrator.Authorize
}

// Projects is the local editing surface.
type Projects interface {
	ListProjects(ctx context.Context) ([]models.Project, error)
	LoadProject(ctx context.Context, id string) (models.Bundle, error)
	CreateProject(ctx context.Context, title, path string) (models.Project, error)
	RenameProject(ctx context.Context, id, title string) (models.Project, error)
	SaveChapter(ctx context.Context, c models.Chapter) (models.Chapter, error)
	SaveCharacter(ctx context.Context, c models.Character) (models.Character, error)
	SaveTerm(ctx context.Context, t models.Term) (models.Term, error)
	SaveMemo(ctx context.Context, m models.Memo) (models.Memo, error)
	TakeSnapshot(ctx context.Context, chapterID, description string) (models.Snapshot, error)
	DeleteChapter(ctx context.Context, id string) error
	DeleteEntity(ctx context.Context, projectID string, t models.EntityType, id string) error
	DeleteProject(ctx context.Context, id string) error
}

// App is the interactive client.
type App struct {
	engine   Engine
	auth     Auth
	projects Projects
	username string
	project  string
	reader   *bufio.Reader
	out      io.Writer
}

func NewApp(engine Engine, auth Auth, projects Projects, username string, in io.Reader, out io.Writer) *App {
	return &App{
		engine:   engine,
		auth:     auth,
		projects: projects,
		username: username,
		reader:   bufio.NewReader(in),
		out:      out,
	}
}

// Run prints status changes worth attention and serves commands until the
// user exits or input ends.
func (a *App) Run(ctx context.Context) {
	fmt.Fprintln(a.out, "Welcome to plotkeeper (type 'help' for commands)")

	last := a.engine.Status()
	unsubscribe := a.engine.Subscribe(func(s orchestrator.SyncStatus) {
		if msg := statusChange(last, s); msg != "" {
			fmt.Fprintln(a.out, msg)
		}
		last = s
	})
	defer unsubscribe()

	runREPL(ctx, a, a.prompt, a.reader, a.out)
}

func (a *App) prompt() string {
	s := formatStatus(a.engine.Status())
	if a.project != "" {
		s = shortID(a.project) + " " + s
	}
	return s
}

// formatStatus renders a status as one line.
func formatStatus(s orchestrator.SyncStatus) string {
	parts := []string{"offline"}
	if s.Connected {
		parts[0] = "online"
	}
	if s.Mode != "" && s.Mode != orchestrator.ModeIdle {
		parts = append(parts, string(s.Mode))
	}
	if !s.AutoSync {
		parts = append(parts, "manual")
	}
	if n := len(s.Conflicts); n > 0 {
		parts = append(parts, fmt.Sprintf("%d conflicts", n))
	}
	if s.LastSyncedAt != nil {
		parts = append(parts, "synced "+s.LastSyncedAt.Local().Format(time.Kitchen))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// statusChange reports transitions a writer should notice.
func statusChange(prev, next orchestrator.SyncStatus) string {
	switch {
	case next.LastError != "" && next.LastError != prev.LastError:
		return "sync: " + next.LastError
	case len(next.Conflicts) > 0 && len(prev.Conflicts) == 0:
		return fmt.Sprintf("sync: %d conflicts need a decision, type 'conflicts'", len(next.Conflicts))
	case prev.Connected && !next.Connected:
		return "sync: disconnected"
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
