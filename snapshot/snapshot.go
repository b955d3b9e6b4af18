// Package snapshot renders a task's context file, TASK.md, into the task
// workspace so that editors and agents working in any worktree can see the
// whole task at a glance.
package snapshot

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/logger"
	"github.com/zhubert/taskspace/store"
	"github.com/zhubert/taskspace/task"
)

// FileName is the snapshot written into each task directory.
const FileName = "TASK.md"

// NotesMarker separates generated content from text the user keeps.
// Everything after it survives regeneration.
const NotesMarker = "<!-- notes: everything below this line is kept -->"

const defaultTemplate = `# {{.Task.ID}}: {{.Task.Title}}

Status: {{.Task.Status}}
Updated: {{.Updated}}
{{- if .Task.Tickets}}
Tickets: {{join .Task.Tickets ", "}}
{{- end}}

## Projects
{{if not .Projects}}
_No projects yet._
{{else}}
| Project | Branch | Base | Worktree | PR | Review | CI |
|---|---|---|---|---|---|---|
{{- range .Projects}}
| {{.Name}} | {{.Branch}} | {{.BaseBranch}} | {{.Path}} | {{.PR}} | {{.Review}} | {{.CI}} |
{{- end}}
{{end}}
{{- if .Task.Links}}
## Links
{{range .Task.Links}}
- [{{.Title}}]({{.URL}})
{{- end}}
{{end}}
{{- if .Task.Notes}}
## Notes

{{.Task.Notes}}
{{end}}
`

type projectRow struct {
	Name, Branch, BaseBranch, Path string
	PR, Review, CI                 string
}

type view struct {
	Task     task.Task
	Updated  string
	Projects []projectRow
}

// Generator writes TASK.md snapshots.
type Generator struct {
	tmpl *template.Template
}

// New returns a Generator using the built-in layout.
func New() *Generator {
	g, err := NewWithTemplate(defaultTemplate)
	if err != nil {
		panic(err)
	}
	return g
}

// NewWithTemplate returns a Generator using a custom text/template layout.
// The template receives the task, a formatted update time and one row per
// project.
func NewWithTemplate(text string) (*Generator, error) {
	tmpl, err := template.New("snapshot").Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(text)
	if err != nil {
		return nil, apperr.NewValidation("snapshot.template", "invalid snapshot template: %v", err)
	}
	return &Generator{tmpl: tmpl}, nil
}

// Path returns where the snapshot for taskID lives.
func Path(workspaceDir, taskID string) string {
	return filepath.Join(task.TaskDir(workspaceDir, taskID), FileName)
}

// Render returns the generated part of the snapshot, without user notes.
func (g *Generator) Render(t task.Task, workspaceDir string) (string, error) {
	v := view{Task: t, Updated: t.UpdatedAt.UTC().Format(time.RFC3339)}
	for _, p := range t.Projects {
		row := projectRow{
			Name:       p.Name,
			Branch:     p.Branch,
			BaseBranch: p.BaseBranch,
			Path:       task.WorktreePath(workspaceDir, t.ID, p.Name),
			PR:         "-",
			Review:     "-",
			CI:         "-",
		}
		if p.PR != nil {
			row.PR = "[#" + strconv.Itoa(p.PR.Number) + "](" + p.PR.URL + ") " + string(p.PR.Status)
			row.Review = string(p.PR.ReviewStatus)
			row.CI = string(p.PR.CIStatus)
		}
		v.Projects = append(v.Projects, row)
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, v); err != nil {
		return "", apperr.NewValidation("snapshot.render", "render snapshot: %v", err)
	}
	return buf.String(), nil
}

// Regenerate rewrites the snapshot, carrying over everything the user wrote
// below the notes marker in the previous file.
func (g *Generator) Regenerate(t task.Task, workspaceDir string) error {
	log := logger.WithTask(t.ID).With("component", "snapshot")
	path := Path(workspaceDir, t.ID)

	body, err := g.Render(t, workspaceDir)
	if err != nil {
		return err
	}

	kept, err := userText(path)
	if err != nil {
		return err
	}

	var out strings.Builder
	out.WriteString(strings.TrimRight(body, "\n"))
	out.WriteString("\n\n")
	out.WriteString(NotesMarker)
	out.WriteString("\n")
	out.WriteString(kept)

	if err := store.WriteFileAtomic(path, []byte(out.String()), 0644); err != nil {
		return err
	}
	log.Debug("snapshot written", "path", path, "keptBytes", len(kept))
	return nil
}

// userText returns the text after the notes marker in the file at path. A
// file without the marker was written by hand, so all of it is kept.
func userText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", apperr.NewFileSystem("snapshot.read", "read "+path, err)
	}
	text := string(data)
	if _, after, ok := strings.Cut(text, NotesMarker); ok {
		return strings.TrimPrefix(after, "\n"), nil
	}
	return text, nil
}
