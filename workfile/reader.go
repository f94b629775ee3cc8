package workfile

import (
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"
	"text/template"
	"time"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/ornolab/foreman/executor"
	"github.com/ornolab/foreman/graph"
	"github.com/ornolab/foreman/scheduler"
	"github.com/ornolab/foreman/task"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

type ReadOptions struct {
	// Workfile arguments
	Args []string
	// Workfile parameters
	Params map[string]string
}

type UnmarshalError struct {
	error
	Source string
}

// Read loads a workfile from disk, evaluates it as a template, and validates
// the result.
func Read(file string, options ReadOptions) (*Workfile, error) {
	workDir := path.Join(lo.Must(os.Getwd()), path.Dir(file))

	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	source, err := evaluateTemplate(string(buf), workDir, options)
	if err != nil {
		return nil, fmt.Errorf("evaluate template: %w", err)
	}

	var workfile Workfile
	if err = yaml.Unmarshal([]byte(source), &workfile); err != nil {
		return nil, UnmarshalError{fmt.Errorf("unmarshal: %w", err), source}
	}
	if err = workfile.Validate(); err != nil {
		return nil, UnmarshalError{fmt.Errorf("validate: %w", err), source}
	}

	return &workfile, nil
}

var needKindValues = map[string]graph.EdgeKind{
	"sequential":  graph.EdgeSequential,
	"conditional": graph.EdgeConditional,
	"bypassed":    graph.EdgeBypassed,
}

var priorityValues = map[string]task.Priority{
	"":         task.PriorityMedium,
	"low":      task.PriorityLow,
	"medium":   task.PriorityMedium,
	"high":     task.PriorityHigh,
	"critical": task.PriorityCritical,
}

// TaskSpecs converts a validated workfile into submittable task specs under
// the given owner. Specs come out in declaration order with dependencies
// resolved to task IDs, so submitting them in order never references an
// unknown task. Relative deadlines are anchored at now.
func (workfile *Workfile) TaskSpecs(owner string, now time.Time) []scheduler.TaskSpec {
	ids := make(map[string]task.ID, len(workfile.Tasks))
	for _, t := range workfile.Tasks {
		ids[t.Name] = task.NewID()
	}

	specs := make([]scheduler.TaskSpec, 0, len(workfile.Tasks))
	for _, t := range workfile.Tasks {
		spec := scheduler.TaskSpec{
			ID:          ids[t.Name],
			Name:        t.Name,
			Owner:       owner,
			Priority:    priorityValues[t.Priority],
			Requirement: t.Resources,
			MaxRetries:  scheduler.UseDefaultRetries,
			Payload: executor.Command{
				Script: t.Command,
				Dir:    t.Dir,
				Env:    environOf(workfile.Env, t.Env),
			},
		}
		if t.Deadline != "" {
			spec.Deadline = now.Add(lo.Must(time.ParseDuration(t.Deadline)))
		}
		if t.Duration != "" {
			spec.EstimatedDuration = lo.Must(time.ParseDuration(t.Duration))
		}
		if t.Retries != nil {
			spec.MaxRetries = *t.Retries
		}
		if t.RetryDelay != "" {
			spec.RetryDelay = lo.Must(time.ParseDuration(t.RetryDelay))
		}
		for _, need := range t.Needs {
			spec.Dependencies = append(spec.Dependencies, scheduler.Dependency{
				On:   ids[need.Task],
				Kind: needKindValues[need.Kind],
			})
		}
		specs = append(specs, spec)
	}
	return specs
}

// environOf flattens the workfile env and a task's env overrides into
// KEY=VALUE pairs, task entries last so they win.
func environOf(shared, own map[string]string) []string {
	env := make([]string, 0, len(shared)+len(own))
	for key, value := range shared {
		if _, overridden := own[key]; !overridden {
			env = append(env, key+"="+value)
		}
	}
	for key, value := range own {
		env = append(env, key+"="+value)
	}
	return env
}

type TemplateData struct {
	Env    map[string]string
	Args   []string
	Params map[string]string
}

func evaluateTemplate(source string, dir string, options ReadOptions) (string, error) {
	tmpl, err := template.New("workfile").Funcs(sprig.FuncMap()).Funcs(template.FuncMap{
		"shell": func(script string) (string, error) {
			return shell(script, dir)
		},
	}).Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	data := TemplateData{
		Env:    lo.SliceToMap(os.Environ(), func(env string) (key, val string) { key, val, _ = strings.Cut(env, "="); return }),
		Args:   options.Args,
		Params: options.Params,
	}

	var output strings.Builder
	if err := tmpl.Execute(&output, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return output.String(), nil
}

func shell(script string, dir string) (string, error) {
	var shell, arg string
	if strings.HasPrefix(script, "#!") {
		shell, script, _ = strings.Cut(script, "\n")
		shell, arg, _ = strings.Cut(strings.TrimPrefix(shell, "#!"), " ")
	} else {
		shell = lo.Must(lo.Coalesce(os.Getenv("SHELL"), "sh"))
	}

	cmd := exec.Command(shell, lo.Ternary(arg != "", []string{arg}, []string{})...)
	cmd.Stdin = strings.NewReader(script)
	cmd.Stderr = os.Stderr
	cmd.Dir = dir

	output, err := cmd.Output()
	return string(output), err
}
