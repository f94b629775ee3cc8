package workfile

import (
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const WorkfileVersion = "1"

// Workfile describes a workflow: a named set of shell tasks with
// dependencies, submitted as one owner to the scheduler.
type Workfile struct {
	Version string
	Name    string
	Env     map[string]string
	Tasks   []WorkfileTask
}

type WorkfileTask struct {
	Name     string
	Command  string
	Dir      string
	Env      map[string]string
	Needs    []Need
	Priority string
	// Deadline is a duration relative to submission, e.g. "2h".
	Deadline string
	// Duration is the estimated run time, used for critical path analysis.
	Duration   string
	Resources  map[string]int
	Retries    *int
	RetryDelay string `yaml:"retry_delay"`
}

// Need is one dependency declaration. It unmarshals from either a plain
// string (a sequential dependency) or a mapping with an explicit kind:
//
//	needs:
//	  - build
//	  - task: test
//	    kind: conditional
type Need struct {
	Task string
	Kind string
}

func (n *Need) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		n.Task = value.Value
		n.Kind = "sequential"
		return nil
	}

	var full struct {
		Task string
		Kind string
	}
	if err := value.Decode(&full); err != nil {
		return err
	}
	n.Task = full.Task
	n.Kind = full.Kind
	if n.Kind == "" {
		n.Kind = "sequential"
	}
	return nil
}

var envKeyRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_]+$`)
var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]+$`)

var priorities = map[string]bool{"": true, "low": true, "medium": true, "high": true, "critical": true}
var needKinds = map[string]bool{"sequential": true, "conditional": true, "bypassed": true}

func (workfile Workfile) Validate() error {
	if workfile.Version != WorkfileVersion {
		return fmt.Errorf("unsupported version '%s'", workfile.Version)
	}

	if !nameRegex.MatchString(workfile.Name) {
		return fmt.Errorf("name must be a valid identifier")
	}

	for key := range workfile.Env {
		if !envKeyRegex.MatchString(key) {
			return fmt.Errorf("env[%s] must be a valid environment variable identifier", key)
		}
	}

	if len(workfile.Tasks) < 1 {
		return fmt.Errorf("at least one task is required")
	}

	names := make(map[string]bool, len(workfile.Tasks))
	for _, t := range workfile.Tasks {
		if !nameRegex.MatchString(t.Name) {
			return fmt.Errorf("tasks names must be valid identifiers")
		}
		if names[t.Name] {
			return fmt.Errorf("tasks[%s] is declared twice", t.Name)
		}
		names[t.Name] = true

		if t.Command == "" {
			return fmt.Errorf("tasks[%s].command is required", t.Name)
		}

		for key := range t.Env {
			if !envKeyRegex.MatchString(key) {
				return fmt.Errorf("tasks[%s].env[%s] must be a valid environment variable identifier", t.Name, key)
			}
		}

		if !priorities[t.Priority] {
			return fmt.Errorf("tasks[%s].priority must be one of low, medium, high, critical", t.Name)
		}

		if t.Deadline != "" {
			if _, err := time.ParseDuration(t.Deadline); err != nil {
				return fmt.Errorf("tasks[%s].deadline is not a valid duration: %w", t.Name, err)
			}
		}

		if t.Duration != "" {
			if _, err := time.ParseDuration(t.Duration); err != nil {
				return fmt.Errorf("tasks[%s].duration is not a valid duration: %w", t.Name, err)
			}
		}

		if t.RetryDelay != "" {
			if _, err := time.ParseDuration(t.RetryDelay); err != nil {
				return fmt.Errorf("tasks[%s].retry_delay is not a valid duration: %w", t.Name, err)
			}
		}

		if t.Retries != nil && *t.Retries < 0 {
			return fmt.Errorf("tasks[%s].retries must not be negative", t.Name)
		}

		for kind, amount := range t.Resources {
			if amount < 1 {
				return fmt.Errorf("tasks[%s].resources[%s] must be positive", t.Name, kind)
			}
		}
	}

	// Name resolution only; the scheduler's dependency tracker rejects cycles.
	for _, t := range workfile.Tasks {
		for _, need := range t.Needs {
			if !names[need.Task] {
				return fmt.Errorf("tasks[%s] needs unknown task '%s'", t.Name, need.Task)
			}
			if need.Task == t.Name {
				return fmt.Errorf("tasks[%s] cannot depend on itself", t.Name)
			}
			if !needKinds[need.Kind] {
				return fmt.Errorf("tasks[%s].needs[%s].kind must be one of sequential, conditional, bypassed", t.Name, need.Task)
			}
		}
	}

	return nil
}
