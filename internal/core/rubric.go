package core

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rubric.yaml
var defaultRubricYAML []byte

type RubricDomain struct {
	Name     string `yaml:"name"`
	Guidance string `yaml:"guidance"`
}

// Rubric drives the evaluation prompt and the score bounds.
type Rubric struct {
	SystemPrompt string         `yaml:"system_prompt"`
	UserPrompt   string         `yaml:"user_prompt"`
	MinScore     int            `yaml:"min_score"`
	MaxScore     int            `yaml:"max_score"`
	Suggestions  int            `yaml:"suggestions"`
	Domains      []RubricDomain `yaml:"domains"`
}

func DefaultRubric() (*Rubric, error) {
	return ParseRubric(defaultRubricYAML)
}

// LoadRubric reads the rubric at path, or the embedded default when path is empty.
func LoadRubric(path string) (*Rubric, error) {
	if path == "" {
		return DefaultRubric()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rubric %s: %w", path, err)
	}
	return ParseRubric(b)
}

func ParseRubric(b []byte) (*Rubric, error) {
	var r Rubric
	if err := yaml.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to parse rubric: %w", err)
	}
	if r.MinScore == 0 && r.MaxScore == 0 {
		r.MinScore, r.MaxScore = 1, 10
	}
	if r.Suggestions <= 0 {
		r.Suggestions = 3
	}
	if r.UserPrompt == "" {
		r.UserPrompt = "Evaluate this suture pad photo:"
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rubric) validate() error {
	if strings.TrimSpace(r.SystemPrompt) == "" {
		return errors.New("rubric: system_prompt is required")
	}
	if len(r.Domains) == 0 {
		return errors.New("rubric: at least one domain is required")
	}
	if r.MinScore < 1 || r.MaxScore <= r.MinScore {
		return fmt.Errorf("rubric: invalid score range %d..%d", r.MinScore, r.MaxScore)
	}
	for i, d := range r.Domains {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("rubric: domain %d has no name", i)
		}
	}
	return nil
}

// Instructions renders the system instruction sent with every evaluation.
func (r *Rubric) Instructions() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.SystemPrompt))
	fmt.Fprintf(&b, "\n\nScore each of the following domains from %d to %d:\n", r.MinScore, r.MaxScore)
	for _, d := range r.Domains {
		b.WriteString("- ")
		b.WriteString(d.Name)
		if d.Guidance != "" {
			b.WriteString(": ")
			b.WriteString(d.Guidance)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nGive an overall score from %d to %d and %d constructive improvement suggestions.\n", r.MinScore, r.MaxScore, r.Suggestions)
	b.WriteString("Respond with a single JSON object and nothing else, shaped like:\n")
	b.WriteString(`{"domains":[{"domain":"<name>","score":<int>,"comment":"<short comment>"}],"overall":<int>,"summary":"<2-3 sentences>","suggestions":["<suggestion>"]}`)
	b.WriteString("\nUse the domain names exactly as listed.")
	return b.String()
}

func (r *Rubric) clamp(score int) int {
	if score < r.MinScore {
		return r.MinScore
	}
	if score > r.MaxScore {
		return r.MaxScore
	}
	return score
}
