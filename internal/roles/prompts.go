package roles

import (
	"bytes"
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"formpilot/internal/logging"
)

// embeddedPrompts holds one YAML prompt atom per role.
//
//go:embed prompts/*.yaml
var embeddedPrompts embed.FS

// promptAtom is the on-disk shape of a role prompt.
type promptAtom struct {
	Role        Role   `yaml:"role"`
	Description string `yaml:"description"`
	System      string `yaml:"system"`
	User        string `yaml:"user"`
}

// Prompt is a parsed, ready-to-render role prompt.
type Prompt struct {
	Role        Role
	Description string
	system      *template.Template
	user        *template.Template
}

var (
	promptsOnce sync.Once
	prompts     map[Role]*Prompt
	promptsErr  error
)

// LoadPrompts parses the embedded prompt atoms. The result is cached.
func LoadPrompts() (map[Role]*Prompt, error) {
	promptsOnce.Do(func() {
		prompts, promptsErr = parsePrompts()
	})
	return prompts, promptsErr
}

func parsePrompts() (map[Role]*Prompt, error) {
	entries, err := embeddedPrompts.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded prompts: %w", err)
	}

	out := make(map[Role]*Prompt, len(entries))
	for _, entry := range entries {
		name := path.Join("prompts", entry.Name())
		data, err := embeddedPrompts.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		p, err := ParsePrompt(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[p.Role] = p
	}

	for _, role := range All {
		if _, ok := out[role]; !ok {
			return nil, fmt.Errorf("no prompt for %s role", role)
		}
	}
	logging.RolesDebug("Loaded %d role prompts", len(out))
	return out, nil
}

// ParsePrompt parses one YAML prompt atom.
func ParsePrompt(data []byte) (*Prompt, error) {
	var atom promptAtom
	if err := yaml.Unmarshal(data, &atom); err != nil {
		return nil, fmt.Errorf("failed to parse prompt: %w", err)
	}
	if atom.Role == "" {
		return nil, fmt.Errorf("prompt has no role")
	}

	sys, err := template.New(string(atom.Role) + ".system").Option("missingkey=error").Parse(atom.System)
	if err != nil {
		return nil, fmt.Errorf("system template: %w", err)
	}
	user, err := template.New(string(atom.Role) + ".user").Option("missingkey=error").Parse(atom.User)
	if err != nil {
		return nil, fmt.Errorf("user template: %w", err)
	}

	return &Prompt{
		Role:        atom.Role,
		Description: atom.Description,
		system:      sys,
		user:        user,
	}, nil
}

// Render executes both templates against data.
func (p *Prompt) Render(data interface{}) (system, user string, err error) {
	var buf bytes.Buffer
	if err := p.system.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s system prompt: %w", p.Role, err)
	}
	system = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := p.user.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s user prompt: %w", p.Role, err)
	}
	user = strings.TrimSpace(buf.String())
	return system, user, nil
}
