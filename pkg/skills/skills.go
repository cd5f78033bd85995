package skills

import (
	"context"
	"strings"

	"github.com/docker/sidekick/pkg/config"
)

// Summary is what the matcher sees of a skill.
type Summary struct {
	Name        string
	Description string
}

// Provider exposes the enabled skills. Implementations are read-only.
type Provider interface {
	Summaries(ctx context.Context) []Summary
	// Instructions returns the full body of the named skill.
	Instructions(ctx context.Context, name string) (string, bool)
}

// StaticProvider serves the skills listed in the settings file.
type StaticProvider struct {
	summaries    []Summary
	instructions map[string]string
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider keeps the enabled skills in their configured order. A
// later skill with the same name replaces an earlier one.
func NewStaticProvider(skills []config.Skill) *StaticProvider {
	p := &StaticProvider{instructions: map[string]string{}}
	for _, s := range skills {
		if !s.IsEnabled() || s.Name == "" {
			continue
		}
		if _, dup := p.instructions[s.Name]; dup {
			for i := range p.summaries {
				if p.summaries[i].Name == s.Name {
					p.summaries[i].Description = s.Description
				}
			}
		} else {
			p.summaries = append(p.summaries, Summary{Name: s.Name, Description: s.Description})
		}
		p.instructions[s.Name] = s.Instructions
	}
	return p
}

func (p *StaticProvider) Summaries(context.Context) []Summary {
	return p.summaries
}

func (p *StaticProvider) Instructions(_ context.Context, name string) (string, bool) {
	body, ok := p.instructions[name]
	return body, ok
}

// BuildPrompt renders the instructions of the matched skills as one system
// message body. Skills the provider no longer knows are left out.
func BuildPrompt(ctx context.Context, p Provider, names []string) string {
	var sb strings.Builder
	for _, name := range names {
		body, ok := p.Instructions(ctx, name)
		if !ok || strings.TrimSpace(body) == "" {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("The user's request matches the following skills. ")
			sb.WriteString("Follow their instructions to answer.\n\n<skills>\n")
		}
		sb.WriteString("  <skill>\n")
		sb.WriteString("    <name>")
		sb.WriteString(name)
		sb.WriteString("</name>\n")
		sb.WriteString("    <instructions>\n")
		sb.WriteString(strings.TrimSpace(body))
		sb.WriteString("\n    </instructions>\n")
		sb.WriteString("  </skill>\n")
	}
	if sb.Len() == 0 {
		return ""
	}
	sb.WriteString("</skills>")
	return sb.String()
}
