package skills

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/docker/sidekick/pkg/chat"
)

// MaxMatches caps how many skills are injected for one request.
const MaxMatches = 3

const (
	StrategyLLM     = "llm"
	StrategyKeyword = "keyword"
)

// Completer is the non-streaming half of a model provider.
type Completer interface {
	CreateChatCompletion(ctx context.Context, messages []chat.Message) (string, error)
}

// Result is the outcome of matching one user message.
type Result struct {
	// Names is ordered by relevance and holds at most MaxMatches entries.
	Names []string
	// Text is the message with a leading slash command removed.
	Text string
	// Explicit is set when a slash command picked the skill.
	Explicit bool
}

type Matcher struct {
	strategy  string
	completer Completer
}

// NewMatcher returns a matcher. The llm strategy needs a completer; without
// one it behaves like keyword.
func NewMatcher(strategy string, completer Completer) *Matcher {
	return &Matcher{strategy: strategy, completer: completer}
}

// Match selects the skills relevant to text. "/name rest" addressed to an
// enabled skill always wins over automatic matching.
func (m *Matcher) Match(ctx context.Context, text string, summaries []Summary) Result {
	if name, rest, ok := slashCommand(text, summaries); ok {
		return Result{Names: []string{name}, Text: rest, Explicit: true}
	}

	res := Result{Text: text}
	if len(summaries) == 0 || strings.TrimSpace(text) == "" {
		return res
	}

	if m.strategy == StrategyLLM && m.completer != nil {
		names, err := m.matchLLM(ctx, text, summaries)
		if err == nil {
			res.Names = names
			return res
		}
		slog.Warn("Skill matching through the model failed, using keywords", "error", err)
	}

	res.Names = matchKeywords(text, summaries)
	return res
}

func slashCommand(text string, summaries []Summary) (name, rest string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}

	cmd, rest, _ := strings.Cut(trimmed[1:], " ")
	for _, s := range summaries {
		if strings.EqualFold(s.Name, cmd) {
			return s.Name, strings.TrimSpace(rest), true
		}
	}
	return "", "", false
}

func (m *Matcher) matchLLM(ctx context.Context, text string, summaries []Summary) ([]string, error) {
	var sb strings.Builder
	sb.WriteString("Select the skills relevant to the user's message.\n")
	fmt.Fprintf(&sb, "Answer with a JSON array of at most %d skill names, most relevant first, ", MaxMatches)
	sb.WriteString("or [] if none applies. Do not add any other text.\n\nSkills:\n")
	for _, s := range summaries {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Description)
	}

	out, err := m.completer.CreateChatCompletion(ctx, []chat.Message{
		chat.SystemMessage(sb.String()),
		chat.UserMessage(text),
	})
	if err != nil {
		return nil, err
	}
	return parseNames(out, summaries)
}

// parseNames extracts the JSON array from a completion that may wrap it in
// prose or code fences, keeping only known names.
func parseNames(out string, summaries []Summary) ([]string, error) {
	start := strings.Index(out, "[")
	end := strings.LastIndex(out, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in skill selection %q", out)
	}

	raw := out[start : end+1]
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("invalid JSON array in skill selection %q", raw)
	}

	var names []string
	for _, v := range gjson.Parse(raw).Array() {
		for _, s := range summaries {
			if strings.EqualFold(s.Name, v.String()) && !slices.Contains(names, s.Name) {
				names = append(names, s.Name)
			}
		}
		if len(names) == MaxMatches {
			break
		}
	}
	return names, nil
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true, "that": true,
	"you": true, "your": true, "are": true, "can": true, "use": true, "from": true,
	"what": true, "how": true, "please": true, "into": true, "about": true,
}

func tokens(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	set := map[string]bool{}
	for _, w := range words {
		if len(w) >= 3 && !stopWords[w] {
			set[w] = true
		}
	}
	return set
}

// matchKeywords ranks skills by the number of words their name and
// description share with the message. Ties keep the configured order.
func matchKeywords(text string, summaries []Summary) []string {
	words := tokens(text)

	type scored struct {
		name  string
		score int
		index int
	}
	var hits []scored
	for i, s := range summaries {
		score := 0
		for w := range tokens(s.Name + " " + s.Description) {
			if words[w] {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{name: s.Name, score: score, index: i})
		}
	}

	slices.SortFunc(hits, func(a, b scored) int {
		return cmp.Or(cmp.Compare(b.score, a.score), cmp.Compare(a.index, b.index))
	})

	var names []string
	for _, h := range hits[:min(len(hits), MaxMatches)] {
		names = append(names, h.name)
	}
	return names
}
