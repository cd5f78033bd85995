package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/term"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/session"
	"github.com/docker/sidekick/pkg/tools"
	"github.com/docker/sidekick/pkg/tools/mcp"
)

var (
	bold   = color.New(color.Bold).SprintfFunc()
	faint  = color.New(color.Faint).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
)

const defaultWidth = 100

type Printer struct {
	out   io.Writer
	width int
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{
		out:   out,
		width: terminalWidth(out),
	}
}

func terminalWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return defaultWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

func (p *Printer) Print(a ...any) {
	fmt.Fprint(p.out, a...)
}

func (p *Printer) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

func (p *Printer) PrintWelcomeMessage(appName, model string) {
	p.Printf("\n------- Welcome to %s! -------\n", bold(appName))
	p.Printf("Model: %s\n", model)
	p.Println("Commands: /attach <file> <message>, /retry, /new, /exit (Ctrl+C stops the current answer)")
	p.Println()
}

func (p *Printer) PrintError(err error) {
	p.Printf("\n%s %s\n", red("Error:"), err)
}

func (p *Printer) PrintSkills(names []string, explicit bool) {
	how := "matched"
	if explicit {
		how = "requested"
	}
	p.Printf("%s\n", faint("Skills %s: %s", how, strings.Join(names, ", ")))
}

func (p *Printer) PrintToolCall(toolCall tools.ToolCall) {
	p.Printf("\nCalling %s%s\n", bold(toolCall.Function.Name), formatToolCallArguments(toolCall.Function.Arguments))
}

func (p *Printer) PrintToolCallResponse(toolCall tools.ToolCall, response string, isError bool) {
	name := bold(toolCall.Function.Name)
	if isError {
		p.Printf("\n%s %s%s\n", name, red("failed"), formatToolCallResponse(response))
		return
	}
	p.Printf("\n%s response%s\n", name, formatToolCallResponse(response))
}

// PrintMaxTurns tells the user the answer was cut short by the turn limit.
func (p *Printer) PrintMaxTurns(maxTurns int) {
	p.Printf("\n%s\n", yellow("Stopped after %d turns, the configured limit. Send another message to let the assistant continue.", maxTurns))
}

func (p *Printer) PrintCancelled() {
	p.Printf("\n%s\n", faint("(stopped)"))
}

func (p *Printer) PrintServerStatuses(statuses []mcp.ServerStatus) {
	if len(statuses) == 0 {
		p.Println("No tool servers configured.")
		return
	}
	for _, st := range statuses {
		name := st.URL
		if st.DisplayName != "" {
			name = st.DisplayName + " (" + st.URL + ")"
		}
		p.Printf("%-14s %s\n", statusLabel(st.Status), name)
		if st.LastError != "" {
			p.Printf("%-14s %s\n", "", faint("%s", p.fit(st.LastError, 15)))
		}
	}
}

func statusLabel(s mcp.Status) string {
	label := fmt.Sprintf("%-12s", s)
	switch s {
	case mcp.StatusConnected:
		return green("%s", label)
	case mcp.StatusError:
		return red("%s", label)
	case mcp.StatusConnecting:
		return yellow("%s", label)
	default:
		return faint("%s", label)
	}
}

func (p *Printer) PrintTools(list []tools.Tool) {
	if len(list) == 0 {
		p.Println("No tools available.")
		return
	}

	nameWidth := 0
	for _, t := range list {
		nameWidth = max(nameWidth, runewidth.StringWidth(t.Name))
	}
	for _, t := range list {
		desc, _, _ := strings.Cut(strings.TrimSpace(t.Description), "\n")
		p.Printf("%s  %s\n", bold("%s", runewidth.FillRight(t.Name, nameWidth)), p.fit(desc, nameWidth+2))
	}
}

func (p *Printer) PrintSessions(summaries []session.Summary) {
	if len(summaries) == 0 {
		p.Println("No saved sessions.")
		return
	}
	for _, s := range summaries {
		prefix := fmt.Sprintf("%s  %s  %4d  ", s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.MessageCount)
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		p.Printf("%s%s\n", prefix, p.fit(title, runewidth.StringWidth(prefix)))
	}
}

// PrintTranscript renders a stored conversation.
func (p *Printer) PrintTranscript(sess *session.Session) {
	p.Printf("%s\n", bold("%s", sess.Title))
	for _, msg := range sess.GetMessages() {
		switch msg.Role {
		case chat.MessageRoleUser:
			p.Printf("\n> %s\n", msg.Content)
			for _, a := range msg.Attachments {
				p.Printf("%s\n", faint("  [attached %s]", a.Name))
			}
		case chat.MessageRoleAssistant:
			for _, call := range msg.ToolCalls {
				p.PrintToolCall(call)
			}
			if msg.Content == "" {
				continue
			}
			if msg.IsError {
				p.Printf("\n%s\n", red("%s", msg.Content))
			} else {
				p.Printf("\n%s\n", msg.Content)
			}
		case chat.MessageRoleTool:
			p.PrintToolCallResponse(tools.ToolCall{ID: msg.ToolCallID, Function: tools.FunctionCall{Name: msg.Name}}, msg.Content, msg.IsError)
		}
	}
}

// fit truncates s so that it fits in the terminal after used columns.
func (p *Printer) fit(s string, used int) string {
	room := p.width - used
	if room < 10 {
		room = 10
	}
	return runewidth.Truncate(s, room, "…")
}

func formatToolCallArguments(arguments string) string {
	if arguments == "" {
		return "()"
	}

	if formatted, ok := formatObject(arguments); ok {
		return formatted
	}

	var parsed any
	if err := json.Unmarshal([]byte(arguments), &parsed); err == nil {
		formatted, _ := json.MarshalIndent(parsed, "", "  ")
		return fmt.Sprintf("(%s)", string(formatted))
	}

	// Still streaming or malformed.
	return fmt.Sprintf("(%s)", arguments)
}

// formatObject renders a JSON object as key: value pairs in source order.
func formatObject(raw string) (string, bool) {
	kv := orderedmap.New[string, any]()
	if err := json.Unmarshal([]byte(raw), &kv); err != nil {
		return "", false
	}
	if kv.Len() == 0 {
		return "()", true
	}

	var (
		parts     []string
		multiline bool
	)
	for key, value := range kv.FromOldest() {
		formatted := formatJSONValue(key, value)
		parts = append(parts, formatted)
		multiline = multiline || strings.Contains(formatted, "\n")
	}

	if len(parts) == 1 && !multiline {
		return fmt.Sprintf("(%s)", parts[0]), true
	}
	return fmt.Sprintf("(\n  %s\n)", strings.Join(parts, "\n  ")), true
}

func formatToolCallResponse(response string) string {
	if response == "" {
		return " → ()"
	}

	if formatted, ok := formatObject(response); ok {
		return " → " + formatted
	}
	var parsed any
	if err := json.Unmarshal([]byte(response), &parsed); err == nil {
		formatted, _ := json.MarshalIndent(parsed, "", "  ")
		return fmt.Sprintf(" → (%s)", string(formatted))
	}

	lines := strings.Split(strings.TrimSpace(response), "\n")
	if len(lines) <= 3 {
		return fmt.Sprintf(" → %q", response)
	}

	// Long text keeps its line breaks; runs of blank lines collapse to one.
	var formatted []string
	lastWasEmpty := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if !lastWasEmpty {
				formatted = append(formatted, "")
			}
			lastWasEmpty = true
			continue
		}
		formatted = append(formatted, line)
		lastWasEmpty = false
	}
	return fmt.Sprintf(" → (\n%s\n)", strings.Join(formatted, "\n"))
}

func formatJSONValue(key string, value any) string {
	switch v := value.(type) {
	case string:
		return fmt.Sprintf("%s: %q", bold(key), v)
	case []any:
		if len(v) == 0 {
			return fmt.Sprintf("%s: []", bold(key))
		}
		if len(v) == 1 {
			jsonBytes, _ := json.Marshal(v)
			return fmt.Sprintf("%s: %s", bold(key), string(jsonBytes))
		}
		jsonBytes, _ := json.MarshalIndent(v, "", "  ")
		return fmt.Sprintf("%s: %s", bold(key), string(jsonBytes))
	default:
		jsonBytes, _ := json.MarshalIndent(v, "", "  ")
		return fmt.Sprintf("%s: %s", bold(key), string(jsonBytes))
	}
}
