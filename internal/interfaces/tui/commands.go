package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// SlashCommand is a composer line starting with "/".
type SlashCommand struct {
	Name string
	Args []string
}

// ParseSlashCommand returns nil for ordinary message text.
func ParseSlashCommand(input string) *SlashCommand {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || strings.HasPrefix(input, "//") {
		return nil
	}

	parts := strings.Fields(input)
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if name == "" {
		return nil
	}
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return &SlashCommand{Name: name, Args: args}
}

// ConversationActions is what composer commands act on.
type ConversationActions interface {
	Resolve(ctx context.Context) error
	Reopen(ctx context.Context) error
	TogglePin(ctx context.Context) error
	AddTag(ctx context.Context, tag string) error
	RemoveTag(ctx context.Context, tag string) error
	SetPriority(ctx context.Context, p entity.Priority) error
	Assign(ctx context.Context, adminID int64) error
	Upload(ctx context.Context, path string) (*entity.SendResult, error)
	Summary() *entity.Conversation
}

// CommandResult 命令执行结果
type CommandResult struct {
	Output string
	IsBack bool
	IsQuit bool
}

// ExecuteCommand runs cmd against the open conversation. export is the
// directory CSV exports are written to.
func ExecuteCommand(ctx context.Context, cmd *SlashCommand, conv ConversationActions, export func(ctx context.Context, dir string) (string, error)) (CommandResult, error) {
	switch cmd.Name {
	case "help", "h":
		return CommandResult{Output: renderHelp()}, nil
	case "back", "b":
		return CommandResult{IsBack: true}, nil
	case "quit", "exit", "q":
		return CommandResult{IsQuit: true}, nil
	case "resolve":
		return done("Conversation resolved"), conv.Resolve(ctx)
	case "reopen":
		return done("Conversation reopened"), conv.Reopen(ctx)
	case "pin", "unpin":
		if err := conv.TogglePin(ctx); err != nil {
			return CommandResult{}, err
		}
		if s := conv.Summary(); s != nil && bool(s.IsPinned) {
			return done("Pinned"), nil
		}
		return done("Unpinned"), nil
	case "tag":
		if len(cmd.Args) == 0 {
			return CommandResult{Output: "Usage: /tag <name>"}, nil
		}
		tag := strings.Join(cmd.Args, " ")
		return done("Tagged " + tag), conv.AddTag(ctx, tag)
	case "untag":
		if len(cmd.Args) == 0 {
			return CommandResult{Output: "Usage: /untag <name>"}, nil
		}
		tag := strings.Join(cmd.Args, " ")
		return done("Removed tag " + tag), conv.RemoveTag(ctx, tag)
	case "priority", "p":
		if len(cmd.Args) == 0 {
			return CommandResult{Output: "Usage: /priority normal|high|urgent"}, nil
		}
		p := entity.Priority(strings.ToLower(cmd.Args[0]))
		return done("Priority set to " + string(p)), conv.SetPriority(ctx, p)
	case "assign":
		if len(cmd.Args) == 0 {
			return CommandResult{Output: "Usage: /assign <admin id>"}, nil
		}
		id, err := strconv.ParseInt(cmd.Args[0], 10, 64)
		if err != nil || id <= 0 {
			return CommandResult{Output: fmt.Sprintf("Invalid admin id %q", cmd.Args[0])}, nil
		}
		return done(fmt.Sprintf("Assigned to admin #%d", id)), conv.Assign(ctx, id)
	case "upload", "u":
		if len(cmd.Args) == 0 {
			return CommandResult{Output: "Usage: /upload <path>"}, nil
		}
		path := expandHome(strings.Join(cmd.Args, " "))
		res, err := conv.Upload(ctx, path)
		if err != nil {
			return CommandResult{}, err
		}
		out := "Uploaded " + filepath.Base(path)
		if res != nil && res.Warning != "" {
			out += " (" + res.Warning + ")"
		}
		return done(out), nil
	case "export":
		dir := "."
		if len(cmd.Args) > 0 {
			dir = expandHome(cmd.Args[0])
		}
		path, err := export(ctx, dir)
		if err != nil {
			return CommandResult{}, err
		}
		return done("Exported to " + path), nil
	default:
		return CommandResult{Output: fmt.Sprintf("Unknown command /%s, type /help for the list", cmd.Name)}, nil
	}
}

func done(msg string) CommandResult {
	return CommandResult{Output: okStyle.Render("✓ ") + msg}
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

func renderHelp() string {
	cmdStyle := lipgloss.NewStyle().Foreground(colorGreen)
	descStyle := lipgloss.NewStyle().Foreground(colorGray)

	cmds := []struct {
		name string
		desc string
	}{
		{"/resolve", "mark resolved"},
		{"/reopen", "reopen"},
		{"/pin", "pin or unpin"},
		{"/tag <name>", "add a tag"},
		{"/untag <name>", "remove a tag"},
		{"/priority <p>", "normal, high or urgent"},
		{"/assign <id>", "assign to an admin"},
		{"/upload <path>", "send an image or video"},
		{"/export [dir]", "save the conversation as CSV"},
		{"/back", "return to the inbox"},
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ Commands"))
	for _, c := range cmds {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("  %s  %s", cmdStyle.Render(fmt.Sprintf("%-16s", c.name)), descStyle.Render(c.desc)))
	}
	return sb.String()
}
