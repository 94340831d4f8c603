package command

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/beadwal/internal/transition"
)

// ErrSkip marks a record that has nothing left to apply after validation.
// Recovery skips such records instead of failing the entity.
var ErrSkip = errors.New("nothing to apply")

// ErrUnknownOperation is returned for operations with no command mapping.
var ErrUnknownOperation = errors.New("unknown operation")

// IsSkip reports whether err marks a skippable record.
func IsSkip(err error) bool {
	return errors.Is(err, ErrSkip)
}

// Issue fields accepted by create and update.
const (
	DefaultTitle    = "Untitled"
	DefaultType     = "task"
	DefaultPriority = 2
	MinPriority     = 0
	MaxPriority     = 10
)

var issueTypes = map[string]bool{
	"task":    true,
	"bug":     true,
	"feature": true,
	"epic":    true,
	"chore":   true,
}

// endOfFlags precedes positional free text, so a title or comment that
// starts with "-" reaches the tool as text and not as an option.
const endOfFlags = "--"

// updateFlags maps allow-listed update keys to tool flags.
var updateFlags = map[string]string{
	"title":               "--title",
	"description":         "--description",
	"status":              "--status",
	"priority":            "--priority",
	"assignee":            "--assignee",
	"notes":               "--notes",
	"design":              "--design",
	"acceptance_criteria": "--acceptance",
	"external_ref":        "--external-ref",
}

var (
	statusPattern  = regexp.MustCompile(`^[a-z_]{1,32}$`)
	labelPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:/-]{0,63}$`)
	depTypePattern = regexp.MustCompile(`^[a-z][a-z_-]{0,31}$`)
)

// Builder maps transition records to tool commands.
type Builder struct {
	tool string
}

// NewBuilder returns a Builder for tool. The name is validated here so a
// bad configuration fails before any record is processed.
func NewBuilder(tool string) (*Builder, error) {
	if tool == "" {
		tool = DefaultTool
	}
	if err := ValidateTool(tool); err != nil {
		return nil, err
	}
	return &Builder{tool: tool}, nil
}

// Tool returns the configured tool name.
func (b *Builder) Tool() string {
	return b.tool
}

// SyncCommand returns the flush command run after a recovery pass.
func (b *Builder) SyncCommand() Command {
	return b.cmd("sync", "--flush-only")
}

// Build returns the command that re-applies rec.
// Errors wrapping ErrSkip mean the record has nothing to apply.
func (b *Builder) Build(rec transition.Record) (Command, error) {
	if err := transition.ValidateEntityID(rec.EntityID); err != nil {
		return Command{}, err
	}

	switch rec.Operation {
	case transition.OpCreate:
		return b.create(rec), nil
	case transition.OpUpdate:
		return b.update(rec)
	case transition.OpClose:
		return b.close(rec), nil
	case transition.OpReopen:
		return b.cmd("reopen", rec.EntityID), nil
	case transition.OpLabel:
		return b.label(rec)
	case transition.OpComment:
		return b.comment(rec)
	case transition.OpDep:
		return b.dep(rec)
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownOperation, rec.Operation)
	}
}

func (b *Builder) cmd(args ...string) Command {
	return Command{Program: b.tool, Args: args}
}

func (b *Builder) create(rec transition.Record) Command {
	p := rec.Payload

	title := text(p, "title")
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}

	issueType := DefaultType
	if t, ok := p.String("type"); ok && issueTypes[t] {
		issueType = t
	}

	priority := int64(DefaultPriority)
	if n, ok := priorityValue(p); ok {
		priority = n
	}

	c := b.cmd("create",
		"--id", rec.EntityID,
		"--type", issueType,
		"--priority", strconv.FormatInt(priority, 10),
	)
	if d := text(p, "description"); d != "" {
		c.Args = append(c.Args, "--description", d)
	}
	c.Args = append(c.Args, endOfFlags, title)
	return c
}

func (b *Builder) update(rec transition.Record) (Command, error) {
	p := rec.Payload
	c := b.cmd("update", rec.EntityID)

	for _, key := range p.Keys() {
		flag, ok := updateFlags[key]
		if !ok {
			continue
		}
		switch key {
		case "priority":
			n, ok := priorityValue(p)
			if !ok {
				continue
			}
			c.Args = append(c.Args, flag, strconv.FormatInt(n, 10))
		case "status":
			s, ok := p.String(key)
			if !ok || !statusPattern.MatchString(s) {
				continue
			}
			c.Args = append(c.Args, flag, s)
		default:
			s, ok := p.String(key)
			if !ok {
				continue
			}
			c.Args = append(c.Args, flag, SanitizeText(s))
		}
	}

	if len(c.Args) == 2 {
		return Command{}, fmt.Errorf("%w: update of %s has no applicable fields", ErrSkip, rec.EntityID)
	}
	return c, nil
}

func (b *Builder) close(rec transition.Record) Command {
	c := b.cmd("close", rec.EntityID)
	if r := text(rec.Payload, "reason"); r != "" {
		c.Args = append(c.Args, "--reason", r)
	}
	return c
}

func (b *Builder) label(rec transition.Record) (Command, error) {
	p := rec.Payload

	action := "add"
	if a, ok := p.String("action"); ok && a == "remove" {
		action = "remove"
	}

	candidates := append(p.Strings("labels"), p.Strings("label")...)
	seen := make(map[string]bool, len(candidates))
	var labels []string
	for _, l := range candidates {
		if !validLabel(l) || seen[l] {
			continue
		}
		seen[l] = true
		labels = append(labels, l)
	}
	if len(labels) == 0 {
		return Command{}, fmt.Errorf("%w: label on %s has no valid labels", ErrSkip, rec.EntityID)
	}

	c := b.cmd("label", action, rec.EntityID)
	c.Args = append(c.Args, labels...)
	return c, nil
}

func (b *Builder) comment(rec transition.Record) (Command, error) {
	body := text(rec.Payload, "body")
	if strings.TrimSpace(body) == "" {
		body = text(rec.Payload, "text")
	}
	if strings.TrimSpace(body) == "" {
		return Command{}, fmt.Errorf("%w: comment on %s is empty", ErrSkip, rec.EntityID)
	}
	return b.cmd("comments", "add", rec.EntityID, endOfFlags, body), nil
}

func (b *Builder) dep(rec transition.Record) (Command, error) {
	p := rec.Payload

	action := "add"
	if a, ok := p.String("action"); ok && a == "remove" {
		action = "remove"
	}

	target, ok := p.String("target")
	if !ok || target == "" {
		target, _ = p.String("depends_on")
	}
	if !transition.ValidEntityID(target) {
		return Command{}, fmt.Errorf("%w: dep on %s has no valid target", ErrSkip, rec.EntityID)
	}

	c := b.cmd("dep", action, rec.EntityID, target)
	if t, ok := p.String("type"); ok && depTypePattern.MatchString(t) {
		c.Args = append(c.Args, "--type", t)
	}
	return c, nil
}

// text returns the sanitised string at key, or "" if it is absent or not a string.
func text(p transition.Payload, key string) string {
	s, ok := p.String(key)
	if !ok {
		return ""
	}
	return SanitizeText(s)
}

func priorityValue(p transition.Payload) (int64, bool) {
	n, ok := p.Int("priority")
	if !ok || n < MinPriority || n > MaxPriority {
		return 0, false
	}
	return n, true
}

func validLabel(l string) bool {
	return labelPattern.MatchString(l) && !strings.Contains(l, "..")
}
