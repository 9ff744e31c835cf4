// Package boards loads task boards from YAML or JSON files and serves their
// task definitions.
package boards

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	yaml "go.yaml.in/yaml/v3"
	"go.trai.ch/zerr"

	"taskboard/internal/task"
)

// Board groups the tasks posted to one chat.
type Board struct {
	ID          string
	GuildID     string
	ChannelID   string
	Title       string
	Description string
	Color       string
	Tasks       []task.Definition
	Source      string
}

// taskNamespace seeds the name-derived task ids.
var taskNamespace = uuid.MustParse("6f1c7c3e-2b0a-4e8e-9a43-5b8e7f0d2c11")

var colorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// TaskID is the stable id of a task named name on board boardID.
func TaskID(boardID, name string) string {
	key := strings.ToLower(strings.TrimSpace(boardID)) + "/" + strings.ToLower(strings.TrimSpace(name))
	return uuid.NewSHA1(taskNamespace, []byte(key)).String()
}

// ParseFile reads one board file.
func ParseFile(path string) (Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Board{}, zerr.With(zerr.Wrap(err, "read board"), "path", path)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return Board{}, zerr.With(zerr.Wrap(err, "stat board"), "path", path)
	}
	return Parse(path, data, fi.ModTime())
}

// Parse decodes and validates a board. source names it in errors and
// provides the default id (the file name without extension). Unknown keys
// are rejected.
func Parse(source string, data []byte, createdAt time.Time) (Board, error) {
	var f boardFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Board{}, &task.ValidationError{Source: source, Problems: []string{"empty board file"}}
		}
		return Board{}, zerr.With(zerr.Wrap(err, "decode board"), "source", source)
	}

	if strings.TrimSpace(f.ID) == "" {
		base := filepath.Base(source)
		f.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := validate(source, f); err != nil {
		return Board{}, err
	}

	b := Board{
		ID:          strings.TrimSpace(f.ID),
		GuildID:     strings.TrimSpace(f.GuildID),
		ChannelID:   strings.TrimSpace(f.ChannelID),
		Title:       strings.TrimSpace(f.Title),
		Description: strings.TrimSpace(f.Description),
		Color:       f.Color,
		Source:      source,
	}
	for _, t := range f.Tasks {
		uses := 1
		if t.MaxUses != nil {
			uses = *t.MaxUses
		}
		b.Tasks = append(b.Tasks, task.Definition{
			ID:                          TaskID(b.ID, t.Name),
			BoardID:                     b.ID,
			Name:                        strings.TrimSpace(t.Name),
			Description:                 strings.TrimSpace(t.Description),
			Emoji:                       strings.TrimSpace(t.Emoji),
			DurationMinutes:             t.DurationMinutes,
			CooldownMinutes:             t.CooldownMinutes,
			MaxUses:                     uses,
			Global:                      t.Global,
			NotificationIntervalMinutes: t.NotificationIntervalMinutes,
			EarlyNotificationMinutes:    t.EarlyNotificationMinutes,
			CreatedAt:                   createdAt,
		})
	}
	return b, nil
}

// validate reports every problem at once.
func validate(source string, f boardFile) error {
	v := &task.ValidationError{Source: source}
	if strings.TrimSpace(f.GuildID) == "" {
		v.Add("guild_id is required")
	}
	if strings.TrimSpace(f.ChannelID) == "" {
		v.Add("channel_id is required")
	}
	if strings.TrimSpace(f.Title) == "" {
		v.Add("title is required")
	}
	if strings.TrimSpace(f.Description) == "" {
		v.Add("description is required")
	}
	if f.Color != "" && !colorRe.MatchString(f.Color) {
		v.Add("color %q is not #RRGGBB", f.Color)
	}
	if len(f.Tasks) == 0 {
		v.Add("at least one task is required")
	}

	seen := map[string]bool{}
	for i, t := range f.Tasks {
		name := strings.TrimSpace(t.Name)
		label := name
		if label == "" {
			label = "#" + strconv.Itoa(i+1)
			v.Add("task %s: name is required", label)
		} else if seen[strings.ToLower(name)] {
			v.Add("task %s: duplicate name", label)
		}
		seen[strings.ToLower(name)] = true

		if t.DurationMinutes < 0 {
			v.Add("task %s: duration_minutes must not be negative", label)
		}
		if t.CooldownMinutes < 0 {
			v.Add("task %s: cooldown_minutes must not be negative", label)
		}
		if t.MaxUses != nil && *t.MaxUses < 1 {
			v.Add("task %s: max_uses must be at least 1", label)
		}
		if t.NotificationIntervalMinutes < 0 {
			v.Add("task %s: notification_interval_minutes must not be negative", label)
		}
		if t.EarlyNotificationMinutes < 0 {
			v.Add("task %s: early_notification_minutes must not be negative", label)
		}
		if t.EarlyNotificationMinutes > 0 && t.NotificationIntervalMinutes <= 0 {
			v.Add("task %s: early_notification_minutes needs notification_interval_minutes", label)
		}
	}
	return v.Err()
}
