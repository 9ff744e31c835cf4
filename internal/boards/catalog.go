package boards

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"

	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"taskboard/internal/task"
)

var _ task.DefinitionStore = (*Catalog)(nil)

// Catalog serves the definitions of every loaded board. Reloads swap the
// whole set at once; readers never see a half-applied reload.
type Catalog struct {
	dir string
	cur atomic.Pointer[index]
}

type index struct {
	boards []Board
	byID   map[string]task.Definition
}

// LoadDir parses every board file in dir and returns a catalog over them.
// Any invalid file fails the whole load.
func LoadDir(ctx context.Context, dir string) (*Catalog, error) {
	c := &Catalog{dir: dir}
	if _, err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// New builds a catalog from already parsed boards.
func New(boards ...Board) (*Catalog, error) {
	idx, err := buildIndex(boards)
	if err != nil {
		return nil, err
	}
	c := &Catalog{}
	c.cur.Store(idx)
	return c, nil
}

func (c *Catalog) Dir() string { return c.dir }

// Reload re-reads the directory. On error the previous boards stay active.
// It returns the number of tasks now served.
func (c *Catalog) Reload(ctx context.Context) (int, error) {
	boards, err := ReadDir(ctx, c.dir)
	if err != nil {
		return 0, err
	}
	idx, err := buildIndex(boards)
	if err != nil {
		return 0, err
	}
	c.cur.Store(idx)
	return len(idx.byID), nil
}

// ReadDir parses every *.yaml, *.yml and *.json file in dir concurrently.
// The returned error joins the problems of every bad file.
func ReadDir(ctx context.Context, dir string) ([]Board, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "read boards dir"), "dir", dir)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	boards := make([]Board, len(paths))
	errs := make([]error, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			boards[i], errs[i] = ParseFile(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return boards, nil
}

func buildIndex(boards []Board) (*index, error) {
	idx := &index{boards: append([]Board(nil), boards...), byID: map[string]task.Definition{}}
	seenBoard := map[string]string{}
	var errs []error
	for _, b := range boards {
		if prev, ok := seenBoard[strings.ToLower(b.ID)]; ok {
			errs = append(errs, zerr.With(zerr.With(zerr.New("duplicate board id"), "board", b.ID), "first", prev))
			continue
		}
		seenBoard[strings.ToLower(b.ID)] = b.Source
		for _, def := range b.Tasks {
			idx.byID[def.ID] = def
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	sort.Slice(idx.boards, func(i, j int) bool { return idx.boards[i].ID < idx.boards[j].ID })
	return idx, nil
}

func (c *Catalog) load() *index {
	if idx := c.cur.Load(); idx != nil {
		return idx
	}
	return &index{byID: map[string]task.Definition{}}
}

func (c *Catalog) FindByID(ctx context.Context, id string) (task.Definition, error) {
	def, ok := c.load().byID[id]
	if !ok {
		return task.Definition{}, task.ErrTaskNotFound
	}
	return def, nil
}

// FindAll lists definitions board by board, in file order within a board.
func (c *Catalog) FindAll(ctx context.Context) ([]task.Definition, error) {
	var out []task.Definition
	for _, b := range c.load().boards {
		out = append(out, b.Tasks...)
	}
	return out, nil
}

func (c *Catalog) FindByBoardID(ctx context.Context, boardID string) ([]task.Definition, error) {
	for _, b := range c.load().boards {
		if strings.EqualFold(b.ID, boardID) {
			return append([]task.Definition(nil), b.Tasks...), nil
		}
	}
	return nil, nil
}

// Boards returns every loaded board ordered by id.
func (c *Catalog) Boards() []Board {
	return append([]Board(nil), c.load().boards...)
}

// Board looks a board up by id.
func (c *Catalog) Board(id string) (Board, bool) {
	for _, b := range c.load().boards {
		if b.ID == id {
			return b, true
		}
	}
	return Board{}, false
}

// BoardsForChat returns the boards posted to chatID, matched against either
// the guild or the channel of the board.
func (c *Catalog) BoardsForChat(chatID string) []Board {
	var out []Board
	for _, b := range c.load().boards {
		if b.GuildID == chatID || b.ChannelID == chatID {
			out = append(out, b)
		}
	}
	return out
}

// Resolve finds a task of chatID's boards by id or by case-insensitive name.
func (c *Catalog) Resolve(chatID, query string) (task.Definition, error) {
	query = strings.TrimSpace(query)
	for _, b := range c.BoardsForChat(chatID) {
		for _, def := range b.Tasks {
			if def.ID == query || strings.EqualFold(def.Name, query) {
				return def, nil
			}
		}
	}
	return task.Definition{}, task.ErrTaskNotFound
}
