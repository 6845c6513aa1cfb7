package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"discussify/internal/feed"
	"discussify/internal/session"

	"gopkg.in/yaml.v3"
)

// commandKind names a stdin command.
type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdAttach
	cmdDetach
	cmdVote
	cmdComment
	cmdRetry
	cmdOpen
	cmdQuit
)

type command struct {
	kind  commandKind
	text  string
	arg   string
	index int
}

var errUsage = errors.New("usage: <text> | /attach <path> | /detach <n> | /vote <postID> | /comment <postID> <text> | /retry | /open <communityID> | /quit")

// parseCommand reads one stdin line. Lines that do not start with a slash are
// post bodies.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		if line == "" {
			return command{}, errUsage
		}
		return command{kind: cmdSubmit, text: line}, nil
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/attach":
		if rest == "" {
			return command{}, errUsage
		}
		return command{kind: cmdAttach, arg: rest}, nil
	case "/detach":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return command{}, errUsage
		}
		return command{kind: cmdDetach, index: n - 1}, nil
	case "/vote":
		if rest == "" {
			return command{}, errUsage
		}
		return command{kind: cmdVote, arg: rest}, nil
	case "/comment":
		postID, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if postID == "" || text == "" {
			return command{}, errUsage
		}
		return command{kind: cmdComment, arg: postID, text: text}, nil
	case "/retry":
		return command{kind: cmdRetry}, nil
	case "/open":
		if rest == "" {
			return command{}, errUsage
		}
		return command{kind: cmdOpen, arg: rest}, nil
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	default:
		return command{}, errUsage
	}
}

type entryView struct {
	Key       string    `yaml:"key"`
	State     string    `yaml:"state"`
	Author    string    `yaml:"author"`
	Title     string    `yaml:"title"`
	Content   string    `yaml:"content,omitempty"`
	Images    []string  `yaml:"images,omitempty"`
	Previews  []string  `yaml:"previews,omitempty"`
	Votes     int       `yaml:"votes"`
	Voted     bool      `yaml:"voted"`
	Comments  int       `yaml:"comments"`
	CreatedAt time.Time `yaml:"createdAt"`
}

type snapshotView struct {
	Community  string      `yaml:"community"`
	Generation uint64      `yaml:"generation"`
	Loaded     bool        `yaml:"loaded"`
	Entries    []entryView `yaml:"entries"`
}

func toView(snap feed.Snapshot, userID string) snapshotView {
	out := snapshotView{
		Community:  snap.CommunityID,
		Generation: snap.Generation,
		Loaded:     snap.Loaded,
		Entries:    make([]entryView, 0, len(snap.Entries)),
	}
	for _, e := range snap.Entries {
		ev := entryView{
			Key:       e.Key,
			State:     e.State.String(),
			Author:    e.Post.Author.Username,
			Title:     e.Post.Title,
			Content:   e.Post.Content,
			Images:    e.Post.Images,
			Votes:     e.Post.VoteCount,
			Voted:     e.Post.HasVoted(userID),
			Comments:  e.Post.CommentCount,
			CreatedAt: e.Post.CreatedAt,
		}
		for _, ref := range e.Previews {
			ev.Previews = append(ev.Previews, ref.URL())
		}
		out.Entries = append(out.Entries, ev)
	}
	return out
}

// renderer writes snapshots and notices in the selected format.
type renderer struct {
	w      io.Writer
	format string
	userID string
}

func (r renderer) snapshot(snap feed.Snapshot) error {
	view := toView(snap, r.userID)
	if r.format == "yaml" {
		enc := yaml.NewEncoder(r.w)
		enc.SetIndent(2)
		if _, err := io.WriteString(r.w, "---\n"); err != nil {
			return err
		}
		if err := enc.Encode(view); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(r.w, "== %s (generation %d, %d posts)\n", view.Community, view.Generation, len(view.Entries))
	for _, e := range view.Entries {
		mark := " "
		if e.Voted {
			mark = "*"
		}
		fmt.Fprintf(r.w, "%s [%s] %s %s: %s (%d votes, %d comments", mark, e.State, e.Key, e.Author, e.Title, e.Votes, e.Comments)
		if n := len(e.Images) + len(e.Previews); n > 0 {
			fmt.Fprintf(r.w, ", %d images", n)
		}
		fmt.Fprintln(r.w, ")")
	}
	return nil
}

func (r renderer) notice(n session.Notice) {
	if n.Key != "" {
		fmt.Fprintf(r.w, "! %s: %s (%s)\n", n.Level, n.Message, n.Key)
		return
	}
	fmt.Fprintf(r.w, "! %s: %s\n", n.Level, n.Message)
}
