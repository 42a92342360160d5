// Package console is a line-based stand-in for a messaging platform. Every
// input line is "<chat-id> <text>" or "<chat-id> !voice <path> [reply text]";
// replies are written as "[<chat-id>] <text>".
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/server/bot"
)

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

type Transport struct {
	in     io.Reader
	out    io.Writer
	prompt bool

	mu     sync.Mutex
	events chan bot.Event
	seq    int
}

// New reads events from in and writes replies to out. A prompt is shown
// when in is an interactive terminal.
func New(in io.Reader, out io.Writer) *Transport {
	t := &Transport{in: in, out: out, events: make(chan bot.Event)}
	if f, ok := in.(*os.File); ok {
		t.prompt = isTerminal(int(f.Fd()))
	}
	return t
}

func (t *Transport) Events() <-chan bot.Event { return t.events }

// Run scans input until EOF or ctx is done and closes the event channel.
func (t *Transport) Run(ctx context.Context) error {
	defer close(t.events)

	scanner := bufio.NewScanner(t.in)
	t.showPrompt()
	for scanner.Scan() {
		ev, ok := t.parse(scanner.Text())
		if ok {
			select {
			case t.events <- ev:
			case <-ctx.Done():
				return nil
			}
		} else if strings.TrimSpace(scanner.Text()) != "" {
			t.write("usage: <chat-id> <text> | <chat-id> !voice <path> [reply text]")
		}
		t.showPrompt()
	}
	return scanner.Err()
}

func (t *Transport) parse(line string) (bot.Event, bool) {
	chatID, rest, ok := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	if !ok || chatID == "" || rest == "" {
		return bot.Event{}, false
	}

	t.mu.Lock()
	t.seq++
	ev := bot.Event{ChatID: chatID, MessageID: strconv.Itoa(t.seq)}
	t.mu.Unlock()

	if voice, found := strings.CutPrefix(rest, "!voice"); found {
		path, reply, _ := strings.Cut(strings.TrimSpace(voice), " ")
		if path == "" {
			return bot.Event{}, false
		}
		ev.VoiceRef = path
		ev.ReplyToText = strings.TrimSpace(reply)
		return ev, true
	}
	ev.Text = rest
	return ev, true
}

func (t *Transport) Send(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.write(fmt.Sprintf("[%s] %s", chatID, text))
}

func (t *Transport) write(s string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintln(t.out, s)
	return err
}

func (t *Transport) showPrompt() {
	if !t.prompt {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, "> ")
}

// Fetch reads the recording at path ref.
func (t *Transport) Fetch(_ context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", ref, common.ErrArtifactUnavailable)
	}
	return data, err
}
