package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/logging"
	"github.com/Adriatogi/common-voice-offline/internal/server/config"
	"github.com/Adriatogi/common-voice-offline/internal/server/metrics"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/Adriatogi/common-voice-offline/internal/server/services"
)

var sentenceRef = regexp.MustCompile(`^#(\d+)\b`)

// HandlerFunc handles one event and returns the reply text ("" for none).
type HandlerFunc func(ctx context.Context, ev Event) (string, error)

// Rule routes events matching Match to Handle.
type Rule struct {
	Name   string
	Match  func(Event) bool
	Handle HandlerFunc
}

type Bot struct {
	cfg          *config.Config
	transport    Transport
	contributors *services.ContributorService
	allocator    *services.Allocator
	capture      *services.CaptureService
	reconciler   *services.Reconciler
	stats        *services.StatsService
	metrics      *metrics.Metrics
	logger       logging.Logger

	rules []Rule
}

func New(cfg *config.Config, tr Transport, cs *services.ContributorService, al *services.Allocator,
	cp *services.CaptureService, rc *services.Reconciler, st *services.StatsService,
	mt *metrics.Metrics, logger logging.Logger) *Bot {
	b := &Bot{
		cfg:          cfg,
		transport:    tr,
		contributors: cs,
		allocator:    al,
		capture:      cp,
		reconciler:   rc,
		stats:        st,
		metrics:      mt,
		logger:       logger.With("module", "bot"),
	}
	b.rules = b.Rules()
	return b
}

func command(names ...string) func(Event) bool {
	return func(ev Event) bool {
		if ev.IsVoice() {
			return false
		}
		cmd, _ := splitCommand(ev.Text)
		for _, n := range names {
			if cmd == n {
				return true
			}
		}
		return false
	}
}

// splitCommand returns the lower-cased command without any @botname suffix
// and its arguments.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := strings.ToLower(fields[0])
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:]
}

// Rules is the routing table, evaluated top to bottom; the first match wins.
func (b *Bot) Rules() []Rule {
	return []Rule{
		{"help", command("/start", "/help"), b.handleHelp},
		{"login", command("/login"), b.handleLogin},
		{"language", command("/language"), b.registered(b.handleLanguage)},
		{"setup", command("/setup"), b.registered(b.handleSetup)},
		{"clear", command("/clear"), b.registered(b.handleClear)},
		{"skip", command("/skip"), b.registered(b.handleSkip)},
		{"sentences", command("/sentences"), b.registered(b.handleSentences)},
		{"status", command("/status"), b.registered(b.handleStatus)},
		{"upload", command("/upload"), b.registered(b.handleUpload)},
		{"stats", command("/stats"), b.handleStats},
		{"logout", command("/logout"), b.handleLogout},
		{"delete", command("/delete"), b.handleDelete},
		{"select", func(ev Event) bool { return !ev.IsVoice() && sentenceRef.MatchString(strings.TrimSpace(ev.Text)) }, b.registered(b.handleSelect)},
		{"voice", Event.IsVoice, b.registered(b.handleVoice)},
		{"unknown", func(ev Event) bool { return strings.HasPrefix(strings.TrimSpace(ev.Text), "/") }, b.handleUnknown},
	}
}

// Handle routes ev through the rule table and sends the reply.
func (b *Bot) Handle(ctx context.Context, ev Event) {
	for _, r := range b.rules {
		if !r.Match(ev) {
			continue
		}
		b.metrics.RecordEvent(r.Name)
		if r.Name != "logout" && r.Name != "delete" {
			b.contributors.Sessions().Update(ev.ChatID, func(s *services.Session) {
				s.ConfirmLogout, s.ConfirmDelete = false, false
			})
		}
		reply, err := r.Handle(ctx, ev)
		if err != nil {
			reply = b.errorReply(ctx, ev, err)
		}
		if reply == "" {
			return
		}
		if err := b.transport.Send(ctx, ev.ChatID, reply); err != nil {
			b.logger.Error(ctx, "error sending reply", "chat", ev.ChatID, "error", err)
		}
		return
	}
	b.metrics.RecordEvent("ignored")
}

type contributorHandler func(ctx context.Context, ev Event, c *models.Contributor) (string, error)

func (b *Bot) registered(h contributorHandler) HandlerFunc {
	return func(ctx context.Context, ev Event) (string, error) {
		c, err := b.contributors.ByChat(ctx, ev.ChatID)
		if err != nil {
			return "", err
		}
		return h(ctx, ev, c)
	}
}

func (b *Bot) errorReply(ctx context.Context, ev Event, err error) string {
	switch {
	case errors.Is(err, common.ErrNotRegistered):
		return "You need to register first. Use /login <email> <username>."
	case errors.Is(err, common.ErrInvalidEmail):
		return "That email address does not look valid."
	case errors.Is(err, common.ErrInvalidUsername):
		return "The username must be at least 2 characters long."
	case errors.Is(err, common.ErrDuplicateIdentity):
		return "That email or username is already taken at Common Voice. Try another username."
	case errors.Is(err, common.ErrUnsupportedLanguage):
		return fmt.Sprintf("Unsupported language. Choose one of: %s.", strings.Join(b.cfg.LanguageCodes(), ", "))
	case errors.Is(err, common.ErrInvalidCount):
		return fmt.Sprintf("Please ask for between 1 and %d sentences.", b.cfg.MaxSentences)
	case errors.Is(err, common.ErrBatchInProgress):
		return "You still have sentences to record. Record or /skip them, or /clear the batch first."
	case errors.Is(err, common.ErrNoActiveBatch):
		return "You have no sentences yet. Use /setup <language> [count] to download some."
	case errors.Is(err, common.ErrUnknownPosition):
		return "There is no open sentence with that number. Use /sentences to see your batch."
	case errors.Is(err, common.ErrNoSentencesAvailable):
		return "No new sentences are available in that language right now. Try another language."
	case errors.Is(err, common.ErrTransient):
		return "Common Voice cannot be reached right now. Your data is safe; please try again later."
	}
	b.logger.Error(ctx, "handler failed", "chat", ev.ChatID, "error", err)
	return "Something went wrong. Please try again."
}

func (b *Bot) handleHelp(context.Context, Event) (string, error) {
	var sb strings.Builder
	sb.WriteString("Record sentences for Common Voice, even offline.\n\n")
	sb.WriteString("/login <email> <username> [age] [gender] - register or log back in\n")
	sb.WriteString("/language <code> - choose the language you record in\n")
	sb.WriteString("/setup [language] [count] - download sentences to record\n")
	sb.WriteString("#N - pick sentence N, then send a voice message\n")
	sb.WriteString("/sentences - list your current sentences\n")
	sb.WriteString("/skip N - skip sentence N\n")
	sb.WriteString("/clear [force] - drop the rest of the current batch\n")
	sb.WriteString("/status - show your progress\n")
	sb.WriteString("/upload - upload now and retry failed recordings\n")
	sb.WriteString("/stats - totals per language\n")
	sb.WriteString("/logout - unlink this chat\n")
	sb.WriteString("/delete - delete your account and data\n\n")
	sb.WriteString("Languages: ")
	var langs []string
	for _, code := range b.cfg.LanguageCodes() {
		langs = append(langs, fmt.Sprintf("%s (%s)", b.cfg.Languages[code], code))
	}
	sb.WriteString(strings.Join(langs, ", "))
	return sb.String(), nil
}

func (b *Bot) handleLogin(ctx context.Context, ev Event) (string, error) {
	_, args := splitCommand(ev.Text)
	if len(args) < 2 {
		return "Usage: /login <email> <username> [age] [gender]", nil
	}
	r := services.Registration{ChatID: ev.ChatID, Email: args[0], Username: args[1]}
	if len(args) > 2 {
		r.Age = args[2]
	}
	if len(args) > 3 {
		r.Gender = args[3]
	}

	c, rebound, err := b.contributors.Register(ctx, r)
	if err != nil {
		return "", err
	}
	if rebound {
		return fmt.Sprintf("Welcome back, %s! Use /status to see where you left off.", c.Username), nil
	}
	return fmt.Sprintf("Welcome, %s! Use /setup <language> [count] to download sentences.", c.Username), nil
}

func (b *Bot) handleSetup(ctx context.Context, ev Event, c *models.Contributor) (string, error) {
	_, args := splitCommand(ev.Text)
	if len(args) == 0 {
		return "Usage: /setup <language> [count]\n\n" +
			renderLanguages(b.cfg.Languages, b.cfg.LanguageCodes(), c.CurrentLanguage), nil
	}

	language := strings.ToLower(args[0])
	n := b.cfg.DefaultSentences
	if v, err := strconv.Atoi(args[0]); err == nil && c.CurrentLanguage != "" {
		// "/setup 20" reuses the current language
		language, n = c.CurrentLanguage, v
	} else if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return "", common.ErrInvalidCount
		}
		n = v
	}

	batch, err := b.allocator.Allocate(ctx, c.ID, language, n)
	if err != nil {
		return "", err
	}
	b.contributors.Sessions().Update(ev.ChatID, func(s *services.Session) { s.SelectedPosition = 0 })
	return renderBatch(batch), nil
}

func (b *Bot) handleLanguage(ctx context.Context, ev Event, c *models.Contributor) (string, error) {
	_, args := splitCommand(ev.Text)
	if len(args) == 0 {
		return "Usage: /language <code>\n\n" +
			renderLanguages(b.cfg.Languages, b.cfg.LanguageCodes(), c.CurrentLanguage), nil
	}
	code := strings.ToLower(args[0])
	if err := b.contributors.SetLanguage(ctx, c.ID, code); err != nil {
		return "", err
	}
	return fmt.Sprintf("You now record in %s. Use /setup [count] to download sentences.", b.cfg.Languages[code]), nil
}

func (b *Bot) handleClear(ctx context.Context, ev Event, c *models.Contributor) (string, error) {
	_, args := splitCommand(ev.Text)
	force := len(args) > 0 && strings.EqualFold(args[0], "force")

	n, err := b.allocator.Clear(ctx, c.ID, force)
	if errors.Is(err, common.ErrPendingUploads) {
		return "Some recordings in this batch are not uploaded yet. Use /upload first, or /clear force to drop them.", nil
	}
	if err != nil {
		return "", err
	}
	b.contributors.Sessions().Update(ev.ChatID, func(s *services.Session) { s.SelectedPosition = 0 })
	return fmt.Sprintf("Cleared %d sentences. Use /setup to get new ones.", n), nil
}

func (b *Bot) handleSkip(ctx context.Context, ev Event, c *models.Contributor) (string, error) {
	_, args := splitCommand(ev.Text)
	position := b.contributors.Sessions().Get(ev.ChatID).SelectedPosition
	if len(args) > 0 {
		v, err := strconv.Atoi(strings.TrimPrefix(args[0], "#"))
		if err != nil {
			return "Usage: /skip N", nil
		}
		position = v
	}
	if position == 0 {
		return "Usage: /skip N", nil
	}

	item, err := b.allocator.Skip(ctx, c.ID, position)
	if err != nil {
		return "", err
	}
	b.contributors.Sessions().Update(ev.ChatID, func(s *services.Session) {
		if s.SelectedPosition == position {
			s.SelectedPosition = 0
		}
	})
	return fmt.Sprintf("Skipped #%d. You will not get this sentence again.", item.Position), nil
}

func (b *Bot) handleSentences(ctx context.Context, _ Event, c *models.Contributor) (string, error) {
	items, err := b.allocator.Current(ctx, c.ID)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", common.ErrNoActiveBatch
	}
	return renderSentences(items), nil
}

func (b *Bot) handleStatus(ctx context.Context, _ Event, c *models.Contributor) (string, error) {
	st, err := b.stats.ContributorStats(ctx, c.ID)
	if err != nil {
		return "", err
	}
	header := fmt.Sprintf("%s, language: %s", c.Username, languageName(b.cfg, c.CurrentLanguage))
	if c.CredentialFailures > 0 {
		header += "\nUploads are waiting for Common Voice to become reachable."
	}
	if until, ok := b.reconciler.BackoffUntil(c.ID); ok && time.Now().Before(until) {
		header += fmt.Sprintf("\nNext automatic upload attempt after %s.", until.Format("15:04"))
	}
	return header + "\n" + renderStatus(st), nil
}

func languageName(cfg *config.Config, code string) string {
	if code == "" {
		return "not set"
	}
	if name, ok := cfg.Languages[code]; ok {
		return name
	}
	return code
}

func (b *Bot) handleUpload(ctx context.Context, _ Event, c *models.Contributor) (string, error) {
	sum, err := b.reconciler.ReconcileContributor(ctx, c.ID, services.ReconcileOptions{RetryFailed: true})
	if err != nil && !errors.Is(err, common.ErrTransient) {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Uploaded %d.", sum.Uploaded)
	if sum.Failed > 0 {
		fmt.Fprintf(&sb, " %d rejected; record them again.", sum.Failed)
	}
	if sum.Remaining > 0 {
		fmt.Fprintf(&sb, " %d waiting; they will be retried automatically.", sum.Remaining)
	}
	if sum.Uploaded == 0 && sum.Failed == 0 && sum.Remaining == 0 {
		return "Nothing to upload.", nil
	}
	return sb.String(), nil
}

func (b *Bot) handleStats(ctx context.Context, _ Event) (string, error) {
	st, err := b.stats.LanguageStats(ctx)
	if err != nil {
		return "", err
	}
	if len(st) == 0 {
		return "No recordings yet.", nil
	}
	return renderLanguageStats(b.cfg, st), nil
}

func (b *Bot) handleLogout(ctx context.Context, ev Event) (string, error) {
	pending, err := b.contributors.Logout(ctx, ev.ChatID)
	if errors.Is(err, common.ErrPendingUploads) {
		return fmt.Sprintf("You have %d recordings waiting to upload. They will still be uploaded later. "+
			"Send /logout again to confirm.", pending), nil
	}
	if err != nil {
		return "", err
	}
	return "Logged out. Use /login to come back.", nil
}

func (b *Bot) handleDelete(ctx context.Context, ev Event) (string, error) {
	if _, err := b.contributors.ByChat(ctx, ev.ChatID); err != nil {
		return "", err
	}
	sessions := b.contributors.Sessions()
	if !sessions.Get(ev.ChatID).ConfirmDelete {
		sessions.Update(ev.ChatID, func(s *services.Session) { s.ConfirmDelete = true })
		return "This deletes your account and every recording not yet uploaded. Send /delete again to confirm.", nil
	}
	if err := b.contributors.DeleteAccount(ctx, ev.ChatID); err != nil {
		return "", err
	}
	return "Your account and data were deleted.", nil
}

func (b *Bot) handleSelect(ctx context.Context, ev Event, c *models.Contributor) (string, error) {
	position, _ := parseRef(ev.Text)
	item, err := b.allocator.Item(ctx, c.ID, position)
	if err != nil {
		return "", err
	}
	b.contributors.Sessions().Update(ev.ChatID, func(s *services.Session) { s.SelectedPosition = position })
	return fmt.Sprintf("#%d %s\n\nSend a voice message now to record this sentence.", position, item.Text), nil
}

func (b *Bot) handleVoice(ctx context.Context, ev Event, c *models.Contributor) (string, error) {
	sessions := b.contributors.Sessions()
	position := sessions.Get(ev.ChatID).SelectedPosition
	if position == 0 {
		position, _ = parseRef(ev.ReplyToText)
	}
	if position == 0 {
		return "Which sentence is this? Send #N first, then the voice message.", nil
	}

	if _, err := b.capture.Capture(ctx, c.ID, position, ev.VoiceRef); err != nil {
		sessions.Update(ev.ChatID, func(s *services.Session) { s.SelectedPosition = 0 })
		return "", err
	}
	sessions.Update(ev.ChatID, func(s *services.Session) { s.SelectedPosition = 0 })

	// Try right away; offline contributors just keep the attempt pending.
	b.reconciler.Trigger(context.WithoutCancel(ctx), c.ID)
	return fmt.Sprintf("Recorded #%d. It will be uploaded as soon as possible.", position), nil
}

func (b *Bot) handleUnknown(context.Context, Event) (string, error) {
	return "Unknown command. Send /help for the list.", nil
}

func parseRef(text string) (int, bool) {
	m := sentenceRef.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
