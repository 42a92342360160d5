package bot

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Adriatogi/common-voice-offline/internal/server/config"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
)

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

func renderStatus(st *models.ContributorStats) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"", "Count"})
	tw.AppendRows([]table.Row{
		{"Assigned", st.Assigned},
		{"Not recorded", st.Unrecorded},
		{"Pending upload", st.Pending},
		{"Uploaded", st.Uploaded},
		{"Failed", st.Failed},
		{"Skipped", st.Skipped},
	})
	tw.AppendFooter(table.Row{"Lifetime uploaded", st.LifetimeUploaded})
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	return tw.Render()
}

func itemState(it *models.ItemState) string {
	switch {
	case it.Item.DiscardedAt != nil:
		return "cleared"
	case it.Item.Status == models.WorkItemUploaded:
		return "uploaded"
	case it.Item.Status == models.WorkItemSkipped:
		return "skipped"
	case it.AttemptStatus == models.AttemptPending:
		return "pending"
	case it.AttemptStatus == models.AttemptFailed:
		return "failed"
	}
	return "to record"
}

func renderSentences(items []*models.ItemState) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "State", "Sentence"})
	for _, it := range items {
		tw.AppendRow(table.Row{it.Item.Position, itemState(it), it.Item.Text})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, WidthMax: 60},
	})
	return tw.Render()
}

func renderLanguages(languages map[string]string, codes []string, current string) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"Code", "Language"})
	for _, code := range codes {
		name := languages[code]
		if code == current {
			name += " (current)"
		}
		tw.AppendRow(table.Row{code, name})
	}
	return tw.Render()
}

// renderBatch lists the sentences so they stay readable offline in the
// chat history.
func renderBatch(b *models.Batch) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Downloaded %d sentences", len(b.Items))
	if len(b.Items) < b.Requested {
		fmt.Fprintf(&sb, " (only %d unseen were available)", len(b.Items))
	}
	sb.WriteString(".\n\n")
	for _, it := range b.Items {
		fmt.Fprintf(&sb, "#%d %s\n", it.Position, it.Text)
	}
	sb.WriteString("\nTo record: send #N, then a voice message reading sentence N.")
	return sb.String()
}

func renderLanguageStats(cfg *config.Config, st []models.LanguageStats) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"Language", "Contributors", "Uploaded"})
	total := 0
	for _, s := range st {
		tw.AppendRow(table.Row{languageName(cfg, s.Language), s.Contributors, s.RecordingsUploaded})
		total += s.RecordingsUploaded
	}
	tw.AppendFooter(table.Row{"Total", "", total})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	return tw.Render()
}
