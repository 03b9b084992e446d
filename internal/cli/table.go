package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/tOgg1/backlot/internal/inbox"
	"github.com/tOgg1/backlot/internal/models"
)

const (
	tablePadding  = 2
	titleWidth    = 28
	previewWidth  = 44
	ellipsis      = "…"
	ansiBold      = "\x1b[1m"
	ansiReset     = "\x1b[0m"
	targetMarker  = ">"
	pendingMarker = "~"
)

func writeTable(out io.Writer, headers []string, rows [][]string) error {
	colCount := len(headers)
	for _, row := range rows {
		colCount = max(colCount, len(row))
	}
	if colCount == 0 {
		return nil
	}

	widths := make([]int, colCount)
	measure := func(row []string) {
		for idx, cell := range row {
			widths[idx] = max(widths[idx], runewidth.StringWidth(stripANSI(cell)))
		}
	}
	measure(headers)
	for _, row := range rows {
		measure(row)
	}

	writer := bufio.NewWriter(out)
	writeRow := func(row []string) {
		for idx := range colCount {
			cell := ""
			if idx < len(row) {
				cell = row[idx]
			}
			writer.WriteString(cell)
			if idx < colCount-1 {
				padding := max(widths[idx]-runewidth.StringWidth(stripANSI(cell)), 0)
				writer.WriteString(strings.Repeat(" ", padding+tablePadding))
			}
		}
		writer.WriteString("\n")
	}

	if len(headers) > 0 {
		writeRow(headers)
	}
	for _, row := range rows {
		writeRow(row)
	}
	return writer.Flush()
}

func stripANSI(value string) string {
	if !strings.Contains(value, "\x1b[") {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if value[i] != 0x1b || i+1 >= len(value) || value[i+1] != '[' {
			b.WriteByte(value[i])
			continue
		}
		i += 2
		for i < len(value) && (value[i] < 0x40 || value[i] > 0x7e) {
			i++
		}
	}
	return b.String()
}

// truncateCell shortens value to width display columns.
func truncateCell(value string, width int) string {
	value = strings.Join(strings.Fields(value), " ")
	return runewidth.Truncate(value, width, ellipsis)
}

// writeInboxTable renders the merged inbox. Unread rows are bold when color is on.
func writeInboxTable(out io.Writer, view inbox.View, color bool, now time.Time) error {
	headers := []string{"", "KIND", "SELECT", "TITLE", "PREVIEW", "UNREAD", "ACTIVITY"}
	rows := make([][]string, 0, len(view.Items))
	for _, item := range view.Items {
		row := []string{
			rowMarker(item, view.Target),
			string(item.Kind()),
			models.SelectionFor(item).String(),
			truncateCell(itemTitle(item), titleWidth),
			truncateCell(itemPreview(item), previewWidth),
			formatUnread(item.Unread()),
			formatActivity(item.ActivityAt(), now),
		}
		if color && item.Unread() > 0 {
			row[3] = ansiBold + row[3] + ansiReset
		}
		rows = append(rows, row)
	}
	return writeTable(out, headers, rows)
}

func rowMarker(item models.Item, target *inbox.Target) string {
	marker := ""
	if target != nil {
		if open := targetItem(target); open != nil && open.Kind() == item.Kind() && open.ItemID() == item.ItemID() {
			marker = targetMarker
		}
	}
	if dm, ok := item.(*models.DirectMessageItem); ok && dm.Provisional {
		marker += pendingMarker
	}
	return marker
}

func targetItem(target *inbox.Target) models.Item {
	switch {
	case target.DirectMessage != nil:
		return target.DirectMessage
	case target.ProjectUpdate != nil:
		return target.ProjectUpdate
	case target.Channel != nil:
		return target.Channel
	default:
		return nil
	}
}

func itemTitle(item models.Item) string {
	switch it := item.(type) {
	case *models.DirectMessageItem:
		return it.OtherContact.Label()
	case *models.ProjectUpdateItem:
		return it.ProjectTitle
	case *models.ChannelItem:
		return "#" + it.Slug
	default:
		return item.ItemID()
	}
}

func itemPreview(item models.Item) string {
	switch it := item.(type) {
	case *models.DirectMessageItem:
		if it.Provisional {
			return "(new conversation)"
		}
		return deref(it.LastMessagePreview)
	case *models.ProjectUpdateItem:
		preview := deref(it.LastMessagePreview)
		if it.UpdateKind != models.UpdateKindNone && it.UpdateKind != "" {
			preview = "[" + string(it.UpdateKind) + "] " + preview
		}
		return preview
	case *models.ChannelItem:
		return it.Name
	default:
		return ""
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatUnread(n int) string {
	switch {
	case n <= 0:
		return "-"
	case n > 99:
		return "99+"
	default:
		return strconv.Itoa(n)
	}
}

func formatActivity(ts, now time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	age := now.Sub(ts)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	case age < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	default:
		return ts.Local().Format("Jan 2")
	}
}
