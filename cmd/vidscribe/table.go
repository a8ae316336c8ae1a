package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/vrsandeep/vidscribe/internal/models"
)

const shortIDLen = 8

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func renderQueue(items []models.QueueItem) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Status", "Progress", "File", "Detail"})
	for _, it := range items {
		tw.AppendRow(table.Row{shortID(it.ID), string(it.Status), fmt.Sprintf("%d%%", it.Progress),
			filepath.Base(it.SourcePath), itemDetail(it)})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render() + "\n"
}

func itemDetail(it models.QueueItem) string {
	switch it.Status {
	case models.StatusCompleted:
		return it.OutputPath
	case models.StatusFailed:
		if it.Error != nil {
			return it.Error.Kind + ": " + it.Error.Message
		}
	case models.StatusProcessing:
		return it.CurrentStep
	}
	return ""
}

func renderStats(st models.QueueStats) string {
	return fmt.Sprintf("%d items: %d queued, %d processing, %d completed, %d failed\n",
		st.Total, st.Queued, st.Processing, st.Completed, st.Failed)
}

func renderStatus(st models.ProcessingStatus) string {
	var b strings.Builder
	tw := table.NewWriter()
	tw.SetOutputMirror(&b)
	tw.SetStyle(table.StyleRounded)
	tw.AppendRow(table.Row{"State", string(st.State)})
	tw.AppendRow(table.Row{"Output", st.OutputDir})
	tw.AppendRow(table.Row{"Current", shortID(st.CurrentItemID)})
	tw.AppendRow(table.Row{"Queue", strings.TrimSpace(renderStats(st.Stats))})
	tw.Render()
	return b.String()
}
