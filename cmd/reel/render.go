package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"reel/internal/reconcile"
	"reel/internal/scene"
	"reel/internal/textutil"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiClear  = "\x1b[H\x1b[2J"

	descriptionWidth = 48
)

var titleCaser = cases.Title(language.Und)

func label(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return titleCaser.String(value)
}

func statusLabel(status scene.Status, colorize bool) string {
	if status == "" {
		status = scene.StatusNone
	}
	text := label(string(status))
	if !colorize {
		return text
	}
	switch status {
	case scene.StatusComplete:
		return ansiGreen + text + ansiReset
	case scene.StatusGenerating:
		return ansiYellow + text + ansiReset
	case scene.StatusError:
		return ansiRed + text + ansiReset
	default:
		return text
	}
}

func formatSeconds(value float64) string {
	if value <= 0 {
		return "-"
	}
	return strconv.FormatFloat(value, 'f', -1, 64) + "s"
}

// renderScenes draws the scene table; the active scene is marked with '*'.
func renderScenes(scenes []scene.Scene, active int, colorize bool) string {
	if len(scenes) == 0 {
		return "No scenes"
	}
	headers := []string{"#", "Scene", "Phase", "Text", "Image", "Video", "Duration", "Description"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}
	rows := make([][]string, 0, len(scenes))
	for i, sc := range scenes {
		marker := strconv.Itoa(i + 1)
		if i == active {
			marker = "*" + marker
		}
		description := textutil.Truncate(sc.Text, descriptionWidth)
		if scene.HasError(sc.Generation) {
			if msg := strings.TrimSpace(sc.ErrorMessage); msg != "" {
				description = textutil.Truncate(msg, descriptionWidth)
			}
		}
		rows = append(rows, []string{
			marker,
			sc.ID,
			label(string(sc.Phase)),
			statusLabel(sc.Generation.Get(scene.PhaseText), colorize),
			statusLabel(sc.Generation.Get(scene.PhaseImage), colorize),
			statusLabel(sc.Generation.Get(scene.PhaseVideo), colorize),
			formatSeconds(sc.DurationSeconds),
			description,
		})
	}
	return renderTable(headers, rows, aligns)
}

func renderSnapshot(out io.Writer, snap reconcile.Snapshot, colorize bool) {
	board := snap.Storyboard
	fmt.Fprintf(out, "Storyboard %s", board.ID)
	if mood := strings.TrimSpace(board.Mood); mood != "" {
		fmt.Fprintf(out, " (%s)", mood)
	}
	fmt.Fprintf(out, "  push: %s  version: %d\n", label(string(snap.Channel)), snap.Version)
	fmt.Fprintln(out, renderScenes(snap.Scenes, snap.ActiveIndex, colorize))
}

func renderSceneLine(sc scene.Scene) string {
	line := fmt.Sprintf("%s  phase=%s text=%s image=%s video=%s",
		sc.ID,
		label(string(sc.Phase)),
		statusLabel(sc.Generation.Get(scene.PhaseText), false),
		statusLabel(sc.Generation.Get(scene.PhaseImage), false),
		statusLabel(sc.Generation.Get(scene.PhaseVideo), false),
	)
	if msg := strings.TrimSpace(sc.ErrorMessage); msg != "" && scene.HasError(sc.Generation) {
		line += "  error=" + strconv.Quote(msg)
	}
	return line
}

func formatAge(savedAt, now time.Time) string {
	if savedAt.IsZero() {
		return "-"
	}
	age := now.Sub(savedAt)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return savedAt.Local().Format("2006-01-02")
	}
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
