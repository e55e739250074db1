package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
)

// timecode renders a frame count as HH:MM:SS:FF.
func timecode(frames, fps int) string {
	if fps <= 0 {
		return fmt.Sprintf("%df", frames)
	}
	sign := ""
	if frames < 0 {
		sign = "-"
		frames = -frames
	}
	ff := frames % fps
	secs := frames / fps
	return fmt.Sprintf("%s%02d:%02d:%02d:%02d", sign, secs/3600, (secs/60)%60, secs%60, ff)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// tableStyle uses box drawing on a terminal and plain ASCII when piped.
func tableStyle() table.Style {
	if isTerminal() {
		return table.StyleRounded
	}
	return table.StyleDefault
}
