// Package plot turns `borg list` output into a terminal timeline: one
// vertical axis spanning the repository's history, a tick per archive,
// and date labels thinned out where archives cluster.
package plot

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Archive is one listed archive.
type Archive struct {
	Name string
	Time time.Time
}

// timestampRe matches borg's default listing time column, e.g.
// "Mon, 2023-01-02 03:04:05".
var timestampRe = regexp.MustCompile(`[A-Z][a-z]{2}, (\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)

// Parse extracts archive names and timestamps from borg list output.
// Lines without a recognizable timestamp are skipped.
func Parse(r io.Reader) ([]Archive, error) {
	var archives []Archive
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		loc := timestampRe.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		ts, err := time.Parse("2006-01-02 15:04:05", line[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		archives = append(archives, Archive{
			Name: strings.TrimSpace(line[:loc[0]]),
			Time: ts,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading listing: %w", err)
	}
	if len(archives) == 0 {
		return nil, fmt.Errorf("no archives found in listing")
	}
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Time.Before(archives[j].Time)
	})
	return archives, nil
}

// labelGap is the spacing under which a label is dropped: an archive
// whose neighbours on both sides are this close carries no label.
const labelGap = 36 * time.Hour

// Labels returns one date label per archive, thinned for dense runs.
// The first two and the last archive always keep their labels.
func Labels(archives []Archive) []string {
	labels := make([]string, len(archives))
	for i, a := range archives {
		labels[i] = a.Time.Format("2006-01-02")
	}
	for i := 2; i < len(archives)-1; i++ {
		if archives[i].Time.Sub(archives[i-1].Time) < labelGap &&
			archives[i+1].Time.Sub(archives[i].Time) < labelGap {
			labels[i] = ""
		}
	}
	return labels
}

// Render writes the timeline, oldest archive first, scaled onto height
// rows. Rows where several archives coincide show a count.
func Render(w io.Writer, archives []Archive, height int) error {
	if len(archives) == 0 {
		return fmt.Errorf("nothing to plot")
	}
	if height < 2 {
		height = 2
	}

	labels := Labels(archives)
	first := archives[0].Time
	span := archives[len(archives)-1].Time.Sub(first)

	type rowInfo struct {
		count int
		label string
	}
	rows := make([]rowInfo, height)
	for i, a := range archives {
		row := 0
		if span > 0 {
			row = int(float64(a.Time.Sub(first)) / float64(span) * float64(height-1))
		}
		rows[row].count++
		if rows[row].label == "" {
			rows[row].label = labels[i]
		}
	}

	tick := color.New(color.FgCyan)
	axis := color.New(color.Faint)
	for _, r := range rows {
		var line string
		if r.count == 0 {
			line = fmt.Sprintf("%10s  %s", "", axis.Sprint("│"))
		} else {
			line = fmt.Sprintf("%10s  %s", r.label, tick.Sprint("┼──"))
			if r.count > 1 {
				line += fmt.Sprintf(" (%d)", r.count)
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("writing plot: %w", err)
		}
	}
	return nil
}
