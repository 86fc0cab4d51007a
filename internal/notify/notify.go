// Package notify emails followers when shows they follow get new episodes.
package notify

import (
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"

	"github.com/handsomefox/tvratings/internal/logger"
	"github.com/handsomefox/tvratings/internal/store"
)

const newEpisodesSubject = "new episodes available"

// Sender delivers one HTML email.
type Sender interface {
	Send(to, subject, html string) error
}

type Dispatcher struct {
	mailer Sender
}

func New(mailer Sender) *Dispatcher {
	return &Dispatcher{mailer: mailer}
}

// NotifyNewEpisodes sends each affected user a single email listing the shows
// they follow that got new episodes. A delivery failure for one user is
// logged and does not block the rest.
func (d *Dispatcher) NotifyNewEpisodes(rows []store.FollowerShow) {
	grouped := groupByEmail(rows)

	emails := make([]string, 0, len(grouped))
	for email := range grouped {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	for _, email := range emails {
		if err := d.mailer.Send(email, newEpisodesSubject, newEpisodesBody(grouped[email])); err != nil {
			slog.Warn("sending new-episode notification failed",
				slog.String("email", email), logger.Error(err))
			continue
		}
		slog.Info("sent new-episode notification",
			slog.String("email", email), slog.Int("shows", len(grouped[email])))
	}
}

// groupByEmail collapses the diff rows to one deduplicated show list per user.
func groupByEmail(rows []store.FollowerShow) map[string][]store.FollowerShow {
	grouped := make(map[string][]store.FollowerShow)
	seen := make(map[string]map[string]bool)
	for _, row := range rows {
		if seen[row.Email] == nil {
			seen[row.Email] = make(map[string]bool)
		}
		if seen[row.Email][row.ShowID] {
			continue
		}
		seen[row.Email][row.ShowID] = true
		grouped[row.Email] = append(grouped[row.Email], row)
	}
	return grouped
}

func newEpisodesBody(shows []store.FollowerShow) string {
	var b strings.Builder
	b.WriteString("<html><h3>shows you follow have new episodes: </h3><ul>")
	for _, show := range shows {
		fmt.Fprintf(&b, "<li><a href='https://tvratin.gs?showId=%s'><h4>%s</h4></a></li>",
			show.ShowID, html.EscapeString(show.Title))
	}
	b.WriteString("</ul></html>")
	return b.String()
}
