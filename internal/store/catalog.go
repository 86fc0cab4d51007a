package store

import (
	"context"
	"database/sql"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Catalog is a read-only IMDb snapshot: shows, episodes and genre links built
// by the dataset importer.
type Catalog struct {
	*DB
}

func NewCatalog(path string) *Catalog {
	return &Catalog{DB: NewDB(path)}
}

// Genres are aggregated per row as a sorted, comma-joined string. The inner
// ORDER BY keeps the string sorted regardless of insertion order, which the
// genre filter in Search depends on.
const genresColumn = "(SELECT GROUP_CONCAT(genre) FROM (SELECT g.genre FROM genres g WHERE t.showId = g.showId ORDER BY g.genre)) AS genres"

// SearchParams carries the raw query-string inputs. Empty means absent.
type SearchParams struct {
	Type        string
	TitleSearch string
	MinVotes    string
	MaxVotes    string
	MinRating   string
	MaxRating   string
	MinYear     string
	MaxYear     string
	MinDuration string
	MaxDuration string
	Genres      string
	SortColumn  string
	SortOrder   string
	PageNumber  string
	PageLimit   string
}

var (
	searchTables = []string{"shows", "episodes"}
	sortColumns  = []string{"votes", "rating", "startYear", "title"}
	sortOrders   = []string{"DESC", "ASC"}

	nonWord = regexp.MustCompile(`\W`)
)

const maxPageLimit = 100

func (c *Catalog) Search(ctx context.Context, params SearchParams) ([]Record, error) {
	query, args := buildSearchQuery(params)
	return c.Query(ctx, query, args...)
}

// buildSearchQuery assembles the search SQL. Identifiers (table, sort column,
// sort order) come only from allowlists, falling back to the first element;
// every user-controlled value is bound as a positional parameter.
func buildSearchQuery(params SearchParams) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT *, ")
	sb.WriteString(genresColumn)
	sb.WriteString(" FROM ")
	sb.WriteString(pickAllowed(searchTables, params.Type))
	sb.WriteString(" t")

	conditions := []string{}
	args := []any{}

	if params.TitleSearch != "" {
		conditions = append(conditions, "title LIKE ?")
		args = append(args, titleLikePattern(params.TitleSearch))
	}

	// Rows without votes are unaired or too obscure to rank.
	conditions = append(conditions, "votes IS NOT NULL")

	ranges := []struct {
		condition string
		value     string
	}{
		{"votes >= ?", params.MinVotes},
		{"votes <= ?", params.MaxVotes},
		{"rating >= ?", params.MinRating},
		{"rating <= ?", params.MaxRating},
		{"startYear >= ?", params.MinYear},
		{"startYear <= ?", params.MaxYear},
		{"duration >= ?", params.MinDuration},
		{"duration <= ?", params.MaxDuration},
	}
	for _, r := range ranges {
		if r.value != "" {
			conditions = append(conditions, r.condition)
			args = append(args, r.value)
		}
	}

	if params.Genres != "" {
		conditions = append(conditions, "genres LIKE ?")
		args = append(args, genresLikePattern(params.Genres))
	}

	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(conditions, " AND "))

	column := pickAllowed(sortColumns, params.SortColumn)
	order := pickAllowed(sortOrders, params.SortOrder)
	sb.WriteString(" ORDER BY ")
	sb.WriteString(column)
	sb.WriteString(" ")
	sb.WriteString(order)
	if column != "votes" {
		sb.WriteString(", votes DESC")
	}

	limit := parsePageLimit(params.PageLimit)
	page := parsePageNumber(params.PageNumber)
	sb.WriteString(" LIMIT ")
	sb.WriteString(strconv.Itoa(limit))
	sb.WriteString(" OFFSET ")
	sb.WriteString(strconv.Itoa(page * limit))

	return sb.String(), args
}

// titleLikePattern treats every non-alphanumeric character as a wildcard so a
// search matches regardless of spacing and punctuation.
func titleLikePattern(search string) string {
	return "%" + nonWord.ReplaceAllString(search, "%") + "%"
}

// genresLikePattern sorts the requested genres so they line up with the sorted
// aggregated genre string.
func genresLikePattern(genres string) string {
	tokens := strings.Split(genres, ",")
	sort.Strings(tokens)
	return "%" + strings.Join(tokens, "%") + "%"
}

func pickAllowed(allowed []string, value string) string {
	for _, candidate := range allowed {
		if strings.EqualFold(candidate, value) {
			return candidate
		}
	}
	return allowed[0]
}

func parsePageNumber(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parsePageLimit(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 || n > maxPageLimit {
		return maxPageLimit
	}
	return n
}

// Show returns the show record for showId with its aggregated genres, or nil
// when unknown. Ties resolve to the highest vote count.
func (c *Catalog) Show(ctx context.Context, showID string) (Record, error) {
	query := "SELECT *, " + genresColumn + " FROM shows t WHERE showId = ? ORDER BY votes DESC LIMIT 1"
	records, err := c.Query(ctx, query, showID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (c *Catalog) ShowEpisodes(ctx context.Context, showID string) ([]Record, error) {
	return c.Query(ctx, "SELECT * FROM episodes WHERE showId = ? ORDER BY season, episode", showID)
}

func (c *Catalog) Genres(ctx context.Context) ([]Record, error) {
	return c.Query(ctx, "SELECT DISTINCT genre FROM genres ORDER BY genre")
}

// NewShows lists shows present in this snapshot but absent from the snapshot
// at oldPath, best-voted first.
func (c *Catalog) NewShows(ctx context.Context, oldPath string) ([]Record, error) {
	var records []Record
	err := c.withAttached(ctx, []attachment{{name: "old", path: oldPath}}, func(conn *sql.Conn) error {
		var qerr error
		records, qerr = queryConn(ctx, conn,
			"SELECT n.* FROM shows n WHERE n.showId NOT IN (SELECT o.showId FROM old.shows o) ORDER BY n.votes DESC")
		return qerr
	})
	return records, err
}

// FollowerShow is one follower×show pair from the new-episode diff.
type FollowerShow struct {
	Email  string
	ShowID string
	Title  string
}

// UsersFollowingNewEpisodes diffs this snapshot against the one at oldPath and
// joins in the follow list at usersPath. An episode counts as newly aired when
// its votes went from null to non-null: upstream lists unaired episodes early,
// so bare existence is not an airing signal.
func (c *Catalog) UsersFollowingNewEpisodes(ctx context.Context, oldPath, usersPath string) ([]FollowerShow, error) {
	const query = "SELECT DISTINCT f.email, f.showId, s.title FROM user.follows f " +
		"LEFT JOIN shows s ON s.showId = f.showId " +
		"LEFT JOIN episodes n ON f.showId = n.showId " +
		"LEFT JOIN old.episodes o ON n.episodeId = o.episodeId " +
		"WHERE n.votes IS NOT NULL AND o.votes IS NULL"

	atts := []attachment{
		{name: "old", path: oldPath},
		{name: "user", path: usersPath},
	}

	var out []FollowerShow
	err := c.withAttached(ctx, atts, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var fs FollowerShow
			var title *string
			if err := rows.Scan(&fs.Email, &fs.ShowID, &title); err != nil {
				return err
			}
			if title != nil {
				fs.Title = *title
			}
			out = append(out, fs)
		}
		return rows.Err()
	})
	return out, err
}
