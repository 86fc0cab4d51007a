package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
)

// Users holds login verification codes and followed shows.
type Users struct {
	*DB
}

type VerificationCode struct {
	bun.BaseModel `bun:"table:codes,alias:c"`

	Email string `bun:"email,pk"`
	Code  string `bun:"code"`
}

type Follow struct {
	bun.BaseModel `bun:"table:follows,alias:f"`

	Email  string `bun:"email,pk"`
	ShowID string `bun:"showId,pk"`
}

func NewUsers(path string) *Users {
	return &Users{DB: NewDB(path)}
}

func (u *Users) Connect(ctx context.Context) error {
	if err := u.DB.Connect(ctx); err != nil {
		return err
	}
	if err := u.createTables(ctx); err != nil {
		if cerr := u.DB.Disconnect(); cerr != nil {
			return fmt.Errorf("init tables: %w; close failed: %w", err, cerr)
		}
		return fmt.Errorf("init tables: %w", err)
	}
	return nil
}

func (u *Users) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS codes (email TEXT PRIMARY KEY, code TEXT)`,
		`CREATE TABLE IF NOT EXISTS follows (email TEXT, showId TEXT, PRIMARY KEY (email, showId))`,
	}
	for _, statement := range statements {
		if _, err := u.Exec(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

// AddVerificationCode stores the code for email, replacing any previous one.
func (u *Users) AddVerificationCode(ctx context.Context, email, code string) error {
	db, err := u.bunDB()
	if err != nil {
		return err
	}
	_, err = db.NewInsert().
		Model(&VerificationCode{Email: email, Code: code}).
		On("CONFLICT (email) DO UPDATE").
		Set("code = EXCLUDED.code").
		Exec(ctx)
	return err
}

func (u *Users) CheckVerificationCode(ctx context.Context, email, code string) (bool, error) {
	db, err := u.bunDB()
	if err != nil {
		return false, err
	}
	count, err := db.NewSelect().
		Model((*VerificationCode)(nil)).
		Where("email = ?", email).
		Where("code = ?", code).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FollowShow records the follow; following a show twice is a no-op.
func (u *Users) FollowShow(ctx context.Context, email, showID string) error {
	db, err := u.bunDB()
	if err != nil {
		return err
	}
	_, err = db.NewInsert().
		Model(&Follow{Email: email, ShowID: showID}).
		Ignore().
		Exec(ctx)
	return err
}

func (u *Users) UnfollowShow(ctx context.Context, email, showID string) error {
	db, err := u.bunDB()
	if err != nil {
		return err
	}
	_, err = db.NewDelete().
		Model((*Follow)(nil)).
		Where("email = ?", email).
		Where("showId = ?", showID).
		Exec(ctx)
	return err
}

// FollowedShows lists the shows email follows, resolving titles through the
// catalog snapshot at snapshotPath.
func (u *Users) FollowedShows(ctx context.Context, email, snapshotPath string) ([]Record, error) {
	const query = "SELECT f.showId, (SELECT s.title FROM imdb.shows s WHERE s.showId = f.showId) AS title " +
		"FROM follows f WHERE f.email = ?"

	var records []Record
	err := u.withAttached(ctx, []attachment{{name: "imdb", path: snapshotPath}}, func(conn *sql.Conn) error {
		var qerr error
		records, qerr = queryConn(ctx, conn, query, email)
		return qerr
	})
	return records, err
}
