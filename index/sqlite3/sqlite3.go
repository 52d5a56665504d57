// Package sqlite3 implements a Sqlite-based Router index.
package sqlite3

import (
	"context"
	"database/sql"
	stderrs "errors"
	"time"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/index"
)

var _ index.Index = &Index{}

// Index is a Sqlite-based Router index.
type Index struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `dedup`, `locations`, and `saves` tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS dedup (
  id BLOB PRIMARY KEY NOT NULL,
  size INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
  id BLOB NOT NULL,
  node TEXT NOT NULL,
  first_seen TEXT NOT NULL,
  PRIMARY KEY (id, node)
);

CREATE TABLE IF NOT EXISTS saves (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id BLOB NOT NULL,
  size INTEGER NOT NULL,
  node TEXT NOT NULL,
  at TEXT NOT NULL
);
`

// Times are stored as fixed-width UTC text so that they sort correctly.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Open opens (creating if necessary) the Sqlite database at conn
// and produces an Index on it.
func Open(ctx context.Context, conn string) (*Index, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, errors.Wrap(hbs.IOError(err), "opening db")
	}
	// One connection serializes writers and makes ":memory:" usable.
	db.SetMaxOpenConns(1)
	x, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return x, nil
}

// New produces a new Index using `db` for storage.
// It expects to create tables `dedup`, `locations`, and `saves`,
// or for those tables already to exist with the correct schema.
// (See variable Schema.)
func New(ctx context.Context, db *sql.DB) (*Index, error) {
	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		return nil, hbs.IOError(errors.Wrap(err, "creating schema"))
	}
	return &Index{db: db}, nil
}

// Has tells whether id has been recorded.
func (x *Index) Has(ctx context.Context, id hbs.ContentID) (bool, error) {
	_, ok, err := x.Size(ctx, id)
	return ok, err
}

// Size returns the recorded size of id.
func (x *Index) Size(ctx context.Context, id hbs.ContentID) (uint64, bool, error) {
	const q = `SELECT size FROM dedup WHERE id = $1`

	var size int64
	err := x.db.QueryRowContext(ctx, q, id[:]).Scan(&size)
	if stderrs.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, hbs.IOError(errors.Wrapf(err, "querying size of %s", id))
	}
	return uint64(size), true, nil
}

// RecordSaved records that node holds all size bytes of id.
func (x *Index) RecordSaved(ctx context.Context, id hbs.ContentID, size uint64, node string, at time.Time) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return hbs.IOError(errors.Wrap(err, "beginning transaction"))
	}
	defer tx.Rollback()

	atstr := at.UTC().Format(timeFormat)

	const q1 = `INSERT INTO dedup (id, size) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET size = excluded.size`
	if _, err = tx.ExecContext(ctx, q1, id[:], int64(size)); err != nil {
		return hbs.IOError(errors.Wrapf(err, "recording %s", id))
	}

	const q2 = `INSERT INTO locations (id, node, first_seen) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	if _, err = tx.ExecContext(ctx, q2, id[:], node, atstr); err != nil {
		return hbs.IOError(errors.Wrapf(err, "recording location of %s", id))
	}

	const q3 = `INSERT INTO saves (id, size, node, at) VALUES ($1, $2, $3, $4)`
	if _, err = tx.ExecContext(ctx, q3, id[:], int64(size), node, atstr); err != nil {
		return hbs.IOError(errors.Wrapf(err, "appending save record for %s", id))
	}

	return hbs.IOError(errors.Wrap(tx.Commit(), "committing"))
}

// LocationsFor lists the nodes holding id.
func (x *Index) LocationsFor(ctx context.Context, id hbs.ContentID) ([]index.Location, error) {
	const q = `SELECT node, first_seen FROM locations WHERE id = $1 ORDER BY first_seen, node`

	var result []index.Location
	err := sqlutil.ForQueryRows(ctx, x.db, q, id[:], func(node, seenstr string) error {
		seen, err := time.Parse(timeFormat, seenstr)
		if err != nil {
			return errors.Wrapf(err, "parsing time %s", seenstr)
		}
		result = append(result, index.Location{Node: node, FirstSeen: seen})
		return nil
	})
	return result, hbs.IOError(errors.Wrapf(err, "querying locations of %s", id))
}

// Saves returns a page of the save history.
func (x *Index) Saves(ctx context.Context, from uint64, limit int) ([]index.SaveRecord, error) {
	const q = `SELECT seq, id, size, node, at FROM saves WHERE seq > $1 ORDER BY seq LIMIT $2`

	if limit <= 0 {
		return nil, nil
	}

	var result []index.SaveRecord
	err := sqlutil.ForQueryRows(ctx, x.db, q, int64(from), limit, func(seq int64, idbytes []byte, size int64, node, atstr string) error {
		id, err := hbs.IDFromBytes(idbytes)
		if err != nil {
			return err
		}
		at, err := time.Parse(timeFormat, atstr)
		if err != nil {
			return errors.Wrapf(err, "parsing time %s", atstr)
		}
		result = append(result, index.SaveRecord{
			Offset: uint64(seq - 1),
			ID:     id,
			Size:   uint64(size),
			Node:   node,
			At:     at,
		})
		return nil
	})
	return result, hbs.IOError(errors.Wrap(err, "querying saves"))
}

// Stat summarizes the index.
func (x *Index) Stat(ctx context.Context) (index.Stat, error) {
	const q = `SELECT
		(SELECT COUNT(*) FROM dedup),
		(SELECT COALESCE(SUM(size), 0) FROM dedup),
		(SELECT COUNT(*) FROM locations)`

	var objects, size, locations int64
	if err := x.db.QueryRowContext(ctx, q).Scan(&objects, &size, &locations); err != nil {
		return index.Stat{}, hbs.IOError(errors.Wrap(err, "querying stat"))
	}
	return index.Stat{Objects: uint64(objects), Bytes: uint64(size), Locations: uint64(locations)}, nil
}

// Close closes the database.
func (x *Index) Close() error {
	return hbs.IOError(x.db.Close())
}

func init() {
	index.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (index.Index, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		return Open(ctx, conn)
	})
}
