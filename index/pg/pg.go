// Package pg implements a Postgresql-based Router index.
package pg

import (
	"context"
	"database/sql"
	stderrs "errors"
	"time"

	"github.com/bobg/sqlutil"
	_ "github.com/lib/pq" // register the postgres type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/index"
)

var _ index.Index = &Index{}

// Index is a Postgresql-based Router index.
type Index struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `hbs_dedup`, `hbs_locations`, and `hbs_saves` tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS hbs_dedup (
  id BYTEA PRIMARY KEY NOT NULL,
  size BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS hbs_locations (
  id BYTEA NOT NULL,
  node TEXT NOT NULL,
  first_seen TIMESTAMP WITH TIME ZONE NOT NULL,
  PRIMARY KEY (id, node)
);

CREATE TABLE IF NOT EXISTS hbs_saves (
  seq BIGSERIAL PRIMARY KEY,
  id BYTEA NOT NULL,
  size BIGINT NOT NULL,
  node TEXT NOT NULL,
  at TIMESTAMP WITH TIME ZONE NOT NULL
);
`

// New produces a new Index using `db` for storage.
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
	const q = `SELECT size FROM hbs_dedup WHERE id = $1`

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

	const q1 = `INSERT INTO hbs_dedup (id, size) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET size = excluded.size`
	if _, err = tx.ExecContext(ctx, q1, id[:], int64(size)); err != nil {
		return hbs.IOError(errors.Wrapf(err, "recording %s", id))
	}

	const q2 = `INSERT INTO hbs_locations (id, node, first_seen) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	if _, err = tx.ExecContext(ctx, q2, id[:], node, at.UTC()); err != nil {
		return hbs.IOError(errors.Wrapf(err, "recording location of %s", id))
	}

	// Writers take turns appending to hbs_saves,
	// so seq values commit in order and offsets never shift under a reader.
	// Readers are not blocked.
	const lock = `LOCK TABLE hbs_saves IN EXCLUSIVE MODE`
	if _, err = tx.ExecContext(ctx, lock); err != nil {
		return hbs.IOError(errors.Wrap(err, "locking save history"))
	}

	const q3 = `INSERT INTO hbs_saves (id, size, node, at) VALUES ($1, $2, $3, $4)`
	if _, err = tx.ExecContext(ctx, q3, id[:], int64(size), node, at.UTC()); err != nil {
		return hbs.IOError(errors.Wrapf(err, "appending save record for %s", id))
	}

	return hbs.IOError(errors.Wrap(tx.Commit(), "committing"))
}

// LocationsFor lists the nodes holding id.
func (x *Index) LocationsFor(ctx context.Context, id hbs.ContentID) ([]index.Location, error) {
	const q = `SELECT node, first_seen FROM hbs_locations WHERE id = $1 ORDER BY first_seen, node`

	var result []index.Location
	err := sqlutil.ForQueryRows(ctx, x.db, q, id[:], func(node string, seen time.Time) {
		result = append(result, index.Location{Node: node, FirstSeen: seen})
	})
	return result, hbs.IOError(errors.Wrapf(err, "querying locations of %s", id))
}

// Saves returns a page of the save history.
// Sequence numbers in Postgresql may skip values after a failed transaction,
// so offsets are assigned by position.
func (x *Index) Saves(ctx context.Context, from uint64, limit int) ([]index.SaveRecord, error) {
	const q = `SELECT n, id, size, node, at FROM (
		SELECT ROW_NUMBER() OVER (ORDER BY seq) AS n, id, size, node, at FROM hbs_saves
	) AS numbered WHERE n > $1 ORDER BY n LIMIT $2`

	if limit <= 0 {
		return nil, nil
	}

	var result []index.SaveRecord
	err := sqlutil.ForQueryRows(ctx, x.db, q, int64(from), limit, func(n int64, idbytes []byte, size int64, node string, at time.Time) error {
		id, err := hbs.IDFromBytes(idbytes)
		if err != nil {
			return err
		}
		result = append(result, index.SaveRecord{
			Offset: uint64(n - 1),
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
		(SELECT COUNT(*) FROM hbs_dedup),
		(SELECT COALESCE(SUM(size), 0) FROM hbs_dedup),
		(SELECT COUNT(*) FROM hbs_locations)`

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
	index.Register("pg", func(ctx context.Context, conf map[string]interface{}) (index.Index, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("postgres", conn)
		if err != nil {
			return nil, errors.Wrap(hbs.IOError(err), "opening db")
		}
		x, err := New(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return x, nil
	})
}
