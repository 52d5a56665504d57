// Package index defines the Router's index:
// which objects are known,
// how big each is,
// and which storage nodes hold it.
//
// An index never holds object bytes,
// and its records are never deleted.
// Implementations live in subpackages
// and make themselves available by name through Register.
package index

import (
	"context"
	"time"

	"github.com/bobg/hbs"
)

// Index is the interface of a Router index.
// Implementations must be safe for concurrent use.
type Index interface {
	// Has tells whether id has been recorded.
	Has(context.Context, hbs.ContentID) (bool, error)

	// Size returns the recorded size of id.
	// The boolean is false if id has not been recorded.
	Size(context.Context, hbs.ContentID) (uint64, bool, error)

	// RecordSaved records that node durably holds all size bytes of id as of at.
	// It creates or overwrites the size record of id
	// and adds a location record unless one exists for (id, node),
	// in which case the first-seen time is kept.
	// Every call appends one SaveRecord.
	RecordSaved(ctx context.Context, id hbs.ContentID, size uint64, node string, at time.Time) error

	// LocationsFor lists the nodes holding id,
	// ordered by first-seen time and then by node name.
	// The result is empty if id is unknown.
	LocationsFor(context.Context, hbs.ContentID) ([]Location, error)

	// Saves returns up to limit save records
	// starting at offset from, in offset order.
	// A non-positive limit produces nothing.
	Saves(ctx context.Context, from uint64, limit int) ([]SaveRecord, error)

	// Stat summarizes the index.
	Stat(context.Context) (Stat, error)

	// Close releases the index's resources.
	Close() error
}

// Location is one node holding an object.
type Location struct {
	Node      string
	FirstSeen time.Time
}

// SaveRecord is one entry in an index's save history.
// Offsets start at zero and increase by one per record.
type SaveRecord struct {
	Offset uint64
	ID     hbs.ContentID
	Size   uint64
	Node   string
	At     time.Time
}

// Stat summarizes an index.
type Stat struct {
	Objects   uint64
	Bytes     uint64
	Locations uint64
}
