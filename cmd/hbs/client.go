package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/chunkstore"
	"github.com/bobg/hbs/router"
	"github.com/bobg/hbs/rpc"
)

func (c maincmd) dial(ctx context.Context) (*router.Client, func(), error) {
	cc, err := grpc.DialContext(ctx, c.routerAddr, rpc.DialOptions(chunkstore.DefaultBlockSize)...)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "connecting to %s", c.routerAddr)
	}
	return router.NewClient(cc), func() { cc.Close() }, nil
}

func (c maincmd) put(ctx context.Context, args []string) error {

	var blobs [][]byte
	if len(args) == 0 {
		blob, err := ioutil.ReadAll(os.Stdin)
		if err != nil {
			return errors.Wrap(err, "reading stdin")
		}
		blobs = append(blobs, blob)
	}
	for _, name := range args {
		blob, err := ioutil.ReadFile(name)
		if err != nil {
			return errors.Wrapf(err, "reading %s", name)
		}
		blobs = append(blobs, blob)
	}

	rc, done, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer done()

	n, err := rc.Save(ctx, blobs)
	if err != nil {
		return errors.Wrap(err, "saving")
	}
	for _, blob := range blobs {
		fmt.Println(hbs.Hash(blob))
	}
	c.log.Info().Int("offered", len(blobs)).Int("stored", n).Msg("saved")
	return nil
}

func (c maincmd) upload(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: upload FILE")
	}
	name := args[0]

	f, err := os.Open(name)
	if err != nil {
		return errors.Wrapf(err, "opening %s", name)
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return errors.Wrapf(err, "hashing %s", name)
	}
	var id hbs.ContentID
	hasher.Sum(id[:0])

	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrapf(err, "rewinding %s", name)
	}

	rc, done, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer done()

	stored, err := rc.Upload(ctx, id, uint64(size), f)
	if err != nil {
		return errors.Wrapf(err, "uploading %s", name)
	}
	fmt.Println(id)
	c.log.Info().Int64("size", size).Bool("stored", stored).Msg("uploaded")
	return nil
}

func (c maincmd) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get ID")
	}
	id, err := hbs.IDFromHex(args[0])
	if err != nil {
		return errors.Wrapf(err, "decoding id %s", args[0])
	}

	rc, done, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer done()

	return errors.Wrapf(rc.Fetch(ctx, id, os.Stdout), "fetching %s", id)
}

func (c maincmd) wants(ctx context.Context, args []string) error {

	var ids []hbs.ContentID
	for _, arg := range args {
		id, err := hbs.IDFromHex(arg)
		if err != nil {
			return errors.Wrapf(err, "decoding id %s", arg)
		}
		ids = append(ids, id)
	}

	rc, done, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer done()

	missing, err := rc.Wants(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "querying router")
	}
	for _, id := range missing {
		fmt.Println(id)
	}
	return nil
}

func (c maincmd) stat(ctx context.Context, args []string) error {

	rc, done, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer done()

	istat, nodes, err := rc.Stat(ctx)
	if err != nil {
		return errors.Wrap(err, "getting stat")
	}
	fmt.Printf("objects %d, bytes %d, locations %d\n", istat.Objects, istat.Bytes, istat.Locations)
	for _, ns := range nodes {
		if !ns.Reachable {
			fmt.Printf("%s (%s): unreachable: %s\n", ns.Name, ns.Addr, ns.Err)
			continue
		}
		fmt.Printf("%s (%s): blocks %d, bytes %d\n", ns.Name, ns.Addr, ns.Stat.TotalBlocks, ns.Stat.TotalBytes)
	}
	return nil
}

func (c maincmd) metrics(ctx context.Context, from uint64, limit int, _ []string) error {
	rc, done, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer done()

	records, err := rc.Metrics(ctx, from, limit)
	if err != nil {
		return errors.Wrap(err, "getting save history")
	}
	for _, rec := range records {
		fmt.Printf("%d %s %s %d %s\n", rec.Offset, rec.At.Format("2006-01-02T15:04:05.000Z07:00"), rec.ID, rec.Size, rec.Node)
	}
	return nil
}
