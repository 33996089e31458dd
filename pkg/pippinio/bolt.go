package pippinio

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/pippin/pkg/element"
)

// BoltIO is a PartIO implementation backed by a single embedded bbolt
// database file, so a partition can live as one file instead of a
// directory of loose ones. Snapshot generation ssNum is stored in bucket
// "ss-<ssNum>", under key "snapshot" for the snapshot blob and key
// "cl-<clNum>" for each log blob.
type BoltIO struct {
	db      *bolt.DB
	partID  element.PartId
	hasPart bool
}

var metaBucket = []byte("meta")

// OpenBoltIO opens (creating if necessary) a bbolt-backed provider at
// path.
func OpenBoltIO(path string) (*BoltIO, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("pippinio: failed to open bolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("pippinio: failed to init bolt db: %w", err)
	}
	return &BoltIO{db: db}, nil
}

// Close releases the underlying database file.
func (b *BoltIO) Close() error {
	return b.db.Close()
}

func bucketName(ssNum int) []byte {
	return []byte("ss-" + strconv.Itoa(ssNum))
}

// SetPartId fixes the partition identity reported by PartId.
func (b *BoltIO) SetPartId(p element.PartId) {
	b.partID = p
	b.hasPart = true
}

// PartId implements PartIO.
func (b *BoltIO) PartId() (element.PartId, bool) {
	return b.partID, b.hasPart
}

// SsLen implements PartIO.
func (b *BoltIO) SsLen() int {
	max := -1
	_ = b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			n, ok := parseSsBucket(name)
			if ok && n > max {
				max = n
			}
			return nil
		})
	})
	return max + 1
}

func parseSsBucket(name []byte) (int, bool) {
	s := string(name)
	if len(s) < 4 || s[:3] != "ss-" {
		return 0, false
	}
	n, err := strconv.Atoi(s[3:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// SsExists implements PartIO.
func (b *BoltIO) SsExists(ssNum int) bool {
	exists := false
	_ = b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketName(ssNum))
		if bk == nil {
			return nil
		}
		exists = bk.Get([]byte("snapshot")) != nil
		return nil
	})
	return exists
}

// ReadSs implements PartIO.
func (b *BoltIO) ReadSs(ssNum int) (io.ReadCloser, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketName(ssNum))
		if bk == nil {
			return fmt.Errorf("snapshot %d does not exist", ssNum)
		}
		v := bk.Get([]byte("snapshot"))
		if v == nil {
			return fmt.Errorf("snapshot %d does not exist", ssNum)
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// NewSs implements PartIO.
func (b *BoltIO) NewSs(ssNum int) (io.WriteCloser, error) {
	if b.SsExists(ssNum) {
		return nil, fmt.Errorf("snapshot %d already exists", ssNum)
	}
	return &boltWriter{finish: func(data []byte) error {
		return b.db.Update(func(tx *bolt.Tx) error {
			bk, err := tx.CreateBucketIfNotExists(bucketName(ssNum))
			if err != nil {
				return err
			}
			return bk.Put([]byte("snapshot"), data)
		})
	}}, nil
}

// SsClLen implements PartIO.
func (b *BoltIO) SsClLen(ssNum int) int {
	max := -1
	_ = b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketName(ssNum))
		if bk == nil {
			return nil
		}
		return bk.ForEach(func(k, _ []byte) error {
			s := string(k)
			if len(s) < 4 || s[:3] != "cl-" {
				return nil
			}
			n, err := strconv.Atoi(s[3:])
			if err == nil && n > max {
				max = n
			}
			return nil
		})
	})
	return max + 1
}

// ReadCl implements PartIO.
func (b *BoltIO) ReadCl(ssNum, clNum int) (io.ReadCloser, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketName(ssNum))
		if bk == nil {
			return fmt.Errorf("log (%d,%d) does not exist", ssNum, clNum)
		}
		v := bk.Get(clKey(clNum))
		if v == nil {
			return fmt.Errorf("log (%d,%d) does not exist", ssNum, clNum)
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func clKey(clNum int) []byte {
	return []byte("cl-" + strconv.Itoa(clNum))
}

// NewSsCl implements PartIO.
func (b *BoltIO) NewSsCl(ssNum, clNum int) (io.WriteCloser, error) {
	exists := false
	_ = b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketName(ssNum))
		if bk != nil {
			exists = bk.Get(clKey(clNum)) != nil
		}
		return nil
	})
	if exists {
		return nil, fmt.Errorf("log (%d,%d) already exists", ssNum, clNum)
	}
	return &boltWriter{finish: func(data []byte) error {
		return b.db.Update(func(tx *bolt.Tx) error {
			bk, err := tx.CreateBucketIfNotExists(bucketName(ssNum))
			if err != nil {
				return err
			}
			return bk.Put(clKey(clNum), data)
		})
	}}, nil
}

type boltWriter struct {
	buf    bytes.Buffer
	finish func([]byte) error
}

func (w *boltWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *boltWriter) Close() error {
	return w.finish(w.buf.Bytes())
}
