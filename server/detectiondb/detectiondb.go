// Package detectiondb records the history of detections in an SQLite database, and
// optionally archives annotated frames into a blob store.
package detectiondb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/syncdetect/pkg/blobstore"
	"github.com/cyclopcam/syncdetect/server/dispatch"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Options struct {
	QueueSize     int           // Records waiting to be written. Further records are dropped.
	ArchiveEveryN int           // Archive every Nth frame that contains at least one object
	JPEGQuality   int           // Quality of archived frames
	MaxAge        time.Duration // Records older than this are deleted. Zero keeps records forever.
}

func DefaultOptions() Options {
	return Options{
		QueueSize:     100,
		ArchiveEveryN: 1,
		JPEGQuality:   85,
		MaxAge:        7 * 24 * time.Hour,
	}
}

type Stats struct {
	Written  int64 `json:"written"`
	Dropped  int64 `json:"dropped"`
	Archived int64 `json:"archived"`
	Errors   int64 `json:"errors"`
}

// DetectionDB is a dispatch.Observer that writes every bundle to the database.
// OnBundle never blocks. All database and archive IO happens on the write thread.
type DetectionDB struct {
	log     logs.Log
	db      *gorm.DB
	archive blobstore.Store // nil if archiving is disabled
	opt     Options

	queue             chan *dispatch.Bundle
	shutdown          chan bool // This channel is closed when its time to shutdown
	writeThreadClosed chan bool // The write thread closes this channel when it exits

	nWritten   atomic.Int64
	nDropped   atomic.Int64
	nArchived  atomic.Int64
	nErrors    atomic.Int64
	lastWarnAt atomic.Int64 // Unix nanoseconds

	// Owned by the write thread
	nCandidates int
	lastErrAt   time.Time
}

var _ dispatch.Observer = (*DetectionDB)(nil)

// Open or create a detection DB. 'archive' may be nil.
func Open(logger logs.Log, dbFilename string, archive blobstore.Store, opt Options) (*DetectionDB, error) {
	logger = logs.NewPrefixLogger(logger, "DetectionDB")
	if opt.QueueSize < 1 {
		opt.QueueSize = 1
	}
	if opt.ArchiveEveryN < 1 {
		opt.ArchiveEveryN = 1
	}
	if opt.JPEGQuality < 1 {
		opt.JPEGQuality = 85
	}

	os.MkdirAll(filepath.Dir(dbFilename), 0770)
	logger.Infof("Opening detection DB at '%v'", dbFilename)
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open detection database %v: %w", dbFilename, err)
	}

	self := &DetectionDB{
		log:               logger,
		db:                db,
		archive:           archive,
		opt:               opt,
		queue:             make(chan *dispatch.Bundle, opt.QueueSize),
		shutdown:          make(chan bool),
		writeThreadClosed: make(chan bool),
	}
	go self.writeThread()
	return self, nil
}

// Close flushes queued records and stops the write thread
func (d *DetectionDB) Close() {
	close(d.shutdown)
	d.log.Infof("Waiting for write thread to exit")
	<-d.writeThreadClosed
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (d *DetectionDB) OnBundle(b *dispatch.Bundle) {
	select {
	case d.queue <- b:
	default:
		d.nDropped.Add(1)
		now := time.Now().UnixNano()
		last := d.lastWarnAt.Load()
		if time.Duration(now-last) > 15*time.Second && d.lastWarnAt.CompareAndSwap(last, now) {
			d.log.Warnf("Write queue is full - dropping detections")
		}
	}
}

func (d *DetectionDB) Stats() Stats {
	return Stats{
		Written:  d.nWritten.Load(),
		Dropped:  d.nDropped.Load(),
		Archived: d.nArchived.Load(),
		Errors:   d.nErrors.Load(),
	}
}

// Recent returns up to 'limit' of the most recent detections, newest first
func (d *DetectionDB) Recent(limit int) ([]*Detection, error) {
	if limit <= 0 {
		limit = 100
	}
	records := []*Detection{}
	if err := d.db.Order("time DESC, id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// ArchiveKey returns the blob name of an archived frame
func ArchiveKey(t time.Time, id uuid.UUID) string {
	return t.UTC().Format("2006-01/02/15-04-05") + "-" + id.String() + ".jpg"
}

func (d *DetectionDB) writeThread() {
	d.log.Infof("Write thread starting")
	keepRunning := true
	purgeInterval := 10 * time.Minute
	d.purgeOldRecords()
	for keepRunning {
		select {
		case <-d.shutdown:
			keepRunning = false
		case b := <-d.queue:
			d.write(b)
		case <-time.After(purgeInterval):
			d.purgeOldRecords()
		}
	}
	d.log.Infof("Flushing detections")
	for {
		select {
		case b := <-d.queue:
			d.write(b)
			continue
		default:
		}
		break
	}
	d.log.Infof("Write thread exiting")
	close(d.writeThreadClosed)
}

func (d *DetectionDB) write(b *dispatch.Bundle) {
	t := b.Header.Time()
	if t.IsZero() {
		t = time.Now()
	}
	rec := &Detection{
		Time:       dbh.MakeIntTime(t),
		Seq:        int64(b.Header.Seq),
		FrameID:    b.Header.FrameID,
		NumObjects: len(b.Detections.Detections),
		Objects: dbh.MakeJSONField(ObjectsJSON{
			Resolution: [2]int{b.Detections.ImageWidth, b.Detections.ImageHeight},
			Objects:    b.Detections.Detections,
		}),
	}

	if d.archive != nil && rec.NumObjects != 0 && b.Annotated != nil {
		d.nCandidates++
		if d.nCandidates%d.opt.ArchiveEveryN == 0 {
			key, err := d.archiveFrame(t, b.Annotated)
			if err != nil {
				d.error("Failed to archive frame %v: %v", b.Header.Seq, err)
			} else {
				rec.ImageKey = key
				d.nArchived.Add(1)
			}
		}
	}

	if err := d.db.Create(rec).Error; err != nil {
		d.error("Failed to write detection %v: %v", b.Header.Seq, err)
		return
	}
	d.nWritten.Add(1)
}

func (d *DetectionDB) archiveFrame(t time.Time, img *cimg.Image) (string, error) {
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, d.opt.JPEGQuality, 0))
	if err != nil {
		return "", err
	}
	key := ArchiveKey(t, uuid.New())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := blobstore.Put(ctx, d.archive, key, jpg); err != nil {
		return "", err
	}
	return key, nil
}

func (d *DetectionDB) purgeOldRecords() {
	if d.opt.MaxAge <= 0 {
		return
	}
	oldest := dbh.MakeIntTime(time.Now().Add(-d.opt.MaxAge))
	if d.archive != nil {
		var keys []string
		if err := d.db.Model(&Detection{}).Where("time < ? AND image_key <> ''", oldest).Pluck("image_key", &keys).Error; err != nil {
			d.error("Failed to find old archived frames: %v", err)
		}
		for _, key := range keys {
			if err := d.archive.Delete(context.Background(), key); err != nil {
				d.error("Failed to delete archived frame %v: %v", key, err)
			}
		}
	}
	res := d.db.Where("time < ?", oldest).Delete(&Detection{})
	if res.Error != nil {
		d.error("Failed to purge old detections: %v", res.Error)
	} else if res.RowsAffected != 0 {
		d.log.Infof("Purged %v old detections", res.RowsAffected)
	}
}

// Rate limited error logging. Only called from the write thread.
func (d *DetectionDB) error(format string, args ...any) {
	d.nErrors.Add(1)
	if time.Since(d.lastErrAt) > 15*time.Second {
		d.log.Errorf(format, args...)
		d.lastErrAt = time.Now()
	}
}
