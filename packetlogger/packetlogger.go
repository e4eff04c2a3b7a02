// Package packetlogger implements the time-bucketed, compressed packet
// journal (spec.md S4.2, component C2).
package packetlogger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/metaapi-go/sdk/internal/metrics"
	"github.com/metaapi-go/sdk/packets"
)

// Defaults mirror spec.md S6.
const (
	DefaultRootDir               = "./.metaapi/logs"
	DefaultFileNumberLimit       = 12
	DefaultLogFileSizeInHours    = 4
	DefaultCompressPrices        = true
	DefaultCompressSpecifications = true
)

// Options configures a Logger.
type Options struct {
	RootDir                string
	FileNumberLimit        int
	LogFileSizeInHours     int
	CompressPrices         bool
	CompressSpecifications bool
	// GzipRotatedBuckets, when true, gzips a bucket's per-account files
	// once a newer bucket has been created (expansion, spec.md S6).
	GzipRotatedBuckets bool
}

func (o Options) withDefaults() Options {
	if o.RootDir == "" {
		o.RootDir = DefaultRootDir
	}
	if o.FileNumberLimit <= 0 {
		o.FileNumberLimit = DefaultFileNumberLimit
	}
	if o.LogFileSizeInHours <= 0 {
		o.LogFileSizeInHours = DefaultLogFileSizeInHours
	}
	return o
}

// Record is one persisted line in a per-account log file.
type Record struct {
	Time           time.Time       `json:"time"`
	SequenceNumber *int64          `json:"sequenceNumber,omitempty"`
	Message        json.RawMessage `json:"message"`
}

type priceRun struct {
	first, last int64
	lastPacket  packets.Packet
}

type writeJob struct {
	accountID string
	now       time.Time
	record    Record
}

// Logger persists packets to an hourly-bucketed on-disk journal
// asynchronously; LogPacket never blocks on I/O.
type Logger struct {
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Registry
	now     func() time.Time

	mu     sync.Mutex
	runs   map[string]*priceRun
	closed bool

	jobs chan writeJob
	wg   sync.WaitGroup

	seenBuckets map[string]bool
}

// New creates a Logger and starts its background writer goroutine.
func New(opts Options, logger *zap.Logger, metricsRegistry *metrics.Registry) *Logger {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Logger{
		opts:        opts,
		logger:      logger,
		metrics:     metricsRegistry,
		now:         time.Now,
		runs:        make(map[string]*priceRun),
		jobs:        make(chan writeJob, 256),
		seenBuckets: make(map[string]bool),
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Close stops the background writer after draining pending writes
// best-effort (spec.md S5: "packet logger writes survive close() until
// their batch flushes").
func (l *Logger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.jobs)
	l.wg.Wait()
}

// LogPacket enqueues p for asynchronous persistence. Returns immediately.
func (l *Logger) LogPacket(p packets.Packet) {
	if p.Type == packets.TypeStatus {
		return
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if p.Type != packets.TypePrices {
		l.closeRunLocked(p.AccountID, now)
		rec := l.buildRecord(p, now)
		l.enqueueLocked(p.AccountID, now, rec)
		return
	}

	if !l.opts.CompressPrices {
		l.enqueueLocked(p.AccountID, now, l.buildRecord(p, now))
		return
	}

	seq, _ := p.Seq()
	run := l.runs[p.AccountID]
	switch {
	case run == nil:
		l.enqueueLocked(p.AccountID, now, l.buildRecord(p, now))
		l.runs[p.AccountID] = &priceRun{first: seq, last: seq, lastPacket: p}
	case seq == run.last+1:
		run.last = seq
		run.lastPacket = p
	default:
		l.flushRunLocked(p.AccountID, now)
		l.enqueueLocked(p.AccountID, now, l.buildRecord(p, now))
		l.runs[p.AccountID] = &priceRun{first: seq, last: seq, lastPacket: p}
	}
}

// closeRunLocked finalizes any active price run for accountID because a
// non-prices packet interrupted it.
func (l *Logger) closeRunLocked(accountID string, now time.Time) {
	if _, ok := l.runs[accountID]; ok {
		l.flushRunLocked(accountID, now)
		delete(l.runs, accountID)
	}
}

func (l *Logger) flushRunLocked(accountID string, now time.Time) {
	run := l.runs[accountID]
	if run == nil {
		return
	}
	delete(l.runs, accountID)
	if run.last == run.first {
		return // single-packet run, already written verbatim as "first"
	}
	l.enqueueLocked(accountID, now, l.buildRecord(run.lastPacket, now))
	msg, _ := json.Marshal(fmt.Sprintf("Recorded price packets %d-%d", run.first, run.last))
	l.enqueueLocked(accountID, now, Record{Time: now, Message: msg})
}

func (l *Logger) buildRecord(p packets.Packet, now time.Time) Record {
	var seq *int64
	if s, ok := p.Seq(); ok {
		seq = &s
	}

	if p.Type == packets.TypeSpecifications && l.opts.CompressSpecifications {
		stripped := struct {
			Type           packets.Type `json:"type"`
			SequenceNumber *int64       `json:"sequenceNumber,omitempty"`
		}{Type: p.Type, SequenceNumber: seq}
		msg, _ := json.Marshal(stripped)
		return Record{Time: now, SequenceNumber: seq, Message: msg}
	}

	msg, _ := json.Marshal(p)
	return Record{Time: now, SequenceNumber: seq, Message: msg}
}

func (l *Logger) enqueueLocked(accountID string, now time.Time, rec Record) {
	if l.closed {
		return
	}
	select {
	case l.jobs <- writeJob{accountID: accountID, now: now, record: rec}:
	default:
		l.logger.Warn("packet logger write queue full, dropping record", zap.String("accountId", accountID))
	}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for job := range l.jobs {
		if err := l.write(job); err != nil {
			l.logger.Error("packet log write failed", zap.String("accountId", job.accountID), zap.Error(err))
		}
	}
}

func (l *Logger) write(job writeJob) error {
	bucket := bucketName(job.now, l.opts.LogFileSizeInHours)
	dir := filepath.Join(l.opts.RootDir, bucket)

	l.mu.Lock()
	isNewBucket := !l.seenBuckets[bucket]
	if isNewBucket {
		l.seenBuckets[bucket] = true
	}
	l.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir bucket: %w", err)
	}

	if isNewBucket {
		l.onNewBucket(bucket)
	}

	path := filepath.Join(dir, job.accountID+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(job.record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// onNewBucket is called once per distinct bucket directory the first
// time a write targets it: it gzips the previous bucket (if enabled)
// and enforces fileNumberLimit retention.
func (l *Logger) onNewBucket(newBucket string) {
	if l.opts.GzipRotatedBuckets {
		l.gzipAgedBuckets(newBucket)
	}
	l.enforceRetention()
}

func (l *Logger) gzipAgedBuckets(newBucket string) {
	buckets := l.listBuckets()
	for _, b := range buckets {
		if b == newBucket {
			continue
		}
		dir := filepath.Join(l.opts.RootDir, b)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
				continue
			}
			l.gzipFile(filepath.Join(dir, e.Name()))
		}
	}
}

func (l *Logger) gzipFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	gzPath := path + ".gz"
	out, err := os.Create(gzPath)
	if err != nil {
		return
	}
	defer out.Close()

	w, _ := gzip.NewWriterLevel(out, gzip.BestSpeed)
	if _, err := w.Write(data); err != nil {
		w.Close()
		os.Remove(gzPath)
		return
	}
	if err := w.Close(); err != nil {
		os.Remove(gzPath)
		return
	}
	os.Remove(path)
}

func (l *Logger) listBuckets() []string {
	entries, err := os.ReadDir(l.opts.RootDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func (l *Logger) enforceRetention() {
	names := l.listBuckets()
	if len(names) <= l.opts.FileNumberLimit {
		if l.metrics != nil {
			l.metrics.LogBucketsActive.Set(float64(len(names)))
		}
		return
	}
	excess := len(names) - l.opts.FileNumberLimit
	for _, old := range names[:excess] {
		_ = os.RemoveAll(filepath.Join(l.opts.RootDir, old))
	}
	if l.metrics != nil {
		l.metrics.LogBucketsActive.Set(float64(l.opts.FileNumberLimit))
	}
}

// bucketName formats the bucket directory name for time t with the
// given bucket width in hours. The suffix is the bucket INDEX within
// the day (hour/width), not the literal starting hour, per spec.md S8
// scenario S2.
func bucketName(t time.Time, widthHours int) string {
	t = t.UTC()
	idx := t.Hour() / widthHours
	return fmt.Sprintf("%s-%02d", t.Format("2006-01-02"), idx)
}

// bucketRange returns the [start, end) time range a bucket directory
// name covers, given the bucket width used when it was written.
func bucketRange(name string, widthHours int) (start, end time.Time, err error) {
	lastDash := strings.LastIndex(name, "-")
	if lastDash < 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed bucket name %q", name)
	}
	datePart := name[:lastDash]
	idxPart := name[lastDash+1:]
	idx, err := strconv.Atoi(idxPart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed bucket index %q: %w", idxPart, err)
	}
	day, err := time.Parse("2006-01-02", datePart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed bucket date %q: %w", datePart, err)
	}
	start = day.Add(time.Duration(idx*widthHours) * time.Hour)
	end = start.Add(time.Duration(widthHours) * time.Hour)
	return start, end, nil
}

// ReadLogs scans bucket directories overlapping [from, to] and returns
// the accountID's records across them in write order (spec.md S4.2).
// A zero from/to leaves that bound open.
func (l *Logger) ReadLogs(accountID string, from, to time.Time) ([]Record, error) {
	names := l.listBuckets()
	var records []Record
	for _, name := range names {
		start, end, err := bucketRange(name, l.opts.LogFileSizeInHours)
		if err != nil {
			continue
		}
		if !from.IsZero() && end.Before(from) {
			continue
		}
		if !to.IsZero() && start.After(to) {
			continue
		}

		recs, err := l.readBucketFile(filepath.Join(l.opts.RootDir, name), accountID)
		if err != nil {
			continue
		}
		for _, r := range recs {
			if !from.IsZero() && r.Time.Before(from) {
				continue
			}
			if !to.IsZero() && r.Time.After(to) {
				continue
			}
			records = append(records, r)
		}
	}
	return records, nil
}

func (l *Logger) readBucketFile(dir, accountID string) ([]Record, error) {
	plain := filepath.Join(dir, accountID+".log")
	if f, err := os.Open(plain); err == nil {
		defer f.Close()
		return scanRecords(f)
	}

	gz := plain + ".gz"
	f, err := os.Open(gz)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return scanRecords(r)
}

func scanRecords(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var out []Record
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
