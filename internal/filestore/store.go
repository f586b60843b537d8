package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/rickgao/ohlcv-ingest/internal/model"
	"github.com/rickgao/ohlcv-ingest/internal/writer"
)

const (
	metaFile     = "pair.json"
	partitionExt = ".jsonl"
	monthLayout  = "2006-01"
	dayLayout    = "2006-01-02"
)

// Store is a file-backed checkpoint store and writer.
type Store struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
	now    func() time.Time

	locksMu sync.Mutex
	locks   map[model.PairKey]*sync.Mutex

	statsMu sync.Mutex
	metrics writer.WriterMetrics
}

// New creates a Store rooted at root on fs.
func New(fs afero.Fs, root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		fs:     fs,
		root:   root,
		logger: logger.With("component", "filestore"),
		now:    time.Now,
		locks:  make(map[model.PairKey]*sync.Mutex),
	}
}

// NewOs creates a Store on the local filesystem.
func NewOs(root string, logger *slog.Logger) *Store {
	return New(afero.NewOsFs(), root, logger)
}

// Stats returns cumulative write counters.
func (s *Store) Stats() writer.WriterMetrics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.metrics
}

func (s *Store) lock(key model.PairKey) func() {
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

func intervalDir(i model.Interval) string {
	// "1M" and "1m" would collide on case-insensitive filesystems.
	if i == model.Month {
		return "1mo"
	}
	return i.String()
}

func (s *Store) pairDir(key model.PairKey) string {
	return path.Join(s.root, key.Source, fmt.Sprintf("%s_%s", key.Symbol, intervalDir(key.Interval)))
}

// partitionName returns the file holding the candle opened at ts. Intervals under a
// minute are split by day so a page rewrites at most one day of rows.
func partitionName(i model.Interval, ts time.Time) string {
	layout := monthLayout
	if i.Duration() < time.Minute {
		layout = dayLayout
	}
	return ts.UTC().Format(layout) + partitionExt
}

// EnsurePair writes the pair's metadata file if it does not exist yet.
func (s *Store) EnsurePair(ctx context.Context, pair model.TradingPair) error {
	unlock := s.lock(pair.Key())
	defer unlock()
	return s.ensurePair(pair)
}

func (s *Store) ensurePair(pair model.TradingPair) error {
	dir := s.pairDir(pair.Key())
	metaPath := path.Join(dir, metaFile)

	exists, err := afero.Exists(s.fs, metaPath)
	if err != nil {
		return fmt.Errorf("check pair metadata: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create pair directory: %w", err)
	}

	category := pair.Category
	if category == "" {
		category = model.DefaultPairCategory
	}
	data, err := json.MarshalIndent(pairMeta{
		Source:         pair.Source.Name,
		SourceCategory: pair.Source.Category,
		Symbol:         pair.Symbol,
		Interval:       pair.Interval.String(),
		Category:       category,
		CreatedAt:      s.now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pair metadata: %w", err)
	}
	return s.replace(metaPath, data)
}

// DeletePair removes the pair and all of its candles. It returns the number of
// candles removed.
func (s *Store) DeletePair(ctx context.Context, key model.PairKey) (int64, error) {
	unlock := s.lock(key)
	defer unlock()

	dir := s.pairDir(key)
	exists, err := afero.DirExists(s.fs, dir)
	if err != nil {
		return 0, fmt.Errorf("check pair directory: %w", err)
	}
	if !exists {
		return 0, fmt.Errorf("pair %s: %w", key, os.ErrNotExist)
	}

	parts, err := s.partitions(dir)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, p := range parts {
		rows, err := s.readPartition(path.Join(dir, p))
		if err != nil {
			return 0, err
		}
		count += int64(len(rows))
	}

	if err := s.fs.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("remove pair directory: %w", err)
	}
	s.logger.Info("trading pair removed", "pair", key.String(), "candlesticks", count)
	return count, nil
}

// LastCloseTime implements checkpoint.Store. Partitions are scanned newest first
// until one holds a final candle.
func (s *Store) LastCloseTime(ctx context.Context, key model.PairKey) (int64, bool, error) {
	unlock := s.lock(key)
	defer unlock()

	dir := s.pairDir(key)
	exists, err := afero.DirExists(s.fs, dir)
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: %w", key, err)
	}
	if !exists {
		return 0, false, nil
	}

	parts, err := s.partitions(dir)
	if err != nil {
		return 0, false, err
	}
	for i := len(parts) - 1; i >= 0; i-- {
		rows, err := s.readPartition(path.Join(dir, parts[i]))
		if err != nil {
			return 0, false, err
		}
		var last int64
		found := false
		for _, r := range rows {
			if r.Final && (!found || r.CloseTime > last) {
				last, found = r.CloseTime, true
			}
		}
		if found {
			return last, true, nil
		}
	}
	return 0, false, nil
}

// WriteBatch implements writer.Writer.
func (s *Store) WriteBatch(ctx context.Context, pair model.TradingPair, candles []model.Candlestick) (writer.Result, error) {
	if len(candles) == 0 {
		return writer.Result{}, nil
	}

	key := pair.Key()
	unlock := s.lock(key)
	defer unlock()

	if err := s.ensurePair(pair); err != nil {
		return writer.Result{}, err
	}

	dir := s.pairDir(key)
	byPartition := make(map[string][]record)
	stored := make(map[int64]model.Candlestick)
	for _, c := range candles {
		name := partitionName(key.Interval, c.Timestamp)
		if _, loaded := byPartition[name]; loaded {
			continue
		}
		rows, err := s.readPartition(path.Join(dir, name))
		if err != nil {
			return writer.Result{}, err
		}
		byPartition[name] = rows
		for _, r := range rows {
			stored[r.OpenTime] = r.candlestick()
		}
	}

	plan := writer.PlanPage(stored, candles)
	result := plan.Result()
	for _, v := range result.Violations {
		s.logger.Warn("rejected change to closed candle",
			"pair", key.String(),
			"timestamp", v.Timestamp,
			"stored_close", v.Stored.Close,
			"incoming_close", v.Incoming.Close,
		)
	}
	if plan.Empty() {
		s.addStats(result)
		return result, nil
	}

	changed := make(map[string]map[int64]record)
	for _, rows := range [][]model.Candlestick{plan.Inserts, plan.Updates} {
		for _, c := range rows {
			name := partitionName(key.Interval, c.Timestamp)
			if changed[name] == nil {
				changed[name] = make(map[int64]record)
			}
			changed[name][c.OpenTime] = toRecord(c)
		}
	}

	names := make([]string, 0, len(changed))
	for name := range changed {
		names = append(names, name)
	}
	sort.Strings(names)

	// Stage every partition before swapping any in; a cancelled page changes nothing.
	staged := make([]stagedFile, 0, len(names))
	discard := func() {
		for _, f := range staged {
			s.fs.Remove(f.tmp)
		}
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			discard()
			return writer.Result{}, err
		}
		p := path.Join(dir, name)
		data, err := encodePartition(p, mergeRecords(byPartition[name], changed[name]))
		if err != nil {
			discard()
			return writer.Result{}, err
		}
		f, err := s.stage(p, data)
		if err != nil {
			discard()
			return writer.Result{}, err
		}
		staged = append(staged, f)
	}
	for i, f := range staged {
		if err := s.fs.Rename(f.tmp, f.path); err != nil {
			staged = staged[i:]
			discard()
			return writer.Result{}, fmt.Errorf("rename %s: %w", f.path, err)
		}
	}

	s.addStats(result)
	s.logger.Debug("wrote page",
		"pair", key.String(),
		"inserted", result.Inserted,
		"updated", result.Updated,
		"duplicates", result.Duplicates,
		"partitions", len(names),
	)
	return result, nil
}

func (s *Store) addStats(r writer.Result) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.metrics.Add(r)
}

// mergeRecords overlays changes on existing rows and returns them ordered by open time.
func mergeRecords(existing []record, changes map[int64]record) []record {
	merged := make([]record, 0, len(existing)+len(changes))
	for _, r := range existing {
		if c, ok := changes[r.OpenTime]; ok {
			merged = append(merged, c)
			delete(changes, r.OpenTime)
			continue
		}
		merged = append(merged, r)
	}
	for _, c := range changes {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].OpenTime < merged[j].OpenTime
	})
	return merged
}

// partitions lists partition file names in a pair directory, oldest first.
func (s *Store) partitions(dir string) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), partitionExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// readPartition returns the rows of a partition file, or nil if it does not exist.
func (s *Store) readPartition(p string) ([]record, error) {
	data, err := afero.ReadFile(s.fs, p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read partition %s: %w", p, err)
	}

	var rows []record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", p, line, err)
		}
		rows = append(rows, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan partition %s: %w", p, err)
	}
	return rows, nil
}

func encodePartition(p string, rows []record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("encode partition %s: %w", p, err)
		}
	}
	return buf.Bytes(), nil
}

// stagedFile is new content for path written to tmp, waiting to be renamed over it.
type stagedFile struct {
	path string
	tmp  string
}

// stage writes data to a synced temp file next to p.
func (s *Store) stage(p string, data []byte) (stagedFile, error) {
	tmp, err := afero.TempFile(s.fs, path.Dir(p), "."+path.Base(p)+".tmp-*")
	if err != nil {
		return stagedFile{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return stagedFile{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return stagedFile{}, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return stagedFile{}, fmt.Errorf("close temp file: %w", err)
	}
	return stagedFile{path: p, tmp: tmpName}, nil
}

// replace atomically swaps the content of p.
func (s *Store) replace(p string, data []byte) error {
	f, err := s.stage(p, data)
	if err != nil {
		return err
	}
	if err := s.fs.Rename(f.tmp, p); err != nil {
		s.fs.Remove(f.tmp)
		return fmt.Errorf("rename %s: %w", p, err)
	}
	return nil
}
