package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/overseer/internal/clock"
	"github.com/viant/overseer/internal/log"
	"github.com/viant/overseer/model/audit"
	"github.com/viant/overseer/telemetry"
)

// Folder is the vault sub folder holding daily partitions.
const Folder = "Logs"

// Listener observes entries after they were made durable.
type Listener func(entry *audit.Entry)

// Service is the append-only audit log.
type Service struct {
	dir     string
	baseURL string
	fs      afs.Service

	mu      sync.Mutex
	seq     uint64
	lastTS  time.Time
	day     string
	current *os.File

	aggMu  sync.Mutex
	closed map[string]*dayAggregate
	today  *dayAggregate

	listenerMu sync.RWMutex
	listeners  []Listener
}

// OnAppend registers a listener invoked after each durable append.
func (s *Service) OnAppend(listener Listener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, listener)
	s.listenerMu.Unlock()
}

// Append durably records an entry. Timestamp and Seq are assigned here;
// values set by the caller are overwritten.
func (s *Service) Append(ctx context.Context, entry *audit.Entry) error {
	if entry == nil {
		return fmt.Errorf("audit: nil entry")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return fmt.Errorf("audit: action is required")
	}
	if entry.Level == "" {
		entry.Level = audit.LevelInfo
	}
	if entry.Actor == "" {
		entry.Actor = "system"
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	ts := clock.Now().UTC()
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}
	s.lastTS = ts
	s.seq++
	entry.Timestamp = ts
	entry.Seq = s.seq

	line, err := json.Marshal(entry)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("audit: failed to encode entry: %w", err)
	}
	line = append(line, '\n')
	if err = s.write(clock.Day(ts), line); err != nil {
		s.mu.Unlock()
		return err
	}
	s.observe(entry)
	s.mu.Unlock()

	telemetry.AuditEntriesTotal.WithLabelValues(string(entry.Level)).Inc()

	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()
	for _, listener := range listeners {
		listener(entry)
	}
	return nil
}

// write appends line to the partition of day and fsyncs it. Caller holds mu.
func (s *Service) write(day string, line []byte) error {
	if s.current == nil || s.day != day {
		if s.current != nil {
			_ = s.current.Close()
			s.rollover(day)
		}
		f, err := os.OpenFile(filepath.Join(s.dir, day+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("audit: failed to open partition %s: %w", day, err)
		}
		s.current = f
		s.day = day
	}
	if _, err := s.current.Write(line); err != nil {
		return fmt.Errorf("audit: failed to write partition %s: %w", day, err)
	}
	if err := s.current.Sync(); err != nil {
		return fmt.Errorf("audit: failed to sync partition %s: %w", day, err)
	}
	return nil
}

// rollover freezes the previous day's aggregate once its partition closes.
func (s *Service) rollover(newDay string) {
	s.aggMu.Lock()
	defer s.aggMu.Unlock()
	if s.today != nil && s.today.Day != newDay {
		s.closed[s.today.Day] = s.today
		s.today = nil
	}
}

// observe updates today's aggregate incrementally. Caller holds mu.
func (s *Service) observe(entry *audit.Entry) {
	s.aggMu.Lock()
	defer s.aggMu.Unlock()
	if s.today != nil && s.today.Day == clock.Day(entry.Timestamp) {
		s.today.add(entry)
	}
}

// Query returns matching entries newest first.
func (s *Service) Query(ctx context.Context, filter Filter) ([]*audit.Entry, error) {
	var matched []*audit.Entry
	for _, day := range window(filter.days()) {
		entries, err := s.readDay(ctx, day)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if filter.match(entry) {
				matched = append(matched, entry)
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[j].Before(matched[i]) })
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// ByCorrelation returns every entry of one correlation id in causal order.
func (s *Service) ByCorrelation(ctx context.Context, correlationID string, days int) ([]*audit.Entry, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("audit: correlation id is required")
	}
	entries, err := s.Query(ctx, Filter{CorrelationID: correlationID, Days: days})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Before(entries[j]) })
	return entries, nil
}

// Stats aggregates counts over the last days.
func (s *Service) Stats(ctx context.Context, days int) (*Stats, error) {
	if days <= 0 {
		days = DefaultDays
	}
	aggregates, err := s.aggregates(ctx, days)
	if err != nil {
		return nil, err
	}
	return buildStats(days, aggregates), nil
}

// Analytics derives activity, error rate and action rankings over the last
// days.
func (s *Service) Analytics(ctx context.Context, days int) (*Analytics, error) {
	if days <= 0 {
		days = DefaultDays
	}
	aggregates, err := s.aggregates(ctx, days)
	if err != nil {
		return nil, err
	}
	return buildAnalytics(days, aggregates), nil
}

// aggregates returns one aggregate per day of the window. Closed days are
// computed once and cached; today is scanned once and then kept current by
// Append.
func (s *Service) aggregates(ctx context.Context, days int) ([]*dayAggregate, error) {
	today := clock.Day(clock.Now())
	var ret []*dayAggregate
	for _, day := range window(days) {
		agg, err := s.aggregate(ctx, day, day == today)
		if err != nil {
			return nil, err
		}
		ret = append(ret, agg)
	}
	return ret, nil
}

func (s *Service) aggregate(ctx context.Context, day string, isToday bool) (*dayAggregate, error) {
	s.aggMu.Lock()
	if agg, ok := s.closed[day]; ok {
		s.aggMu.Unlock()
		return agg, nil
	}
	if isToday && s.today != nil && s.today.Day == day {
		agg := s.today.clone()
		s.aggMu.Unlock()
		return agg, nil
	}
	s.aggMu.Unlock()

	if isToday {
		// block appends so that the scan and the incremental counter agree
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	entries, err := s.readDay(ctx, day)
	if err != nil {
		return nil, err
	}
	agg := newDayAggregate(day)
	for _, entry := range entries {
		agg.add(entry)
	}

	s.aggMu.Lock()
	defer s.aggMu.Unlock()
	if isToday {
		s.today = agg
		return agg.clone(), nil
	}
	s.closed[day] = agg
	return agg, nil
}

func (a *dayAggregate) clone() *dayAggregate {
	ret := newDayAggregate(a.Day)
	ret.Total = a.Total
	ret.Hours = a.Hours
	for k, v := range a.ByLevel {
		ret.ByLevel[k] = v
	}
	for k, v := range a.ByPlatform {
		ret.ByPlatform[k] = v
	}
	for k, v := range a.ByAction {
		ret.ByAction[k] = v
	}
	for k, v := range a.PlatformFailures {
		ret.PlatformFailures[k] = v
	}
	for k, v := range a.ByActor {
		ret.ByActor[k] = v
	}
	return ret
}

// readDay loads one partition; a missing partition yields no entries.
func (s *Service) readDay(ctx context.Context, day string) ([]*audit.Entry, error) {
	partitionURL := url.Join(s.baseURL, day+".jsonl")
	exists, err := s.fs.Exists(ctx, partitionURL)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to check partition %s: %w", day, err)
	}
	if !exists {
		return nil, nil
	}
	data, err := s.fs.DownloadWithURL(ctx, partitionURL)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read partition %s: %w", day, err)
	}
	var entries []*audit.Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		entry := &audit.Entry{}
		if err := json.Unmarshal(line, entry); err != nil {
			log.With("audit").WithError(err).Warnf("skipping malformed line in partition %s", day)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// window lists the UTC days ending today, oldest first.
func window(days int) []string {
	now := clock.Now().UTC()
	ret := make([]string, 0, days)
	for i := days - 1; i >= 0; i-- {
		ret = append(ret, clock.Day(now.AddDate(0, 0, -i)))
	}
	return ret
}

// Close releases the open partition.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

// New creates an audit log writing into <vault>/Logs.
func New(vault string) (*Service, error) {
	if vault == "" {
		return nil, fmt.Errorf("audit: vault path cannot be empty")
	}
	dir := filepath.Join(vault, Folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: failed to create %s: %w", dir, err)
	}
	ret := &Service{
		dir:     dir,
		baseURL: url.Normalize(dir, file.Scheme),
		fs:      afs.New(),
		closed:  map[string]*dayAggregate{},
	}
	if err := ret.resume(context.Background()); err != nil {
		return nil, err
	}
	return ret, nil
}

// resume continues the sequence and clock of today's partition so that a
// restarted process never reuses a sequence number within the file.
func (s *Service) resume(ctx context.Context) error {
	entries, err := s.readDay(ctx, clock.Day(clock.Now().UTC()))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Seq > s.seq {
			s.seq = entry.Seq
		}
		if entry.Timestamp.After(s.lastTS) {
			s.lastTS = entry.Timestamp
		}
	}
	return nil
}
