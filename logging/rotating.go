package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const filePrefix = "todo-api"

// RotatingFile is an io.Writer that starts a new file every ISO week and
// whenever the current file would grow past maxSize. Files older than the
// retention period are removed by a background sweep.
type RotatingFile struct {
	dir       string
	retention time.Duration
	maxSize   int64
	now       func() time.Time

	mu   sync.Mutex
	file *os.File
	week string
	seq  int
	size int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// OpenRotatingFile creates dir if needed and opens the file for the current week.
// maxSize <= 0 disables size rotation.
func OpenRotatingFile(dir string, retentionWeeks int, maxSize int64) (*RotatingFile, error) {
	return openRotatingFile(dir, retentionWeeks, maxSize, time.Now, 24*time.Hour)
}

func openRotatingFile(dir string, retentionWeeks int, maxSize int64, now func() time.Time, sweepEvery time.Duration) (*RotatingFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}

	rf := &RotatingFile{
		dir:       dir,
		retention: time.Duration(retentionWeeks) * 7 * 24 * time.Hour,
		maxSize:   maxSize,
		now:       now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	rf.mu.Lock()
	err := rf.openWeek(weekKey(now()))
	rf.mu.Unlock()
	if err != nil {
		return nil, err
	}

	go rf.sweepLoop(sweepEvery)
	return rf, nil
}

func weekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func (rf *RotatingFile) fileName(week string, seq int) string {
	if seq == 0 {
		return fmt.Sprintf("%s-%s.log", filePrefix, week)
	}
	return fmt.Sprintf("%s-%s_%02d.log", filePrefix, week, seq)
}

// openWeek resumes the newest file of the week, or starts the next sequence
// number if that file is already full. Caller holds mu.
func (rf *RotatingFile) openWeek(week string) error {
	seq := rf.highestSeq(week)
	if info, err := os.Stat(filepath.Join(rf.dir, rf.fileName(week, seq))); err == nil {
		if rf.maxSize > 0 && info.Size() >= rf.maxSize {
			seq++
		}
	}
	return rf.openSeq(week, seq)
}

func (rf *RotatingFile) openSeq(week string, seq int) error {
	if rf.file != nil {
		_ = rf.file.Close()
		rf.file = nil
	}

	path := filepath.Join(rf.dir, rf.fileName(week, seq))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}

	var size int64
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	rf.file = file
	rf.week = week
	rf.seq = seq
	rf.size = size
	return nil
}

func (rf *RotatingFile) highestSeq(week string) int {
	pattern := filepath.Join(rf.dir, fmt.Sprintf("%s-%s_*.log", filePrefix, week))
	matches, _ := filepath.Glob(pattern)

	highest := 0
	for _, match := range matches {
		base := strings.TrimSuffix(filepath.Base(match), ".log")
		idx := strings.LastIndexByte(base, '_')
		if idx < 0 {
			continue
		}
		if n, err := strconv.Atoi(base[idx+1:]); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

// Write implements io.Writer
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, os.ErrClosed
	}

	week := weekKey(rf.now())
	switch {
	case week != rf.week:
		if err := rf.openWeek(week); err != nil {
			return 0, err
		}
	case rf.maxSize > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.maxSize:
		if err := rf.openSeq(week, rf.seq+1); err != nil {
			return 0, err
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Name returns the path of the file currently written to
func (rf *RotatingFile) Name() string {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return ""
	}
	return rf.file.Name()
}

func (rf *RotatingFile) sweepLoop(every time.Duration) {
	defer close(rf.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rf.stop:
			return
		case <-ticker.C:
			if removed, err := rf.RemoveExpired(); err != nil {
				fmt.Fprintf(os.Stderr, "log retention sweep failed: %v\n", err)
			} else if removed > 0 {
				// stdout, not slog: the logger writes into this file
				fmt.Printf("removed %d expired log files\n", removed)
			}
		}
	}
}

// RemoveExpired deletes log files last modified before the retention cutoff.
// The file currently being written is never removed.
func (rf *RotatingFile) RemoveExpired() (int, error) {
	entries, err := os.ReadDir(rf.dir)
	if err != nil {
		return 0, fmt.Errorf("read log directory: %w", err)
	}

	current := rf.Name()
	cutoff := rf.now().Add(-rf.retention)
	removed := 0

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix+"-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		path := filepath.Join(rf.dir, name)
		if path == current {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if os.Remove(path) == nil {
			removed++
		}
	}
	return removed, nil
}

// Close stops the retention sweep and closes the current file. Safe to call twice.
func (rf *RotatingFile) Close() error {
	var err error
	rf.closeOnce.Do(func() {
		close(rf.stop)
		select {
		case <-rf.done:
		case <-time.After(2 * time.Second):
		}

		rf.mu.Lock()
		defer rf.mu.Unlock()
		if rf.file != nil {
			err = rf.file.Close()
			rf.file = nil
		}
	})
	return err
}
