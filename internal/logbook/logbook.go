// Package logbook keeps the append-only results log, one record per
// finished round.
package logbook

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"redlight/internal/domain"
)

// Section headers and the timestamp layout of a record
const (
	GameHeader    = "GAME:--------------------"
	WinnersHeader = "WINNERS--------------------"
	LosersHeader  = "LOSERS:--------------------"
	TimeLayout    = "02-01-2006 15:04"
)

// ErrMalformedLog is returned when the file does not follow the record layout
var ErrMalformedLog = errors.New("malformed results log")

// Store appends records to a file on fs
type Store struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by path on fs
func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Path returns the log file location
func (s *Store) Path() string {
	return s.path
}

// Append writes one record at the end of the log
func (s *Store) Append(rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fs.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open results log: %w", err)
	}

	if _, err := io.WriteString(f, Format(rec)); err != nil {
		f.Close()
		return fmt.Errorf("write results log: %w", err)
	}
	return f.Close()
}

// Records reads every record back. A missing file holds no records.
func (s *Store) Records() ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fs.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.Record{}, nil
		}
		return nil, fmt.Errorf("open results log: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Format renders a record in the log layout
func Format(rec domain.Record) string {
	var b strings.Builder
	b.WriteString(GameHeader + "\n")
	b.WriteString(rec.StartedAt.Format(TimeLayout) + "\n")
	b.WriteString(strconv.Itoa(rec.Players) + "\n")
	b.WriteString(WinnersHeader + "\n")
	for _, name := range rec.Winners {
		b.WriteString(name + "\n")
	}
	b.WriteString(LosersHeader + "\n")
	for _, name := range rec.Losers {
		b.WriteString(name + "\n")
	}
	return b.String()
}

// Parse reads records in the log layout. Blank lines are ignored.
func Parse(r io.Reader) ([]domain.Record, error) {
	records := []domain.Record{}
	var lines []string

	flush := func() error {
		if len(lines) == 0 {
			return nil
		}
		rec, err := parseRecord(lines)
		if err != nil {
			return fmt.Errorf("record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
		lines = lines[:0]
		return nil
	}

	sc := bufio.NewScanner(r)
	started := false
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if line == GameHeader {
			if err := flush(); err != nil {
				return nil, err
			}
			started = true
			continue
		}
		if !started {
			return nil, fmt.Errorf("%w: content before first %q", ErrMalformedLog, GameHeader)
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read results log: %w", err)
	}
	if started {
		if len(lines) == 0 {
			return nil, fmt.Errorf("%w: empty record", ErrMalformedLog)
		}
		if err := flush(); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func parseRecord(lines []string) (domain.Record, error) {
	if len(lines) < 4 {
		return domain.Record{}, fmt.Errorf("%w: truncated record", ErrMalformedLog)
	}

	startedAt, err := time.ParseInLocation(TimeLayout, lines[0], time.Local)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: timestamp %q", ErrMalformedLog, lines[0])
	}
	players, err := strconv.Atoi(lines[1])
	if err != nil || players < 0 {
		return domain.Record{}, fmt.Errorf("%w: player count %q", ErrMalformedLog, lines[1])
	}
	if lines[2] != WinnersHeader {
		return domain.Record{}, fmt.Errorf("%w: missing winners section", ErrMalformedLog)
	}

	rec := domain.Record{
		StartedAt: startedAt,
		Players:   players,
		Winners:   []string{},
		Losers:    []string{},
	}

	losers := false
	for _, line := range lines[3:] {
		switch {
		case line == LosersHeader && !losers:
			losers = true
		case losers:
			rec.Losers = append(rec.Losers, line)
		default:
			rec.Winners = append(rec.Winners, line)
		}
	}
	if !losers {
		return domain.Record{}, fmt.Errorf("%w: missing losers section", ErrMalformedLog)
	}
	return rec, nil
}
