package ring

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ElectionRecord is what a peer keeps on disk once its election loop has
// terminated.
type ElectionRecord struct {
	RunId      string        `json:"runId,omitempty"`
	Rank       int           `json:"rank"`
	Rounds     int           `json:"rounds"`
	Outcome    *RoundOutcome `json:"outcome,omitempty"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}

func NewElectionRecord(runId string, result *Result) ElectionRecord {
	now := time.Now().UTC()

	return ElectionRecord{
		RunId:      runId,
		Rank:       result.Rank,
		Rounds:     result.Rounds,
		Outcome:    result.Outcome,
		FinishedAt: &now,
	}
}

// IsEmpty reports whether the record was never written by a terminated
// election.
func (r *ElectionRecord) IsEmpty() bool {
	return r.FinishedAt == nil
}

var ErrRecordRank = errors.New("election record of another peer")

// RecordStore keeps the election record of a single peer. It refuses to
// read or write the record of another rank, which happens when two peers are
// configured with the same data directory.
type RecordStore struct {
	filePath string
	rank     int
	file     *os.File
}

func NewRecordStore(filePath string, rank int) *RecordStore {
	return &RecordStore{
		filePath: filePath,
		rank:     rank,
	}
}

func (s *RecordStore) FilePath() string {
	return s.filePath
}

func (s *RecordStore) Open() error {
	flags := os.O_RDWR | os.O_CREATE
	file, err := os.OpenFile(s.filePath, flags, 0600)
	if err != nil {
		return fmt.Errorf("cannot open %q: %w", s.filePath, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()

		return fmt.Errorf("cannot stat %q: %w", s.filePath, err)
	}

	s.file = file

	if info.Size() == 0 {
		if err := s.Write(ElectionRecord{Rank: s.rank}); err != nil {
			file.Close()

			return fmt.Errorf("cannot write empty record to %q: %w",
				s.filePath, err)
		}
	}

	return nil
}

func (s *RecordStore) Close() {
	s.file.Close()
}

func (s *RecordStore) Read(record *ElectionRecord) error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("cannot seek %q: %w", s.filePath, err)
	}

	d := json.NewDecoder(s.file)
	if err := d.Decode(record); err != nil {
		return fmt.Errorf("cannot read json data from %q: %w",
			s.filePath, err)
	}

	if record.Rank != s.rank {
		return fmt.Errorf("%w: %q contains the record of peer %d",
			ErrRecordRank, s.filePath, record.Rank)
	}

	return nil
}

func (s *RecordStore) Write(record ElectionRecord) error {
	if record.Rank != s.rank {
		return fmt.Errorf("%w: cannot write the record of peer %d",
			ErrRecordRank, record.Rank)
	}

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("cannot seek %q: %w", s.filePath, err)
	}

	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("cannot truncate %q: %w", s.filePath, err)
	}

	e := json.NewEncoder(s.file)
	e.SetIndent("", "  ")
	if err := e.Encode(&record); err != nil {
		return fmt.Errorf("cannot write json data to %q: %w", s.filePath, err)
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("cannot sync %q: %w", s.filePath, err)
	}

	return nil
}
