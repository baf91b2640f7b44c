package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const ledgerExt = ".log"

// projectLedger serializes appends for one project and tracks the chain tail.
type projectLedger struct {
	path string

	mu       sync.Mutex
	file     *os.File
	lastSeq  int64
	lastHash string
}

func (l *Ledger) project(projectKey string) (*projectLedger, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pl, ok := l.projects[projectKey]; ok {
		return pl, nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	pl := &projectLedger{path: filepath.Join(l.dir, projectKey+ledgerExt)}
	if err := pl.recoverTail(); err != nil {
		return nil, err
	}
	l.projects[projectKey] = pl
	return pl, nil
}

func (l *Ledger) projectKeys() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit dir: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ledgerExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ledgerExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// recoverTail reads an existing ledger file to resume the sequence and chain.
func (pl *projectLedger) recoverTail() error {
	events, err := pl.read()
	if err != nil {
		return err
	}
	if n := len(events); n > 0 {
		pl.lastSeq = events[n-1].Seq
		pl.lastHash = events[n-1].EventHash
	}
	return nil
}

func (pl *projectLedger) append(rec Record, at time.Time) (Event, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.file == nil {
		file, err := os.OpenFile(pl.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return Event{}, fmt.Errorf("open ledger %s: %w", pl.path, err)
		}
		pl.file = file
	}

	ev := Event{
		Seq:          pl.lastSeq + 1,
		Timestamp:    at,
		EventType:    rec.EventType,
		ProjectKey:   rec.ProjectKey,
		Actor:        rec.Actor,
		ContentHash:  rec.ContentHash,
		PromptHash:   rec.PromptHash,
		Revision:     rec.Revision,
		ProposalID:   rec.ProposalID,
		CommitHash:   rec.CommitHash,
		FilesChanged: rec.FilesChanged,
		Detail:       rec.Detail,
		RawContent:   rec.RawContent,
		RawOptIn:     rec.RawOptIn,
		PrevHash:     pl.lastHash,
	}
	ev.EventHash = chainHash(ev)

	line, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("marshal audit event: %w", err)
	}
	tail, err := pl.file.Seek(0, io.SeekEnd)
	if err != nil {
		return Event{}, fmt.Errorf("seek ledger %s: %w", pl.path, err)
	}

	// One Write call per event; readers never see a torn record because they
	// skip any unterminated trailing line.
	if _, err := pl.file.Write(append(line, '\n')); err != nil {
		pl.rollback(tail)
		return Event{}, fmt.Errorf("append ledger %s: %w", pl.path, err)
	}
	if err := pl.file.Sync(); err != nil {
		// The line may have reached disk even though durability was not
		// acknowledged. Cut it back off so the in-memory tail and the file
		// cannot disagree on the next append.
		pl.rollback(tail)
		return Event{}, fmt.Errorf("sync ledger %s: %w", pl.path, err)
	}

	pl.lastSeq = ev.Seq
	pl.lastHash = ev.EventHash
	return ev, nil
}

// rollback restores the file to the pre-write offset after a failed append.
// If the truncate itself fails the file is reopened on the next append and
// the chain tail is resynced from whatever actually reached disk.
func (pl *projectLedger) rollback(tail int64) {
	if pl.file != nil {
		if err := pl.file.Truncate(tail); err == nil {
			return
		}
		pl.file.Close()
		pl.file = nil
	}
	_ = pl.recoverTail()
}

// read returns the full event history in file order. The file may be growing
// concurrently; a trailing line without a newline is an in-flight append and
// is ignored.
func (pl *projectLedger) read() ([]Event, error) {
	file, err := os.Open(pl.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger %s: %w", pl.path, err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lastComplete := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Only tolerable as the final, torn line; anything earlier is
			// corruption.
			lastComplete = false
			continue
		}
		if !lastComplete {
			return nil, fmt.Errorf("ledger %s: corrupt interior record before seq %d", pl.path, ev.Seq)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger %s: %w", pl.path, err)
	}
	return events, nil
}
