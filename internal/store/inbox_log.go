package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"beacon/internal/domain"
)

const inboxFile = "inbox.jsonl"

// maxRecordLine bounds a single inbox line.
const maxRecordLine = 1 << 20

// InboxFileLog is the append-only inbox, one JSON record per line.
type InboxFileLog struct {
	path string
	log  *zap.Logger
	mu   sync.Mutex
}

func NewInboxFileLog(dir string, log *zap.Logger) *InboxFileLog {
	if log == nil {
		log = zap.NewNop()
	}
	return &InboxFileLog{path: filepath.Join(dir, inboxFile), log: log}
}

// Path is the JSONL file backing the log.
func (l *InboxFileLog) Path() string { return l.path }

// ReadRecords returns every parseable record in file order. Blank and
// malformed lines are skipped. Numbers inside envelopes keep their literal
// form so signatures can be rechecked.
func (l *InboxFileLog) ReadRecords() ([]domain.InboxRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := readFile(l.path)
	if err != nil || b == nil {
		return nil, err
	}

	var out []domain.InboxRecord
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordLine)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var rec domain.InboxRecord
		if err := dec.Decode(&rec); err != nil {
			l.log.Debug("skipping malformed inbox line", zap.Int("line", line), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		l.log.Warn("inbox scan stopped early", zap.Int("line", line), zap.Error(err))
	}
	return out, nil
}

// AppendRecord writes rec as one line.
func (l *InboxFileLog) AppendRecord(rec domain.InboxRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return err
	}
	return appendLine(l.path, bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

var _ domain.InboxLog = (*InboxFileLog)(nil)
