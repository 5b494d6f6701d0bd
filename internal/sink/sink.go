// Package sink persists per-device results: one transcript file per device
// per batch, pre-push configuration backups, and a structured audit log,
// optionally mirrored to Kafka.
package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ibivanov/netfleet/internal/device"
	"github.com/ibivanov/netfleet/internal/runner"
)

// timestamp layout matches the transcript filenames operators already grep
const stampLayout = "2006-01-02_15-04-05"

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) && !w.Overwrite {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// AuditEntry is one audit-log line, one per device per batch.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	BatchID   string    `json:"batchId"`
	Host      string    `json:"host"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status"`
	LastStep  string    `json:"lastStep"`
	Commands  int       `json:"commands"`
	ElapsedMS int64     `json:"elapsedMs"`
	BackupRef string    `json:"backupRef,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// AuditPublisher mirrors audit entries to an external stream.
type AuditPublisher interface {
	Publish(entry AuditEntry) error
	Close() error
}

// FileSink writes transcripts and backups under OutputDir and appends audit
// entries to AuditPath. Each device owns its own transcript file; audit
// appends are serialized by a mutex so concurrent devices never interleave
// lines.
type FileSink struct {
	outputDir string
	auditPath string
	writer    Writer
	ser       Serializer
	publisher AuditPublisher

	auditMu sync.Mutex
}

type Option func(*FileSink)

// WithPublisher mirrors every audit entry to the given publisher.
func WithPublisher(p AuditPublisher) Option {
	return func(s *FileSink) { s.publisher = p }
}

// WithWriter overrides the file writer, for tests.
func WithWriter(w Writer) Option {
	return func(s *FileSink) { s.writer = w }
}

func New(outputDir, auditPath string, opts ...Option) *FileSink {
	s := &FileSink{
		outputDir: outputDir,
		auditPath: auditPath,
		writer:    FileWriter{Overwrite: true},
		ser:       JSONSerializer{Indent: "    "},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PersistOutput writes the device's command transcript for this batch.
// Devices with no recorded commands (unreachable, connect failed) produce no
// transcript file.
func (s *FileSink) PersistOutput(batchID uuid.UUID, res runner.Result) error {
	if len(res.Commands) == 0 {
		return nil
	}
	name := filepath.Join(s.outputDir, batchID.String(),
		fmt.Sprintf("output_%s_%s.txt", res.Device.Label(), time.Now().Format(stampLayout)))

	var b strings.Builder
	for _, cr := range res.Commands {
		fmt.Fprintf(&b, "\n===== %s =====\n", cr.Command)
		if cr.Err != "" {
			fmt.Fprintf(&b, "ERROR: %s\n", cr.Err)
		}
		b.WriteString(cr.Output)
		if cr.Output != "" && !strings.HasSuffix(cr.Output, "\n") {
			b.WriteByte('\n')
		}
	}

	if err := s.writer.Write(name, []byte(b.String())); err != nil {
		return fmt.Errorf("persist output for %s: %w", res.Device.Host, err)
	}

	// machine-readable copy of the terminal record, next to the transcript
	doc, err := s.ser.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result for %s: %w", res.Device.Host, err)
	}
	jsonName := filepath.Join(s.outputDir, batchID.String(),
		fmt.Sprintf("result_%s.json", res.Device.Label()))
	if err := s.writer.Write(jsonName, doc); err != nil {
		return fmt.Errorf("persist result for %s: %w", res.Device.Host, err)
	}
	return nil
}

// WriteBackup persists a device's running configuration before a push and
// returns the file path as the backup reference.
func (s *FileSink) WriteBackup(dev device.Descriptor, config string) (string, error) {
	name := filepath.Join(s.outputDir, "backups",
		fmt.Sprintf("backup_%s_%s.cfg", dev.Label(), time.Now().Format(stampLayout)))
	if err := s.writer.Write(name, []byte(config)); err != nil {
		return "", fmt.Errorf("write backup for %s: %w", dev.Host, err)
	}
	return name, nil
}

// AppendAudit appends one JSON line for the result to the audit log and, if
// configured, mirrors it to the publisher.
func (s *FileSink) AppendAudit(batchID uuid.UUID, res runner.Result) error {
	entry := AuditEntry{
		Timestamp: time.Now().UTC(),
		BatchID:   batchID.String(),
		Host:      res.Device.Host,
		Name:      res.Device.Name,
		Status:    res.Status.String(),
		LastStep:  string(res.LastStep),
		Commands:  len(res.Commands),
		ElapsedMS: res.Elapsed.Milliseconds(),
		BackupRef: res.BackupRef,
		Err:       res.Err,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	s.auditMu.Lock()
	appendErr := s.appendLine(line)
	s.auditMu.Unlock()

	var pubErr error
	if s.publisher != nil {
		pubErr = s.publisher.Publish(entry)
	}
	return errors.Join(appendErr, pubErr)
}

func (s *FileSink) appendLine(line []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.auditPath), 0755); err != nil {
		return fmt.Errorf("audit dir: %w", err)
	}
	f, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}
