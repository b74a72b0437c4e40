package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/homelabops/orchestrator/internal/telemetry"
)

// ErrContentMismatch is returned by Record when an artifact already exists
// for a task id with different content. Spec §4.4 calls this "a bug" —
// C4 must fail loudly rather than silently overwrite.
type ErrContentMismatch struct {
	TaskID string
}

func (e *ErrContentMismatch) Error() string {
	return fmt.Sprintf("audit artifact for task %s already exists with different content", e.TaskID)
}

// Writer appends content-addressed artifacts under a root directory and
// a flat append-only commit log recording one line per write.
type Writer struct {
	root   string
	mu     sync.Mutex
	logger telemetry.ComponentLogger
	clock  func() time.Time
}

func NewWriter(root string, logger telemetry.ComponentLogger) (*Writer, error) {
	if logger == nil {
		logger = telemetry.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create audit root: %w", err)
	}
	return &Writer{
		root:   root,
		logger: logger.WithComponent("audit"),
		clock:  time.Now,
	}, nil
}

// artifactPath shards by the first two hex characters of sha256(task id),
// keeping any one directory from growing unbounded while remaining
// addressable from the task id alone (spec §3: "content-addressed by task
// id within a structured path").
func (w *Writer) artifactPath(taskID string) string {
	sum := sha256.Sum256([]byte(taskID))
	shard := hex.EncodeToString(sum[:1])
	return filepath.Join(w.root, shard, taskID+".json")
}

func canonicalJSON(a *Artifact) ([]byte, error) {
	buf, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var compact bytes.Buffer
	if err := json.Indent(&compact, buf, "", "  "); err != nil {
		return nil, err
	}
	return compact.Bytes(), nil
}

// Record writes the artifact for a terminal task. Returns (written=false, nil)
// if an identical artifact already exists (idempotent no-op per I4), and
// ErrContentMismatch if a differently-contented artifact already exists for
// this task id. Failures here must never block the Execution Supervisor
// (spec §4.4, §7): callers should log and continue, not abort the state
// transition that triggered the write.
func (w *Writer) Record(ctx context.Context, a *Artifact) (written bool, err error) {
	if a.Timestamp.IsZero() {
		a.Timestamp = w.clock()
	}
	payload, err := canonicalJSON(a)
	if err != nil {
		return false, fmt.Errorf("marshal artifact: %w", err)
	}
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])
	path := w.artifactPath(a.TaskID)

	w.mu.Lock()
	defer w.mu.Unlock()

	existing, readErr := os.ReadFile(path)
	if readErr == nil {
		if bytes.Equal(existing, payload) {
			return false, nil
		}
		return false, &ErrContentMismatch{TaskID: a.TaskID}
	}
	if !os.IsNotExist(readErr) {
		return false, fmt.Errorf("stat existing artifact: %w", readErr)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create shard dir: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return false, fmt.Errorf("write artifact: %w", err)
	}
	if err := w.appendCommitLine(a.TaskID, a.Status, a.Timestamp, hash); err != nil {
		w.logger.Warn("commit log append failed", map[string]interface{}{
			"task_id": a.TaskID, "error": err.Error(),
		})
	}
	return true, nil
}

// appendCommitLine writes the human-readable commit message spec §4.4
// specifies, one line per artifact, to <root>/COMMITLOG.
func (w *Writer) appendCommitLine(taskID string, status interface{}, ts time.Time, hash string) error {
	f, err := os.OpenFile(filepath.Join(w.root, "COMMITLOG"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line := fmt.Sprintf("audit: %s %v at %s (%s)\n", taskID, status, ts.UTC().Format(time.RFC3339), hash)
	_, err = f.WriteString(line)
	return err
}

// Get reads back a previously-recorded artifact by task id.
func (w *Writer) Get(taskID string) (*Artifact, error) {
	path := w.artifactPath(taskID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
