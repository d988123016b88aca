package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/perr"
)

// FilesystemProvider persists checkpoints as JSON files under a base
// directory, one subdirectory per agent plus a program-level file. Saves
// write to a temp file in the same directory and rename into place, so a
// crash mid-write never leaves a corrupt record visible to a loader (spec
// §5: "write-temp-then-rename for filesystem").
type FilesystemProvider struct {
	baseDir         string
	maxRecordBytes  int
}

// NewFilesystemProvider creates a provider rooted at baseDir. maxRecordBytes
// <= 0 means unlimited.
func NewFilesystemProvider(baseDir string, maxRecordBytes int) *FilesystemProvider {
	return &FilesystemProvider{baseDir: baseDir, maxRecordBytes: maxRecordBytes}
}

func (p *FilesystemProvider) agentDir(agentID ids.AgentID) string {
	return filepath.Join(p.baseDir, "agents", sanitize(agentID.String()))
}

func (p *FilesystemProvider) programFile() string {
	return filepath.Join(p.baseDir, "program.json")
}

func sanitize(s string) string {
	return strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(s)
}

// SaveCheckpoint writes one agent checkpoint record under a fresh,
// lexically-ordered filename (so ListCheckpoints' directory listing order
// is also chronological order).
func (p *FilesystemProvider) SaveCheckpoint(ctx context.Context, id string, record Record) error {
	dir := p.agentDir(record.AgentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return perr.New(perr.KindFatal, "checkpoint", "SaveCheckpoint", "mkdir failed", err)
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return perr.New(perr.KindFatal, "checkpoint", "SaveCheckpoint", "marshal failed", err)
	}
	if p.maxRecordBytes > 0 && len(data) > p.maxRecordBytes {
		return perr.New(perr.KindCheckpointTooLarge, "checkpoint", "SaveCheckpoint",
			fmt.Sprintf("record is %d bytes, limit is %d", len(data), p.maxRecordBytes), nil)
	}

	name := fmt.Sprintf("%020d-%s.json", record.CreatedAt.UnixNano(), id)
	return writeAtomic(filepath.Join(dir, name), data)
}

// LoadCheckpoint reads a single checkpoint by id, scanning the agent
// directories for a matching filename suffix (the id is embedded in the
// filename written by SaveCheckpoint).
func (p *FilesystemProvider) LoadCheckpoint(ctx context.Context, id string) (Record, error) {
	agentsDir := filepath.Join(p.baseDir, "agents")
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		return Record{}, perr.New(perr.KindRecoveryFailed, "checkpoint", "LoadCheckpoint", "no checkpoints on disk", err)
	}
	suffix := "-" + id + ".json"
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(agentsDir, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if strings.HasSuffix(f.Name(), suffix) {
				return p.readRecord(filepath.Join(dir, f.Name()))
			}
		}
	}
	return Record{}, perr.New(perr.KindRecoveryFailed, "checkpoint", "LoadCheckpoint", "checkpoint not found: "+id, nil)
}

// ListCheckpoints returns this agent's checkpoint ids, oldest first.
func (p *FilesystemProvider) ListCheckpoints(ctx context.Context, agentID ids.AgentID) ([]string, error) {
	dir := p.agentDir(agentID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, perr.New(perr.KindRecoveryFailed, "checkpoint", "ListCheckpoints", "read dir failed", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	ids := make([]string, 0, len(names))
	for _, n := range names {
		ids = append(ids, idFromFilename(n))
	}
	return ids, nil
}

// LatestCheckpoint returns the most recent checkpoint id for agentID, if
// any exist (spec §4.11 resume: "for each agent use the latest agent
// checkpoint found on disk").
func (p *FilesystemProvider) LatestCheckpoint(ctx context.Context, agentID ids.AgentID) (string, bool, error) {
	ids, err := p.ListCheckpoints(ctx, agentID)
	if err != nil {
		return "", false, err
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[len(ids)-1], true, nil
}

// DeleteOld removes all but the keepLastN most recent checkpoints for
// agentID (spec §4.11 Retention).
func (p *FilesystemProvider) DeleteOld(ctx context.Context, agentID ids.AgentID, keepLastN int) error {
	dir := p.agentDir(agentID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return perr.New(perr.KindFatal, "checkpoint", "DeleteOld", "read dir failed", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if keepLastN < 0 {
		keepLastN = 0
	}
	cut := len(names) - keepLastN
	for i := 0; i < cut; i++ {
		_ = os.Remove(filepath.Join(dir, names[i]))
	}
	return nil
}

// SaveProgramCheckpoint persists the coordinator's checkpoint record.
func (p *FilesystemProvider) SaveProgramCheckpoint(ctx context.Context, record ProgramRecord) error {
	if err := os.MkdirAll(p.baseDir, 0o755); err != nil {
		return perr.New(perr.KindFatal, "checkpoint", "SaveProgramCheckpoint", "mkdir failed", err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return perr.New(perr.KindFatal, "checkpoint", "SaveProgramCheckpoint", "marshal failed", err)
	}
	return writeAtomic(p.programFile(), data)
}

// LoadProgramCheckpoint reads the coordinator's last saved checkpoint.
func (p *FilesystemProvider) LoadProgramCheckpoint(ctx context.Context) (ProgramRecord, error) {
	data, err := os.ReadFile(p.programFile())
	if err != nil {
		return ProgramRecord{}, perr.New(perr.KindRecoveryFailed, "checkpoint", "LoadProgramCheckpoint", "read failed", err)
	}
	var rec ProgramRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ProgramRecord{}, perr.New(perr.KindRecoveryFailed, "checkpoint", "LoadProgramCheckpoint", "unmarshal failed", err)
	}
	return rec, nil
}

func (p *FilesystemProvider) readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, perr.New(perr.KindRecoveryFailed, "checkpoint", "readRecord", "read failed", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, perr.New(perr.KindRecoveryFailed, "checkpoint", "readRecord", "unmarshal failed", err)
	}
	return rec, nil
}

// idFromFilename extracts the checkpoint id from a
// "<unixnano>-<id>.json" filename.
func idFromFilename(name string) string {
	name = strings.TrimSuffix(name, ".json")
	if i := strings.Index(name, "-"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// writeAtomic writes data to a temp file beside path, then renames it
// into place — the filesystem atomicity guarantee spec §5 requires of a
// checkpoint provider.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return perr.New(perr.KindFatal, "checkpoint", "writeAtomic", "create temp failed", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return perr.New(perr.KindFatal, "checkpoint", "writeAtomic", "write failed", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return perr.New(perr.KindFatal, "checkpoint", "writeAtomic", "close failed", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return perr.New(perr.KindFatal, "checkpoint", "writeAtomic", "rename failed", err)
	}
	return nil
}

// NewCheckpointID generates a fresh, unguessable checkpoint id.
func NewCheckpointID() string { return uuid.NewString() }
