package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/ornolab/foreman/task"
)

// MemoryStore keeps checkpoints in memory. Used in tests and for ephemeral
// schedulers.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[task.ID][]Checkpoint
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[task.ID][]Checkpoint)}
}

func (s *MemoryStore) Append(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[cp.TaskID]
	if len(chain) > 0 && cp.Seq <= chain[len(chain)-1].Seq {
		return fmt.Errorf("sequence %d not increasing for task '%s'", cp.Seq, cp.TaskID)
	}
	s.chains[cp.TaskID] = append(chain, cp)
	return nil
}

func (s *MemoryStore) List(id task.ID) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[id]
	out := make([]Checkpoint, len(chain))
	copy(out, chain)
	return out, nil
}

func (s *MemoryStore) Delete(id task.ID, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[id]
	for i, cp := range chain {
		if cp.Seq == seq {
			s.chains[id] = append(chain[:i:i], chain[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("checkpoint %d not found for task '%s'", seq, id)
}

// FileStore writes one zstd-compressed file per checkpoint under
// <root>/<task-id>/<seq>-<kind>.ckpt.zst. Payloads of multi-day simulations
// compress well, and the directory listing alone reproduces the chain order.
type FileStore struct {
	mu   sync.Mutex
	root string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint root: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Append(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := path.Join(s.root, cp.TaskID.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	buf, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	file, err := os.OpenFile(path.Join(dir, fileName(cp.Seq, cp.Kind)), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}
	defer file.Close()

	writer, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := writer.Write(buf); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return writer.Close()
}

func (s *FileStore) List(id task.ID) ([]Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := path.Join(s.root, id.String())
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}

	var chain []Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ckpt.zst") {
			continue
		}
		if _, ok := ParseSeq(entry.Name()); !ok {
			// Foreign file in the checkpoint directory.
			continue
		}
		cp, err := readCheckpointFile(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		chain = append(chain, cp)
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].Seq < chain[j].Seq })
	return chain, nil
}

func (s *FileStore) Delete(id task.ID, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := path.Join(s.root, id.String())
	for _, kind := range []Kind{KindFull, KindIncremental} {
		name := path.Join(dir, fileName(seq, kind))
		if err := os.Remove(name); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("remove checkpoint file: %w", err)
		}
	}
	return fmt.Errorf("checkpoint %d not found for task '%s'", seq, id)
}

func fileName(seq uint64, kind Kind) string {
	return fmt.Sprintf("%016d-%s.ckpt.zst", seq, kind)
}

func readCheckpointFile(name string) (Checkpoint, error) {
	file, err := os.Open(name)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("open checkpoint file: %w", err)
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("create zstd reader: %w", err)
	}
	defer reader.Close()

	var cp Checkpoint
	if err := json.NewDecoder(reader).Decode(&cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint '%s': %w", path.Base(name), err)
	}
	return cp, nil
}

// ParseSeq extracts the sequence number from a checkpoint file name. Listing
// uses it to separate checkpoint files from anything else in the directory.
func ParseSeq(name string) (uint64, bool) {
	base := path.Base(name)
	idx := strings.IndexByte(base, '-')
	if idx < 0 {
		return 0, false
	}
	seq, err := strconv.ParseUint(base[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
