package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"FundPrep/internal/cache/lru"
	"FundPrep/internal/model"
	"FundPrep/pkg/json"

	"github.com/sirupsen/logrus"
)

// 快照格式版本，结构变化时递增，旧快照直接丢弃
const formatVersion = 1

// Manager 把schema缓存落盘为JSON，下次启动时免去重新打开大文件
type Manager struct {
	cache *lru.Cache[*model.Schema]
	path  string
	mu    sync.Mutex
}

type snapshotFile struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Schemas []entry   `json:"schemas"`
}

type entry struct {
	Fingerprint string        `json:"fingerprint"`
	Schema      *model.Schema `json:"schema"`
	StoredAt    time.Time     `json:"stored_at"`
}

// Info 快照文件状态
type Info struct {
	Path    string    `json:"path"`
	Exists  bool      `json:"exists"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Cache   lru.Stats `json:"cache"`
}

// NewManager 创建快照管理器
func NewManager(cache *lru.Cache[*model.Schema], path string) *Manager {
	return &Manager{cache: cache, path: path}
}

// Save 写临时文件后重命名，避免半截快照
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	items := m.cache.Items()
	file := snapshotFile{
		Version: formatVersion,
		SavedAt: time.Now(),
		Schemas: make([]entry, 0, len(items)),
	}
	for _, item := range items {
		file.Schemas = append(file.Schemas, entry{
			Fingerprint: item.Key,
			Schema:      item.Value,
			StoredAt:    item.StoredAt,
		})
	}

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	logrus.Debugf("[Snapshot] saved %d schemas to %s", len(file.Schemas), m.path)
	return nil
}

// Load 恢复快照，返回恢复的条目数；文件不存在或版本不符时返回0
func (m *Manager) Load() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}

	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("decode snapshot %s: %w", m.path, err)
	}
	if file.Version != formatVersion {
		logrus.Infof("[Snapshot] discarding %s: version %d, want %d", m.path, file.Version, formatVersion)
		return 0, nil
	}

	// 从旧到新写回，保持LRU顺序
	n := 0
	for i := len(file.Schemas) - 1; i >= 0; i-- {
		e := file.Schemas[i]
		if e.Schema == nil || e.Fingerprint == "" {
			continue
		}
		m.cache.PutAt(e.Fingerprint, model.NewSchema(e.Schema.Table, e.Schema.Columns), e.StoredAt)
		n++
	}

	logrus.Debugf("[Snapshot] restored %d schemas from %s", n, m.path)
	return n, nil
}

// Info 快照文件与缓存的当前状态
func (m *Manager) Info() Info {
	info := Info{Path: m.path, Cache: m.cache.Stats()}
	if stat, err := os.Stat(m.path); err == nil {
		info.Exists = true
		info.Size = stat.Size()
		info.ModTime = stat.ModTime()
	}
	return info
}
