package pipelines

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tradepipe/internal/logger"
	"tradepipe/internal/market"
	"tradepipe/internal/pipeline/factory"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Definition 描述一条可执行的流水线：品种、节奏与步骤序列。
type Definition struct {
	ID              string             `mapstructure:"id" yaml:"id" json:"id"`
	Name            string             `mapstructure:"name" yaml:"name" json:"name"`
	Instrument      string             `mapstructure:"instrument" yaml:"instrument" json:"instrument"`
	MarketType      market.MarketType  `mapstructure:"market_type" yaml:"market_type" json:"market_type"`
	IntervalMinutes int                `mapstructure:"interval_minutes" yaml:"interval_minutes" json:"interval_minutes"`
	Enabled         bool               `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Steps           []factory.StepSpec `mapstructure:"steps" yaml:"steps" json:"steps"`
}

// FileConfig 映射 pipelines 配置文件的顶层结构。
type FileConfig struct {
	Pipelines []Definition `mapstructure:"pipelines" yaml:"pipelines"`
}

// Snapshot 是某一时刻登记表的只读快照。
type Snapshot struct {
	Version     int64
	LoadedAt    time.Time
	Definitions map[string]Definition
}

// ChangeListener 在登记表重载后触发。
type ChangeListener func(Snapshot)

// Registry 管理流水线定义：启动时读取 YAML，
// 文件变更时热重载并通知监听者。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取配置文件并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("pipeline registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read pipelines config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("pipelines reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前定义集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Get 返回指定 ID 的流水线定义。
func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.snapshot.Definitions[strings.TrimSpace(id)]
	return def, ok
}

// List 返回全部定义，按 ID 稳定排序。
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.snapshot.Definitions))
	for _, def := range r.snapshot.Definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Enabled 返回所有启用的定义，供实盘调度器使用。
func (r *Registry) Enabled() []Definition {
	all := r.List()
	out := all[:0]
	for _, def := range all {
		if def.Enabled {
			out = append(out, def)
		}
	}
	return out
}

// OnChange 注册重载监听。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	var cfg FileConfig
	if err := r.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read pipelines config failed: %w", err)
	}
	if err := r.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("parse pipelines config failed: %w", err)
	}
	defs := make(map[string]Definition, len(cfg.Pipelines))
	for i, def := range cfg.Pipelines {
		norm, err := normalizeDefinition(def)
		if err != nil {
			return fmt.Errorf("pipelines[%d]: %w", i, err)
		}
		if _, dup := defs[norm.ID]; dup {
			return fmt.Errorf("pipelines[%d]: 重复的流水线 ID %q", i, norm.ID)
		}
		defs[norm.ID] = norm
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:     r.snapshot.Version + 1,
		LoadedAt:    time.Now(),
		Definitions: defs,
	}
	r.mu.Unlock()
	logger.Infof("流水线登记表已加载 %d 条定义（%s）", len(defs), r.path)
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func normalizeDefinition(def Definition) (Definition, error) {
	def.ID = strings.TrimSpace(def.ID)
	if def.ID == "" {
		return def, fmt.Errorf("缺少 id")
	}
	if def.Name == "" {
		def.Name = def.ID
	}
	def.Instrument = market.NormalizeSymbol(def.Instrument)
	if def.Instrument == "" {
		return def, fmt.Errorf("缺少 instrument")
	}
	if def.MarketType == "" {
		def.MarketType = market.MarketSpot
	}
	if _, err := market.ParseMarketType(string(def.MarketType)); err != nil {
		return def, err
	}
	if def.IntervalMinutes <= 0 {
		def.IntervalMinutes = 5
	}
	if len(def.Steps) == 0 {
		return def, fmt.Errorf("流水线 %s 未配置任何步骤", def.ID)
	}
	return def, nil
}

func cloneSnapshot(s Snapshot) Snapshot {
	defs := make(map[string]Definition, len(s.Definitions))
	for k, v := range s.Definitions {
		defs[k] = v
	}
	return Snapshot{Version: s.Version, LoadedAt: s.LoadedAt, Definitions: defs}
}
