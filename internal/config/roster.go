package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"arena/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// AgentSpec 描述参赛 agent：标识、决策端点与外部给出的推理评分。
type AgentSpec struct {
	ID             string  `mapstructure:"id"`
	Endpoint       string  `mapstructure:"endpoint"`
	ReasoningScore float64 `mapstructure:"reasoning_score"`
	Disabled       bool    `mapstructure:"disabled"`
}

type rosterFile struct {
	Agents []AgentSpec `mapstructure:"agents"`
}

// RosterSnapshot 对外暴露的只读快照，agent 按 ID 升序。
type RosterSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Agents   []AgentSpec
}

// RosterListener 在名单变更时被调用。
type RosterListener func(RosterSnapshot)

// RosterLoader 从 YAML 加载参赛名单并监听热更新。
type RosterLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  RosterSnapshot
	listeners []RosterListener
}

// NewRosterLoader 读取名单文件并开始监听 FS 事件。
func NewRosterLoader(path string) (*RosterLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("roster loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read roster failed: %w", err)
	}
	loader := &RosterLoader{path: path, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("roster reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot 返回当前名单快照（深拷贝）。
func (l *RosterLoader) Snapshot() RosterSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneRoster(l.snapshot)
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *RosterLoader) Subscribe(fn RosterListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneRoster(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("roster listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (l *RosterLoader) notify() {
	l.mu.RLock()
	snap := cloneRoster(l.snapshot)
	listeners := append([]RosterListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb RosterListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("roster listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *RosterLoader) reload() error {
	var file rosterFile
	if err := l.v.Unmarshal(&file); err != nil {
		return fmt.Errorf("parse roster failed: %w", err)
	}
	agents, err := NormalizeAgents(file.Agents)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = RosterSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Agents:   agents,
	}
	l.mu.Unlock()
	logger.Infof("roster reloaded %d agents from %s", len(agents), filepath.Base(l.path))
	return nil
}

// NormalizeAgents 去重、排序并校验名单；空名单是致命错误。
func NormalizeAgents(in []AgentSpec) ([]AgentSpec, error) {
	seen := make(map[string]bool, len(in))
	out := make([]AgentSpec, 0, len(in))
	for _, spec := range in {
		spec.ID = strings.TrimSpace(spec.ID)
		spec.Endpoint = strings.TrimSpace(spec.Endpoint)
		if spec.ID == "" {
			return nil, fmt.Errorf("roster contains agent without id")
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("roster contains duplicate agent id: %s", spec.ID)
		}
		seen[spec.ID] = true
		if spec.Disabled {
			continue
		}
		if spec.ReasoningScore < 0 || spec.ReasoningScore > 1 {
			return nil, fmt.Errorf("agent %s reasoning_score must be in [0, 1]", spec.ID)
		}
		out = append(out, spec)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("roster requires at least one enabled agent")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneRoster(src RosterSnapshot) RosterSnapshot {
	dst := RosterSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Agents:   make([]AgentSpec, len(src.Agents)),
	}
	copy(dst.Agents, src.Agents)
	return dst
}
