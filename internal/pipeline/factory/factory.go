package factory

import (
	"fmt"
	"strconv"
	"strings"

	"tradepipe/internal/logger"
	"tradepipe/internal/pipeline"
	"tradepipe/internal/pipeline/steps"
)

// StepSpec 是一条已配置步骤的原始描述（来自 pipelines.yaml 或数据库行）。
type StepSpec struct {
	Type    string         `yaml:"type" json:"type"`
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Params  map[string]any `yaml:"params" json:"params"`
}

// Factory 按类型键装配可执行步骤。协作者在构造时注入，
// 回测用自己的实现替换即可，步骤类型键保持不变。
type Factory struct {
	deps steps.Collaborators
}

func New(deps steps.Collaborators) *Factory {
	return &Factory{deps: deps}
}

// Build 校验参数并实例化单个步骤；未知类型与非法参数都是错误。
func (f *Factory) Build(spec StepSpec) (pipeline.Step, error) {
	name := strings.TrimSpace(spec.Type)
	if name == "" {
		return nil, fmt.Errorf("步骤缺少 type")
	}
	if err := validateParams(name, spec.Params); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	switch name {
	case steps.KeyCheckPosition:
		return steps.NewCheckPosition(f.deps.Positions), nil
	case steps.KeyPositionGate:
		return steps.NewPositionGate(f.deps.Positions), nil
	case steps.KeyExecution:
		return steps.NewExecution(steps.ExecutionConfig{
			BuyThreshold:  floatFromCfg(spec.Params, "buy_threshold"),
			SellThreshold: floatFromCfg(spec.Params, "sell_threshold"),
			TradeAmount:   floatFromCfg(spec.Params, "trade_amount"),
		}, f.deps.Executor), nil
	case steps.KeyMACross:
		return steps.NewMACross(steps.MACrossConfig{
			Interval: stringFromCfg(spec.Params, "interval"),
			Fast:     intFromCfg(spec.Params, "fast"),
			Slow:     intFromCfg(spec.Params, "slow"),
			Weight:   floatFromCfg(spec.Params, "weight"),
		}, f.deps.Candles), nil
	case steps.KeyMACDTrend:
		return steps.NewMACDTrend(steps.MACDTrendConfig{
			Interval: stringFromCfg(spec.Params, "interval"),
			Fast:     intFromCfg(spec.Params, "fast"),
			Slow:     intFromCfg(spec.Params, "slow"),
			Signal:   intFromCfg(spec.Params, "signal"),
			Weight:   floatFromCfg(spec.Params, "weight"),
		}, f.deps.Candles), nil
	case steps.KeyVWAPBias:
		return steps.NewVWAPBias(steps.VWAPBiasConfig{
			Interval: stringFromCfg(spec.Params, "interval"),
			Lookback: intFromCfg(spec.Params, "lookback"),
			Weight:   floatFromCfg(spec.Params, "weight"),
		}, f.deps.Candles), nil
	default:
		return nil, fmt.Errorf("unknown step type: %s", name)
	}
}

// BuildAll 按声明顺序装配全部启用的步骤，失败项的错误聚合返回。
func (f *Factory) BuildAll(specs []StepSpec) ([]pipeline.Step, error) {
	var (
		built []pipeline.Step
		errs  []string
	)
	for i, spec := range specs {
		if !spec.Enabled {
			continue
		}
		step, err := f.Build(spec)
		if err != nil {
			errs = append(errs, fmt.Sprintf("步骤 #%d: %v", i, err))
			continue
		}
		built = append(built, step)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("步骤装配失败: %s", strings.Join(errs, "; "))
	}
	return built, nil
}

func stringFromCfg(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	raw, ok := params[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", raw))
}

func intFromCfg(params map[string]any, key string) int {
	if params == nil {
		return 0
	}
	raw, ok := params[key]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		val, err := strconv.Atoi(fmt.Sprintf("%v", v))
		if err != nil {
			logger.Warnf("step param %s invalid int: %v", key, err)
			return 0
		}
		return val
	}
}

func floatFromCfg(params map[string]any, key string) float64 {
	if params == nil {
		return 0
	}
	raw, ok := params[key]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		val, err := strconv.ParseFloat(fmt.Sprintf("%v", v), 64)
		if err != nil {
			logger.Warnf("step param %s invalid float: %v", key, err)
			return 0
		}
		return val
	}
}
