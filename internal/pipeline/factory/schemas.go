package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 每种步骤类型的参数 schema；装配前校验，拦截脏配置。
var paramSchemaSources = map[string]string{
	"check_position": `{"type":"object","additionalProperties":false}`,
	"position_gate":  `{"type":"object","additionalProperties":false}`,
	"execution": `{
		"type": "object",
		"required": ["buy_threshold", "sell_threshold", "trade_amount"],
		"properties": {
			"buy_threshold":  {"type": "number"},
			"sell_threshold": {"type": "number"},
			"trade_amount":   {"type": "number", "exclusiveMinimum": 0}
		},
		"additionalProperties": false
	}`,
	"ma_cross": `{
		"type": "object",
		"properties": {
			"interval": {"type": "string"},
			"fast":     {"type": "integer", "minimum": 1},
			"slow":     {"type": "integer", "minimum": 2},
			"weight":   {"type": "number", "exclusiveMinimum": 0}
		},
		"additionalProperties": false
	}`,
	"macd_trend": `{
		"type": "object",
		"properties": {
			"interval": {"type": "string"},
			"fast":     {"type": "integer", "minimum": 1},
			"slow":     {"type": "integer", "minimum": 2},
			"signal":   {"type": "integer", "minimum": 1},
			"weight":   {"type": "number", "exclusiveMinimum": 0}
		},
		"additionalProperties": false
	}`,
	"vwap_bias": `{
		"type": "object",
		"properties": {
			"interval": {"type": "string"},
			"lookback": {"type": "integer", "minimum": 1},
			"weight":   {"type": "number", "exclusiveMinimum": 0}
		},
		"additionalProperties": false
	}`,
}

var paramSchemas = func() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(paramSchemaSources))
	for name, src := range paramSchemaSources {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name+".json", strings.NewReader(src)); err != nil {
			panic(fmt.Sprintf("step schema %s: %v", name, err))
		}
		schema, err := compiler.Compile(name + ".json")
		if err != nil {
			panic(fmt.Sprintf("step schema %s: %v", name, err))
		}
		out[name] = schema
	}
	return out
}()

func validateParams(stepType string, params map[string]any) error {
	schema, ok := paramSchemas[stepType]
	if !ok {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	// yaml 解出的数值类型不一，过一遍 JSON 归一化后再校验。
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("参数序列化失败: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("参数解析失败: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("参数校验失败: %w", err)
	}
	return nil
}
