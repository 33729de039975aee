package factory

import (
	"testing"

	"tradepipe/internal/pipeline/steps"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_Build(t *testing.T) {
	f := New(steps.Collaborators{})

	t.Run("未知类型报错", func(t *testing.T) {
		_, err := f.Build(StepSpec{Type: "moon_phase", Enabled: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown step type")
	})

	t.Run("缺 type 报错", func(t *testing.T) {
		_, err := f.Build(StepSpec{Enabled: true})
		require.Error(t, err)
	})

	t.Run("execution 缺必填参数被 schema 拦截", func(t *testing.T) {
		_, err := f.Build(StepSpec{Type: "execution", Enabled: true, Params: map[string]any{
			"buy_threshold": 1.0,
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "参数校验失败")
	})

	t.Run("未知参数键被 schema 拦截", func(t *testing.T) {
		_, err := f.Build(StepSpec{Type: "ma_cross", Enabled: true, Params: map[string]any{
			"fsat": 7,
		}})
		require.Error(t, err)
	})

	t.Run("合法步骤装配成功", func(t *testing.T) {
		step, err := f.Build(StepSpec{Type: "ma_cross", Enabled: true, Params: map[string]any{
			"fast":   7,
			"slow":   25,
			"weight": 1.0,
		}})
		require.NoError(t, err)
		assert.Equal(t, steps.KeyMACross, step.Key())
	})
}

func TestFactory_BuildAll(t *testing.T) {
	f := New(steps.Collaborators{})

	t.Run("跳过禁用步骤", func(t *testing.T) {
		built, err := f.BuildAll([]StepSpec{
			{Type: "check_position", Enabled: true},
			{Type: "ma_cross", Enabled: false},
			{Type: "position_gate", Enabled: true},
		})
		require.NoError(t, err)
		require.Len(t, built, 2)
		assert.Equal(t, steps.KeyCheckPosition, built[0].Key())
		assert.Equal(t, steps.KeyPositionGate, built[1].Key())
	})

	t.Run("聚合多条失败", func(t *testing.T) {
		_, err := f.BuildAll([]StepSpec{
			{Type: "nope", Enabled: true},
			{Type: "check_position", Enabled: true},
			{Type: "execution", Enabled: true},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "步骤 #0")
		assert.Contains(t, err.Error(), "步骤 #2")
	})
}
