// internal/api/handlers_test.go
package api

import (
	"testing"

	"github.com/publo/canvas-orchestrator/internal/config"
)

func TestToServiceRequestAppliesDeepReasoningDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LOG_DIR", dir)
	t.Setenv("USE_DEEP_REASONING", "true")
	if err := config.InitConfig(dir); err != nil {
		t.Fatalf("初始化配置失败: %v", err)
	}

	// 请求未显式要求深度推理，配置默认生效
	req := &OrchestrateAPIRequest{CanvasID: "c1", Message: "hello", OrchestratorID: "orch"}
	if !req.toServiceRequest().UseDeepReasoning {
		t.Error("配置默认开启深度推理时，服务请求应携带该标记")
	}
}

func TestToServiceRequestFlagOverridesConfigOff(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LOG_DIR", dir)
	t.Setenv("USE_DEEP_REASONING", "false")
	if err := config.InitConfig(dir); err != nil {
		t.Fatalf("初始化配置失败: %v", err)
	}

	off := &OrchestrateAPIRequest{CanvasID: "c1", Message: "hello", OrchestratorID: "orch"}
	if off.toServiceRequest().UseDeepReasoning {
		t.Error("配置关闭且请求未要求时不应走深度推理")
	}

	on := &OrchestrateAPIRequest{CanvasID: "c1", Message: "hello", OrchestratorID: "orch", UseDeepReasoning: true}
	if !on.toServiceRequest().UseDeepReasoning {
		t.Error("请求显式要求深度推理时应生效")
	}
}
