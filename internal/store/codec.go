package store

import (
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func encodeSteps(steps []schemas.AutomationStep) ([]byte, error) {
	if steps == nil {
		steps = []schemas.AutomationStep{}
	}
	return json.Marshal(steps)
}

// decodeSteps never fails: a stored step list that cannot be parsed reads as empty.
func decodeSteps(raw []byte, scriptID int64, logger *zap.Logger) []schemas.AutomationStep {
	steps := []schemas.AutomationStep{}
	if len(raw) == 0 {
		return steps
	}
	if err := json.Unmarshal(raw, &steps); err != nil || steps == nil {
		logger.Warn("Stored steps are malformed; treating script as empty.",
			zap.Int64("script_id", scriptID), zap.Error(err))
		return []schemas.AutomationStep{}
	}
	return steps
}

func encodeResult(result *schemas.ExecutionResult) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	return json.Marshal(result)
}

func decodeResult(raw []byte) (*schemas.ExecutionResult, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var result schemas.ExecutionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
