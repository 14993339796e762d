package core

import "gemini-relay/models"

// DefaultInstruction 默认系统指令：要求用日语详细回答
const DefaultInstruction = "詳細に日本語で回答してください。"

// ContextAssembler 构建发往上游的 payload
// 纯函数，没有隐藏状态；历史记录原样按顺序回放，不截断
type ContextAssembler struct {
	instruction    string
	questionPrefix string
}

func NewContextAssembler(instruction, questionPrefix string) *ContextAssembler {
	if instruction == "" {
		instruction = DefaultInstruction
	}
	return &ContextAssembler{
		instruction:    instruction,
		questionPrefix: questionPrefix,
	}
}

// Build 顺序固定：指令 -> 历史（旧到新）-> 当前问题 -> 附件
func (a *ContextAssembler) Build(req models.ChatTurnRequest) models.Payload {
	payload := make(models.Payload, 0, len(req.History)+3)
	payload = append(payload, models.TextPart(a.instruction))

	for _, turn := range req.History {
		payload = append(payload, models.TextPart(turn.Role+": "+turn.Text))
	}

	if req.Message != "" {
		payload = append(payload, models.TextPart(a.questionPrefix+req.Message))
	}

	if req.Attachment != nil {
		payload = append(payload, models.BlobPart(req.Attachment.MimeType, req.Attachment.Data))
	}

	return payload
}

func (a *ContextAssembler) Instruction() string { return a.instruction }
