package models

import "time"

// Blob 内联二进制数据
type Blob struct {
	MimeType string
	Data     []byte
}

// Part 发往上游的一个片段，Text 与 Blob 二选一
type Part struct {
	Text string
	Blob *Blob
}

func TextPart(text string) Part {
	return Part{Text: text}
}

func BlobPart(mimeType string, data []byte) Part {
	return Part{Blob: &Blob{MimeType: mimeType, Data: data}}
}

func (p Part) IsBlob() bool { return p.Blob != nil }

// Payload 有序的 parts：指令 -> 历史 -> 当前问题 -> 附件
type Payload []Part

// Texts 返回所有文本片段（按顺序）
func (p Payload) Texts() []string {
	texts := make([]string, 0, len(p))
	for _, part := range p {
		if !part.IsBlob() {
			texts = append(texts, part.Text)
		}
	}
	return texts
}

// AttemptRecord 对单个候选模型的一次调用
type AttemptRecord struct {
	Model    string
	Err      error
	Duration time.Duration
}

func (a AttemptRecord) OK() bool { return a.Err == nil }

// UpstreamOutcome 回退链的最终结果
// 成功时 Model 为成功的模型；失败时 Model 为最后尝试的模型，Err 为最后一个错误
type UpstreamOutcome struct {
	Reply    string
	Model    string
	Err      error
	Attempts []AttemptRecord
}

func (o UpstreamOutcome) OK() bool { return o.Err == nil }
