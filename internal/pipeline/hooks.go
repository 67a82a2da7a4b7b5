package pipeline

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
	"github.com/mihaisavezi/claude-code-bridge/internal/convert"
)

// Metadata keys written by the built-in hooks.
const (
	MetaSignatures        = "thought_signatures"
	MetaInboundSignatures = "inbound_signatures"
	MetaReasoning         = "reasoning"
	MetaReasoningDetails  = "reasoning_details"
	MetaChunks            = "chunks"
	MetaChunkBytes        = "chunk_bytes"

	metaSignatureOrdinal = "thought_signature_ordinal"
)

// Signatures moves Gemini thought signatures between tool ids and the
// request. Inbound ids of the form <id>_sig_<signature> are split back into the
// call; streamed signatures are recorded per ledger slot.
type Signatures struct{}

func (*Signatures) Name() string { return "signatures" }

func (*Signatures) BeforeRequest(rc *RequestContext) error {
	if rc.Request == nil {
		return nil
	}

	decoded := 0
	for i := range rc.Request.Messages {
		m := &rc.Request.Messages[i]
		for j := range m.ToolCalls {
			tc := &m.ToolCalls[j]
			base, sig := canonical.DecodeToolID(tc.ID)
			if sig == "" {
				continue
			}
			tc.ID = base
			if tc.Signature == "" {
				tc.Signature = sig
			}
			decoded++
		}
		if m.ToolCallID != "" {
			m.ToolCallID, _ = canonical.DecodeToolID(m.ToolCallID)
		}
		for k := range m.Content {
			if m.Content[k].ToolUseID != "" {
				m.Content[k].ToolUseID, _ = canonical.DecodeToolID(m.Content[k].ToolUseID)
			}
		}
	}
	rc.Metadata[MetaInboundSignatures] = decoded
	return nil
}

func (*Signatures) AfterStreamChunk(rc *RequestContext, chunk []byte) {
	if !gjson.ValidBytes(chunk) {
		return
	}
	root := gjson.ParseBytes(chunk)
	if root.IsArray() {
		root.ForEach(func(_, item gjson.Result) bool {
			recordSignatures(rc, item)
			return true
		})
		return
	}
	recordSignatures(rc, root)
}

func recordSignatures(rc *RequestContext, chunk gjson.Result) {
	chunk.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		call := part.Get("functionCall")
		if !call.Exists() {
			return true
		}
		ordinal, _ := rc.Metadata[metaSignatureOrdinal].(int)
		rc.Metadata[metaSignatureOrdinal] = ordinal + 1

		sig := part.Get("thoughtSignature").String()
		if sig == "" {
			return true
		}
		sigs, _ := rc.Metadata[MetaSignatures].(map[string]string)
		if sigs == nil {
			sigs = make(map[string]string)
			rc.Metadata[MetaSignatures] = sigs
		}
		sigs[convert.GeminiSlot(call.Get("id").String(), ordinal)] = sig
		return true
	})
}

// SignatureFor returns the signature recorded for a ledger slot.
func SignatureFor(rc *RequestContext, slot string) string {
	sigs, _ := rc.Metadata[MetaSignatures].(map[string]string)
	return sigs[slot]
}

// ReasoningDetails collects the reasoning side channel OpenRouter streams
// next to the content deltas.
type ReasoningDetails struct{}

func (*ReasoningDetails) Name() string { return "reasoning-details" }

func (*ReasoningDetails) BeforeRequest(*RequestContext) error { return nil }

func (*ReasoningDetails) AfterStreamChunk(rc *RequestContext, chunk []byte) {
	if !gjson.ValidBytes(chunk) {
		return
	}
	delta := gjson.GetBytes(chunk, "choices.0.delta")
	if !delta.Exists() {
		return
	}

	if r := delta.Get("reasoning"); r.Type == gjson.String && r.String() != "" {
		sb, _ := rc.Metadata[MetaReasoning].(*strings.Builder)
		if sb == nil {
			sb = &strings.Builder{}
			rc.Metadata[MetaReasoning] = sb
		}
		sb.WriteString(r.String())
	}

	delta.Get("reasoning_details").ForEach(func(_, item gjson.Result) bool {
		details, _ := rc.Metadata[MetaReasoningDetails].([]json.RawMessage)
		rc.Metadata[MetaReasoningDetails] = append(details, json.RawMessage(item.Raw))
		return true
	})
}

// Reasoning returns what ReasoningDetails collected.
func Reasoning(rc *RequestContext) (text string, details []json.RawMessage) {
	if sb, ok := rc.Metadata[MetaReasoning].(*strings.Builder); ok {
		text = sb.String()
	}
	details, _ = rc.Metadata[MetaReasoningDetails].([]json.RawMessage)
	return text, details
}

// ChunkLog counts raw chunks and, when verbose, logs each one.
type ChunkLog struct {
	Logger  *slog.Logger
	Verbose bool
}

func (*ChunkLog) Name() string { return "chunk-log" }

func (h *ChunkLog) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *ChunkLog) BeforeRequest(rc *RequestContext) error {
	rc.Metadata[MetaChunks] = 0
	rc.Metadata[MetaChunkBytes] = 0
	if h.Verbose && rc.Request != nil {
		h.logger().Debug("Dispatching request",
			"backend", rc.Backend,
			"model", rc.Model,
			"messages", len(rc.Request.Messages),
			"tools", len(rc.Request.Tools))
	}
	return nil
}

func (h *ChunkLog) AfterStreamChunk(rc *RequestContext, chunk []byte) {
	chunks, _ := rc.Metadata[MetaChunks].(int)
	size, _ := rc.Metadata[MetaChunkBytes].(int)
	rc.Metadata[MetaChunks] = chunks + 1
	rc.Metadata[MetaChunkBytes] = size + len(chunk)

	if h.Verbose {
		h.logger().Debug("Backend chunk", "backend", rc.Backend, "seq", chunks+1, "chunk", string(chunk))
	}
}

// ChunkStats returns the counters ChunkLog keeps.
func ChunkStats(rc *RequestContext) (chunks, size int) {
	chunks, _ = rc.Metadata[MetaChunks].(int)
	size, _ = rc.Metadata[MetaChunkBytes].(int)
	return chunks, size
}
