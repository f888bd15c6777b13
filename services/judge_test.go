package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testCandidate() DraftCandidate {
	return DraftCandidate{Topic: "ai", Title: "On AI", Content: "A body of text."}
}

func TestEvaluateParsesCleanJSON(t *testing.T) {
	client := &fakeLLM{responses: []string{
		`{"overall_score": 82, "subscores": {"usefulness": 85, "factuality": 80, "relevance": 84, "tone": 81, "style": 79}, "feedback": "solid draft"}`,
	}}
	judge := NewLLMJudge(client, zap.NewNop())

	eval, err := judge.Evaluate(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, 82, eval.Score)
	assert.Equal(t, 79.0, eval.Subscores[CriterionStyle])
	assert.Equal(t, "solid draft", eval.Feedback)
}

func TestEvaluateStripsMarkdownFences(t *testing.T) {
	client := &fakeLLM{responses: []string{
		"```json\n{\"overall_score\": 64, \"subscores\": {\"style\": 50}, \"feedback\": \"weak style\"}\n```",
	}}
	judge := NewLLMJudge(client, zap.NewNop())

	eval, err := judge.Evaluate(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, 64, eval.Score)
}

func TestEvaluateRepairsBrokenJSON(t *testing.T) {
	// Trailing comma, wie sie LLMs gerne produzieren.
	client := &fakeLLM{responses: []string{
		`{"overall_score": 71, "subscores": {"tone": 70,}, "feedback": "ok",}`,
	}}
	judge := NewLLMJudge(client, zap.NewNop())

	eval, err := judge.Evaluate(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, 71, eval.Score)
}

func TestEvaluateRoundsFractionalScore(t *testing.T) {
	client := &fakeLLM{responses: []string{`{"overall_score": 69.6, "feedback": ""}`}}
	judge := NewLLMJudge(client, zap.NewNop())

	eval, err := judge.Evaluate(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, 70, eval.Score)
}

func TestEvaluateClampsOutOfRangeScore(t *testing.T) {
	client := &fakeLLM{responses: []string{`{"overall_score": 140, "feedback": ""}`}}
	judge := NewLLMJudge(client, zap.NewNop())

	eval, err := judge.Evaluate(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, 100, eval.Score)
}

func TestEvaluateUnparseableOutputFails(t *testing.T) {
	client := &fakeLLM{responses: []string{"I think the article deserves a solid B+."}}
	judge := NewLLMJudge(client, zap.NewNop())

	_, err := judge.Evaluate(context.Background(), testCandidate())
	assert.ErrorIs(t, err, ErrJudgeFailed)
}

func TestEvaluateLLMErrorFails(t *testing.T) {
	client := &fakeLLM{errs: []error{errors.New("timeout")}}
	judge := NewLLMJudge(client, zap.NewNop())

	_, err := judge.Evaluate(context.Background(), testCandidate())
	assert.ErrorIs(t, err, ErrJudgeFailed)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, ClampScore(-5))
	assert.Equal(t, 0, ClampScore(0))
	assert.Equal(t, 55, ClampScore(55))
	assert.Equal(t, 100, ClampScore(100))
	assert.Equal(t, 100, ClampScore(250))
}

func TestImprovementHintsListsWeakSubscores(t *testing.T) {
	eval := QualityEvaluation{
		Score: 55,
		Subscores: map[string]float64{
			CriterionStyle:      50,
			CriterionFactuality: 60,
			CriterionTone:       90,
		},
		Feedback: "needs concrete examples",
	}

	hints := eval.ImprovementHints()
	assert.Contains(t, hints, "factuality")
	assert.Contains(t, hints, "style")
	assert.NotContains(t, hints, "tone")
	assert.Contains(t, hints, "needs concrete examples")
}

func TestImprovementHintsEmptyEvaluation(t *testing.T) {
	assert.Empty(t, QualityEvaluation{}.ImprovementHints())
}

func TestErrorCodeMapping(t *testing.T) {
	assert.Equal(t, "invalid_request", ErrorCode(ErrInvalidRequest))
	assert.Equal(t, "source_unavailable", ErrorCode(ErrSourceUnavailable))
	assert.Equal(t, "draft_failed", ErrorCode(ErrDraftFailed))
	assert.Equal(t, "judge_failed", ErrorCode(ErrJudgeFailed))
	assert.Equal(t, "generation_failed", ErrorCode(ErrGenerationFailed))
	assert.Equal(t, "internal_error", ErrorCode(errors.New("boom")))
	assert.Empty(t, ErrorCode(nil))
}
