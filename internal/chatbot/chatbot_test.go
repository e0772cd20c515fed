package chatbot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat/internal/conversation"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/retriever"
)

type stubRetriever struct {
	results     []index.Result
	err         error
	lastQuery   string
	lastK       int
	lastHistory []conversation.Turn
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string, k int, history []conversation.Turn) ([]index.Result, error) {
	s.lastQuery = query
	s.lastK = k
	s.lastHistory = history
	return s.results, s.err
}

type stubGenerator struct {
	answer      string
	err         error
	lastContext string
	lastSystem  string
	calls       int
}

func (s *stubGenerator) Generate(ctx context.Context, system, docContext, question string, history []conversation.Turn) (string, error) {
	s.calls++
	s.lastSystem = system
	s.lastContext = docContext
	return s.answer, s.err
}

func oneResult() []index.Result {
	return []index.Result{result("d1", "policy.txt", "d1:0", "fifteen days of vacation", 0.9)}
}

func TestAsk_AnswerWithCitations(t *testing.T) {
	ret := &stubRetriever{results: oneResult()}
	gen := &stubGenerator{answer: "You get fifteen days."}
	bot := New(ret, gen, 3, 6000, 20, log.NewNop())

	answer, err := bot.Ask(context.Background(), "how many vacation days?")
	require.NoError(t, err)

	assert.Equal(t, "You get fifteen days.", answer.Text)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "policy.txt", answer.Citations[0].DocumentName)
	assert.Equal(t, 3, ret.lastK)
	assert.Contains(t, gen.lastContext, "fifteen days of vacation")
	assert.Contains(t, gen.lastSystem, "only the information in the provided documents")
}

func TestAsk_RecordsConversation(t *testing.T) {
	bot := New(&stubRetriever{results: oneResult()}, &stubGenerator{answer: "fifteen"}, 3, 6000, 20, log.NewNop())

	_, err := bot.Ask(context.Background(), "vacation days?")
	require.NoError(t, err)

	turns := bot.Conversation().History(0)
	require.Len(t, turns, 2)
	assert.Equal(t, conversation.RoleUser, turns[0].Role)
	assert.Equal(t, "vacation days?", turns[0].Text)
	assert.Equal(t, conversation.RoleAssistant, turns[1].Role)
	assert.Equal(t, []string{"d1:0"}, turns[1].ChunkIDs, "assistant turn carries cited chunks")
}

func TestAsk_HistoryPassedToRetriever(t *testing.T) {
	ret := &stubRetriever{results: oneResult()}
	bot := New(ret, &stubGenerator{answer: "a"}, 3, 6000, 20, log.NewNop())

	_, err := bot.Ask(context.Background(), "first question")
	require.NoError(t, err)
	_, err = bot.Ask(context.Background(), "follow-up")
	require.NoError(t, err)

	require.Len(t, ret.lastHistory, 2, "second ask sees the first exchange")
	assert.Equal(t, "first question", ret.lastHistory[0].Text)
}

func TestAsk_EmptyKnowledgeBase(t *testing.T) {
	ret := &stubRetriever{err: retriever.ErrEmptyKnowledgeBase}
	gen := &stubGenerator{}
	bot := New(ret, gen, 3, 6000, 20, log.NewNop())

	answer, err := bot.Ask(context.Background(), "anything?")
	require.NoError(t, err, "empty index is an answer, not an error")

	assert.Equal(t, noKnowledgeAnswer, answer.Text)
	assert.Empty(t, answer.Citations)
	assert.Zero(t, gen.calls, "no generation without context")
	assert.Equal(t, 2, bot.Conversation().Len(), "exchange still recorded")
}

func TestAsk_RetrievalFailure(t *testing.T) {
	retErr := errors.New("index corrupt")
	bot := New(&stubRetriever{err: retErr}, &stubGenerator{}, 3, 6000, 20, log.NewNop())

	_, err := bot.Ask(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, retErr)
	assert.Contains(t, err.Error(), "retrieving context")
	assert.Zero(t, bot.Conversation().Len(), "failed exchange is not recorded")
}

func TestAsk_GenerationFailure(t *testing.T) {
	bot := New(&stubRetriever{results: oneResult()}, &stubGenerator{err: ErrGenerationFailed}, 3, 6000, 20, log.NewNop())

	_, err := bot.Ask(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Contains(t, err.Error(), "generating answer")
}

func TestAsk_EmptyModelOutputFallsBack(t *testing.T) {
	bot := New(&stubRetriever{results: oneResult()}, &stubGenerator{answer: "   \n"}, 3, 6000, 20, log.NewNop())

	answer, err := bot.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, emptyAnswerFallback, answer.Text)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	bot := New(&stubRetriever{}, &stubGenerator{}, 3, 6000, 20, log.NewNop())

	_, err := bot.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestRetryableError(t *testing.T) {
	assert.True(t, retryableError(errors.New("HTTP 503 Service Unavailable")))
	assert.True(t, retryableError(errors.New("connection refused")))
	assert.True(t, retryableError(errors.New("Rate Limit exceeded")))
	assert.False(t, retryableError(errors.New("model not found")))
	assert.False(t, retryableError(nil))
}

func TestBuildMessages_Layout(t *testing.T) {
	history := []conversation.Turn{
		{Role: conversation.RoleUser, Text: "earlier question"},
		{Role: conversation.RoleAssistant, Text: "earlier answer"},
	}

	messages := buildMessages("[Document 1 - a.txt]:\nbody", "current question", history)
	require.Len(t, messages, 3)

	final := messages[2].Content[0].Text
	assert.True(t, strings.HasPrefix(final, "Documents:\n"), "context precedes the question")
	assert.Contains(t, final, "Question: current question")
}
