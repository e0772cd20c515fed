// Package chatbot orchestrates question answering over the knowledge
// base: retrieve relevant chunks, assemble them into a bounded context
// with citations, generate a grounded answer, and record the exchange in
// the conversation.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docchat/docchat/internal/conversation"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/retriever"
)

// ErrEmptyQuestion indicates the caller asked nothing.
var ErrEmptyQuestion = errors.New("question is empty")

// systemPrompt keeps the model on the documents. Answering outside of
// them defeats the point of retrieval.
const systemPrompt = `You are a documentation assistant. Answer the user's question using only the information in the provided documents. If the documents do not contain the answer, say so plainly instead of guessing. Be concise and factual.`

// noKnowledgeAnswer is returned when the index holds no documents at all.
const noKnowledgeAnswer = "I don't have any indexed documents to answer from yet. Run the index command to add some."

// emptyAnswerFallback is returned when the model produced no text.
const emptyAnswerFallback = "I couldn't produce an answer from the indexed documents for that question."

// Retriever supplies ranked chunks for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, history []conversation.Turn) ([]index.Result, error)
}

// Generator produces an answer from the assembled context.
type Generator interface {
	Generate(ctx context.Context, system, docContext, question string, history []conversation.Turn) (string, error)
}

// Answer is a generated response with the sources it drew on.
type Answer struct {
	Text      string
	Citations []Citation
}

// Chatbot answers questions over the indexed knowledge base.
type Chatbot struct {
	retriever       Retriever
	generator       Generator
	conv            *conversation.Conversation
	topK            int
	maxContextChars int
	logger          *slog.Logger
}

// New creates a Chatbot with a fresh conversation.
func New(ret Retriever, gen Generator, topK, maxContextChars, maxHistoryTurns int, logger *slog.Logger) *Chatbot {
	if logger == nil {
		logger = slog.Default()
	}

	return &Chatbot{
		retriever:       ret,
		generator:       gen,
		conv:            conversation.New(maxHistoryTurns),
		topK:            topK,
		maxContextChars: maxContextChars,
		logger:          logger,
	}
}

// Ask answers question from the knowledge base and appends the exchange
// to the conversation. An empty index yields a fixed answer rather than
// an error; retrieval and generation failures are wrapped so callers can
// tell the stages apart.
func (c *Chatbot) Ask(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}

	history := c.conv.History(0)

	results, err := c.retriever.Retrieve(ctx, question, c.topK, history)
	switch {
	case errors.Is(err, retriever.ErrEmptyKnowledgeBase):
		answer := Answer{Text: noKnowledgeAnswer}
		c.record(question, answer)
		return answer, nil
	case err != nil:
		return Answer{}, fmt.Errorf("retrieving context: %w", err)
	}

	asm := Assemble(results, c.maxContextChars)
	c.logger.Debug("context assembled",
		"chunks_included", asm.Included,
		"chunks_dropped", asm.Dropped,
		"context_chars", len(asm.Context),
	)

	text, err := c.generator.Generate(ctx, systemPrompt, asm.Context, question, history)
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = emptyAnswerFallback
	}

	answer := Answer{Text: text, Citations: asm.Citations}
	c.record(question, answer)
	return answer, nil
}

// record appends the question and its answer to the conversation. The
// assistant turn carries the cited chunk IDs so the transcript shows
// which sources each answer used.
func (c *Chatbot) record(question string, answer Answer) {
	var chunkIDs []string
	for _, cit := range answer.Citations {
		chunkIDs = append(chunkIDs, cit.ChunkIDs...)
	}

	c.conv.Append(conversation.Turn{Role: conversation.RoleUser, Text: question})
	c.conv.Append(conversation.Turn{
		Role:     conversation.RoleAssistant,
		Text:     answer.Text,
		ChunkIDs: chunkIDs,
	})
}

// Conversation exposes the underlying conversation for session commands.
func (c *Chatbot) Conversation() *conversation.Conversation {
	return c.conv
}
