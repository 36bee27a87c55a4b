// Package answer turns one chat turn into a line-oriented stream: intent,
// retrieval, prompt assembly and abort-aware generation. Every turn emits at
// least one unit, whatever fails along the way.
package answer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"docchat/internal/ai"
	"docchat/internal/confidence"
	"docchat/internal/metrics"
	"docchat/internal/retrieval"
)

const (
	MsgEmptyQuestion    = "Please ask a question."
	MsgGenerationFailed = "Error while processing documents."
	MsgNoAnswer         = "No answer could be generated from the documents."
	MsgNoEvidence       = "No relevant passages were found in the document."
	MsgLiteFallback     = "How can I help you?"
	MsgAborted          = "Generation aborted"
	MsgAuthFailed       = "The remote model rejected its credentials."
	MsgQuotaExhausted   = "The remote model quota is exhausted."

	recentQuestionLimit = 3
	defaultMaxTokens    = 1024
	defaultLiteTokens   = 128
)

type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeAborted     Outcome = "aborted"
	OutcomeFailed      Outcome = "failed"
	OutcomeEmpty       Outcome = "empty"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeRejected    Outcome = "rejected"
)

type Mode string

const (
	ModeLite Mode = "lite"
	ModeBase Mode = "base"
	ModeNet  Mode = "net"
)

func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeBase:
		return ModeBase
	case ModeNet:
		return ModeNet
	default:
		return ModeLite
	}
}

// Generators holds one backend per mode. Missing modes fall back to the
// nearest configured one.
type Generators struct {
	Lite ai.Generator
	Base ai.Generator
	Net  ai.Generator
}

func (g Generators) For(mode Mode) ai.Generator {
	var order []ai.Generator
	switch mode {
	case ModeNet:
		order = []ai.Generator{g.Net, g.Base, g.Lite}
	case ModeBase:
		order = []ai.Generator{g.Base, g.Lite, g.Net}
	default:
		order = []ai.Generator{g.Lite, g.Base, g.Net}
	}
	for _, gen := range order {
		if gen != nil {
			return gen
		}
	}
	return nil
}

type AbortChecker interface {
	IsAborted(ctx context.Context, sessionID string) bool
}

type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]retrieval.Chunk, error)
}

type ChunkMemory interface {
	UsedChunkIDs(ctx context.Context, sessionID string) ([]string, error)
	AddUsedChunkIDs(ctx context.Context, sessionID string, ids []string) error
}

// History persists finished exchanges and serves recent user questions for
// follow-up rewriting.
type History interface {
	RecentUserQuestions(ctx context.Context, sessionID string, limit int) ([]string, error)
	SaveExchange(ctx context.Context, sessionID, question, answer string) error
}

// Emit writes one stream unit. An error means the consumer is gone.
type Emit func(line string) error

type Limits struct {
	MaxTokens     int
	LiteMaxTokens int
}

type Deps struct {
	Aborts     AbortChecker
	Retriever  Retriever
	Loader     retrieval.ChunkLoader
	Memory     ChunkMemory
	History    History
	Generators Generators
	Guard      *Guard
	Limits     Limits
	Stats      StatsRecorder
	Logger     *slog.Logger
}

type Orchestrator struct {
	aborts    AbortChecker
	retriever Retriever
	loader    retrieval.ChunkLoader
	memory    ChunkMemory
	history   History
	gens      Generators
	guard     *Guard
	limits    Limits
	stats     StatsRecorder
	logger    *slog.Logger
}

func New(d Deps) *Orchestrator {
	if d.Limits.MaxTokens <= 0 {
		d.Limits.MaxTokens = defaultMaxTokens
	}
	if d.Limits.LiteMaxTokens <= 0 || d.Limits.LiteMaxTokens > defaultLiteTokens {
		d.Limits.LiteMaxTokens = defaultLiteTokens
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Orchestrator{
		aborts:    d.Aborts,
		retriever: d.Retriever,
		loader:    d.Loader,
		memory:    d.Memory,
		history:   d.History,
		gens:      d.Generators,
		guard:     d.Guard,
		limits:    d.Limits,
		stats:     d.Stats,
		logger:    d.Logger,
	}
}

type Turn struct {
	SessionID string
	Question  string
	Mode      Mode
	// Scope is zero when the session has no ready document.
	Scope retrieval.Scope
}

type Result struct {
	Outcome    Outcome
	Intent     Intent
	Answer     string
	Chunks     []retrieval.Chunk
	Confidence confidence.Result
}

// Answer runs one turn to completion. It never returns an error: failures
// become stream units.
func (o *Orchestrator) Answer(ctx context.Context, turn Turn, emit Emit) Result {
	w := &writer{emit: emit}
	q := strings.TrimSpace(turn.Question)
	if q == "" {
		w.event(SystemMessage(MsgEmptyQuestion))
		return o.finish(Result{Outcome: OutcomeRejected})
	}

	gen := o.gens.For(turn.Mode)
	if !turn.Scope.Valid() {
		return o.finish(o.answerWithoutDocument(ctx, turn, q, gen, w))
	}
	return o.finish(o.answerFromDocument(ctx, turn, q, gen, w))
}

func (o *Orchestrator) answerWithoutDocument(ctx context.Context, turn Turn, q string, gen ai.Generator, w *writer) Result {
	intent := DetectIntent(q)
	spec := streamSpec{gen: gen, maxTokens: o.limits.MaxTokens}
	if intent.Conversational() {
		spec.messages = BuildLitePrompt(q)
		spec.maxTokens = o.limits.LiteMaxTokens
		spec.emptyLine = MsgLiteFallback
	} else {
		spec.messages = BuildGeneralPrompt(q)
		spec.emptyLine = SystemMessage(MsgNoAnswer).Encode()
	}
	w.event(ModelStage("generation", "Responding…", modelName(gen)))

	outcome, text := o.stream(ctx, turn.SessionID, spec, w)
	if outcome == OutcomeCompleted {
		o.persist(ctx, turn.SessionID, q, text)
	}
	return Result{Outcome: outcome, Intent: intent, Answer: text}
}

func (o *Orchestrator) answerFromDocument(ctx context.Context, turn Turn, q string, gen ai.Generator, w *writer) Result {
	w.event(ModelStage("intent", "Understanding your question…", modelName(gen)))
	intent := Classify(Normalize(q))
	if ruled, ok := RuleIntent(Normalize(q)); ok {
		intent = ruled
	}
	rewritten := Rewrite(q, o.recentQuestions(ctx, turn.SessionID))

	var carried []retrieval.Chunk
	if intent == IntentFollowUp {
		carried = o.carriedChunks(ctx, turn)
	}

	w.event(ModelStage("retrieval", "Searching relevant documents…", ""))
	started := time.Now()
	chunks, err := o.retriever.Retrieve(ctx, retrieval.Request{
		Question: rewritten,
		Scope:    turn.Scope,
		Detailed: WantsDetail(q),
		Carried:  carried,
	})
	if err != nil {
		if errors.Is(err, retrieval.ErrMissingScope) {
			w.event(ErrorEvent(err.Error()))
			return Result{Outcome: OutcomeRejected, Intent: intent}
		}
		o.logger.Error("retrieval failed", "session_id", turn.SessionID, "err", err)
		w.event(ErrorEvent(MsgGenerationFailed))
		return Result{Outcome: OutcomeFailed, Intent: intent}
	}

	conf := confidence.Compute(chunks, scoresOf(chunks))
	o.recordStats(ctx, SummarizeRetrieval(turn.SessionID, turn.Scope, q, chunks, conf, time.Since(started)))
	res := Result{Intent: intent, Chunks: chunks, Confidence: conf}
	if len(chunks) == 0 {
		w.event(AnswerConfidence(conf.Score, string(conf.Level)))
		w.event(SystemMessage(MsgNoEvidence))
		res.Outcome = OutcomeEmpty
		return res
	}

	w.event(ModelStage("generation", "Generating answer…", modelName(gen)))
	res.Outcome, res.Answer = o.stream(ctx, turn.SessionID, streamSpec{
		gen:       gen,
		messages:  BuildPrompt(q, chunks, WantsDetail(q)),
		maxTokens: o.limits.MaxTokens,
		emptyLine: SystemMessage(MsgNoAnswer).Encode(),
	}, w)

	if res.Outcome == OutcomeAborted {
		return res
	}
	w.event(AnswerConfidence(conf.Score, string(conf.Level)))
	w.event(Sources(SourcesOf(chunks)))

	if res.Outcome == OutcomeCompleted {
		o.rememberChunks(ctx, turn.SessionID, chunks)
		o.persist(ctx, turn.SessionID, q, res.Answer)
	}
	return res
}

type streamSpec struct {
	gen       ai.Generator
	messages  []ai.ChatMessage
	maxTokens int
	// emptyLine is written as-is when the backend produced nothing.
	emptyLine string
}

// stream forwards fragments while polling the abort flag before each one.
// Abort and consumer disconnect both end in OutcomeAborted; only
// OutcomeCompleted carries text worth persisting.
func (o *Orchestrator) stream(ctx context.Context, sessionID string, spec streamSpec, w *writer) (Outcome, string) {
	if spec.gen == nil {
		w.event(ErrorEvent(MsgGenerationFailed))
		return OutcomeFailed, ""
	}
	if spec.gen.Remote() && o.guard != nil {
		release, err := o.guard.Acquire()
		if err != nil {
			var rl *RateLimitedError
			if errors.As(err, &rl) {
				w.event(NetRateLimited(rl.RetryAfterSeconds(), spec.gen.Provider()))
			} else {
				w.event(ErrorEvent(MsgGenerationFailed))
			}
			return OutcomeRateLimited, ""
		}
		defer release()
	}

	var (
		collected strings.Builder
		cutter    markerCutter
		aborted   bool
	)
	err := spec.gen.Stream(ctx, ai.GenerateRequest{Messages: spec.messages, MaxTokens: spec.maxTokens}, func(frag string) error {
		if o.isAborted(ctx, sessionID) {
			aborted = true
			return ai.ErrStopped
		}
		out, stop := cutter.Feed(frag)
		if out != "" {
			if !w.text(out) {
				return ai.ErrStopped
			}
			collected.WriteString(out)
		}
		if stop {
			return ai.ErrStopped
		}
		return nil
	})
	if err == nil && !aborted && w.err == nil {
		if tail := cutter.Flush(); tail != "" && w.text(tail) {
			collected.WriteString(tail)
		}
	}

	switch {
	case w.err != nil:
		o.logger.Info("stream consumer went away", "session_id", sessionID, "err", w.err)
		return OutcomeAborted, ""
	case aborted || o.isAborted(ctx, sessionID):
		w.event(ErrorEvent(MsgAborted))
		return OutcomeAborted, ""
	case err != nil && ctx.Err() != nil:
		return OutcomeAborted, ""
	case err != nil:
		o.logger.Error("generation failed", "session_id", sessionID, "model", spec.gen.Model(), "err", err)
		o.emitFailure(w, spec.gen, err)
		return OutcomeFailed, ""
	}

	text := CleanOutput(collected.String())
	if text == "" {
		w.line(spec.emptyLine)
		return OutcomeEmpty, ""
	}
	return OutcomeCompleted, text
}

func (o *Orchestrator) emitFailure(w *writer, gen ai.Generator, err error) {
	switch {
	case errors.Is(err, ai.ErrRateLimited):
		w.event(NetRateLimited(defaultRetryAfterSec, gen.Provider()))
	case errors.Is(err, ai.ErrAuth):
		w.event(ErrorEvent(MsgAuthFailed))
	case errors.Is(err, ai.ErrQuota):
		w.event(ErrorEvent(MsgQuotaExhausted))
	default:
		w.event(ErrorEvent(MsgGenerationFailed))
	}
}

func (o *Orchestrator) isAborted(ctx context.Context, sessionID string) bool {
	return o.aborts != nil && o.aborts.IsAborted(ctx, sessionID)
}

func (o *Orchestrator) carriedChunks(ctx context.Context, turn Turn) []retrieval.Chunk {
	if o.memory == nil || o.loader == nil {
		return nil
	}
	ids, err := o.memory.UsedChunkIDs(ctx, turn.SessionID)
	if err != nil {
		o.logger.Warn("load used chunk ids failed", "session_id", turn.SessionID, "err", err)
		return nil
	}
	if len(ids) == 0 {
		return nil
	}
	chunks, err := o.loader.GetByIDs(ctx, turn.Scope, ids)
	if err != nil {
		o.logger.Warn("rehydrate used chunks failed", "session_id", turn.SessionID, "err", err)
		return nil
	}
	for i := range chunks {
		chunks[i].Score = 1.0
	}
	return chunks
}

func (o *Orchestrator) rememberChunks(ctx context.Context, sessionID string, chunks []retrieval.Chunk) {
	if o.memory == nil {
		return
	}
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}
	if err := o.memory.AddUsedChunkIDs(ctx, sessionID, ids); err != nil {
		o.logger.Warn("save used chunk ids failed", "session_id", sessionID, "err", err)
	}
}

func (o *Orchestrator) recentQuestions(ctx context.Context, sessionID string) []string {
	if o.history == nil {
		return nil
	}
	recent, err := o.history.RecentUserQuestions(ctx, sessionID, recentQuestionLimit)
	if err != nil {
		o.logger.Warn("load recent questions failed", "session_id", sessionID, "err", err)
		return nil
	}
	return recent
}

func (o *Orchestrator) persist(ctx context.Context, sessionID, question, answer string) {
	if o.history == nil {
		return
	}
	if err := o.history.SaveExchange(context.WithoutCancel(ctx), sessionID, question, answer); err != nil {
		o.logger.Warn("persist exchange failed", "session_id", sessionID, "err", err)
	}
}

func (o *Orchestrator) finish(res Result) Result {
	metrics.StreamOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	return res
}

func SourcesOf(chunks []retrieval.Chunk) []Source {
	out := make([]Source, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, Source{
			ID:         c.ID,
			Page:       c.Page,
			Section:    c.Section,
			ChunkType:  string(c.Type),
			Score:      c.Score,
			BBox:       c.BBox,
			SourceFile: c.SourceFile,
		})
	}
	return out
}

func scoresOf(chunks []retrieval.Chunk) []float64 {
	out := make([]float64, len(chunks))
	for i, c := range chunks {
		out[i] = c.Score
	}
	return out
}

func modelName(gen ai.Generator) string {
	if gen == nil {
		return ""
	}
	return gen.Model()
}

// writer is sticky on failure: after the consumer goes away nothing else
// is written.
type writer struct {
	emit  Emit
	err   error
	units int
}

func (w *writer) line(s string) bool {
	if w.err != nil {
		return false
	}
	if err := w.emit(s); err != nil {
		w.err = err
		return false
	}
	w.units++
	return true
}

func (w *writer) text(s string) bool { return w.line(s) }

func (w *writer) event(e Event) bool { return w.line(e.Encode()) }
