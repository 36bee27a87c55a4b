package answer

import (
	"context"
	"math"
	"time"

	"docchat/internal/confidence"
	"docchat/internal/metrics"
	"docchat/internal/retrieval"
)

const (
	maxStatSections = 10
	maxStatTypes    = 5

	statsTimeout = 2 * time.Second
)

// RetrievalStat summarises what retrieval returned for one question.
type RetrievalStat struct {
	SessionID  string
	Scope      retrieval.Scope
	Question   string
	ChunkCount int
	ChunkTypes []string
	Sections   []string
	// AvgScore and MaxScore are nil when no chunk carried a score.
	AvgScore   *float64
	MaxScore   *float64
	Confidence confidence.Result
	Latency    time.Duration
}

// StatsRecorder receives retrieval telemetry. Its errors never reach the
// answer stream.
type StatsRecorder interface {
	RecordRetrieval(ctx context.Context, stat RetrievalStat) error
}

func SummarizeRetrieval(sessionID string, scope retrieval.Scope, question string, chunks []retrieval.Chunk, conf confidence.Result, latency time.Duration) RetrievalStat {
	stat := RetrievalStat{
		SessionID:  sessionID,
		Scope:      scope,
		Question:   question,
		ChunkCount: len(chunks),
		ChunkTypes: []string{},
		Sections:   []string{},
		Confidence: conf,
		Latency:    latency,
	}

	seenTypes := make(map[string]struct{})
	seenSections := make(map[string]struct{})
	var sum, best float64
	scored := 0
	for _, c := range chunks {
		if t := string(c.Type); t != "" && len(stat.ChunkTypes) < maxStatTypes {
			if _, ok := seenTypes[t]; !ok {
				seenTypes[t] = struct{}{}
				stat.ChunkTypes = append(stat.ChunkTypes, t)
			}
		}
		if s := c.Section; s != "" && len(stat.Sections) < maxStatSections {
			if _, ok := seenSections[s]; !ok {
				seenSections[s] = struct{}{}
				stat.Sections = append(stat.Sections, s)
			}
		}
		if math.IsNaN(c.Score) || math.IsInf(c.Score, 0) {
			continue
		}
		if scored == 0 || c.Score > best {
			best = c.Score
		}
		sum += c.Score
		scored++
	}
	if scored > 0 {
		avg := round4(sum / float64(scored))
		top := round4(best)
		stat.AvgScore, stat.MaxScore = &avg, &top
	}
	return stat
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// recordStats hands the stat to the recorder in the background. Errors and
// panics from the recorder are logged and dropped.
func (o *Orchestrator) recordStats(ctx context.Context, stat RetrievalStat) {
	if o.stats == nil {
		return
	}
	statsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsTimeout)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				metrics.SharedStoreErrors.WithLabelValues("retrieval_stats", "panic").Inc()
				o.logger.Error("record retrieval stats panicked", "session_id", stat.SessionID, "panic", r)
			}
		}()
		if err := o.stats.RecordRetrieval(statsCtx, stat); err != nil {
			metrics.SharedStoreErrors.WithLabelValues("retrieval_stats", "record").Inc()
			o.logger.Warn("record retrieval stats failed", "session_id", stat.SessionID, "err", err)
		}
	}()
}
