package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/misconcept/internal/diagnosis"
	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/irt"
	"github.com/abhisek/misconcept/internal/llm"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Limit   int       // max results (0 = unlimited)
	After   int64     // sequence > After
	Before  int64     // sequence < Before
	From    time.Time // timestamp >= From
	To      time.Time // timestamp <= To
	Purpose string    // exact purpose match
}

// GenerationSummary is a listing row for a stored taxonomy generation.
type GenerationSummary struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Dimension int
	Source    string
	Clusters  int
}

// GenerationRepo persists misconception taxonomy generations. Stored
// generations are never updated in place.
type GenerationRepo interface {
	// Save stores g with all its clusters.
	Save(ctx context.Context, g *diagnosis.Generation) error

	// Get returns the generation with the given ID or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*diagnosis.Generation, error)

	// Latest returns the most recent generation, or nil if none exist.
	Latest(ctx context.Context) (*diagnosis.Generation, error)

	// List returns generation summaries, newest first.
	List(ctx context.Context, limit int) ([]GenerationSummary, error)

	// Prune deletes all but the N most recent generations.
	Prune(ctx context.Context, keep int) error
}

// CalibrationRepo persists IRT calibrations. Only item parameters are
// stored; per-student abilities are treated as raw data and dropped.
type CalibrationRepo interface {
	Save(ctx context.Context, c *irt.Calibration) error
	Get(ctx context.Context, id uuid.UUID) (*irt.Calibration, error)

	// Latest returns the most recent calibration, or nil if none exist.
	Latest(ctx context.Context) (*irt.Calibration, error)
}

// GateRepo persists trained embedding gates.
type GateRepo interface {
	Save(ctx context.Context, g *embedding.Gate) error
	Get(ctx context.Context, id uuid.UUID) (*embedding.Gate, error)

	// Latest returns the most recent gate, or nil if none exist.
	Latest(ctx context.Context) (*embedding.Gate, error)
}

// LLMEvent is a stored LLM request event.
type LLMEvent struct {
	ID        int
	Sequence  int64
	Timestamp time.Time
	llm.RequestEvent
}

// LLMUsage aggregates token usage for one purpose or model.
type LLMUsage struct {
	Purpose      string
	Model        string
	Calls        int
	InputTokens  int
	OutputTokens int
	AvgLatencyMs int64
}

// EventRepo provides append and query access to LLM request events.
type EventRepo interface {
	// AppendLLMRequest records an LLM API call event.
	AppendLLMRequest(ctx context.Context, data llm.RequestEvent) error

	// QueryLLMEvents returns events newest first.
	QueryLLMEvents(ctx context.Context, opts QueryOpts) ([]LLMEvent, error)

	// GetLLMEvent returns one event, or nil if it does not exist.
	GetLLMEvent(ctx context.Context, id int) (*LLMEvent, error)

	LLMUsageByPurpose(ctx context.Context) ([]LLMUsage, error)
	LLMUsageByModel(ctx context.Context) ([]LLMUsage, error)
}
