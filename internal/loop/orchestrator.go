package loop

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davrin/sqlmentor/internal/audit"
	"github.com/davrin/sqlmentor/internal/compose"
	"github.com/davrin/sqlmentor/internal/executor"
	"github.com/davrin/sqlmentor/internal/ingest"
	"github.com/davrin/sqlmentor/internal/provider"
	"github.com/davrin/sqlmentor/internal/retrieve"
	"github.com/davrin/sqlmentor/internal/schema"
	"github.com/davrin/sqlmentor/internal/validate"
)

// Status is the lifecycle state of a question attempt.
type Status string

const (
	StatusReceived        Status = "received"
	StatusRetrieving      Status = "retrieving"
	StatusComposing       Status = "composing"
	StatusGenerating      Status = "generating"
	StatusValidating      Status = "validating"
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"
	StatusFeedbackApplied Status = "feedback_applied"
	StatusRetrying        Status = "retrying"
)

// maxAttempts bounds the question loop: the initial attempt plus one
// feedback-triggered retry. Further corrections require a fresh question.
const maxAttempts = 2

// GenerationError reports that the generation engine failed to produce a
// usable statement. A transient engine timeout is retried once internally
// before this surfaces.
type GenerationError struct {
	Reason string
	Cause  error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generation failed: %s: %v", e.Reason, e.Cause)
	}
	return "generation failed: " + e.Reason
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// Answer is the outcome of one attempt. On failure it still carries the
// attempt id and statement so feedback can reference them.
type Answer struct {
	QuestionID          string         `json:"question_id"`
	AttemptID           string         `json:"attempt_id"`
	AttemptNumber       int            `json:"attempt_number"`
	Statement           string         `json:"statement,omitempty"`
	Rows                *executor.Rows `json:"rows,omitempty"`
	AppliedKnowledgeIDs []string       `json:"applied_knowledge_ids,omitempty"`
	Warnings            []string       `json:"warnings,omitempty"`
}

// FeedbackResult reports a feedback ingestion and, when the referenced
// attempt allowed it, the retried answer. RetryError is the retry's failure
// detail; the feedback itself committed either way.
type FeedbackResult struct {
	KnowledgeIDs []string `json:"knowledge_ids"`
	Retry        *Answer  `json:"retry,omitempty"`
	RetryError   string   `json:"retry_error,omitempty"`
}

// Orchestrator drives a question through retrieval, composition, generation
// and validated execution, and turns mentor feedback into the bounded retry.
type Orchestrator struct {
	catalog   *schema.Catalog
	retriever *retrieve.Retriever
	ingestor  *ingest.Ingestor
	validator *validate.Validator
	router    *provider.Router
	recorder  audit.Recorder
	model     string
	logger    *zap.Logger
}

// New wires the loop together. model is the generation model name routed for
// PurposeGenerate.
func New(catalog *schema.Catalog, retriever *retrieve.Retriever, ingestor *ingest.Ingestor,
	validator *validate.Validator, router *provider.Router, recorder audit.Recorder,
	model string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		catalog:   catalog,
		retriever: retriever,
		ingestor:  ingestor,
		validator: validator,
		router:    router,
		recorder:  recorder,
		model:     model,
		logger:    logger,
	}
}

// Ask runs the first attempt for a new question. On failure the returned
// Answer is still populated with the attempt id, and err carries the typed
// failure.
func (o *Orchestrator) Ask(ctx context.Context, question, sessionID string) (*Answer, error) {
	return o.attempt(ctx, question, uuid.NewString(), sessionID, 1)
}

// ApplyFeedback ingests a mentor correction and, if it references a
// first-attempt record, reruns the question once with the new knowledge in
// place. The returned error covers ingestion only.
func (o *Orchestrator) ApplyFeedback(ctx context.Context, rawText, sourceID, attemptID string, supersede bool) (*FeedbackResult, error) {
	var rec *audit.Record
	var applied []string
	if attemptID != "" {
		var err error
		rec, err = o.recorder.Get(ctx, attemptID)
		if err != nil {
			return nil, fmt.Errorf("resolve attempt %s: %w", attemptID, err)
		}
		applied = rec.AppliedKnowledgeIDs
	}

	ids, err := o.ingestor.Ingest(ctx, ingest.Feedback{
		RawText:    rawText,
		SourceID:   sourceID,
		Supersede:  supersede,
		AppliedIDs: applied,
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("feedback ingested",
		zap.Strings("knowledge_ids", ids),
		zap.String("attempt_id", attemptID))

	result := &FeedbackResult{KnowledgeIDs: ids}
	if rec == nil || rec.AttemptNumber >= maxAttempts || rec.Status == string(StatusFeedbackApplied) {
		return result, nil
	}

	// Consume the referenced attempt before rerunning. Resubmitted feedback
	// against the same attempt still commits knowledge but must not launch a
	// third pass for the question.
	rec.Status = string(StatusFeedbackApplied)
	o.save(ctx, rec)

	o.logger.Info("retrying question with applied feedback",
		zap.String("question_id", rec.QuestionID),
		zap.Int("attempt", rec.AttemptNumber+1))
	answer, retryErr := o.attempt(ctx, rec.Question, rec.QuestionID, rec.SessionID, rec.AttemptNumber+1)
	result.Retry = answer
	if retryErr != nil {
		result.RetryError = retryErr.Error()
	}
	return result, nil
}

// attempt is one pass through the loop. Every attempt is recorded whether it
// succeeds or fails.
func (o *Orchestrator) attempt(ctx context.Context, question, questionID, sessionID string, number int) (*Answer, error) {
	rec := &audit.Record{
		ID:            uuid.NewString(),
		QuestionID:    questionID,
		SessionID:     sessionID,
		Question:      question,
		AttemptNumber: number,
		Status:        string(StatusReceived),
		CreatedAt:     time.Now().UTC(),
	}
	answer := &Answer{
		QuestionID:    questionID,
		AttemptID:     rec.ID,
		AttemptNumber: number,
	}

	rec.Status = string(StatusRetrieving)
	res, err := o.retriever.Retrieve(ctx, question)
	if err != nil {
		return answer, o.fail(ctx, rec, fmt.Errorf("retrieve knowledge: %w", err))
	}
	for _, c := range res.Conflicts {
		answer.Warnings = append(answer.Warnings, c.Error())
	}

	rec.Status = string(StatusComposing)
	genCtx := compose.Build(o.catalog, res.Items, question)
	rec.AppliedKnowledgeIDs = genCtx.AppliedIDs
	answer.AppliedKnowledgeIDs = genCtx.AppliedIDs

	rec.Status = string(StatusGenerating)
	stmt, err := o.generate(ctx, genCtx)
	if err != nil {
		return answer, o.fail(ctx, rec, err)
	}
	rec.Statement = stmt
	answer.Statement = stmt

	rec.Status = string(StatusValidating)
	rows, err := o.validator.Run(ctx, stmt)
	if err != nil {
		return answer, o.fail(ctx, rec, err)
	}
	answer.Rows = rows

	rec.Status = string(StatusSucceeded)
	o.save(ctx, rec)
	o.logger.Info("question answered",
		zap.String("question_id", questionID),
		zap.Int("attempt", number),
		zap.Int("rows", len(rows.Values)),
		zap.Int("applied_knowledge", len(answer.AppliedKnowledgeIDs)))
	return answer, nil
}

// generate calls the generation engine and extracts the statement from its
// output. A transient timeout gets one immediate retry; anything else, and
// any malformed output, is a GenerationError.
func (o *Orchestrator) generate(ctx context.Context, gc compose.Context) (string, error) {
	req := &provider.ChatRequest{
		Model: o.model,
		Messages: []provider.Message{
			{Role: "system", Content: gc.System},
			{Role: "user", Content: gc.User},
		},
		Temperature: 0,
	}

	var lastErr error
	for try := 0; try < 2; try++ {
		resp, err := o.router.Route(ctx, provider.PurposeGenerate, req)
		if err != nil {
			lastErr = err
			if try == 0 && transient(err) && ctx.Err() == nil {
				o.logger.Warn("generation engine timed out, retrying once", zap.Error(err))
				continue
			}
			return "", &GenerationError{Reason: "generation engine unavailable", Cause: lastErr}
		}
		stmt := ExtractStatement(resp.Content)
		if stmt == "" {
			return "", &GenerationError{Reason: "no SQL statement in generator output"}
		}
		return stmt, nil
	}
	return "", &GenerationError{Reason: "generation engine unavailable", Cause: lastErr}
}

// fail records the attempt's terminal state and passes the error through.
func (o *Orchestrator) fail(ctx context.Context, rec *audit.Record, err error) error {
	rec.Status = string(StatusFailed)
	rec.Detail = err.Error()
	o.save(ctx, rec)
	o.logger.Warn("attempt failed",
		zap.String("question_id", rec.QuestionID),
		zap.Int("attempt", rec.AttemptNumber),
		zap.Error(err))
	return err
}

// save persists the attempt record. The record is an audit trail, not a
// correctness dependency, so failures are logged and swallowed.
func (o *Orchestrator) save(ctx context.Context, rec *audit.Record) {
	if err := o.recorder.Save(ctx, rec); err != nil {
		o.logger.Error("save attempt record failed", zap.String("id", rec.ID), zap.Error(err))
	}
}

func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
