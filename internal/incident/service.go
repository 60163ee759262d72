package incident

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medlog/internal/incident")

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Options tunes service policy. The zero value is permissive with client
// ids disabled; use DefaultOptions for the shipped behavior.
type Options struct {
	// EnforceOwnership restricts Get, Update and GenerateSummary to the record owner.
	EnforceOwnership bool

	// AllowClientIDs accepts a caller-supplied id on create instead of assigning one.
	AllowClientIDs bool

	Temperature float64
	MaxTokens   int
}

// DefaultOptions returns the options the server runs with unless configured otherwise.
func DefaultOptions() Options {
	return Options{
		AllowClientIDs: true,
		Temperature:    DefaultTemperature,
		MaxTokens:      DefaultSummaryTokens,
	}
}

// Service is the business boundary for incident operations.
type Service struct {
	store      Store
	summarizer Summarizer
	logger     log.Logger
	metrics    *Metrics
	opts       Options
	newID      func() string
}

// NewService creates a new incident service. metrics may be nil.
func NewService(store Store, summarizer Summarizer, logger log.Logger, metrics *Metrics, opts Options) *Service {
	if store == nil {
		panic(xerrors.New("incident store is required"))
	}
	if summarizer == nil {
		panic(xerrors.New("summarizer is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultSummaryTokens
	}
	return &Service{
		store:      store,
		summarizer: summarizer,
		logger:     logger,
		metrics:    metrics,
		opts:       opts,
		newID:      func() string { return ulid.Make().String() },
	}
}

// Create persists a new incident owned by ownerID. Any owner information the
// caller may have sent is not representable in NewIncident and so cannot
// reach the store.
func (s *Service) Create(ctx context.Context, ownerID string, in NewIncident) (inc *Incident, err error) {
	ctx, span := tracer.Start(ctx, "incident.Create")
	defer func() { s.finish(span, "create", err) }()

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}

	rec := &Incident{
		OwnerID:     ownerID,
		Category:    strings.TrimSpace(in.Category),
		Description: strings.TrimSpace(in.Description),
		Summary:     normalizeSummary(in.Summary),
	}
	if rec.Category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if rec.Description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}

	id := strings.TrimSpace(in.ID)
	switch {
	case id == "" || !s.opts.AllowClientIDs:
		rec.ID = s.newID()
	case !clientIDPattern.MatchString(id):
		return nil, fmt.Errorf("%w: id must match %s", ErrInvalidInput, clientIDPattern)
	default:
		rec.ID = id
	}
	span.SetAttributes(attribute.String("medlog.incident.id", rec.ID))

	out, err := s.store.Insert(ctx, rec)
	if err != nil {
		return nil, persistErr("insert", err)
	}
	return out, nil
}

// Update applies the fields present in p to the record with the given id.
// ok=false means the record does not exist.
func (s *Service) Update(ctx context.Context, callerID, id string, p Patch) (inc *Incident, ok bool, err error) {
	ctx, span := tracer.Start(ctx, "incident.Update", trace.WithAttributes(
		attribute.String("medlog.incident.id", id),
	))
	defer func() { s.finishLookup(span, "update", ok, err) }()

	if _, ok, err := s.load(ctx, callerID, id); err != nil || !ok {
		return nil, ok, err
	}

	var w Patch
	if p.Category != nil {
		v := strings.TrimSpace(*p.Category)
		if v == "" {
			return nil, true, fmt.Errorf("%w: category cannot be empty", ErrInvalidInput)
		}
		w.Category = &v
	}
	if p.Description != nil {
		v := strings.TrimSpace(*p.Description)
		if v == "" {
			return nil, true, fmt.Errorf("%w: description cannot be empty", ErrInvalidInput)
		}
		w.Description = &v
	}
	if p.Summary != nil {
		v := strings.TrimSpace(*p.Summary)
		w.Summary = &v
	}

	return s.write(ctx, "update", id, w)
}

// ListByOwner returns every incident owned by ownerID. An owner with no
// records gets an empty slice. Ordering is not part of the contract.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) (list []*Incident, err error) {
	ctx, span := tracer.Start(ctx, "incident.ListByOwner")
	defer func() { s.finish(span, "list", err) }()

	list, err = s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, persistErr("list", err)
	}
	if list == nil {
		list = []*Incident{}
	}
	span.SetAttributes(attribute.Int("medlog.incident.count", len(list)))
	return list, nil
}

// Get retrieves an incident by id.
func (s *Service) Get(ctx context.Context, callerID, id string) (inc *Incident, ok bool, err error) {
	ctx, span := tracer.Start(ctx, "incident.Get", trace.WithAttributes(
		attribute.String("medlog.incident.id", id),
	))
	defer func() { s.finishLookup(span, "get", ok, err) }()

	return s.load(ctx, callerID, id)
}

// GenerateSummary asks the summarizer for a synopsis of the record and
// overwrites its summary. Only the summary is written, and only after the
// summarizer succeeds; edits made while the call is in flight are kept.
func (s *Service) GenerateSummary(ctx context.Context, callerID, id string) (summary string, ok bool, err error) {
	ctx, span := tracer.Start(ctx, "incident.GenerateSummary", trace.WithAttributes(
		attribute.String("medlog.incident.id", id),
	))
	defer func() { s.finishLookup(span, "summarize", ok, err) }()

	cur, ok, err := s.load(ctx, callerID, id)
	if err != nil || !ok {
		return "", ok, err
	}

	L := s.logger.With("incident_id", id, "category", cur.Category)

	req := &CompletionRequest{
		System:      summarySystemPrompt,
		Prompt:      buildSummaryPrompt(cur),
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	}

	start := time.Now()
	c, err := s.summarizer.Complete(ctx, req)
	if err == nil && (c == nil || strings.TrimSpace(c.Text) == "") {
		err = errors.New("empty completion")
	}
	s.metrics.observeSummarizer(c, time.Since(start).Seconds(), err)
	if err != nil {
		return "", true, &SummarizationError{ID: id, Err: err}
	}

	text := strings.TrimSpace(c.Text)
	if _, ok, err := s.write(ctx, "summarize", id, Patch{Summary: &text}); err != nil || !ok {
		return "", ok, err
	}

	L.Info(ctx, "summary generated",
		"model", c.Model,
		"tokens_in", c.Usage.InputTokens,
		"tokens_out", c.Usage.OutputTokens,
		"duration", time.Since(start).Seconds(),
	)
	return text, true, nil
}

// load fetches a record and applies the ownership policy.
func (s *Service) load(ctx context.Context, callerID, id string) (*Incident, bool, error) {
	cur, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, persistErr("get", err)
	}
	if !ok {
		return nil, false, nil
	}
	if s.opts.EnforceOwnership && cur.OwnerID != callerID {
		return nil, true, ErrForbidden
	}
	return cur, true, nil
}

// write applies p to the stored record. A record that disappeared after
// load reports ok=false.
func (s *Service) write(ctx context.Context, op, id string, p Patch) (*Incident, bool, error) {
	out, err := s.store.Update(ctx, id, p)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, persistErr(op, err)
	}
	return out, true, nil
}

func (s *Service) finish(span trace.Span, op string, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.observeOp(op, resultOf(err))
		return
	}
	s.metrics.observeOp(op, "ok")
}

func (s *Service) finishLookup(span trace.Span, op string, ok bool, err error) {
	if err == nil && !ok {
		defer span.End()
		span.SetAttributes(attribute.Bool("medlog.incident.found", false))
		s.metrics.observeOp(op, "not_found")
		return
	}
	s.finish(span, op, err)
}

func resultOf(err error) string {
	var pe *PersistenceError
	var se *SummarizationError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.As(err, &se):
		return "summarizer_error"
	case errors.As(err, &pe):
		return "store_error"
	default:
		return "error"
	}
}

func normalizeSummary(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
