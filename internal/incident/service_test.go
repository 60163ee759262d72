package incident

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu        sync.Mutex
	records   map[string]*Incident
	now       time.Time
	insertErr error
	updateErr error
	getErr    error
	listErr   error
	updates   int
}

func newMockStore() *mockStore {
	return &mockStore{
		records: make(map[string]*Incident),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *mockStore) tick() time.Time {
	m.now = m.now.Add(time.Second)
	return m.now
}

func (m *mockStore) Insert(_ context.Context, inc *Incident) (*Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if _, ok := m.records[inc.ID]; ok {
		return nil, ErrDuplicateID
	}
	cp := inc.Clone()
	cp.CreatedAt = m.tick()
	cp.UpdatedAt = cp.CreatedAt
	m.records[cp.ID] = cp
	return cp.Clone(), nil
}

func (m *mockStore) Get(_ context.Context, id string) (*Incident, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	r, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (m *mockStore) Update(_ context.Context, id string, p Patch) (*Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	prev, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := prev.Clone()
	p.Apply(cp)
	cp.UpdatedAt = m.tick()
	m.records[id] = cp
	m.updates++
	return cp.Clone(), nil
}

func (m *mockStore) ListByOwner(_ context.Context, ownerID string) ([]*Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*Incident
	for _, r := range m.records {
		if r.OwnerID == ownerID {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *mockStore) seed(inc *Incident) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := inc.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.tick()
		cp.UpdatedAt = cp.CreatedAt
	}
	m.records[cp.ID] = cp
}

// mockSummarizer implements Summarizer for testing.
type mockSummarizer struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []*CompletionRequest
}

func (m *mockSummarizer) Complete(_ context.Context, req *CompletionRequest) (*Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	return &Completion{Text: m.text, Model: "test-model", Usage: Usage{InputTokens: 40, OutputTokens: 12}}, nil
}

func (m *mockSummarizer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// gatedSummarizer blocks Complete until release is closed.
type gatedSummarizer struct {
	started chan struct{}
	release chan struct{}
	text    string
}

func newGatedSummarizer(text string) *gatedSummarizer {
	return &gatedSummarizer{
		started: make(chan struct{}),
		release: make(chan struct{}),
		text:    text,
	}
}

func (g *gatedSummarizer) Complete(ctx context.Context, _ *CompletionRequest) (*Completion, error) {
	close(g.started)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Completion{Text: g.text, Model: "test-model"}, nil
}

func strPtr(s string) *string { return &s }

func newTestService(store Store, sum Summarizer, opts Options) *Service {
	svc := NewService(store, sum, log.Nop(), nil, opts)
	n := 0
	svc.newID = func() string {
		n++
		return "gen-" + string(rune('0'+n))
	}
	return svc
}

func TestNewService_NilStorePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("NewService(nil, ...) did not panic")
		}
	}()
	NewService(nil, &mockSummarizer{}, nil, nil, DefaultOptions())
}

func TestNewService_NilSummarizerPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("NewService(store, nil, ...) did not panic")
		}
	}()
	NewService(newMockStore(), nil, nil, nil, DefaultOptions())
}

func TestCreate_SetsOwnerFromCaller(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), &mockSummarizer{}, DefaultOptions())

	got, err := svc.Create(context.Background(), "U1", NewIncident{
		Category:    "Fall",
		Description: "Patient fell in hallway.",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.OwnerID != "U1" {
		t.Errorf("OwnerID = %q, want %q", got.OwnerID, "U1")
	}
	if got.Summary != nil {
		t.Errorf("Summary = %q, want absent", *got.Summary)
	}
	if got.Category != "Fall" || got.Description != "Patient fell in hallway." {
		t.Errorf("fields = %q/%q, want Fall/Patient fell in hallway.", got.Category, got.Description)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.Before(got.CreatedAt) {
		t.Errorf("timestamps created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestCreate_AssignsIDWhenAbsent(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), &mockSummarizer{}, DefaultOptions())

	got, err := svc.Create(context.Background(), "U1", NewIncident{Category: "Fall", Description: "d"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.ID != "gen-1" {
		t.Errorf("ID = %q, want %q", got.ID, "gen-1")
	}
}

func TestCreate_ClientIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allow   bool
		id      string
		wantID  string
		wantErr error
	}{
		{"accepted when allowed", true, "482913", "482913", nil},
		{"ignored when disallowed", false, "482913", "gen-1", nil},
		{"rejected when malformed", true, "bad id!", "", ErrInvalidInput},
		{"rejected when too long", true, strings.Repeat("a", 65), "", ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := DefaultOptions()
			opts.AllowClientIDs = tt.allow
			svc := newTestService(newMockStore(), &mockSummarizer{}, opts)

			got, err := svc.Create(context.Background(), "U1", NewIncident{ID: tt.id, Category: "Fall", Description: "d"})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if got.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", got.ID, tt.wantID)
			}
		})
	}
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		owner string
		in    NewIncident
	}{
		{"missing owner", "", NewIncident{Category: "Fall", Description: "d"}},
		{"blank category", "U1", NewIncident{Category: "   ", Description: "d"}},
		{"missing description", "U1", NewIncident{Category: "Fall"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMockStore()
			svc := newTestService(store, &mockSummarizer{}, DefaultOptions())
			_, err := svc.Create(context.Background(), tt.owner, tt.in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			if len(store.records) != 0 {
				t.Errorf("store has %d records, want 0", len(store.records))
			}
		})
	}
}

func TestCreate_BlankSummaryIsAbsent(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), &mockSummarizer{}, DefaultOptions())

	got, err := svc.Create(context.Background(), "U1", NewIncident{Category: "Fall", Description: "d", Summary: strPtr("  ")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.Summary != nil {
		t.Errorf("Summary = %q, want absent", *got.Summary)
	}

	got, err = svc.Create(context.Background(), "U1", NewIncident{Category: "Fall", Description: "d", Summary: strPtr("given")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.Summary == nil || *got.Summary != "given" {
		t.Errorf("Summary = %v, want %q", got.Summary, "given")
	}
}

func TestCreate_StoreErrorIsPersistenceError(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.seed(&Incident{ID: "dup", OwnerID: "U1", Category: "Fall", Description: "d"})
	svc := newTestService(store, &mockSummarizer{}, DefaultOptions())

	_, err := svc.Create(context.Background(), "U2", NewIncident{ID: "dup", Category: "Fall", Description: "d"})
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("err = %v, want wrapping ErrDuplicateID", err)
	}
}

func TestUpdate_PartialPatch(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.seed(&Incident{ID: "R1", OwnerID: "someone", Category: "Fall", Description: "Old note.", Summary: strPtr("old summary")})
	svc := newTestService(store, &mockSummarizer{}, DefaultOptions())
	before, _, _ := store.Get(context.Background(), "R1")

	got, ok, err := svc.Update(context.Background(), "U1", "R1", Patch{Description: strPtr("Revised note.")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !ok {
		t.Fatal("Update ok=false, want true")
	}
	if got.Description != "Revised note." {
		t.Errorf("Description = %q, want %q", got.Description, "Revised note.")
	}
	if got.Category != "Fall" {
		t.Errorf("Category = %q, want unchanged %q", got.Category, "Fall")
	}
	if got.Summary == nil || *got.Summary != "old summary" {
		t.Errorf("Summary = %v, want unchanged %q", got.Summary, "old summary")
	}
	if got.OwnerID != "someone" {
		t.Errorf("OwnerID = %q, want unchanged %q", got.OwnerID, "someone")
	}
	if !got.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want after %v", got.UpdatedAt, before.UpdatedAt)
	}
}

func TestUpdate_AllFields(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.seed(&Incident{ID: "R1", OwnerID: "U1", Category: "Fall", Description: "d"})
	svc := newTestService(store, &mockSummarizer{}, DefaultOptions())

	got, _, err := svc.Update(context.Background(), "U1", "R1", Patch{
		Category:    strPtr("Medication"),
		Description: strPtr("Wrong dose given."),
		Summary:     strPtr("Dose error."),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Category != "Medication" || got.Description != "Wrong dose given." || got.Summary == nil || *got.Summary != "Dose error." {
		t.Errorf("got %+v", got)
	}
}

func TestUpdate_BlankSummaryClears(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.seed(&Incident{ID: "R1", OwnerID: "U1", Category: "Fall", Description: "d", Summary: strPtr("s")})
	svc := newTestService(store, &mockSummarizer{}, DefaultOptions())

	got, _, err := svc.Update(context.Background(), "U1", "R1", Patch{Summary: strPtr("")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Summary != nil {
		t.Errorf("Summary = %q, want cleared", *got.Summary)
	}
}

func TestUpdate_EmptyRequiredFieldRejected(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.seed(&Incident{ID: "R1", OwnerID: "U1", Category: "Fall", Description: "d"})
	svc := newTestService(store, &mockSummarizer{}, DefaultOptions())

	_, _, err := svc.Update(context.Background(), "U1", "R1", Patch{Category: strPtr(" ")})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if store.updates != 0 {
		t.Errorf("updates = %d, want 0", store.updates)
	}
}

func TestUpdate_StoreErrorIsPersistenceError(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.seed(&Incident{ID: "R1", OwnerID: "U1", Category: "Fall", Description: "d"})
	store.updateErr = errors.New("db down")
	svc := newTestService(store, &mockSummarizer{}, DefaultOptions())

	_, _, err := svc.Update(context.Background(), "U1", "R1", Patch{Description: strPtr("x")})
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if pe.Op != "update" {
		t.Errorf("Op = %q, want %q", pe.Op, "update")
	}
}

func TestNotFound_IsNotAnError(t *testing.T) {
	t.Parallel()

	sum := &mockSummarizer{text: "never"}
	svc := newTestService(newMockStore(), sum, DefaultOptions())
	ctx := context.Background()

	if _, ok, err := svc.Get(ctx, "U1", "missing-id"); err != nil || ok {
		t.Errorf("Get = ok:%v err:%v, want ok:false err:nil", ok, err)
	}
	if _, ok, err := svc.Update(ctx, "U1", "missing-id", Patch{Description: strPtr("x")}); err != nil || ok {
		t.Errorf("Update = ok:%v err:%v, want ok:false err:nil", ok, err)
	}
	if _, ok, err := svc.GenerateSummary(ctx, "U1", "missing-id"); err != nil || ok {
		t.Errorf("GenerateSummary = ok:%v err:%v, want ok:false err:nil", ok, err)
	}
	if n := sum.callCount(); n != 0 {
		t.Errorf("summarizer calls = %d, want 0", n)
	}
}

func TestGet_StoreErrorIsPersistenceError(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.getErr = errors.New("db down")
	svc := newTestService(store, &mockSummarizer{}, DefaultOptions())

	_, _, err := svc.Get(context.Background(), "U1", "R1")
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
}

func TestListByOwner(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.seed(&Incident{ID: "a", OwnerID: "U1", Category: "Fall", Description: "d"})
	store.seed(&Incident{ID: "b", OwnerID: "U1", Category: "Fall", Description: "d"})
	store.seed(&Incident{ID: "c", OwnerID: "U3", Category: "Fall", Description: "d"})
	svc := newTestService(store, &mockSummarizer{}, DefaultOptions())

	got, err := svc.ListByOwner(context.Background(), "U1")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, inc := range got {
		if inc.OwnerID != "U1" {
			t.Errorf("OwnerID = %q, want U1", inc.OwnerID)
		}
	}
}

func TestListByOwner_NoRecordsIsEmpty(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), &mockSummarizer{}, DefaultOptions())

	got, err := svc.ListByOwner(context.Background(), "U2")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestListByOwner_StoreError(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.listErr = errors.New("db down")
	svc := newTestService(store, &mockSummarizer{}, DefaultOptions())

	_, err := svc.ListByOwner(context.Background(), "U1")
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
}

func TestGenerateSummary_Success(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.seed(&Incident{ID: "R1", OwnerID: "U1", Category: "Fall", Description: "Patient fell in hallway.", Summary: strPtr("old")})
	before, _, _ := store.Get(context.Background(), "R1")
	sum := &mockSummarizer{text: "  Patient fell. No injuries observed.\n"}
	svc := newTestService(store, sum, DefaultOptions())

	got, ok, err := svc.GenerateSummary(context.Background(), "U1", "R1")
	if err != nil {
		t.Fatalf("GenerateSummary: %v", err)
	}
	if !ok {
		t.Fatal("ok=false, want true")
	}
	if got != "Patient fell. No injuries observed." {
		t.Errorf("summary = %q", got)
	}

	after, _, _ := store.Get(context.Background(), "R1")
	if after.Summary == nil || *after.Summary != got {
		t.Errorf("stored summary = %v, want %q", after.Summary, got)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want after %v", after.UpdatedAt, before.UpdatedAt)
	}
}

func TestGenerateSummary_RequestShape(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.seed(&Incident{ID: "R1", OwnerID: "U1", Category: "Fall", Description: "Patient fell in hallway."})
	sum := &mockSummarizer{text: "ok"}
	svc := newTestService(store, sum, DefaultOptions())

	if _, _, err := svc.GenerateSummary(context.Background(), "U1", "R1"); err != nil {
		t.Fatalf("GenerateSummary: %v", err)
	}
	if sum.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", sum.callCount())
	}
	req := sum.calls[0]
	if req.Temperature != 0.4 {
		t.Errorf("Temperature = %v, want 0.4", req.Temperature)
	}
	if req.MaxTokens != DefaultSummaryTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, DefaultSummaryTokens)
	}
	if req.System == "" {
		t.Error("expected a system prompt")
	}
	for _, want := range []string{"2 sentences", "Fall", "Patient fell in hallway."} {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt %q missing %q", req.Prompt, want)
		}
	}
}

func TestGenerateSummary_FailureLeavesRecordUntouched(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sum  *mockSummarizer
	}{
		{"summarizer error", &mockSummarizer{err: errors.New("upstream 529")}},
		{"empty completion", &mockSummarizer{text: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMockStore()
			store.seed(&Incident{ID: "R1", OwnerID: "U1", Category: "Fall", Description: "d", Summary: strPtr("keep me")})
			before, _, _ := store.Get(context.Background(), "R1")
			svc := newTestService(store, tt.sum, DefaultOptions())

			_, ok, err := svc.GenerateSummary(context.Background(), "U1", "R1")
			var se *SummarizationError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *SummarizationError", err)
			}
			if !ok {
				t.Error("ok=false, want true for an existing record")
			}

			after, _, _ := store.Get(context.Background(), "R1")
			if after.Summary == nil || *after.Summary != *before.Summary {
				t.Errorf("summary = %v, want %q", after.Summary, *before.Summary)
			}
			if !after.UpdatedAt.Equal(before.UpdatedAt) {
				t.Errorf("UpdatedAt changed from %v to %v", before.UpdatedAt, after.UpdatedAt)
			}
			if store.updates != 0 {
				t.Errorf("updates = %d, want 0", store.updates)
			}
		})
	}
}

func TestGenerateSummary_UpdateErrorIsPersistenceError(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.seed(&Incident{ID: "R1", OwnerID: "U1", Category: "Fall", Description: "d"})
	store.updateErr = errors.New("db down")
	svc := newTestService(store, &mockSummarizer{text: "s"}, DefaultOptions())

	_, _, err := svc.GenerateSummary(context.Background(), "U1", "R1")
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if pe.Op != "summarize" {
		t.Errorf("Op = %q, want %q", pe.Op, "summarize")
	}
}

func TestOwnershipPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		enforce bool
		caller  string
		wantErr error
	}{
		{"permissive allows other caller", false, "U2", nil},
		{"enforced allows owner", true, "U1", nil},
		{"enforced rejects other caller", true, "U2", ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMockStore()
			store.seed(&Incident{ID: "R1", OwnerID: "U1", Category: "Fall", Description: "d"})
			sum := &mockSummarizer{text: "s"}
			opts := DefaultOptions()
			opts.EnforceOwnership = tt.enforce
			svc := newTestService(store, sum, opts)
			ctx := context.Background()

			_, _, err := svc.Get(ctx, tt.caller, "R1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Get err = %v, want %v", err, tt.wantErr)
			}
			_, _, err = svc.Update(ctx, tt.caller, "R1", Patch{Description: strPtr("x")})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Update err = %v, want %v", err, tt.wantErr)
			}
			_, _, err = svc.GenerateSummary(ctx, tt.caller, "R1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GenerateSummary err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && sum.callCount() != 0 {
				t.Errorf("summarizer calls = %d, want 0 when forbidden", sum.callCount())
			}
		})
	}
}

func TestGenerateSummary_KeepsEditsMadeDuringCall(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.seed(&Incident{ID: "R1", OwnerID: "U1", Category: "Fall", Description: "Patient fell."})
	sum := newGatedSummarizer("Generated.")
	svc := newTestService(store, sum, DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, _, err := svc.GenerateSummary(ctx, "U1", "R1")
		done <- result{text, err}
	}()

	select {
	case <-sum.started:
	case <-ctx.Done():
		t.Fatal("summarizer was never called")
	}
	if _, _, err := svc.Update(ctx, "U1", "R1", Patch{Description: strPtr("Revised note.")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	close(sum.release)

	res := <-done
	if res.err != nil {
		t.Fatalf("GenerateSummary: %v", res.err)
	}

	got, _, _ := store.Get(context.Background(), "R1")
	if got.Description != "Revised note." {
		t.Errorf("Description = %q, want edit made during the call to survive", got.Description)
	}
	if got.Summary == nil || *got.Summary != "Generated." {
		t.Errorf("Summary = %v, want %q", got.Summary, "Generated.")
	}
}

// interleavingStore runs between once, right after the first Get returns.
type interleavingStore struct {
	*mockStore
	once    sync.Once
	between func()
}

func (s *interleavingStore) Get(ctx context.Context, id string) (*Incident, bool, error) {
	inc, ok, err := s.mockStore.Get(ctx, id)
	s.once.Do(s.between)
	return inc, ok, err
}

func TestUpdate_DoesNotRewriteSummary(t *testing.T) {
	t.Parallel()

	base := newMockStore()
	base.seed(&Incident{ID: "R1", OwnerID: "U1", Category: "Fall", Description: "d"})
	store := &interleavingStore{mockStore: base}
	store.between = func() {
		// a summary lands after Update has loaded the record
		if _, err := base.Update(context.Background(), "R1", Patch{Summary: strPtr("Generated.")}); err != nil {
			t.Errorf("seed summary: %v", err)
		}
	}
	svc := newTestService(store, &mockSummarizer{}, DefaultOptions())

	got, _, err := svc.Update(context.Background(), "U1", "R1", Patch{Category: strPtr("Medication")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Category != "Medication" {
		t.Errorf("Category = %q, want Medication", got.Category)
	}
	if got.Summary == nil || *got.Summary != "Generated." {
		t.Errorf("Summary = %v, want generated summary kept", got.Summary)
	}
}

func spanAttrs(s tracetest.SpanStub) map[string]any {
	attrs := make(map[string]any)
	for _, a := range s.Attributes {
		attrs[string(a.Key)] = a.Value.AsInterface()
	}
	return attrs
}

func TestService_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	ctx := context.Background()

	t.Run("create", func(t *testing.T) {
		exporter.Reset()
		svc := newTestService(newMockStore(), &mockSummarizer{}, DefaultOptions())
		if _, err := svc.Create(ctx, "U1", NewIncident{ID: "482913", Category: "Fall", Description: "d"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
		spans := exporter.GetSpans()
		if len(spans) != 1 || spans[0].Name != "incident.Create" {
			t.Fatalf("spans = %v, want one incident.Create", spans)
		}
		if v := spanAttrs(spans[0])["medlog.incident.id"]; v != "482913" {
			t.Errorf("medlog.incident.id = %v, want 482913", v)
		}
		if spans[0].Status.Code == codes.Error {
			t.Error("successful create has error status")
		}
	})

	t.Run("get not found", func(t *testing.T) {
		exporter.Reset()
		svc := newTestService(newMockStore(), &mockSummarizer{}, DefaultOptions())
		if _, ok, err := svc.Get(ctx, "U1", "missing"); ok || err != nil {
			t.Fatalf("Get = ok:%v err:%v", ok, err)
		}
		spans := exporter.GetSpans()
		if len(spans) != 1 || spans[0].Name != "incident.Get" {
			t.Fatalf("spans = %v, want one incident.Get", spans)
		}
		attrs := spanAttrs(spans[0])
		if v, ok := attrs["medlog.incident.found"]; !ok || v != false {
			t.Errorf("medlog.incident.found = %v, want false", v)
		}
		if spans[0].Status.Code == codes.Error {
			t.Error("not found is not an error")
		}
	})

	t.Run("summarizer failure", func(t *testing.T) {
		exporter.Reset()
		store := newMockStore()
		store.seed(&Incident{ID: "R1", OwnerID: "U1", Category: "Fall", Description: "d"})
		svc := newTestService(store, &mockSummarizer{err: errors.New("upstream 529")}, DefaultOptions())
		_, _, err := svc.GenerateSummary(ctx, "U1", "R1")
		var se *SummarizationError
		if !errors.As(err, &se) {
			t.Fatalf("err = %v, want *SummarizationError", err)
		}
		spans := exporter.GetSpans()
		if len(spans) != 1 || spans[0].Name != "incident.GenerateSummary" {
			t.Fatalf("spans = %v, want one incident.GenerateSummary", spans)
		}
		if spans[0].Status.Code != codes.Error {
			t.Errorf("status = %v, want Error", spans[0].Status.Code)
		}
		if v := spanAttrs(spans[0])["medlog.incident.id"]; v != "R1" {
			t.Errorf("medlog.incident.id = %v, want R1", v)
		}
		if len(spans[0].Events) == 0 {
			t.Error("expected a recorded error event")
		}
	})
}
