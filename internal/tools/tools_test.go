package tools

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/threadwise/internal/fault"
	"github.com/haasonsaas/threadwise/pkg/models"
)

type fakeTool struct {
	name     string
	keywords []string
	schema   string
	fn       func(ctx context.Context, params models.Params) (string, error)
	calls    int
	last     models.Params
}

func (f *fakeTool) Name() string            { return f.name }
func (f *fakeTool) Description() string     { return "fake " + f.name }
func (f *fakeTool) Keywords() []string      { return f.keywords }
func (f *fakeTool) Schema() json.RawMessage { return json.RawMessage(f.schema) }

func (f *fakeTool) Execute(ctx context.Context, params models.Params) (string, error) {
	f.calls++
	f.last = params
	if f.fn == nil {
		return "ok:" + f.name, nil
	}
	return f.fn(ctx, params)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ToolExecuted(tool string, success bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	status := "ok"
	if !success {
		status = "fail"
	}
	o.calls = append(o.calls, tool+":"+status)
}

const limitSchema = `{
	"type": "object",
	"properties": {
		"limit": {"type": "integer", "minimum": 1, "maximum": 100},
		"channel_id": {"type": "string"}
	},
	"required": ["channel_id"]
}`

func mustRegister(t *testing.T, r *Registry, tools ...Tool) {
	t.Helper()
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register(%s) error = %v", tool.Name(), err)
		}
	}
}

func testThread() *models.ThreadContext {
	return &models.ThreadContext{ChannelID: "C1", ThreadTS: "1700000000.000100"}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r,
		&fakeTool{name: "summarize_messages"},
		&fakeTool{name: "fetch_slack_messages", schema: limitSchema},
	)

	if got := r.Names(); !reflect.DeepEqual(got, []string{"fetch_slack_messages", "summarize_messages"}) {
		t.Errorf("Names() = %v", got)
	}
	if tools := r.Tools(); len(tools) != 2 || tools[0].Name() != "fetch_slack_messages" {
		t.Errorf("Tools() order wrong")
	}
	if _, ok := r.Get("summarize_messages"); !ok {
		t.Error("Get() missing tool")
	}

	err := r.Register(&fakeTool{name: "broken", schema: `{"type": 12}`})
	if !fault.IsKind(err, fault.KindConfiguration) {
		t.Errorf("Register(bad schema) error = %v, want configuration", err)
	}
	if err := r.Register(&fakeTool{name: "  "}); !fault.IsKind(err, fault.KindConfiguration) {
		t.Errorf("Register(empty name) error = %v", err)
	}

	if !r.Unregister("summarize_messages") || r.Unregister("summarize_messages") {
		t.Error("Unregister() should succeed once")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d", r.Len())
	}
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, &fakeTool{name: "fetch_slack_messages", schema: limitSchema}, &fakeTool{name: "free"})

	tests := []struct {
		name   string
		tool   string
		params models.Params
		kind   fault.Kind
	}{
		{"valid", "fetch_slack_messages", models.Params{"channel_id": models.String("C1"), "limit": models.Int(10)}, ""},
		{"extra keys allowed", "fetch_slack_messages", models.Params{"channel_id": models.String("C1"), "style": models.String("brief")}, ""},
		{"limit too large", "fetch_slack_messages", models.Params{"channel_id": models.String("C1"), "limit": models.Int(500)}, fault.KindInvalidInput},
		{"missing required", "fetch_slack_messages", models.Params{"limit": models.Int(5)}, fault.KindInvalidInput},
		{"wrong type", "fetch_slack_messages", models.Params{"channel_id": models.Int(1)}, fault.KindInvalidInput},
		{"no schema", "free", models.Params{"anything": models.Bool(true)}, ""},
		{"unknown tool", "nope", nil, fault.KindToolError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(tt.tool, tt.params)
			if got := fault.KindOf(err); got != tt.kind {
				t.Errorf("Validate() kind = %q, want %q (err %v)", got, tt.kind, err)
			}
		})
	}
}

func selectorRegistry(t *testing.T) *Registry {
	r := NewRegistry()
	mustRegister(t, r,
		&fakeTool{name: "fetch_slack_messages", keywords: []string{"message_count", "channel_reference"}},
		&fakeTool{name: "summarize_messages", keywords: []string{"style"}},
		&fakeTool{name: "analyze_conversation", keywords: []string{"topics"}},
		&fakeTool{name: "get_participant_info", keywords: []string{"user_reference"}},
	)
	return r
}

func TestSelector_Select(t *testing.T) {
	s := NewSelector(selectorRegistry(t))

	tests := []struct {
		name   string
		intent models.UserIntent
		want   []string
	}{
		{
			name: "summarization",
			intent: models.UserIntent{
				Primary:         models.IntentSummarization,
				Confidence:      0.95,
				ToolSuggestions: []string{"fetch_slack_messages", "summarize_messages"},
				Parameters:      models.Params{"message_count": models.Int(10)},
			},
			want: []string{"fetch_slack_messages", "summarize_messages"},
		},
		{
			name: "keyword mapping",
			intent: models.UserIntent{
				Primary:         models.IntentAnalysis,
				Confidence:      0.9,
				ToolSuggestions: []string{"fetch_slack_messages", "analyze_conversation"},
				Parameters:      models.Params{"user_reference": models.String("@bob")},
			},
			want: []string{"fetch_slack_messages", "analyze_conversation", "get_participant_info"},
		},
		{
			name: "lookup adds table tool",
			intent: models.UserIntent{
				Primary:         models.IntentInformationLookup,
				Confidence:      0.75,
				ToolSuggestions: []string{"fetch_slack_messages"},
			},
			want: []string{"fetch_slack_messages", "get_participant_info"},
		},
		{
			name:   "ambiguous gets one fallback",
			intent: models.UserIntent{Primary: models.IntentAmbiguous},
			want:   []string{"fetch_slack_messages", "get_participant_info"},
		},
		{
			name:   "low confidence greeting gets fallback",
			intent: models.UserIntent{Primary: models.IntentGreeting, Confidence: 0.5},
			want:   []string{"fetch_slack_messages"},
		},
		{
			name: "capped",
			intent: models.UserIntent{
				Primary:         models.IntentSummarization,
				Confidence:      0.5,
				ToolSuggestions: []string{"fetch_slack_messages", "summarize_messages"},
				Parameters: models.Params{
					"user_reference": models.String("@a"),
					"style":          models.String("brief"),
					"topics":         models.Bool(true),
				},
			},
			want: []string{"fetch_slack_messages", "summarize_messages", "analyze_conversation"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Select(tt.intent); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Select() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelector_HighConfidenceGreetingSelectsNothing(t *testing.T) {
	s := NewSelector(selectorRegistry(t))
	got := s.Select(models.UserIntent{Primary: models.IntentGreeting, Confidence: 0.9})
	if len(got) != 0 {
		t.Errorf("Select() = %v, want none", got)
	}
}

func TestSelector_Rebuild(t *testing.T) {
	r := NewRegistry()
	s := NewSelector(r)
	intent := models.UserIntent{
		Primary:    models.IntentGreeting,
		Confidence: 0.9,
		Parameters: models.Params{"time_reference": models.String("today")},
	}
	if got := s.Select(intent); len(got) != 0 {
		t.Fatalf("Select() before rebuild = %v", got)
	}

	mustRegister(t, r, &fakeTool{name: "timeline", keywords: []string{"Time_Reference"}})
	s.Rebuild()
	if got := s.Select(intent); !reflect.DeepEqual(got, []string{"timeline"}) {
		t.Errorf("Select() after rebuild = %v", got)
	}
}

func newManager(clock *testClock) *ContextManager {
	return NewContextManager(ManagerConfig{}, WithManagerClock(clock.Now))
}

func TestExecutor_StopsAfterThreeErrors(t *testing.T) {
	r := NewRegistry()
	var names []string
	var tools []*fakeTool
	for _, n := range []string{"t1", "t2", "t3", "t4", "t5"} {
		ft := &fakeTool{name: n, fn: func(context.Context, models.Params) (string, error) {
			return "", errors.New("boom")
		}}
		tools = append(tools, ft)
		mustRegister(t, r, ft)
		names = append(names, n)
	}
	clock := newTestClock()
	ec := newManager(clock).Create(models.UserIntent{Primary: models.IntentAnalysis}, testThread(), "U1")
	obs := &recordingObserver{}

	NewExecutor(r, WithObserver(obs), WithExecutorClock(clock.Now)).Execute(context.Background(), names, ec)

	if got := ec.ToolsExecuted(); !reflect.DeepEqual(got, []string{"t1", "t2", "t3"}) {
		t.Errorf("ToolsExecuted() = %v", got)
	}
	if len(ec.Errors()) != 3 {
		t.Errorf("errors = %v", ec.Errors())
	}
	if tools[3].calls != 0 || tools[4].calls != 0 {
		t.Error("tools after the error budget were called")
	}
	if !strings.HasPrefix(ec.Errors()[0], "Tool t1 failed: ") {
		t.Errorf("error message = %q", ec.Errors()[0])
	}
	failed := ec.FailedResults()
	if len(failed) != 3 || failed[0].Metadata["error_kind"] != string(fault.KindToolError) {
		t.Errorf("failed = %+v", failed)
	}
	if len(obs.calls) != 3 || obs.calls[0] != "t1:fail" {
		t.Errorf("observer = %v", obs.calls)
	}
}

func TestExecutor_MissingTool(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, &fakeTool{name: "present"})
	ec := newManager(newTestClock()).Create(models.UserIntent{Primary: models.IntentAnalysis}, testThread(), "U1")

	NewExecutor(r).Execute(context.Background(), []string{"absent", "present"}, ec)

	res, ok := ec.Result("absent")
	if !ok || res.Success || res.Error != "Tool absent not found in registry" {
		t.Errorf("absent result = %+v", res)
	}
	if !ec.HasSuccessfulResults() {
		t.Error("present tool did not succeed")
	}
	if ok := ec.SuccessfulResults(); len(ok) != 1 || ok[0].Data != "ok:present" {
		t.Errorf("SuccessfulResults() = %+v", ok)
	}
}

func TestExecutor_PlanTimeout(t *testing.T) {
	clock := newTestClock()
	r := NewRegistry()
	slow := &fakeTool{name: "slow", fn: func(context.Context, models.Params) (string, error) {
		clock.Advance(31 * time.Second)
		return "done", nil
	}}
	next := &fakeTool{name: "next"}
	mustRegister(t, r, slow, next)
	ec := newManager(clock).Create(models.UserIntent{Primary: models.IntentAnalysis}, testThread(), "U1")

	NewExecutor(r, WithExecutorClock(clock.Now)).Execute(context.Background(), []string{"slow", "next"}, ec)

	if next.calls != 0 {
		t.Error("tool ran after the plan timeout")
	}
	res, _ := ec.Result("slow")
	if !res.Success || res.ExecutionTime != 31*time.Second {
		t.Errorf("slow result = %+v", res)
	}
}

func TestExecutor_ToolTimeoutAndPanic(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r,
		&fakeTool{name: "hang", fn: func(ctx context.Context, _ models.Params) (string, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return "late", nil
		}},
		&fakeTool{name: "explode", fn: func(context.Context, models.Params) (string, error) {
			panic("kaboom")
		}},
	)
	ec := newManager(newTestClock()).Create(models.UserIntent{Primary: models.IntentAnalysis}, testThread(), "U1")

	NewExecutor(r, WithToolTimeout(20*time.Millisecond)).Execute(context.Background(), []string{"hang", "explode"}, ec)

	hang, _ := ec.Result("hang")
	if hang.Success || hang.Metadata["error_kind"] != string(fault.KindTimeout) {
		t.Errorf("hang = %+v", hang)
	}
	boom, _ := ec.Result("explode")
	if boom.Success || boom.Metadata["error_kind"] != string(fault.KindInternal) || !strings.Contains(boom.Error, "kaboom") {
		t.Errorf("explode = %+v", boom)
	}
}

func TestExecutor_InvalidParams(t *testing.T) {
	r := NewRegistry()
	ft := &fakeTool{name: "fetch_slack_messages", schema: limitSchema}
	mustRegister(t, r, ft)
	intent := models.UserIntent{
		Primary:    models.IntentSummarization,
		Parameters: models.Params{"limit": models.Int(1000)},
	}
	ec := newManager(newTestClock()).Create(intent, testThread(), "U1")

	NewExecutor(r).Execute(context.Background(), []string{"fetch_slack_messages"}, ec)

	if ft.calls != 0 {
		t.Error("tool executed with invalid params")
	}
	res, _ := ec.Result("fetch_slack_messages")
	if res.Success || res.Metadata["error_kind"] != string(fault.KindInvalidInput) {
		t.Errorf("result = %+v", res)
	}
}

func TestCallParams(t *testing.T) {
	m := newManager(newTestClock())

	ec := m.Create(models.UserIntent{Parameters: models.Params{"message_count": models.Int(25), "style": models.String("brief")}}, testThread(), "U7")
	p := CallParams(ec)
	if p.StringOr("channel_id", "") != "C1" || p.StringOr("thread_ts", "") != "1700000000.000100" || p.StringOr("user_id", "") != "U7" {
		t.Errorf("coordinates = %v", p.ToMap())
	}
	if p.IntOr("limit", 0) != 25 || p.StringOr("style", "") != "brief" {
		t.Errorf("params = %v", p.ToMap())
	}

	ec = m.Create(models.UserIntent{}, nil, "")
	if got := CallParams(ec).IntOr("limit", 0); got != DefaultLimit {
		t.Errorf("default limit = %d", got)
	}

	ec.UpdateParameter("limit", models.Int(3))
	if got := CallParams(ec).IntOr("limit", 0); got != 3 {
		t.Errorf("explicit limit = %d", got)
	}
}

func TestExecutor_CannedResponses(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		mustRegister(t, r, &fakeTool{name: n})
	}
	m := newManager(newTestClock())
	exec := NewExecutor(r)

	tests := []struct {
		intent models.IntentType
		tool   string
		check  func(string) bool
	}{
		{models.IntentGreeting, GreetingTool, func(s string) bool { return strings.HasPrefix(s, "Hello!") }},
		{models.IntentHelp, HelpTool, func(s string) bool { return strings.HasSuffix(s, "a, b, c, d, e") }},
		{models.IntentAmbiguous, ClarificationTool, func(s string) bool { return strings.Contains(s, "more specific") }},
		{models.IntentUnknown, ClarificationTool, func(s string) bool { return s != "" }},
	}
	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			ec := m.Create(models.UserIntent{Primary: tt.intent}, testThread(), "U1")
			exec.Execute(context.Background(), nil, ec)
			res, ok := ec.Result(tt.tool)
			if !ok || !res.Success || !tt.check(res.Data) {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestExecutionContext_AddResult(t *testing.T) {
	ec := newManager(newTestClock()).Create(models.UserIntent{}, testThread(), "U1")

	ec.AddResult(models.ToolResult{ToolName: "x"})
	ec.AddResult(models.SuccessResult("x", "second", 0))

	res, _ := ec.Result("x")
	if !res.Success || res.Data != "second" {
		t.Errorf("result not overwritten: %+v", res)
	}
	if got := ec.ToolsExecuted(); len(got) != 2 {
		t.Errorf("ToolsExecuted() = %v", got)
	}
	if errs := ec.Errors(); len(errs) != 1 || errs[0] != "Tool x failed: "+models.DefaultToolError {
		t.Errorf("Errors() = %v", errs)
	}
	if len(ec.FailedResults()) != 0 || len(ec.SuccessfulResults()) != 1 {
		t.Error("filters should reflect the latest result")
	}
	sum := ec.Summary()
	if sum.ToolsSucceeded != 1 || sum.ErrorCount != 1 {
		t.Errorf("Summary() = %+v", sum)
	}
}

func TestContextManager(t *testing.T) {
	clock := newTestClock()
	m := NewContextManager(ManagerConfig{MaxContexts: 2}, WithManagerClock(clock.Now))
	intent := models.UserIntent{Primary: models.IntentHelp, Parameters: models.Params{"style": models.String("brief")}}

	a := m.Create(intent, testThread(), "U1")
	b := m.Create(intent, testThread(), "U1")
	if a.ID == b.ID {
		t.Fatalf("duplicate ids %s", a.ID)
	}
	if !strings.HasPrefix(a.ID, "C1_1700000000.000100_") {
		t.Errorf("id = %s", a.ID)
	}
	if a.Parameters().StringOr("style", "") != "brief" {
		t.Error("intent parameters not copied")
	}

	clock.Advance(2 * time.Hour)
	c := m.Create(intent, testThread(), "U1")
	if m.Len() != 1 {
		t.Errorf("Len() = %d after eviction at cap, want 1", m.Len())
	}
	if _, ok := m.Get(c.ID); !ok {
		t.Error("new context not tracked")
	}

	if !m.Remove(c.ID) || m.Remove(c.ID) {
		t.Error("Remove() should succeed once")
	}

	m.Create(intent, testThread(), "U1")
	clock.Advance(10 * time.Minute)
	m.Create(intent, testThread(), "U1")
	if n := m.EvictOlderThan(5 * time.Minute); n != 1 {
		t.Errorf("EvictOlderThan() = %d, want 1", n)
	}
}

func TestCallWithBudget(t *testing.T) {
	var seen []fault.Kind
	onError := func(err *fault.Error) { seen = append(seen, err.Kind) }

	ok := CallWithBudget(context.Background(), func(context.Context) (int, error) { return 42, nil }, time.Second, onError)
	if v, err := ok.Unwrap(); err != nil || v != 42 {
		t.Errorf("success = %v, %v", v, err)
	}

	failed := CallWithBudget(context.Background(), func(context.Context) (int, error) {
		return 0, errors.New("bad")
	}, time.Second, onError)
	if failed.IsOk() || failed.Err.Kind != fault.KindToolError {
		t.Errorf("plain error = %+v", failed.Err)
	}

	classified := CallWithBudget(context.Background(), func(context.Context) (int, error) {
		return 0, fault.New(fault.KindRateLimit, "slow down")
	}, 0, onError)
	if classified.Err.Kind != fault.KindRateLimit {
		t.Errorf("classified = %+v", classified.Err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cancelled := CallWithBudget(ctx, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, time.Second, onError)
	if cancelled.IsOk() {
		t.Error("cancelled call succeeded")
	}

	if len(seen) != 3 || seen[0] != fault.KindToolError || seen[1] != fault.KindRateLimit {
		t.Errorf("onError saw %v", seen)
	}
}
