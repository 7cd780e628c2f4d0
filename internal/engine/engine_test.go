// File path: internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"formloop/internal/llm"
	"formloop/internal/registry"
	"formloop/internal/schema"
	"formloop/internal/store"
)

const testTemplate = `{
  "Details in Subscription Booklet": {
    "investorFullLegalName_ID": {"value": ""},
    "emailAddress_ID": {"value": ""},
    "phoneNumber_ID": {"value": ""},
    "registered_address_ID": {"value": ""},
    "mailing_address_ID": {"value": ""}
  },
  "Share Class": {
    "class_a": {"value": ""},
    "class_b": {"value": ""},
    "class_c": {"value": ""}
  }
}`

const testMandatory = `{
  "Type of Investors": {
    "Individual": {
      "Name": "investorFullLegalName_ID",
      "Email": "emailAddress_ID",
      "Phone": "phoneNumber_ID",
      "Registered Address": "registered_address_ID",
      "Mailing Address": "mailing_address_ID",
      "Share Class": ""
    },
    "Ghost": {
      "Name": "doesNotExist_ID"
    }
  }
}`

// scriptedProvider replays canned responses in order, then repeats the last
// one. err short-circuits every call.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	return p.responses[i], nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func newTestEngine(t *testing.T, provider llm.Provider) (*Engine, *store.FSStore, registry.Registry) {
	t.Helper()
	template, err := schema.ParseTree([]byte(testTemplate))
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	mandatory, err := schema.ParseTree([]byte(testMandatory))
	if err != nil {
		t.Fatalf("parse mandatory: %v", err)
	}
	blobs, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	reg := registry.NewMemoryRegistry()
	e, err := New(Config{Template: template, Mandatory: mandatory}, provider, blobs, reg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, blobs, reg
}

func failingProvider() *scriptedProvider {
	return &scriptedProvider{err: errors.New("model unavailable")}
}

func TestCategories(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	got := e.Categories()
	want := []string{"Individual", "Ghost"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestInitRejectsUnknownCategory(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	if _, err := e.Init(context.Background(), "Martian"); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestInitRefusesEmptyRequiredSet(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	if _, err := e.Init(context.Background(), "Ghost"); !errors.Is(err, ErrNoMandatoryFields) {
		t.Fatalf("expected ErrNoMandatoryFields, got %v", err)
	}
}

func TestInitResolvesRequiredSet(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	res, err := e.Init(context.Background(), "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if res.SessionID == "" {
		t.Fatal("expected a session id")
	}
	// 5 identifiers plus the 3 Share Class section paths.
	if res.Progress.Mandatory.Total != 8 {
		t.Fatalf("expected 8 required fields, got %d", res.Progress.Mandatory.Total)
	}
	if res.Progress.Mandatory.Filled != 0 || res.Progress.AllMandatoryFilled {
		t.Fatalf("fresh session should be empty: %+v", res.Progress)
	}
	if len(res.Missing.BooleanGroups["Share Class"]) != 3 {
		t.Fatalf("expected 3 Share Class options, got %+v", res.Missing.BooleanGroups)
	}
}

func TestChatFallbackExtractionMergesEmail(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	ctx := context.Background()
	res, err := e.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	chat, err := e.Chat(ctx, res.SessionID, "You can reach me at jane@example.com")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	emailPath := "Details in Subscription Booklet.emailAddress_ID.value"
	if chat.Extracted[emailPath] != "jane@example.com" {
		t.Fatalf("fallback did not recover the email: %+v", chat.Extracted)
	}
	if chat.Followup == "" {
		t.Fatal("expected a canned follow-up")
	}
	value, err := e.FieldValue(ctx, res.SessionID, emailPath)
	if err != nil {
		t.Fatalf("field value: %v", err)
	}
	if value != "jane@example.com" {
		t.Fatalf("merge did not reach the fill state: %v", value)
	}
	if chat.Progress.Mandatory.Filled < 1 {
		t.Fatalf("expected at least 1 filled field, got %+v", chat.Progress)
	}
}

func TestChatLLMExtractionAndMissingMonotonicity(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"Details in Subscription Booklet.investorFullLegalName_ID.value": "Jane Doe"}`,
		"Thanks! What's your email address?",
	}}
	e, _, _ := newTestEngine(t, provider)
	ctx := context.Background()
	res, err := e.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	before := res.Progress.Mandatory.Missing
	chat, err := e.Chat(ctx, res.SessionID, "My name is Jane Doe")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if chat.Progress.Mandatory.Missing > before {
		t.Fatalf("missing count increased: %d -> %d", before, chat.Progress.Mandatory.Missing)
	}
	if chat.Progress.Mandatory.Missing != before-1 {
		t.Fatalf("expected one fewer missing field, got %+v", chat.Progress)
	}
	if chat.Followup != "Thanks! What's your email address?" {
		t.Fatalf("unexpected follow-up: %q", chat.Followup)
	}
}

func TestChatDropsInvalidExtractedPhone(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"Details in Subscription Booklet.phoneNumber_ID.value": "12345"}`,
		"Could you share that number with a country code?",
	}}
	e, _, _ := newTestEngine(t, provider)
	ctx := context.Background()
	res, err := e.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	chat, err := e.Chat(ctx, res.SessionID, "call me on 12345")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if _, ok := chat.Extracted["Details in Subscription Booklet.phoneNumber_ID.value"]; ok {
		t.Fatalf("invalid phone survived validation: %+v", chat.Extracted)
	}
	value, err := e.FieldValue(ctx, res.SessionID, "Details in Subscription Booklet.phoneNumber_ID.value")
	if err != nil {
		t.Fatalf("field value: %v", err)
	}
	if value != "" {
		t.Fatalf("invalid phone merged anyway: %v", value)
	}
}

func TestFillTextRejectsForeignPath(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	ctx := context.Background()
	res, err := e.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := e.FillText(ctx, res.SessionID, "Nope.value", "x"); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
	// State unchanged: nothing filled.
	status, err := e.Status(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Progress.Mandatory.Filled != 0 {
		t.Fatalf("rejected fill mutated state: %+v", status.Progress)
	}
}

func TestFillSequentialPhoneValidation(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	ctx := context.Background()
	res, err := e.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	phonePath := "Details in Subscription Booklet.phoneNumber_ID.value"
	if _, err := e.FillSequential(ctx, res.SessionID, phonePath, "9876543210"); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}
	if _, err := e.FillSequential(ctx, res.SessionID, phonePath, "+1 987 654 3210"); err != nil {
		t.Fatalf("valid phone rejected: %v", err)
	}
	value, err := e.FieldValue(ctx, res.SessionID, phonePath)
	if err != nil {
		t.Fatalf("field value: %v", err)
	}
	if value != "+1 987 654 3210" {
		t.Fatalf("phone not stored: %v", value)
	}
}

func TestFillMailingFromRegistered(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	ctx := context.Background()
	res, err := e.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	regPath := "Details in Subscription Booklet.registered_address_ID.value"
	mailPath := "Details in Subscription Booklet.mailing_address_ID.value"
	if _, err := e.FillText(ctx, res.SessionID, regPath, "12 Harbour St"); err != nil {
		t.Fatalf("fill registered: %v", err)
	}
	copied, err := e.FillMailingFromRegistered(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("copy mailing: %v", err)
	}
	if len(copied) != 1 || copied[0] != mailPath {
		t.Fatalf("unexpected copied set: %v", copied)
	}
	value, err := e.FieldValue(ctx, res.SessionID, mailPath)
	if err != nil {
		t.Fatalf("field value: %v", err)
	}
	if value != "12 Harbour St" {
		t.Fatalf("mailing address not copied: %v", value)
	}
}

func TestFillBooleanOverwritesWholeGroup(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	ctx := context.Background()
	res, err := e.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	first, err := e.FillBoolean(ctx, res.SessionID, "Share Class", []int{1, 3})
	if err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if first.SelectedCount != 2 {
		t.Fatalf("expected 2 selected, got %d", first.SelectedCount)
	}
	assertBool := func(path string, want bool) {
		t.Helper()
		value, err := e.FieldValue(ctx, res.SessionID, path)
		if err != nil {
			t.Fatalf("field value %s: %v", path, err)
		}
		if value != want {
			t.Fatalf("%s = %v, want %v", path, value, want)
		}
	}
	assertBool("Share Class.class_a.value", true)
	assertBool("Share Class.class_b.value", false)
	assertBool("Share Class.class_c.value", true)

	// A second fill with a different index set fully overwrites the first;
	// no stale true values survive.
	if _, err := e.FillBoolean(ctx, res.SessionID, "Share Class", []int{2}); err != nil {
		t.Fatalf("second fill: %v", err)
	}
	assertBool("Share Class.class_a.value", false)
	assertBool("Share Class.class_b.value", true)
	assertBool("Share Class.class_c.value", false)
}

func TestMissingViewIndicesMatchFillBoolean(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	ctx := context.Background()
	res, err := e.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	// Pre-fill one member so the missing subset no longer equals the group.
	if _, err := e.FillText(ctx, res.SessionID, "Share Class.class_a.value", true); err != nil {
		t.Fatalf("pre-fill: %v", err)
	}
	miss, err := e.Missing(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	options := miss.Missing.BooleanGroups["Share Class"]
	if len(options) != 3 {
		t.Fatalf("group view must cover all members, got %+v", options)
	}
	var idx int
	for _, opt := range options {
		if opt.Key == "Share Class.class_b.value" {
			idx = opt.Index
		}
	}
	if idx == 0 {
		t.Fatalf("class_b not presented: %+v", options)
	}
	// Selecting the advertised index must set the advertised field.
	if _, err := e.FillBoolean(ctx, res.SessionID, "Share Class", []int{idx}); err != nil {
		t.Fatalf("fill boolean: %v", err)
	}
	assertBool := func(path string, want bool) {
		t.Helper()
		value, err := e.FieldValue(ctx, res.SessionID, path)
		if err != nil {
			t.Fatalf("field value %s: %v", path, err)
		}
		if value != want {
			t.Fatalf("%s = %v, want %v", path, value, want)
		}
	}
	assertBool("Share Class.class_a.value", false)
	assertBool("Share Class.class_b.value", true)
	assertBool("Share Class.class_c.value", false)
}

func TestFillBooleanRejectsUnknownGroupAndBadIndex(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	ctx := context.Background()
	res, err := e.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := e.FillBoolean(ctx, res.SessionID, "Wine List", []int{1}); !errors.Is(err, ErrInvalidGroup) {
		t.Fatalf("expected ErrInvalidGroup, got %v", err)
	}
	if _, err := e.FillBoolean(ctx, res.SessionID, "Share Class", []int{4}); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
	// Rejected fills leave the group untouched.
	value, err := e.FieldValue(ctx, res.SessionID, "Share Class.class_a.value")
	if err != nil {
		t.Fatalf("field value: %v", err)
	}
	if value != "" {
		t.Fatalf("rejected fill mutated state: %v", value)
	}
}

func TestStatusIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	ctx := context.Background()
	res, err := e.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := e.FillText(ctx, res.SessionID, "Details in Subscription Booklet.emailAddress_ID.value", "a@b.co"); err != nil {
		t.Fatalf("fill: %v", err)
	}
	first, err := e.Status(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := e.Status(ctx, res.SessionID)
		if err != nil {
			t.Fatalf("status %d: %v", i, err)
		}
		if again.Progress != first.Progress {
			t.Fatalf("status drifted: %+v vs %+v", again.Progress, first.Progress)
		}
	}
}

func TestCompleteFinalizesAndGuardsMutation(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	ctx := context.Background()
	res, err := e.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	namePath := "Details in Subscription Booklet.investorFullLegalName_ID.value"
	if _, err := e.FillText(ctx, res.SessionID, namePath, "Jane Doe"); err != nil {
		t.Fatalf("fill: %v", err)
	}
	done, err := e.Complete(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	section := done.FormData.Child("Details in Subscription Booklet")
	if section == nil {
		t.Fatal("nested artifact lost its top section")
	}
	leaf := section.Child("investorFullLegalName_ID")
	if leaf == nil {
		t.Fatal("nested artifact lost the name leaf")
	}
	if v, _ := leaf.Get("value"); v != "Jane Doe" {
		t.Fatalf("artifact value = %v", v)
	}
	if len(done.Events) == 0 {
		t.Fatal("expected event log in the artifact")
	}
	if done.Events[0]["investor_type"] != "Individual" {
		t.Fatalf("first event should record the category: %+v", done.Events[0])
	}

	if _, err := e.FillText(ctx, res.SessionID, namePath, "Other"); !errors.Is(err, ErrSessionFinalized) {
		t.Fatalf("expected ErrSessionFinalized, got %v", err)
	}
	// Complete is idempotent.
	if _, err := e.Complete(ctx, res.SessionID); err != nil {
		t.Fatalf("second complete: %v", err)
	}
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	e, _, _ := newTestEngine(t, failingProvider())
	if _, err := e.Status(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRehydrateFromPersistedArtifacts(t *testing.T) {
	template, err := schema.ParseTree([]byte(testTemplate))
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	mandatory, err := schema.ParseTree([]byte(testMandatory))
	if err != nil {
		t.Fatalf("parse mandatory: %v", err)
	}
	blobs, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	reg := registry.NewMemoryRegistry()
	cfg := Config{Template: template, Mandatory: mandatory}
	ctx := context.Background()

	first, err := New(cfg, failingProvider(), blobs, reg)
	if err != nil {
		t.Fatalf("first engine: %v", err)
	}
	res, err := first.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	emailPath := "Details in Subscription Booklet.emailAddress_ID.value"
	if _, err := first.FillText(ctx, res.SessionID, emailPath, "jane@example.com"); err != nil {
		t.Fatalf("fill: %v", err)
	}

	// A second engine sharing only the store and registry, as a fresh
	// serverless invocation would.
	second, err := New(cfg, failingProvider(), blobs, reg)
	if err != nil {
		t.Fatalf("second engine: %v", err)
	}
	status, err := second.Status(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("status after rehydrate: %v", err)
	}
	if status.Category != "Individual" {
		t.Fatalf("category lost in rehydrate: %+v", status)
	}
	if status.Progress.Mandatory.Filled != 1 {
		t.Fatalf("fill state lost in rehydrate: %+v", status.Progress)
	}
	value, err := second.FieldValue(ctx, res.SessionID, emailPath)
	if err != nil {
		t.Fatalf("field value: %v", err)
	}
	if value != "jane@example.com" {
		t.Fatalf("rehydrated value = %v", value)
	}
}

func TestDeleteEvictsEverywhere(t *testing.T) {
	e, blobs, reg := newTestEngine(t, failingProvider())
	ctx := context.Background()
	res, err := e.Init(ctx, "Individual")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := e.Delete(ctx, res.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.Status(ctx, res.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := reg.Get(ctx, res.SessionID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("registry record survived delete: %v", err)
	}
	if _, err := blobs.Get(ctx, liveFillKey(res.SessionID)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("fill artifact survived delete: %v", err)
	}
}
