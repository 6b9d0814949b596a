package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetsync/internal/mapping"
)

// ----------------------------------------------------------------------------
// Fakes
// ----------------------------------------------------------------------------

type fakeFiles struct {
	files map[string][]byte
	err   error
	block chan struct{} // when set, downloads wait for it to close
}

func (f *fakeFiles) DownloadFile(ctx context.Context, fileKey string) ([]byte, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.files[fileKey]
	if !ok {
		return nil, fmt.Errorf("%w: file %s not found", ErrExternal, fileKey)
	}
	return data, nil
}

type fakeSchemas struct {
	schema TableSchema
	calls  int
	mu     sync.Mutex
}

func (f *fakeSchemas) TableSchema(ctx context.Context, appID string) (TableSchema, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.schema, nil
}

type fakeSink struct {
	mu      sync.Mutex
	appID   string
	records []Record
	calls   int
	posted  []string
	err     error
}

func (f *fakeSink) AddRecords(ctx context.Context, appID string, records []Record) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.appID = appID
	f.records = append(f.records, records...)
	ids := make([]string, len(records))
	for i := range records {
		ids[i] = fmt.Sprintf("%d", 100+i)
	}
	return ids, nil
}

func (f *fakeSink) PostedFileNames(ctx context.Context, appID, holderCode string, names []string) ([]string, error) {
	var out []string
	for _, n := range names {
		for _, p := range f.posted {
			if n == p {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

type fakeLedger struct {
	mu   sync.Mutex
	runs map[string]*RunResult
}

func (f *fakeLedger) RecordRun(ctx context.Context, run *RunResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = make(map[string]*RunResult)
	}
	f.runs[run.RunID] = run
	return nil
}

func (f *fakeLedger) GetRun(ctx context.Context, runID string) (*RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[runID]; ok {
		return r, nil
	}
	return nil, ErrRunNotFound
}

// ----------------------------------------------------------------------------
// Fixtures
// ----------------------------------------------------------------------------

func workbook(t *testing.T, values map[string]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for addr, v := range values {
		if err := f.SetCellValue("Sheet1", addr, v); err != nil {
			t.Fatalf("SetCellValue %s: %v", addr, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func testAppConfig() *mapping.AppConfig {
	until := mapping.CellRef{Row: 5, Col: 2, Address: "B5"}
	return &mapping.AppConfig{
		SourceAppID:           "10",
		DestinationApp:        "20",
		FileNameHolder:        "file_name",
		ReferenceHolder:       "source_ref",
		SourceAttachmentField: "attachments",
		SourceReferenceField:  "order_no",
		Rules: []mapping.Rule{
			{FieldCode: "company", FieldType: mapping.FieldSingleLineText, MapFrom: mapping.CellRef{Row: 1, Col: 2, Address: "B1"}},
			{FieldCode: "total", FieldType: mapping.FieldNumber, MapFrom: mapping.CellRef{Row: 2, Col: 2, Address: "B2"}},
			{
				FieldCode: "item", FieldType: mapping.FieldSingleLineText,
				IsTableField: true, ParentTable: "items",
				MapFrom: mapping.CellRef{Row: 3, Col: 2, Address: "B3"}, MapFromUntil: &until,
			},
		},
	}
}

func submission(files ...Attachment) SubmissionEvent {
	list := make([]any, len(files))
	for i, f := range files {
		list[i] = map[string]any{"fileKey": f.FileKey, "name": f.Name}
	}
	return SubmissionEvent{
		AppID: "10",
		Record: map[string]EventFieldValue{
			"$id":         {Type: "__ID__", Value: "7"},
			"order_no":    {Type: "SINGLE_LINE_TEXT", Value: "PO-1"},
			"attachments": {Type: "FILE", Value: list},
		},
	}
}

type harness struct {
	svc     *Service
	files   *fakeFiles
	schemas *fakeSchemas
	sink    *fakeSink
	ledger  *fakeLedger
}

func newHarness(t *testing.T, cfg ServiceConfig) *harness {
	t.Helper()
	reg := mapping.NewRegistry()
	if err := reg.Register(testAppConfig()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	h := &harness{
		files:   &fakeFiles{files: map[string][]byte{}},
		schemas: &fakeSchemas{schema: TableSchema{"items": {"item"}}},
		sink:    &fakeSink{},
		ledger:  &fakeLedger{},
	}
	svc, err := NewService(Deps{
		Registry: reg,
		Files:    h.files,
		Schemas:  h.schemas,
		Records:  h.sink,
		Ledger:   h.ledger,
	}, cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	return h
}

// ----------------------------------------------------------------------------
// Process
// ----------------------------------------------------------------------------

func TestService_ProcessSubmitsOneRecordPerWorkbook(t *testing.T) {
	h := newHarness(t, ServiceConfig{})
	h.files.files["k1"] = workbook(t, map[string]any{"B1": "Acme", "B2": 12.5, "B3": "bolt", "B5": "nut"})
	h.files.files["k2"] = workbook(t, map[string]any{"B1": "Globex", "B2": "n/a"})

	result, err := h.svc.Process(context.Background(), submission(
		Attachment{FileKey: "k1", Name: "a.xlsx"},
		Attachment{FileKey: "k2", Name: "b.xlsx"},
	))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.Phase != PhaseComplete {
		t.Errorf("Phase = %s, want %s", result.Phase, PhaseComplete)
	}
	if result.RecordsCreated != 2 {
		t.Errorf("RecordsCreated = %d, want 2", result.RecordsCreated)
	}
	if result.SourceRecordID != "PO-1" {
		t.Errorf("SourceRecordID = %q, want PO-1", result.SourceRecordID)
	}
	if h.sink.calls != 1 || h.sink.appID != "20" {
		t.Errorf("sink calls = %d app = %q, want one bulk submit to app 20", h.sink.calls, h.sink.appID)
	}
	if h.schemas.calls != 1 {
		t.Errorf("schema fetched %d times, want 1", h.schemas.calls)
	}

	first := h.sink.records[0]
	if first["company"].Value != "Acme" || first["total"].Value != "12.5" {
		t.Errorf("first record = %+v", first)
	}
	if first["file_name"].Value != "a.xlsx" || first["source_ref"].Value != "PO-1" {
		t.Errorf("holders = %+v / %+v", first["file_name"], first["source_ref"])
	}
	rows, ok := first["items"].Value.([]SubRow)
	if !ok || len(rows) != 2 {
		t.Errorf("items = %+v, want two sub-rows", first["items"].Value)
	}

	second := h.sink.records[1]
	if second["total"].Value != nil {
		t.Errorf("second total = %v, want nil", second["total"].Value)
	}
	if len(result.Files) != 2 || result.Files[1].RecordID != "101" {
		t.Errorf("files = %+v", result.Files)
	}
	if len(result.Files[1].Issues) == 0 {
		t.Error("expected a type mismatch issue for the second file")
	}

	if _, err := h.ledger.GetRun(context.Background(), result.RunID); err != nil {
		t.Errorf("run not recorded in ledger: %v", err)
	}
}

func TestService_ProcessWithoutAttachments(t *testing.T) {
	h := newHarness(t, ServiceConfig{})

	result, err := h.svc.Process(context.Background(), submission())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Phase != PhaseComplete || result.RecordsCreated != 0 {
		t.Errorf("result = %+v, want complete with no records", result)
	}
	if h.sink.calls != 0 {
		t.Errorf("sink called %d times, want 0", h.sink.calls)
	}
}

func TestService_ProcessUnknownApp(t *testing.T) {
	h := newHarness(t, ServiceConfig{})
	ev := submission()
	ev.AppID = "999"

	if _, err := h.svc.Process(context.Background(), ev); !errors.Is(err, mapping.ErrUnknownApp) {
		t.Errorf("error = %v, want ErrUnknownApp", err)
	}
}

func TestService_ProcessDownloadFailure(t *testing.T) {
	h := newHarness(t, ServiceConfig{})

	result, err := h.svc.Process(context.Background(), submission(Attachment{FileKey: "gone", Name: "a.xlsx"}))
	if !errors.Is(err, ErrExternal) {
		t.Fatalf("error = %v, want ErrExternal", err)
	}
	if result == nil || result.Phase != PhaseFailed || result.Error == "" {
		t.Errorf("result = %+v, want failed with error", result)
	}
	if h.sink.calls != 0 {
		t.Error("nothing should be submitted after a download failure")
	}
}

func TestService_ProcessFileTooLarge(t *testing.T) {
	h := newHarness(t, ServiceConfig{MaxFileSize: 10})
	h.files.files["k1"] = workbook(t, map[string]any{"B1": "Acme"})

	_, err := h.svc.Process(context.Background(), submission(Attachment{FileKey: "k1", Name: "a.xlsx"}))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("error = %v, want ErrFileTooLarge", err)
	}
}

func TestService_ProcessSkipsUnreadableWorkbook(t *testing.T) {
	h := newHarness(t, ServiceConfig{})
	h.files.files["bad"] = []byte("not a workbook")
	h.files.files["ok"] = workbook(t, map[string]any{"B1": "Acme"})

	result, err := h.svc.Process(context.Background(), submission(
		Attachment{FileKey: "bad", Name: "bad.xlsx"},
		Attachment{FileKey: "ok", Name: "ok.xlsx"},
	))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.RecordsCreated != 1 {
		t.Errorf("RecordsCreated = %d, want 1", result.RecordsCreated)
	}
	if result.Files[0].Error == "" || result.Files[0].RecordID != "" {
		t.Errorf("bad file result = %+v, want error and no record", result.Files[0])
	}
	if result.Files[1].RecordID != "100" {
		t.Errorf("ok file RecordID = %q, want 100", result.Files[1].RecordID)
	}
}

func TestService_ProcessSubmitFailure(t *testing.T) {
	h := newHarness(t, ServiceConfig{})
	h.files.files["k1"] = workbook(t, map[string]any{"B1": "Acme"})
	h.sink.err = fmt.Errorf("%w: 400 GAIA_RE01", ErrExternal)

	result, err := h.svc.Process(context.Background(), submission(Attachment{FileKey: "k1", Name: "a.xlsx"}))
	if !errors.Is(err, ErrExternal) {
		t.Fatalf("error = %v, want ErrExternal", err)
	}
	if result.Phase != PhaseFailed {
		t.Errorf("Phase = %s, want failed", result.Phase)
	}
}

// ----------------------------------------------------------------------------
// Start / Result / Wait
// ----------------------------------------------------------------------------

func TestService_StartAndWait(t *testing.T) {
	h := newHarness(t, ServiceConfig{})
	h.files.files["k1"] = workbook(t, map[string]any{"B1": "Acme"})

	runID, err := h.svc.Start(context.Background(), submission(Attachment{FileKey: "k1", Name: "a.xlsx"}))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := h.svc.Wait(ctx, runID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.RunID != runID || result.Phase != PhaseComplete {
		t.Errorf("result = %+v", result)
	}

	again, err := h.svc.Result(ctx, runID)
	if err != nil || again.RecordsCreated != 1 {
		t.Errorf("Result = %+v, %v", again, err)
	}

	if err := h.svc.WaitForRuns(ctx); err != nil {
		t.Errorf("WaitForRuns: %v", err)
	}
}

func TestService_ResultReportsPhaseWhileRunning(t *testing.T) {
	h := newHarness(t, ServiceConfig{})
	h.files.files["k1"] = workbook(t, map[string]any{"B1": "Acme"})
	h.files.block = make(chan struct{})

	runID, err := h.svc.Start(context.Background(), submission(Attachment{FileKey: "k1", Name: "a.xlsx"}))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		r, err := h.svc.Result(context.Background(), runID)
		if err != nil {
			t.Fatalf("Result: %v", err)
		}
		if r.Phase == PhaseDownloading {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("phase = %s, want downloading", r.Phase)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(h.files.block)
	if _, err := h.svc.Wait(context.Background(), runID); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestService_StartRejectsWhenBusy(t *testing.T) {
	h := newHarness(t, ServiceConfig{MaxConcurrentRuns: 1, MaxWaitTime: 20 * time.Millisecond})
	h.files.files["k1"] = workbook(t, map[string]any{"B1": "Acme"})
	h.files.block = make(chan struct{})

	ev := submission(Attachment{FileKey: "k1", Name: "a.xlsx"})
	runID, err := h.svc.Start(context.Background(), ev)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	if _, err := h.svc.Start(context.Background(), ev); !errors.Is(err, ErrTooManyRuns) {
		t.Errorf("second Start error = %v, want ErrTooManyRuns", err)
	}

	close(h.files.block)
	h.svc.Wait(context.Background(), runID)
}

func TestService_ResultFallsBackToLedger(t *testing.T) {
	h := newHarness(t, ServiceConfig{})
	h.ledger.RecordRun(context.Background(), &RunResult{RunID: "old", Phase: PhaseComplete})

	r, err := h.svc.Result(context.Background(), "old")
	if err != nil || r.RunID != "old" {
		t.Errorf("Result = %+v, %v", r, err)
	}

	if _, err := h.svc.Result(context.Background(), "never"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("error = %v, want ErrRunNotFound", err)
	}
}

func TestService_Cancel(t *testing.T) {
	h := newHarness(t, ServiceConfig{})
	h.files.files["k1"] = workbook(t, map[string]any{"B1": "Acme"})
	h.files.block = make(chan struct{})
	defer close(h.files.block)

	runID, err := h.svc.Start(context.Background(), submission(Attachment{FileKey: "k1", Name: "a.xlsx"}))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.svc.Cancel(runID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	result, err := h.svc.Wait(context.Background(), runID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.Phase != PhaseFailed {
		t.Errorf("Phase = %s, want failed", result.Phase)
	}

	if err := h.svc.Cancel("unknown"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Cancel(unknown) = %v, want ErrRunNotFound", err)
	}
}

// ----------------------------------------------------------------------------
// Preview
// ----------------------------------------------------------------------------

func TestService_Preview(t *testing.T) {
	h := newHarness(t, ServiceConfig{})
	data := workbook(t, map[string]any{"B1": "Acme", "B3": "bolt"})

	mapped, err := h.svc.Preview(context.Background(), "10", "draft.xlsx", data)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if mapped.Record["company"].Value != "Acme" {
		t.Errorf("company = %v, want Acme", mapped.Record["company"].Value)
	}
	if mapped.Record["file_name"].Value != "draft.xlsx" {
		t.Errorf("file_name = %v", mapped.Record["file_name"].Value)
	}
	if h.sink.calls != 0 {
		t.Error("preview must not submit")
	}

	if _, err := h.svc.Preview(context.Background(), "10", "x.xlsx", nil); !errors.Is(err, ErrNoFile) {
		t.Errorf("empty preview error = %v, want ErrNoFile", err)
	}
	if _, err := h.svc.Preview(context.Background(), "10", "x.xlsx", []byte("junk")); err == nil {
		t.Error("expected error for unreadable workbook")
	}
}

// ----------------------------------------------------------------------------
// ValidateFiles
// ----------------------------------------------------------------------------

func TestService_ValidateFiles(t *testing.T) {
	h := newHarness(t, ServiceConfig{})
	h.sink.posted = []string{"done.xlsx"}

	result, err := h.svc.ValidateFiles(context.Background(), "10",
		[]string{"a.xlsx", "b.XLS", "notes.pdf", "a.xlsx", "done.xlsx"})
	if err != nil {
		t.Fatalf("ValidateFiles: %v", err)
	}
	if result.Valid {
		t.Fatal("Valid = true, want false")
	}

	got := make(map[string]string)
	for _, e := range result.Errors {
		got[e.Field] = e.Message
	}
	for _, name := range []string{"b.XLS", "notes.pdf", "a.xlsx", "done.xlsx"} {
		if _, ok := got[name]; !ok {
			t.Errorf("missing error for %s in %+v", name, result.Errors)
		}
	}
	if want := "legacy .xls workbooks are not supported, save as .xlsx"; got["b.XLS"] != want {
		t.Errorf("b.XLS message = %q, want %q", got["b.XLS"], want)
	}
	if want := "unsupported file type, only .xlsx is accepted"; got["notes.pdf"] != want {
		t.Errorf("notes.pdf message = %q, want %q", got["notes.pdf"], want)
	}

	ok, err := h.svc.ValidateFiles(context.Background(), "10", []string{"fresh.xlsx"})
	if err != nil || !ok.Valid {
		t.Errorf("ValidateFiles(fresh) = %+v, %v", ok, err)
	}
}
