package assistant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sqldesk/sqldesk/pkg/apperr"
	"github.com/sqldesk/sqldesk/pkg/models"
)

// fakeLLM answers with canned replies in order and records every prompt.
type fakeLLM struct {
	mu      sync.Mutex
	replies []string
	prompts [][]models.ChatMessage
	ops     []string
}

func (f *fakeLLM) Complete(_ context.Context, op string, msgs []models.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, msgs)
	f.ops = append(f.ops, op)
	if len(f.replies) == 0 {
		return "", errors.New("no reply queued")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func newTestAssistant(t *testing.T, llm *fakeLLM) *Assistant {
	t.Helper()
	dir := t.TempDir()

	store, err := OpenStore(filepath.Join(dir, "sqldesk.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	dataPath := filepath.Join(dir, "data.db")
	seed, err := sql.Open("sqlite", dataPath)
	if err != nil {
		t.Fatal(err)
	}
	_, err = seed.Exec(`
		CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, region TEXT, revenue REAL);
		INSERT INTO customers (name, region, revenue) VALUES
			('Acme', 'EMEA', 120.5), ('Globex', 'AMER', 300), ('Initech', 'AMER', 75.25);`)
	seed.Close()
	if err != nil {
		t.Fatal(err)
	}

	data, err := OpenDataSource("sqlite", dataPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { data.Close() })

	a, err := New(Options{Completer: llm, Store: store, Data: data, Dialect: "SQLite"})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestGenerateSQLUsesTraining(t *testing.T) {
	llm := &fakeLLM{replies: []string{"```sql\nSELECT region, SUM(revenue) FROM customers GROUP BY region\n```"}}
	a := newTestAssistant(t, llm)
	ctx := context.Background()

	if _, err := a.Train(ctx, models.TrainingRequest{Question: "How many customers are there?", SQL: "SELECT COUNT(*) FROM customers"}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Train(ctx, models.TrainingRequest{Documentation: "Revenue is reported in thousands of euros."}); err != nil {
		t.Fatal(err)
	}

	got, err := a.GenerateSQL(ctx, "Revenue per region?", false)
	if err != nil {
		t.Fatal(err)
	}
	if got != "SELECT region, SUM(revenue) FROM customers GROUP BY region" {
		t.Errorf("unexpected sql %q", got)
	}

	prompt := llm.prompts[0]
	system := prompt[0].Content
	if !strings.Contains(system, "thousands of euros") {
		t.Error("expected documentation in the system prompt")
	}
	// no ddl was trained, so the live schema stands in
	if !strings.Contains(system, "CREATE TABLE customers") {
		t.Error("expected data source schema in the system prompt")
	}
	if prompt[1].Content != "How many customers are there?" || prompt[2].Content != "SELECT COUNT(*) FROM customers" {
		t.Errorf("expected the trained example as a user/assistant pair, got %+v", prompt[1:3])
	}
	if last := prompt[len(prompt)-1]; last.Role != "user" || last.Content != "Revenue per region?" {
		t.Errorf("expected the question last, got %+v", last)
	}
}

func TestGenerateSQLIntermediate(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		"-- intermediate_sql\nSELECT DISTINCT region FROM customers;",
		"SELECT name FROM customers WHERE region = 'EMEA';",
	}}
	a := newTestAssistant(t, llm)

	got, err := a.GenerateSQL(context.Background(), "Customers in Europe?", true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "SELECT name FROM customers WHERE region = 'EMEA';" {
		t.Errorf("unexpected sql %q", got)
	}
	if len(llm.prompts) != 2 {
		t.Fatalf("expected two LLM calls, got %d", len(llm.prompts))
	}
	if !strings.Contains(llm.prompts[1][0].Content, "EMEA") {
		t.Error("expected intermediate results in the second prompt")
	}
}

func TestRunSQL(t *testing.T) {
	a := newTestAssistant(t, &fakeLLM{})
	ctx := context.Background()

	f, err := a.RunSQL(ctx, "SELECT name, revenue FROM customers ORDER BY id")
	if err != nil {
		t.Fatal(err)
	}
	if f.Len() != 3 || len(f.Columns) != 2 {
		t.Fatalf("unexpected frame shape %d x %d", f.Len(), len(f.Columns))
	}
	if f.Rows[0][0] != "Acme" {
		t.Errorf("expected Acme first, got %v", f.Rows[0][0])
	}
	if !a.ShouldGenerateChart(f) {
		t.Error("expected a chart for several rows with a numeric column")
	}

	_, err = a.RunSQL(ctx, "SELECT nope FROM missing")
	if !apperr.IsCode(err, apperr.SQLExecutionError) {
		t.Errorf("expected sql execution error, got %v", err)
	}
}

func TestRunSQLWithoutDataSource(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "s.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	a, _ := New(Options{Completer: &fakeLLM{}, Store: store})
	if _, err := a.RunSQL(context.Background(), "SELECT 1"); !errors.Is(err, ErrNoDataSource) {
		t.Errorf("expected ErrNoDataSource, got %v", err)
	}
}

func TestTrainValidation(t *testing.T) {
	a := newTestAssistant(t, &fakeLLM{})
	ctx := context.Background()

	tests := []struct {
		name    string
		req     models.TrainingRequest
		wantErr bool
		kind    models.TrainingType
	}{
		{"question without sql", models.TrainingRequest{Question: "q"}, true, ""},
		{"empty", models.TrainingRequest{}, true, ""},
		{"sql pair", models.TrainingRequest{Question: "q", SQL: "SELECT 1"}, false, models.TrainingSQL},
		{"ddl", models.TrainingRequest{DDL: "CREATE TABLE t (a INT)"}, false, models.TrainingDDL},
		{"documentation", models.TrainingRequest{Documentation: "doc"}, false, models.TrainingDocumentation},
		{"ddl wins over documentation", models.TrainingRequest{DDL: "CREATE TABLE u (b INT)", Documentation: "doc"}, false, models.TrainingDDL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := a.Train(ctx, tt.req)
			if tt.wantErr {
				if !apperr.IsCode(err, apperr.MissingParameter) {
					t.Errorf("expected missing_parameter, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasSuffix(id, "-"+string(tt.kind)) {
				t.Errorf("expected id suffix %s, got %s", tt.kind, id)
			}
		})
	}

	items, _ := a.GetTrainingData(ctx)
	if len(items) != 4 {
		t.Fatalf("expected 4 stored items, got %d", len(items))
	}
	removed, err := a.RemoveTrainingData(ctx, items[0].ID)
	if err != nil || !removed {
		t.Errorf("expected removal, got %v %v", removed, err)
	}
	removed, _ = a.RemoveTrainingData(ctx, items[0].ID)
	if removed {
		t.Error("second removal should report false")
	}
}

func TestFollowupsAndSummary(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		"1. Which region has the most customers?\n2. What is the average revenue?\n\n3. Who is the top customer?",
		"  AMER leads on revenue.  ",
	}}
	a := newTestAssistant(t, llm)
	ctx := context.Background()
	f, _ := a.RunSQL(ctx, "SELECT * FROM customers")

	qs, err := a.GenerateFollowupQuestions(ctx, "All customers", "SELECT * FROM customers", f, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 2 || qs[0] != "Which region has the most customers?" {
		t.Errorf("unexpected questions %q", qs)
	}

	sum, err := a.GenerateSummary(ctx, "All customers", f)
	if err != nil {
		t.Fatal(err)
	}
	if sum != "AMER leads on revenue." {
		t.Errorf("unexpected summary %q", sum)
	}
	if !strings.Contains(llm.prompts[1][0].Content, "| Globex |") {
		t.Error("expected the frame rendered into the summary prompt")
	}
}

func TestRewrittenQuestion(t *testing.T) {
	llm := &fakeLLM{replies: []string{"Revenue per region in 2024"}}
	a := newTestAssistant(t, llm)
	ctx := context.Background()

	got, err := a.GenerateRewrittenQuestion(ctx, "", "standalone")
	if err != nil || got != "standalone" {
		t.Errorf("expected passthrough without a last question, got %q %v", got, err)
	}
	if len(llm.prompts) != 0 {
		t.Error("LLM should not be called without a last question")
	}

	got, _ = a.GenerateRewrittenQuestion(ctx, "Revenue per region", "only 2024")
	if got != "Revenue per region in 2024" {
		t.Errorf("unexpected rewrite %q", got)
	}
}

func TestPlotlyFigure(t *testing.T) {
	llm := &fakeLLM{replies: []string{"```json\n{\"data\":[{\"type\":\"bar\",\"x\":\"name\",\"y\":\"revenue\"}],\"layout\":{\"title\":\"Revenue\"}}\n```"}}
	a := newTestAssistant(t, llm)
	ctx := context.Background()
	f, _ := a.RunSQL(ctx, "SELECT name, revenue FROM customers ORDER BY id")

	code, err := a.GeneratePlotlyCode(ctx, "Revenue by customer", "SELECT ...", f.Dtypes())
	if err != nil {
		t.Fatal(err)
	}
	raw, err := a.GetPlotlyFigure(code, f)
	if err != nil {
		t.Fatal(err)
	}
	var fig struct {
		Data []struct {
			X []string  `json:"x"`
			Y []float64 `json:"y"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &fig); err != nil {
		t.Fatal(err)
	}
	if len(fig.Data) != 1 || len(fig.Data[0].X) != 3 || fig.Data[0].X[1] != "Globex" || fig.Data[0].Y[1] != 300 {
		t.Errorf("columns not bound: %s", raw)
	}
}

func TestPlotlyFigureDefault(t *testing.T) {
	a := newTestAssistant(t, &fakeLLM{})
	f, _ := a.RunSQL(context.Background(), "SELECT region, revenue FROM customers")

	raw, err := a.GetPlotlyFigure("not a figure", f)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"type":"bar"`) {
		t.Errorf("expected a default bar chart, got %s", raw)
	}

	single, _ := a.RunSQL(context.Background(), "SELECT COUNT(*) AS n FROM customers")
	raw, _ = a.GetPlotlyFigure("", single)
	if !strings.Contains(string(raw), `"indicator"`) {
		t.Errorf("expected an indicator for a single value, got %s", raw)
	}
}

func TestFunctions(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		`{"function_name":"customers_in_region","description":"Customers in a region",
		  "sql_template":"SELECT name FROM customers WHERE region = '{region}'",
		  "arguments":[{"name":"region","general_type":"string","default":"AMER"}]}`,
		`{"function_name":"customers_in_region","arguments":{"region":"EMEA"}}`,
		`{"function_name":""}`,
	}}
	a := newTestAssistant(t, llm)
	ctx := context.Background()

	fn, err := a.CreateFunction(ctx, "Customers in EMEA", "SELECT name FROM customers WHERE region = 'EMEA'", "")
	if err != nil {
		t.Fatal(err)
	}
	if fn.Name != "customers_in_region" || len(fn.Arguments) != 1 {
		t.Fatalf("unexpected function %+v", fn)
	}

	inst, err := a.GetFunction(ctx, "Who is in EMEA?")
	if err != nil {
		t.Fatal(err)
	}
	if inst == nil || inst.InstantiatedSQL != "SELECT name FROM customers WHERE region = 'EMEA'" {
		t.Fatalf("unexpected instantiation %+v", inst)
	}

	inst, err = a.GetFunction(ctx, "Something else")
	if err != nil || inst != nil {
		t.Errorf("expected no match, got %+v %v", inst, err)
	}

	fn.Name = "regional_customers"
	ok, err := a.UpdateFunction(ctx, "customers_in_region", fn)
	if err != nil || !ok {
		t.Fatalf("expected rename, got %v %v", ok, err)
	}
	all, _ := a.GetAllFunctions(ctx)
	if len(all) != 1 || all[0].Name != "regional_customers" {
		t.Errorf("unexpected functions %+v", all)
	}
	if ok, _ := a.UpdateFunction(ctx, "missing", fn); ok {
		t.Error("updating a missing function should report false")
	}
	if ok, _ := a.DeleteFunction(ctx, "regional_customers"); !ok {
		t.Error("expected delete to succeed")
	}
}

func TestInstantiateDefaults(t *testing.T) {
	fn := models.Function{
		SQLTemplate: "SELECT * FROM t WHERE a = {a} AND b = '{b}'",
		Arguments:   []models.FunctionArgument{{Name: "a", Default: "1"}, {Name: "b", Default: "x"}},
	}
	inst := Instantiate(fn, map[string]string{"b": "y"})
	if inst.InstantiatedSQL != "SELECT * FROM t WHERE a = 1 AND b = 'y'" {
		t.Errorf("unexpected sql %q", inst.InstantiatedSQL)
	}
}
