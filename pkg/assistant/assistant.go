// Package assistant is the natural-language-to-SQL backend: it turns questions
// into SQL with an LLM, runs the SQL against the data source, and asks the LLM
// for charts, follow-up questions and summaries of the results.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sqldesk/sqldesk/pkg/apperr"
	"github.com/sqldesk/sqldesk/pkg/llm"
	"github.com/sqldesk/sqldesk/pkg/logx"
	"github.com/sqldesk/sqldesk/pkg/models"
)

// Backend is everything the HTTP layer needs from the assistant.
type Backend interface {
	GenerateSQL(ctx context.Context, question string, allowSeeData bool) (string, error)
	IsSQLValid(sql string) bool
	RunSQL(ctx context.Context, sql string) (*models.Frame, error)
	ShouldGenerateChart(f *models.Frame) bool
	GenerateRewrittenQuestion(ctx context.Context, lastQuestion, newQuestion string) (string, error)
	GeneratePlotlyCode(ctx context.Context, question, sql, dfMetadata string) (string, error)
	GetPlotlyFigure(code string, f *models.Frame) (json.RawMessage, error)
	GenerateFollowupQuestions(ctx context.Context, question, sql string, f *models.Frame, n int) ([]string, error)
	GenerateSummary(ctx context.Context, question string, f *models.Frame) (string, error)

	GetTrainingData(ctx context.Context) ([]models.TrainingData, error)
	RemoveTrainingData(ctx context.Context, id string) (bool, error)
	Train(ctx context.Context, req models.TrainingRequest) (string, error)

	// GetFunction returns nil when no stored function fits the question.
	GetFunction(ctx context.Context, question string) (*models.InstantiatedFunction, error)
	GetAllFunctions(ctx context.Context) ([]models.Function, error)
	CreateFunction(ctx context.Context, question, sql, plotlyCode string) (models.Function, error)
	UpdateFunction(ctx context.Context, oldName string, fn models.Function) (bool, error)
	DeleteFunction(ctx context.Context, name string) (bool, error)
}

// Options configures an Assistant. Data may be nil, in which case RunSQL fails
// with ErrNoDataSource.
type Options struct {
	Completer       llm.Completer
	Store           *Store
	Data            *DataSource
	Dialect         string
	MaxContextItems int
	// Log receives backend log lines, e.g. prompts and raw LLM replies.
	Log func(title, message string)
}

// Assistant implements Backend on an LLM, a training store and a data source.
type Assistant struct {
	llm        llm.Completer
	store      *Store
	data       *DataSource
	dialect    string
	maxContext int
	logf       func(title, message string)
}

var _ Backend = (*Assistant)(nil)

// New validates opts and builds an Assistant.
func New(opts Options) (*Assistant, error) {
	if opts.Completer == nil {
		return nil, errors.New("assistant: completer is required")
	}
	if opts.Store == nil {
		return nil, errors.New("assistant: store is required")
	}
	a := &Assistant{
		llm:        opts.Completer,
		store:      opts.Store,
		data:       opts.Data,
		dialect:    opts.Dialect,
		maxContext: opts.MaxContextItems,
		logf:       opts.Log,
	}
	if a.dialect == "" {
		a.dialect = "SQL"
	}
	if a.maxContext <= 0 {
		a.maxContext = 10
	}
	return a, nil
}

func (a *Assistant) log(title, message string) {
	logx.Debug().Str("title", title).Msg(message)
	if a.logf != nil {
		a.logf(title, message)
	}
}

func (a *Assistant) complete(ctx context.Context, operation string, msgs []models.ChatMessage) (string, error) {
	reply, err := a.llm.Complete(ctx, operation, msgs)
	if err != nil {
		return "", fmt.Errorf("%s: %w", operation, err)
	}
	a.log("LLM Response", reply)
	return reply, nil
}

func (a *Assistant) retrieve(ctx context.Context, question string) (related, error) {
	items, err := a.store.ListTraining(ctx)
	if err != nil {
		return related{}, err
	}
	var examples, ddl, docs []models.TrainingData
	for _, it := range items {
		switch it.Type {
		case models.TrainingSQL:
			examples = append(examples, it)
		case models.TrainingDDL:
			ddl = append(ddl, it)
		case models.TrainingDocumentation:
			docs = append(docs, it)
		}
	}

	// An untrained assistant still knows the live schema.
	if len(ddl) == 0 && a.data != nil {
		stmts, err := a.data.Schema(ctx)
		if err != nil {
			logx.Warn().Err(err).Msg("read data source schema")
		}
		for _, s := range stmts {
			ddl = append(ddl, models.TrainingData{Type: models.TrainingDDL, Content: s})
		}
	}

	return related{
		examples: rank(question, examples, a.maxContext),
		ddl:      rank(question, ddl, a.maxContext),
		docs:     rank(question, docs, a.maxContext),
	}, nil
}

// GenerateSQL asks the LLM for a query answering question. The reply is not
// necessarily SQL: callers check it with IsSQLValid. With allowSeeData the LLM
// may first ask for an intermediate query whose results are fed back to it.
func (a *Assistant) GenerateSQL(ctx context.Context, question string, allowSeeData bool) (string, error) {
	rel, err := a.retrieve(ctx, question)
	if err != nil {
		return "", err
	}
	prompt := a.sqlPrompt(question, rel, allowSeeData)
	a.log("SQL Prompt", prompt[0].Content)

	reply, err := a.complete(ctx, "generate_sql", prompt)
	if err != nil {
		return "", err
	}

	if allowSeeData && strings.Contains(reply, "intermediate_sql") {
		intermediate := ExtractSQL(reply)
		a.log("Running Intermediate SQL", intermediate)
		f, err := a.RunSQL(ctx, intermediate)
		if err != nil {
			return "Error running intermediate SQL: " + err.Error(), nil
		}
		rel.docs = append(rel.docs, models.TrainingData{
			Type: models.TrainingDocumentation,
			Content: "The following is a table with the results of the intermediate SQL query " +
				intermediate + ":\n" + f.Markdown(50),
		})
		prompt = a.sqlPrompt(question, rel, false)
		a.log("Final SQL Prompt", prompt[0].Content)
		if reply, err = a.complete(ctx, "generate_sql", prompt); err != nil {
			return "", err
		}
	}
	return ExtractSQL(reply), nil
}

func (a *Assistant) IsSQLValid(sql string) bool {
	return IsSQLValid(sql)
}

// RunSQL executes sql on the data source. Driver failures come back as
// apperr.SQLExecutionError so the user sees the database message.
func (a *Assistant) RunSQL(ctx context.Context, sql string) (*models.Frame, error) {
	if a.data == nil {
		return nil, ErrNoDataSource
	}
	f, err := a.data.Query(ctx, sql)
	if err != nil {
		return nil, apperr.SQLExecution(err)
	}
	return f, nil
}

func (a *Assistant) ShouldGenerateChart(f *models.Frame) bool {
	return ShouldGenerateChart(f)
}

func (a *Assistant) GenerateRewrittenQuestion(ctx context.Context, lastQuestion, newQuestion string) (string, error) {
	if lastQuestion == "" {
		return newQuestion, nil
	}
	reply, err := a.complete(ctx, "rewrite_question", rewritePrompt(lastQuestion, newQuestion))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// GeneratePlotlyCode asks the LLM for a figure template, see GetPlotlyFigure.
func (a *Assistant) GeneratePlotlyCode(ctx context.Context, question, sql, dfMetadata string) (string, error) {
	reply, err := a.complete(ctx, "generate_plotly_code", chartPrompt(question, sql, dfMetadata))
	if err != nil {
		return "", err
	}
	return stripFences(reply), nil
}

func (a *Assistant) GenerateFollowupQuestions(ctx context.Context, question, sql string, f *models.Frame, n int) ([]string, error) {
	reply, err := a.complete(ctx, "generate_followup_questions", followupPrompt(question, sql, f, n))
	if err != nil {
		return nil, err
	}
	qs := parseQuestionList(reply)
	if n > 0 && len(qs) > n {
		qs = qs[:n]
	}
	return qs, nil
}

func (a *Assistant) GenerateSummary(ctx context.Context, question string, f *models.Frame) (string, error) {
	reply, err := a.complete(ctx, "generate_summary", summaryPrompt(question, f))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func (a *Assistant) GetTrainingData(ctx context.Context) ([]models.TrainingData, error) {
	return a.store.ListTraining(ctx)
}

func (a *Assistant) RemoveTrainingData(ctx context.Context, id string) (bool, error) {
	return a.store.RemoveTraining(ctx, id)
}

// Train stores one item, picked in the order question+sql, ddl, documentation.
func (a *Assistant) Train(ctx context.Context, req models.TrainingRequest) (string, error) {
	var td models.TrainingData
	switch {
	case req.Question != "" && req.SQL == "":
		return "", apperr.New(apperr.MissingParameter, http.StatusBadRequest, "Please also provide a SQL query", nil)
	case req.SQL != "":
		if req.Question == "" {
			return "", apperr.MissingParam("question")
		}
		td = models.TrainingData{Type: models.TrainingSQL, Question: req.Question, Content: req.SQL}
	case req.DDL != "":
		td = models.TrainingData{Type: models.TrainingDDL, Content: req.DDL}
	case req.Documentation != "":
		td = models.TrainingData{Type: models.TrainingDocumentation, Content: req.Documentation}
	default:
		return "", apperr.New(apperr.MissingParameter, http.StatusBadRequest, "Please provide a question and SQL, DDL, or documentation", nil)
	}
	return a.store.AddTraining(ctx, td)
}
