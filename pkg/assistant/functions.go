package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sqldesk/sqldesk/pkg/logx"
	"github.com/sqldesk/sqldesk/pkg/models"
)

var nonIdent = regexp.MustCompile(`[^a-z0-9]+`)

// jsonObject returns the outermost {...} of an LLM reply, or "".
func jsonObject(reply string) string {
	s := stripFences(reply)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// Instantiate substitutes {name} placeholders in fn's templates. Missing
// values take the argument's default.
func Instantiate(fn models.Function, values map[string]string) models.InstantiatedFunction {
	args := make(map[string]string, len(fn.Arguments))
	for _, arg := range fn.Arguments {
		v, ok := values[arg.Name]
		if !ok || v == "" {
			v = arg.Default
		}
		args[arg.Name] = v
	}
	sql, post := fn.SQLTemplate, fn.PostProcessingTemplate
	for name, v := range args {
		sql = strings.ReplaceAll(sql, "{"+name+"}", v)
		post = strings.ReplaceAll(post, "{"+name+"}", v)
	}
	return models.InstantiatedFunction{
		Function:                   fn,
		ArgumentValues:             args,
		InstantiatedSQL:            sql,
		InstantiatedPostProcessing: post,
	}
}

func (a *Assistant) GetFunction(ctx context.Context, question string) (*models.InstantiatedFunction, error) {
	fns, err := a.store.ListFunctions(ctx)
	if err != nil {
		return nil, err
	}
	if len(fns) == 0 {
		return nil, nil
	}

	reply, err := a.complete(ctx, "get_function", pickFunctionPrompt(question, fns))
	if err != nil {
		return nil, err
	}
	var pick struct {
		Name      string         `json:"function_name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(jsonObject(reply)), &pick); err != nil {
		logx.Warn().Err(err).Str("reply", reply).Msg("unparseable function choice")
		return nil, nil
	}
	for _, fn := range fns {
		if fn.Name != pick.Name {
			continue
		}
		values := make(map[string]string, len(pick.Arguments))
		for k, v := range pick.Arguments {
			values[k] = fmt.Sprint(v)
		}
		inst := Instantiate(fn, values)
		return &inst, nil
	}
	return nil, nil
}

func (a *Assistant) GetAllFunctions(ctx context.Context) ([]models.Function, error) {
	return a.store.ListFunctions(ctx)
}

// CreateFunction asks the LLM to generalise a question and its SQL into a
// template and saves it.
func (a *Assistant) CreateFunction(ctx context.Context, question, sql, plotlyCode string) (models.Function, error) {
	reply, err := a.complete(ctx, "create_function", createFunctionPrompt(question, sql))
	if err != nil {
		return models.Function{}, err
	}
	var fn models.Function
	if body := jsonObject(reply); body != "" {
		if err := json.Unmarshal([]byte(body), &fn); err != nil {
			logx.Warn().Err(err).Msg("unparseable function template, saving the query as is")
			fn = models.Function{}
		}
	}
	if fn.Name == "" {
		fn.Name = strings.Trim(nonIdent.ReplaceAllString(strings.ToLower(question), "_"), "_")
	}
	if fn.Description == "" {
		fn.Description = question
	}
	if fn.SQLTemplate == "" {
		fn.SQLTemplate = sql
	}
	if fn.Arguments == nil {
		fn.Arguments = []models.FunctionArgument{}
	}
	fn.PostProcessingTemplate = plotlyCode
	if err := a.store.SaveFunction(ctx, fn); err != nil {
		return models.Function{}, err
	}
	return fn, nil
}

func (a *Assistant) UpdateFunction(ctx context.Context, oldName string, fn models.Function) (bool, error) {
	return a.store.UpdateFunction(ctx, oldName, fn)
}

func (a *Assistant) DeleteFunction(ctx context.Context, name string) (bool, error) {
	return a.store.DeleteFunction(ctx, name)
}
