package assistant

import (
	"fmt"
	"strings"
	"time"

	"github.com/sqldesk/sqldesk/pkg/models"
)

// related groups the training data retrieved for a question.
type related struct {
	examples []models.TrainingData
	ddl      []models.TrainingData
	docs     []models.TrainingData
}

func (a *Assistant) sqlPrompt(question string, ctx related, allowSeeData bool) []models.ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s expert. Today's date is %s. ", a.dialect, time.Now().Format("2006-01-02"))
	b.WriteString("Please help to generate a SQL query to answer the question. ")
	b.WriteString("Your response should ONLY be based on the given context and follow the response guidelines and format instructions.\n")

	if len(ctx.ddl) > 0 {
		b.WriteString("\n===Tables\n")
		for _, d := range ctx.ddl {
			b.WriteString(d.Content + "\n\n")
		}
	}
	if len(ctx.docs) > 0 {
		b.WriteString("\n===Additional Context\n")
		for _, d := range ctx.docs {
			b.WriteString(d.Content + "\n\n")
		}
	}

	b.WriteString("\n===Response Guidelines\n")
	b.WriteString("1. If the provided context is sufficient, please generate a valid SQL query without any explanations for the question.\n")
	if allowSeeData {
		b.WriteString("2. If the provided context is almost sufficient but requires knowledge of a specific string in a particular column, please generate an intermediate SQL query to find the distinct strings in that column. Prepend the query with a comment saying intermediate_sql\n")
	}
	b.WriteString("3. If the provided context is insufficient, please explain why it can't be generated.\n")
	b.WriteString("4. Please use the most relevant table(s).\n")
	b.WriteString("5. If the question has been asked and answered before, please repeat the answer exactly as it was given before.\n")
	fmt.Fprintf(&b, "6. Ensure that the output SQL is %s-compliant and executable, and free of syntax errors.\n", a.dialect)

	msgs := []models.ChatMessage{models.SystemMessage(b.String())}
	for _, ex := range ctx.examples {
		msgs = append(msgs, models.UserMessage(ex.Question), models.AssistantMessage(ex.Content))
	}
	return append(msgs, models.UserMessage(question))
}

func followupPrompt(question, sql string, f *models.Frame, n int) []models.ChatMessage {
	system := fmt.Sprintf(
		"You are a helpful data assistant. The user asked the question: '%s'\n\n"+
			"The SQL query for this question was: %s\n\n"+
			"The following is a pandas-style table with the results of the query:\n%s\n\n",
		question, sql, f.Markdown(25))
	user := fmt.Sprintf(
		"Generate a list of %d followup questions that the user might ask about this data. "+
			"Respond with a list of questions, one per line. Do not answer with any explanations -- just the questions. "+
			"Remember that there should be an unambiguous SQL query that can be generated from the question. "+
			"Prefer questions that are answerable outside of the context of this conversation.", n)
	return []models.ChatMessage{models.SystemMessage(system), models.UserMessage(user)}
}

func summaryPrompt(question string, f *models.Frame) []models.ChatMessage {
	system := fmt.Sprintf(
		"You are a helpful data assistant. The user asked the question: '%s'\n\n"+
			"The following is a table with the results of the query:\n%s\n\n",
		question, f.Markdown(50))
	user := "Briefly summarize the data based on the question that was asked. " +
		"Do not respond with any additional explanation beyond the summary."
	return []models.ChatMessage{models.SystemMessage(system), models.UserMessage(user)}
}

func rewritePrompt(last, next string) []models.ChatMessage {
	system := "Your goal is to combine a sequence of questions into a singular question if they are related. " +
		"If the second question does not relate to the first question and is fully self-contained, return the second question. " +
		"Return just the new combined question with no additional explanations. " +
		"The question should theoretically be answerable with a single SQL statement."
	return []models.ChatMessage{
		models.SystemMessage(system),
		models.UserMessage("First question: " + last + "\nSecond question: " + next),
	}
}

func chartPrompt(question, sql, dfMetadata string) []models.ChatMessage {
	var b strings.Builder
	if question != "" {
		fmt.Fprintf(&b, "The following is a table with the results of a query that answers the question: '%s'\n\n", question)
	} else {
		b.WriteString("The following is a table with the results of a query\n\n")
	}
	if sql != "" {
		fmt.Fprintf(&b, "The table was produced by this query: %s\n\n", sql)
	}
	fmt.Fprintf(&b, "The table has the following columns and types:\n%s\n", dfMetadata)
	user := "Respond with a Plotly figure as a JSON object with \"data\" and \"layout\" keys. " +
		"Wherever a trace needs column values (x, y, z, labels, values, text), write the column name as a string " +
		"and it will be replaced with the column's data. If there is only one value in the table, use an Indicator trace. " +
		"Respond only with the JSON object."
	return []models.ChatMessage{models.SystemMessage(b.String()), models.UserMessage(user)}
}

func pickFunctionPrompt(question string, fns []models.Function) []models.ChatMessage {
	var b strings.Builder
	b.WriteString("You choose which saved query template answers a question and fill in its arguments.\n\nTemplates:\n")
	for _, fn := range fns {
		fmt.Fprintf(&b, "- %s: %s\n  SQL: %s\n", fn.Name, fn.Description, fn.SQLTemplate)
		for _, arg := range fn.Arguments {
			fmt.Fprintf(&b, "  argument %s (%s): %s\n", arg.Name, arg.Type, arg.Description)
		}
	}
	b.WriteString("\nRespond only with a JSON object {\"function_name\": \"...\", \"arguments\": {\"name\": \"value\"}}. " +
		"Use {\"function_name\": \"\"} if no template fits.")
	return []models.ChatMessage{models.SystemMessage(b.String()), models.UserMessage(question)}
}

func createFunctionPrompt(question, sql string) []models.ChatMessage {
	system := "Turn a question and the SQL that answers it into a reusable template. " +
		"Replace literal values that a user would change with {argument_name} placeholders. " +
		"Respond only with a JSON object with keys function_name (snake_case), description, sql_template " +
		"and arguments (a list of objects with name, description, general_type and default)."
	return []models.ChatMessage{
		models.SystemMessage(system),
		models.UserMessage("Question: " + question + "\nSQL: " + sql),
	}
}
