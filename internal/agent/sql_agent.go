package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/finchat/internal/llm"
)

// Tool names follow the SQL toolkit convention models are commonly tuned on.
const (
	ToolListTables = "sql_db_list_tables"
	ToolSchema     = "sql_db_schema"
	ToolQuery      = "sql_db_query"
)

// DefaultMaxToolCalls bounds the tool calls made for one prompt.
const DefaultMaxToolCalls = 15

// StoppedOutput is the answer returned when the tool-call budget runs out.
const StoppedOutput = "Agent stopped due to iteration limit or time limit."

const sqlSystemPrompt = `You are an agent designed to interact with a SQL database of personal financial transactions.
Given an input question, create a syntactically correct SQLite query to run, then look at the results of the query and return the answer.
Unless the user specifies a specific number of examples they wish to obtain, always limit your query to at most %d results.
You can order the results by a relevant column to return the most interesting examples in the database.
Never query for all the columns from a specific table, only ask for the relevant columns given the question.
Only use the tools below. Only use the information returned by the tools to construct your final answer.
Double check your query before executing it. If you get an error while executing a query, rewrite the query and try again.
Do NOT make any DML statements (INSERT, UPDATE, DELETE, DROP etc.) to the database.
Always start by listing the tables in the database, then query the schema of the most relevant tables.
If the question does not seem related to the database, answer it directly and briefly.`

// Database is the read-only view of the transactions database the SQL tools
// operate on. *txdb.DB implements it.
type Database interface {
	ListTables(ctx context.Context) ([]string, error)
	Schema(ctx context.Context, tables ...string) (string, error)
	Query(ctx context.Context, query string) (string, error)
}

// SQLAgentOptions tunes a SQLAgent.
type SQLAgentOptions struct {
	MaxToolCalls int
	MaxTokens    int
	Temperature  float64
	TopK         int
	Logger       *slog.Logger
}

// SQLAgent answers prompts by letting an LLM call SQL tools against the
// transactions database until it produces a final answer.
type SQLAgent struct {
	provider llm.Provider
	db       Database
	opts     SQLAgentOptions
	tools    []llm.ToolDefinition
	logger   *slog.Logger
}

// NewSQLAgent creates a SQL agent.
func NewSQLAgent(provider llm.Provider, db Database, opts SQLAgentOptions) *SQLAgent {
	if opts.MaxToolCalls <= 0 {
		opts.MaxToolCalls = DefaultMaxToolCalls
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLAgent{
		provider: provider,
		db:       db,
		opts:     opts,
		tools:    sqlTools(),
		logger:   logger,
	}
}

// Invoke runs the think/act/observe loop for one prompt and returns a
// structured result with "input" and "output" fields.
func (a *SQLAgent) Invoke(ctx context.Context, prompt string) (Result, error) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	toolCalls := 0

	for {
		resp, err := a.provider.Chat(ctx, &llm.ChatRequest{
			Messages:     messages,
			Tools:        a.tools,
			MaxTokens:    a.opts.MaxTokens,
			Temperature:  a.opts.Temperature,
			SystemPrompt: fmt.Sprintf(sqlSystemPrompt, a.opts.TopK),
		})
		if err != nil {
			return Result{}, invocationFailure(ctx, err)
		}

		if len(resp.ToolCalls) == 0 {
			return StructuredResult(map[string]any{
				"input":  prompt,
				"output": strings.TrimSpace(resp.Content),
			}), nil
		}

		toolCalls += len(resp.ToolCalls)
		if toolCalls > a.opts.MaxToolCalls {
			a.logger.Warn("SQL agent exceeded tool call budget", "tool_calls", toolCalls, "limit", a.opts.MaxToolCalls)
			return StructuredResult(map[string]any{"input": prompt, "output": StoppedOutput}), nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			output := a.runTool(ctx, tc)
			if ctx.Err() != nil {
				return Result{}, invocationFailure(ctx, ctx.Err())
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    output,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}
}

// runTool executes one tool call. Failures are reported back to the model
// as text so it can correct itself.
func (a *SQLAgent) runTool(ctx context.Context, tc llm.ToolCall) string {
	var args struct {
		TableNames string `json:"table_names"`
		Query      string `json:"query"`
	}
	if len(tc.Arguments) > 0 {
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			return "Error: invalid tool arguments: " + err.Error()
		}
	}

	a.logger.Debug("SQL agent tool call", "tool", tc.Name, "query", args.Query, "tables", args.TableNames)

	var (
		out string
		err error
	)
	switch tc.Name {
	case ToolListTables:
		var tables []string
		tables, err = a.db.ListTables(ctx)
		out = strings.Join(tables, ", ")
	case ToolSchema:
		out, err = a.db.Schema(ctx, strings.Split(args.TableNames, ",")...)
	case ToolQuery:
		out, err = a.db.Query(ctx, args.Query)
		if err == nil && out == "" {
			out = "[]"
		}
	default:
		err = fmt.Errorf("%s is not a valid tool, try one of [%s, %s, %s]", tc.Name, ToolListTables, ToolSchema, ToolQuery)
	}
	if err != nil {
		return "Error: " + err.Error()
	}
	return out
}

func sqlTools() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ToolListTables,
			Description: "Input is an empty string, output is a comma-separated list of tables in the database.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"tool_input":{"type":"string","description":"An empty string"}}}`),
		},
		{
			Name: ToolSchema,
			Description: "Input to this tool is a comma-separated list of tables, output is the schema and sample rows for those tables. " +
				"Be sure that the tables actually exist by calling " + ToolListTables + " first!",
			Parameters: json.RawMessage(`{"type":"object","properties":{"table_names":{"type":"string","description":"A comma-separated list of the table names, e.g. transactions"}},"required":["table_names"]}`),
		},
		{
			Name: ToolQuery,
			Description: "Input to this tool is a detailed and correct SQL query, output is a result from the database. " +
				"If the query is not correct, an error message will be returned. If an error is returned, rewrite the query, check the query, and try again.",
			Parameters: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"A detailed and correct SQL query."}},"required":["query"]}`),
		},
	}
}

// invocationFailure maps a provider or context error to an agent Error.
func invocationFailure(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TimeoutError(err)
	}
	var llmErr *llm.Error
	if errors.As(err, &llmErr) && llmErr.Type == llm.ErrorTimeout {
		return TimeoutError(err)
	}
	return InvocationError(err, llm.IsRetryable(err))
}
