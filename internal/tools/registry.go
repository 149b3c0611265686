package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailflow/internal/cache"
	"github.com/brandon/mailflow/internal/config"
	"github.com/brandon/mailflow/internal/syncer"
	"github.com/brandon/mailflow/pkg/types"
)

// Service is the mailbox engine the tools drive.
type Service interface {
	ListFolders(ctx context.Context, accountID string) ([]string, error)
	FetchEmails(ctx context.Context, req syncer.FetchRequest) ([]types.EmailSummary, error)
	GetEmail(ctx context.Context, accountID, folder string, uid uint32, forceRefresh bool) (types.Email, error)
	MarkRead(ctx context.Context, accountID, folder string, uid uint32) error
	DeleteEmail(ctx context.Context, accountID, folder string, uid uint32) error
	MoveEmail(ctx context.Context, accountID, folder string, uid uint32, dest string) error
	Search(ctx context.Context, opts cache.SearchOptions) ([]cache.SearchResult, error)
	SyncFolders(ctx context.Context, accountID string, folders []string, limit int) []syncer.FolderResult
}

// Registry manages MCP tools
type Registry struct {
	config  *config.Config
	logger  *logrus.Logger
	service Service
	tools   map[string]Tool
}

// Tool represents an MCP tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// deps is what every tool is built from.
type deps struct {
	config  *config.Config
	service Service
	logger  *logrus.Logger
}

// NewRegistry creates a new tool registry
func NewRegistry(cfg *config.Config, service Service, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	reg := &Registry{
		config:  cfg,
		logger:  logger,
		service: service,
		tools:   make(map[string]Tool),
	}

	// Register all tools
	reg.registerTools()

	return reg
}

// registerTools registers all available tools
func (r *Registry) registerTools() {
	d := deps{config: r.config, service: r.service, logger: r.logger}
	toolList := []Tool{
		&ListAccountsTool{d},
		&ListFoldersTool{d},
		&FetchEmailsTool{d},
		&SyncFoldersTool{d},
		&GetEmailTool{d},
		&MarkReadTool{d},
		&DeleteEmailTool{d},
		&MoveEmailTool{d},
		&SearchEmailsTool{d},
	}

	for _, tool := range toolList {
		r.tools[tool.Name()] = tool
		r.logger.WithField("tool", tool.Name()).Debug("Registered tool")
	}

	r.logger.WithField("count", len(r.tools)).Info("Registered tools")
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns all registered tools, sorted by name
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetToolDefinitions returns tool definitions for MCP
func (r *Registry) GetToolDefinitions() []map[string]interface{} {
	tools := r.ListTools()
	definitions := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}
	return definitions
}

// Schema fragments shared by the tools.
var (
	accountProperty = map[string]interface{}{
		"type":        "string",
		"description": "Optional: Account ID or name, the default account if omitted",
	}
	folderProperty = map[string]interface{}{
		"type":        "string",
		"description": "Folder name (default: INBOX)",
	}
	uidProperty = map[string]interface{}{
		"type":        "integer",
		"description": "Message UID (from fetch_emails or search_emails results)",
	}
)

// account resolves the "account" parameter to a configured account ID.
func (d deps) account(params map[string]interface{}) (string, error) {
	name := stringParam(params, "account")
	if name == "" {
		acc := d.config.GetDefaultAccount()
		if acc == nil {
			return "", fmt.Errorf("no accounts configured")
		}
		return acc.ID, nil
	}
	acc, err := d.config.GetAccount(name)
	if err != nil {
		return "", err
	}
	return acc.ID, nil
}

func folderParam(params map[string]interface{}) string {
	if f := stringParam(params, "folder"); f != "" {
		return f
	}
	return "INBOX"
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func boolParam(params map[string]interface{}, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// intParam accepts JSON numbers and numeric strings.
func intParam(params map[string]interface{}, key string, def int) (int, error) {
	switch v := params[key].(type) {
	case nil:
		return def, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("invalid %s: %v is not an integer", key, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("invalid %s", key)
}

func uidParam(params map[string]interface{}) (uint32, error) {
	if _, ok := params["uid"]; !ok {
		return 0, fmt.Errorf("uid is required")
	}
	n, err := intParam(params, "uid", 0)
	if err != nil {
		return 0, err
	}
	if n <= 0 || int64(n) > int64(^uint32(0)) {
		return 0, fmt.Errorf("invalid uid: %d", n)
	}
	return uint32(n), nil
}

func stringsParam(params map[string]interface{}, key string) []string {
	list, _ := params[key].([]interface{})
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
