package tools

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/email"
)

// Registry manages MCP tools
type Registry struct {
	deps  *deps
	tools map[string]Tool
}

// Tool represents an MCP tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params Params) (interface{}, error)
}

// deps is what every tool needs
type deps struct {
	config       *config.Config
	emailManager *email.Manager
	cacheStore   *cache.Store
	logger       *logrus.Logger
}

// NewRegistry creates a new tool registry
func NewRegistry(cfg *config.Config, emailManager *email.Manager, cacheStore *cache.Store, logger *logrus.Logger) (*Registry, error) {
	reg := &Registry{
		deps: &deps{
			config:       cfg,
			emailManager: emailManager,
			cacheStore:   cacheStore,
			logger:       logger,
		},
		tools: make(map[string]Tool),
	}

	reg.registerTools()

	return reg, nil
}

func (r *Registry) registerTools() {
	toolList := []Tool{
		&ListFoldersTool{r.deps},
		&ListEmailsTool{r.deps},
		&GetEmailTool{r.deps},
		&SyncFolderTool{r.deps},
		&MarkReadTool{r.deps},
		&DeleteEmailTool{r.deps},
		&SendEmailTool{r.deps},
		&TestConnectionTool{r.deps},
		&SearchEmailsTool{r.deps},
	}

	for _, tool := range toolList {
		r.tools[tool.Name()] = tool
		r.deps.logger.WithField("tool", tool.Name()).Debug("Registered tool")
	}

	r.deps.logger.WithField("count", len(r.tools)).Info("Registered tools")
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns all registered tools sorted by name
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

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func accountProp() map[string]interface{} {
	return stringProp("Optional: Account name (defaults to the first configured account)")
}

// Failure is the payload reported for a failed tool call. Rejected
// recipients of a failed send are listed under "rejected".
func Failure(err error) map[string]interface{} {
	out := map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	}
	var rcptErr *email.RecipientsError
	if errors.As(err, &rcptErr) {
		out["rejected"] = rcptErr.Rejected
	}
	return out
}
