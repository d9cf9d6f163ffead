package skills

import (
	"context"
	"fmt"

	"github.com/estio/agentcore/internal/tools"
)

// MetaFuncs binds the catalog operations, and tool search when an index is
// given, to the dispatcher's meta tools.
func (c *Catalog) MetaFuncs(index *tools.Index) map[tools.MetaKind]tools.MetaFunc {
	funcs := map[tools.MetaKind]tools.MetaFunc{
		tools.MetaLoadSkill: func(_ context.Context, args map[string]any) (any, error) {
			name, _ := args["name"].(string)
			skill, err := c.LoadSkill(name)
			if err != nil {
				return nil, err
			}
			if skill == nil {
				return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
			}
			return skill, nil
		},
		tools.MetaReadResource: func(_ context.Context, args map[string]any) (any, error) {
			skill, _ := args["skill"].(string)
			path, _ := args["path"].(string)
			content, err := c.ReadResource(skill, path)
			if err != nil {
				return nil, err
			}
			return map[string]any{"skill": skill, "path": path, "content": content}, nil
		},
		tools.MetaListResources: func(_ context.Context, args map[string]any) (any, error) {
			skill, _ := args["skill"].(string)
			files, err := c.ListResources(skill)
			if err != nil {
				return nil, err
			}
			return map[string]any{"skill": skill, "resources": files}, nil
		},
	}
	if index != nil {
		funcs[tools.MetaToolSearch] = index.SearchFunc()
	}
	return funcs
}
