package execctx

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// Validate confirms that v still has the shape of an execution context: a
// version tag, a trace id, a known user tier, a policy with a timestamp and a
// source tag, and an allowed-tools list. It accepts a *Context, a Context, a
// map[string]any (for example one decoded from JSON) or raw JSON bytes.
func Validate(v any) error {
	switch val := v.(type) {
	case nil:
		return errors.New("execution context is nil")
	case *Context:
		if val == nil {
			return errors.New("execution context is nil")
		}
		return validateMap(val.Map())
	case Context:
		return validateMap(val.Map())
	case map[string]any:
		return validateMap(val)
	case []byte:
		var m map[string]any
		if err := json.Unmarshal(val, &m); err != nil {
			return errors.Wrap(err, "execution context is not a JSON object")
		}
		return validateMap(m)
	default:
		return errors.Errorf("unsupported execution context type %T", v)
	}
}

func validateMap(m map[string]any) error {
	if s, ok := m["version"].(string); !ok || s == "" {
		return errors.New("execution context is missing its version tag")
	}
	if s, ok := m["traceId"].(string); !ok || strings.TrimSpace(s) == "" {
		return errors.New("execution context is missing a trace id")
	}
	tier, ok := m["userTier"].(string)
	if !ok {
		return errors.New("execution context is missing a user tier")
	}
	if _, ok := skilltypes.ParseUserTier(tier); !ok || tier == "" {
		return errors.Errorf("execution context has unknown user tier %q", tier)
	}

	policy, ok := m["policy"].(map[string]any)
	if !ok {
		return errors.New("execution context is missing a policy object")
	}
	if !isTimestamp(policy["resolvedAt"]) {
		return errors.New("execution context policy is missing resolvedAt")
	}
	if s, ok := policy["source"].(string); !ok || s == "" {
		return errors.New("execution context policy is missing a source tag")
	}

	switch m["allowedTools"].(type) {
	case []any, []string:
	default:
		return errors.New("execution context allowedTools must be an array")
	}
	return nil
}

func isTimestamp(v any) bool {
	switch ts := v.(type) {
	case time.Time:
		return !ts.IsZero()
	case string:
		_, err := time.Parse(time.RFC3339Nano, ts)
		return err == nil
	}
	return false
}
