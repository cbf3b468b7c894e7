package tools

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brandon/mailcore/internal/message"
	"github.com/brandon/mailcore/pkg/types"
)

// Params wraps decoded tool arguments. JSON numbers arrive as float64,
// but clients also send numbers and booleans as strings.
type Params map[string]interface{}

func (p Params) String(name string) string {
	switch v := p[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func (p Params) RequireString(name string) (string, error) {
	v := p.String(name)
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

func (p Params) Int(name string) (int64, bool, error) {
	switch v := p[name].(type) {
	case nil:
		return 0, false, nil
	case float64:
		return int64(v), true, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid %s: %w", name, err)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("invalid %s: expected integer", name)
	}
}

func (p Params) Bool(name string) (bool, bool, error) {
	switch v := p[name].(type) {
	case nil:
		return false, false, nil
	case bool:
		return v, true, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false, fmt.Errorf("invalid %s: %w", name, err)
		}
		return b, true, nil
	default:
		return false, false, fmt.Errorf("invalid %s: expected boolean", name)
	}
}

func (p Params) Time(name string) (*time.Time, error) {
	s := p.String(name)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid %s format: expected ISO 8601", name)
}

// Strings accepts a JSON array of strings or one comma-separated string
func (p Params) Strings(name string) []string {
	var out []string
	switch v := p[name].(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

// Addresses parses an address list such as `Alice <a@x.org>, b@x.org`
func (p Params) Addresses(name string) ([]types.Address, error) {
	return message.ParseAddresses(strings.Join(p.Strings(name), ", "))
}
