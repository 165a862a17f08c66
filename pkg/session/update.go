package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// ToolUseUpdate resolves one pending tool_use block
type ToolUseUpdate struct {
	ID string
	// Result is stored as-is when it is a string and JSON encoded otherwise.
	// A nil result is stored as "".
	Result    interface{}
	IsError   bool
	Stdout    *string
	Stderr    *string
	StartTime *time.Time
	EndTime   *time.Time
}

// ApplyToolUseUpdates resolves pending tool_use blocks across every branch.
// Ids that match nothing, or match a block that is no longer pending, are
// ignored, so applying the same batch twice has no further effect.
// It returns the number of blocks updated.
func (s *Session) ApplyToolUseUpdates(updates ...ToolUseUpdate) int {
	if len(updates) == 0 {
		return 0
	}

	byID := make(map[string]ToolUseUpdate, len(updates))
	for _, u := range updates {
		if _, seen := byID[u.ID]; !seen {
			byID[u.ID] = u
		}
	}

	applied := 0
	for _, it := range s.Items {
		for i := range it.Content {
			c := &it.Content[i]
			if !c.IsPending() {
				continue
			}
			u, ok := byID[c.ID]
			if !ok {
				continue
			}
			applyUpdate(c, u)
			applied++
		}
	}
	return applied
}

func applyUpdate(c *Content, u ToolUseUpdate) {
	result := encodeResult(u.Result)
	c.Result = &result

	if u.IsError {
		c.Status = ToolError
	} else {
		c.Status = ToolSuccess
	}

	c.Stdout = cloneString(u.Stdout)
	c.Stderr = cloneString(u.Stderr)

	t := now()
	c.StartTime = cloneTime(u.StartTime)
	if c.StartTime == nil {
		c.StartTime = &t
	}
	c.EndTime = cloneTime(u.EndTime)
	if c.EndTime == nil {
		c.EndTime = &t
	}
}

func encodeResult(v interface{}) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case []byte:
		return string(r)
	case error:
		return r.Error()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
