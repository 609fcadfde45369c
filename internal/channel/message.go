package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Command names carried in the "command" field of every message.
const (
	CmdSlaveConfiguration = "slave_configuration"
	CmdConfiguration      = "configuration"
	CmdStarting           = "starting"
	CmdStarted            = "started"
	CmdNextFile           = "next_file"
	CmdProcessFile        = "process_file"
	CmdFramework          = "framework"
	CmdDrain              = "drain"
	CmdClose              = "close"
	CmdResult             = "result"
	CmdRetry              = "retry"
	CmdError              = "error"
	CmdDebug              = "debug"
	CmdStdout             = "stdout"
	CmdStderr             = "stderr"
)

// Message is the unit of inter-process communication: a string-keyed map of
// scalars, nested maps and string sequences. The "command" field selects its type.
type Message map[string]any

// NewMessage builds a message for cmd from alternating key/value pairs.
func NewMessage(cmd string, kv ...any) Message {
	m := Message{"command": cmd}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		m[key] = kv[i+1]
	}
	return m
}

// Command returns the message type.
func (m Message) Command() string { return m.String("command") }

// String returns the string value of key, or "" if absent or not a string.
func (m Message) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Int returns the integer value of key. JSON numbers decode as float64 or
// json.Number depending on the decoder, so both are accepted.
func (m Message) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Bool returns the boolean value of key.
func (m Message) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// Strings returns the ordered string sequence stored under key.
func (m Message) Strings(key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Map returns the nested map stored under key.
func (m Message) Map(key string) map[string]any {
	switch v := m[key].(type) {
	case map[string]any:
		return v
	case Message:
		return v
	default:
		return nil
	}
}

// Has reports whether key is present.
func (m Message) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Decode converts the nested map under key into out via a JSON round trip.
func (m Message) Decode(key string, out any) error {
	v, ok := m[key]
	if !ok {
		return fmt.Errorf("message %q has no field %q", m.Command(), key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode field %q: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode field %q: %w", key, err)
	}
	return nil
}
