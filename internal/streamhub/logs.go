package streamhub

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/streampilot/streampilot-server/internal/models"
	"github.com/streampilot/streampilot-server/internal/probe"
)

// Candidate log endpoints, tried in order until one yields entries. An
// operator override is prepended when configured.
var defaultLogPaths = []string{"/logs", "/systemLogs", "/systemLog", "/log"}

// Phrases used for advisory start/stop detection in device logs.
var (
	patStart   = regexp.MustCompile(`(?i)is\s+starting\s+a\s+live`)
	patStop    = regexp.MustCompile(`(?i)Live\s+is\s+stopped`)
	patStop2   = regexp.MustCompile(`(?i)Disconnection\s+of`)
	patProduct = regexp.MustCompile(`(?i)product's\s+name`)
)

// Keys under which log endpoints wrap their entry list.
var logListKeys = []string{"logs", "entries", "data", "items", "list"}

// Keys under which a log entry object carries its message.
var logMessageKeys = []string{"message", "msg", "text", "log", "content"}

const logScanWindow = 500

// fetchLogs tries the candidate endpoints and normalizes whatever the first
// responsive one returns into a flat list of message strings. A device with
// no usable log endpoint yields (false, nil), never an error.
func (c *Collector) fetchLogs(ctx context.Context, base, token string) (bool, []string) {
	paths := make([]string, 0, len(defaultLogPaths)+1)
	if c.logPathOverride != "" {
		paths = append(paths, c.logPathOverride)
	}
	paths = append(paths, defaultLogPaths...)

	seen := make(map[string]bool)
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true

		q := url.Values{"limit": []string{strconv.Itoa(c.logLimit)}}
		res := c.probe.GetJSON(ctx, probe.BuildURL(base, p, token, q))
		if !res.OK {
			continue
		}

		var src []any
		switch doc := res.Body.(type) {
		case map[string]any:
			for _, key := range logListKeys {
				if arr := asList(doc[key]); arr != nil {
					src = arr
					break
				}
			}
		case []any:
			src = doc
		}

		var msgs []string
		for _, it := range src {
			switch e := it.(type) {
			case string:
				msgs = append(msgs, e)
			case map[string]any:
				for _, key := range logMessageKeys {
					if v, ok := e[key]; ok && v != nil {
						msgs = append(msgs, fmt.Sprintf("%v", v))
						break
					}
				}
			}
		}
		if len(msgs) > 0 {
			return true, msgs
		}
	}
	return false, nil
}

// detectLiveEvent scans recent log lines, most recent first, for a start or
// stop phrase scoped to the given source ordinal (1-based) or identifier.
// The result is advisory only.
func detectLiveEvent(lines []string, sourceIndex int, identifier *string) models.LogEvent {
	if len(lines) == 0 {
		return models.LogEventNone
	}
	if len(lines) > logScanWindow {
		lines = lines[len(lines)-logScanWindow:]
	}
	tag := fmt.Sprintf("Source #%d:", sourceIndex)
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if !containsTag(line, tag, identifier) {
			continue
		}
		if patStart.MatchString(line) && patProduct.MatchString(line) {
			return models.LogEventStart
		}
		if patStop.MatchString(line) || patStop2.MatchString(line) {
			return models.LogEventStop
		}
	}
	return models.LogEventNone
}

func containsTag(line, tag string, identifier *string) bool {
	if strings.Contains(line, tag) {
		return true
	}
	return identifier != nil && *identifier != "" && strings.Contains(line, *identifier)
}
