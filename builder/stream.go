package builder

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/crucible-ci/crucible/types"
)

// Event is one decoded record from the cargo message stream. Exactly one
// field is set: either a human-readable diagnostic or a produced artifact.
type Event struct {
	Diagnostic string
	Artifact   *types.Executable
}

// cargoMessage mirrors the subset of cargo's JSON message format the
// harness cares about. Lines that carry neither a rendered message nor an
// executable path are ignored.
type cargoMessage struct {
	Reason  string `json:"reason"`
	Message *struct {
		Rendered string `json:"rendered"`
	} `json:"message"`
	Executable string `json:"executable"`
	PackageID  string `json:"package_id"`
	Target     *struct {
		Name string   `json:"name"`
		Kind []string `json:"kind"`
	} `json:"target"`
	Profile struct {
		Test bool `json:"test"`
	} `json:"profile"`
	Fresh bool `json:"fresh"`
}

// parseStream reads the combined output of a cargo process line by line
// and produces typed events on the returned channel. The channel closes
// when the reader is exhausted. Runs as a dedicated goroutine so the
// consumer can drain events while cargo is still compiling.
func parseStream(r io.Reader) <-chan Event {
	events := make(chan Event, 64)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			if ev, ok := parseLine(scanner.Text()); ok {
				events <- ev
			}
		}
		if err := scanner.Err(); err != nil {
			events <- Event{Diagnostic: "error reading build output: " + err.Error()}
		}
	}()
	return events
}

// parseLine decodes one line of cargo output. Any non-JSON line is a
// diagnostic verbatim.
func parseLine(line string) (Event, bool) {
	trimmed := strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(trimmed, "{") {
		return Event{Diagnostic: trimmed}, true
	}

	var msg cargoMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		// Not a cargo record after all; surface it like any other text.
		return Event{Diagnostic: trimmed}, true
	}

	switch {
	case msg.Message != nil:
		return Event{Diagnostic: msg.Message.Rendered}, true
	case msg.Executable != "":
		exe := &types.Executable{
			BinaryPath: msg.Executable,
			CrateName:  crateNameFromPackageID(msg.PackageID),
			IsTest:     msg.Profile.Test,
			IsFresh:    msg.Fresh,
		}
		if msg.Target != nil {
			exe.TargetName = msg.Target.Name
			if len(msg.Target.Kind) > 0 {
				exe.Kind = msg.Target.Kind[0]
			}
		}
		return Event{Artifact: exe}, true
	default:
		return Event{}, false
	}
}

// crateNameFromPackageID extracts the crate name from cargo's package id.
// Old cargo emits "name version (source)"; newer cargo emits a URL-like
// spec such as "path+file:///w/crates/foo#0.1.0" or "...#foo@0.1.0".
func crateNameFromPackageID(id string) string {
	if id == "" {
		return ""
	}
	if !strings.Contains(id, "://") {
		return strings.SplitN(id, " ", 2)[0]
	}
	spec := id
	if i := strings.LastIndexByte(spec, '#'); i >= 0 {
		frag := spec[i+1:]
		if j := strings.IndexByte(frag, '@'); j >= 0 {
			return frag[:j]
		}
		if !isVersion(frag) {
			return frag
		}
		spec = spec[:i]
	}
	if i := strings.LastIndexByte(spec, '/'); i >= 0 {
		spec = spec[i+1:]
	}
	return spec
}

func isVersion(s string) bool {
	return len(s) > 0 && s[0] >= '0' && s[0] <= '9'
}
