package serialport

import (
	"path/filepath"

	"go.bug.st/serial/enumerator"
)

// ListPorts is a package-level variable so discovery tests can substitute a
// fixed candidate list without touching /dev.
var ListPorts = func() ([]string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(details))
	for _, d := range details {
		names = append(names, d.Name)
	}
	return names, nil
}

// MatchPattern returns every entry of candidates whose full path matches
// the shell glob pattern (e.g. "/dev/ttyUSB*" or "/dev/ttyACM*"). A
// malformed pattern yields no matches rather than an error, since the
// config layer already validates the pattern at startup.
func MatchPattern(candidates []string, pattern string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ok, err := filepath.Match(pattern, c)
		if err != nil {
			continue
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}
