package datastack

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/rescale/modelbench/internal/models"
)

// argsHeader matches the line a model run logs before its arguments, e.g.
//
//	Arguments for InVEST natcap.invest.carbon 3.14.2:
//	Arguments for stormwater:
var argsHeader = regexp.MustCompile(`Arguments for (?:InVEST )?(\S+?)(?: (\S+?))?:\s*$`)

// logPrefix matches a "01/02/2024 10:11:12  logger.name INFO " style prefix
// some runners put in front of every line.
var logPrefix = regexp.MustCompile(`^\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2}\s+\S+\s+[A-Z]+\s+`)

// ExtractFromLogfile recovers the datastack logged at the start of a model
// run: the header line followed by one "key   value" line per argument, up
// to the first blank line.
func ExtractFromLogfile(r io.Reader) (models.Datastack, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		ds      models.Datastack
		started bool
	)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !started {
			m := argsHeader.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			ds.ModuleName = m[1]
			ds.Version = m[2]
			ds.Args = models.ArgumentSet{}
			started = true
			continue
		}

		line = strings.TrimSpace(logPrefix.ReplaceAllString(line, ""))
		if line == "" {
			break
		}
		key, value, _ := strings.Cut(line, " ")
		ds.Args[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return models.Datastack{}, fmt.Errorf("failed to read logfile: %w", err)
	}
	if !started {
		return models.Datastack{}, &MalformedDatastackError{Reason: "no argument block found in logfile"}
	}
	if len(ds.Args) == 0 {
		return models.Datastack{}, &MalformedDatastackError{Field: "args", Reason: "is empty in logfile"}
	}
	return ds, nil
}
