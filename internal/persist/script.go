package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/rescale/modelbench/internal/models"
	"github.com/rescale/modelbench/internal/version"
)

const scriptTemplate = `# coding=UTF-8
# -----------------------------------------------
# Generated by modelbench {{ .Version }} on {{ .Generated }}
# Model: {{ .ModelName }}
# -----------------------------------------------

import logging
import sys

import {{ .PyName }}

LOGGER = logging.getLogger(__name__)
root_logger = logging.getLogger()

handler = logging.StreamHandler(sys.stdout)
formatter = logging.Formatter(
    fmt='%(asctime)s %(name)-18s %(levelname)-8s %(message)s',
    datefmt='%m/%d/%Y %H:%M:%S ')
handler.setFormatter(formatter)
logging.basicConfig(level=logging.INFO, handlers=[handler])

args = {{ .Args }}

if __name__ == '__main__':
    {{ .PyName }}.execute(args)
`

// ScriptRenderer turns a script payload into a standalone script that runs
// the model with the saved arguments.
type ScriptRenderer struct {
	tmpl *template.Template
	now  func() time.Time
}

// NewScriptRenderer parses the built-in script template.
func NewScriptRenderer() *ScriptRenderer {
	return &ScriptRenderer{
		tmpl: template.Must(template.New("script").Parse(scriptTemplate)),
		now:  time.Now,
	}
}

type scriptData struct {
	Version   string
	Generated string
	ModelName string
	PyName    string
	Args      string
}

// Render writes the script for payload to w. payload.Args must be a JSON
// object of strings; it is re-indented so the args literal is readable.
func (r *ScriptRenderer) Render(w io.Writer, payload models.ScriptPayload) error {
	if payload.PyName == "" {
		return fmt.Errorf("script payload for %s has no module to import", payload.ModelName)
	}
	var args bytes.Buffer
	if err := json.Indent(&args, []byte(payload.Args), "", "    "); err != nil {
		return fmt.Errorf("script args are not valid JSON: %w", err)
	}
	return r.tmpl.Execute(w, scriptData{
		Version:   version.Version,
		Generated: r.now().Format("2006-01-02 15:04:05"),
		ModelName: payload.ModelName,
		PyName:    payload.PyName,
		Args:      args.String(),
	})
}
