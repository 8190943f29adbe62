package executor

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"text/template"
)

const defaultConfigTemplate = `# generated by orbit, do not edit
ORBIT_WSID={{.wsid}}
ORBIT_PORT={{.port}}
ORBIT_NAMESPACE={{.namespace}}
ORBIT_HOME={{.fs_path}}/home
ORBIT_WORK={{.fs_path}}/work
`

// renderConfig renders the workspace config file from the merged
// parameter/output map. The atomic write makes re-rendering safe.
type renderConfig struct {
	root string
}

func (r *renderConfig) Name() string { return "render_config" }

func (r *renderConfig) Execute(ctx context.Context, in Input) (map[string]string, error) {
	text := in.Param("template")
	if text == "" {
		text = defaultConfigTemplate
	}

	tmpl, err := template.New("config").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, Fatal(fmt.Errorf("parse config template: %w", err))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, in.Params); err != nil {
		// A reference to a missing key means the template and the action
		// plan disagree; retrying cannot fix that.
		return nil, Fatal(fmt.Errorf("render config: %w", err))
	}

	path := filepath.Join(r.root, in.WSID, ".orbit", "config.env")
	if err := writeFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return nil, Transient(fmt.Errorf("write config: %w", err))
	}

	in.Log.Info("config rendered")
	return map[string]string{"config_path": path}, nil
}
