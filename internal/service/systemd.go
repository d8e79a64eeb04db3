package service

import (
	"path/filepath"
	"text/template"
)

const systemdTemplate = `[Unit]
Description=speechbridge speech recognition daemon
After=default.target

[Service]
ExecStart={{.Binary}} start --config {{.Config}} --foreground
Restart=on-failure
StandardOutput=append:{{.Log}}
StandardError=append:{{.Log}}
{{- range $k, $v := .Env }}
Environment={{$k}}={{$v}}
{{- end }}

[Install]
WantedBy=default.target
`

var systemdTpl = template.Must(template.New("systemd").Parse(systemdTemplate))

// SystemdPath returns the user unit path for a label.
func SystemdPath(home, label string) string {
	return filepath.Join(home, ".config", "systemd", "user", label+".service")
}

// WriteUnit writes a systemd user unit under home.
func WriteUnit(home string, params Params) (string, error) {
	return writeTemplate(SystemdPath(home, params.Label), systemdTpl, params)
}
