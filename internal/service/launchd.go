// Package service writes user-level service definitions that keep the daemon
// running: a launchd plist on macOS and a systemd user unit elsewhere.
package service

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// Label names the launchd job and the systemd unit.
const Label = "com.speechbridge.agent"

const launchdTemplate = `<?xml version='1.0' encoding='UTF-8'?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key><string>{{.Label}}</string>
  <key>ProgramArguments</key>
  <array>
    <string>{{.Binary}}</string>
    <string>start</string>
    <string>--config</string>
    <string>{{.Config}}</string>
    <string>--foreground</string>
  </array>
  <key>RunAtLoad</key><true/>
  <key>KeepAlive</key><dict><key>SuccessfulExit</key><false/></dict>
  <key>StandardOutPath</key><string>{{.Log}}</string>
  <key>StandardErrorPath</key><string>{{.Log}}</string>
  {{- if .Env }}
  <key>EnvironmentVariables</key>
  <dict>
    {{- range $k, $v := .Env }}
    <key>{{$k}}</key><string>{{$v}}</string>
    {{- end }}
  </dict>
  {{- end }}
</dict>
</plist>
`

var launchdTpl = template.Must(template.New("launchd").Parse(launchdTemplate))

// Params describe the service to install.
type Params struct {
	Label  string
	Binary string
	Config string
	Log    string
	Env    map[string]string
}

// LaunchdPath returns the plist path for a label.
func LaunchdPath(home, label string) string {
	return filepath.Join(home, "Library", "LaunchAgents", fmt.Sprintf("%s.plist", label))
}

// WritePlist writes a user-level launchd plist under home.
func WritePlist(home string, params Params) (string, error) {
	return writeTemplate(LaunchdPath(home, params.Label), launchdTpl, params)
}

func writeTemplate(path string, tpl *template.Template, params Params) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := tpl.Execute(f, params); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}
