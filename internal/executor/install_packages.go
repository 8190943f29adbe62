package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// installPackages runs the configured installer once per declared package.
// The installer is expected to exit 0 when the package is already present,
// which is what makes a retry of this step safe.
type installPackages struct {
	installer []string
}

func (p *installPackages) Name() string { return "install_packages" }

func (p *installPackages) Execute(ctx context.Context, in Input) (map[string]string, error) {
	if len(p.installer) == 0 {
		return nil, Fatal(fmt.Errorf("no installer command configured"))
	}

	var pkgs []string
	for _, raw := range strings.Split(in.Param("packages"), ",") {
		if pkg := strings.TrimSpace(raw); pkg != "" {
			pkgs = append(pkgs, pkg)
		}
	}
	if len(pkgs) == 0 {
		in.Log.Info("install_packages: nothing declared, noop")
		return map[string]string{"packages_installed": "0"}, nil
	}

	for _, pkg := range pkgs {
		args := append(append([]string{}, p.installer[1:]...), pkg)
		cmd := exec.CommandContext(ctx, p.installer[0], args...)
		output, err := cmd.CombinedOutput()
		if err != nil {
			// Installer failures are usually mirror/network flakes.
			return nil, Transient(fmt.Errorf("install %s: %w, output: %s", pkg, err, string(output)))
		}
		in.Log.Info("package installed", zap.String("package", pkg))
	}

	return map[string]string{"packages_installed": strconv.Itoa(len(pkgs))}, nil
}
