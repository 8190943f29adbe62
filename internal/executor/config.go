package executor

import "time"

type Config struct {
	WorkspaceRoot  string        `envconfig:"ORBIT_WORKSPACE_ROOT" default:"/srv/orbit/workspaces"`
	PortRangeMin   int           `envconfig:"ORBIT_PORT_MIN" default:"42000"`
	PortRangeMax   int           `envconfig:"ORBIT_PORT_MAX" default:"42999"`
	InstallerCmd   string        `envconfig:"ORBIT_INSTALLER_CMD" default:"apt-get install -y"`
	SchemaPrefix   string        `envconfig:"ORBIT_SCHEMA_PREFIX" default:"ws_"`
	DefaultTimeout time.Duration `envconfig:"ORBIT_ACTION_TIMEOUT" default:"120s"`
}
