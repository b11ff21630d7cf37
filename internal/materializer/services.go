package materializer

import (
	"path/filepath"
)

// Static ports the services use to find each other. They are part of the
// topology, not discovered at runtime.
const (
	APIPort             = 9636
	RouterPort          = 5562
	RouterHeartbeatPort = 5563
	JobsrvWorkerPort    = 5566
	JobsrvHeartbeatPort = 5567
	JobsrvLogPort       = 5568
	LocalHost           = "127.0.0.1"
	GitHubAppKeyName    = "builder-github-app.pem"
)

// facts are the only inputs templates may read besides static constants.
type facts struct {
	root      string
	keyDir    string
	datastore map[string]interface{}
	authToken string
}

func (f facts) path(rel string) string {
	return filepath.Join(f.root, rel)
}

type service struct {
	name          string
	usesDatastore bool
	dirs          []string
	template      func(f facts) map[string]interface{}
	// derived holds fields that must win over any override. The datastore
	// endpoint is re-applied separately for every config that has one.
	derived func(f facts) map[string]interface{}
}

// Topology is the fixed set of services, in launch order.
var Topology = []string{"api", "router", "jobsrv", "sessionsrv", "originsrv", "worker"}

func routers() []map[string]interface{} {
	return []map[string]interface{}{
		{"host": LocalHost, "port": RouterPort},
	}
}

func datastoreDerived(f facts) map[string]interface{} {
	return map[string]interface{}{
		"datastore": map[string]interface{}{
			"host": f.datastore["host"],
			"port": f.datastore["port"],
		},
	}
}

var services = map[string]service{
	"api": {
		name: "api",
		dirs: []string{"depot"},
		template: func(f facts) map[string]interface{} {
			return map[string]interface{}{
				"http": map[string]interface{}{
					"listen": "0.0.0.0",
					"port":   APIPort,
				},
				"depot": map[string]interface{}{
					"path":                    f.path("depot"),
					"key_dir":                 f.keyDir,
					"builds_enabled":          true,
					"non_core_builds_enabled": true,
				},
				"github": map[string]interface{}{
					"app_private_key": filepath.Join(f.keyDir, GitHubAppKeyName),
				},
				"routers": routers(),
			}
		},
		derived: func(f facts) map[string]interface{} {
			return map[string]interface{}{
				"depot": map[string]interface{}{
					"key_dir": f.keyDir,
				},
				"github": map[string]interface{}{
					"app_private_key": filepath.Join(f.keyDir, GitHubAppKeyName),
				},
			}
		},
	},
	"router": {
		name: "router",
		template: func(f facts) map[string]interface{} {
			return map[string]interface{}{
				"listen":    "0.0.0.0",
				"port":      RouterPort,
				"heartbeat": RouterHeartbeatPort,
			}
		},
	},
	"jobsrv": {
		name:          "jobsrv",
		usesDatastore: true,
		dirs:          []string{"jobsrv-logs", "archive"},
		template: func(f facts) map[string]interface{} {
			return map[string]interface{}{
				"key_dir": f.keyDir,
				"log_dir": f.path("jobsrv-logs"),
				"net": map[string]interface{}{
					"worker_command_port":   JobsrvWorkerPort,
					"worker_heartbeat_port": JobsrvHeartbeatPort,
					"log_ingestion_port":    JobsrvLogPort,
				},
				"archive": map[string]interface{}{
					"backend":   "local",
					"local_dir": f.path("archive"),
				},
				"datastore": f.datastore,
				"routers":   routers(),
			}
		},
		derived: func(f facts) map[string]interface{} {
			return map[string]interface{}{
				"key_dir": f.keyDir,
			}
		},
	},
	"sessionsrv": {
		name:          "sessionsrv",
		usesDatastore: true,
		template: func(f facts) map[string]interface{} {
			return map[string]interface{}{
				"permissions": map[string]interface{}{
					"admin_team":         1,
					"build_worker_teams": []int{1},
					"early_access_teams": []int{1},
				},
				"datastore": f.datastore,
				"routers":   routers(),
			}
		},
	},
	"originsrv": {
		name:          "originsrv",
		usesDatastore: true,
		template: func(f facts) map[string]interface{} {
			return map[string]interface{}{
				"datastore": f.datastore,
				"routers":   routers(),
			}
		},
	},
	"worker": {
		name: "worker",
		dirs: []string{"worker"},
		template: func(f facts) map[string]interface{} {
			return map[string]interface{}{
				"key_dir":      f.keyDir,
				"data_path":    f.path("worker"),
				"auth_token":   f.authToken,
				"auto_publish": true,
				"bldr_url":     "http://localhost:9636",
				"jobsrv": []map[string]interface{}{
					{
						"host":      LocalHost,
						"port":      JobsrvWorkerPort,
						"heartbeat": JobsrvHeartbeatPort,
						"log_port":  JobsrvLogPort,
					},
				},
			}
		},
		derived: func(f facts) map[string]interface{} {
			return map[string]interface{}{
				"key_dir": f.keyDir,
			}
		},
	},
}
