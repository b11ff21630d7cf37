package datastore

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	apperrors "github.com/harunnryd/testbed/internal/errors"
)

// Handle is the endpoint of a running ephemeral datastore. Dir is the
// directory it was started with and must be reused to stop it.
type Handle struct {
	Host     string
	Port     int
	User     string
	Database string
	URI      string
	Dir      string
}

func (h *Handle) Address() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// Known reports whether the endpoint can be handed to service configs.
func (h *Handle) Known() bool {
	return h != nil && h.Host != "" && h.Port > 0
}

// ParseURI extracts the endpoint from scheme://user@host:port/database by
// splitting on ':' and '/'. Hosts containing ':' are not supported.
func ParseURI(uri string) (*Handle, error) {
	trimmed := strings.TrimSpace(uri)
	parts := strings.Split(trimmed, ":")
	if len(parts) != 3 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("datastore uri %q: expected scheme://user@host:port/database", trimmed))
	}
	if parts[0] == "" {
		return nil, apperrors.InvalidInput(fmt.Sprintf("datastore uri %q: missing scheme", trimmed))
	}
	if !strings.HasPrefix(parts[1], "//") {
		return nil, apperrors.InvalidInput(fmt.Sprintf("datastore uri %q: missing '//' after scheme", trimmed))
	}

	authority := strings.TrimPrefix(parts[1], "//")
	user := ""
	host := authority
	if at := strings.LastIndex(authority, "@"); at >= 0 {
		user = authority[:at]
		host = authority[at+1:]
	}
	if host == "" {
		return nil, apperrors.InvalidInput(fmt.Sprintf("datastore uri %q: missing host", trimmed))
	}

	portAndDB := strings.SplitN(parts[2], "/", 2)
	port, err := strconv.Atoi(portAndDB[0])
	if err != nil || port <= 0 || port > 65535 {
		return nil, apperrors.InvalidInput(fmt.Sprintf("datastore uri %q: invalid port %q", trimmed, portAndDB[0]))
	}

	database := ""
	if len(portAndDB) == 2 {
		database = portAndDB[1]
		if q := strings.IndexByte(database, '?'); q >= 0 {
			database = database[:q]
		}
	}

	return &Handle{
		Host:     host,
		Port:     port,
		User:     user,
		Database: database,
		URI:      trimmed,
	}, nil
}
