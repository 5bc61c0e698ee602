package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	client := []string{"-a", "-d", "-p"}

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"separate values", []string{"-a", "localhost:3200", "-d", "/var/lib/plotkeeper"}, []string{"-a", "localhost:3200", "-d", "/var/lib/plotkeeper"}},
		{"joined value", []string{"-p=/home/me/packages", "-x", "1"}, []string{"-p=/home/me/packages"}},
		{"foreign flags dropped", []string{"-dsn", "postgres://", "-config", "srv.json"}, []string{}},
		{"dangling flag kept", []string{"-a"}, []string{"-a"}},
		{"next flag is not a value", []string{"-a", "-d", "cache.db"}, []string{"-a", "-d", "cache.db"}},
		{"positional after foreign flag dropped", []string{"-x", "y", "sync"}, []string{}},
		{"empty", nil, []string{}},
		{"repeated flags keep order", []string{"-d", "one", "-d", "two"}, []string{"-d", "one", "-d", "two"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterArgs(tt.args, client)
			assert.Equal(t, tt.want, got)
			assert.NotNil(t, got)
		})
	}
}

func TestConfigPath(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"short", []string{"-c", "/etc/plotkeeper/client.json"}, "/etc/plotkeeper/client.json"},
		{"long", []string{"-config", "server.json"}, "server.json"},
		{"double dash joined", []string{"--config=server.json"}, "server.json"},
		{"mixed with other flags", []string{"-a", ":3200", "-c", "c.json", "-d", "x"}, "c.json"},
		{"last wins", []string{"-c", "one.json", "-config", "two.json"}, "two.json"},
		{"absent", []string{"-a", ":3200"}, ""},
		{"missing value", []string{"-c"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfigPath(tt.args))
		})
	}
}
