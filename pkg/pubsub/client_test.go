package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/ledger-core/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	tests := []struct {
		name    string
		project string
		topic   string
		want    string
	}{
		{name: "bare id", project: "ledger-prod", topic: "ledger-audit-events", want: "projects/ledger-prod/topics/ledger-audit-events"},
		{name: "already qualified", project: "other", topic: "projects/p/topics/t", want: "projects/p/topics/t"},
		{name: "trimmed", project: " ledger ", topic: " audit ", want: "projects/ledger/topics/audit"},
		{name: "empty topic", project: "ledger", topic: "", want: ""},
		{name: "missing project", project: "", topic: "audit", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TopicResourceName(tt.project, tt.topic); got != tt.want {
				t.Fatalf("expected %q got %q", tt.want, got)
			}
		})
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCPConfig{}, config.AuditConfig{Topic: "audit"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.Publisher("audit") != nil {
		t.Fatalf("nil client should not return a publisher")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("nil client ping should fail")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("nil client close should be a no-op, got %v", err)
	}
}

func TestClientOptions(t *testing.T) {
	if got := clientOptions(config.GCPConfig{}); len(got) != 0 {
		t.Fatalf("expected default credentials, got %d options", len(got))
	}
	if got := clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/creds.json"}); len(got) != 1 {
		t.Fatalf("expected a single credentials option, got %d", len(got))
	}
	if got := clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/creds.json"}); len(got) != 1 {
		t.Fatalf("expected file credentials option, got %d", len(got))
	}
}
