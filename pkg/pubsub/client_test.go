package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/storefront-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{"shop", "domain-events", "projects/shop/topics/domain-events"},
		{"shop", " projects/other/topics/t1 ", "projects/other/topics/t1"},
		{"", "domain-events", ""},
		{"shop", "  ", ""},
	}
	for _, tc := range cases {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q,%q)=%q want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{DomainTopic: "t"}, nil)
	if err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("t") != nil {
		t.Fatal("nil client should not return a publisher")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("ping on nil client should fail")
	}
}
